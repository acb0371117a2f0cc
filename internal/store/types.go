package store

import "time"

// Source kinds.
const (
	KindVariables  = "variables"
	KindParameters = "parameters"
)

type Source struct {
	ID          int64
	Path        string
	Kind        string
	Hash        string
	LastIndexed time.Time
}

// Variable is one indexed variable class. Default holds the decoded JSON
// value of default_value.
type Variable struct {
	ID             int64
	SourceID       int64
	Name           string
	Formula        string
	Entity         string
	Period         string
	ValueType      string
	Default        any
	Label          string
	DefinitionHash string
}

// Parameter is a leaf of the parameter tree. Its values live in
// parameter_values.
type Parameter struct {
	ID          int64
	SourceID    int64
	Path        string
	Description string
	Reference   string
	Unit        string
}

type ParameterValue struct {
	ID            int64
	ParameterID   int64
	EffectiveFrom string // YYYY-MM-DD
	Value         any
}
