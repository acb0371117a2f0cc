// Package registry defines the host registry the compiler reads rule
// definitions and parameter values from, and an in-memory implementation.
package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/jward/pecompile/internal/graph"
)

// Definition is one variable as the host registry describes it. An empty
// Formula marks an input variable.
type Definition struct {
	Name      string
	Formula   string
	Entity    string
	Period    string
	ValueType string
	Default   any
	Label     string
}

// Registry answers variable and parameter queries. Absence is reported as a
// nil result with a nil error; errors are reserved for failures of the
// registry itself.
type Registry interface {
	Variable(ctx context.Context, name string) (*Definition, error)
	Parameter(ctx context.Context, path string, date string) (*graph.ParameterValue, error)
}

// DatedValue is one entry in a parameter's value history.
type DatedValue struct {
	From  string // YYYY-MM-DD
	Value any
}

// Map is an in-memory Registry.
type Map struct {
	Variables  map[string]Definition
	Parameters map[string][]DatedValue
	Meta       map[string]graph.ParameterValue // description, reference and unit by path
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{
		Variables:  make(map[string]Definition),
		Parameters: make(map[string][]DatedValue),
		Meta:       make(map[string]graph.ParameterValue),
	}
}

// AddVariable registers d.
func (m *Map) AddVariable(d Definition) *Map {
	m.Variables[d.Name] = d
	return m
}

// AddParameter registers a value for path effective from the given date.
func (m *Map) AddParameter(path, from string, value any) *Map {
	m.Parameters[path] = append(m.Parameters[path], DatedValue{From: from, Value: value})
	return m
}

// Variable implements Registry.
func (m *Map) Variable(_ context.Context, name string) (*Definition, error) {
	d, ok := m.Variables[name]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// Parameter implements Registry. The value in force on date is the one with
// the latest effective date not after it. An unknown path falls back to the
// lexicographically first registered path ending in "."+path.
func (m *Map) Parameter(_ context.Context, path, date string) (*graph.ParameterValue, error) {
	key := path
	history, ok := m.Parameters[path]
	if !ok {
		var matches []string
		for p := range m.Parameters {
			if strings.HasSuffix(p, "."+path) {
				matches = append(matches, p)
			}
		}
		if len(matches) == 0 {
			return nil, nil
		}
		sort.Strings(matches)
		key = matches[0]
		history = m.Parameters[key]
	}

	v, ok := ValueAt(history, date)
	if !ok {
		return nil, nil
	}
	pv := m.Meta[key]
	pv.Path = path
	pv.Value = v
	return &pv, nil
}

// ValueAt selects the value in force on date from history. Dates compare as
// strings, which orders YYYY-MM-DD correctly.
func ValueAt(history []DatedValue, date string) (any, bool) {
	var (
		best  string
		value any
		found bool
	)
	for _, h := range history {
		if h.From > date {
			continue
		}
		if !found || h.From >= best {
			best, value, found = h.From, h.Value, true
		}
	}
	return value, found
}
