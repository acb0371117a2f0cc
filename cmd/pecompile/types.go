package main

import (
	"github.com/jward/pecompile"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIModule is a JSON-friendly compilation result.
type CLIModule struct {
	Target      string                 `json:"target"`
	Path        string                 `json:"path,omitempty"`
	HTML        string                 `json:"html,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Inputs      []CLIInput             `json:"inputs"`
	Outputs     []string               `json:"outputs"`
	Parameters  map[string]any         `json:"parameters,omitempty"`
	Diagnostics []pecompile.Diagnostic `json:"diagnostics,omitempty"`
	SyntaxError string                 `json:"syntax_error,omitempty"`
}

// CLIInput is one module parameter.
type CLIInput struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default any    `json:"default"`
}

// CLINames is a sorted list of variable names.
type CLINames []string

// CLIValues maps variable names to evaluated values.
type CLIValues map[string]any

func newCLIModule(res *pecompile.Result) CLIModule {
	m := CLIModule{
		Target:      res.Module.Target,
		Source:      res.Module.Source,
		Outputs:     res.Module.Outputs,
		Parameters:  res.Parameters,
		Diagnostics: res.Diagnostics,
	}
	for _, p := range res.Module.Inputs {
		m.Inputs = append(m.Inputs, CLIInput{Name: p.Name, Type: p.Type, Default: p.Default})
	}
	if res.SyntaxError != nil {
		m.SyntaxError = res.SyntaxError.Error()
	}
	return m
}
