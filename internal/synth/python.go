package synth

import (
	"context"
	"fmt"
	"strings"
)

// Python emits a module for a Python interpreter with numpy available.
// Computed values are read back through the results dict, so formula locals
// never shadow a reference.
type Python struct{}

func (Python) Name() string { return "python" }

var pythonKeywords = set("False", "None", "True", "and", "as", "assert", "async", "await",
	"break", "class", "continue", "def", "del", "elif", "else", "except", "finally", "for",
	"from", "global", "if", "import", "in", "is", "lambda", "nonlocal", "not", "or", "pass",
	"raise", "return", "try", "while", "with", "yield",
	"results", "np", "numpy", "where", "maximum", "minimum", "max_", "min_", "float")

func pythonIdent(name string) string {
	if pythonKeywords[name] {
		return name + "_"
	}
	return name
}

func (Python) Generate(ctx context.Context, in *Input) (*Module, error) {
	s, err := newSession(ctx, in, dialect{
		ref:     func(name string) string { return fmt.Sprintf("results[%q]", name) },
		literal: pythonLiterals.render,
		local:   func(_, name string) string { return pythonIdent(name) },
		aggregate: func(method, inner string) (string, bool) {
			return "np." + method + "(" + inner + ")", true
		},
	})
	if err != nil {
		return nil, err
	}
	inputs := s.inputs()
	vars := s.computed()

	var b strings.Builder
	b.WriteString(`"""` + "\n")
	b.WriteString("Standalone calculator generated by pecompile.\n\n")
	fmt.Fprintf(&b, "Targets: %s\n", strings.Join(in.Targets, ", "))
	b.WriteString(`"""` + "\n\n")
	b.WriteString("import numpy\n")
	b.WriteString("import numpy as np\n")
	b.WriteString("from numpy import where, maximum, minimum\n\n")
	b.WriteString("max_ = np.maximum\n")
	b.WriteString("min_ = np.minimum\n\n\n")

	params := make([]string, len(inputs))
	for i, p := range inputs {
		params[i] = pythonIdent(p.Name) + "=" + pythonLiterals.render(p.Default)
	}
	fmt.Fprintf(&b, "def calculate(%s):\n", strings.Join(params, ", "))
	b.WriteString(`    """Calculate every value from the inputs."""` + "\n")
	b.WriteString("    results = {}\n")
	for _, p := range inputs {
		fmt.Fprintf(&b, "    results[%q] = %s\n", p.Name, pythonIdent(p.Name))
	}
	for _, c := range vars {
		fmt.Fprintf(&b, "\n    # %s\n", c.name)
		for _, st := range c.locals {
			if st.target == "" {
				fmt.Fprintf(&b, "    %s\n", st.raw)
				continue
			}
			fmt.Fprintf(&b, "    %s %s %s\n", st.target, st.op, st.expr)
		}
		ident := pythonIdent(c.name)
		fmt.Fprintf(&b, "    %s = %s\n", ident, c.result)
		fmt.Fprintf(&b, "    results[%q] = %s\n", c.name, ident)
	}
	b.WriteString("\n    return results\n")

	return s.module("python", b.String(), inputs, vars), nil
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
