package synth

import (
	"context"
	"fmt"
	"strings"
)

// JSOptions configures the javascript and typescript backends.
type JSOptions struct {
	Module     string // esm, commonjs, iife or none; empty means esm
	TypeScript bool
	JSDoc      bool
}

// JavaScript emits an ECMAScript module. Every value is bound to a const
// declaration and formulas with locals are wrapped in an immediately
// invoked arrow function.
type JavaScript struct {
	opts JSOptions
}

// NewJavaScript validates opts and returns the backend.
func NewJavaScript(opts JSOptions) (*JavaScript, error) {
	switch opts.Module {
	case "":
		opts.Module = "esm"
	case "esm", "commonjs", "iife", "none":
	default:
		return nil, fmt.Errorf("synth: unknown module format %q", opts.Module)
	}
	return &JavaScript{opts: opts}, nil
}

func (j *JavaScript) Name() string {
	if j.opts.TypeScript {
		return "typescript"
	}
	return "javascript"
}

var jsReserved = set("arguments", "await", "break", "case", "catch", "class", "const",
	"continue", "debugger", "default", "delete", "do", "else", "enum", "eval", "export",
	"extends", "false", "finally", "for", "function", "if", "implements", "import", "in",
	"instanceof", "interface", "let", "new", "null", "package", "private", "protected",
	"public", "return", "static", "super", "switch", "this", "throw", "true", "try",
	"typeof", "undefined", "var", "void", "while", "with", "yield",
	"Math", "calculate", "NaN", "Infinity", "round_")

func jsIdent(name string) string {
	if jsReserved[name] {
		return name + "_"
	}
	return name
}

// round_ rounds half to even at a number of decimal places, matching
// Python's round and numpy's around.
const (
	jsRoundHelper = `function round_(x, digits = 0) {
  const m = 10 ** digits;
  const y = x * m;
  const r = Math.round(y);
  const half = Math.abs(y % 1) === 0.5;
  return (half && r % 2 !== 0 ? r - 1 : r) / m;
}

`
	tsRoundHelper = `function round_(x: number, digits: number = 0): number {
  const m = 10 ** digits;
  const y = x * m;
  const r = Math.round(y);
  const half = Math.abs(y % 1) === 0.5;
  return (half && r % 2 !== 0 ? r - 1 : r) / m;
}

`
)

func jsAggregate(method, inner string) (string, bool) {
	values := "[].concat(" + inner + ")"
	switch method {
	case "sum":
		return values + ".reduce((s, v) => s + v, 0)", true
	case "any":
		return values + ".some(Boolean)", true
	case "all":
		return values + ".every(Boolean)", true
	case "max":
		return "Math.max(..." + values + ")", true
	case "min":
		return "Math.min(..." + values + ")", true
	}
	return "", false
}

func tsType(valueType string, def any) string {
	switch valueType {
	case "float", "int", "number":
		return "number"
	case "bool":
		return "boolean"
	case "str", "Enum", "date":
		return "string"
	}
	switch def.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	}
	return "number"
}

func (j *JavaScript) Generate(ctx context.Context, in *Input) (*Module, error) {
	style := exprStyle{flatten: true, trueLit: "true", falseLit: "false", nilLit: "null", floor: "Math.floor"}
	var s *session
	s, err := newSession(ctx, in, dialect{
		ref:       jsIdent,
		literal:   jsLiterals.render,
		aggregate: jsAggregate,
		format:    func(expr string) string { return style.translate(expr, s.tbl) },
		local: func(_, name string) string {
			if in.Graph.Has(name) {
				return "_" + name
			}
			return jsIdent(name)
		},
	})
	if err != nil {
		return nil, err
	}
	usesRound := false
	style.mathNames = func(callee string) (string, bool) {
		to, ok := s.tbl.MathFor(callee)
		if to == "Math.round" {
			usesRound = true
			return "round_", ok
		}
		return to, ok
	}

	inputs := s.inputs()
	vars := s.computed()
	ts := j.opts.TypeScript

	var b strings.Builder
	b.WriteString("/**\n * Standalone calculator generated by pecompile.\n *\n")
	fmt.Fprintf(&b, " * Targets: %s\n */\n\n", strings.Join(in.Targets, ", "))

	exported := ""
	if j.opts.Module == "esm" {
		exported = "export "
	}
	if usesRound {
		if ts {
			b.WriteString(tsRoundHelper)
		} else {
			b.WriteString(jsRoundHelper)
		}
	}

	if ts {
		fmt.Fprintf(&b, "%sinterface CalculateInputs {\n", exported)
		for _, p := range inputs {
			fmt.Fprintf(&b, "  %s?: %s;\n", p.Name, tsType(p.Type, p.Default))
		}
		b.WriteString("}\n\n")
		fmt.Fprintf(&b, "%sinterface CalculateResult {\n", exported)
		for _, p := range inputs {
			fmt.Fprintf(&b, "  %s: %s;\n", p.Name, tsType(p.Type, p.Default))
		}
		for _, c := range vars {
			v, _ := in.Graph.Variable(c.name)
			fmt.Fprintf(&b, "  %s: %s;\n", c.name, tsType(v.ValueType, v.Default))
		}
		b.WriteString("}\n\n")
	}
	if j.opts.JSDoc {
		b.WriteString("/**\n * Calculate every value from the inputs.\n *\n")
		b.WriteString(" * @param {Object} [inputs]\n")
		for _, p := range inputs {
			fmt.Fprintf(&b, " * @param {%s} [inputs.%s=%s]\n", tsType(p.Type, p.Default), p.Name, jsLiterals.render(p.Default))
		}
		b.WriteString(" * @returns {Object} every input and computed value\n */\n")
	}

	params := make([]string, len(inputs))
	for i, p := range inputs {
		params[i] = binding(p.Name) + " = " + jsLiterals.render(p.Default)
	}
	sig := "{ " + strings.Join(params, ", ") + " }"
	if len(params) == 0 {
		sig = "{}"
	}
	if ts {
		fmt.Fprintf(&b, "function calculate(%s: CalculateInputs = {}): CalculateResult {\n", sig)
	} else {
		fmt.Fprintf(&b, "function calculate(%s = {}) {\n", sig)
	}

	for _, c := range vars {
		decl := jsIdent(c.name)
		if ts {
			v, _ := in.Graph.Variable(c.name)
			decl += ": " + tsType(v.ValueType, v.Default)
		}
		if len(c.locals) == 0 {
			fmt.Fprintf(&b, "  const %s = %s;\n", decl, c.result)
			continue
		}
		fmt.Fprintf(&b, "  const %s = (() => {\n", decl)
		declared := map[string]bool{}
		for _, st := range c.locals {
			switch {
			case st.target == "":
				fmt.Fprintf(&b, "    %s;\n", st.raw)
			case !declared[st.target] && st.op == "=":
				declared[st.target] = true
				fmt.Fprintf(&b, "    let %s = %s;\n", st.target, st.expr)
			default:
				fmt.Fprintf(&b, "    %s %s %s;\n", st.target, st.op, st.expr)
			}
		}
		fmt.Fprintf(&b, "    return %s;\n  })();\n", c.result)
	}

	b.WriteString("  return {\n")
	for _, name := range outputs(inputs, vars) {
		fmt.Fprintf(&b, "    %s,\n", binding(name))
	}
	b.WriteString("  };\n}\n")

	src := b.String()
	switch j.opts.Module {
	case "esm":
		src += "\nexport { calculate };\nexport default calculate;\n"
	case "commonjs":
		src += "\nmodule.exports = { calculate };\n"
	case "iife":
		src = "(function (root) {\n" + indent(src, "  ") + "\n  root.calculate = calculate;\n" +
			`})(typeof globalThis !== "undefined" ? globalThis : this);` + "\n"
	}
	return s.module(j.Name(), src, inputs, vars), nil
}

// binding renders name as an object key bound to its declaration, using
// shorthand when the two agree.
func binding(name string) string {
	if id := jsIdent(name); id != name {
		return name + ": " + id
	}
	return name
}

func indent(src, pad string) string {
	lines := strings.Split(strings.TrimRight(src, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}
