// Package synth turns an ordered dependency graph into a standalone
// calculation module. Three backends share one rewrite pipeline: python and
// risor read computed values back through a results mapping, javascript and
// typescript bind every value to a declaration.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/diag"
	"github.com/jward/pecompile/internal/formula"
	"github.com/jward/pecompile/internal/graph"
)

// Input is everything a backend needs to emit one module.
type Input struct {
	Graph      *graph.Graph
	Order      []string       // evaluation order, usually Graph.TopologicalSort(Targets)
	Targets    []string
	Parameters map[string]any // nil means Graph.ParameterTable()
	Table      *config.Table  // nil means config.Default()
}

// Param is one entry point argument.
type Param struct {
	Name    string `json:"name"`
	Default any    `json:"default"`
	Type    string `json:"type,omitempty"`
}

// Module is a generated artifact.
type Module struct {
	Target   string            `json:"target"`
	Source   string            `json:"source"`
	Inputs   []Param           `json:"inputs"`
	Outputs  []string          `json:"outputs"`
	Warnings []diag.Diagnostic `json:"warnings,omitempty"`
}

// Backend emits a module for one target language.
type Backend interface {
	Name() string
	Generate(ctx context.Context, in *Input) (*Module, error)
}

// Targets lists the backend names New accepts.
var Targets = []string{"python", "javascript", "typescript", "risor"}

// New returns the backend for target.
func New(target string, opts JSOptions) (Backend, error) {
	switch target {
	case "python":
		return Python{}, nil
	case "javascript":
		opts.TypeScript = false
		return NewJavaScript(opts)
	case "typescript":
		opts.TypeScript = true
		return NewJavaScript(opts)
	case "risor":
		return Risor{}, nil
	}
	return nil, fmt.Errorf("synth: unknown target %q (want one of %s)", target, strings.Join(Targets, ", "))
}

// statement is one logical statement of a formula body.
type statement struct {
	target string // assignment target, empty for other statements
	op     string // "=", "+=", ...
	expr   string
	raw    string
}

// compiled is one variable after the shared rewrite steps.
type compiled struct {
	name   string
	locals []statement
	result string // expression producing the value
}

// dialect hooks the shared pipeline into a backend.
type dialect struct {
	ref       func(name string) string        // reference to an already computed value
	literal   func(v any) string              // parameter and default literals
	aggregate func(method, inner string) (string, bool)
	format    func(expr string) string        // operator and literal translation, may be nil
	local     func(owner, name string) string // local variable naming, may be nil
}

// session carries the state of one Generate call.
type session struct {
	ctx      context.Context
	in       *Input
	tbl      *config.Table
	params   map[string]any
	analyzer *formula.Analyzer
	warnings diag.List
	warned   map[string]bool
	d        dialect

	entityCall   *regexp.Regexp
	entityMethod *regexp.Regexp
}

func newSession(ctx context.Context, in *Input, d dialect) (*session, error) {
	if in == nil || in.Graph == nil {
		return nil, fmt.Errorf("synth: input has no graph")
	}
	tbl := in.Table
	if tbl == nil {
		tbl = config.Default()
	}
	params := in.Parameters
	if params == nil {
		params = in.Graph.ParameterTable()
	}
	call, method := entityPatterns(tbl)
	return &session{
		ctx:      ctx,
		in:       in,
		tbl:      tbl,
		params:   params,
		analyzer: formula.NewAnalyzer(tbl),
		warned:   make(map[string]bool),
		d:        d,

		entityCall:   call,
		entityMethod: method,
	}, nil
}

func (s *session) warn(kind diag.Kind, variable, subject, msg string) {
	key := string(kind) + "\x00" + variable + "\x00" + subject
	if s.warned[key] {
		return
	}
	s.warned[key] = true
	s.warnings.Add(s.ctx, diag.Diagnostic{Kind: kind, Variable: variable, Subject: subject, Message: msg})
}

// inputs returns the entry point parameters in evaluation order.
func (s *session) inputs() []Param {
	var out []Param
	for _, name := range s.in.Graph.Inputs(s.in.Order) {
		v, _ := s.in.Graph.Variable(name)
		out = append(out, Param{Name: name, Default: defaultValue(v.Default), Type: v.ValueType})
	}
	return out
}

// computed returns the compiled non-input variables in evaluation order.
// Names the graph does not know are skipped.
func (s *session) computed() []compiled {
	var out []compiled
	for _, name := range s.in.Graph.Computed(s.in.Order) {
		v, _ := s.in.Graph.Variable(name)
		out = append(out, s.compile(v))
	}
	return out
}

// outputs lists every name the entry point returns: inputs, then computed
// values, each in evaluation order.
func outputs(inputs []Param, vars []compiled) []string {
	out := make([]string, 0, len(inputs)+len(vars))
	for _, p := range inputs {
		out = append(out, p.Name)
	}
	for _, c := range vars {
		out = append(out, c.name)
	}
	return out
}

func (s *session) module(target, src string, inputs []Param, vars []compiled) *Module {
	return &Module{
		Target:   target,
		Source:   src,
		Inputs:   inputs,
		Outputs:  outputs(inputs, vars),
		Warnings: s.warnings.Items(),
	}
}

// compile runs the rewrite pipeline over one variable's formula: parameter
// inlining, entity call rewriting, aggregation rewriting, then backend
// formatting, and splits the result into locals and a result expression.
func (s *session) compile(v graph.VariableInfo) compiled {
	c := compiled{name: v.Name}
	refs := s.analyzer.Analyze(v.Formula)
	stmts := parseStatements(formula.Statements(formula.Body(v.Formula)))

	// Alias bindings go first; their chains are inlined below.
	kept := stmts[:0]
	for _, st := range stmts {
		if st.target != "" && st.op == "=" {
			if _, isAlias := refs.Aliases[st.target]; isAlias && s.isParamChain(st.expr, refs.Aliases) {
				continue
			}
		}
		kept = append(kept, st)
	}
	stmts = kept

	renames := map[string]string{}
	if s.d.local != nil {
		for _, st := range stmts {
			if st.target != "" {
				renames[st.target] = s.d.local(v.Name, st.target)
			}
		}
	}

	var result string
	found := false
	for _, st := range stmts {
		if strings.HasPrefix(st.raw, "return ") || strings.HasPrefix(st.raw, "return(") || st.raw == "return" {
			result = strings.TrimSpace(strings.TrimPrefix(st.raw, "return"))
			found = result != ""
			break
		}
		if (st.op == "//=" || st.op == "/=") && s.d.format != nil {
			st.op, st.expr = "=", st.target+" "+strings.TrimSuffix(st.op, "=")+" ("+st.expr+")"
		}
		st.expr = s.rewrite(v.Name, st.expr, refs.Aliases, renames)
		if st.target != "" {
			if n, ok := renames[st.target]; ok {
				st.target = n
			}
		} else {
			st.raw = s.rewrite(v.Name, st.raw, refs.Aliases, renames)
		}
		c.locals = append(c.locals, st)
	}
	if !found {
		s.warn(diag.MissingResult, v.Name, "", "formula has no terminal return; using the default value")
		c.result = s.d.literal(defaultValue(v.Default))
		return c
	}
	c.result = s.rewrite(v.Name, result, refs.Aliases, renames)
	return c
}

func (s *session) rewrite(owner, expr string, aliases map[string]string, renames map[string]string) string {
	expr = s.inlineParameters(owner, expr, aliases)
	if len(renames) > 0 {
		expr = renameIdents(expr, renames)
	}
	expr = s.rewriteEntityCalls(expr)
	expr = s.rewriteAdd(owner, expr)
	expr = s.rewriteAggregations(owner, expr)
	if s.d.format != nil {
		expr = s.d.format(expr)
	}
	return expr
}

func parseStatements(lines []string) []statement {
	out := make([]statement, 0, len(lines))
	for _, l := range lines {
		out = append(out, parseStatement(l))
	}
	return out
}

var assignOps = []string{"**=", "//=", "+=", "-=", "*=", "/=", "%=", "="}

func parseStatement(line string) statement {
	st := statement{raw: line}
	i := 0
	for i < len(line) && (line[i] == '_' || isAlnum(line[i])) {
		i++
	}
	if i == 0 || isDigit(line[0]) {
		return st
	}
	name := line[:i]
	if name == "return" {
		return st
	}
	rest := strings.TrimLeft(line[i:], " ")
	for _, op := range assignOps {
		if !strings.HasPrefix(rest, op) {
			continue
		}
		after := rest[len(op):]
		if op == "=" && strings.HasPrefix(after, "=") {
			return st
		}
		st.target, st.op, st.expr = name, op, strings.TrimSpace(after)
		return st
	}
	return st
}

func defaultValue(v any) any {
	if v == nil {
		return 0
	}
	return v
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentByte(c byte) bool { return c == '_' || isAlnum(c) }

func sortedParamPaths(m map[string]any) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
