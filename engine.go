package pecompile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jward/pecompile/internal/closure"
	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/ctxlog"
	"github.com/jward/pecompile/internal/diag"
	"github.com/jward/pecompile/internal/grammar"
	"github.com/jward/pecompile/internal/graph"
	"github.com/jward/pecompile/internal/reform"
	"github.com/jward/pecompile/internal/registry"
	"github.com/jward/pecompile/internal/ruleset"
	"github.com/jward/pecompile/internal/runtime"
	"github.com/jward/pecompile/internal/store"
	"github.com/jward/pecompile/internal/synth"
)

// Engine orchestrates the pecompile pipeline: rule-set indexing, closure
// building, reform application, ordering, synthesis and output checks.
type Engine struct {
	store      *store.Store // nil when the Engine runs on a caller's registry only
	reg        registry.Registry
	tbl        *config.Table
	runtime    *runtime.Runtime
	parser     *ruleset.Parser
	scriptsDir string

	// useParallel enables the parallel parsing pipeline for indexing.
	useParallel bool
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry answers compiler queries from reg instead of the SQLite
// store. Indexing still writes to the store when one is open.
func WithRegistry(reg registry.Registry) Option {
	return func(e *Engine) {
		e.reg = reg
	}
}

// WithConfig sets the configuration table. The default is config.Default.
func WithConfig(tbl *config.Table) Option {
	return func(e *Engine) {
		e.tbl = tbl
	}
}

// WithParallel controls parallel indexing. When true (default), IndexDirectory
// parses files on a worker pool with a single writer committing batches to
// SQLite. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithScriptsDir sets the base directory for Risor check scripts and their
// imports.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// New creates an Engine. When dbPath is non-empty the Engine opens (and
// migrates) a SQLite rule-set store there and, unless WithRegistry is given,
// answers compiler queries from it. With an empty dbPath WithRegistry is
// required.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		useParallel: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tbl == nil {
		e.tbl = config.Default()
	}

	if dbPath != "" {
		s, err := store.NewStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("pecompile: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("pecompile: migrate: %w", err)
		}
		e.store = s
		if e.reg == nil {
			e.reg = s
		}
	}
	if e.reg == nil {
		return nil, errors.New("pecompile: no registry: pass a database path or WithRegistry")
	}

	e.parser = ruleset.NewParser(e.tbl)
	e.runtime = runtime.NewRuntime(e.scriptsDir)
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Store returns the underlying Store, or nil when none is open.
func (e *Engine) Store() *Store {
	return e.store
}

// Config returns the Engine's configuration table.
func (e *Engine) Config() *Table {
	return e.tbl
}

// Request describes one compilation.
type Request struct {
	Variables []string
	// Date selects parameter values (YYYY or YYYY-MM-DD). Empty means today.
	Date string
	// Target is one of synth.Targets. Empty means python.
	Target string
	JS     synth.JSOptions
	// Reform overrides parameter values. ReformText is parsed when Reform is
	// nil; either one failing to parse stops compilation before any work.
	Reform     *reform.Spec
	ReformText string
	// Strict turns dependency cycles into an error instead of a partial order.
	Strict bool
	// DryRun stops after planning; Result.Module is nil.
	DryRun bool
}

// Result is everything one compilation produced.
type Result struct {
	Module *Module
	Plan   *Plan
	// Parameters is the table inlined into the module, reform applied.
	Parameters  map[string]any
	Diagnostics []Diagnostic
	Residuals   []synth.Residual
	// SyntaxError is set when the emitted source does not parse in its
	// target grammar.
	SyntaxError error
}

// compilation carries one request through the pipeline.
type compilation struct {
	req   Request
	date  string
	spec  *reform.Spec
	res   *closure.Result
	input *synth.Input
	plan  *closure.Plan
	diags diag.List
}

// prepare runs everything up to synthesis: reform parsing, the closure
// walk, reform application and ordering.
func (e *Engine) prepare(ctx context.Context, req Request) (*compilation, error) {
	log := ctxlog.FromContext(ctx)
	c := &compilation{req: req, spec: req.Reform}

	if len(req.Variables) == 0 {
		return nil, errors.New("pecompile: no target variables")
	}
	if c.spec == nil && strings.TrimSpace(req.ReformText) != "" {
		spec, err := reform.Parse(req.ReformText)
		if err != nil {
			return nil, fmt.Errorf("pecompile: %w", err)
		}
		c.spec = spec
	}

	c.date = req.Date
	if c.date == "" {
		c.date = e.now().Format("2006-01-02")
	}
	date, err := reform.NormalizeDate(c.date)
	if err != nil {
		return nil, fmt.Errorf("pecompile: date: %w", err)
	}
	c.date = date

	start := time.Now()
	res, err := closure.New(e.reg, e.tbl).Build(ctx, req.Variables, c.date)
	if err != nil {
		return nil, fmt.Errorf("pecompile: %w", err)
	}
	c.res = res
	c.diags.Extend(res.Diagnostics)
	log.Debug("closure built",
		"targets", len(req.Variables),
		"variables", len(res.Graph.Variables()),
		"parameters", len(res.Graph.ParameterPaths()),
		"elapsed", time.Since(start))

	params := res.Graph.ParameterTable()
	if c.spec != nil {
		overrides := c.spec.Resolve(c.date)
		params = reform.Apply(params, overrides)
		log.Debug("reform applied", "overrides", len(overrides), "date", c.date)
	}

	var order, unordered []string
	if req.Strict {
		order, err = res.Graph.TopologicalSortStrict(req.Variables)
		if err != nil {
			return nil, fmt.Errorf("pecompile: %w", err)
		}
	} else {
		order, unordered = res.Graph.Sort(req.Variables)
		if len(unordered) > 0 {
			e.reportCycles(ctx, &c.diags, res.Graph, req.Variables, unordered)
		}
	}

	c.input = &synth.Input{
		Graph:      res.Graph,
		Order:      order,
		Targets:    req.Variables,
		Parameters: params,
		Table:      e.tbl,
	}
	c.plan = closure.NewPlan(res, order, unordered)
	c.plan.Parameters = params
	return c, nil
}

func (e *Engine) reportCycles(ctx context.Context, diags *diag.List, g *graph.Graph, targets, unordered []string) {
	cycles := g.DetectCycles(targets)
	if len(cycles) == 0 {
		diags.Add(ctx, diag.Diagnostic{
			Kind:    diag.CyclicDependency,
			Subject: strings.Join(unordered, ", "),
			Message: "variables placed after the ordered prefix",
		})
		return
	}
	for _, cycle := range cycles {
		diags.Add(ctx, diag.Diagnostic{
			Kind:    diag.CyclicDependency,
			Subject: graph.FormatCycle(cycle),
			Message: "dependency cycle; evaluation order is partial",
		})
	}
}

// Compile runs a full compilation. Recoverable conditions become
// diagnostics on the result; only an invalid request, an invalid reform, a
// strict-mode cycle or a registry failure return an error.
func (e *Engine) Compile(ctx context.Context, req Request) (*Result, error) {
	c, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.DryRun {
		return c.result(nil), nil
	}

	target := req.Target
	if target == "" {
		target = "python"
	}
	backend, err := synth.New(target, req.JS)
	if err != nil {
		return nil, fmt.Errorf("pecompile: %w", err)
	}
	mod, err := backend.Generate(ctx, c.input)
	if err != nil {
		return nil, fmt.Errorf("pecompile: %w", err)
	}
	return e.finish(ctx, c, mod, grammarFor(target)), nil
}

// Plan previews a compilation without synthesizing anything.
func (e *Engine) Plan(ctx context.Context, req Request) (*Plan, error) {
	req.DryRun = true
	res, err := e.Compile(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Plan, nil
}

// Demo compiles to an HTML page embedding the javascript module behind one
// input per input variable. The page is returned alongside the result.
func (e *Engine) Demo(ctx context.Context, req Request, title string) (string, *Result, error) {
	c, err := e.prepare(ctx, req)
	if err != nil {
		return "", nil, err
	}
	page, mod, err := synth.Demo(ctx, c.input, title)
	if err != nil {
		return "", nil, fmt.Errorf("pecompile: %w", err)
	}
	return page, e.finish(ctx, c, mod, "javascript"), nil
}

// Evaluate compiles to risor and runs the module in process with inputs.
// Omitted inputs take their defaults.
func (e *Engine) Evaluate(ctx context.Context, req Request, inputs map[string]any) (map[string]any, *Result, error) {
	req.Target = "risor"
	req.DryRun = false
	res, err := e.Compile(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	values, err := e.runtime.Evaluate(ctx, res.Module, inputs)
	if err != nil {
		return nil, res, fmt.Errorf("pecompile: %w", err)
	}
	return values, res, nil
}

// RunCheck runs a Risor script against evaluated values. The script sees
// results, inputs and parameters as globals and fails by raising an error,
// typically through assert.
func (e *Engine) RunCheck(ctx context.Context, scriptPath string, res *Result, values, inputs map[string]any) (any, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	globals := map[string]any{
		"results":    values,
		"inputs":     inputs,
		"parameters": map[string]any{},
	}
	if res != nil && res.Parameters != nil {
		globals["parameters"] = res.Parameters
	}
	out, err := e.runtime.RunScript(ctx, scriptPath, globals)
	if err != nil {
		return nil, fmt.Errorf("pecompile: check: %w", err)
	}
	return out, nil
}

// finish attaches the module and runs the postcondition checks: residual
// host syntax and, where a grammar exists, a parse of the emitted text.
func (e *Engine) finish(ctx context.Context, c *compilation, mod *synth.Module, lang string) *Result {
	c.diags.Extend(mod.Warnings)

	residuals := synth.Residuals(mod.Source, e.tbl)
	for _, r := range residuals {
		c.diags.Add(ctx, diag.Diagnostic{
			Kind:    diag.ResidualHostSyntax,
			Subject: r.Text,
			Message: fmt.Sprintf("line %d still uses host syntax", r.Line),
		})
	}

	out := c.result(mod)
	out.Residuals = residuals
	if lang != "" {
		if err := grammar.Check(ctx, lang, mod.Source); err != nil {
			ctxlog.FromContext(ctx).Warn("emitted module does not parse", "target", mod.Target, "error", err)
			out.SyntaxError = err
		}
	}
	ctxlog.FromContext(ctx).Info("compiled",
		"target", mod.Target,
		"inputs", len(mod.Inputs),
		"outputs", len(mod.Outputs),
		"diagnostics", c.diags.Len())
	return out
}

func (c *compilation) result(mod *synth.Module) *Result {
	c.plan.Diagnostics = c.diags.Items()
	return &Result{
		Module:      mod,
		Plan:        c.plan,
		Parameters:  c.input.Parameters,
		Diagnostics: c.diags.Items(),
	}
}

// grammarFor names the tree-sitter grammar that checks a target's output.
// Risor output has none.
func grammarFor(target string) string {
	switch target {
	case "python", "javascript", "typescript":
		return target
	}
	return ""
}
