// Package closure walks the host registry from a set of target variables to
// every variable and parameter they need, building the dependency graph.
package closure

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/ctxlog"
	"github.com/jward/pecompile/internal/diag"
	"github.com/jward/pecompile/internal/formula"
	"github.com/jward/pecompile/internal/graph"
	"github.com/jward/pecompile/internal/registry"
)

// Result is the outcome of one closure walk.
type Result struct {
	Targets     []string
	Date        string
	Graph       *graph.Graph
	References  map[string]*formula.References
	Missing     []string // names the registry does not know
	Unresolved  []string // parameter paths without a value on Date
	Diagnostics []diag.Diagnostic
}

// Builder runs closure walks against one registry.
type Builder struct {
	reg      registry.Registry
	analyzer *formula.Analyzer
}

// New returns a Builder. A nil table means config.Default.
func New(reg registry.Registry, tbl *config.Table) *Builder {
	return &Builder{reg: reg, analyzer: formula.NewAnalyzer(tbl)}
}

// Build walks from targets. Registry absences are diagnostics; only a
// registry failure returns an error.
func (b *Builder) Build(ctx context.Context, targets []string, date string) (*Result, error) {
	log := ctxlog.FromContext(ctx)
	res := &Result{
		Targets:    append([]string(nil), targets...),
		Date:       date,
		Graph:      graph.New(),
		References: make(map[string]*formula.References),
	}
	var diags diag.List

	lookups := make(map[string]*registry.Definition)
	lookup := func(name string) (*registry.Definition, error) {
		if d, ok := lookups[name]; ok {
			return d, nil
		}
		d, err := b.reg.Variable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("closure: lookup %s: %w", name, err)
		}
		lookups[name] = d
		return d, nil
	}

	var (
		queue     = append([]string(nil), targets...)
		processed = make(map[string]bool)
		paramSeen = make(map[string]bool)
		paramUser = make(map[string]string)
		params    []string
	)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if processed[name] {
			continue
		}
		processed[name] = true

		def, err := lookup(name)
		if err != nil {
			return nil, err
		}
		if def == nil {
			res.Missing = append(res.Missing, name)
			diags.Add(ctx, diag.Diagnostic{
				Kind:     diag.MissingVariable,
				Variable: name,
				Message:  "variable not found in registry",
			})
			continue
		}

		refs := b.analyzer.Analyze(def.Formula)
		res.References[name] = refs
		isInput := strings.TrimSpace(def.Formula) == ""
		if !isInput && !refs.Structural {
			diags.Add(ctx, diag.Diagnostic{
				Kind:     diag.UnparseableFormula,
				Variable: name,
				Message:  "formula did not parse; references recovered by pattern scan",
			})
		}

		deps := append([]string(nil), refs.Variables...)
		for _, cand := range refs.Candidates {
			cd, err := lookup(cand)
			if err != nil {
				return nil, err
			}
			if cd == nil {
				log.Debug("dropping candidate name", slog.String("variable", name), slog.String("candidate", cand))
				continue
			}
			deps = append(deps, cand)
		}

		entity := def.Entity
		if entity == "" {
			entity = refs.Entity
		}
		res.Graph.AddVariable(graph.VariableInfo{
			Name:                  name,
			Formula:               def.Formula,
			Dependencies:          deps,
			ParameterDependencies: refs.Parameters,
			Entity:                entity,
			Period:                def.Period,
			ValueType:             def.ValueType,
			Default:               def.Default,
			IsInput:               isInput,
		})
		log.Debug("resolved variable", slog.String("variable", name), slog.Int("dependencies", len(deps)), slog.Int("parameters", len(refs.Parameters)))

		for _, dep := range deps {
			if !processed[dep] {
				queue = append(queue, dep)
			}
		}
		for _, p := range refs.Parameters {
			if !paramSeen[p] {
				paramSeen[p] = true
				paramUser[p] = name
				params = append(params, p)
			}
		}
	}

	for _, path := range params {
		pv, err := b.reg.Parameter(ctx, path, date)
		if err != nil {
			return nil, fmt.Errorf("closure: parameter %s: %w", path, err)
		}
		if pv == nil {
			res.Unresolved = append(res.Unresolved, path)
			diags.Add(ctx, diag.Diagnostic{
				Kind:     diag.UnresolvedParameter,
				Variable: paramUser[path],
				Subject:  path,
				Message:  "parameter has no value on " + date,
			})
			continue
		}
		// Only the scalar enters the graph; description, reference and unit stay behind.
		res.Graph.AddParameter(path, pv.Value)
	}

	res.Diagnostics = diags.Items()
	log.Info("closure built",
		slog.Int("targets", len(targets)),
		slog.Int("variables", len(res.Graph.Variables())),
		slog.Int("parameters", len(res.Graph.ParameterPaths())),
		slog.Int("missing", len(res.Missing)))
	return res, nil
}
