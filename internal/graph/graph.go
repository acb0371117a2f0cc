// Package graph holds the variable dependency graph for one compilation and
// produces evaluation orders over it.
//
// The graph never rejects input: edges may point at variables that were
// never registered, and cycles are allowed. Traversals guard with visited
// sets so they always terminate.
package graph

import (
	"sort"
)

// VariableInfo describes one variable. Dependency slices are ordered and
// free of duplicates.
type VariableInfo struct {
	Name                  string
	Formula               string
	Dependencies          []string
	ParameterDependencies []string
	Entity                string
	Period                string
	ValueType             string
	Default               any
	IsInput               bool
}

// ParameterValue is a resolved parameter as read from a registry, before its
// descriptive metadata is stripped.
type ParameterValue struct {
	Path        string
	Value       any
	Description string
	Reference   string
	Unit        string
}

// Graph maps variable names to their metadata and parameter paths to their
// resolved values. It is owned by a single compilation and is not safe for
// concurrent mutation.
type Graph struct {
	vars   map[string]*VariableInfo
	order  []string // registration order
	params map[string]any
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		vars:   make(map[string]*VariableInfo),
		params: make(map[string]any),
	}
}

// AddVariable registers v, replacing any earlier registration of the same
// name. A replaced variable keeps its original registration position.
func (g *Graph) AddVariable(v VariableInfo) {
	v.Dependencies = unique(v.Dependencies)
	v.ParameterDependencies = unique(v.ParameterDependencies)
	if _, ok := g.vars[v.Name]; !ok {
		g.order = append(g.order, v.Name)
	}
	g.vars[v.Name] = &v
}

// AddParameter registers a resolved parameter value.
func (g *Graph) AddParameter(path string, value any) {
	g.params[path] = value
}

// Variable returns a copy of the named variable.
func (g *Graph) Variable(name string) (VariableInfo, bool) {
	v, ok := g.vars[name]
	if !ok {
		return VariableInfo{}, false
	}
	out := *v
	out.Dependencies = append([]string(nil), v.Dependencies...)
	out.ParameterDependencies = append([]string(nil), v.ParameterDependencies...)
	return out, true
}

// Has reports whether name is registered.
func (g *Graph) Has(name string) bool {
	_, ok := g.vars[name]
	return ok
}

// Variables returns registered names in registration order.
func (g *Graph) Variables() []string {
	return append([]string(nil), g.order...)
}

// Dependencies returns the direct dependencies of name, or nil when it is not
// registered.
func (g *Graph) Dependencies(name string) []string {
	v, ok := g.vars[name]
	if !ok {
		return nil
	}
	return append([]string(nil), v.Dependencies...)
}

// Parameter returns the value registered for path.
func (g *Graph) Parameter(path string) (any, bool) {
	v, ok := g.params[path]
	return v, ok
}

// ParameterTable returns a fresh copy of the parameter values.
func (g *Graph) ParameterTable() map[string]any {
	out := make(map[string]any, len(g.params))
	for k, v := range g.params {
		out[k] = v
	}
	return out
}

// ParameterPaths returns the registered parameter paths, sorted.
func (g *Graph) ParameterPaths() []string {
	paths := make([]string, 0, len(g.params))
	for p := range g.params {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TransitiveDependencies returns every variable reachable from name over
// dependency edges, in breadth-first discovery order. name itself is never
// included, even when a cycle leads back to it.
func (g *Graph) TransitiveDependencies(name string) []string {
	visited := map[string]bool{name: true}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		v, ok := g.vars[cur]
		if !ok {
			continue
		}
		for _, dep := range v.Dependencies {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out
}

// Closure returns targets followed by their transitive dependencies, each
// name once, in discovery order.
func (g *Graph) Closure(targets []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, t := range targets {
		add(t)
	}
	for _, t := range targets {
		for _, d := range g.TransitiveDependencies(t) {
			add(d)
		}
	}
	return out
}

// TopologicalSort orders the closure of targets so that every dependency
// precedes its dependents. Nodes caught in cycles cannot be ordered; they
// are appended afterwards in discovery order. The result always holds
// exactly the closure.
func (g *Graph) TopologicalSort(targets []string) []string {
	order, _ := g.Sort(targets)
	return order
}

// Sort is TopologicalSort that also reports which names had to be appended
// without a valid position.
func (g *Graph) Sort(targets []string) (order, unordered []string) {
	closure := g.Closure(targets)
	in := make(map[string]bool, len(closure))
	for _, n := range closure {
		in[n] = true
	}

	indegree := make(map[string]int, len(closure))
	dependents := make(map[string][]string, len(closure))
	for _, n := range closure {
		v, ok := g.vars[n]
		if !ok {
			continue
		}
		for _, dep := range v.Dependencies {
			if !in[dep] {
				continue
			}
			indegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var queue []string
	for _, n := range closure {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	placed := make(map[string]bool, len(closure))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		placed[cur] = true
		for _, d := range dependents[cur] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	for _, n := range closure {
		if !placed[n] {
			order = append(order, n)
			unordered = append(unordered, n)
		}
	}
	return order, unordered
}

// Inputs returns the registered input variables of order, in order.
func (g *Graph) Inputs(order []string) []string {
	var out []string
	for _, n := range order {
		if v, ok := g.vars[n]; ok && v.IsInput {
			out = append(out, n)
		}
	}
	return out
}

// Computed returns the registered non-input variables of order, in order.
func (g *Graph) Computed(order []string) []string {
	var out []string
	for _, n := range order {
		if v, ok := g.vars[n]; ok && !v.IsInput {
			out = append(out, n)
		}
	}
	return out
}

func unique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
