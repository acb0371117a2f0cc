package closure

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jward/pecompile/internal/diag"
)

// PlanEntry is one variable in evaluation order.
type PlanEntry struct {
	Name         string   `json:"name"`
	Entity       string   `json:"entity,omitempty"`
	Input        bool     `json:"input"`
	Missing      bool     `json:"missing,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Parameters   []string `json:"parameters,omitempty"`
}

// Plan is a dry-run preview of a compilation.
type Plan struct {
	Targets     []string          `json:"targets"`
	Date        string            `json:"date"`
	Order       []PlanEntry       `json:"order"`
	Inputs      []string          `json:"inputs"`
	Parameters  map[string]any    `json:"parameters"`
	Unordered   []string          `json:"unordered,omitempty"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// NewPlan describes res in the given evaluation order.
func NewPlan(res *Result, order, unordered []string) *Plan {
	p := &Plan{
		Targets:     res.Targets,
		Date:        res.Date,
		Inputs:      res.Graph.Inputs(order),
		Parameters:  res.Graph.ParameterTable(),
		Unordered:   unordered,
		Diagnostics: res.Diagnostics,
	}
	for _, name := range order {
		v, ok := res.Graph.Variable(name)
		if !ok {
			p.Order = append(p.Order, PlanEntry{Name: name, Missing: true})
			continue
		}
		p.Order = append(p.Order, PlanEntry{
			Name:         name,
			Entity:       v.Entity,
			Input:        v.IsInput,
			Dependencies: v.Dependencies,
			Parameters:   v.ParameterDependencies,
		})
	}
	return p
}

// WriteText prints the plan for humans.
func (p *Plan) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "targets: %s\n", strings.Join(p.Targets, ", "))
	fmt.Fprintf(&b, "date: %s\n", p.Date)
	fmt.Fprintf(&b, "variables (%d, evaluation order):\n", len(p.Order))
	for i, e := range p.Order {
		kind := "computed"
		switch {
		case e.Missing:
			kind = "missing"
		case e.Input:
			kind = "input"
		}
		fmt.Fprintf(&b, "  %3d. %s [%s", i+1, e.Name, kind)
		if e.Entity != "" {
			fmt.Fprintf(&b, ", %s", e.Entity)
		}
		b.WriteString("]")
		if len(e.Dependencies) > 0 {
			fmt.Fprintf(&b, " <- %s", strings.Join(e.Dependencies, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "parameters (%d):\n", len(p.Parameters))
	for _, path := range sortedKeys(p.Parameters) {
		fmt.Fprintf(&b, "  %s = %v\n", path, p.Parameters[path])
	}
	if len(p.Unordered) > 0 {
		fmt.Fprintf(&b, "unordered (cyclic): %s\n", strings.Join(p.Unordered, ", "))
	}
	if len(p.Diagnostics) > 0 {
		fmt.Fprintf(&b, "diagnostics (%d):\n", len(p.Diagnostics))
		for _, d := range p.Diagnostics {
			fmt.Fprintf(&b, "  %s\n", d)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
