package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycle is returned by strict ordering when the closure contains a cycle.
var ErrCycle = errors.New("dependency cycle")

// CycleError carries the cycles found by strict ordering.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = FormatCycle(c)
	}
	return fmt.Sprintf("graph: %d dependency cycle(s): %s", len(e.Cycles), strings.Join(parts, "; "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// FormatCycle renders a cycle as "a -> b -> a".
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(append(append([]string(nil), cycle...), cycle[0]), " -> ")
}

// DetectCycles returns every distinct cycle reachable from targets. Each
// cycle lists its members in edge order starting from the member discovered
// first; cycles are returned in discovery order.
func (g *Graph) DetectCycles(targets []string) [][]string {
	const (
		unvisited = iota
		temporary
		permanent
	)
	state := make(map[string]int)
	var (
		stack  []string
		cycles [][]string
		seen   = make(map[string]bool)
	)

	var visit func(n string)
	visit = func(n string) {
		switch state[n] {
		case permanent:
			return
		case temporary:
			start := len(stack) - 1
			for start >= 0 && stack[start] != n {
				start--
			}
			cycle := append([]string(nil), stack[start:]...)
			if key := cycleKey(cycle); !seen[key] {
				seen[key] = true
				cycles = append(cycles, cycle)
			}
			return
		}
		state[n] = temporary
		stack = append(stack, n)
		if v, ok := g.vars[n]; ok {
			for _, dep := range v.Dependencies {
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = permanent
	}

	for _, n := range g.Closure(targets) {
		if state[n] == unvisited {
			visit(n)
		}
	}
	return cycles
}

// cycleKey identifies a cycle independent of its starting member.
func cycleKey(cycle []string) string {
	lo := 0
	for i, n := range cycle {
		if n < cycle[lo] {
			lo = i
		}
	}
	rotated := append(append([]string(nil), cycle[lo:]...), cycle[:lo]...)
	return strings.Join(rotated, "\x00")
}

// TopologicalSortStrict is TopologicalSort that fails with a *CycleError
// instead of degrading when the closure is cyclic.
func (g *Graph) TopologicalSortStrict(targets []string) ([]string, error) {
	order, unordered := g.Sort(targets)
	if len(unordered) == 0 {
		return order, nil
	}
	return nil, &CycleError{Cycles: g.DetectCycles(targets)}
}
