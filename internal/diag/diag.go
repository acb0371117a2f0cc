// Package diag collects the recoverable conditions raised while compiling a
// rule set. None of them stop compilation; each is logged and kept on the
// result so callers can decide what to do with a best-effort artifact.
package diag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jward/pecompile/internal/ctxlog"
)

// Kind classifies a diagnostic.
type Kind string

const (
	MissingVariable        Kind = "missing_variable"
	UnparseableFormula     Kind = "unparseable_formula"
	UnresolvedParameter    Kind = "unresolved_parameter"
	CyclicDependency       Kind = "cyclic_dependency"
	MissingResult          Kind = "missing_result"
	UnsupportedAggregation Kind = "unsupported_aggregation"
	ResidualHostSyntax     Kind = "residual_host_syntax"
)

func (k Kind) subjectKey() string {
	switch k {
	case UnresolvedParameter:
		return "parameter"
	case CyclicDependency:
		return "cycle"
	case ResidualHostSyntax:
		return "residual"
	}
	return "subject"
}

// Diagnostic is one recoverable condition.
type Diagnostic struct {
	Kind     Kind   `json:"kind"`
	Variable string `json:"variable,omitempty"`
	Subject  string `json:"subject,omitempty"` // parameter path, cycle, residual text
	Message  string `json:"message"`
}

func (d Diagnostic) String() string {
	switch {
	case d.Variable != "" && d.Subject != "":
		return fmt.Sprintf("%s: %s (%s): %s", d.Kind, d.Variable, d.Subject, d.Message)
	case d.Variable != "":
		return fmt.Sprintf("%s: %s: %s", d.Kind, d.Variable, d.Message)
	case d.Subject != "":
		return fmt.Sprintf("%s: %s: %s", d.Kind, d.Subject, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// List accumulates diagnostics in discovery order.
type List struct {
	items []Diagnostic
}

// Add records d and logs it at WARN through the context logger.
func (l *List) Add(ctx context.Context, d Diagnostic) {
	l.items = append(l.items, d)
	attrs := []any{slog.String("kind", string(d.Kind))}
	if d.Variable != "" {
		attrs = append(attrs, slog.String("variable", d.Variable))
	}
	if d.Subject != "" {
		attrs = append(attrs, slog.String(d.Kind.subjectKey(), d.Subject))
	}
	ctxlog.FromContext(ctx).Warn(d.Message, attrs...)
}

// Extend appends already-logged diagnostics without logging them again.
// A diagnostic with the same kind, variable and subject as one already in
// the list is dropped, since successive stages may report one condition.
func (l *List) Extend(ds []Diagnostic) {
	seen := make(map[Diagnostic]bool, len(l.items))
	for _, d := range l.items {
		seen[d.key()] = true
	}
	for _, d := range ds {
		if k := d.key(); !seen[k] {
			seen[k] = true
			l.items = append(l.items, d)
		}
	}
}

func (d Diagnostic) key() Diagnostic {
	return Diagnostic{Kind: d.Kind, Variable: d.Variable, Subject: d.Subject}
}

// Items returns a copy of the collected diagnostics.
func (l *List) Items() []Diagnostic {
	out := make([]Diagnostic, len(l.items))
	copy(out, l.items)
	return out
}

// Len reports how many diagnostics were collected.
func (l *List) Len() int { return len(l.items) }

// Count reports how many diagnostics of kind k were collected.
func (l *List) Count(k Kind) int {
	n := 0
	for _, d := range l.items {
		if d.Kind == k {
			n++
		}
	}
	return n
}
