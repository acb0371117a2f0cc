package diag

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jward/pecompile/internal/ctxlog"
)

func TestListAddLogsAndCollects(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	var l List
	l.Add(ctx, Diagnostic{Kind: MissingVariable, Variable: "ghost", Message: "variable not found in registry"})
	l.Add(ctx, Diagnostic{Kind: UnresolvedParameter, Variable: "tax", Subject: "gov.rate", Message: "parameter has no value"})

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 1, l.Count(MissingVariable))
	assert.Equal(t, 0, l.Count(CyclicDependency))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "variable=ghost")
	assert.Contains(t, out, "parameter=gov.rate")
}

func TestListExtendCopiesItems(t *testing.T) {
	var l List
	l.Extend([]Diagnostic{{Kind: CyclicDependency, Subject: "a -> b -> a", Message: "cycle"}})
	assert.Equal(t, 1, l.Len())

	items := l.Items()
	items[0].Message = "mutated"
	assert.Equal(t, "cycle", l.Items()[0].Message)
}

func TestListExtendDropsRepeats(t *testing.T) {
	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	var l List
	l.Add(ctx, Diagnostic{Kind: UnresolvedParameter, Variable: "tax", Subject: "gov.rate", Message: "parameter has no value on 2024-01-01"})
	l.Extend([]Diagnostic{
		{Kind: UnresolvedParameter, Variable: "tax", Subject: "gov.rate", Message: "no value for parameter; left as written"},
		{Kind: UnresolvedParameter, Variable: "benefit", Subject: "gov.rate", Message: "no value for parameter; left as written"},
		{Kind: MissingResult, Variable: "tax", Message: "no return"},
		{Kind: MissingResult, Variable: "tax", Message: "no return"},
	})

	items := l.Items()
	assert.Len(t, items, 3)
	assert.Equal(t, 2, l.Count(UnresolvedParameter))
	assert.Equal(t, "parameter has no value on 2024-01-01", items[0].Message, "the first report wins")
	assert.Equal(t, "benefit", items[1].Variable)
}

func TestDiagnosticString(t *testing.T) {
	tests := []struct {
		d    Diagnostic
		want string
	}{
		{Diagnostic{Kind: MissingResult, Message: "m"}, "missing_result: m"},
		{Diagnostic{Kind: MissingResult, Variable: "v", Message: "m"}, "missing_result: v: m"},
		{Diagnostic{Kind: CyclicDependency, Subject: "a -> a", Message: "m"}, "cyclic_dependency: a -> a: m"},
		{Diagnostic{Kind: UnresolvedParameter, Variable: "v", Subject: "p.q", Message: "m"}, "unresolved_parameter: v (p.q): m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.String())
	}
}

func TestNoLoggerIsSilent(t *testing.T) {
	var l List
	assert.NotPanics(t, func() {
		l.Add(context.Background(), Diagnostic{Kind: MissingVariable, Message: "x"})
	})
}
