package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pecompile/internal/graph"
)

func TestMapVariable(t *testing.T) {
	ctx := context.Background()
	m := NewMap().AddVariable(Definition{Name: "a", Entity: "person", Default: 0})

	d, err := m.Variable(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "person", d.Entity)

	d, err = m.Variable(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMapParameterByDate(t *testing.T) {
	ctx := context.Background()
	m := NewMap().
		AddParameter("gov.tax.rate", "2020-01-01", 0.20).
		AddParameter("gov.tax.rate", "2023-01-01", 0.25)
	m.Meta["gov.tax.rate"] = graph.ParameterValue{Description: "Main rate", Unit: "/1"}

	pv, err := m.Parameter(ctx, "gov.tax.rate", "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, pv)
	assert.Equal(t, 0.25, pv.Value)
	assert.Equal(t, "Main rate", pv.Description)

	pv, err = m.Parameter(ctx, "gov.tax.rate", "2021-06-30")
	require.NoError(t, err)
	assert.Equal(t, 0.20, pv.Value)

	pv, err = m.Parameter(ctx, "gov.tax.rate", "2019-01-01")
	require.NoError(t, err)
	assert.Nil(t, pv)
}

func TestMapParameterSuffixFallback(t *testing.T) {
	ctx := context.Background()
	m := NewMap().
		AddParameter("gov.b.tax.rate", "2000-01-01", 2).
		AddParameter("gov.a.tax.rate", "2000-01-01", 1)

	pv, err := m.Parameter(ctx, "tax.rate", "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, pv)
	assert.Equal(t, 1, pv.Value)
	assert.Equal(t, "tax.rate", pv.Path)

	pv, err = m.Parameter(ctx, "ax.rate", "2024-01-01")
	require.NoError(t, err)
	assert.Nil(t, pv)
}

func TestValueAt(t *testing.T) {
	h := []DatedValue{{"2023-01-01", 3}, {"2020-01-01", 1}, {"2021-01-01", 2}}
	v, ok := ValueAt(h, "2022-12-31")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = ValueAt(h, "2023-01-01")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = ValueAt(h, "1999-01-01")
	assert.False(t, ok)
	_, ok = ValueAt(nil, "2024-01-01")
	assert.False(t, ok)
}
