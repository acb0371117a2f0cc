package pecompile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQueryEngine indexes a private copy of the basic rule set.
func newQueryEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := copyRuleSet(t, "basic")
	e := newIntegrationEngine(t)
	_, err := e.IndexDirectory(context.Background(), root, false)
	require.NoError(t, err)
	return e, root
}

func names(items []VariableResult) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = v.Name
	}
	return out
}

func TestPagination_Normalize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Pagination{Offset: 0, Limit: defaultLimit}, Pagination{Offset: -3}.normalize())
	assert.Equal(t, Pagination{Offset: 2, Limit: maxLimit}, Pagination{Offset: 2, Limit: 9999}.normalize())
	assert.Equal(t, Pagination{Limit: 7}, Pagination{Limit: 7}.normalize())
}

func TestGlobToLike(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "%\\_income", globToLike("*_income"))
	assert.Equal(t, "gov.tax%", globToLike("gov.tax*"))
	assert.Equal(t, "100\\%", globToLike("100%"))
}

func TestQuery_NilWithoutStore(t *testing.T) {
	t.Parallel()
	e, err := New("", WithRegistry(chainRegistry()))
	require.NoError(t, err)
	defer e.Close()
	assert.Nil(t, e.Query())
}

func TestQuery_Variables(t *testing.T) {
	e, _ := newQueryEngine(t)
	q := e.Query()
	require.NotNil(t, q)

	all, err := q.Variables(VariableFilter{}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 6, all.TotalCount)
	assert.Equal(t, []string{
		"benefit", "employment_income", "income_tax",
		"self_employment_income", "taxable_income", "total_income",
	}, names(all.Items))

	tax := all.Items[2]
	assert.Equal(t, "person", tax.Entity)
	assert.Equal(t, "Income tax", tax.Label)
	assert.Equal(t, "variables/tax.py", tax.Source)
	assert.False(t, tax.Input)

	yes := true
	inputs, err := q.Variables(VariableFilter{Input: &yes}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"employment_income", "self_employment_income"}, names(inputs.Items))

	no := false
	computed, err := q.Variables(VariableFilter{Input: &no}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 4, computed.TotalCount)

	pattern, err := q.Variables(VariableFilter{NamePattern: "*_income"}, Sort{Order: Desc}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, []string{"total_income", "taxable_income", "self_employment_income", "employment_income"}, names(pattern.Items))

	bySource, err := q.Variables(VariableFilter{SourcePrefix: "variables/"}, Sort{Field: SortBySource}, Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, bySource.TotalCount)
	assert.Equal(t, []string{"benefit", "employment_income"}, names(bySource.Items))

	page2, err := q.Variables(VariableFilter{}, Sort{}, Pagination{Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"total_income"}, names(page2.Items))

	none, err := q.Variables(VariableFilter{Entities: []string{"household"}}, Sort{}, Pagination{})
	require.NoError(t, err)
	assert.Zero(t, none.TotalCount)
	assert.Empty(t, none.Items)
}

func TestQuery_VariablesCountRedefinitionOnce(t *testing.T) {
	e, root := newQueryEngine(t)
	writeFile(t, root, "variables/zz_override.py", `from policyengine_core.model_api import *


class benefit(Variable):
    value_type = float
    entity = Person
    label = "Flat benefit"
    definition_period = YEAR

    def formula(person, period, parameters):
        return 42
`)
	_, err := e.IndexDirectory(context.Background(), root, false)
	require.NoError(t, err)

	res, err := e.Query().Variables(VariableFilter{NamePattern: "benefit"}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	assert.Equal(t, "Flat benefit", res.Items[0].Label)
	assert.Equal(t, "variables/zz_override.py", res.Items[0].Source)

	sum, err := e.Query().Summary()
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Variables)
	assert.Equal(t, 7, sum.Sources)
}

func TestQuery_Dependencies(t *testing.T) {
	e, _ := newQueryEngine(t)
	q := e.Query()

	deps, err := q.Dependencies("taxable_income")
	require.NoError(t, err)
	require.NotNil(t, deps)
	assert.Equal(t, []string{"total_income"}, deps.Variables)
	assert.ElementsMatch(t, []string{"gov.tax.allowance"}, deps.Parameters)

	deps, err = q.Dependencies("total_income")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"employment_income", "self_employment_income"}, deps.Variables)
	assert.Empty(t, deps.Parameters)

	deps, err = q.Dependencies("employment_income")
	require.NoError(t, err)
	assert.Empty(t, deps.Variables)

	deps, err = q.Dependencies("no_such_variable")
	require.NoError(t, err)
	assert.Nil(t, deps)
}

func TestQuery_Dependents(t *testing.T) {
	e, _ := newQueryEngine(t)
	q := e.Query()

	got, err := q.Dependents("total_income")
	require.NoError(t, err)
	assert.Equal(t, []string{"benefit", "taxable_income"}, got)

	got, err = q.Dependents("employment_income")
	require.NoError(t, err)
	assert.Equal(t, []string{"total_income"}, got)

	got, err = q.Dependents("income_tax")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQuery_Parameters(t *testing.T) {
	e, _ := newQueryEngine(t)
	q := e.Query()

	all, err := q.Parameters("", Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalCount)

	benefit, err := q.Parameters("gov.benefit", Pagination{})
	require.NoError(t, err)
	require.Len(t, benefit.Items, 2)
	assert.Equal(t, "gov.benefit.amount", benefit.Items[0].Path)
	assert.Equal(t, "gov.benefit.threshold", benefit.Items[1].Path)
	assert.Equal(t, "https://example.org/benefit-regulations", benefit.Items[1].Reference)

	exact, err := q.Parameters("gov.tax.rate", Pagination{})
	require.NoError(t, err)
	require.Len(t, exact.Items, 1)
	assert.Equal(t, "/1", exact.Items[0].Unit)

	partial, err := q.Parameters("gov.ta", Pagination{})
	require.NoError(t, err)
	assert.Zero(t, partial.TotalCount, "prefixes match whole path segments")
}

func TestQuery_ParameterHistory(t *testing.T) {
	e, _ := newQueryEngine(t)
	q := e.Query()

	p, err := q.ParameterHistory("gov.tax.allowance")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "parameters/gov/tax/allowance.yaml", p.Source)
	require.Len(t, p.Values, 2)
	assert.Equal(t, "2020-01-01", p.Values[0].From)
	assert.EqualValues(t, 10000, p.Values[0].Value)
	assert.Equal(t, "2024-01-01", p.Values[1].From)
	assert.EqualValues(t, 12000, p.Values[1].Value)

	p, err = q.ParameterHistory("gov.nothing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestQuery_Summary(t *testing.T) {
	e, _ := newQueryEngine(t)

	sum, err := e.Query().Summary()
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Variables)
	assert.Equal(t, 2, sum.Inputs)
	assert.Equal(t, 4, sum.Parameters)
	assert.Equal(t, map[string]int{"person": 6}, sum.Entities)
	assert.NotEmpty(t, sum.IndexedAt)
	root, err := e.IndexedRoot()
	require.NoError(t, err)
	assert.Equal(t, root, sum.Root)
	assert.NotEmpty(t, sum.Root)
}
