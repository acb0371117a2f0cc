package pecompile

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pecompile/internal/store"
)

// findModuleRoot walks up from cwd to find go.mod, returning the repo root.
func findModuleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find module root")
		}
		dir = parent
	}
}

// newIntegrationEngine creates an Engine backed by a temp DB.
func newIntegrationEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "integration.db")
	e, err := New(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// copyRuleSet copies testdata/rulesets/<name> into a temp dir the test may
// modify.
func copyRuleSet(t *testing.T, name string) string {
	t.Helper()
	src := filepath.Join(findModuleRoot(t), "testdata", "rulesets", name)
	dst := t.TempDir()
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
	return dst
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIntegration_IndexBasicRuleSet(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	root := copyRuleSet(t, "basic")

	res, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Indexed, "three variable files and three parameter files")
	assert.Zero(t, res.Skipped)
	assert.Equal(t, 6, res.Variables)
	assert.Equal(t, 4, res.Parameters)
	assert.Equal(t, []string{
		"benefit", "employment_income", "income_tax",
		"self_employment_income", "taxable_income", "total_income",
	}, res.Changed)

	vars, params, sources, err := e.Store().Counts()
	require.NoError(t, err)
	assert.Equal(t, 6, vars)
	assert.Equal(t, 4, params)
	assert.Equal(t, 6, sources)

	indexed, err := e.IndexedRoot()
	require.NoError(t, err)
	assert.Equal(t, res.Root, indexed)

	p, err := e.Store().Parameter(ctx, "gov.benefit.threshold", "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(15000), p.Value)
	assert.Equal(t, "https://example.org/benefit-regulations", p.Reference)

	rate, err := e.Store().Parameter(ctx, "gov.tax.rate", "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.Equal(t, "/1", rate.Unit)
	assert.Equal(t, "https://example.org/finance-act-2020", rate.Reference)
}

func TestIntegration_CompileEveryTarget(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	_, err := e.IndexDirectory(ctx, copyRuleSet(t, "basic"), false)
	require.NoError(t, err)

	for _, target := range Targets() {
		t.Run(target, func(t *testing.T) {
			res, err := e.Compile(ctx, Request{
				Variables: []string{"income_tax", "benefit"},
				Date:      "2024",
				Target:    target,
			})
			require.NoError(t, err)
			require.NotNil(t, res.Module)
			assert.Empty(t, res.Diagnostics)
			assert.Empty(t, res.Residuals)
			assert.NoError(t, res.SyntaxError)

			var inputs []string
			for _, p := range res.Module.Inputs {
				inputs = append(inputs, p.Name)
			}
			assert.ElementsMatch(t, []string{"employment_income", "self_employment_income"}, inputs)
			assert.Contains(t, res.Module.Source, "12000", "the 2024 allowance is inlined")
			assert.NotContains(t, res.Module.Source, "parameters(")
		})
	}
}

func TestIntegration_EvaluateDatedParameters(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	_, err := e.IndexDirectory(ctx, copyRuleSet(t, "basic"), false)
	require.NoError(t, err)

	inputs := map[string]any{"employment_income": 20000}
	values, _, err := e.Evaluate(ctx, Request{Variables: []string{"income_tax"}, Date: "2023"}, inputs)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, values["income_tax"], 1e-9, "10000 allowance before 2024")

	values, _, err = e.Evaluate(ctx, Request{Variables: []string{"income_tax"}, Date: "2024-03-01"}, inputs)
	require.NoError(t, err)
	assert.InDelta(t, 1600.0, values["income_tax"], 1e-9, "12000 allowance from 2024")
}

func TestIntegration_IncrementalReindex(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	root := copyRuleSet(t, "basic")

	_, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)

	// Unchanged files are skipped.
	res, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)
	assert.Zero(t, res.Indexed)
	assert.Equal(t, 6, res.Skipped)
	assert.Empty(t, res.Changed)

	// Editing one formula re-indexes that file only and reports the variable.
	path := filepath.Join(root, "variables", "tax.py")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(data), "max_(income - p.allowance, 0)", "max_(income - p.allowance - 100, 0)", 1)
	require.NotEqual(t, string(data), edited)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	res, err = e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, []string{"taxable_income"}, res.Changed)

	vars, _, _, err := e.Store().Counts()
	require.NoError(t, err)
	assert.Equal(t, 6, vars, "re-indexing replaces rows instead of duplicating them")

	// Force re-indexes everything but changes nothing.
	res, err = e.IndexDirectory(ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Indexed)
	assert.Empty(t, res.Changed)
}

func TestIntegration_RemovedSourcesArePruned(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	root := copyRuleSet(t, "basic")

	_, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "variables", "benefit.py")))

	res, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)

	v, err := e.Store().Variable(ctx, "benefit")
	require.NoError(t, err)
	assert.Nil(t, v)

	src, err := e.Store().SourceByPath("variables/benefit.py")
	require.NoError(t, err)
	assert.Nil(t, src)
}

func TestIntegration_ParseErrorsAreCollected(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	root := copyRuleSet(t, "basic")
	writeFile(t, root, "variables/broken.py", "class broken(Variable:\n    pass\n")
	writeFile(t, root, "parameters/gov/bad.yaml", "values:\n  someday: 1\n")

	res, err := e.IndexDirectory(ctx, root, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing had 2 error(s)")
	require.NotNil(t, res)
	assert.Equal(t, []string{"parameters/gov/bad.yaml", "variables/broken.py"}, res.Failed)
	assert.Equal(t, 6, res.Indexed, "the rest of the rule set still indexes")

	// A failed file keeps no hash, so fixing it picks it up next run.
	src, err := e.Store().SourceByPath("variables/broken.py")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Empty(t, src.Hash)

	writeFile(t, root, "variables/broken.py", "class broken(Variable):\n    value_type = float\n    entity = Person\n")
	require.NoError(t, os.Remove(filepath.Join(root, "parameters", "gov", "bad.yaml")))
	res, err = e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, []string{"broken"}, res.Changed)
}

func TestIntegration_SerialMatchesParallel(t *testing.T) {
	ctx := context.Background()
	root := copyRuleSet(t, "basic")
	counts := func(e *Engine) [3]int {
		_, err := e.IndexDirectory(ctx, root, false)
		require.NoError(t, err)
		v, p, s, err := e.Store().Counts()
		require.NoError(t, err)
		return [3]int{v, p, s}
	}

	serial := newIntegrationEngine(t, WithParallel(false))
	parallel := newIntegrationEngine(t, WithParallel(true))
	assert.Equal(t, counts(serial), counts(parallel))

	sh, err := serial.Store().VariableHashes()
	require.NoError(t, err)
	ph, err := parallel.Store().VariableHashes()
	require.NoError(t, err)
	assert.Equal(t, sh, ph)
}

func TestIntegration_RedefinitionLatestWins(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	root := copyRuleSet(t, "basic")
	writeFile(t, root, "variables/zz_override.py", `class benefit(Variable):
    value_type = float
    entity = Person
    definition_period = YEAR

    def formula(person, period, parameters):
        return 42
`)
	_, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)

	v, err := e.Store().Variable(ctx, "benefit")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Contains(t, v.Formula, "return 42")
}

func TestIntegration_InfiniteParameterValues(t *testing.T) {
	e := newIntegrationEngine(t)
	ctx := context.Background()
	root := copyRuleSet(t, "basic")
	writeFile(t, root, "parameters/gov/benefit/cap.yaml", "description: Benefit cap.\nvalues:\n  2020-01-01: .inf\n  2024-01-01: 500\n")
	writeFile(t, root, "variables/capped.py", `class capped_benefit(Variable):
    value_type = float
    entity = Person
    definition_period = YEAR

    def formula(person, period, parameters):
        return min_(person("benefit", period), parameters(period).gov.benefit.cap)
`)
	_, err := e.IndexDirectory(ctx, root, false)
	require.NoError(t, err)

	p, err := e.Query().ParameterHistory("gov.benefit.cap")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p.Values, 2)
	assert.True(t, math.IsInf(p.Values[0].Value.(float64), 1))

	res, err := e.Compile(ctx, Request{Variables: []string{"capped_benefit"}, Date: "2023", Target: "javascript"})
	require.NoError(t, err)
	assert.Contains(t, res.Module.Source, "Infinity")
	assert.NoError(t, res.SyntaxError)
}

func TestIndexDirectory_RequiresStore(t *testing.T) {
	e := newTestEngine(t, chainRegistry())
	_, err := e.IndexDirectory(context.Background(), t.TempDir(), false)
	require.Error(t, err)
}

var _ store.DataStore = (*store.BatchedStore)(nil)
