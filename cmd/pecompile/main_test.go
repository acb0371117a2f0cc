package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	got := findRepoRoot(root)
	assert.Equal(t, root, got)
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	got := findRepoRoot(deep)
	assert.Equal(t, root, got)
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findRepoRoot(dir)
	assert.Equal(t, dir, got)
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("xml"))
}

func TestParseInputs(t *testing.T) {
	t.Parallel()
	file := filepath.Join(t.TempDir(), "inputs.yaml")
	require.NoError(t, os.WriteFile(file, []byte("a: 1\nb: 2.5\n"), 0o644))

	got, err := parseInputs(file, []string{"b=3", "flag=true", "name = x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "flag": true, "name": "x"}, got)

	_, err = parseInputs("", []string{"novalue"})
	require.Error(t, err)
	_, err = parseInputs("", []string{"=1"})
	require.Error(t, err)
	_, err = parseInputs(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

// --- Command tests ---

type cliEnv struct {
	db     string
	config string
	rules  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	rules, err := filepath.Abs(filepath.Join("..", "..", "testdata", "rulesets", "basic"))
	require.NoError(t, err)
	env := &cliEnv{
		db:     filepath.Join(dir, "rules.db"),
		config: filepath.Join(dir, "pecompile.toml"),
		rules:  rules,
	}
	env.writeConfig(t, "[log]\nlevel = \"warn\"\n")
	return env
}

func (env *cliEnv) writeConfig(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(env.config, []byte(text), 0o644))
}

// run executes one pecompile invocation in process.
func (env *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--db", env.db, "--config", env.config}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliEnv) index(t *testing.T) {
	t.Helper()
	_, stderr, err := env.run(t, "index", env.rules)
	require.NoError(t, err, stderr)
}

func decodeResult(t *testing.T, out string) (string, map[string]any, string) {
	t.Helper()
	var envelope struct {
		Command string         `json:"command"`
		Results map[string]any `json:"results"`
		Error   string         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &envelope), out)
	return envelope.Command, envelope.Results, envelope.Error
}

func TestIndexCommand(t *testing.T) {
	env := newCLIEnv(t)
	out, stderr, err := env.run(t, "index", env.rules)
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "Database: "+env.db)

	command, res, _ := decodeResult(t, out)
	assert.Equal(t, "index", command)
	assert.EqualValues(t, 6, res["indexed"])

	out, _, err = env.run(t, "--format", "text", "index", env.rules)
	require.NoError(t, err)
	assert.Contains(t, out, "Files: 0 indexed, 6 unchanged, 0 removed")
}

func TestIndexCommand_NotADirectory(t *testing.T) {
	env := newCLIEnv(t)
	out, _, err := env.run(t, "index", env.config)
	require.Error(t, err)
	_, _, msg := decodeResult(t, out)
	assert.Contains(t, msg, "not a directory")
}

func TestCompileCommand_TextWritesSource(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "--format", "text", "compile",
		"-v", "income_tax,benefit", "--year", "2024", "-t", "javascript", "--module", "commonjs")
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "function calculate(")
	assert.Contains(t, out, "module.exports = { calculate };")
	assert.Contains(t, out, "12000")
}

func TestCompileCommand_JSONEnvelope(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "compile", "-v", "income_tax", "--date", "2024-01-01",
		"--reform", "gov.tax.rate: 0.5")
	require.NoError(t, err, stderr)
	command, res, _ := decodeResult(t, out)
	assert.Equal(t, "compile", command)
	assert.Equal(t, "python", res["target"])
	assert.Contains(t, res["source"], "def calculate(")
	params := res["parameters"].(map[string]any)
	assert.Equal(t, 0.5, params["gov.tax.rate"])
}

func TestCompileCommand_OutputFilesAndConfigDefaults(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)
	env.writeConfig(t, "[compile]\ntarget = \"risor\"\ndate = \"2023\"\n")

	dir := t.TempDir()
	mod := filepath.Join(dir, "calc.risor")
	out, stderr, err := env.run(t, "--format", "text", "compile", "-v", "income_tax", "-o", mod)
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "Target: risor")
	assert.Contains(t, out, "employment_income")

	src, err := os.ReadFile(mod)
	require.NoError(t, err)
	assert.Contains(t, string(src), "func calculate(")
	assert.Contains(t, string(src), "10000", "the 2023 allowance from the project file date")

	page := filepath.Join(dir, "demo.html")
	_, stderr, err = env.run(t, "compile", "-v", "income_tax", "--html", page, "--title", "Tax")
	require.NoError(t, err, stderr)
	html, err := os.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Tax</title>")
}

func TestCompileCommand_DryRun(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "compile", "-v", "benefit", "--year", "2024", "--dry-run")
	require.NoError(t, err, stderr)
	_, res, _ := decodeResult(t, out)
	assert.Equal(t, "2024-01-01", res["date"])
	assert.Contains(t, res, "order")
	assert.NotContains(t, res, "source")
}

func TestCompileCommand_Errors(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, _, err := env.run(t, "compile")
	require.Error(t, err)
	_, _, msg := decodeResult(t, out)
	assert.Contains(t, msg, "no target variables")

	_, _, err = env.run(t, "compile", "-v", "income_tax", "--reform", "- not\n- a mapping\n")
	require.Error(t, err)

	_, _, err = env.run(t, "compile", "-v", "income_tax", "--date", "2024", "--year", "2024")
	require.Error(t, err)

	_, _, err = env.run(t, "--format", "yaml", "compile", "-v", "income_tax")
	require.Error(t, err)
}

func TestCompileCommand_MissingDatabase(t *testing.T) {
	env := newCLIEnv(t)
	out, _, err := env.run(t, "compile", "-v", "income_tax")
	require.Error(t, err)
	_, _, msg := decodeResult(t, out)
	assert.Contains(t, msg, "database not found")
}

func TestPlanCommand_Text(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "--format", "text", "plan", "-v", "income_tax", "--year", "2024")
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "targets: income_tax")
	assert.Contains(t, out, "date: 2024-01-01")
	assert.Contains(t, out, "gov.tax.allowance")
}

func TestEvalCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "eval", "-v", "income_tax,benefit", "--year", "2024",
		"-i", "employment_income=30000",
		"--check", filepath.Join(env.rules, "check.risor"))
	require.NoError(t, err, stderr)
	command, res, _ := decodeResult(t, out)
	assert.Equal(t, "eval", command)
	assert.InDelta(t, 3600.0, res["income_tax"], 1e-9)
	assert.InDelta(t, 0.0, res["benefit"], 1e-9)

	out, _, err = env.run(t, "--format", "text", "eval", "-v", "benefit", "--year", "2024", "-i", "employment_income=1000")
	require.NoError(t, err)
	assert.Contains(t, out, "VARIABLE")
	assert.Regexp(t, `benefit\s+500`, out)
}

func TestEvalCommand_UnknownInput(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	_, _, err := env.run(t, "eval", "-v", "benefit", "-i", "nope=1")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	env := newCLIEnv(t)
	out, _, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pecompile ")
}

func TestQueryVariables(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "query", "variables", "--inputs")
	require.NoError(t, err, stderr)
	var envelope struct {
		Results []struct {
			Name  string `json:"name"`
			Input bool   `json:"input"`
		} `json:"results"`
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &envelope), out)
	assert.Equal(t, 2, envelope.TotalCount)
	require.Len(t, envelope.Results, 2)
	assert.Equal(t, "employment_income", envelope.Results[0].Name)
	assert.True(t, envelope.Results[0].Input)

	out, stderr, err = env.run(t, "--format", "text", "query", "variables", "--limit", "2", "--sort", "source")
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `benefit\s+person`, out)
	assert.Contains(t, out, "Showing 2 of 6 results")

	_, _, err = env.run(t, "query", "variables", "--inputs", "--computed")
	require.Error(t, err)
}

func TestQueryDepsAndDependents(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "query", "deps", "taxable_income")
	require.NoError(t, err, stderr)
	_, res, _ := decodeResult(t, out)
	assert.Equal(t, []any{"total_income"}, res["variables"])
	assert.Equal(t, []any{"gov.tax.allowance"}, res["parameters"])

	out, stderr, err = env.run(t, "--format", "text", "query", "dependents", "total_income")
	require.NoError(t, err, stderr)
	assert.Equal(t, "benefit\ntaxable_income\n", out)

	out, _, err = env.run(t, "query", "deps", "nope")
	require.Error(t, err)
	_, _, msg := decodeResult(t, out)
	assert.Contains(t, msg, "variable not found: nope")
}

func TestQueryParameters(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "--format", "text", "query", "params", "gov.tax")
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "gov.tax.allowance")
	assert.Contains(t, out, "gov.tax.rate")
	assert.NotContains(t, out, "gov.benefit")

	out, stderr, err = env.run(t, "--format", "text", "query", "param", "gov.tax.allowance")
	require.NoError(t, err, stderr)
	assert.Contains(t, out, "Parameter: gov.tax.allowance")
	assert.Regexp(t, `2024-01-01\s+12000`, out)

	_, _, err = env.run(t, "query", "param", "gov.nothing")
	require.Error(t, err)
}

func TestQuerySummary(t *testing.T) {
	env := newCLIEnv(t)
	env.index(t)

	out, stderr, err := env.run(t, "query", "summary")
	require.NoError(t, err, stderr)
	command, res, _ := decodeResult(t, out)
	assert.Equal(t, "query summary", command)
	assert.EqualValues(t, 6, res["variables"])
	assert.EqualValues(t, 2, res["inputs"])
	assert.EqualValues(t, 4, res["parameters"])
	assert.Equal(t, env.rules, res["root"])

	out, _, err = env.run(t, "--format", "text", "query", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Variables: 6 (2 inputs)")
	assert.Contains(t, out, "person: 6")
}
