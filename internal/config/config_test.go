package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tbl := Default()

	assert.Equal(t, defaultEntities, tbl.Entities())
	assert.True(t, tbl.IsEntity("person"))
	assert.True(t, tbl.IsEntity("tax_unit"))
	assert.False(t, tbl.IsEntity("members"))
	assert.Equal(t, "members", tbl.Members())
	assert.Equal(t, "add", tbl.Aggregator())
	assert.Equal(t, "parameters", tbl.ParameterRoot())
	assert.True(t, tbl.IsConditional("np.where"))
	assert.False(t, tbl.IsConditional("select"))
	assert.Equal(t, "benunit", tbl.EntityForClass("BenUnit"))
	assert.Equal(t, "widget", tbl.EntityForClass("Widget"))

	js, ok := tbl.MathFor("np.maximum")
	require.True(t, ok)
	assert.Equal(t, "Math.max", js)
}

func TestTableAccessorsReturnCopies(t *testing.T) {
	tbl := Default()
	ents := tbl.Entities()
	ents[0] = "mutated"
	assert.Equal(t, "person", tbl.Entities()[0])

	conds := tbl.Conditionals()
	conds[0] = "mutated"
	assert.True(t, tbl.IsConditional("numpy.where"))

	defs := DefaultEntities()
	defs[0] = "mutated"
	assert.Equal(t, "person", DefaultEntities()[0])
}

func TestMathNamesLongestFirst(t *testing.T) {
	names := Default().MathNames()
	pos := map[string]int{}
	for i, n := range names {
		pos[n] = i
	}
	assert.Less(t, pos["np.maximum"], pos["max"])
	assert.Less(t, pos["max_"], pos["max"])
}

func TestParse(t *testing.T) {
	f, err := Parse(`
[compile]
date = "2024-01-01"
target = "javascript"
module = "commonjs"
typescript = true

[log]
level = "debug"

[entities]
keywords = ["school", "person"]
classes = { School = "school" }
`)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", f.Compile.Date)
	assert.Equal(t, "javascript", f.Compile.Target)
	assert.True(t, f.Compile.TypeScript)
	assert.Equal(t, "debug", f.Log.Level)

	tbl := f.Table()
	assert.True(t, tbl.IsEntity("school"))
	assert.True(t, tbl.IsEntity("household"))
	assert.Len(t, tbl.Entities(), len(defaultEntities)+1)
	assert.Equal(t, "school", tbl.EntityForClass("School"))
}

func TestParseRejectsBadValues(t *testing.T) {
	_, err := Parse("[compile]\ntarget = \"cobol\"\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile.target")

	_, err = Parse("[log]\nformat = \"xml\"\n")
	require.Error(t, err)

	_, err = Parse("[compile\n")
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	f, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, &File{}, f)

	path := filepath.Join(dir, "pecompile.toml")
	require.NoError(t, os.WriteFile(path, []byte("[compile]\nstrict = true\n"), 0o644))
	f, err = Load(path)
	require.NoError(t, err)
	assert.True(t, f.Compile.Strict)

	require.NoError(t, os.WriteFile(path, []byte("[compile]\nstrictly = true\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}
