package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pecompile/internal/diag"
	"github.com/jward/pecompile/internal/graph"
)

const (
	formulaB = `def formula(person, period, parameters):
    return person("a", period) * 2
`
	formulaTax = `def formula(person, period, parameters):
    p = parameters(period).gov
    income = person("b", period)
    return where(income > p.threshold, income * p.rate, 0)
`
	formulaC = `def formula(person, period, parameters):
    return add(person, period, ["a", "b"])
`
)

// fixture is a four variable calculation: one input, a doubling, a
// thresholded tax using an aliased parameter node, and a sum.
func fixture() *Input {
	g := graph.New()
	g.AddVariable(graph.VariableInfo{Name: "a", IsInput: true, Default: 0, ValueType: "float"})
	g.AddVariable(graph.VariableInfo{Name: "b", Formula: formulaB, Dependencies: []string{"a"}, ValueType: "float"})
	g.AddVariable(graph.VariableInfo{Name: "tax", Formula: formulaTax, Dependencies: []string{"b"},
		ParameterDependencies: []string{"gov.threshold", "gov.rate"}, ValueType: "float"})
	g.AddVariable(graph.VariableInfo{Name: "c", Formula: formulaC, Dependencies: []string{"a", "b"}, ValueType: "float"})
	g.AddParameter("gov.threshold", 10)
	g.AddParameter("gov.rate", 0.25)
	return &Input{
		Graph:   g,
		Order:   []string{"a", "b", "tax", "c"},
		Targets: []string{"tax", "c"},
	}
}

func generate(t *testing.T, target string, opts JSOptions, in *Input) *Module {
	t.Helper()
	b, err := New(target, opts)
	require.NoError(t, err)
	mod, err := b.Generate(context.Background(), in)
	require.NoError(t, err)
	return mod
}

func TestPython(t *testing.T) {
	mod := generate(t, "python", JSOptions{}, fixture())
	src := mod.Source

	assert.Contains(t, src, "import numpy\n")
	assert.Contains(t, src, "import numpy as np")
	assert.Contains(t, src, "def calculate(a=0):")
	assert.Contains(t, src, `    results["a"] = a`)
	assert.Contains(t, src, `    b = results["a"] * 2`)
	assert.Contains(t, src, `    income = results["b"]`)
	assert.Contains(t, src, `    tax = where(income > 10, income * 0.25, 0)`)
	assert.Contains(t, src, `    c = (results["a"] + results["b"])`)
	assert.Contains(t, src, "    return results")
	assert.NotContains(t, src, "p = ")

	assert.Equal(t, []string{"a", "b", "tax", "c"}, mod.Outputs)
	assert.Equal(t, []Param{{Name: "a", Default: 0, Type: "float"}}, mod.Inputs)
	assert.Empty(t, mod.Warnings)
	assert.Empty(t, Residuals(src, nil))
}

func TestJavaScript(t *testing.T) {
	mod := generate(t, "javascript", JSOptions{JSDoc: true}, fixture())
	src := mod.Source

	assert.Contains(t, src, "function calculate({ a = 0 } = {}) {")
	assert.Contains(t, src, " * @param {number} [inputs.a=0]")
	assert.Contains(t, src, "  const b = a * 2;")
	assert.Contains(t, src, "  const tax = (() => {\n    let income = b;\n    return ((income > 10) ? (income * 0.25) : (0));\n  })();")
	assert.Contains(t, src, "  const c = (a + b);")
	assert.Contains(t, src, "    tax,\n    c,\n  };")
	assert.Contains(t, src, "export default calculate;")
	assert.NotContains(t, src, "where(")
	assert.Empty(t, Residuals(src, nil))
}

func TestPythonNamespacedConditional(t *testing.T) {
	in := fixture()
	g := in.Graph
	g.AddVariable(graph.VariableInfo{Name: "flag", Dependencies: []string{"a"}, ValueType: "float",
		Formula: "def formula(person, period, parameters):\n    return numpy.where(person(\"a\", period) > 1, 1, 0)\n"})
	in.Order = append(in.Order, "flag")
	in.Targets = append(in.Targets, "flag")

	src := generate(t, "python", JSOptions{}, in).Source
	assert.Contains(t, src, `    flag = numpy.where(results["a"] > 1, 1, 0)`)
	assert.Contains(t, src, "import numpy\n")
}

func TestTypeScript(t *testing.T) {
	mod := generate(t, "typescript", JSOptions{}, fixture())
	assert.Equal(t, "typescript", mod.Target)
	assert.Contains(t, mod.Source, "export interface CalculateInputs {\n  a?: number;\n}")
	assert.Contains(t, mod.Source, "  tax: number;")
	assert.Contains(t, mod.Source, "function calculate({ a = 0 }: CalculateInputs = {}): CalculateResult {")
	assert.Contains(t, mod.Source, "  const b: number = a * 2;")
}

func TestModuleFormats(t *testing.T) {
	cjs := generate(t, "javascript", JSOptions{Module: "commonjs"}, fixture()).Source
	assert.Contains(t, cjs, "module.exports = { calculate };")
	assert.NotContains(t, cjs, "export ")

	iife := generate(t, "javascript", JSOptions{Module: "iife"}, fixture()).Source
	assert.True(t, strings.HasPrefix(iife, "(function (root) {\n"))
	assert.Contains(t, iife, "  root.calculate = calculate;")

	none := generate(t, "javascript", JSOptions{Module: "none"}, fixture()).Source
	assert.NotContains(t, none, "export")
	assert.NotContains(t, none, "module.exports")

	_, err := New("javascript", JSOptions{Module: "amd"})
	require.Error(t, err)
	_, err = New("cobol", JSOptions{})
	require.Error(t, err)
}

func TestRisor(t *testing.T) {
	mod := generate(t, "risor", JSOptions{}, fixture())
	src := mod.Source
	assert.Contains(t, src, "func calculate(a) {")
	assert.Contains(t, src, `    tax__income := results["b"]`)
	assert.Contains(t, src, `    results["tax"] = where(tax__income > 10, tax__income * 0.25, 0)`)
	assert.Contains(t, src, `    results["c"] = (results["a"] + results["b"])`)
	assert.Empty(t, Residuals(src, nil))
}

func TestDeterministic(t *testing.T) {
	for _, target := range Targets {
		first := generate(t, target, JSOptions{}, fixture()).Source
		second := generate(t, target, JSOptions{}, fixture()).Source
		assert.Equal(t, first, second, target)
	}
}

func TestUnresolvedParameterLeftAsWritten(t *testing.T) {
	g := graph.New()
	g.AddVariable(graph.VariableInfo{Name: "x", Formula: `def formula(person, period, parameters):
    return parameters(period).gov.nope * 2
`})
	mod := generate(t, "python", JSOptions{}, &Input{Graph: g, Order: []string{"x"}, Targets: []string{"x"}})

	assert.Contains(t, mod.Source, "x = parameters(period).gov.nope * 2")
	require.Len(t, mod.Warnings, 1)
	assert.Equal(t, diag.UnresolvedParameter, mod.Warnings[0].Kind)
	assert.Equal(t, "gov.nope", mod.Warnings[0].Subject)
	assert.NotEmpty(t, Residuals(mod.Source, nil))
}

func TestMissingResultUsesDefault(t *testing.T) {
	g := graph.New()
	g.AddVariable(graph.VariableInfo{Name: "x", Default: 7, Formula: `def formula(person, period, parameters):
    y = 1
`})
	mod := generate(t, "javascript", JSOptions{}, &Input{Graph: g, Order: []string{"x"}})
	assert.Contains(t, mod.Source, "return 7;")
	require.Len(t, mod.Warnings, 1)
	assert.Equal(t, diag.MissingResult, mod.Warnings[0].Kind)
}

func TestParameterOverrides(t *testing.T) {
	in := fixture()
	in.Parameters = map[string]any{"gov.threshold": 10, "gov.rate": -0.5}
	src := generate(t, "javascript", JSOptions{}, in).Source
	assert.Contains(t, src, "(income * (-0.5))")
}

func TestReservedNames(t *testing.T) {
	g := graph.New()
	g.AddVariable(graph.VariableInfo{Name: "class", IsInput: true, Default: 1})
	g.AddVariable(graph.VariableInfo{Name: "new", Formula: `def formula(person, period, parameters):
    return person("class", period) + 1
`})
	src := generate(t, "javascript", JSOptions{}, &Input{Graph: g, Order: []string{"class", "new"}}).Source
	assert.Contains(t, src, "function calculate({ class: class_ = 1 } = {}) {")
	assert.Contains(t, src, "  const new_ = class_ + 1;")
	assert.Contains(t, src, "    new: new_,")
}

func TestLocalShadowingAVariable(t *testing.T) {
	g := graph.New()
	g.AddVariable(graph.VariableInfo{Name: "income", IsInput: true, Default: 0})
	g.AddVariable(graph.VariableInfo{Name: "net", Formula: `def formula(person, period, parameters):
    income = person("income", period)
    income = income * 0.9
    return income
`})
	src := generate(t, "javascript", JSOptions{}, &Input{Graph: g, Order: []string{"income", "net"}}).Source
	assert.Contains(t, src, "    let _income = income;\n    _income = _income * 0.9;\n    return _income;")
}

func TestAggregations(t *testing.T) {
	g := graph.New()
	g.AddVariable(graph.VariableInfo{Name: "earn", IsInput: true, Default: 0})
	g.AddVariable(graph.VariableInfo{Name: "total", Formula: `def formula(tax_unit, period, parameters):
    return tax_unit.sum(tax_unit.members("earn", period))
`})
	g.AddVariable(graph.VariableInfo{Name: "odd", Formula: `def formula(person, period, parameters):
    return person.household.project(person("earn", period))
`})
	in := &Input{Graph: g, Order: []string{"earn", "total", "odd"}}

	js := generate(t, "javascript", JSOptions{}, in)
	assert.Contains(t, js.Source, "const total = [].concat(earn).reduce((s, v) => s + v, 0);")
	require.Len(t, js.Warnings, 1)
	assert.Equal(t, diag.UnsupportedAggregation, js.Warnings[0].Kind)
	assert.Equal(t, "project", js.Warnings[0].Subject)

	py := generate(t, "python", JSOptions{}, in)
	assert.Contains(t, py.Source, `total = np.sum(results["earn"])`)

	rs := generate(t, "risor", JSOptions{}, in)
	assert.Contains(t, rs.Source, `results["total"] = sum_of(results["earn"])`)
}

func TestNoGraph(t *testing.T) {
	_, err := Python{}.Generate(context.Background(), &Input{})
	require.Error(t, err)
}

func BenchmarkJavaScript(b *testing.B) {
	js, _ := NewJavaScript(JSOptions{})
	in := fixture()
	for i := 0; i < b.N; i++ {
		if _, err := js.Generate(context.Background(), in); err != nil {
			b.Fatal(err)
		}
	}
}
