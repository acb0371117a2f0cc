// Package ruleset reads a rule-set directory: variable classes written in
// Python and parameter trees written in YAML. Nothing is executed; classes
// are read structurally with tree-sitter.
package ruleset

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/formula"
	"github.com/jward/pecompile/internal/grammar"
)

// Variable is one class deriving Variable.
type Variable struct {
	Name      string
	Entity    string
	Period    string
	ValueType string
	Default   any
	Label     string
	Adds      []string
	// Formula is the formula in force for current dates: the formula_YYYY
	// method with the latest year, else the plain formula method. Empty for
	// input variables.
	Formula string
	// Formulas holds every formula method keyed by the date it takes effect
	// from. A plain formula is keyed "0000-01-01".
	Formulas map[string]string
	Line     int
}

var datedFormula = regexp.MustCompile(`^formula(?:_(\d{4})(?:_(\d{2}))?(?:_(\d{2}))?)?$`)

// Parser reads variable classes. It is safe for concurrent use.
type Parser struct {
	tbl *config.Table
}

// NewParser returns a Parser that maps entity classes through tbl. A nil
// table means config.Default.
func NewParser(tbl *config.Table) *Parser {
	if tbl == nil {
		tbl = config.Default()
	}
	return &Parser{tbl: tbl}
}

// ParseVariables returns every Variable subclass defined in src, in source
// order. A file that does not parse is an error; a class with an attribute
// the parser cannot read keeps the attribute's default.
func (p *Parser) ParseVariables(ctx context.Context, src []byte) ([]Variable, error) {
	tree, err := grammar.Parse(ctx, "python", src)
	if err != nil {
		return nil, fmt.Errorf("ruleset: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if serr := grammar.Check(ctx, "python", string(src)); serr != nil {
			return nil, fmt.Errorf("ruleset: %w", serr)
		}
	}

	var out []Variable
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.Type() == "decorated_definition" {
			n = n.ChildByFieldName("definition")
		}
		if n == nil || n.Type() != "class_definition" || !derivesVariable(n, src) {
			continue
		}
		out = append(out, p.class(n, src))
	}
	return out, nil
}

func derivesVariable(n *sitter.Node, src []byte) bool {
	supers := n.ChildByFieldName("superclasses")
	if supers == nil {
		return false
	}
	for i := 0; i < int(supers.NamedChildCount()); i++ {
		name := supers.NamedChild(i).Content(src)
		if name == "Variable" || strings.HasSuffix(name, ".Variable") {
			return true
		}
	}
	return false
}

func (p *Parser) class(n *sitter.Node, src []byte) Variable {
	v := Variable{
		Name:      n.ChildByFieldName("name").Content(src),
		Entity:    formula.DefaultEntity,
		Period:    "year",
		ValueType: "float",
		Default:   0,
		Formulas:  map[string]string{},
		Line:      int(n.StartPoint().Row) + 1,
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return v
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "expression_statement":
			if stmt.NamedChildCount() > 0 && stmt.NamedChild(0).Type() == "assignment" {
				p.attribute(&v, stmt.NamedChild(0), src)
			}
		case "function_definition", "decorated_definition":
			def := stmt
			if def.Type() == "decorated_definition" {
				def = def.ChildByFieldName("definition")
			}
			if def == nil || def.Type() != "function_definition" {
				continue
			}
			if from, ok := formulaDate(def.ChildByFieldName("name").Content(src)); ok {
				v.Formulas[from] = methodSource(stmt, src)
			}
		}
	}

	if len(v.Formulas) > 0 {
		dates := make([]string, 0, len(v.Formulas))
		for d := range v.Formulas {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		v.Formula = v.Formulas[dates[len(dates)-1]]
	} else if len(v.Adds) > 0 {
		v.Formula = addsFormula(v.Entity, v.Adds)
	}
	return v
}

func (p *Parser) attribute(v *Variable, assign *sitter.Node, src []byte) {
	left, right := assign.ChildByFieldName("left"), assign.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" {
		return
	}
	switch left.Content(src) {
	case "entity":
		v.Entity = p.tbl.EntityForClass(lastSegment(right.Content(src)))
	case "definition_period":
		if s, ok := stringLiteral(right, src); ok {
			v.Period = strings.ToLower(s)
		} else {
			v.Period = strings.ToLower(lastSegment(right.Content(src)))
		}
	case "value_type":
		v.ValueType = right.Content(src)
	case "default_value":
		v.Default = literal(right, src)
	case "label":
		if s, ok := stringLiteral(right, src); ok {
			v.Label = s
		}
	case "adds":
		if right.Type() != "list" {
			return
		}
		for i := 0; i < int(right.NamedChildCount()); i++ {
			if s, ok := stringLiteral(right.NamedChild(i), src); ok {
				v.Adds = append(v.Adds, s)
			}
		}
	}
}

// formulaDate maps formula, formula_2020 and formula_2020_07 style method
// names to the date they take effect from.
func formulaDate(name string) (string, bool) {
	m := datedFormula.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	if m[1] == "" {
		return "0000-01-01", true
	}
	month, day := "01", "01"
	if m[2] != "" {
		month = m[2]
	}
	if m[3] != "" {
		day = m[3]
	}
	return m[1] + "-" + month + "-" + day, true
}

// methodSource returns a method's text from the start of its first line,
// dedented, so the class indentation does not survive.
func methodSource(n *sitter.Node, src []byte) string {
	start := int(n.StartByte())
	for start > 0 && src[start-1] != '\n' {
		start--
	}
	return formula.Dedent(string(src[start:n.EndByte()])) + "\n"
}

func addsFormula(entity string, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return fmt.Sprintf("def formula(%s, period, parameters):\n    return add(%s, period, [%s])\n",
		entity, entity, strings.Join(quoted, ", "))
}

func stringLiteral(n *sitter.Node, src []byte) (string, bool) {
	switch n.Type() {
	case "string":
		return formula.Unquote(n.Content(src))
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			s, ok := formula.Unquote(n.NamedChild(i).Content(src))
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return stringLiteral(n.NamedChild(0), src)
		}
	}
	return "", false
}

// literal reads a default_value. Enum members and other expressions keep
// their last dotted segment as a string.
func literal(n *sitter.Node, src []byte) any {
	text := n.Content(src)
	switch n.Type() {
	case "integer":
		if i, err := strconv.ParseInt(strings.ReplaceAll(text, "_", ""), 0, 64); err == nil {
			return i
		}
	case "float":
		if f, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64); err == nil {
			return f
		}
	case "true":
		return true
	case "false":
		return false
	case "none":
		return nil
	case "string", "concatenated_string":
		if s, ok := stringLiteral(n, src); ok {
			return s
		}
	case "unary_operator":
		if arg := n.ChildByFieldName("argument"); arg != nil && strings.HasPrefix(text, "-") {
			switch x := literal(arg, src).(type) {
			case int64:
				return -x
			case float64:
				return -x
			}
		}
	}
	return lastSegment(text)
}

func lastSegment(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}
