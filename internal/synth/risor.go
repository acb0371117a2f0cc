package synth

import (
	"context"
	"fmt"
	"strings"
)

// Risor emits a script for the embedded Risor evaluator. Like the python
// module it reads computed values back through a results map; formula
// locals are prefixed with their owner since the whole calculation shares
// one function scope.
type Risor struct{}

func (Risor) Name() string { return "risor" }

var risorReserved = set("break", "case", "const", "continue", "default", "defer", "else",
	"false", "for", "from", "func", "go", "if", "import", "in", "nil", "not", "range",
	"return", "switch", "true", "var", "results", "where", "max_", "min_", "abs_",
	"values_of", "sum_of", "any_of", "all_of", "max_of", "min_of", "round_", "math", "type",
	"float", "int")

func risorIdent(name string) string {
	if risorReserved[name] {
		return name + "_"
	}
	return name
}

// risorMath maps the structured math callees onto the script's helpers.
var risorMath = map[string]string{
	"Math.max":   "max_",
	"Math.min":   "min_",
	"Math.abs":   "abs_",
	"Math.floor": "math.floor",
	"Math.ceil":  "math.ceil",
	"Math.sqrt":  "math.sqrt",
	"Math.round": "round_",
	"Math.exp":   "math.exp",
	"Math.log":   "math.log",
}

const risorPrelude = `func where(cond, a, b) {
    if cond {
        return a
    }
    return b
}

func max_(a, b) {
    if a > b {
        return a
    }
    return b
}

func min_(a, b) {
    if a < b {
        return a
    }
    return b
}

func abs_(x) {
    if x < 0 {
        return -x
    }
    return x
}

func round_(x, digits=0) {
    m := math.pow10(digits)
    y := float(x) * m
    r := math.floor(y)
    d := y - r
    if d > 0.5 || (d == 0.5 && int(r) % 2 != 0) {
        r += 1
    }
    return r / m
}

func values_of(x) {
    if type(x) == "list" {
        return x
    }
    return [x]
}

func sum_of(x) {
    total := 0
    for _, v := range values_of(x) {
        total += v
    }
    return total
}

func any_of(x) {
    for _, v := range values_of(x) {
        if v {
            return true
        }
    }
    return false
}

func all_of(x) {
    for _, v := range values_of(x) {
        if !v {
            return false
        }
    }
    return true
}

func max_of(x) {
    vals := values_of(x)
    best := vals[0]
    for _, v := range vals {
        best = max_(best, v)
    }
    return best
}

func min_of(x) {
    vals := values_of(x)
    best := vals[0]
    for _, v := range vals {
        best = min_(best, v)
    }
    return best
}
`

func (Risor) Generate(ctx context.Context, in *Input) (*Module, error) {
	style := exprStyle{where: "where", trueLit: "true", falseLit: "false", nilLit: "nil",
		floor: "math.floor", coerce: "float"}
	var s *session
	s, err := newSession(ctx, in, dialect{
		ref:     func(name string) string { return fmt.Sprintf("results[%q]", name) },
		literal: risorLiterals.render,
		aggregate: func(method, inner string) (string, bool) {
			return method + "_of(" + inner + ")", true
		},
		format: func(expr string) string { return style.translate(expr, s.tbl) },
		local:  func(owner, name string) string { return owner + "__" + name },
	})
	if err != nil {
		return nil, err
	}
	style.mathNames = func(callee string) (string, bool) {
		js, ok := s.tbl.MathFor(callee)
		if !ok {
			return "", false
		}
		to, ok := risorMath[js]
		return to, ok
	}

	inputs := s.inputs()
	vars := s.computed()

	var b strings.Builder
	b.WriteString("// Standalone calculator generated by pecompile.\n")
	fmt.Fprintf(&b, "// Targets: %s\n\n", strings.Join(in.Targets, ", "))
	b.WriteString(risorPrelude)

	params := make([]string, len(inputs))
	for i, p := range inputs {
		params[i] = risorIdent(p.Name)
	}
	fmt.Fprintf(&b, "\nfunc calculate(%s) {\n", strings.Join(params, ", "))
	b.WriteString("    results := {}\n")
	for _, p := range inputs {
		fmt.Fprintf(&b, "    results[%q] = %s\n", p.Name, risorIdent(p.Name))
	}
	for _, c := range vars {
		fmt.Fprintf(&b, "\n    // %s\n", c.name)
		declared := map[string]bool{}
		for _, st := range c.locals {
			switch {
			case st.target == "":
				fmt.Fprintf(&b, "    %s\n", st.raw)
			case !declared[st.target] && st.op == "=":
				declared[st.target] = true
				fmt.Fprintf(&b, "    %s := %s\n", st.target, st.expr)
			default:
				fmt.Fprintf(&b, "    %s %s %s\n", st.target, st.op, st.expr)
			}
		}
		fmt.Fprintf(&b, "    results[%q] = %s\n", c.name, c.result)
	}
	b.WriteString("    return results\n}\n")

	return s.module("risor", b.String(), inputs, vars), nil
}

// RisorCall renders the call expression that evaluates mod with inputs.
// Inputs not given take their defaults; names mod does not accept are an
// error.
func RisorCall(mod *Module, inputs map[string]any) (string, error) {
	known := make(map[string]bool, len(mod.Inputs))
	args := make([]string, len(mod.Inputs))
	for i, p := range mod.Inputs {
		known[p.Name] = true
		v, ok := inputs[p.Name]
		if !ok {
			v = p.Default
		}
		args[i] = risorLiterals.render(v)
	}
	for name := range inputs {
		if !known[name] {
			return "", fmt.Errorf("synth: %q is not an input of this module", name)
		}
	}
	return "calculate(" + strings.Join(args, ", ") + ")", nil
}
