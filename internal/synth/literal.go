package synth

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// literalStyle renders Go values as source literals.
type literalStyle struct {
	trueLit, falseLit, nilLit string
	// inf and nan spell the non-finite floats; -inf is "-" + inf.
	inf, nan string
}

var (
	pythonLiterals = literalStyle{"True", "False", "None", `float("inf")`, `float("nan")`}
	jsLiterals     = literalStyle{"true", "false", "null", "Infinity", "NaN"}
	risorLiterals  = literalStyle{"true", "false", "nil", `float("inf")`, `float("nan")`}
)

// render returns the literal for v. Negative numbers are parenthesized so
// they survive being placed after an operator.
func (ls literalStyle) render(v any) string {
	switch x := v.(type) {
	case nil:
		return ls.nilLit
	case bool:
		if x {
			return ls.trueLit
		}
		return ls.falseLit
	case string:
		return strconv.Quote(x)
	case int:
		return signed(strconv.Itoa(x))
	case int32:
		return signed(strconv.FormatInt(int64(x), 10))
	case int64:
		return signed(strconv.FormatInt(x, 10))
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return ls.float(float64(x))
	case float64:
		return ls.float(x)
	case []any:
		parts := make([]string, len(x))
		for i, el := range x {
			parts[i] = ls.render(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []float64:
		parts := make([]string, len(x))
		for i, el := range x {
			parts[i] = ls.render(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return strconv.Quote(fmt.Sprint(v))
}

func (ls literalStyle) float(f float64) string {
	switch {
	case math.IsNaN(f):
		return ls.nan
	case math.IsInf(f, 1):
		return ls.inf
	case math.IsInf(f, -1):
		return "(-" + ls.inf + ")"
	}
	return signed(formatFloat(f))
}

// formatFloat keeps integral floats recognizably floating point. f must be
// finite.
func formatFloat(f float64) string {
	format := byte('f')
	if a := math.Abs(f); a != 0 && (a < 1e-6 || a >= 1e21) {
		format = 'g'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") {
		return "(" + s + ")"
	}
	return s
}
