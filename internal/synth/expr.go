package synth

import (
	"strings"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/formula"
)

// exprStyle describes how formula expressions read in a C-family target.
type exprStyle struct {
	flatten   bool   // rewrite conditional calls as ternaries
	where     string // callee that conditional calls are renamed to when not flattening
	trueLit   string
	falseLit  string
	nilLit    string
	floor     string
	// coerce, when set, wraps every divisor so / divides as floats. Targets
	// whose / truncates integer operands need it.
	coerce    string
	mathNames func(callee string) (string, bool)
}

// translate rewrites a Python expression into the style's syntax.
func (st exprStyle) translate(expr string, tbl *config.Table) string {
	expr = wrapNot(expr)
	if st.flatten {
		expr = flattenConditionals(expr, tbl.Conditionals())
	} else {
		expr = renameCallees(expr, tbl.Conditionals(), func(string) (string, bool) { return st.where, true })
	}
	expr = st.tokens(expr)
	expr = floorDivision(expr, st.floor)
	if st.coerce != "" {
		expr = trueDivision(expr, st.coerce)
	}
	expr = renameCallees(expr, tbl.MathNames(), st.mathNames)
	return expr
}

// flattenConditionals rewrites where(c, a, b) as ((c) ? (a) : (b)) until no
// three-argument conditional call remains. Calls with another arity are left
// as written.
func flattenConditionals(expr string, names []string) string {
	for {
		var site *formula.CallSite
		sites := formula.FindCalls(expr, names)
		for i := range sites {
			if len(sites[i].Args) == 3 {
				site = &sites[i]
				break
			}
		}
		if site == nil {
			return expr
		}
		a := site.Args
		expr = expr[:site.Start] + "((" + a[0] + ") ? (" + a[1] + ") : (" + a[2] + "))" + expr[site.End:]
	}
}

// renameCallees replaces call sites of names with the callee fn returns.
// Names are tried longest first; replaced text is not rescanned.
func renameCallees(expr string, names []string, fn func(string) (string, bool)) string {
	if fn == nil || len(names) == 0 {
		return expr
	}
	var b strings.Builder
	last := 0
	for _, site := range formula.FindCalls(expr, names) {
		if site.Start < last {
			continue
		}
		to, ok := fn(site.Callee)
		if !ok {
			continue
		}
		b.WriteString(expr[last:site.Start])
		b.WriteString(to)
		last = site.Start + len(site.Callee)
	}
	b.WriteString(expr[last:])
	return b.String()
}

// tokens translates Python keywords and literals word by word.
func (st exprStyle) tokens(expr string) string {
	var b strings.Builder
	for i := 0; i < len(expr); {
		c := expr[i]
		if c == '"' || c == '\'' {
			j := formula.SkipString(expr, i)
			b.WriteString(expr[i:j])
			i = j
			continue
		}
		if !isIdentByte(c) || i > 0 && (isIdentByte(expr[i-1]) || expr[i-1] == '.') {
			b.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(expr) && (isIdentByte(expr[j]) || isDigit(c) && expr[j] == '.') {
			j++
		}
		word := expr[i:j]
		switch {
		case isDigit(c):
			word = strings.ReplaceAll(word, "_", "")
		case word == "True":
			word = st.trueLit
		case word == "False":
			word = st.falseLit
		case word == "None":
			word = st.nilLit
		case word == "and":
			word = "&&"
		case word == "or":
			word = "||"
		case word == "not":
			word = "!"
			j = skipSpaces(expr, j)
		}
		b.WriteString(word)
		i = j
	}
	return b.String()
}

// wrapNot parenthesizes the operand of every not. Python's not binds looser
// than comparisons, while the ! it becomes binds tighter than everything.
func wrapNot(expr string) string {
	at := wordsOutsideStrings(expr, "not")
	for k := len(at) - 1; k >= 0; k-- {
		start := skipSpaces(expr, at[k]+3)
		if wordAt(expr, start, "in") {
			continue
		}
		end := start + len(strings.TrimRight(expr[start:notOperandEnd(expr, start)], " "))
		if end == start || expr[start] == '(' && formula.MatchParen(expr, start) == end-1 {
			continue
		}
		expr = expr[:start] + "(" + expr[start:end] + ")" + expr[end:]
	}
	return expr
}

// notOperandEnd returns where the operand of a not starting at from ends:
// the first top-level boolean keyword, separator or unmatched bracket.
func notOperandEnd(s string, from int) int {
	depth := 0
	for i := from; i < len(s); {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			i = formula.SkipString(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth == 0 {
				return i
			}
			depth--
		case depth > 0:
		case c == ',' || c == ':' || c == '?':
			return i
		case isIdentByte(c) && (i == 0 || !isIdentByte(s[i-1]) && s[i-1] != '.'):
			for _, w := range []string{"and", "or", "if", "else"} {
				if wordAt(s, i, w) {
					return i
				}
			}
			for i < len(s) && isIdentByte(s[i]) {
				i++
			}
			continue
		}
		i++
	}
	return len(s)
}

// wordsOutsideStrings returns the offsets of word as a whole identifier.
func wordsOutsideStrings(s, word string) []int {
	var out []int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\'' {
			i = formula.SkipString(s, i) - 1
			continue
		}
		if i > 0 && (isIdentByte(s[i-1]) || s[i-1] == '.') {
			continue
		}
		if wordAt(s, i, word) {
			out = append(out, i)
		}
	}
	return out
}

func wordAt(s string, i int, word string) bool {
	if !strings.HasPrefix(s[i:], word) {
		return false
	}
	end := i + len(word)
	return end == len(s) || !isIdentByte(s[end])
}

// floorDivision rewrites a // b as floor(a / b). The left operand extends
// back over the multiplicative operators that share its precedence, so
// a * b // c becomes floor(a * b / c). The right operand is one unary term.
func floorDivision(expr, floor string) string {
	for {
		at := indexOutsideStrings(expr, "//")
		if at < 0 {
			return expr
		}
		l := operandStart(expr, at)
		r := operandEnd(expr, at+2)
		left := strings.TrimSpace(expr[l:at])
		right := strings.TrimSpace(expr[at+2 : r])
		expr = expr[:l] + floor + "(" + left + " / " + right + ")" + expr[r:]
	}
}

// trueDivision wraps the divisor of every / in a call to coerce.
func trueDivision(expr, coerce string) string {
	var b strings.Builder
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '"' || c == '\'':
			j := formula.SkipString(expr, i)
			b.WriteString(expr[i:j])
			i = j
			continue
		case c == '/' && i+1 < len(expr) && (expr[i+1] == '/' || expr[i+1] == '='):
			b.WriteString(expr[i : i+2])
			i += 2
			continue
		case c == '/':
			start := skipSpaces(expr, i+1)
			end := operandEnd(expr, start)
			if end == start {
				break
			}
			b.WriteString(expr[i:start])
			b.WriteString(coerce + "(" + trueDivision(expr[start:end], coerce) + ")")
			i = end
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func indexOutsideStrings(s, sub string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\'' {
			i = formula.SkipString(s, i) - 1
			continue
		}
		if strings.HasPrefix(s[i:], sub) {
			return i
		}
	}
	return -1
}

// operandStart returns where the left operand of the operator at at
// begins: a chain of unary terms joined by *, /, %, // or **.
func operandStart(s string, at int) int {
	for {
		start := primaryStart(s, at)
		i := start - 1
		for i >= 0 && s[i] == ' ' {
			i--
		}
		if i >= 0 && (s[i] == '-' || s[i] == '+') && isUnarySign(s, i) {
			start = i
			for i--; i >= 0 && s[i] == ' '; i-- {
			}
		}
		if i < 0 || s[i] != '*' && s[i] != '/' && s[i] != '%' {
			return start
		}
		at = i
		if i > 0 && s[i-1] == s[i] && s[i] != '%' {
			at = i - 1
		}
	}
}

// primaryStart returns where the primary expression ending just before at
// begins: names, attribute chains, calls, subscripts and bracketed groups.
func primaryStart(s string, at int) int {
	i := at - 1
	for i >= 0 && s[i] == ' ' {
		i--
	}
	for i >= 0 {
		switch {
		case s[i] == ')' || s[i] == ']':
			depth := 0
			for ; i >= 0; i-- {
				switch s[i] {
				case ')', ']':
					depth++
				case '(', '[':
					depth--
				}
				if depth == 0 {
					break
				}
			}
			i--
		case isIdentByte(s[i]) || s[i] == '.':
			i--
		default:
			return i + 1
		}
	}
	return 0
}

// isUnarySign reports whether the sign at i applies to what follows rather
// than subtracting from what precedes.
func isUnarySign(s string, i int) bool {
	for i--; i >= 0 && s[i] == ' '; i-- {
	}
	return i < 0 || strings.IndexByte("([{,=<>!&|?:*/%+-~", s[i]) >= 0
}

// operandEnd returns where the unary term starting at from ends. A trailing
// ** chain belongs to the term since power binds tighter than division.
func operandEnd(s string, from int) int {
	i := skipSpaces(s, from)
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i = skipSpaces(s, i+1)
	}
	i = primaryEnd(s, i)
	if j := skipSpaces(s, i); strings.HasPrefix(s[j:], "**") {
		return operandEnd(s, j+2)
	}
	return i
}

func primaryEnd(s string, i int) int {
	if i < len(s) && (s[i] == '"' || s[i] == '\'') {
		return formula.SkipString(s, i)
	}
	for i < len(s) {
		switch {
		case isIdentByte(s[i]) || s[i] == '.':
			i++
		case s[i] == '(' || s[i] == '[':
			closeAt := formula.MatchParen(s, i)
			if closeAt < 0 {
				return len(s)
			}
			i = closeAt + 1
		default:
			return i
		}
	}
	return i
}
