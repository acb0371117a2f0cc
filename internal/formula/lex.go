package formula

import (
	"strings"
	"unicode"
)

// CallSite is one call expression found in formula text. Offsets are byte
// offsets into the text that was scanned; End is exclusive and points just
// past the closing parenthesis.
type CallSite struct {
	Callee string
	Start  int
	Open   int
	End    int
	Args   []string
}

// Dedent removes the whitespace prefix common to every non-blank line.
func Dedent(src string) string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\t", "    ")
	lines := strings.Split(src, "\n")
	prefix := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " "))
		if prefix < 0 || n < prefix {
			prefix = n
		}
	}
	if prefix <= 0 {
		return strings.Trim(src, "\n")
	}
	for i, l := range lines {
		if len(l) >= prefix {
			lines[i] = l[prefix:]
		} else {
			lines[i] = strings.TrimLeft(l, " ")
		}
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

// Body strips decorators and the def header from a formula definition and
// returns the dedented body. Text without a def header is returned dedented.
func Body(src string) string {
	src = Dedent(src)
	i := 0
	for i < len(src) {
		lineEnd := strings.IndexByte(src[i:], '\n')
		var line string
		if lineEnd < 0 {
			line = src[i:]
		} else {
			line = src[i : i+lineEnd]
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "@") || strings.HasPrefix(trimmed, "#") {
			if lineEnd < 0 {
				return ""
			}
			i += lineEnd + 1
			continue
		}
		break
	}
	rest := src[i:]
	if !strings.HasPrefix(rest, "def ") && !strings.HasPrefix(rest, "async def ") {
		return src
	}
	colon := headerEnd(rest)
	if colon < 0 {
		return src
	}
	after := rest[colon+1:]
	nl := strings.IndexByte(after, '\n')
	if nl < 0 {
		return strings.TrimSpace(stripComment(after))
	}
	if inline := strings.TrimSpace(stripComment(after[:nl])); inline != "" {
		return inline
	}
	return Dedent(after[nl+1:])
}

// headerEnd finds the colon that ends a def signature.
func headerEnd(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'':
			i = SkipString(s, i) - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"', '\'':
			i = SkipString(line, i) - 1
		case '#':
			return line[:i]
		}
	}
	return line
}

// Statements splits a body into logical statements. Bracketed and
// backslash continuations are joined and comments outside strings removed.
func Statements(body string) []string {
	var (
		out   []string
		cur   strings.Builder
		depth int
	)
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '"' || c == '\'':
			end := SkipString(body, i)
			cur.WriteString(body[i:end])
			i = end - 1
		case c == '#':
			for i < len(body) && body[i] != '\n' {
				i++
			}
			i--
		case c == '(' || c == '[' || c == '{':
			depth++
			cur.WriteByte(c)
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteByte(c)
		case c == '\\' && i+1 < len(body) && body[i+1] == '\n':
			cur.WriteByte(' ')
			i++
		case c == '\n':
			if depth > 0 {
				cur.WriteByte(' ')
				continue
			}
			flush()
		case c == ';' && depth == 0:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	for i, s := range out {
		out[i] = collapseSpace(s)
	}
	return out
}

// collapseSpace squeezes runs of whitespace outside strings to one space.
func collapseSpace(s string) string {
	var b strings.Builder
	space := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\'' {
			end := SkipString(s, i)
			b.WriteString(s[i:end])
			i = end - 1
			space = false
			continue
		}
		if c == ' ' || c == '\t' {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteByte(c)
	}
	return b.String()
}

// SplitArgs splits an argument list on top-level commas. Commas nested in
// brackets or strings do not split. A trailing comma is ignored.
func SplitArgs(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'':
			i = SkipString(s, i) - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		out = append(out, last)
	}
	return out
}

// FindCalls returns every call to one of names in src, outer calls before
// the calls nested in their arguments. A name only matches when it is not
// preceded by an identifier character or a dot. Calls whose closing
// parenthesis is missing are not reported.
func FindCalls(src string, names []string) []CallSite {
	ordered := append([]string(nil), names...)
	sortLongestFirst(ordered)

	var sites []CallSite
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '"' || c == '\'' {
			i = SkipString(src, i) - 1
			continue
		}
		if i > 0 && (isIdent(src[i-1]) || src[i-1] == '.') {
			continue
		}
		for _, name := range ordered {
			if !strings.HasPrefix(src[i:], name) {
				continue
			}
			j := i + len(name)
			if j < len(src) && isIdent(src[j]) {
				continue
			}
			for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
				j++
			}
			if j >= len(src) || src[j] != '(' {
				continue
			}
			closeAt := MatchParen(src, j)
			if closeAt < 0 {
				break
			}
			sites = append(sites, CallSite{
				Callee: name,
				Start:  i,
				Open:   j,
				End:    closeAt + 1,
				Args:   SplitArgs(src[j+1 : closeAt]),
			})
			break
		}
	}
	return sites
}

// MatchParen returns the index of the bracket closing the one at open, or
// -1 when it is unbalanced.
func MatchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '"', '\'':
			i = SkipString(s, i) - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// SkipString returns the index just past the string literal starting at i.
// Unterminated literals run to the end of s.
func SkipString(s string, i int) int {
	q := s[i]
	if strings.HasPrefix(s[i:], strings.Repeat(string(q), 3)) {
		end := strings.Index(s[i+3:], strings.Repeat(string(q), 3))
		if end < 0 {
			return len(s)
		}
		return i + 3 + end + 3
	}
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(s)
}

func isIdent(c byte) bool {
	return c == '_' || c < 0x80 && (unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)))
}

func sortLongestFirst(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && len(names[j]) > len(names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}

// Unquote returns the contents of a plain Python string literal. Formatted
// strings with interpolation are rejected.
func Unquote(lit string) (string, bool) {
	k := 0
	for k < len(lit) && lit[k] != '"' && lit[k] != '\'' {
		k++
	}
	if k == len(lit) || k > 2 {
		return "", false
	}
	prefix := strings.ToLower(lit[:k])
	body := lit[k:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			inner := body[len(q) : len(body)-len(q)]
			if strings.Contains(prefix, "f") && strings.Contains(inner, "{") {
				return "", false
			}
			return inner, true
		}
	}
	return "", false
}
