package synth

import (
	"regexp"
	"strings"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/diag"
	"github.com/jward/pecompile/internal/formula"
)

// chain is a parameter access like parameters(period).gov.x or p.x.
type chain struct {
	start, end int
	path       string
	segments   int
}

// paramChains finds every parameter access chain in s. Chains are maximal:
// every trailing .name segment belongs to the chain.
func (s *session) paramChains(src string, aliases map[string]string) []chain {
	root := s.tbl.ParameterRoot()
	var out []chain
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '"' || c == '\'' {
			i = formula.SkipString(src, i) - 1
			continue
		}
		if !isIdentByte(c) || isDigit(c) || i > 0 && (isIdentByte(src[i-1]) || src[i-1] == '.') {
			continue
		}
		j := i
		for j < len(src) && isIdentByte(src[j]) {
			j++
		}
		word := src[i:j]
		var prefix string
		switch {
		case word == root:
			k := skipSpaces(src, j)
			if k >= len(src) || src[k] != '(' {
				i = j - 1
				continue
			}
			closeAt := formula.MatchParen(src, k)
			if closeAt < 0 {
				i = j - 1
				continue
			}
			j = closeAt + 1
		default:
			p, ok := aliases[word]
			if !ok {
				i = j - 1
				continue
			}
			prefix = p
		}

		var segs []string
		for j+1 < len(src) && src[j] == '.' && isIdentByte(src[j+1]) && !isDigit(src[j+1]) {
			k := j + 1
			for k < len(src) && isIdentByte(src[k]) {
				k++
			}
			segs = append(segs, src[j+1:k])
			j = k
		}
		if len(segs) > 0 || word == root {
			path := strings.Join(segs, ".")
			if prefix != "" {
				path = prefix + "." + path
				if len(segs) == 0 {
					path = prefix
				}
			}
			out = append(out, chain{start: i, end: j, path: path, segments: len(segs)})
		}
		i = j - 1
	}
	return out
}

// isParamChain reports whether expr is exactly one parameter chain, the
// right-hand side of an alias binding.
func (s *session) isParamChain(expr string, aliases map[string]string) bool {
	chains := s.paramChains(expr, aliases)
	return len(chains) == 1 && chains[0].start == 0 && chains[0].end == len(expr)
}

// inlineParameters replaces every parameter chain whose full path is in the
// table with the value's literal. Only whole chains are replaced, so a
// shorter path never rewrites part of a longer one. Unknown chains stay as
// written and are reported once per path.
func (s *session) inlineParameters(owner, src string, aliases map[string]string) string {
	chains := s.paramChains(src, aliases)
	if len(chains) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for _, c := range chains {
		if c.segments == 0 {
			continue
		}
		v, ok := s.params[c.path]
		if !ok {
			s.warn(diag.UnresolvedParameter, owner, c.path, "no value for parameter; left as written")
			continue
		}
		b.WriteString(src[last:c.start])
		b.WriteString(s.d.literal(v))
		last = c.end
	}
	b.WriteString(src[last:])
	return b.String()
}

// entityPatterns builds the matchers for entity calls and group methods.
// Both accept a receiver chain such as person.household or tax_unit.members.
func entityPatterns(tbl *config.Table) (call, method *regexp.Regexp) {
	kws := append(tbl.Entities(), tbl.Members())
	quoted := make([]string, len(kws))
	for i, k := range kws {
		quoted[i] = regexp.QuoteMeta(k)
	}
	head := `(?:[A-Za-z_]\w*\.)*\b(?:` + strings.Join(quoted, "|") + `)`
	return regexp.MustCompile(head + `\s*\(`), regexp.MustCompile(head + `\.([A-Za-z_]\w*)\s*\(`)
}

// rewriteEntityCalls turns entity("name", period) and its receiver-chained
// forms into references to the already computed value.
func (s *session) rewriteEntityCalls(src string) string {
	matches := s.entityCall.FindAllStringIndex(src, -1)
	if len(matches) == 0 {
		return src
	}
	strs := stringSpans(src)
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, open := m[0], m[1]-1
		if start < last || inSpan(strs, start) || start > 0 && isIdentByte(src[start-1]) {
			continue
		}
		closeAt := formula.MatchParen(src, open)
		if closeAt < 0 {
			continue
		}
		args := formula.SplitArgs(src[open+1 : closeAt])
		if len(args) == 0 {
			continue
		}
		name, ok := formula.Unquote(args[0])
		if !ok || name == "" {
			continue
		}
		b.WriteString(src[last:start])
		b.WriteString(s.d.ref(name))
		last = closeAt + 1
	}
	b.WriteString(src[last:])
	return b.String()
}

// rewriteAdd turns add(entity, period, ["a", "b"]) into a parenthesized sum
// of references. Calls whose name list is not a literal are reported and
// left alone.
func (s *session) rewriteAdd(owner, src string) string {
	sites := formula.FindCalls(src, []string{s.tbl.Aggregator()})
	if len(sites) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for _, site := range sites {
		if site.Start < last {
			continue
		}
		names, ok := literalNames(site.Args)
		if !ok {
			s.warn(diag.UnsupportedAggregation, owner, s.tbl.Aggregator(), "variable list is not a literal; left as written")
			continue
		}
		refs := make([]string, len(names))
		for i, n := range names {
			refs[i] = s.d.ref(n)
		}
		b.WriteString(src[last:site.Start])
		if len(refs) == 0 {
			b.WriteString("0")
		} else {
			b.WriteString("(" + strings.Join(refs, " + ") + ")")
		}
		last = site.End
	}
	b.WriteString(src[last:])
	return b.String()
}

func literalNames(args []string) ([]string, bool) {
	var list string
	switch {
	case len(args) >= 3 && !strings.Contains(args[2], "="):
		list = args[2]
	default:
		for _, a := range args {
			if k, v, ok := strings.Cut(a, "="); ok && strings.TrimSpace(k) == "vars" {
				list = strings.TrimSpace(v)
			}
		}
	}
	if len(list) < 2 || list[0] != '[' || list[len(list)-1] != ']' {
		return nil, false
	}
	var names []string
	for _, el := range formula.SplitArgs(list[1 : len(list)-1]) {
		n, ok := formula.Unquote(el)
		if !ok {
			return nil, false
		}
		names = append(names, n)
	}
	return names, true
}

var aggregateMethods = []string{"sum", "any", "all", "max", "min"}

// rewriteAggregations turns entity.sum(inner) and the other group reductions
// into the backend's scalar form. Any other method on an entity is reported.
func (s *session) rewriteAggregations(owner, src string) string {
	strs := stringSpans(src)
	var b strings.Builder
	last := 0
	for _, m := range s.entityMethod.FindAllStringSubmatchIndex(src, -1) {
		start, open := m[0], m[1]-1
		method := src[m[2]:m[3]]
		if start < last || inSpan(strs, start) || start > 0 && isIdentByte(src[start-1]) {
			continue
		}
		closeAt := formula.MatchParen(src, open)
		if closeAt < 0 {
			continue
		}
		inner := strings.TrimSpace(src[open+1 : closeAt])
		out, ok := "", false
		if contains(aggregateMethods, method) && s.d.aggregate != nil {
			out, ok = s.d.aggregate(method, inner)
		}
		if !ok {
			s.warn(diag.UnsupportedAggregation, owner, method, "group operation has no scalar form; left as written")
			continue
		}
		b.WriteString(src[last:start])
		b.WriteString(out)
		last = closeAt + 1
	}
	b.WriteString(src[last:])
	return b.String()
}

// renameIdents replaces whole identifiers outside strings. Attribute names
// after a dot are not touched.
func renameIdents(src string, names map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(src); {
		c := src[i]
		if c == '"' || c == '\'' {
			j := formula.SkipString(src, i)
			b.WriteString(src[i:j])
			i = j
			continue
		}
		if !isIdentByte(c) {
			b.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(src) && isIdentByte(src[j]) {
			j++
		}
		word := src[i:j]
		if n, ok := names[word]; ok && !isDigit(c) && (i == 0 || src[i-1] != '.') {
			word = n
		}
		b.WriteString(word)
		i = j
	}
	return b.String()
}

// stringSpans returns the [start, end) ranges of string literals in src.
func stringSpans(src string) [][2]int {
	var spans [][2]int
	for i := 0; i < len(src); i++ {
		if src[i] == '"' || src[i] == '\'' {
			j := formula.SkipString(src, i)
			spans = append(spans, [2]int{i, j})
			i = j - 1
		}
	}
	return spans
}

func inSpan(spans [][2]int, pos int) bool {
	for _, sp := range spans {
		if pos >= sp[0] && pos < sp[1] {
			return true
		}
	}
	return false
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
