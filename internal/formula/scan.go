package formula

import (
	"regexp"
	"strings"

	"github.com/jward/pecompile/internal/config"
)

// scanner is the pattern-based fallback for formulas tree-sitter cannot
// parse. It recovers the same categories as the structural pass, less
// precisely.
type scanner struct {
	tbl       *config.Table
	entity    *regexp.Regexp
	add       *regexp.Regexp
	list      *regexp.Regexp
	quoted    *regexp.Regexp
	alias     *regexp.Regexp
	params    *regexp.Regexp
	signature *regexp.Regexp
}

func newScanner(tbl *config.Table) *scanner {
	kws := make([]string, 0, len(tbl.Entities())+1)
	for _, e := range tbl.Entities() {
		kws = append(kws, regexp.QuoteMeta(e))
	}
	kws = append(kws, regexp.QuoteMeta(tbl.Members()))
	root := regexp.QuoteMeta(tbl.ParameterRoot())

	return &scanner{
		tbl:       tbl,
		entity:    regexp.MustCompile(`(?:^|[^\w])(` + strings.Join(kws, "|") + `)\s*\(\s*["']([A-Za-z_]\w*)["']`),
		add:       regexp.MustCompile(`\b` + regexp.QuoteMeta(tbl.Aggregator()) + `\s*\([^\[\]()]*\[([^\[\]]*)\]`),
		list:      regexp.MustCompile(`\[([^\[\]]*)\]`),
		quoted:    regexp.MustCompile(`^\s*["']([^"']*)["']\s*$`),
		alias:     regexp.MustCompile(`(?m)^\s*([A-Za-z_]\w*)\s*=\s*` + root + `\s*\([^)]*\)((?:\.\w+)*)\s*$`),
		params:    regexp.MustCompile(`\b` + root + `\s*\([^)]*\)((?:\.\w+)+)`),
		signature: regexp.MustCompile(`def\s+formula\w*\s*\(\s*(?:self\s*,\s*)?([A-Za-z_]\w*)`),
	}
}

func (s *scanner) run(text string) *References {
	refs := newReferences()
	vars := map[string]bool{}
	addVar := func(name string) {
		if !vars[name] {
			vars[name] = true
			refs.Variables = append(refs.Variables, name)
		}
	}

	for _, m := range s.entity.FindAllStringSubmatch(text, -1) {
		addVar(m[2])
		refs.EntityCalls = append(refs.EntityCalls, EntityCall{Keyword: m[1], Name: m[2]})
	}

	addBodies := map[string]bool{}
	for _, m := range s.add.FindAllStringSubmatch(text, -1) {
		names, ok := s.names(m[1])
		if !ok {
			continue
		}
		addBodies[m[1]] = true
		for _, n := range names {
			addVar(n)
		}
		refs.AddLists = append(refs.AddLists, names)
	}

	cands := map[string]bool{}
	for _, m := range s.list.FindAllStringSubmatch(text, -1) {
		if addBodies[m[1]] {
			continue
		}
		names, ok := s.names(m[1])
		if !ok || len(names) == 0 {
			continue
		}
		valid := true
		for _, n := range names {
			if !namePattern.MatchString(n) {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		for _, n := range names {
			if !cands[n] && !vars[n] {
				cands[n] = true
				refs.Candidates = append(refs.Candidates, n)
			}
		}
	}

	// Alias bindings first, then strip them so they are not read as parameters.
	rest := text
	for _, m := range s.alias.FindAllStringSubmatch(text, -1) {
		prefix := strings.TrimPrefix(m[2], ".")
		if prefix != "" && !regexp.MustCompile(`\b`+regexp.QuoteMeta(m[1])+`\.\w`).MatchString(text) {
			continue
		}
		refs.Aliases[m[1]] = prefix
		rest = strings.Replace(rest, m[0], "", 1)
	}

	params := map[string]bool{}
	addParam := func(p string) {
		if p != "" && !params[p] {
			params[p] = true
			refs.Parameters = append(refs.Parameters, p)
		}
	}
	for _, m := range s.params.FindAllStringSubmatch(rest, -1) {
		addParam(strings.TrimPrefix(m[1], "."))
	}
	for _, alias := range sortedKeys(refs.Aliases) {
		re := regexp.MustCompile(`(?:^|[^\w.])` + regexp.QuoteMeta(alias) + `((?:\.\w+)+)`)
		for _, m := range re.FindAllStringSubmatch(rest, -1) {
			addParam(joinPath(refs.Aliases[alias], strings.TrimPrefix(m[1], ".")))
		}
	}

	refs.Conditionals = FindCalls(text, s.tbl.Conditionals())

	if m := s.signature.FindStringSubmatch(text); m != nil {
		refs.Entity = m[1]
	}
	return refs
}

// names splits a list body into its quoted strings. ok is false when any
// element is not a plain string literal.
func (s *scanner) names(body string) ([]string, bool) {
	var out []string
	for _, part := range SplitArgs(body) {
		m := s.quoted.FindStringSubmatch(part)
		if m == nil {
			return nil, false
		}
		out = append(out, m[1])
	}
	return out, true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortLongestFirst(keys)
	return keys
}
