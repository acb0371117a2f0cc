// Package formula recovers the references a rule formula makes: the
// variables it reads through entity calls, the parameter paths it reads
// directly or through aliases, aggregation lists, conditional call sites and
// the entity the formula is declared on. Analysis is structural and never
// evaluates anything.
package formula

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/grammar"
)

// DefaultEntity is reported when a formula's entity cannot be detected.
const DefaultEntity = "person"

var namePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// EntityCall is one `<keyword>("<name>", <period>)` style lookup.
type EntityCall struct {
	Keyword string
	Name    string
}

// References is everything the analyzer recovered from one formula.
// Slices hold unique values in discovery order.
type References struct {
	Variables    []string
	Parameters   []string
	Aliases      map[string]string // alias -> path prefix ("" for the root)
	EntityCalls  []EntityCall
	AddLists     [][]string
	Candidates   []string   // literal name lists outside add(...), minus Variables
	Conditionals []CallSite // offsets into the dedented text
	Entity       string
	Structural   bool // false when the pattern scan fallback was used
}

// Analyzer extracts References using a fixed configuration table.
type Analyzer struct {
	tbl  *config.Table
	scan *scanner
}

// NewAnalyzer returns an Analyzer for tbl. A nil table means config.Default.
func NewAnalyzer(tbl *config.Table) *Analyzer {
	if tbl == nil {
		tbl = config.Default()
	}
	return &Analyzer{tbl: tbl, scan: newScanner(tbl)}
}

// Analyze returns the references in src. It never fails: text that does not
// parse is handled by a best-effort pattern scan, and empty text yields an
// empty set.
func (a *Analyzer) Analyze(src string) *References {
	text := Dedent(src)
	if strings.TrimSpace(text) == "" {
		return newReferences()
	}
	if refs, ok := a.structural(text); ok {
		return refs
	}
	return a.scan.run(text)
}

func newReferences() *References {
	return &References{Aliases: map[string]string{}, Entity: DefaultEntity}
}

type collector struct {
	tbl  *config.Table
	src  []byte
	refs *References

	vars, params, cands map[string]bool
	candidateOrder      []string
	inAdd               map[uint32]bool // start bytes of add(...) lists
}

func (a *Analyzer) structural(text string) (refs *References, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			refs, ok = nil, false
		}
	}()

	src := []byte(text)
	tree, err := grammar.Parse(context.Background(), "python", src)
	if err != nil {
		return nil, false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return nil, false
	}

	c := &collector{
		tbl:    a.tbl,
		src:    src,
		refs:   newReferences(),
		vars:   map[string]bool{},
		params: map[string]bool{},
		cands:  map[string]bool{},
		inAdd:  map[uint32]bool{},
	}
	c.refs.Structural = true

	// Pass one: the alias symbol table. A binding to the bare root is always
	// an alias; a binding to a deeper chain is one only when the name is
	// dereferenced later, otherwise it is a plain local holding a value.
	dereferenced := map[string]bool{}
	walk(root, func(n *sitter.Node) bool {
		if n.Type() == "attribute" {
			if obj := n.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
				dereferenced[obj.Content(src)] = true
			}
		}
		return true
	})
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "assignment" {
			return true
		}
		left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" {
			return true
		}
		name := left.Content(src)
		if prefix, ok := c.paramChain(right, true); ok && (prefix == "" || dereferenced[name]) {
			c.refs.Aliases[name] = prefix
		}
		return true
	})

	// Pass two: everything else, resolving attribute chains through the table.
	walk(root, c.visit)

	c.refs.Entity = c.entity(root)
	for _, name := range c.candidateOrder {
		if !c.vars[name] {
			c.refs.Candidates = append(c.refs.Candidates, name)
		}
	}
	return c.refs, true
}

func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), fn)
	}
}

func (c *collector) addVar(name string) {
	if !c.vars[name] {
		c.vars[name] = true
		c.refs.Variables = append(c.refs.Variables, name)
	}
}

func (c *collector) addParam(path string) {
	if path != "" && !c.params[path] {
		c.params[path] = true
		c.refs.Parameters = append(c.refs.Parameters, path)
	}
}

func (c *collector) visit(n *sitter.Node) bool {
	switch n.Type() {
	case "assignment":
		left, right := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if left != nil && right != nil && left.Type() == "identifier" {
			if _, isAlias := c.refs.Aliases[left.Content(c.src)]; isAlias {
				if _, ok := c.paramChain(right, true); ok {
					// The binding itself is not a parameter read.
					return false
				}
			}
		}
	case "attribute":
		if path, ok := c.paramChain(n, false); ok {
			c.addParam(path)
			return false
		}
	case "call":
		c.call(n)
	case "list":
		c.list(n)
	}
	return true
}

func (c *collector) call(n *sitter.Node) {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return
	}
	callee := fn.Content(c.src)

	if c.tbl.IsConditional(callee) {
		site := CallSite{
			Callee: callee,
			Start:  int(n.StartByte()),
			Open:   int(args.StartByte()),
			End:    int(n.EndByte()),
		}
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			if arg.Type() == "comment" {
				continue
			}
			site.Args = append(site.Args, arg.Content(c.src))
		}
		c.refs.Conditionals = append(c.refs.Conditionals, site)
		return
	}

	var keyword string
	switch fn.Type() {
	case "identifier":
		if c.tbl.IsEntity(callee) {
			keyword = callee
		} else if callee == c.tbl.Aggregator() {
			c.add(args)
			return
		}
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		if attr != nil {
			name := attr.Content(c.src)
			if c.tbl.IsEntity(name) || name == c.tbl.Members() {
				keyword = name
			}
		}
	}
	if keyword == "" || args.NamedChildCount() == 0 {
		return
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return
	}
	name, ok := Unquote(first.Content(c.src))
	if !ok || name == "" {
		return
	}
	c.addVar(name)
	c.refs.EntityCalls = append(c.refs.EntityCalls, EntityCall{Keyword: keyword, Name: name})
}

func (c *collector) add(args *sitter.Node) {
	var positional []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "comment" && arg.Type() != "keyword_argument" {
			positional = append(positional, arg)
		}
	}
	if len(positional) < 3 || positional[2].Type() != "list" {
		return
	}
	list := positional[2]
	names, ok := c.stringList(list)
	if !ok {
		return
	}
	c.inAdd[list.StartByte()] = true
	for _, name := range names {
		c.addVar(name)
	}
	c.refs.AddLists = append(c.refs.AddLists, names)
}

func (c *collector) list(n *sitter.Node) {
	if c.inAdd[n.StartByte()] {
		return
	}
	names, ok := c.stringList(n)
	if !ok || len(names) == 0 {
		return
	}
	for _, name := range names {
		if !namePattern.MatchString(name) {
			return
		}
	}
	for _, name := range names {
		if !c.cands[name] {
			c.cands[name] = true
			c.candidateOrder = append(c.candidateOrder, name)
		}
	}
}

func (c *collector) stringList(n *sitter.Node) ([]string, bool) {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		el := n.NamedChild(i)
		if el.Type() == "comment" {
			continue
		}
		if el.Type() != "string" {
			return nil, false
		}
		s, ok := Unquote(el.Content(c.src))
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// paramChain flattens an attribute chain rooted at a parameters(...) call or
// a known alias into a dot path. A bare root is accepted only when allowBare
// is set, which is how alias bindings are recognised.
func (c *collector) paramChain(n *sitter.Node, allowBare bool) (string, bool) {
	var segs []string
	cur := n
	for cur != nil && cur.Type() == "attribute" {
		attr := cur.ChildByFieldName("attribute")
		if attr == nil {
			return "", false
		}
		segs = append(segs, attr.Content(c.src))
		cur = cur.ChildByFieldName("object")
	}
	if cur == nil {
		return "", false
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}

	var prefix string
	switch cur.Type() {
	case "call":
		fn := cur.ChildByFieldName("function")
		if fn == nil || fn.Type() != "identifier" || fn.Content(c.src) != c.tbl.ParameterRoot() {
			return "", false
		}
	case "identifier":
		p, ok := c.refs.Aliases[cur.Content(c.src)]
		if !ok {
			return "", false
		}
		prefix = p
	default:
		return "", false
	}
	if len(segs) == 0 && !allowBare {
		return "", false
	}
	return joinPath(prefix, strings.Join(segs, ".")), true
}

func joinPath(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "." + b
}

// entity returns the first parameter of the formula method, or of the first
// function when none is named formula*. A leading self is skipped.
func (c *collector) entity(root *sitter.Node) string {
	var first, formula *sitter.Node
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "function_definition" {
			return true
		}
		if first == nil {
			first = n
		}
		if name := n.ChildByFieldName("name"); formula == nil && name != nil &&
			strings.HasPrefix(name.Content(c.src), "formula") {
			formula = n
		}
		return true
	})
	def := formula
	if def == nil {
		def = first
	}
	if def == nil {
		return DefaultEntity
	}
	params := def.ChildByFieldName("parameters")
	if params == nil {
		return DefaultEntity
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		name := paramName(params.NamedChild(i), c.src)
		if name == "" || name == "self" {
			continue
		}
		return name
	}
	return DefaultEntity
}

func paramName(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "identifier":
		return n.Content(src)
	case "typed_parameter", "default_parameter", "typed_default_parameter":
		if name := n.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if ch := n.NamedChild(i); ch.Type() == "identifier" {
				return ch.Content(src)
			}
		}
	}
	return ""
}
