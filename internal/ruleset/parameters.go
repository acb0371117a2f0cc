package ruleset

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/pecompile/internal/registry"
	"github.com/jward/pecompile/internal/reform"
)

// Parameter is one leaf of a parameter tree with its value history.
type Parameter struct {
	Path        string
	Description string
	Reference   string
	Unit        string
	Values      []registry.DatedValue // ordered by date
}

// Keys that describe a node rather than name a child.
var nodeKeys = map[string]bool{
	"description":   true,
	"metadata":      true,
	"documentation": true,
	"reference":     true,
	"label":         true,
}

// ParseParameters reads one parameter file. prefix is the dotted path the
// file's position in the tree gives it (see ParameterPrefix). A file with a
// values key is itself a leaf; otherwise every mapping child is a subtree.
func ParseParameters(prefix string, src []byte) ([]Parameter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("ruleset: %s: %w", prefix, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	var out []Parameter
	if err := walkNode(prefix, doc.Content[0], &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func walkNode(prefix string, n *yaml.Node, out *[]Parameter) error {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	if values := child(n, "values"); values != nil {
		leaf, err := parseLeaf(prefix, n, values)
		if err != nil {
			return err
		}
		*out = append(*out, leaf)
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if nodeKeys[k.Value] || v.Kind != yaml.MappingNode {
			continue
		}
		if err := walkNode(join(prefix, k.Value), v, out); err != nil {
			return err
		}
	}
	return nil
}

func parseLeaf(p string, n, values *yaml.Node) (Parameter, error) {
	leaf := Parameter{Path: p}
	if d := child(n, "description"); d != nil && d.Kind == yaml.ScalarNode {
		leaf.Description = strings.TrimSpace(d.Value)
	}
	if meta := child(n, "metadata"); meta != nil {
		if u := child(meta, "unit"); u != nil && u.Kind == yaml.ScalarNode {
			leaf.Unit = u.Value
		}
		leaf.Reference = reference(child(meta, "reference"))
	}
	if leaf.Reference == "" {
		leaf.Reference = reference(child(n, "reference"))
	}

	if values.Kind != yaml.MappingNode {
		return leaf, fmt.Errorf("ruleset: line %d: %s: values must be a date mapping", values.Line, p)
	}
	for i := 0; i+1 < len(values.Content); i += 2 {
		k, v := values.Content[i], values.Content[i+1]
		from, err := reform.NormalizeDate(k.Value)
		if err != nil {
			return leaf, fmt.Errorf("ruleset: line %d: %s: %w", k.Line, p, err)
		}
		// {2020-01-01: {value: 1, reference: ...}} carries the value one level down.
		if v.Kind == yaml.MappingNode {
			if inner := child(v, "value"); inner != nil {
				v = inner
			}
		}
		val, err := value(v)
		if err != nil {
			return leaf, fmt.Errorf("ruleset: line %d: %s: %w", v.Line, p, err)
		}
		leaf.Values = append(leaf.Values, registry.DatedValue{From: from, Value: val})
	}
	sort.SliceStable(leaf.Values, func(i, j int) bool { return leaf.Values[i].From < leaf.Values[j].From })
	return leaf, nil
}

func value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.ShortTag() == "!!timestamp" {
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, el := range n.Content {
			v, err := value(el)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value at line %d", n.Line)
}

// reference flattens a reference entry: a string, a {title, href} mapping,
// or a list of either. Multiple references are joined with "; ".
func reference(n *yaml.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.MappingNode:
		for _, key := range []string{"href", "title"} {
			if v := child(n, key); v != nil && v.Kind == yaml.ScalarNode {
				return v.Value
			}
		}
	case yaml.SequenceNode:
		var parts []string
		for _, el := range n.Content {
			if r := reference(el); r != "" {
				parts = append(parts, r)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func child(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}

// ParameterPrefix maps a file path relative to the parameters directory to
// its dotted tree path: gov/irs/rate.yaml is gov.irs.rate, and an index.yaml
// stands for its directory.
func ParameterPrefix(rel string) string {
	rel = strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "./")
	rel = strings.TrimSuffix(strings.TrimSuffix(rel, ".yaml"), ".yml")
	rel = strings.TrimSuffix(rel, "/index")
	if rel == "index" || rel == "." {
		return ""
	}
	return strings.ReplaceAll(rel, "/", ".")
}
