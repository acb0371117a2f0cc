// Package reform parses parameter override documents and applies them to a
// parameter table.
//
// A reform maps dot paths either to a value or to a date-keyed history of
// values:
//
//	gov.tax.rate: 0.25
//	gov.tax.threshold:
//	  2020-01-01: 12000
//	  2023-01-01: 12500
//
// JSON documents are accepted too, since JSON is valid YAML.
package reform

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jward/pecompile/internal/registry"
)

// ErrInvalidSpec marks a malformed reform document.
var ErrInvalidSpec = errors.New("invalid reform specification")

var (
	pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type entry struct {
	flat    bool
	value   any
	history []registry.DatedValue
}

// Spec is a parsed reform. It is immutable.
type Spec struct {
	paths   []string // document order
	entries map[string]entry
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("reform: %w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

// Parse reads a YAML or JSON reform document. Flat and dated entries may be
// mixed. Any structural problem fails with ErrInvalidSpec.
func Parse(text string) (*Spec, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("empty document")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, invalid("%v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, invalid("expected a single document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, invalid("top level must be a mapping of parameter paths, got %s", kindName(root))
	}

	s := &Spec{entries: make(map[string]entry)}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		path := k.Value
		if k.Kind != yaml.ScalarNode || !pathPattern.MatchString(path) {
			return nil, invalid("line %d: %q is not a parameter path", k.Line, path)
		}
		if _, dup := s.entries[path]; dup {
			return nil, invalid("line %d: duplicate path %q", k.Line, path)
		}

		var e entry
		if v.Kind == yaml.MappingNode {
			hist, err := parseHistory(path, v)
			if err != nil {
				return nil, err
			}
			e.history = hist
		} else {
			val, err := parseValue(path, v)
			if err != nil {
				return nil, err
			}
			e.flat, e.value = true, val
		}
		s.entries[path] = e
		s.paths = append(s.paths, path)
	}
	return s, nil
}

func parseHistory(path string, n *yaml.Node) ([]registry.DatedValue, error) {
	if len(n.Content) == 0 {
		return nil, invalid("line %d: %s: empty date mapping", n.Line, path)
	}
	seen := make(map[string]bool)
	var hist []registry.DatedValue
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode || !validDate(k.Value) {
			return nil, invalid("line %d: %s: %q is not a YYYY-MM-DD date", k.Line, path, k.Value)
		}
		if seen[k.Value] {
			return nil, invalid("line %d: %s: duplicate date %s", k.Line, path, k.Value)
		}
		seen[k.Value] = true
		val, err := parseValue(path, v)
		if err != nil {
			return nil, err
		}
		hist = append(hist, registry.DatedValue{From: k.Value, Value: val})
	}
	sort.Slice(hist, func(i, j int) bool { return hist[i].From < hist[j].From })
	return hist, nil
}

func parseValue(path string, n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return scalar(path, n)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, el := range n.Content {
			if el.Kind != yaml.ScalarNode {
				return nil, invalid("line %d: %s: list elements must be scalars", el.Line, path)
			}
			v, err := scalar(path, el)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, invalid("line %d: %s: unsupported value (%s)", n.Line, path, kindName(n))
}

func scalar(path string, n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, invalid("line %d: %s: null override", n.Line, path)
	case "!!timestamp":
		return n.Value, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, invalid("line %d: %s: %v", n.Line, path, err)
	}
	return v, nil
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "document"
}

func validDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// Load reads and parses a reform file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reform: read %s: %w", path, err)
	}
	s, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Paths returns the overridden paths in document order.
func (s *Spec) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Len reports how many paths the reform overrides.
func (s *Spec) Len() int { return len(s.paths) }

// Resolve returns the overrides in force on date. A dated entry contributes
// the value with the latest date not after date; when none qualifies the
// path is omitted and the base value stays.
func (s *Spec) Resolve(date string) map[string]any {
	out := make(map[string]any, len(s.paths))
	for _, p := range s.paths {
		e := s.entries[p]
		if e.flat {
			out[p] = e.value
			continue
		}
		if v, ok := registry.ValueAt(e.history, date); ok {
			out[p] = v
		}
	}
	return out
}

// Apply returns a new table equal to base with every override replaced or
// added. base is not modified.
func Apply(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// DateForYear returns the first day of year.
func DateForYear(year int) string {
	return fmt.Sprintf("%04d-01-01", year)
}

// NormalizeDate accepts YYYY or YYYY-MM-DD and returns YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		year, err := strconv.Atoi(s)
		if err != nil {
			return "", fmt.Errorf("reform: %q is not a year", s)
		}
		return DateForYear(year), nil
	}
	if !validDate(s) {
		return "", fmt.Errorf("reform: %q is not a YYYY-MM-DD date", s)
	}
	return s, nil
}
