// Package config holds the fixed tables that drive formula analysis and code
// synthesis, plus the optional pecompile.toml project file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

var defaultEntities = []string{
	"person", "household", "tax_unit", "benunit",
	"family", "state", "spm_unit", "marital_unit",
}

var defaultClasses = map[string]string{
	"Person":      "person",
	"Household":   "household",
	"TaxUnit":     "tax_unit",
	"BenUnit":     "benunit",
	"Family":      "family",
	"State":       "state",
	"SPMUnit":     "spm_unit",
	"MaritalUnit": "marital_unit",
}

var defaultMath = map[string]string{
	"np.maximum": "Math.max",
	"np.minimum": "Math.min",
	"np.abs":     "Math.abs",
	"np.ceil":    "Math.ceil",
	"np.floor":   "Math.floor",
	"np.sqrt":    "Math.sqrt",
	"np.round":   "Math.round",
	"np.exp":     "Math.exp",
	"np.log":     "Math.log",
	"max_":       "Math.max",
	"min_":       "Math.min",
	"max":        "Math.max",
	"min":        "Math.min",
	"abs":        "Math.abs",
	"ceil":       "Math.ceil",
	"floor":      "Math.floor",
	"sqrt":       "Math.sqrt",
	"round":      "Math.round",
	"exp":        "Math.exp",
	"log":        "Math.log",
}

// Table is the immutable configuration shared by one or more compilations.
// The zero value is not usable; build one with Default or File.Table.
type Table struct {
	entities   []string
	entitySet  map[string]bool
	classes    map[string]string
	math       map[string]string
	mathOrder  []string
	members    string
	aggregator string
	params     string
	where      []string
}

// Default returns the built-in table.
func Default() *Table {
	return newTable(defaultEntities, nil, nil)
}

// DefaultEntities returns the built-in entity keywords.
func DefaultEntities() []string {
	return append([]string(nil), defaultEntities...)
}

func newTable(entities []string, classes, math map[string]string) *Table {
	t := &Table{
		entitySet:  make(map[string]bool),
		classes:    make(map[string]string, len(defaultClasses)),
		math:       make(map[string]string, len(defaultMath)),
		members:    "members",
		aggregator: "add",
		params:     "parameters",
		where:      []string{"numpy.where", "np.where", "where"},
	}
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" || t.entitySet[e] {
			continue
		}
		t.entitySet[e] = true
		t.entities = append(t.entities, e)
	}
	for k, v := range defaultClasses {
		t.classes[k] = v
	}
	for k, v := range classes {
		t.classes[k] = v
	}
	for k, v := range defaultMath {
		t.math[k] = v
	}
	for k, v := range math {
		t.math[k] = v
	}
	for k := range t.math {
		t.mathOrder = append(t.mathOrder, k)
	}
	// Longer names first so "np.maximum" wins over "max".
	sort.Slice(t.mathOrder, func(i, j int) bool {
		a, b := t.mathOrder[i], t.mathOrder[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return t
}

// Entities returns the entity keywords in configuration order.
func (t *Table) Entities() []string {
	out := make([]string, len(t.entities))
	copy(out, t.entities)
	return out
}

// IsEntity reports whether name is an entity keyword.
func (t *Table) IsEntity(name string) bool { return t.entitySet[name] }

// Members returns the member accessor name.
func (t *Table) Members() string { return t.members }

// Aggregator returns the aggregation helper name.
func (t *Table) Aggregator() string { return t.aggregator }

// ParameterRoot returns the parameter access function name.
func (t *Table) ParameterRoot() string { return t.params }

// Conditionals returns the conditional helper names, namespaced ones first.
func (t *Table) Conditionals() []string {
	out := make([]string, len(t.where))
	copy(out, t.where)
	return out
}

// IsConditional reports whether callee names a conditional helper.
func (t *Table) IsConditional(callee string) bool {
	for _, w := range t.where {
		if w == callee {
			return true
		}
	}
	return false
}

// EntityForClass maps an entity class name (Person, TaxUnit) to its keyword.
// Unknown classes are lowercased.
func (t *Table) EntityForClass(class string) string {
	if k, ok := t.classes[class]; ok {
		return k
	}
	return strings.ToLower(class)
}

// MathNames returns the math mapping source names, longest first.
func (t *Table) MathNames() []string {
	out := make([]string, len(t.mathOrder))
	copy(out, t.mathOrder)
	return out
}

// MathFor returns the structured-backend equivalent of a math helper.
func (t *Table) MathFor(name string) (string, bool) {
	v, ok := t.math[name]
	return v, ok
}

// File mirrors pecompile.toml.
type File struct {
	Compile  CompileSection    `toml:"compile"`
	Log      LogSection        `toml:"log"`
	Entities EntitiesSection   `toml:"entities"`
	Math     map[string]string `toml:"math"`
}

// CompileSection holds defaults for the compile command.
type CompileSection struct {
	Date       string `toml:"date"`
	Target     string `toml:"target"`
	Module     string `toml:"module"`
	TypeScript bool   `toml:"typescript"`
	Strict     bool   `toml:"strict"`
	JSDoc      bool   `toml:"jsdoc"`
}

// LogSection holds logger defaults.
type LogSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// EntitiesSection extends the built-in entity tables.
type EntitiesSection struct {
	Keywords []string          `toml:"keywords"`
	Classes  map[string]string `toml:"classes"`
}

// Load decodes a TOML project file. A missing file yields an empty File.
func Load(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f, nil
	}
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes TOML text.
func Parse(text string) (*File, error) {
	f := &File{}
	if _, err := toml.Decode(text, f); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return f, nil
}

func (f *File) validate() error {
	switch f.Compile.Target {
	case "", "python", "javascript", "typescript", "risor":
	default:
		return fmt.Errorf("compile.target %q is not one of python, javascript, typescript, risor", f.Compile.Target)
	}
	switch f.Compile.Module {
	case "", "esm", "commonjs", "iife", "none":
	default:
		return fmt.Errorf("compile.module %q is not one of esm, commonjs, iife, none", f.Compile.Module)
	}
	switch f.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", f.Log.Level)
	}
	switch f.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", f.Log.Format)
	}
	return nil
}

// Table builds the immutable table. Extra keywords extend the defaults.
func (f *File) Table() *Table {
	entities := DefaultEntities()
	entities = append(entities, f.Entities.Keywords...)
	return newTable(entities, f.Entities.Classes, f.Math)
}
