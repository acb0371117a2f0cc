package pecompile

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/pecompile/internal/config"
	"github.com/jward/pecompile/internal/formula"
	"github.com/jward/pecompile/internal/registry"
	"github.com/jward/pecompile/internal/store"
)

// QueryBuilder answers read-only questions about an indexed rule set.
// Duplicate definitions resolve the same way compilation does: the source
// with the greatest path wins.
type QueryBuilder struct {
	store    *store.Store
	analyzer *formula.Analyzer
}

// Query returns a QueryBuilder over the Engine's store, or nil when the
// Engine has no store open.
func (e *Engine) Query() *QueryBuilder {
	if e.store == nil {
		return nil
	}
	return newQueryBuilder(e.store, e.tbl)
}

func newQueryBuilder(s *store.Store, tbl *config.Table) *QueryBuilder {
	return &QueryBuilder{store: s, analyzer: formula.NewAnalyzer(tbl)}
}

// --- Common Types ---

// Pagination controls offset+limit paging on list/search results.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SortField specifies how to order results.
type SortField string

const (
	SortByName   SortField = "name"
	SortByEntity SortField = "entity"
	SortBySource SortField = "source"
)

// SortOrder specifies ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort controls result ordering. Ties are always broken by name.
type Sort struct {
	Field SortField
	Order SortOrder
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"` // before pagination
}

// VariableFilter specifies which variables to include. Zero fields match
// everything.
type VariableFilter struct {
	Entities     []string // match any of these entities
	Input        *bool    // true: inputs only; false: computed only
	NamePattern  string   // glob with * wildcards, e.g. "*_income"
	SourcePrefix string   // restrict to sources under this path
}

// VariableResult is one winning variable definition.
type VariableResult struct {
	Name      string `json:"name"`
	Entity    string `json:"entity"`
	Period    string `json:"period"`
	ValueType string `json:"value_type"`
	Label     string `json:"label,omitempty"`
	Input     bool   `json:"input"`
	Source    string `json:"source,omitempty"`
}

// ParameterResult is one parameter leaf. Values is filled only by
// ParameterHistory.
type ParameterResult struct {
	Path        string                `json:"path"`
	Description string                `json:"description,omitempty"`
	Reference   string                `json:"reference,omitempty"`
	Unit        string                `json:"unit,omitempty"`
	Source      string                `json:"source,omitempty"`
	Values      []registry.DatedValue `json:"values,omitempty"`
}

// VariableDeps lists what one formula references directly.
type VariableDeps struct {
	Name       string   `json:"name"`
	Variables  []string `json:"variables"`
	Parameters []string `json:"parameters"`
}

// Summary describes the whole indexed rule set.
type Summary struct {
	Root       string         `json:"root,omitempty"`
	IndexedAt  string         `json:"indexed_at,omitempty"`
	Sources    int            `json:"sources"`
	Variables  int            `json:"variables"`
	Inputs     int            `json:"inputs"`
	Parameters int            `json:"parameters"`
	Entities   map[string]int `json:"entities"`
}

// --- Internal Helpers ---

// winningVariables selects one row per name, ranked like store lookups.
const winningVariables = `WITH ranked AS (
	SELECT v.name, v.entity, v.period, v.value_type, v.label, v.formula,
	       COALESCE(s.path, '') AS source,
	       ROW_NUMBER() OVER (PARTITION BY v.name ORDER BY s.path DESC, v.id DESC) AS rn
	FROM variables v LEFT JOIN sources s ON s.id = v.source_id
)`

const winningParameters = `WITH ranked AS (
	SELECT p.id, p.path, p.description, p.reference, p.unit,
	       COALESCE(s.path, '') AS source,
	       ROW_NUMBER() OVER (PARTITION BY p.path ORDER BY s.path DESC, p.id DESC) AS rn
	FROM parameters p LEFT JOIN sources s ON s.id = p.source_id
)`

// variableSortColumn returns the ORDER BY column for variable queries.
// Falls back to "name" for unknown fields.
func variableSortColumn(field SortField) string {
	switch field {
	case SortByEntity:
		return "entity"
	case SortBySource:
		return "source"
	default:
		return "name"
	}
}

// sortDirection returns "ASC" or "DESC".
func sortDirection(order SortOrder) string {
	if order == Desc {
		return "DESC"
	}
	return "ASC"
}

// escapeLike escapes LIKE metacharacters with \ as the escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// globToLike converts a * glob into a LIKE pattern.
func globToLike(glob string) string {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = escapeLike(p)
	}
	return strings.Join(parts, "%")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// --- Enumeration Endpoints ---

// Variables lists winning variable definitions matching filter.
func (q *QueryBuilder) Variables(filter VariableFilter, s Sort, page Pagination) (*PagedResult[VariableResult], error) {
	page = page.normalize()
	where := []string{"rn = 1"}
	var args []any
	if len(filter.Entities) > 0 {
		where = append(where, "entity IN ("+placeholders(len(filter.Entities))+")")
		for _, e := range filter.Entities {
			args = append(args, e)
		}
	}
	if filter.Input != nil {
		if *filter.Input {
			where = append(where, "COALESCE(formula, '') = ''")
		} else {
			where = append(where, "COALESCE(formula, '') <> ''")
		}
	}
	if filter.NamePattern != "" {
		where = append(where, `name LIKE ? ESCAPE '\'`)
		args = append(args, globToLike(filter.NamePattern))
	}
	if filter.SourcePrefix != "" {
		prefix := strings.TrimSuffix(filter.SourcePrefix, "/") + "/"
		where = append(where, `source LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(prefix)+"%")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := q.store.DB().QueryRow(winningVariables+" SELECT COUNT(*) FROM ranked WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("variables: count: %w", err)
	}

	query := fmt.Sprintf(`%s SELECT name, entity, period, value_type, label, formula, source
		FROM ranked WHERE %s ORDER BY %s %s, name LIMIT ? OFFSET ?`,
		winningVariables, cond, variableSortColumn(s.Field), sortDirection(s.Order))
	rows, err := q.store.DB().Query(query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	defer rows.Close()

	result := &PagedResult[VariableResult]{TotalCount: total}
	for rows.Next() {
		var (
			v                                     VariableResult
			entity, period, valueType, label, src sql.NullString
			formulaText                           sql.NullString
		)
		if err := rows.Scan(&v.Name, &entity, &period, &valueType, &label, &formulaText, &src); err != nil {
			return nil, fmt.Errorf("variables: scan: %w", err)
		}
		v.Entity, v.Period, v.ValueType = entity.String, period.String, valueType.String
		v.Label, v.Source = label.String, src.String
		v.Input = strings.TrimSpace(formulaText.String) == ""
		result.Items = append(result.Items, v)
	}
	return result, rows.Err()
}

// Parameters lists parameter leaves at or under prefix.
func (q *QueryBuilder) Parameters(prefix string, page Pagination) (*PagedResult[ParameterResult], error) {
	page = page.normalize()
	cond := "rn = 1"
	var args []any
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, ".")
		cond += ` AND (path = ? OR path LIKE ? ESCAPE '\')`
		args = append(args, prefix, escapeLike(prefix+".")+"%")
	}

	var total int
	if err := q.store.DB().QueryRow(winningParameters+" SELECT COUNT(*) FROM ranked WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("parameters: count: %w", err)
	}
	rows, err := q.store.DB().Query(winningParameters+
		" SELECT path, description, reference, unit, source FROM ranked WHERE "+cond+" ORDER BY path LIMIT ? OFFSET ?",
		append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}
	defer rows.Close()

	result := &PagedResult[ParameterResult]{TotalCount: total}
	for rows.Next() {
		var p ParameterResult
		var desc, ref, unit sql.NullString
		if err := rows.Scan(&p.Path, &desc, &ref, &unit, &p.Source); err != nil {
			return nil, fmt.Errorf("parameters: scan: %w", err)
		}
		p.Description, p.Reference, p.Unit = desc.String, ref.String, unit.String
		result.Items = append(result.Items, p)
	}
	return result, rows.Err()
}

// --- Detail Endpoints ---

// ParameterHistory returns one parameter with every dated value, or nil
// when the path is not indexed.
func (q *QueryBuilder) ParameterHistory(path string) (*ParameterResult, error) {
	p, err := q.store.ParameterByPath(path)
	if err != nil {
		return nil, fmt.Errorf("parameter history: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	values, err := q.store.ParameterValues(p.ID)
	if err != nil {
		return nil, fmt.Errorf("parameter history: %w", err)
	}
	out := &ParameterResult{
		Path:        p.Path,
		Description: p.Description,
		Reference:   p.Reference,
		Unit:        p.Unit,
		Source:      q.sourcePath(p.SourceID),
	}
	for _, v := range values {
		out.Values = append(out.Values, registry.DatedValue{From: v.EffectiveFrom, Value: v.Value})
	}
	return out, nil
}

// Dependencies reports the variables and parameters name's formula reads,
// or nil when name is not indexed. Candidate names from literal lists are
// included only when they are indexed variables.
func (q *QueryBuilder) Dependencies(name string) (*VariableDeps, error) {
	v, err := q.store.VariableByName(name)
	if err != nil {
		return nil, fmt.Errorf("dependencies: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	refs := q.analyzer.Analyze(v.Formula)
	deps := &VariableDeps{Name: name, Variables: []string{}, Parameters: []string{}}
	deps.Variables = append(deps.Variables, refs.Variables...)
	for _, cand := range refs.Candidates {
		known, err := q.store.VariableByName(cand)
		if err != nil {
			return nil, fmt.Errorf("dependencies: %w", err)
		}
		if known != nil {
			deps.Variables = append(deps.Variables, cand)
		}
	}
	deps.Parameters = append(deps.Parameters, refs.Parameters...)
	return deps, nil
}

// Dependents returns the names of variables whose formulas reference name
// directly, sorted.
func (q *QueryBuilder) Dependents(name string) ([]string, error) {
	rows, err := q.store.DB().Query(winningVariables +
		" SELECT name, formula FROM ranked WHERE rn = 1 AND COALESCE(formula, '') <> '' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("dependents: %w", err)
	}
	type def struct{ name, formula string }
	var defs []def
	for rows.Next() {
		var d def
		if err := rows.Scan(&d.name, &d.formula); err != nil {
			rows.Close()
			return nil, fmt.Errorf("dependents: scan: %w", err)
		}
		defs = append(defs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dependents: %w", err)
	}

	var out []string
	for _, d := range defs {
		refs := q.analyzer.Analyze(d.formula)
		if contains(refs.Variables, name) || contains(refs.Candidates, name) {
			out = append(out, d.name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Summary counts what is indexed. Redefined names count once.
func (q *QueryBuilder) Summary() (*Summary, error) {
	sum := &Summary{Entities: map[string]int{}}
	var err error
	if _, _, sum.Sources, err = q.store.Counts(); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if err := q.store.DB().QueryRow(winningParameters + " SELECT COUNT(*) FROM ranked WHERE rn = 1").Scan(&sum.Parameters); err != nil {
		return nil, fmt.Errorf("summary: parameters: %w", err)
	}
	if sum.Root, err = q.store.Meta(store.MetaRoot); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if sum.IndexedAt, err = q.store.Meta(store.MetaIndexedAt); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	rows, err := q.store.DB().Query(winningVariables + ` SELECT COALESCE(entity, ''),
		COUNT(*), SUM(CASE WHEN COALESCE(formula, '') = '' THEN 1 ELSE 0 END)
		FROM ranked WHERE rn = 1 GROUP BY entity`)
	if err != nil {
		return nil, fmt.Errorf("summary: entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entity string
		var count, inputs int
		if err := rows.Scan(&entity, &count, &inputs); err != nil {
			return nil, fmt.Errorf("summary: scan: %w", err)
		}
		sum.Entities[entity] = count
		sum.Variables += count
		sum.Inputs += inputs
	}
	return sum, rows.Err()
}

func (q *QueryBuilder) sourcePath(id int64) string {
	var path string
	if err := q.store.DB().QueryRow("SELECT path FROM sources WHERE id = ?", id).Scan(&path); err != nil {
		return ""
	}
	return path
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
