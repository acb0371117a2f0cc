package store

import (
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// --- Source operations ---

func (s *Store) InsertSource(src *Source) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO sources (path, kind, hash, last_indexed) VALUES (?, ?, ?, ?)",
		src.Path, src.Kind, src.Hash, src.LastIndexed,
	)
	if err != nil {
		return 0, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	src.ID = id
	return id, nil
}

// UpdateSource records a new content hash and index time for a source.
func (s *Store) UpdateSource(src *Source) error {
	_, err := s.db.Exec(
		"UPDATE sources SET kind = ?, hash = ?, last_indexed = ? WHERE id = ?",
		src.Kind, src.Hash, src.LastIndexed, src.ID,
	)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return nil
}

func (s *Store) SourceByPath(path string) (*Source, error) {
	src := &Source{}
	var hash sql.NullString
	err := s.db.QueryRow(
		"SELECT id, path, kind, hash, last_indexed FROM sources WHERE path = ?", path,
	).Scan(&src.ID, &src.Path, &src.Kind, &hash, &src.LastIndexed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source by path: %w", err)
	}
	src.Hash = hash.String
	return src, nil
}

// Sources returns every indexed source ordered by path.
func (s *Store) Sources() ([]*Source, error) {
	rows, err := s.db.Query("SELECT id, path, kind, hash, last_indexed FROM sources ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	defer rows.Close()
	var out []*Source
	for rows.Next() {
		src := &Source{}
		var hash sql.NullString
		if err := rows.Scan(&src.ID, &src.Path, &src.Kind, &hash, &src.LastIndexed); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.Hash = hash.String
		out = append(out, src)
	}
	return out, rows.Err()
}

// --- Variable operations ---

func (s *Store) InsertVariable(v *Variable) (int64, error) {
	id, err := insertVariable(s.db, v)
	if err != nil {
		return 0, err
	}
	v.ID = id
	return id, nil
}

func insertVariable(ex execer, v *Variable) (int64, error) {
	if v.DefinitionHash == "" {
		hash, err := ComputeDefinitionHash(v)
		if err != nil {
			return 0, fmt.Errorf("insert variable: %w", err)
		}
		v.DefinitionHash = hash
	}
	def, err := marshalValue(v.Default)
	if err != nil {
		return 0, fmt.Errorf("insert variable %q: default: %w", v.Name, err)
	}
	res, err := ex.Exec(
		`INSERT INTO variables (source_id, name, formula, entity, period, value_type,
			default_value, label, definition_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SourceID, v.Name, v.Formula, v.Entity, v.Period, v.ValueType,
		def, v.Label, v.DefinitionHash,
	)
	if err != nil {
		return 0, fmt.Errorf("insert variable %q: %w", v.Name, err)
	}
	return res.LastInsertId()
}

const variableCols = `id, source_id, name, formula, entity, period, value_type,
	default_value, label, definition_hash`

// Duplicate definitions resolve to the source with the greatest path, then
// the last row inserted. The order does not depend on indexing history.
const (
	variablePrecedence  = "(SELECT path FROM sources WHERE sources.id = variables.source_id)"
	parameterPrecedence = "(SELECT path FROM sources WHERE sources.id = parameters.source_id)"
)

func scanVariable(scanner interface{ Scan(...any) error }) (*Variable, error) {
	v := &Variable{}
	var formula, entity, period, valueType, def, label, hash sql.NullString
	err := scanner.Scan(&v.ID, &v.SourceID, &v.Name, &formula, &entity, &period,
		&valueType, &def, &label, &hash)
	if err != nil {
		return nil, err
	}
	v.Formula, v.Entity, v.Period = formula.String, entity.String, period.String
	v.ValueType, v.Label, v.DefinitionHash = valueType.String, label.String, hash.String
	if v.Default, err = unmarshalValue(def.String); err != nil {
		return nil, fmt.Errorf("variable %q: default: %w", v.Name, err)
	}
	return v, nil
}

// VariableByName returns the winning definition of name, or nil when no
// source defines it.
func (s *Store) VariableByName(name string) (*Variable, error) {
	row := s.db.QueryRow("SELECT "+variableCols+" FROM variables WHERE name = ? ORDER BY "+
		variablePrecedence+" DESC, id DESC LIMIT 1", name)
	v, err := scanVariable(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("variable by name: %w", err)
	}
	return v, nil
}

// VariablesBySource returns the variables indexed from one source.
func (s *Store) VariablesBySource(sourceID int64) ([]*Variable, error) {
	rows, err := s.db.Query("SELECT "+variableCols+" FROM variables WHERE source_id = ? ORDER BY id", sourceID)
	if err != nil {
		return nil, fmt.Errorf("variables by source: %w", err)
	}
	defer rows.Close()
	var out []*Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VariableHashes maps every indexed variable name to the definition hash
// of its winning definition.
func (s *Store) VariableHashes() (map[string]string, error) {
	rows, err := s.db.Query("SELECT name, definition_hash FROM variables ORDER BY " + variablePrecedence + ", id")
	if err != nil {
		return nil, fmt.Errorf("variable hashes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name string
		var hash sql.NullString
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("scan variable hash: %w", err)
		}
		out[name] = hash.String
	}
	return out, rows.Err()
}

// VariableNames returns the distinct indexed variable names, sorted.
func (s *Store) VariableNames() ([]string, error) {
	return s.queryStrings("SELECT DISTINCT name FROM variables ORDER BY name")
}

// --- Parameter operations ---

func (s *Store) InsertParameter(p *Parameter) (int64, error) {
	id, err := insertParameter(s.db, p)
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

func insertParameter(ex execer, p *Parameter) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO parameters (source_id, path, description, reference, unit) VALUES (?, ?, ?, ?, ?)",
		p.SourceID, p.Path, p.Description, p.Reference, p.Unit,
	)
	if err != nil {
		return 0, fmt.Errorf("insert parameter %q: %w", p.Path, err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertParameterValue(pv *ParameterValue) (int64, error) {
	id, err := insertParameterValue(s.db, pv)
	if err != nil {
		return 0, err
	}
	pv.ID = id
	return id, nil
}

func insertParameterValue(ex execer, pv *ParameterValue) (int64, error) {
	val, err := marshalValue(pv.Value)
	if err != nil {
		return 0, fmt.Errorf("insert parameter value: %w", err)
	}
	res, err := ex.Exec(
		"INSERT INTO parameter_values (parameter_id, effective_from, value) VALUES (?, ?, ?)",
		pv.ParameterID, pv.EffectiveFrom, val,
	)
	if err != nil {
		return 0, fmt.Errorf("insert parameter value: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ParameterByPath(path string) (*Parameter, error) {
	p := &Parameter{}
	var desc, ref, unit sql.NullString
	err := s.db.QueryRow(
		"SELECT id, source_id, path, description, reference, unit FROM parameters WHERE path = ? ORDER BY "+
			parameterPrecedence+" DESC, id DESC LIMIT 1", path,
	).Scan(&p.ID, &p.SourceID, &p.Path, &desc, &ref, &unit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parameter by path: %w", err)
	}
	p.Description, p.Reference, p.Unit = desc.String, ref.String, unit.String
	return p, nil
}

// ParameterValues returns a parameter's value history ordered by
// effective date.
func (s *Store) ParameterValues(parameterID int64) ([]*ParameterValue, error) {
	rows, err := s.db.Query(
		"SELECT id, parameter_id, effective_from, value FROM parameter_values WHERE parameter_id = ? ORDER BY effective_from, id",
		parameterID,
	)
	if err != nil {
		return nil, fmt.Errorf("parameter values: %w", err)
	}
	defer rows.Close()
	var out []*ParameterValue
	for rows.Next() {
		pv := &ParameterValue{}
		var raw string
		if err := rows.Scan(&pv.ID, &pv.ParameterID, &pv.EffectiveFrom, &raw); err != nil {
			return nil, fmt.Errorf("scan parameter value: %w", err)
		}
		if pv.Value, err = unmarshalValue(raw); err != nil {
			return nil, fmt.Errorf("parameter value %d: %w", pv.ID, err)
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}

// ParameterPaths returns the distinct indexed parameter paths, sorted.
func (s *Store) ParameterPaths() ([]string, error) {
	return s.queryStrings("SELECT DISTINCT path FROM parameters ORDER BY path")
}

func (s *Store) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
