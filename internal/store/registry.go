package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jward/pecompile/internal/graph"
	"github.com/jward/pecompile/internal/registry"
)

// Compile-time check: *Store answers compiler queries.
var _ registry.Registry = (*Store)(nil)

// Variable implements registry.Registry.
func (s *Store) Variable(ctx context.Context, name string) (*registry.Definition, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+variableCols+" FROM variables WHERE name = ? ORDER BY "+variablePrecedence+" DESC, id DESC LIMIT 1", name)
	v, err := scanVariable(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: variable %q: %w", name, err)
	}
	return &registry.Definition{
		Name:      v.Name,
		Formula:   v.Formula,
		Entity:    v.Entity,
		Period:    v.Period,
		ValueType: v.ValueType,
		Default:   v.Default,
		Label:     v.Label,
	}, nil
}

// Parameter implements registry.Registry. The value in force on date is
// the one with the latest effective_from not after it. An unknown path
// falls back to the lexicographically first indexed path ending in
// "."+path.
func (s *Store) Parameter(ctx context.Context, path, date string) (*graph.ParameterValue, error) {
	var (
		id              int64
		desc, ref, unit sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, description, reference, unit FROM parameters WHERE path = ? ORDER BY "+
			parameterPrecedence+" DESC, id DESC LIMIT 1", path,
	).Scan(&id, &desc, &ref, &unit)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx,
			`SELECT id, description, reference, unit FROM parameters
			 WHERE path LIKE ? ESCAPE '\' ORDER BY path, `+parameterPrecedence+` DESC, id DESC LIMIT 1`,
			"%."+likeEscape(path),
		).Scan(&id, &desc, &ref, &unit)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: parameter %q: %w", path, err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM parameter_values
		 WHERE parameter_id = ? AND effective_from <= ?
		 ORDER BY effective_from DESC, id DESC LIMIT 1`,
		id, date,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: parameter %q at %s: %w", path, date, err)
	}
	value, err := unmarshalValue(raw)
	if err != nil {
		return nil, fmt.Errorf("store: parameter %q at %s: %w", path, date, err)
	}
	return &graph.ParameterValue{
		Path:        path,
		Value:       value,
		Description: desc.String,
		Reference:   ref.String,
		Unit:        unit.String,
	}, nil
}
