package store

import (
	"database/sql"
	"fmt"
)

// Metadata keys written by indexing.
const (
	MetaRoot      = "root"
	MetaIndexedAt = "indexed_at"
)

// SetMeta stores a key/value pair, replacing any previous value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

// Meta returns the value stored under key, or "" when unset.
func (s *Store) Meta(key string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta %q: %w", key, err)
	}
	return v.String, nil
}

// Counts reports how many variables, parameters and sources are indexed.
func (s *Store) Counts() (variables, parameters, sources int, err error) {
	err = s.db.QueryRow(`SELECT
		(SELECT COUNT(DISTINCT name) FROM variables),
		(SELECT COUNT(DISTINCT path) FROM parameters),
		(SELECT COUNT(*) FROM sources)`).Scan(&variables, &parameters, &sources)
	if err != nil {
		err = fmt.Errorf("counts: %w", err)
	}
	return
}
