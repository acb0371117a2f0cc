package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite rule-set registry: variable definitions, parameter
// trees with dated values, and the source files they were indexed from.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sources (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  kind            TEXT NOT NULL,
  hash            TEXT,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS variables (
  id              INTEGER PRIMARY KEY,
  source_id       INTEGER REFERENCES sources(id),
  name            TEXT NOT NULL,
  formula         TEXT,
  entity          TEXT,
  period          TEXT,
  value_type      TEXT,
  default_value   TEXT,
  label           TEXT,
  definition_hash TEXT
);

CREATE TABLE IF NOT EXISTS parameters (
  id              INTEGER PRIMARY KEY,
  source_id       INTEGER REFERENCES sources(id),
  path            TEXT NOT NULL,
  description     TEXT,
  reference       TEXT,
  unit            TEXT
);

CREATE TABLE IF NOT EXISTS parameter_values (
  id              INTEGER PRIMARY KEY,
  parameter_id    INTEGER NOT NULL REFERENCES parameters(id),
  effective_from  TEXT NOT NULL,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

CREATE INDEX IF NOT EXISTS idx_sources_kind ON sources(kind);
CREATE INDEX IF NOT EXISTS idx_variables_name ON variables(name);
CREATE INDEX IF NOT EXISTS idx_variables_source ON variables(source_id);
CREATE INDEX IF NOT EXISTS idx_parameters_path ON parameters(path);
CREATE INDEX IF NOT EXISTS idx_parameters_source ON parameters(source_id);
CREATE INDEX IF NOT EXISTS idx_parameter_values_param ON parameter_values(parameter_id, effective_from);
`

// DeleteSourceData transactionally removes every row indexed from a source
// file, leaving the sources row itself in place. Deletes in
// reverse-dependency order to respect FK constraints.
func (s *Store) DeleteSourceData(sourceID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteSourceDataTx(tx, sourceID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteSourceDataTx(tx *sql.Tx, sourceID int64) error {
	for _, q := range []string{
		"DELETE FROM parameter_values WHERE parameter_id IN (SELECT id FROM parameters WHERE source_id = ?)",
		"DELETE FROM parameters WHERE source_id = ?",
		"DELETE FROM variables WHERE source_id = ?",
	} {
		if _, err := tx.Exec(q, sourceID); err != nil {
			return fmt.Errorf("delete source data: %w", err)
		}
	}
	return nil
}
