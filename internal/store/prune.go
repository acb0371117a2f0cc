package store

import "fmt"

// StaleSources returns indexed sources whose paths are not in present.
func (s *Store) StaleSources(present []string) ([]*Source, error) {
	all, err := s.Sources()
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(present))
	for _, p := range present {
		keep[p] = true
	}
	var stale []*Source
	for _, src := range all {
		if !keep[src.Path] {
			stale = append(stale, src)
		}
	}
	return stale, nil
}

// DeleteSources removes sources and every row indexed from them.
func (s *Store) DeleteSources(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := placeholderList(len(paths))
	args := stringsToArgs(paths)
	sub := "(SELECT id FROM sources WHERE path IN (" + placeholders + "))"
	for _, q := range []string{
		"DELETE FROM parameter_values WHERE parameter_id IN (SELECT id FROM parameters WHERE source_id IN " + sub + ")",
		"DELETE FROM parameters WHERE source_id IN " + sub,
		"DELETE FROM variables WHERE source_id IN " + sub,
		"DELETE FROM sources WHERE path IN (" + placeholders + ")",
	} {
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("delete sources: %w", err)
		}
	}
	return tx.Commit()
}
