package store

import (
	"fmt"
	"time"
)

// CommitBatch inserts all buffered data from a BatchedStore into SQLite
// within a single transaction. Fake (negative) IDs are remapped to real
// IDs, and parameter values are rewritten to point at their parameter's
// real ID.
//
// Sources listed in replace have their previous rows deleted in the same
// transaction, so a re-indexed file never shows both old and new rows.
//
// Insert order respects FK dependencies:
//  1. Variables (depend on source_id only, which is already real)
//  2. Parameters (depend on source_id)
//  3. ParameterValues (depend on parameter_id)
func (s *Store) CommitBatch(batch *BatchedStore, replace []*Source) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for _, src := range replace {
		if err := deleteSourceDataTx(tx, src.ID); err != nil {
			return fmt.Errorf("commit batch: %s: %w", src.Path, err)
		}
		if src.LastIndexed.IsZero() {
			src.LastIndexed = time.Now()
		}
		if _, err := tx.Exec(
			"UPDATE sources SET kind = ?, hash = ?, last_indexed = ? WHERE id = ?",
			src.Kind, src.Hash, src.LastIndexed, src.ID,
		); err != nil {
			return fmt.Errorf("commit batch: update source %s: %w", src.Path, err)
		}
	}

	fakeToReal := make(map[int64]int64)

	// 1. Variables
	for _, v := range batch.Variables {
		realID, err := insertVariable(tx, &v)
		if err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		fakeToReal[v.ID] = realID
	}

	// 2. Parameters
	for _, p := range batch.Parameters {
		realID, err := insertParameter(tx, &p)
		if err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		fakeToReal[p.ID] = realID
	}

	// 3. ParameterValues
	for _, pv := range batch.ParameterValues {
		if pv.ParameterID < 0 {
			realID, ok := fakeToReal[pv.ParameterID]
			if !ok {
				return fmt.Errorf("commit batch: parameter value has parameter_id=%d not in fakeToReal map (have %d parameters)", pv.ParameterID, len(batch.Parameters))
			}
			pv.ParameterID = realID
		}
		if _, err := insertParameterValue(tx, &pv); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
