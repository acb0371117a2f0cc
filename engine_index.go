package pecompile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"sync"
	"time"

	"github.com/jward/pecompile/internal/ctxlog"
	"github.com/jward/pecompile/internal/ruleset"
	"github.com/jward/pecompile/internal/store"
)

// IndexResult summarizes one indexing run.
type IndexResult struct {
	Root       string   `json:"root"`
	Indexed    int      `json:"indexed"`
	Skipped    int      `json:"skipped"`
	Removed    int      `json:"removed"`
	Variables  int      `json:"variables"`
	Parameters int      `json:"parameters"`
	Changed    []string `json:"changed,omitempty"` // variables added or redefined
	Failed     []string `json:"failed,omitempty"`  // source paths that did not index
}

// indexItem holds everything a parsing worker needs.
type indexItem struct {
	file    ruleset.File
	content []byte
	source  *store.Source // real ID; Hash is the new content hash
	batch   *store.BatchedStore
	vars    int
	params  int
}

// IndexDirectory indexes the rule set under root into the store using a
// three-phase pipeline:
//
//	Phase A (serial):   Discover files, drop vanished ones, hash check, source records.
//	Phase B (parallel): Parse variable classes and parameter trees into batches.
//	Phase C (serial):   Commit each batch in one transaction.
//
// Unchanged files are skipped unless force is set. Errors on individual
// files are collected; the rest of the rule set still indexes.
func (e *Engine) IndexDirectory(ctx context.Context, root string, force bool) (*IndexResult, error) {
	if e.store == nil {
		return nil, errors.New("pecompile: index: no database open")
	}
	log := ctxlog.FromContext(ctx)
	start := time.Now()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}
	files, err := ruleset.Discover(os.DirFS(abs))
	if err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}
	result := &IndexResult{Root: abs}

	before, err := e.store.VariableHashes()
	if err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}

	// ---- Phase A: Serial preparation ----
	present := make([]string, len(files))
	for i, f := range files {
		present[i] = f.Path
	}
	stale, err := e.store.StaleSources(present)
	if err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}
	if len(stale) > 0 {
		paths := make([]string, len(stale))
		for i, s := range stale {
			paths[i] = s.Path
		}
		if err := e.store.DeleteSources(paths); err != nil {
			return nil, fmt.Errorf("pecompile: index: %w", err)
		}
		result.Removed = len(stale)
		log.Info("removed vanished sources", "count", len(stale))
	}

	var items []*indexItem
	for _, f := range files {
		item, skip, err := e.prepareSource(abs, f, force)
		if err != nil {
			return nil, fmt.Errorf("pecompile: prepare %s: %w", f.Path, err)
		}
		if skip {
			result.Skipped++
			continue
		}
		items = append(items, item)
	}

	// ---- Phase B: Parallel parsing ----
	numWorkers := 1
	if e.useParallel {
		numWorkers = max(1, min(goruntime.NumCPU(), len(items)))
	}

	workCh := make(chan *indexItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	type parsed struct {
		item *indexItem
		err  error
	}
	resultCh := make(chan parsed, len(items))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The BatchedStore per item handles write isolation.
			for item := range workCh {
				resultCh <- parsed{item: item, err: e.parseSource(ctx, item)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// ---- Phase C: Serial commit ----
	var errs []error
	for res := range resultCh {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", res.item.file.Path, res.err))
			result.Failed = append(result.Failed, res.item.file.Path)
			continue
		}
		res.item.source.LastIndexed = e.now()
		if err := e.store.CommitBatch(res.item.batch, []*store.Source{res.item.source}); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", res.item.file.Path, err))
			result.Failed = append(result.Failed, res.item.file.Path)
			continue
		}
		result.Indexed++
		result.Variables += res.item.vars
		result.Parameters += res.item.params
	}
	sort.Strings(result.Failed)

	after, err := e.store.VariableHashes()
	if err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}
	for name, hash := range after {
		if before[name] != hash {
			result.Changed = append(result.Changed, name)
		}
	}
	sort.Strings(result.Changed)

	if err := e.store.SetMeta(store.MetaRoot, abs); err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}
	if err := e.store.SetMeta(store.MetaIndexedAt, e.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("pecompile: index: %w", err)
	}

	log.Info("indexed rule set",
		"root", abs,
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"removed", result.Removed,
		"changed", len(result.Changed),
		"workers", numWorkers,
		"elapsed", time.Since(start))

	if len(errs) > 0 {
		return result, fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return result, nil
}

// prepareSource does Phase A work for one file: read, hash check and the
// source record. A new source is inserted without a hash so a failed parse
// or commit leaves it eligible for the next run; CommitBatch records the
// hash together with the rows.
func (e *Engine) prepareSource(root string, f ruleset.File, force bool) (*indexItem, bool, error) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
	if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}
	hash := store.HashContent(content)

	existing, err := e.store.SourceByPath(f.Path)
	if err != nil {
		return nil, false, fmt.Errorf("lookup source: %w", err)
	}
	if existing != nil && existing.Hash == hash && !force {
		return nil, true, nil // unchanged
	}

	id := int64(0)
	if existing != nil {
		id = existing.ID
	} else {
		id, err = e.store.InsertSource(&store.Source{Path: f.Path, Kind: f.Kind, LastIndexed: e.now()})
		if err != nil {
			return nil, false, err
		}
	}
	return &indexItem{
		file:    f,
		content: content,
		source:  &store.Source{ID: id, Path: f.Path, Kind: f.Kind, Hash: hash},
		batch:   store.NewBatchedStore(e.store),
	}, false, nil
}

// parseSource does Phase B work for one file, writing into its batch.
func (e *Engine) parseSource(ctx context.Context, item *indexItem) error {
	switch item.file.Kind {
	case ruleset.KindVariables:
		return e.parseVariables(ctx, item, item.batch)
	case ruleset.KindParameters:
		return parseParameters(item, item.batch)
	}
	return fmt.Errorf("unknown source kind %q", item.file.Kind)
}

func (e *Engine) parseVariables(ctx context.Context, item *indexItem, ds store.DataStore) error {
	vars, err := e.parser.ParseVariables(ctx, item.content)
	if err != nil {
		return err
	}
	log := ctxlog.FromContext(ctx)
	for _, v := range vars {
		if prev, err := ds.VariableByName(v.Name); err == nil && prev != nil && prev.SourceID != item.source.ID {
			log.Warn("variable redefined", "variable", v.Name, "source", item.file.Path, "line", v.Line)
		}
		if _, err := ds.InsertVariable(&store.Variable{
			SourceID:  item.source.ID,
			Name:      v.Name,
			Formula:   v.Formula,
			Entity:    v.Entity,
			Period:    v.Period,
			ValueType: v.ValueType,
			Default:   v.Default,
			Label:     v.Label,
		}); err != nil {
			return err
		}
		item.vars++
	}
	return nil
}

func parseParameters(item *indexItem, ds store.DataStore) error {
	params, err := ruleset.ParseParameters(item.file.Prefix, item.content)
	if err != nil {
		return err
	}
	for _, p := range params {
		id, err := ds.InsertParameter(&store.Parameter{
			SourceID:    item.source.ID,
			Path:        p.Path,
			Description: p.Description,
			Reference:   p.Reference,
			Unit:        p.Unit,
		})
		if err != nil {
			return err
		}
		for _, dv := range p.Values {
			if _, err := ds.InsertParameterValue(&store.ParameterValue{
				ParameterID:   id,
				EffectiveFrom: dv.From,
				Value:         dv.Value,
			}); err != nil {
				return err
			}
		}
		item.params++
	}
	return nil
}

// IndexedRoot reports the directory the store was last indexed from.
func (e *Engine) IndexedRoot() (string, error) {
	if e.store == nil {
		return "", nil
	}
	return e.store.Meta(store.MetaRoot)
}
