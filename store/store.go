// Package store implements the per-node materialized state: an indexed bag
// of tuples carrying a monotonic epoch timestamp, the state store of
// spec.md §4.1.
package store

import (
	"fmt"
	"sync"

	"github.com/flowengine/flowengine/record"
)

// Kind distinguishes an index that holds at most one tuple per key (a
// primary-key style index) from one that holds a group of tuples per key.
// Grounded on the distinction the original Rust backlog draws between a
// single-row and a multi-row `Map` (see SPEC_FULL.md §9.1).
type Kind uint8

const (
	Unique Kind = iota
	Grouped
)

// Index maps a projection of columns to the tuples sharing that projection.
type Index struct {
	Cols []int
	Kind Kind

	mu   sync.RWMutex
	data map[string][]record.Tuple
}

func newIndex(cols []int, kind Kind) *Index {
	return &Index{Cols: cols, Kind: kind, data: make(map[string][]record.Tuple)}
}

func (ix *Index) insert(row record.Tuple) error {
	key := row.Key(ix.Cols)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.Kind == Unique {
		if existing, ok := ix.data[key]; ok && len(existing) > 0 {
			return fmt.Errorf("store: duplicate key under unique index on columns %v", ix.Cols)
		}
	}
	ix.data[key] = append(ix.data[key], row.Clone())
	return nil
}

// remove deletes exactly one tuple matching row under this index's key,
// panicking if none is found — a retraction of a tuple never inserted is a
// Data-kind error (spec.md §7), fatal by design.
func (ix *Index) remove(row record.Tuple) {
	key := row.Key(ix.Cols)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows, ok := ix.data[key]
	if !ok {
		panic(fmt.Sprintf("store: retraction of tuple %v not present under index on columns %v", []record.Value(row), ix.Cols))
	}
	for i, r := range rows {
		if r.Equal(row) {
			rows[i] = rows[len(rows)-1]
			rows = rows[:len(rows)-1]
			if len(rows) == 0 {
				delete(ix.data, key)
			} else {
				ix.data[key] = rows
			}
			return
		}
	}
	panic(fmt.Sprintf("store: retraction of tuple %v not present under index on columns %v", []record.Value(row), ix.Cols))
}

// lookup returns a snapshot slice of the tuples under key. The returned
// slice is safe for the caller to retain; it is never mutated in place.
func (ix *Index) lookup(key record.Tuple) []record.Tuple {
	k := key.Key(allColumns(len(key)))
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rows := ix.data[k]
	out := make([]record.Tuple, len(rows))
	copy(out, rows)
	return out
}

func allColumns(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// all returns every tuple currently in the index, used for full scans (base
// table replay source iteration, table dumps).
func (ix *Index) all() []record.Tuple {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []record.Tuple
	for _, rows := range ix.data {
		out = append(out, rows...)
	}
	return out
}

// Store is the materialized state of one node: a primary index plus zero or
// more secondary indices, all kept consistent by apply, and a single epoch
// timestamp advanced atomically with each applied batch.
type Store struct {
	mu       sync.RWMutex
	epoch    uint64
	primary  *Index
	indices  map[string]*Index // keyed by a stable string built from Cols
	rowCount int
}

// New creates an empty store whose primary index is keyed by primaryCols.
func New(primaryCols []int, primaryKind Kind) *Store {
	s := &Store{indices: make(map[string]*Index)}
	s.primary = newIndex(primaryCols, primaryKind)
	s.indices[indexKey(primaryCols)] = s.primary
	return s
}

func indexKey(cols []int) string {
	return fmt.Sprintf("%v", cols)
}

// AddIndex builds a new secondary index over the store's current contents.
// Used during migration when a previously index-less node becomes
// materialized with additional indices (spec.md §4.1, add_index).
func (s *Store) AddIndex(cols []int, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := indexKey(cols)
	if _, ok := s.indices[k]; ok {
		return
	}
	ix := newIndex(cols, kind)
	for _, row := range s.primary.all() {
		// AddIndex runs against already-consistent state; an error here
		// would indicate the existing contents violate the new index's
		// uniqueness, which is a configuration mistake by the caller.
		if err := ix.insert(row); err != nil {
			panic(fmt.Sprintf("store: AddIndex: %v", err))
		}
	}
	s.indices[k] = ix
}

// HasIndex reports whether the store already maintains an index over cols.
func (s *Store) HasIndex(cols []int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indices[indexKey(cols)]
	return ok
}

// Apply absorbs a batch: every Positive record is inserted into all
// indices, every Negative removes exactly one matching tuple (panicking if
// absent, per spec.md §7). The store's epoch advances to the batch's
// timestamp once every record has been applied.
func (s *Store) Apply(b record.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range b.Records {
		switch r.Sign {
		case record.Positive:
			for _, ix := range s.indices {
				if err := ix.insert(r.Row); err != nil {
					panic(fmt.Sprintf("store: Apply: %v", err))
				}
			}
			s.rowCount++
		case record.Negative:
			for _, ix := range s.indices {
				ix.remove(r.Row)
			}
			s.rowCount--
		}
	}
	if b.Timestamp > s.epoch {
		s.epoch = b.Timestamp
	}
}

// Seed bulk-loads rows directly into every index without going through
// Apply's per-record bookkeeping or epoch advancement beyond the final
// value; used by the replay path (package domain, driven by package
// migrate) to install a reconstructed snapshot. See SPEC_FULL.md §9.1.
func (s *Store) Seed(rows []record.Tuple, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		for _, ix := range s.indices {
			if err := ix.insert(row); err != nil {
				panic(fmt.Sprintf("store: Seed: %v", err))
			}
		}
		s.rowCount++
	}
	if epoch > s.epoch {
		s.epoch = epoch
	}
}

// Lookup returns the tuples whose projection on cols equals key, and the
// store's current epoch. If no index exists over cols, Lookup returns an
// empty result — callers (operators) are expected to have had the
// materialization planner provision the index they need.
func (s *Store) Lookup(cols []int, key record.Tuple) ([]record.Tuple, uint64) {
	s.mu.RLock()
	ix, ok := s.indices[indexKey(cols)]
	epoch := s.epoch
	s.mu.RUnlock()
	if !ok {
		return nil, epoch
	}
	return ix.lookup(key), epoch
}

// All returns every tuple in the primary index and the current epoch, used
// for full-table scans (replay source iteration, debugging).
func (s *Store) All() ([]record.Tuple, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary.all(), s.epoch
}

// Epoch returns the largest timestamp the store has absorbed.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Len returns the number of live tuples in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowCount
}

// PrimaryColumns returns the columns of the store's primary index.
func (s *Store) PrimaryColumns() []int {
	return s.primary.Cols
}
