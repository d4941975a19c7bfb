// Package reader implements the external read path for a Reader node: a
// lock-free concurrent map kept fresh by applying the batches the owning
// domain copies to the node's Sink, separate from a domain's mutex-guarded
// store so that external readers never block on the writer side (spec.md §9's
// design note on reader/writer ownership).
package reader

import (
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/flowengine/flowengine/record"
)

// Handle is the read replica for one Reader node. It is safe for
// concurrent use by many readers and exactly one writer (the domain that
// owns the node).
type Handle struct {
	keyCols []int
	rows    cmap.ConcurrentMap[string, []record.Tuple]
	epoch   atomic.Uint64
}

// New builds an empty handle keyed by keyCols (the Reader's index
// columns, spec.md §4.2's Reader kind).
func New(keyCols []int) *Handle {
	return &Handle{keyCols: keyCols, rows: cmap.New[[]record.Tuple]()}
}

// Apply absorbs a batch into the read replica: positives are appended
// under their key, negatives remove exactly one matching tuple. Unlike
// package store's Apply, a missing retraction target is tolerated rather
// than fatal — the replica may briefly lag the domain's own state between
// an operator's internal update and this handle's refresh, and a reader
// racing that window should see a stale-but-consistent snapshot rather
// than crash the process.
func (h *Handle) Apply(b record.Batch) {
	for _, r := range b.Records {
		key := r.Row.Key(h.keyCols)
		switch r.Sign {
		case record.Positive:
			h.rows.Upsert(key, nil, func(exists bool, cur []record.Tuple, _ []record.Tuple) []record.Tuple {
				return append(cur, r.Row.Clone())
			})
		case record.Negative:
			h.rows.Upsert(key, nil, func(exists bool, cur []record.Tuple, _ []record.Tuple) []record.Tuple {
				for i, row := range cur {
					if row.Equal(r.Row) {
						cur[i] = cur[len(cur)-1]
						return cur[:len(cur)-1]
					}
				}
				return cur
			})
			if rows, ok := h.rows.Get(key); ok && len(rows) == 0 {
				h.rows.Remove(key)
			}
		}
	}
	if b.Timestamp > h.epoch.Load() {
		h.epoch.Store(b.Timestamp)
	}
}

// Seed bulk-loads an existing snapshot (e.g. a node's materialized store at
// the moment its streaming replica is first attached) without going
// through Apply's per-record batching.
func (h *Handle) Seed(rows []record.Tuple, epoch uint64) {
	for _, row := range rows {
		key := row.Key(h.keyCols)
		h.rows.Upsert(key, nil, func(exists bool, cur []record.Tuple, _ []record.Tuple) []record.Tuple {
			return append(cur, row.Clone())
		})
	}
	if epoch > h.epoch.Load() {
		h.epoch.Store(epoch)
	}
}

// Lookup returns the rows stored under key and the replica's current
// epoch, without ever taking a lock shared with a concurrent Apply. key
// is already the projection onto keyCols (its own columns 0..len(key)-1
// line up with keyCols positionally), matching the convention package
// store's Index.lookup uses for the same reason.
func (h *Handle) Lookup(key record.Tuple) ([]record.Tuple, uint64) {
	rows, _ := h.rows.Get(key.Key(allColumns(len(key))))
	out := make([]record.Tuple, len(rows))
	copy(out, rows)
	return out, h.epoch.Load()
}

func allColumns(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// All returns every row currently held, snapshotting across the whole map.
func (h *Handle) All() []record.Tuple {
	var out []record.Tuple
	for item := range h.rows.IterBuffered() {
		out = append(out, item.Val...)
	}
	return out
}

// Epoch returns the largest timestamp this replica has absorbed.
func (h *Handle) Epoch() uint64 { return h.epoch.Load() }

// Len returns the number of distinct keys currently held.
func (h *Handle) Len() int { return h.rows.Count() }
