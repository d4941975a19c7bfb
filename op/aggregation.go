package op

import (
	"sync"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// AggKind selects the aggregate function.
type AggKind uint8

const (
	Count AggKind = iota
	Sum
)

type groupState struct {
	row     record.Tuple
	present bool
	count   int64
	agg     int64
}

// Aggregation groups a single ancestor's rows by a list of group-by
// columns and produces (group..., aggregate) rows, materialized (spec.md
// §4.2). It tracks each group's live row count internally so a Sum whose
// running total happens to cross zero is not confused with the group
// itself becoming empty.
type Aggregation struct {
	self      graph.Address
	parent    graph.Address
	groupCols []int
	kind      AggKind
	sumCol    int

	mu     sync.Mutex
	groups map[string]*groupState
}

// NewAggregation builds an aggregation over parent grouped by groupCols.
// sumCol is ignored when kind is Count.
func NewAggregation(self, parent graph.Address, groupCols []int, kind AggKind, sumCol int) *Aggregation {
	return &Aggregation{
		self:      self,
		parent:    parent,
		groupCols: groupCols,
		kind:      kind,
		sumCol:    sumCol,
		groups:    make(map[string]*groupState),
	}
}

func (a *Aggregation) Kind() graph.Kind         { return graph.KindAggregation }
func (a *Aggregation) Columns() int             { return len(a.groupCols) + 1 }
func (a *Aggregation) Parents() []graph.Address { return []graph.Address{a.parent} }

func (a *Aggregation) groupKey(row record.Tuple) (record.Tuple, string) {
	key := row.Project(a.groupCols)
	return key, key.Key(allCols(len(key)))
}

func allCols(n int) []int {
	cols := make([]int, n)
	for i := range cols {
		cols[i] = i
	}
	return cols
}

func (a *Aggregation) buildRow(key record.Tuple, agg int64) record.Tuple {
	row := make(record.Tuple, 0, len(key)+1)
	row = append(row, key...)
	row = append(row, record.Int(agg))
	return row
}

// OnInput absorbs each input record in order, emitting a negative-of-old /
// positive-of-new pair per group touched, or a bare negative when the
// group's live count falls to zero (spec.md §4.2).
func (a *Aggregation) OnInput(from graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []record.Record
	for _, rec := range b.Records {
		key, k := a.groupKey(rec.Row)
		st, ok := a.groups[k]
		if !ok {
			st = &groupState{}
			a.groups[k] = st
		}

		var delta int64
		switch a.kind {
		case Count:
			delta = int64(rec.Sign)
		case Sum:
			delta = int64(rec.Sign) * rec.Row[a.sumCol].Int64()
		}

		if st.present {
			out = append(out, record.NewNegative(st.row, rec.Timestamp))
		}

		st.count += int64(rec.Sign)
		if a.kind == Count {
			st.agg = st.count
		} else {
			st.agg += delta
		}

		if st.count == 0 {
			st.present = false
			delete(a.groups, k)
			continue
		}
		st.row = a.buildRow(key, st.agg)
		st.present = true
		out = append(out, record.NewPositive(st.row, rec.Timestamp))
	}
	if len(out) == 0 {
		return record.Batch{}, nil
	}
	return record.Batch{Edge: b.Edge, Records: out, Timestamp: b.Timestamp}, nil
}

// PointQuery is never invoked directly: aggregation is always materialized
// and reads are answered from its store.
func (a *Aggregation) PointQuery(record.Query, Resolver) ([]record.Tuple, error) {
	return nil, nil
}

// SuggestIndices asks for an index on itself keyed by the group-by
// columns, the lookup aggregation performs on every input record.
func (a *Aggregation) SuggestIndices() []IndexSuggestion {
	return []IndexSuggestion{{Node: a.self, Cols: a.groupCols}}
}

func (a *Aggregation) Resolve(col int) []ColumnOrigin {
	if col < len(a.groupCols) {
		return []ColumnOrigin{{Node: a.parent, Column: a.groupCols[col]}}
	}
	// The aggregate column is synthesized; it has no single ancestor origin.
	return nil
}

// WillQuery is always false: aggregation answers reads from its own
// materialized state, never by querying its ancestor.
func (a *Aggregation) WillQuery(bool) bool { return false }
