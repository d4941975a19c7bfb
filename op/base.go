package op

import (
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Base owns a table fed directly by writers; it is the only operator with
// no ancestors. It is always materialized with a primary-key index, per
// spec.md §4.2.
type Base struct {
	self       graph.Address
	columns    int
	primaryKey []int
}

// NewBase builds a base table node at self with the given column width. If
// primaryKey is empty, column 0 is used, matching the planner's default
// (spec.md §4.5, rule 3).
func NewBase(self graph.Address, columns int, primaryKey []int) *Base {
	if len(primaryKey) == 0 {
		primaryKey = []int{0}
	}
	return &Base{self: self, columns: columns, primaryKey: primaryKey}
}

func (b *Base) Kind() graph.Kind       { return graph.KindBase }
func (b *Base) Columns() int           { return b.columns }
func (b *Base) Parents() []graph.Address { return nil }

// OnInput passes an arriving batch through unchanged. Base nodes receive
// their input from the writer path (see package flowengine), not from an
// ancestor edge: the writer addresses a message to the base node itself, and
// the domain runtime calls OnInput on it like on any other node.
func (b *Base) OnInput(_ graph.Address, in record.Batch, _ Resolver) (record.Batch, error) {
	return in, nil
}

// PointQuery is never invoked: a base node is always materialized, so reads
// are answered directly from its store.
func (b *Base) PointQuery(record.Query, Resolver) ([]record.Tuple, error) {
	return nil, nil
}

func (b *Base) SuggestIndices() []IndexSuggestion {
	return []IndexSuggestion{{Node: b.self, Cols: b.primaryKey}}
}

func (b *Base) Resolve(col int) []ColumnOrigin {
	return []ColumnOrigin{{Node: b.self, Column: col}}
}

// WillQuery is always false: a base node has no ancestors to query.
func (b *Base) WillQuery(bool) bool { return false }

// PrimaryKey returns the configured primary-key columns.
func (b *Base) PrimaryKey() []int { return append([]int(nil), b.primaryKey...) }
