package op

import (
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Reader is a terminal node holding its own read-optimized replica of its
// parent's output, materialized independently of any downstream consumer
// (spec.md §4.2). It performs no transform: every arriving batch is its own
// output, keyed for external lookup by indexCols.
type Reader struct {
	self      graph.Address
	parent    graph.Address
	columns   int
	indexCols []int
}

// NewReader builds a reader over parent, indexed by indexCols for external
// point queries (package reader provides the lock-free read path itself).
func NewReader(self, parent graph.Address, columns int, indexCols []int) *Reader {
	if len(indexCols) == 0 {
		indexCols = []int{0}
	}
	return &Reader{self: self, parent: parent, columns: columns, indexCols: indexCols}
}

func (rd *Reader) Kind() graph.Kind         { return graph.KindReader }
func (rd *Reader) Columns() int             { return rd.columns }
func (rd *Reader) Parents() []graph.Address { return []graph.Address{rd.parent} }

func (rd *Reader) OnInput(_ graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	return b, nil
}

// PointQuery is never invoked: a reader is always materialized and is read
// directly through package reader's lock-free handle.
func (rd *Reader) PointQuery(record.Query, Resolver) ([]record.Tuple, error) {
	return nil, nil
}

func (rd *Reader) SuggestIndices() []IndexSuggestion {
	return []IndexSuggestion{{Node: rd.self, Cols: rd.indexCols}}
}

func (rd *Reader) Resolve(col int) []ColumnOrigin {
	return []ColumnOrigin{{Node: rd.parent, Column: col}}
}

func (rd *Reader) WillQuery(bool) bool { return false }

// IndexColumns returns the columns this reader is keyed by.
func (rd *Reader) IndexColumns() []int { return append([]int(nil), rd.indexCols...) }
