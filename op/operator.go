// Package op implements the operator catalogue of spec.md §4.2: the delta
// transforms and point-query handlers for every node kind that owns
// relational semantics (base, filter, union, aggregation, latest-per-group,
// join). Ingress, egress and reader are pure conduits/sinks and are defined
// here too so the domain runtime can treat every node uniformly.
package op

import (
	"fmt"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

// Resolver lets an operator query another node's current output without
// caring whether that node is materialized (answered directly from its
// store) or stateless (answered by recursing into that node's own
// operator). domain.Domain supplies the concrete implementation.
type Resolver interface {
	Query(addr graph.Address, q record.Query) ([]record.Tuple, error)

	// Epoch returns the largest timestamp addr's state has absorbed,
	// used by Join to approximate the timestamp of a matched row on the
	// side it merely looked up rather than received as input.
	Epoch(addr graph.Address) uint64
}

// IndexSuggestion names a column set an operator wants indexed, either on
// itself (if materialized) or on an ancestor.
type IndexSuggestion struct {
	Node graph.Address
	Cols []int
}

// ColumnOrigin traces one hop of a column's provenance: the ancestor node
// and the column within that ancestor's schema that produced it.
type ColumnOrigin struct {
	Node   graph.Address
	Column int
}

// Operator is the shared contract every non-conduit node kind implements,
// per spec.md §4.2.
type Operator interface {
	// Kind reports which operator catalogue entry this is.
	Kind() graph.Kind

	// Columns reports the width of this operator's output schema.
	Columns() int

	// Parents lists the ancestor addresses this operator reads from, in a
	// stable, operator-defined order (e.g. join's [left, right]).
	Parents() []graph.Address

	// OnInput computes the downstream delta produced by an input batch
	// arriving on the edge from the given ancestor. It may consult r to
	// read ancestor or its own materialized state. Returns an empty batch
	// (Empty() == true) to emit nothing.
	OnInput(from graph.Address, b record.Batch, r Resolver) (record.Batch, error)

	// PointQuery answers a conjunctive query against this operator's
	// output without relying on its own materialized state (used only
	// when the operator is not materialized; materialized nodes are
	// answered directly from their store by the caller).
	PointQuery(q record.Query, r Resolver) ([]record.Tuple, error)

	// SuggestIndices lists the index column sets this operator needs,
	// each attributed to the node (self or ancestor) that should hold it.
	SuggestIndices() []IndexSuggestion

	// Resolve traces an output column back one hop toward its origin(s).
	// Most operators return exactly one origin; Union may return several
	// (one per ancestor whose emit list produces this output column).
	Resolve(col int) []ColumnOrigin

	// WillQuery reports whether this operator, given whether it is
	// itself materialized, issues point queries against its ancestors to
	// answer reads. Stateless operators query through when not
	// materialized; materialized operators answer from their own state.
	WillQuery(materialized bool) bool
}

// PrimaryKind reports the store.Kind an operator's own primary index
// should use: Unique for a node that holds exactly one row per key (a
// Base's primary key, a Latest's group key), Grouped for every other
// node kind, whose primary index may hold several rows under the same
// key (spec.md §9.1's Unique/Grouped distinction).
func PrimaryKind(o Operator) store.Kind {
	switch o.(type) {
	case *Base, *Latest:
		return store.Unique
	default:
		return store.Grouped
	}
}

// ConfigError reports an operator misconfigured at construction time —
// a union emit list that reorders columns, a join with mismatched key
// column counts, and the like (spec.md §7, Configuration errors).
type ConfigError struct {
	Op  string
	Msg string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("op: %s: %s", e.Op, e.Msg) }

func configErrorf(op, format string, args ...any) error {
	return &ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)}
}
