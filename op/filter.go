package op

import (
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Filter applies a conjunctive predicate over a single ancestor and emits
// the matching subset, preserving sign and timestamp. Stateless: it
// forwards point queries to its ancestor with the predicate conditions
// joined to the caller's (spec.md §4.2).
type Filter struct {
	parent      graph.Address
	columns     int
	conditions  []record.Condition
}

// NewFilter builds a filter over parent with the given predicate.
func NewFilter(parent graph.Address, columns int, conditions []record.Condition) *Filter {
	return &Filter{parent: parent, columns: columns, conditions: conditions}
}

func (f *Filter) Kind() graph.Kind         { return graph.KindFilter }
func (f *Filter) Columns() int             { return f.columns }
func (f *Filter) Parents() []graph.Address { return []graph.Address{f.parent} }

func (f *Filter) OnInput(from graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	out := make([]record.Record, 0, len(b.Records))
	for _, r := range b.Records {
		if record.Query{Conditions: f.conditions}.Matches(r.Row) {
			out = append(out, r)
		}
	}
	return record.Batch{Edge: b.Edge, Records: out, Timestamp: b.Timestamp}, nil
}

func (f *Filter) PointQuery(q record.Query, r Resolver) ([]record.Tuple, error) {
	forwarded := q.WithConditions(f.conditions...)
	return r.Query(f.parent, forwarded)
}

// SuggestIndices hints that the ancestor should be indexed on this filter's
// equality-constrained columns, so a point query against the filter can be
// answered by a single ancestor lookup rather than a scan.
func (f *Filter) SuggestIndices() []IndexSuggestion {
	var cols []int
	for _, c := range f.conditions {
		if c.Cmp == record.Eq {
			cols = append(cols, c.Column)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	return []IndexSuggestion{{Node: f.parent, Cols: cols}}
}

func (f *Filter) Resolve(col int) []ColumnOrigin {
	return []ColumnOrigin{{Node: f.parent, Column: col}}
}

// WillQuery forwards to its ancestor whenever it is not itself
// materialized — the common case, since filter carries no state.
func (f *Filter) WillQuery(materialized bool) bool { return !materialized }
