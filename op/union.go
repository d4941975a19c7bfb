package op

import (
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Union combines several ancestors into one schema, stateless and
// "vertical": each ancestor contributes one output row per input row via
// its own emit list, a list of ancestor column indices, one per union
// output column. Emit lists may only drop columns, never reorder them
// (spec.md §4.2's union projection invariant).
type Union struct {
	columns int
	parents []graph.Address
	emit    map[graph.Address][]int
}

// NewUnion builds a union over the given parents, each keyed to its emit
// list (len(emit[p]) must equal columns, and the list's values must be
// strictly increasing). Returns a ConfigError if any emit list violates
// the monotonicity invariant.
func NewUnion(columns int, parents []graph.Address, emit map[graph.Address][]int) (*Union, error) {
	for _, p := range parents {
		list, ok := emit[p]
		if !ok {
			return nil, configErrorf("NewUnion", "no emit list for ancestor %s", p)
		}
		if len(list) != columns {
			return nil, configErrorf("NewUnion", "ancestor %s emit list has %d columns, want %d", p, len(list), columns)
		}
		for i := 1; i < len(list); i++ {
			if list[i] <= list[i-1] {
				return nil, configErrorf("NewUnion", "ancestor %s emit list is not strictly increasing at position %d", p, i)
			}
		}
	}
	return &Union{columns: columns, parents: append([]graph.Address(nil), parents...), emit: emit}, nil
}

func (u *Union) Kind() graph.Kind         { return graph.KindUnion }
func (u *Union) Columns() int             { return u.columns }
func (u *Union) Parents() []graph.Address { return append([]graph.Address(nil), u.parents...) }

func (u *Union) OnInput(from graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	list, ok := u.emit[from]
	if !ok {
		return record.Batch{}, configErrorf("Union.OnInput", "input from unrecognized ancestor %s", from)
	}
	out := make([]record.Record, len(b.Records))
	for i, r := range b.Records {
		out[i] = record.Record{Row: r.Row.Project(list), Sign: r.Sign, Timestamp: r.Timestamp}
	}
	return record.Batch{Edge: b.Edge, Records: out, Timestamp: b.Timestamp}, nil
}

// PointQuery forwards the query to every ancestor, remapping conditions
// through each ancestor's emit list, and concatenates the results.
func (u *Union) PointQuery(q record.Query, r Resolver) ([]record.Tuple, error) {
	var out []record.Tuple
	for _, p := range u.parents {
		list := u.emit[p]
		colMap := make(map[int]int, len(list))
		for outCol, ancCol := range list {
			colMap[outCol] = ancCol
		}
		forwarded, ok := q.Remap(colMap)
		if !ok {
			// A condition on an output column this ancestor's emit list
			// happens not to reference can't be remapped; fall back to an
			// unconstrained query against that ancestor and filter locally.
			forwarded = record.Query{}
		}
		rows, err := r.Query(p, forwarded)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			proj := row.Project(list)
			if out2, ok := q.Apply(proj); ok {
				out = append(out, out2)
			}
		}
	}
	return out, nil
}

// SuggestIndices is empty: union is a pure passthrough and suggests no
// indices of its own; any index requirement comes from downstream of it.
func (u *Union) SuggestIndices() []IndexSuggestion { return nil }

// Resolve returns one origin per ancestor, since every ancestor's emit list
// can produce the same output column.
func (u *Union) Resolve(col int) []ColumnOrigin {
	out := make([]ColumnOrigin, 0, len(u.parents))
	for _, p := range u.parents {
		out = append(out, ColumnOrigin{Node: p, Column: u.emit[p][col]})
	}
	return out
}

func (u *Union) WillQuery(materialized bool) bool { return !materialized }
