package record

// Cmp is a point-query comparison operator.
type Cmp uint8

const (
	Eq Cmp = iota
	Lt
	Gt
	Lte
	Gte
)

func (c Cmp) String() string {
	switch c {
	case Eq:
		return "=="
	case Lt:
		return "<"
	case Gt:
		return ">"
	case Lte:
		return "<="
	case Gte:
		return ">="
	default:
		return "?"
	}
}

// Condition restricts a single column to values satisfying Cmp against
// Value. Conditions within a Query are conjunctive (AND); disjunction is
// expressed as multiple independent Query calls.
type Condition struct {
	Column int
	Cmp    Cmp
	Value  Value
}

// Match reports whether val satisfies the condition.
func (c Condition) Match(val Value) bool {
	cmp := val.Compare(c.Value)
	switch c.Cmp {
	case Eq:
		return cmp == 0
	case Lt:
		return cmp < 0
	case Gt:
		return cmp > 0
	case Lte:
		return cmp <= 0
	case Gte:
		return cmp >= 0
	default:
		return false
	}
}

// Query is a conjunctive equality/range point query with an optional output
// projection mask.
type Query struct {
	Conditions []Condition
	// Projection, if non-nil, selects which output columns to keep, in
	// order. A nil Projection returns every column.
	Projection []int
}

// Matches reports whether row satisfies every condition in q.
func (q Query) Matches(row Tuple) bool {
	for _, c := range q.Conditions {
		if c.Column >= len(row) || !c.Match(row[c.Column]) {
			return false
		}
	}
	return true
}

// Apply filters and projects row, returning (result, true) if row matches,
// or (nil, false) otherwise.
func (q Query) Apply(row Tuple) (Tuple, bool) {
	if !q.Matches(row) {
		return nil, false
	}
	if q.Projection == nil {
		return row, true
	}
	return row.Project(q.Projection), true
}

// EqualityColumns returns the set of columns this query constrains with an
// Eq condition, and the corresponding values, used by operators to derive a
// lookup key for their ancestor's index.
func (q Query) EqualityColumns() (cols []int, vals []Value) {
	for _, c := range q.Conditions {
		if c.Cmp == Eq {
			cols = append(cols, c.Column)
			vals = append(vals, c.Value)
		}
	}
	return cols, vals
}

// WithConditions returns a copy of q with extra conditions appended, used
// when forwarding a caller's query through a stateless operator along with
// conditions derived from the operator itself (e.g. Filter).
func (q Query) WithConditions(extra ...Condition) Query {
	out := Query{Projection: q.Projection}
	out.Conditions = append(out.Conditions, q.Conditions...)
	out.Conditions = append(out.Conditions, extra...)
	return out
}

// Remap returns a copy of q with every condition's Column index translated
// through colMap (colMap[outputCol] = ancestorCol). If any condition is on a
// column not present in colMap, it returns an empty Query and false. The
// Projection is not carried over. Used by Union and Join to forward a query
// against their output schema to an ancestor's schema.
func (q Query) Remap(colMap map[int]int) (Query, bool) {
	out := Query{}
	for _, c := range q.Conditions {
		mapped, ok := colMap[c.Column]
		if !ok {
			// A condition on a column this ancestor does not produce can't
			// be forwarded; the operator must apply it itself afterward.
			return Query{}, false
		}
		out.Conditions = append(out.Conditions, Condition{Column: mapped, Cmp: c.Cmp, Value: c.Value})
	}
	return out, true
}
