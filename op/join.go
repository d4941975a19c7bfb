package op

import (
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Side picks one ancestor of a Join.
type Side uint8

const (
	Left Side = iota
	Right
)

// JoinSource names where one output column of a Join comes from.
type JoinSource struct {
	Side Side
	Col  int
}

// Join combines exactly two ancestors on an equi-join key, inner or left
// (spec.md §4.2). Only two-way joins are supported.
type Join struct {
	left, right           graph.Address
	leftCols, rightCols   []int
	leftWidth, rightWidth int
	emit                  []JoinSource
	isLeft                bool
}

// NewJoin builds a join over left and right matched on leftCols == rightCols
// (equal length, position-for-position), producing output columns per
// emit. isLeft selects left-outer-join semantics; otherwise the join is
// inner. Returns a ConfigError if the key column lists differ in length.
func NewJoin(left, right graph.Address, leftWidth, rightWidth int, leftCols, rightCols []int, emit []JoinSource, isLeft bool) (*Join, error) {
	if len(leftCols) != len(rightCols) {
		return nil, configErrorf("NewJoin", "join key column count mismatch: left has %d, right has %d", len(leftCols), len(rightCols))
	}
	if len(leftCols) == 0 {
		return nil, configErrorf("NewJoin", "join requires at least one key column pair")
	}
	return &Join{
		left: left, right: right,
		leftCols: leftCols, rightCols: rightCols,
		leftWidth: leftWidth, rightWidth: rightWidth,
		emit: emit, isLeft: isLeft,
	}, nil
}

func (j *Join) Kind() graph.Kind         { return graph.KindJoin }
func (j *Join) Columns() int             { return len(j.emit) }
func (j *Join) Parents() []graph.Address { return []graph.Address{j.left, j.right} }

func (j *Join) buildRow(leftRow, rightRow record.Tuple, nullPadRight bool) record.Tuple {
	out := make(record.Tuple, len(j.emit))
	for i, src := range j.emit {
		switch src.Side {
		case Left:
			out[i] = leftRow[src.Col]
		case Right:
			if nullPadRight {
				out[i] = record.Null()
			} else {
				out[i] = rightRow[src.Col]
			}
		}
	}
	return out
}

func equalityConditions(cols []int, key record.Tuple) []record.Condition {
	conds := make([]record.Condition, len(cols))
	for i, c := range cols {
		conds[i] = record.Condition{Column: c, Cmp: record.Eq, Value: key[i]}
	}
	return conds
}

func maxTS(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// OnInput queries the opposite ancestor for matches on the join key and
// emits combined rows, per spec.md §4.2.
func (j *Join) OnInput(from graph.Address, b record.Batch, r Resolver) (record.Batch, error) {
	fromLeft := from == j.left
	var thisCols, otherCols []int
	var otherAddr graph.Address
	if fromLeft {
		thisCols, otherCols, otherAddr = j.leftCols, j.rightCols, j.right
	} else {
		thisCols, otherCols, otherAddr = j.rightCols, j.leftCols, j.left
	}
	otherEpoch := r.Epoch(otherAddr)

	var out []record.Record
	for _, rec := range b.Records {
		key := rec.Row.Project(thisCols)
		matches, err := r.Query(otherAddr, record.Query{Conditions: equalityConditions(otherCols, key)})
		if err != nil {
			return record.Batch{}, err
		}
		ts := maxTS(rec.Timestamp, otherEpoch)

		if len(matches) == 0 {
			if j.isLeft && fromLeft {
				out = append(out, record.Record{Row: j.buildRow(rec.Row, nil, true), Sign: rec.Sign, Timestamp: rec.Timestamp})
			}
			continue
		}
		for _, match := range matches {
			var combined record.Tuple
			if fromLeft {
				combined = j.buildRow(rec.Row, match, false)
			} else {
				combined = j.buildRow(match, rec.Row, false)
			}
			out = append(out, record.Record{Row: combined, Sign: rec.Sign, Timestamp: ts})
		}
	}
	if len(out) == 0 {
		return record.Batch{}, nil
	}
	return record.Batch{Edge: b.Edge, Records: out, Timestamp: b.Timestamp}, nil
}

// outerSide picks the deterministic outer-loop side for a point query: the
// ancestor with the smaller address, per spec.md §9's open question (noted
// there as non-deterministic in the source; this implementation at least
// makes the choice reproducible).
func (j *Join) outerSide() (outerAddr, innerAddr graph.Address, outerIsLeft bool) {
	if addrLess(j.left, j.right) {
		return j.left, j.right, true
	}
	return j.right, j.left, false
}

func addrLess(a, b graph.Address) bool {
	if a.Domain != b.Domain {
		return a.Domain < b.Domain
	}
	return a.Index < b.Index
}

func (j *Join) sideColMap(side Side) map[int]int {
	m := make(map[int]int)
	for outCol, src := range j.emit {
		if src.Side == side {
			m[outCol] = src.Col
		}
	}
	return m
}

// PointQuery is used only when the join is not materialized: it chooses an
// outer-loop ancestor, scans its matching rows, and for each looks up the
// inner ancestor by join key, applying the caller's full predicate to the
// resulting combined rows (spec.md §4.2).
func (j *Join) PointQuery(q record.Query, r Resolver) ([]record.Tuple, error) {
	outerAddr, innerAddr, outerIsLeft := j.outerSide()
	var outerSideTag Side
	var outerCols, innerCols []int
	if outerIsLeft {
		outerSideTag = Left
		outerCols, innerCols = j.leftCols, j.rightCols
	} else {
		outerSideTag = Right
		outerCols, innerCols = j.rightCols, j.leftCols
	}

	outerQuery, ok := q.Remap(j.sideColMap(outerSideTag))
	if !ok {
		outerQuery = record.Query{}
	}
	outerRows, err := r.Query(outerAddr, outerQuery)
	if err != nil {
		return nil, err
	}

	var out []record.Tuple
	for _, outerRow := range outerRows {
		key := outerRow.Project(outerCols)
		innerRows, err := r.Query(innerAddr, record.Query{Conditions: equalityConditions(innerCols, key)})
		if err != nil {
			return nil, err
		}
		if len(innerRows) == 0 {
			if j.isLeft && outerIsLeft {
				combined := j.buildRow(outerRow, nil, true)
				if proj, ok := q.Apply(combined); ok {
					out = append(out, proj)
				}
			}
			continue
		}
		for _, innerRow := range innerRows {
			var combined record.Tuple
			if outerIsLeft {
				combined = j.buildRow(outerRow, innerRow, false)
			} else {
				combined = j.buildRow(innerRow, outerRow, false)
			}
			if proj, ok := q.Apply(combined); ok {
				out = append(out, proj)
			}
		}
	}
	return out, nil
}

// SuggestIndices asks that each ancestor be indexed on its half of the join
// key, the lookup OnInput and PointQuery both perform.
func (j *Join) SuggestIndices() []IndexSuggestion {
	return []IndexSuggestion{
		{Node: j.left, Cols: j.leftCols},
		{Node: j.right, Cols: j.rightCols},
	}
}

func (j *Join) Resolve(col int) []ColumnOrigin {
	src := j.emit[col]
	switch src.Side {
	case Left:
		return []ColumnOrigin{{Node: j.left, Column: src.Col}}
	default:
		return []ColumnOrigin{{Node: j.right, Column: src.Col}}
	}
}

func (j *Join) WillQuery(materialized bool) bool { return !materialized }
