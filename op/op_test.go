package op_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

// fakeResolver backs op.Resolver in tests with plain in-memory stores, one
// per address, standing in for the domain/plan wiring that exists in the
// running engine.
type fakeResolver struct {
	stores map[graph.Address]*store.Store
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{stores: make(map[graph.Address]*store.Store)}
}

func (f *fakeResolver) put(addr graph.Address, s *store.Store) { f.stores[addr] = s }

func (f *fakeResolver) Query(addr graph.Address, q record.Query) ([]record.Tuple, error) {
	s, ok := f.stores[addr]
	if !ok {
		return nil, nil
	}
	cols, vals := q.EqualityColumns()
	var rows []record.Tuple
	if len(cols) > 0 && s.HasIndex(cols) {
		rows, _ = s.Lookup(cols, record.Tuple(vals))
	} else {
		rows, _ = s.All()
	}
	var out []record.Tuple
	for _, row := range rows {
		if proj, ok := q.Apply(row); ok {
			out = append(out, proj)
		}
	}
	return out, nil
}

func (f *fakeResolver) Epoch(addr graph.Address) uint64 {
	s, ok := f.stores[addr]
	if !ok {
		return 0
	}
	return s.Epoch()
}

func addr(d graph.Domain, i uint32) graph.Address { return graph.Address{Domain: d, Index: i} }

func TestFilterForwardsQueryWithPredicateAnded(t *testing.T) {
	parent := addr(0, 0)
	r := newFakeResolver()
	s := store.New([]int{0}, store.Unique)
	s.Apply(record.NewBatch(1, 1,
		record.NewPositive(record.Tuple{record.Int(1), record.Int(5)}, 1),
		record.NewPositive(record.Tuple{record.Int(2), record.Int(0)}, 1),
	))
	r.put(parent, s)

	f := op.NewFilter(parent, 2, []record.Condition{{Column: 1, Cmp: record.Gte, Value: record.Int(1)}})
	rows, err := f.PointQuery(record.Query{}, r)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0].Int64())
}

func TestFilterOnInputKeepsOnlyMatching(t *testing.T) {
	parent := addr(0, 0)
	f := op.NewFilter(parent, 2, []record.Condition{{Column: 1, Cmp: record.Gte, Value: record.Int(1)}})
	b := record.NewBatch(1, 5,
		record.NewPositive(record.Tuple{record.Int(1), record.Int(5)}, 5),
		record.NewPositive(record.Tuple{record.Int(2), record.Int(0)}, 5),
	)
	out, err := f.OnInput(parent, b, nil)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
}

func TestUnionRejectsNonMonotonicEmitList(t *testing.T) {
	a, b := addr(0, 0), addr(0, 1)
	_, err := op.NewUnion(2, []graph.Address{a, b}, map[graph.Address][]int{
		a: {0, 1},
		b: {1, 0},
	})
	require.Error(t, err)
}

func TestUnionProjectsPerAncestorEmitList(t *testing.T) {
	a, bAddr := addr(0, 0), addr(0, 1)
	u, err := op.NewUnion(2, []graph.Address{a, bAddr}, map[graph.Address][]int{
		a:    {0, 2},
		bAddr: {1, 3},
	})
	require.NoError(t, err)

	batch := record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(1), record.Int(9), record.Text("x"), record.Int(9)}, 1))
	out, err := u.OnInput(a, batch, nil)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, int64(1), out.Records[0].Row[0].Int64())
	assert.Equal(t, "x", out.Records[0].Row[1].String())
}

func TestAggregationCountEmitsRetireInstallPairs(t *testing.T) {
	self, parent := addr(0, 1), addr(0, 0)
	a := op.NewAggregation(self, parent, []int{0}, op.Count, -1)

	b1 := record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(5), record.Int(7)}, 1))
	out1, err := a.OnInput(parent, b1, nil)
	require.NoError(t, err)
	require.Len(t, out1.Records, 1)
	assert.Equal(t, record.Positive, out1.Records[0].Sign)
	assert.Equal(t, int64(1), out1.Records[0].Row[1].Int64())

	b2 := record.NewBatch(1, 2, record.NewPositive(record.Tuple{record.Int(5), record.Int(8)}, 2))
	out2, err := a.OnInput(parent, b2, nil)
	require.NoError(t, err)
	require.Len(t, out2.Records, 2)
	assert.Equal(t, record.Negative, out2.Records[0].Sign)
	assert.Equal(t, int64(1), out2.Records[0].Row[1].Int64())
	assert.Equal(t, record.Positive, out2.Records[1].Sign)
	assert.Equal(t, int64(2), out2.Records[1].Row[1].Int64())
}

func TestAggregationGroupRemovedWhenCountReachesZero(t *testing.T) {
	self, parent := addr(0, 1), addr(0, 0)
	a := op.NewAggregation(self, parent, []int{0}, op.Count, -1)

	pos := record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(5), record.Int(7)}, 1))
	_, err := a.OnInput(parent, pos, nil)
	require.NoError(t, err)

	neg := record.NewBatch(1, 2, record.NewNegative(record.Tuple{record.Int(5), record.Int(7)}, 2))
	out, err := a.OnInput(parent, neg, nil)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, record.Negative, out.Records[0].Sign)
}

func TestLatestKeepsOnlyMostRecentPerKey(t *testing.T) {
	self, parent := addr(0, 1), addr(0, 0)
	l := op.NewLatest(self, parent, 2, []int{0})

	b := record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(1), record.Text("v1")}, 1))
	out, err := l.OnInput(parent, b, nil)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)

	b2 := record.NewBatch(1, 2, record.NewPositive(record.Tuple{record.Int(1), record.Text("v2")}, 2))
	out2, err := l.OnInput(parent, b2, nil)
	require.NoError(t, err)
	require.Len(t, out2.Records, 2)
	assert.Equal(t, record.Negative, out2.Records[0].Sign)
	assert.Equal(t, "v1", out2.Records[0].Row[1].String())
	assert.Equal(t, record.Positive, out2.Records[1].Sign)
	assert.Equal(t, "v2", out2.Records[1].Row[1].String())
}

func TestLatestStandaloneNegativePanics(t *testing.T) {
	self, parent := addr(0, 1), addr(0, 0)
	l := op.NewLatest(self, parent, 2, []int{0})
	b := record.NewBatch(1, 1, record.NewNegative(record.Tuple{record.Int(1), record.Text("v1")}, 1))
	assert.Panics(t, func() {
		_, _ = l.OnInput(parent, b, nil)
	})
}

func TestJoinInnerEmitsCombinedRowOnMatch(t *testing.T) {
	left, right := addr(0, 0), addr(0, 1)
	r := newFakeResolver()
	rightStore := store.New([]int{0}, store.Unique)
	rightStore.Apply(record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(1), record.Int(3)}, 1)))
	r.put(right, rightStore)

	j, err := op.NewJoin(left, right, 2, 2, []int{0}, []int{0},
		[]op.JoinSource{{Side: op.Left, Col: 0}, {Side: op.Left, Col: 1}, {Side: op.Right, Col: 1}}, false)
	require.NoError(t, err)

	b := record.NewBatch(2, 5, record.NewPositive(record.Tuple{record.Int(1), record.Text("A")}, 5))
	out, err := j.OnInput(left, b, r)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "A", out.Records[0].Row[1].String())
	assert.Equal(t, int64(3), out.Records[0].Row[2].Int64())
}

func TestJoinLeftPadsNullWhenNoMatch(t *testing.T) {
	left, right := addr(0, 0), addr(0, 1)
	r := newFakeResolver()
	r.put(right, store.New([]int{0}, store.Unique))

	j, err := op.NewJoin(left, right, 2, 1, []int{0}, []int{0},
		[]op.JoinSource{{Side: op.Left, Col: 0}, {Side: op.Left, Col: 1}, {Side: op.Right, Col: 0}}, true)
	require.NoError(t, err)

	b := record.NewBatch(2, 5, record.NewPositive(record.Tuple{record.Int(3), record.Text("C")}, 5))
	out, err := j.OnInput(left, b, r)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.True(t, out.Records[0].Row[2].IsNull())
}

func TestJoinPointQueryScansOuterSideAndLooksUpInner(t *testing.T) {
	left, right := addr(0, 0), addr(0, 1)
	r := newFakeResolver()
	leftStore := store.New([]int{0}, store.Unique)
	leftStore.Apply(record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(1), record.Text("A")}, 1)))
	r.put(left, leftStore)
	rightStore := store.New([]int{0}, store.Grouped)
	rightStore.Apply(record.NewBatch(2, 1, record.NewPositive(record.Tuple{record.Int(1), record.Int(9)}, 1)))
	r.put(right, rightStore)

	j, err := op.NewJoin(left, right, 2, 2, []int{0}, []int{0},
		[]op.JoinSource{{Side: op.Left, Col: 0}, {Side: op.Left, Col: 1}, {Side: op.Right, Col: 1}}, false)
	require.NoError(t, err)

	rows, err := j.PointQuery(record.Query{Conditions: []record.Condition{{Column: 0, Cmp: record.Eq, Value: record.Int(1)}}}, r)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(9), rows[0][2].Int64())
}
