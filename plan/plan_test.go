package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/plan"
	"github.com/flowengine/flowengine/record"
)

func TestPlanMaterializesBaseButNotFilter(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	filt := g.AddNode(0, graph.KindFilter, "article-filter", 2)
	require.NoError(t, g.AddEdge(base, filt))

	ops := map[graph.Address]op.Operator{
		base: op.NewBase(base, 2, []int{0}),
		filt: op.NewFilter(base, 2, []record.Condition{{Column: 1, Cmp: record.Eq, Value: record.Int(1)}}),
	}

	p := plan.New(g, ops)
	res, err := p.Plan([]graph.Address{base, filt})
	require.NoError(t, err)

	assert.True(t, res.Materialized[base])
	assert.False(t, res.Materialized[filt])
	// The base's own primary-key index, plus the filter's suggested index on
	// its equality-constrained column 1.
	assert.Equal(t, [][]int{{0}, {1}}, res.Indices[base])
}

func TestPlanAggregationAlwaysMaterializedWithGroupIndex(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "vote", 2)
	agg := g.AddNode(0, graph.KindAggregation, "votecount", 2)
	require.NoError(t, g.AddEdge(base, agg))

	ops := map[graph.Address]op.Operator{
		base: op.NewBase(base, 2, []int{0}),
		agg:  op.NewAggregation(agg, base, []int{1}, op.Count, -1),
	}

	p := plan.New(g, ops)
	res, err := p.Plan([]graph.Address{base, agg})
	require.NoError(t, err)

	assert.True(t, res.Materialized[agg])
	assert.Equal(t, [][]int{{1}}, res.Indices[agg])
}

func TestPlanHoistsThroughQueryThroughNodeWithMaterializedEdge(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	filt := g.AddNode(0, graph.KindFilter, "article-filter", 2)
	reader := g.AddNode(0, graph.KindReader, "article-reader", 2)
	require.NoError(t, g.AddEdge(base, filt))
	require.NoError(t, g.AddEdge(filt, reader))
	require.NoError(t, g.MarkMaterializedEdge(filt, reader))

	ops := map[graph.Address]op.Operator{
		base:   op.NewBase(base, 2, []int{0}),
		filt:   op.NewFilter(base, 2, nil),
		reader: op.NewReader(reader, filt, 2, []int{0}),
	}

	p := plan.New(g, ops)
	res, err := p.Plan([]graph.Address{base, filt, reader})
	require.NoError(t, err)

	assert.True(t, res.Materialized[base])
	assert.True(t, res.Materialized[reader])
	assert.False(t, res.Materialized[filt], "hoisting should drop the filter's own materialization")
}

func TestPlanRejectsIndexSuggestionAgainstNonMaterializedIngress(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	egress := g.AddNode(0, graph.KindEgress, "egress", 2)
	ingress := g.AddNode(1, graph.KindIngress, "ingress", 2)
	join := g.AddNode(1, graph.KindJoin, "join", 3)
	require.NoError(t, g.AddEdge(base, egress))
	require.NoError(t, g.AddEdge(egress, ingress))
	require.NoError(t, g.AddEdge(ingress, join))

	// Force an index suggestion directly against the ingress to exercise
	// the protocol-error path (spec.md §4.5 rule 2, §7 Protocol errors):
	// a filter standing in for "some stateless node suggests an index on
	// an ancestor that will never be materialized".
	badSuggestor := op.NewFilter(ingress, 2, []record.Condition{{Column: 0, Cmp: record.Eq, Value: record.Int(1)}})

	ops := map[graph.Address]op.Operator{
		base:    op.NewBase(base, 2, []int{0}),
		egress:  op.NewEgress(base, 2),
		ingress: op.NewIngress(egress, 2),
		join:    badSuggestor,
	}

	p := plan.New(g, ops)
	_, err := p.Plan([]graph.Address{base, egress, ingress, join})
	require.Error(t, err)
	var perr *plan.ProtocolError
	assert.ErrorAs(t, err, &perr)
}
