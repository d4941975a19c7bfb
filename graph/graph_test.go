package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowengine/flowengine/graph"
)

func TestAddEdgeWithinSameDomainSucceeds(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	filt := g.AddNode(0, graph.KindFilter, "article-filter", 2)

	require.NoError(t, g.AddEdge(base, filt))
	assert.Equal(t, []graph.Address{base}, g.Node(filt).Parents())
	assert.Equal(t, []graph.Address{filt}, g.Node(base).Children())
}

func TestAddEdgeAcrossDomainsWithoutIngressEgressFails(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	agg := g.AddNode(1, graph.KindAggregation, "votecount", 2)

	err := g.AddEdge(base, agg)
	require.Error(t, err)
	var cfgErr *graph.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAddEdgeAcrossDomainsWithEgressIngressSucceeds(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	egress := g.AddNode(0, graph.KindEgress, "article-egress", 2)
	ingress := g.AddNode(1, graph.KindIngress, "article-ingress", 2)
	agg := g.AddNode(1, graph.KindAggregation, "votecount", 2)

	require.NoError(t, g.AddEdge(base, egress))
	require.NoError(t, g.AddEdge(egress, ingress))
	require.NoError(t, g.AddEdge(ingress, agg))
}

func TestAddEdgeCreatingCycleFails(t *testing.T) {
	g := graph.New()
	a := g.AddNode(0, graph.KindBase, "a", 1)
	b := g.AddNode(0, graph.KindFilter, "b", 1)
	c := g.AddNode(0, graph.KindFilter, "c", 1)

	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))
	err := g.AddEdge(c, a)
	require.Error(t, err)
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	g := graph.New()
	a := g.AddNode(0, graph.KindBase, "a", 1)
	b := g.AddNode(0, graph.KindFilter, "b", 1)
	c := g.AddNode(0, graph.KindFilter, "c", 1)
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(a, c))

	order, err := g.TopoOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, a, order[0])
}

func TestAncestorsWalksTransitiveParents(t *testing.T) {
	g := graph.New()
	a := g.AddNode(0, graph.KindBase, "a", 1)
	b := g.AddNode(0, graph.KindFilter, "b", 1)
	c := g.AddNode(0, graph.KindFilter, "c", 1)
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))

	anc := g.Ancestors(c)
	assert.ElementsMatch(t, []graph.Address{a, b}, anc)
}
