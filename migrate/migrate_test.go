package migrate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowengine/flowengine/domain"
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/migrate"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

func TestMigrateReplaysExistingBaseDataIntoNewMaterializedFilter(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	filt := g.AddNode(0, graph.KindFilter, "article-filter", 2)
	require.NoError(t, g.AddEdge(base, filt))

	d := domain.New(0, 8, nil)
	d.RegisterNode(base, op.NewBase(base, 2, []int{0}), true, []int{0}, store.Unique, []graph.Address{filt})
	d.RegisterNode(filt, op.NewFilter(base, 2, []record.Condition{{Column: 1, Cmp: record.Gte, Value: record.Int(1)}}), false, nil, store.Unique, nil)

	go d.Run()
	defer d.Stop()

	// Pre-existing data, as if base had been live before this migration.
	d.Node(base).Store.Seed([]record.Tuple{
		{record.Int(1), record.Int(5)},
		{record.Int(2), record.Int(0)},
	}, 1)

	domains := map[graph.Domain]*domain.Domain{0: d}
	coord := migrate.New(g, domains)

	materialized := map[graph.Address]bool{filt: true}
	indices := map[graph.Address][][]int{filt: {{0}}}
	require.NoError(t, coord.Migrate([]graph.Address{filt}, materialized, indices))

	require.NotNil(t, d.Node(filt).Store)
	assert.Equal(t, 1, d.Node(filt).Store.Len())
	rows, _ := d.Node(filt).Store.All()
	assert.Equal(t, int64(1), rows[0][0].Int64())
}

func TestMigrateSkipsReplayWhenAncestorIsEmpty(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	filt := g.AddNode(0, graph.KindFilter, "article-filter", 2)
	require.NoError(t, g.AddEdge(base, filt))

	d := domain.New(0, 8, nil)
	d.RegisterNode(base, op.NewBase(base, 2, []int{0}), true, []int{0}, store.Unique, []graph.Address{filt})
	d.RegisterNode(filt, op.NewFilter(base, 2, nil), false, nil, store.Unique, nil)

	go d.Run()
	defer d.Stop()

	domains := map[graph.Domain]*domain.Domain{0: d}
	coord := migrate.New(g, domains)

	materialized := map[graph.Address]bool{filt: true}
	indices := map[graph.Address][][]int{filt: {{0}}}
	require.NoError(t, coord.Migrate([]graph.Address{filt}, materialized, indices))

	// No replay was needed, but the node is still readied: its state exists
	// (created by PrepareState) even though empty.
	require.NotNil(t, d.Node(filt).Store)
	assert.Equal(t, 0, d.Node(filt).Store.Len())
}

func TestMigrateReadiesNonMaterializedNodeDirectly(t *testing.T) {
	g := graph.New()
	base := g.AddNode(0, graph.KindBase, "article", 2)
	filt := g.AddNode(0, graph.KindFilter, "article-filter", 2)
	require.NoError(t, g.AddEdge(base, filt))

	d := domain.New(0, 8, nil)
	d.RegisterNode(base, op.NewBase(base, 2, []int{0}), true, []int{0}, store.Unique, []graph.Address{filt})
	d.RegisterNode(filt, op.NewFilter(base, 2, nil), false, nil, store.Unique, nil)

	go d.Run()
	defer d.Stop()

	domains := map[graph.Domain]*domain.Domain{0: d}
	coord := migrate.New(g, domains)

	materialized := map[graph.Address]bool{filt: false}
	require.NoError(t, coord.Migrate([]graph.Address{filt}, materialized, nil))

	assert.Nil(t, d.Node(filt).Store, "a stateless node's migration never allocates a store")
}
