package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowengine/flowengine/domain"
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

func TestDomainRoutesMessageThroughFilterToMaterializedChild(t *testing.T) {
	base := graph.Address{Domain: 0, Index: 0}
	filter := graph.Address{Domain: 0, Index: 1}

	d := domain.New(0, 8, nil)
	d.RegisterNode(base, op.NewBase(base, 2, []int{0}), true, []int{0}, store.Unique, []graph.Address{filter})
	d.RegisterNode(filter, op.NewFilter(base, 2, []record.Condition{{Column: 1, Cmp: record.Gte, Value: record.Int(1)}}), true, []int{0}, store.Unique, nil)

	go d.Run()
	defer d.Stop()

	batch := record.NewBatch(1, 1,
		record.NewPositive(record.Tuple{record.Int(1), record.Int(5)}, 1),
		record.NewPositive(record.Tuple{record.Int(2), record.Int(0)}, 1),
	)
	d.Send(domain.Packet{Type: domain.PacketMessage, From: base, To: base, Update: batch})

	require.Eventually(t, func() bool {
		return d.Node(filter).Store != nil && d.Node(filter).Store.Len() == 1
	}, time.Second, time.Millisecond)

	rows, _ := d.Node(filter).Store.All()
	assert.Equal(t, int64(1), rows[0][0].Int64())
}

func TestDomainReadySignalsAckAndAddsIndex(t *testing.T) {
	base := graph.Address{Domain: 0, Index: 0}
	d := domain.New(0, 8, nil)
	d.RegisterNode(base, op.NewBase(base, 2, []int{0}), true, []int{0}, store.Unique, nil)

	go d.Run()
	defer d.Stop()

	ack := make(chan struct{})
	d.Send(domain.Packet{Type: domain.PacketReady, Node: base, Indices: [][]int{{1}}, Ack: ack})

	select {
	case <-ack:
	case <-time.After(time.Second):
		t.Fatal("ack not received")
	}
	assert.True(t, d.Node(base).Store.HasIndex([]int{1}))
}

func TestDomainQueryAnswersFromMaterializedStore(t *testing.T) {
	base := graph.Address{Domain: 0, Index: 0}
	d := domain.New(0, 8, nil)
	d.RegisterNode(base, op.NewBase(base, 2, []int{0}), true, []int{0}, store.Unique, nil)

	ack := make(chan struct{})
	go d.Run()
	defer d.Stop()
	d.Send(domain.Packet{Type: domain.PacketMessage, From: base, To: base, Update: record.NewBatch(1, 1,
		record.NewPositive(record.Tuple{record.Int(9), record.Int(3)}, 1))})
	d.Send(domain.Packet{Type: domain.PacketReady, Node: base, Ack: ack})
	<-ack

	require.Eventually(t, func() bool { return d.Node(base).Store.Len() == 1 }, time.Second, time.Millisecond)
	rows, err := d.Query(base, record.Query{Conditions: []record.Condition{{Column: 0, Cmp: record.Eq, Value: record.Int(9)}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0][1].Int64())
}
