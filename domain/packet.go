package domain

import (
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

// PacketType tags the kind of work item carried on a domain's inbox,
// mirroring spec.md §4.4.
type PacketType uint8

const (
	// PacketMessage is a normal data delta addressed at a node.
	PacketMessage PacketType = iota
	// PacketReady activates a node, optionally adding indices, then signals Ack.
	PacketReady
	// PacketPrepareState creates empty materialized state for a future replay target.
	PacketPrepareState
	// PacketSetupReplayPath registers a replay path segment through local nodes.
	PacketSetupReplayPath
	// PacketStartReplay begins emitting a source node's state as replay chunks.
	PacketStartReplay
	// PacketReplayChunk carries replay data along a tagged path.
	PacketReplayChunk
)

func packetTypeLabel(t PacketType) string {
	switch t {
	case PacketMessage:
		return "message"
	case PacketReady:
		return "ready"
	case PacketPrepareState:
		return "prepare_state"
	case PacketSetupReplayPath:
		return "setup_replay_path"
	case PacketStartReplay:
		return "start_replay"
	case PacketReplayChunk:
		return "replay_chunk"
	default:
		return "unknown"
	}
}

// Packet is the single message type a domain's loop processes one at a
// time. Only the fields relevant to Type are populated; see spec.md §4.4
// for the packet catalogue this mirrors.
type Packet struct {
	Type PacketType

	// PacketMessage
	From   graph.Address
	To     graph.Address
	Update record.Batch

	// PacketReady / PacketPrepareState
	Node graph.Address
	// Indices[0] is the primary index's columns; any further entries are
	// secondary indices added after the primary is in place.
	Indices [][]int
	// PrimaryKind is the store.Kind PacketPrepareState allocates the
	// primary index with — store.Unique for a node that holds one row
	// per key, store.Grouped otherwise. Unused by PacketReady, whose
	// secondary AddIndex calls are always store.Grouped.
	PrimaryKind store.Kind
	Ack         chan struct{}

	// PacketSetupReplayPath
	Tag  uint32
	Path []graph.Address
	Done chan struct{}

	// PacketStartReplay
	ReplayFrom graph.Address

	// PacketReplayChunk
	ChunkDone bool
}
