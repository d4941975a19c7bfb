// Package domain implements the single-threaded per-partition message loop
// that carries deltas between operators and drives the replay protocol
// (spec.md §4.4). One Domain owns a disjoint subset of the graph's nodes;
// all mutation to those nodes happens inside its loop goroutine.
package domain

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/metrics"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

// NodeEntry is one node owned by a Domain: its operator, its materialized
// state (nil if the node is stateless), and the local children it fans
// output to.
type NodeEntry struct {
	Addr     graph.Address
	Operator op.Operator
	Store    *store.Store // nil when the node is not materialized
	Children []graph.Address

	// Sink, if set, receives a copy of every batch this node absorbs. The
	// send is non-blocking: a slow or absent subscriber never stalls the
	// domain loop (spec.md §5, "operators must never block"). Used by a
	// Reader node's external streaming replica (package reader).
	Sink chan<- record.Batch
}

func (n *NodeEntry) materialized() bool { return n.Store != nil }

type replayPath struct {
	path []graph.Address
	done chan struct{}
}

// Domain is a sharding unit: a set of nodes processed by a single
// cooperative execution context, per spec.md §4.4/§5.
type Domain struct {
	id    graph.Domain
	log   *logrus.Entry
	nodes map[graph.Address]*NodeEntry

	inbox chan Packet
	// outbound routes a packet addressed at a remote domain's ingress to
	// that domain's own inbox; the engine wires these when committing a
	// migration (package flowengine).
	outbound map[graph.Domain]chan<- Packet

	replays map[uint32]*replayPath
	stopCh  chan struct{}

	metrics *metrics.Metrics // nil disables instrumentation
}

// New creates a domain with a bounded inbox of the given capacity, the
// engine's backpressure mechanism (spec.md §5).
func New(id graph.Domain, inboxCapacity int, log *logrus.Entry) *Domain {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Domain{
		id:       id,
		log:      log.WithField("domain", id),
		nodes:    make(map[graph.Address]*NodeEntry),
		inbox:    make(chan Packet, inboxCapacity),
		outbound: make(map[graph.Domain]chan<- Packet),
		replays:  make(map[uint32]*replayPath),
		stopCh:   make(chan struct{}),
	}
}

// ID returns the domain's identifier.
func (d *Domain) ID() graph.Domain { return d.id }

// SetMetrics attaches a prometheus collector set; passing nil disables
// instrumentation (the default).
func (d *Domain) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// Inbox returns the channel other domains (and the engine) send packets to.
func (d *Domain) Inbox() chan<- Packet { return d.inbox }

// RegisterNode installs a node in this domain. children lists the local
// addresses (within this same domain) that consume this node's output;
// cross-domain fanout is carried by an Egress node's routing table instead.
func (d *Domain) RegisterNode(addr graph.Address, operator op.Operator, materialized bool, primaryCols []int, primaryKind store.Kind, children []graph.Address) {
	entry := &NodeEntry{Addr: addr, Operator: operator, Children: children}
	if materialized {
		entry.Store = store.New(primaryCols, primaryKind)
	}
	d.nodes[addr] = entry
}

// LinkDomain registers the inbox of a peer domain so this domain can route
// egress traffic to it.
func (d *Domain) LinkDomain(peer graph.Domain, inbox chan<- Packet) {
	d.outbound[peer] = inbox
}

// Node returns the entry for addr, or nil.
func (d *Domain) Node(addr graph.Address) *NodeEntry { return d.nodes[addr] }

// RegisterSink attaches a non-blocking subscriber to addr's node, replacing
// any previous one. Pass a nil channel to detach.
func (d *Domain) RegisterSink(addr graph.Address, ch chan<- record.Batch) {
	if entry, ok := d.nodes[addr]; ok {
		entry.Sink = ch
	}
}

// Run processes packets from the inbox until Stop is called. It is meant to
// run in its own goroutine, pinned for the domain's lifetime.
func (d *Domain) Run() {
	for {
		select {
		case <-d.stopCh:
			return
		case pkt := <-d.inbox:
			if d.metrics != nil {
				d.metrics.ObserveInbox(uint32(d.id), len(d.inbox))
				d.metrics.ObservePacket(uint32(d.id), packetTypeLabel(pkt.Type))
			}
			if err := d.dispatch(pkt); err != nil {
				d.log.WithError(err).Error("packet dispatch failed")
				if d.metrics != nil {
					d.metrics.ObserveDispatchError(uint32(d.id))
				}
			}
		}
	}
}

// Stop signals the loop to exit once its current packet finishes.
func (d *Domain) Stop() { close(d.stopCh) }

// Send delivers pkt to this domain's inbox, blocking if the inbox is full
// (the engine's sole backpressure mechanism, spec.md §5).
func (d *Domain) Send(pkt Packet) { d.inbox <- pkt }

func (d *Domain) dispatch(pkt Packet) error {
	switch pkt.Type {
	case PacketMessage:
		return d.handleMessage(pkt)
	case PacketReady:
		return d.handleReady(pkt)
	case PacketPrepareState:
		return d.handlePrepareState(pkt)
	case PacketSetupReplayPath:
		return d.handleSetupReplayPath(pkt)
	case PacketStartReplay:
		return d.handleStartReplay(pkt)
	case PacketReplayChunk:
		return d.handleReplayChunk(pkt)
	default:
		return fmt.Errorf("domain: unknown packet type %d", pkt.Type)
	}
}

// handleMessage dispatches a normal delta to its receiving node, applies
// the resulting update to the node's own state if materialized, and fans
// the output to local children or the owning egress node.
func (d *Domain) handleMessage(pkt Packet) error {
	entry, ok := d.nodes[pkt.To]
	if !ok {
		return fmt.Errorf("domain %d: message addressed at unknown node %s", d.id, pkt.To)
	}
	out, err := entry.Operator.OnInput(pkt.From, pkt.Update, d)
	if err != nil {
		return fmt.Errorf("domain %d: node %s: %w", d.id, pkt.To, err)
	}
	if out.Empty() {
		return nil
	}
	if entry.materialized() {
		entry.Store.Apply(out)
	}
	if entry.Sink != nil {
		select {
		case entry.Sink <- out:
		default:
		}
	}
	return d.fanout(entry, out)
}

// fanout routes entry's output batch to every local child, or — if entry is
// an Egress — to the remote domain registered for this edge.
func (d *Domain) fanout(entry *NodeEntry, out record.Batch) error {
	if eg, ok := entry.Operator.(*op.Egress); ok {
		return d.sendCrossDomain(entry.Addr, eg, out)
	}
	for _, child := range entry.Children {
		d.inbox <- Packet{Type: PacketMessage, From: entry.Addr, To: child, Update: out}
	}
	return nil
}

// sendCrossDomain is reached only for an Egress node (Egress has no local
// Children; its one downstream ingress lives in another domain). Normal
// traffic has no per-tag route to follow, so it is forwarded under the
// reserved tag 0, which the peer domain's ingress node accepts directly as
// a PacketMessage rather than a replay chunk.
func (d *Domain) sendCrossDomain(addr graph.Address, eg *op.Egress, out record.Batch) error {
	next, ok := eg.RouteFor(0)
	if !ok {
		return fmt.Errorf("domain %d: egress %s has no steady-state route registered", d.id, addr)
	}
	peer := d.outbound[next.Domain]
	if peer == nil {
		return fmt.Errorf("domain %d: no link to domain %d", d.id, next.Domain)
	}
	peer <- Packet{Type: PacketMessage, From: addr, To: next, Update: out}
	return nil
}

// handleReady activates a node: if indices are given, it adds them to the
// node's materialized state (creating the state first via PrepareState is
// the normal path; Ready may also carry indices directly for nodes that
// need none of replay's bookkeeping), then signals Ack.
func (d *Domain) handleReady(pkt Packet) error {
	entry, ok := d.nodes[pkt.Node]
	if !ok {
		return fmt.Errorf("domain %d: ready for unknown node %s", d.id, pkt.Node)
	}
	if entry.Store != nil {
		for _, cols := range pkt.Indices {
			entry.Store.AddIndex(cols, store.Grouped)
		}
	}
	if pkt.Ack != nil {
		close(pkt.Ack)
	}
	return nil
}

// handlePrepareState creates empty materialized state for a node about to
// receive replay data.
func (d *Domain) handlePrepareState(pkt Packet) error {
	entry, ok := d.nodes[pkt.Node]
	if !ok {
		return fmt.Errorf("domain %d: prepare-state for unknown node %s", d.id, pkt.Node)
	}
	if entry.Store == nil {
		primary := pkt.Indices[0]
		entry.Store = store.New(primary, pkt.PrimaryKind)
		for _, cols := range pkt.Indices[1:] {
			entry.Store.AddIndex(cols, store.Grouped)
		}
	}
	if pkt.Ack != nil {
		close(pkt.Ack)
	}
	return nil
}

// handleSetupReplayPath registers the ordered local nodes a replay tag will
// flow through, and — for the final segment on this domain — the done
// channel to close once the terminal node has absorbed the snapshot.
func (d *Domain) handleSetupReplayPath(pkt Packet) error {
	d.replays[pkt.Tag] = &replayPath{path: pkt.Path, done: pkt.Done}
	if pkt.Ack != nil {
		close(pkt.Ack)
	}
	return nil
}

// handleStartReplay reads the source node's full materialized state and
// drives it through the registered path for pkt.Tag as a single replay
// chunk. Splitting large snapshots into several ReplayChunk packets is a
// pipelining optimization the protocol allows but this implementation does
// not need: the path is processed synchronously within this call.
func (d *Domain) handleStartReplay(pkt Packet) error {
	rp, ok := d.replays[pkt.Tag]
	if !ok {
		return fmt.Errorf("domain %d: start-replay for unregistered tag %d", d.id, pkt.Tag)
	}
	source, ok := d.nodes[pkt.ReplayFrom]
	if !ok || source.Store == nil {
		return fmt.Errorf("domain %d: start-replay source %s is not materialized", d.id, pkt.ReplayFrom)
	}
	rows, epoch := source.Store.All()
	records := make([]record.Record, len(rows))
	for i, row := range rows {
		records[i] = record.NewPositive(row, epoch)
	}
	if pkt.Ack != nil {
		close(pkt.Ack)
	}
	if len(records) == 0 {
		return d.finishReplay(pkt.Tag, rp, record.Batch{Timestamp: epoch}, true)
	}
	batch := record.Batch{Records: records, Timestamp: epoch}
	return d.driveReplayPath(pkt.Tag, rp, batch, true)
}

// handleReplayChunk continues a replay path that was started in another
// domain, picking up from this segment's first local node.
func (d *Domain) handleReplayChunk(pkt Packet) error {
	rp, ok := d.replays[pkt.Tag]
	if !ok {
		return fmt.Errorf("domain %d: replay chunk for unregistered tag %d", d.id, pkt.Tag)
	}
	return d.driveReplayPath(pkt.Tag, rp, pkt.Update, pkt.ChunkDone)
}

// driveReplayPath runs batch through every consecutive pair of nodes on
// rp.path (treated as already-local addresses) via their operators'
// OnInput, installing the result into the terminal node's state, or, if
// the path's last node is an Egress, forwarding a ReplayChunk to the next
// domain using the tag's routing table.
func (d *Domain) driveReplayPath(tag uint32, rp *replayPath, batch record.Batch, chunkDone bool) error {
	cur := batch
	for i := 1; i < len(rp.path); i++ {
		entry, ok := d.nodes[rp.path[i]]
		if !ok {
			return fmt.Errorf("domain %d: replay path references unknown node %s", d.id, rp.path[i])
		}
		out, err := entry.Operator.OnInput(rp.path[i-1], cur, d)
		if err != nil {
			return fmt.Errorf("domain %d: replay path node %s: %w", d.id, rp.path[i], err)
		}
		cur = out
	}

	tail := d.nodes[rp.path[len(rp.path)-1]]
	if eg, ok := tail.Operator.(*op.Egress); ok {
		next, ok := eg.RouteFor(tag)
		if !ok {
			return fmt.Errorf("domain %d: egress %s has no route for tag %d", d.id, tail.Addr, tag)
		}
		peer := d.outbound[next.Domain]
		if peer == nil {
			return fmt.Errorf("domain %d: no link to domain %d for replay tag %d", d.id, next.Domain, tag)
		}
		peer <- Packet{Type: PacketReplayChunk, Tag: tag, Update: cur, ChunkDone: chunkDone}
		return nil
	}
	return d.finishReplay(tag, rp, cur, chunkDone)
}

func (d *Domain) finishReplay(tag uint32, rp *replayPath, batch record.Batch, chunkDone bool) error {
	tail := d.nodes[rp.path[len(rp.path)-1]]
	if tail.Store == nil {
		return fmt.Errorf("domain %d: replay terminal node %s has no state", d.id, tail.Addr)
	}
	rows := make([]record.Tuple, len(batch.Records))
	for i, r := range batch.Records {
		rows[i] = r.Row
	}
	tail.Store.Seed(rows, batch.Timestamp)
	if chunkDone && rp.done != nil {
		close(rp.done)
		delete(d.replays, tag)
	}
	return nil
}

// Query implements op.Resolver over this domain's own node registry:
// materialized nodes are answered directly from their store; stateless
// nodes recurse into their operator's PointQuery. Point queries never cross
// a domain boundary directly — a cross-domain ancestor is represented
// locally by an Ingress node, which is itself indexed if any descendant
// requires it (spec.md §4.5, rule 3).
func (d *Domain) Query(addr graph.Address, q record.Query) ([]record.Tuple, error) {
	entry, ok := d.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("domain %d: query against unknown node %s", d.id, addr)
	}
	if entry.Store != nil {
		cols, vals := q.EqualityColumns()
		var rows []record.Tuple
		if len(cols) > 0 && entry.Store.HasIndex(cols) {
			rows, _ = entry.Store.Lookup(cols, record.Tuple(vals))
		} else {
			rows, _ = entry.Store.All()
		}
		out := make([]record.Tuple, 0, len(rows))
		for _, row := range rows {
			if proj, ok := q.Apply(row); ok {
				out = append(out, proj)
			}
		}
		return out, nil
	}
	return entry.Operator.PointQuery(q, d)
}

// Epoch implements op.Resolver: the largest timestamp addr's state has
// absorbed, or 0 for a stateless node (its freshness is bounded by its
// materialized ancestors instead).
func (d *Domain) Epoch(addr graph.Address) uint64 {
	entry, ok := d.nodes[addr]
	if !ok || entry.Store == nil {
		return 0
	}
	return entry.Store.Epoch()
}
