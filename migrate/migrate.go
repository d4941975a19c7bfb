// Package migrate implements the online migration and replay protocol: it
// adds new materialized nodes to a running graph by reconstructing their
// state from the closest existing materializations along each ancestor
// path (spec.md §4.6).
package migrate

import (
	"fmt"
	"sync"

	"github.com/flowengine/flowengine/domain"
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/metrics"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/store"
)

// ProtocolError reports a migration-time failure distinct from the
// planner's own (package plan) — specifically a replay plan that would
// cross the same domain twice (spec.md §7).
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("migrate: %s: %s", e.Op, e.Msg) }

func protocolErrorf(op, format string, args ...any) error {
	return &ProtocolError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Coordinator drives migrations against a fixed graph and the set of live
// domains that execute it. The replay tag counter lives here rather than in
// a process-global variable. It is per Coordinator: Engine.Commit builds a
// new Coordinator for every commit, so tags start again at 1 with each
// commit.
type Coordinator struct {
	g       *graph.Graph
	domains map[graph.Domain]*domain.Domain

	mu     sync.Mutex
	nextTag uint32

	metrics *metrics.Metrics // nil disables instrumentation
}

// New builds a migration coordinator over g and the given live domains.
func New(g *graph.Graph, domains map[graph.Domain]*domain.Domain) *Coordinator {
	return &Coordinator{g: g, domains: domains}
}

// SetMetrics attaches a prometheus collector set; passing nil disables
// instrumentation (the default).
func (c *Coordinator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

func (c *Coordinator) allocTag() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTag++
	return c.nextTag
}

// Migrate brings up newNodes in topological order: nodes the planner left
// unmaterialized are readied directly; materialized nodes whose ancestors
// are already known empty skip replay; everything else runs the replay
// protocol first (spec.md §4.6, steps 1-2).
func (c *Coordinator) Migrate(newNodes []graph.Address, materialized map[graph.Address]bool, indices map[graph.Address][][]int) error {
	order, err := c.g.TopoOrder()
	if err != nil {
		return err
	}
	inSet := make(map[graph.Address]bool, len(newNodes))
	for _, n := range newNodes {
		inSet[n] = true
	}

	for _, addr := range order {
		if !inSet[addr] {
			continue
		}
		if !materialized[addr] {
			if err := c.ready(addr, nil); err != nil {
				return err
			}
			continue
		}

		node := c.g.Node(addr)
		parents := node.Parents()
		idx := indices[addr]
		if len(idx) == 0 {
			idx = [][]int{{0}}
		}
		if len(parents) == 0 || c.allAncestorsEmpty(parents, materialized) {
			if err := c.prepareState(addr, idx); err != nil {
				return err
			}
			if err := c.ready(addr, idx); err != nil {
				return err
			}
			continue
		}

		if err := c.replay(addr, materialized, idx); err != nil {
			return err
		}
		if err := c.ready(addr, idx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) ready(addr graph.Address, idx [][]int) error {
	d, ok := c.domains[addr.Domain]
	if !ok {
		return fmt.Errorf("migrate: no domain %d registered for node %s", addr.Domain, addr)
	}
	ack := make(chan struct{})
	d.Send(domain.Packet{Type: domain.PacketReady, Node: addr, Indices: idx, Ack: ack})
	<-ack
	return nil
}

func (c *Coordinator) storeLen(addr graph.Address) int {
	d, ok := c.domains[addr.Domain]
	if !ok {
		return 0
	}
	entry := d.Node(addr)
	if entry == nil || entry.Store == nil {
		return 0
	}
	return entry.Store.Len()
}

func (c *Coordinator) allAncestorsEmpty(parents []graph.Address, materialized map[graph.Address]bool) bool {
	for _, p := range parents {
		if !c.isAncestorEmpty(p, materialized) {
			return false
		}
	}
	return true
}

// isMaterialized reports whether addr holds state, preferring this
// migration's own plan for the nodes it covers and falling back to the
// domain's actual registry for everything that already existed before it
// (ancestors outside the set the planner was asked to place).
func (c *Coordinator) isMaterialized(addr graph.Address, materialized map[graph.Address]bool) bool {
	if v, ok := materialized[addr]; ok {
		return v
	}
	d, ok := c.domains[addr.Domain]
	if !ok {
		return false
	}
	entry := d.Node(addr)
	return entry != nil && entry.Store != nil
}

// isAncestorEmpty reports whether every materialized root reachable
// backward from addr (without crossing another materialized node) holds
// zero tuples, and true vacuously if none are reachable.
func (c *Coordinator) isAncestorEmpty(addr graph.Address, materialized map[graph.Address]bool) bool {
	if c.isMaterialized(addr, materialized) {
		return c.storeLen(addr) == 0
	}
	node := c.g.Node(addr)
	if node == nil {
		return true
	}
	parents := node.Parents()
	if len(parents) == 0 {
		return true
	}
	if node.Kind == graph.KindJoin {
		chosen := c.chooseJoinAncestor(parents, materialized)
		return c.isAncestorEmpty(chosen, materialized)
	}
	for _, p := range parents {
		if !c.isAncestorEmpty(p, materialized) {
			return false
		}
	}
	return true
}

// chooseJoinAncestor implements replay_ancestor(empty_parents): prefer the
// left side unless it is empty (spec.md §4.6).
func (c *Coordinator) chooseJoinAncestor(parents []graph.Address, materialized map[graph.Address]bool) graph.Address {
	left := parents[0]
	if c.isAncestorEmpty(left, materialized) && len(parents) > 1 {
		return parents[1]
	}
	return left
}

// descend walks backward from addr through query-through operators,
// returning every chain that starts at a materialized ancestor and ends at
// addr (included). For a Union all parent chains are returned; for a
// Join only the chosen ancestor's chain; everything else has one parent.
func (c *Coordinator) descend(addr graph.Address, materialized map[graph.Address]bool) [][]graph.Address {
	if c.isMaterialized(addr, materialized) {
		return [][]graph.Address{{addr}}
	}
	node := c.g.Node(addr)
	if node == nil {
		return nil
	}
	parents := node.Parents()
	if len(parents) == 0 {
		return nil
	}

	var fanIn []graph.Address
	switch node.Kind {
	case graph.KindUnion:
		fanIn = parents
	case graph.KindJoin:
		fanIn = []graph.Address{c.chooseJoinAncestor(parents, materialized)}
	default:
		fanIn = parents[:1]
	}

	var out [][]graph.Address
	for _, p := range fanIn {
		for _, sub := range c.descend(p, materialized) {
			out = append(out, append(append([]graph.Address(nil), sub...), addr))
		}
	}
	return out
}

// buildReplayPaths returns every path that must be replayed to
// reconstruct target's state, each running from a materialized ancestor
// through to and including target, with paths ending in an empty ancestor
// already pruned (spec.md §4.6).
func (c *Coordinator) buildReplayPaths(target graph.Address, materialized map[graph.Address]bool) [][]graph.Address {
	node := c.g.Node(target)
	parents := node.Parents()

	var fanIn []graph.Address
	switch node.Kind {
	case graph.KindUnion:
		fanIn = parents
	case graph.KindJoin:
		fanIn = []graph.Address{c.chooseJoinAncestor(parents, materialized)}
	default:
		if len(parents) > 0 {
			fanIn = parents[:1]
		}
	}

	var paths [][]graph.Address
	for _, p := range fanIn {
		for _, sub := range c.descend(p, materialized) {
			paths = append(paths, append(append([]graph.Address(nil), sub...), target))
		}
	}

	var pruned [][]graph.Address
	for _, path := range paths {
		if c.storeLen(path[0]) == 0 {
			continue
		}
		pruned = append(pruned, path)
	}
	return pruned
}

// segment is a maximal same-domain run of a replay path.
type segment struct {
	dom  graph.Domain
	path []graph.Address
}

func partitionSegments(path []graph.Address) []segment {
	var segs []segment
	for _, addr := range path {
		if len(segs) > 0 && segs[len(segs)-1].dom == addr.Domain {
			segs[len(segs)-1].path = append(segs[len(segs)-1].path, addr)
			continue
		}
		segs = append(segs, segment{dom: addr.Domain, path: []graph.Address{addr}})
	}
	return segs
}

func validateNoDomainTwice(segs []segment) error {
	seen := make(map[graph.Domain]bool, len(segs))
	for _, s := range segs {
		if seen[s.dom] {
			return protocolErrorf("validateNoDomainTwice", "replay path visits domain %d more than once", s.dom)
		}
		seen[s.dom] = true
	}
	return nil
}

// replay drives the full replay protocol for target: allocates its
// materialized state, discovers paths, prepares each path's domain
// segments, and executes replay along each, blocking until every path's
// terminal domain reports done.
func (c *Coordinator) replay(target graph.Address, materialized map[graph.Address]bool, idx [][]int) error {
	if len(idx) == 0 {
		idx = [][]int{{0}}
	}
	if err := c.prepareState(target, idx); err != nil {
		return err
	}
	paths := c.buildReplayPaths(target, materialized)
	for _, path := range paths {
		if err := c.replayOnePath(path, idx); err != nil {
			return err
		}
	}
	return nil
}

// prepareState allocates target's materialized state ahead of replay, a
// no-op on the domain side if the node already holds state. The primary
// index's store.Kind follows the node's own operator: Unique for a Base
// or Latest (one row per key), Grouped for everything else.
func (c *Coordinator) prepareState(target graph.Address, idx [][]int) error {
	d, ok := c.domains[target.Domain]
	if !ok {
		return fmt.Errorf("migrate: no domain %d registered for node %s", target.Domain, target)
	}
	kind := store.Grouped
	if entry := d.Node(target); entry != nil {
		kind = op.PrimaryKind(entry.Operator)
	}
	ack := make(chan struct{})
	d.Send(domain.Packet{Type: domain.PacketPrepareState, Node: target, Indices: idx, PrimaryKind: kind, Ack: ack})
	<-ack
	return nil
}

func (c *Coordinator) replayOnePath(path []graph.Address, idx [][]int) error {
	segs := partitionSegments(path)
	if err := validateNoDomainTwice(segs); err != nil {
		return err
	}

	tag := c.allocTag()
	done := make(chan struct{})
	if c.metrics != nil {
		c.metrics.ReplaysStarted.Inc()
	}

	for i, seg := range segs {
		d, ok := c.domains[seg.dom]
		if !ok {
			return fmt.Errorf("migrate: no domain %d registered for replay path", seg.dom)
		}
		ack := make(chan struct{})
		pkt := domain.Packet{Type: domain.PacketSetupReplayPath, Tag: tag, Path: seg.path, Ack: ack}
		if i == len(segs)-1 {
			pkt.Done = done
		}
		d.Send(pkt)
		<-ack

		if i < len(segs)-1 {
			tailEntry := d.Node(seg.path[len(seg.path)-1])
			eg, ok := tailEntry.Operator.(*op.Egress)
			if !ok {
				return fmt.Errorf("migrate: replay segment in domain %d does not end in an egress", seg.dom)
			}
			eg.SetRoute(tag, segs[i+1].path[0])
		}
	}

	root := c.domains[segs[0].dom]
	startAck := make(chan struct{})
	root.Send(domain.Packet{Type: domain.PacketStartReplay, Tag: tag, ReplayFrom: path[0], Ack: startAck})
	<-startAck
	<-done
	if c.metrics != nil {
		c.metrics.ReplaysFinished.Inc()
	}
	return nil
}
