// Package plan implements the materialization planner: it decides which
// nodes hold state and which indices they maintain (spec.md §4.5).
package plan

import (
	"fmt"
	"sort"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/op"
)

// ProtocolError reports a migration-time planning failure — an index
// suggested against a node that cannot hold one (spec.md §7, Protocol
// errors).
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("plan: %s: %s", e.Op, e.Msg) }

func protocolErrorf(op, format string, args ...any) error {
	return &ProtocolError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Result is the planner's output: which nodes materialize, and per
// materialized node, the column sets it indexes.
type Result struct {
	Materialized map[graph.Address]bool
	Indices      map[graph.Address][][]int
}

// Planner decides materialization and indices for a graph. One Planner may
// be reused across migrations; each call to Plan uses its own queryable-
// through memoization cache, reset per run (SPEC_FULL.md §9.4) since edge
// and operator state can change between migrations.
type Planner struct {
	g   *graph.Graph
	ops map[graph.Address]op.Operator
}

// New builds a planner over g, with ops supplying every node's operator
// implementation (addresses not present are treated as pure conduits with
// no operator-level behavior, i.e. ingress/egress carry none).
func New(g *graph.Graph, ops map[graph.Address]op.Operator) *Planner {
	return &Planner{g: g, ops: ops}
}

// requestsState reports whether a node kind always holds its own state
// regardless of downstream demand (spec.md §4.5, rule 1).
func requestsState(k graph.Kind) bool {
	switch k {
	case graph.KindBase, graph.KindAggregation, graph.KindLatest, graph.KindReader:
		return true
	default:
		return false
	}
}

// queryThroughCapable reports whether a node kind's operator can answer a
// point query by forwarding to its ancestors rather than from its own
// state — every kind except the always-materialized ones.
func queryThroughCapable(k graph.Kind) bool {
	return !requestsState(k)
}

// Plan computes the materialization set and index assignment for the
// nodes named in newNodes (and transitively, whatever ancestors the
// planner must visit to answer their queries).
func (p *Planner) Plan(newNodes []graph.Address) (Result, error) {
	materialized := make(map[graph.Address]bool)
	inquisitive := make(map[graph.Address]bool)
	queryThroughCache := make(map[graph.Address]bool) // per-run memo, SPEC_FULL.md §9.4

	// Rule 1: nodes that always request state, or whose outgoing edge
	// demands materialized input.
	for _, addr := range newNodes {
		n := p.g.Node(addr)
		if n == nil {
			return Result{}, fmt.Errorf("plan: unknown node %s in new-node set", addr)
		}
		if requestsState(n.Kind) {
			materialized[addr] = true
			continue
		}
		for _, child := range n.Children() {
			if p.g.EdgeRequiresMaterialization(addr, child) {
				materialized[addr] = true
				break
			}
		}
	}

	// Rule 2: backward traversal from every querying node.
	var walk func(addr graph.Address)
	walk = func(addr graph.Address) {
		n := p.g.Node(addr)
		if n == nil {
			return
		}
		for _, parent := range n.Parents() {
			inquisitive[parent] = true
			if materialized[parent] {
				continue
			}
			pn := p.g.Node(parent)
			canPass, ok := queryThroughCache[parent]
			if !ok {
				canPass = queryThroughCapable(pn.Kind)
				queryThroughCache[parent] = canPass
			}
			if canPass {
				walk(parent)
			} else {
				materialized[parent] = true
			}
		}
	}
	for _, addr := range newNodes {
		operator, ok := p.ops[addr]
		if !ok {
			continue
		}
		if operator.WillQuery(materialized[addr]) {
			walk(addr)
		}
	}

	// Rule 3: any ingress with an inquisitive descendant materializes.
	for addr := range inquisitive {
		n := p.g.Node(addr)
		if n != nil && n.Kind == graph.KindIngress {
			materialized[addr] = true
		}
	}

	// Rule 4: hoisting. A node that can be queried through, is currently
	// materialized, and has a materialized outgoing edge gives up its own
	// materialization in favor of its parents.
	for _, addr := range newNodes {
		n := p.g.Node(addr)
		if n == nil || !materialized[addr] || !queryThroughCapable(n.Kind) {
			continue
		}
		hasMaterializedOut := false
		for _, child := range n.Children() {
			if p.g.EdgeRequiresMaterialization(addr, child) {
				hasMaterializedOut = true
				break
			}
		}
		if !hasMaterializedOut {
			continue
		}
		delete(materialized, addr)
		for _, parent := range n.Parents() {
			materialized[parent] = true
		}
	}

	indices, err := p.chooseIndices(materialized)
	if err != nil {
		return Result{}, err
	}
	return Result{Materialized: materialized, Indices: indices}, nil
}

// chooseIndices implements spec.md §4.5's index rules: every operator's
// suggestions are attached to the materialized node they target; a
// suggestion against a non-materialized internal node is a protocol error;
// and a materialized node left with no indices drops out of the
// materialization set, unless it is a base (which defaults to column 0).
func (p *Planner) chooseIndices(materialized map[graph.Address]bool) (map[graph.Address][][]int, error) {
	indices := make(map[graph.Address][][]int)
	var addrs []graph.Address
	for addr := range p.ops {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Domain != addrs[j].Domain {
			return addrs[i].Domain < addrs[j].Domain
		}
		return addrs[i].Index < addrs[j].Index
	})

	for _, addr := range addrs {
		for _, sug := range p.ops[addr].SuggestIndices() {
			if !materialized[sug.Node] {
				n := p.g.Node(sug.Node)
				if n != nil && n.Kind == graph.KindIngress {
					return nil, protocolErrorf("chooseIndices", "ingress %s cannot absorb a suggested index", sug.Node)
				}
				return nil, protocolErrorf("chooseIndices", "index suggested against non-materialized node %s", sug.Node)
			}
			indices[sug.Node] = appendUniqueCols(indices[sug.Node], sug.Cols)
		}
	}

	for addr := range materialized {
		if len(indices[addr]) > 0 {
			continue
		}
		n := p.g.Node(addr)
		if n != nil && n.Kind == graph.KindBase {
			indices[addr] = [][]int{{0}}
			continue
		}
		delete(materialized, addr)
		delete(indices, addr)
	}
	return indices, nil
}

func appendUniqueCols(existing [][]int, cols []int) [][]int {
	for _, e := range existing {
		if intSliceEqual(e, cols) {
			return existing
		}
	}
	return append(existing, cols)
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
