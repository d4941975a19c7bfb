package op

import (
	"sync"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Ingress is a pure cross-domain entry conduit: it carries no operator
// logic of its own and passes every batch through unchanged (spec.md
// §4.2).
type Ingress struct {
	parent  graph.Address
	columns int
}

// NewIngress builds an ingress node reading from parent (an Egress in
// another domain).
func NewIngress(parent graph.Address, columns int) *Ingress {
	return &Ingress{parent: parent, columns: columns}
}

func (i *Ingress) Kind() graph.Kind         { return graph.KindIngress }
func (i *Ingress) Columns() int             { return i.columns }
func (i *Ingress) Parents() []graph.Address { return []graph.Address{i.parent} }

func (i *Ingress) OnInput(_ graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	return b, nil
}

func (i *Ingress) PointQuery(q record.Query, r Resolver) ([]record.Tuple, error) {
	return r.Query(i.parent, q)
}

func (i *Ingress) SuggestIndices() []IndexSuggestion { return nil }

func (i *Ingress) Resolve(col int) []ColumnOrigin {
	return []ColumnOrigin{{Node: i.parent, Column: col}}
}

func (i *Ingress) WillQuery(materialized bool) bool { return !materialized }

// Egress is a pure cross-domain exit conduit. It additionally holds the
// replay routing table mapping a tag to the downstream ingress it feeds,
// used only by the migration protocol (package migrate) to route
// ReplayChunk packets without changing normal traffic behavior.
type Egress struct {
	parent  graph.Address
	columns int

	mu     sync.RWMutex
	routes map[uint32]graph.Address
}

// NewEgress builds an egress node reading from parent.
func NewEgress(parent graph.Address, columns int) *Egress {
	return &Egress{parent: parent, columns: columns, routes: make(map[uint32]graph.Address)}
}

func (e *Egress) Kind() graph.Kind         { return graph.KindEgress }
func (e *Egress) Columns() int             { return e.columns }
func (e *Egress) Parents() []graph.Address { return []graph.Address{e.parent} }

func (e *Egress) OnInput(_ graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	return b, nil
}

func (e *Egress) PointQuery(q record.Query, r Resolver) ([]record.Tuple, error) {
	return r.Query(e.parent, q)
}

func (e *Egress) SuggestIndices() []IndexSuggestion { return nil }

func (e *Egress) Resolve(col int) []ColumnOrigin {
	return []ColumnOrigin{{Node: e.parent, Column: col}}
}

func (e *Egress) WillQuery(materialized bool) bool { return !materialized }

// SetRoute registers where replay chunks tagged tag should be forwarded.
func (e *Egress) SetRoute(tag uint32, downstreamIngress graph.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes[tag] = downstreamIngress
}

// RouteFor returns the downstream ingress registered for tag, if any.
func (e *Egress) RouteFor(tag uint32) (graph.Address, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	addr, ok := e.routes[tag]
	return addr, ok
}
