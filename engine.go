// Package flowengine is the external API: a streaming, partially
// materialized dataflow engine evaluated incrementally over a directed
// acyclic operator graph, sharded into domains, with online migration
// (spec.md §1, §6).
package flowengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flowengine/flowengine/config"
	"github.com/flowengine/flowengine/domain"
	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/logctx"
	"github.com/flowengine/flowengine/metrics"
	"github.com/flowengine/flowengine/migrate"
	"github.com/flowengine/flowengine/op"
	"github.com/flowengine/flowengine/plan"
	"github.com/flowengine/flowengine/reader"
	"github.com/flowengine/flowengine/record"
)

// Writer assigns a timestamp to and delivers one row into a base table.
type Writer func(row record.Tuple) (uint64, error)

// Reader answers a point query (nil for "every row") against a
// materialized view.
type Reader func(q *record.Query) ([]record.Tuple, error)

type pendingNode struct {
	addr         graph.Address
	materializePref bool
}

// Engine owns a graph, its sharded domains, and the migration coordinator
// that brings new nodes online (spec.md §6's Operator API).
type Engine struct {
	cfg config.EngineConfig
	log *logrus.Entry

	mu      sync.Mutex
	g       *graph.Graph
	ops     map[graph.Address]op.Operator
	domains map[graph.Domain]*domain.Domain
	readers map[graph.Address]*reader.Handle
	pending []pendingNode
	ts      atomic.Uint64

	// byName indexes every committed node's writer/reader/streaming replica
	// by its graph.Node.Name, for the transport package's path-parameter
	// routing (SPEC_FULL.md §6.2); AddBase/AddOperator only hand back
	// addresses, so this is the registry a name-keyed HTTP surface needs.
	addrByName map[string]graph.Address
	writers    map[string]Writer
	readerFns  map[string]Reader

	metrics *metrics.Metrics
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// New builds an engine with cfg.Domains domains (at least one), each with
// an inbox of cfg.InboxCapacity, fully meshed so any node can route an
// Egress's output to any other domain's Ingress.
func New(cfg config.EngineConfig) *Engine {
	n := cfg.Domains
	if n < 1 {
		n = 1
	}
	log := logctx.New("engine", cfg.LogFormat, cfg.LogLevel)
	m := metrics.New()

	e := &Engine{
		cfg:     cfg,
		log:     log,
		g:       graph.New(),
		ops:        make(map[graph.Address]op.Operator),
		domains:    make(map[graph.Domain]*domain.Domain),
		readers:    make(map[graph.Address]*reader.Handle),
		addrByName: make(map[string]graph.Address),
		writers:    make(map[string]Writer),
		readerFns:  make(map[string]Reader),
		metrics:    m,
	}

	for i := 0; i < n; i++ {
		id := graph.Domain(i)
		d := domain.New(id, cfg.InboxCapacity, log.WithField("domain", id))
		d.SetMetrics(m)
		e.domains[id] = d
	}
	for id, d := range e.domains {
		for peerID, peer := range e.domains {
			if id != peerID {
				d.LinkDomain(peerID, peer.Inbox())
			}
		}
	}
	return e
}

// Metrics returns the engine's prometheus collector set, for registration
// against an external registry.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Run starts every domain's loop goroutine under a shared errgroup,
// replacing ad hoc WaitGroup bookkeeping so migration and shutdown both
// wait on the same supervisor (SPEC_FULL.md §5).
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	e.group = group
	for _, d := range e.domains {
		d := d
		group.Go(func() error {
			go d.Run()
			<-ctx.Done()
			d.Stop()
			return nil
		})
	}
}

// Close stops every domain and waits for Run's supervisor to finish.
func (e *Engine) Close() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	return e.group.Wait()
}

func (e *Engine) pickDomain() graph.Domain {
	best := graph.Domain(0)
	bestLen := -1
	for id := range e.domains {
		n := len(e.g.NodesInDomain(id))
		if bestLen == -1 || n < bestLen || (n == bestLen && id < best) {
			best, bestLen = id, n
		}
	}
	return best
}

// AddBase registers a new base table node (spec.md §6, graph.add_base).
func (e *Engine) AddBase(name string, columns int) (graph.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dom := e.pickDomain()
	addr := e.g.AddNode(dom, graph.KindBase, name, columns)
	e.ops[addr] = op.NewBase(addr, columns, []int{0})
	e.pending = append(e.pending, pendingNode{addr: addr, materializePref: true})
	return addr, nil
}

// AddOperator wires a derived operator against already-committed or
// pending ancestors (spec.md §6, graph.add_operator). build receives the
// node's own freshly assigned address, since several operators (Aggregation,
// Latest, Reader) name themselves in their index suggestions. kind is the
// node kind build's operator will report via Operator.Kind(), needed before
// build runs because the node must exist before the operator can reference
// its own address. materializePref is a caller hint: true forces
// materialization regardless of the planner's own rule 1 (spec.md §4.5),
// matching the "materialize_pref" parameter of the distilled spec's API.
func (e *Engine) AddOperator(name string, columns int, kind graph.Kind, materializePref bool, build func(self graph.Address) (op.Operator, error), parents ...graph.Address) (graph.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(parents) == 0 {
		return graph.Address{}, fmt.Errorf("flowengine: AddOperator %q: at least one parent is required", name)
	}
	dom := parents[0].Domain
	addr := e.g.AddNode(dom, kind, name, columns)
	for _, p := range parents {
		if err := e.g.AddEdge(p, addr); err != nil {
			return graph.Address{}, err
		}
	}
	operator, err := build(addr)
	if err != nil {
		return graph.Address{}, err
	}
	e.ops[addr] = operator
	e.pending = append(e.pending, pendingNode{addr: addr, materializePref: materializePref})
	return addr, nil
}

// AddRemoteOperator wires addr's operator against a parent living in a
// different domain by inserting the Egress/Ingress pair the graph's
// domain-crossing invariant requires (spec.md §4.3), returning the local
// Ingress address to pass as operator's parent.
func (e *Engine) AddRemoteOperator(targetDomain graph.Domain, parent graph.Address) (graph.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if parent.Domain == targetDomain {
		return graph.Address{}, fmt.Errorf("flowengine: AddRemoteOperator: parent %s is already in domain %d", parent, targetDomain)
	}
	parentNode := e.g.Node(parent)
	if parentNode == nil {
		return graph.Address{}, fmt.Errorf("flowengine: unknown parent %s", parent)
	}
	egress := e.g.AddNode(parent.Domain, graph.KindEgress, parentNode.Name+"-egress", parentNode.Columns)
	if err := e.g.AddEdge(parent, egress); err != nil {
		return graph.Address{}, err
	}
	egressOp := op.NewEgress(parent, parentNode.Columns)
	e.ops[egress] = egressOp
	e.pending = append(e.pending, pendingNode{addr: egress})

	ingress := e.g.AddNode(targetDomain, graph.KindIngress, parentNode.Name+"-ingress", parentNode.Columns)
	if err := e.g.AddEdge(egress, ingress); err != nil {
		return graph.Address{}, err
	}
	e.ops[ingress] = op.NewIngress(egress, parentNode.Columns)
	e.pending = append(e.pending, pendingNode{addr: ingress})

	// Reserved tag 0 is the steady-state route every non-replay message
	// follows (see domain.Domain.sendCrossDomain).
	egressOp.SetRoute(0, ingress)
	return ingress, nil
}

// Commit plans and migrates every pending node added since the last
// Commit, then returns writer/reader functions for the bases and
// materialized views among them (spec.md §6, graph.commit).
func (e *Engine) Commit() (map[graph.Address]Writer, map[graph.Address]Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return map[graph.Address]Writer{}, map[graph.Address]Reader{}, nil
	}

	newAddrs := make([]graph.Address, 0, len(e.pending))
	prefs := make(map[graph.Address]bool, len(e.pending))
	for _, p := range e.pending {
		newAddrs = append(newAddrs, p.addr)
		prefs[p.addr] = p.materializePref
	}

	for _, addr := range newAddrs {
		e.registerInDomain(addr)
	}

	planner := plan.New(e.g, e.ops)
	result, err := planner.Plan(newAddrs)
	if err != nil {
		return nil, nil, err
	}
	for addr, want := range prefs {
		if want {
			result.Materialized[addr] = true
			if len(result.Indices[addr]) == 0 {
				result.Indices[addr] = [][]int{{0}}
			}
		}
	}

	coord := migrate.New(e.g, e.domains)
	coord.SetMetrics(e.metrics)
	if err := coord.Migrate(newAddrs, result.Materialized, result.Indices); err != nil {
		return nil, nil, err
	}

	writers := make(map[graph.Address]Writer)
	readers := make(map[graph.Address]Reader)
	for _, addr := range newAddrs {
		node := e.g.Node(addr)
		e.addrByName[node.Name] = addr
		if node.Kind == graph.KindBase {
			w := e.writerFor(addr)
			writers[addr] = w
			e.writers[node.Name] = w
		}
		if result.Materialized[addr] {
			r := e.readerFor(addr)
			readers[addr] = r
			e.readerFns[node.Name] = r
			if node.Kind == graph.KindReader {
				e.attachStreamingReplica(addr, result.Indices[addr])
			}
		}
	}

	e.pending = nil
	return writers, readers, nil
}

func (e *Engine) registerInDomain(addr graph.Address) {
	d := e.domains[addr.Domain]
	if d.Node(addr) != nil {
		return
	}
	node := e.g.Node(addr)
	operator := e.ops[addr]
	var children []graph.Address
	for _, c := range node.Children() {
		if c.Domain == addr.Domain {
			children = append(children, c)
		}
	}
	primary := []int{0}
	if b, ok := operator.(*op.Base); ok {
		primary = b.PrimaryKey()
	}
	// materialized is always false here: a node only gains its store once
	// migrate.Coordinator's PrepareState packet runs, which allocates the
	// correct store.Kind for this operator (op.PrimaryKind) at that time.
	d.RegisterNode(addr, operator, false, primary, op.PrimaryKind(operator), children)
}

func (e *Engine) writerFor(addr graph.Address) Writer {
	d := e.domains[addr.Domain]
	return func(row record.Tuple) (uint64, error) {
		ts := e.ts.Add(1)
		batch := record.Batch{Edge: uint64(addr.Index), Records: []record.Record{record.NewPositive(row, ts)}, Timestamp: ts}
		// Send blocks until the domain's inbox has room, the engine's sole
		// backpressure mechanism (spec.md §5); no separate ack is needed.
		d.Send(domain.Packet{Type: domain.PacketMessage, From: addr, To: addr, Update: batch})
		return ts, nil
	}
}

func (e *Engine) readerFor(addr graph.Address) Reader {
	d := e.domains[addr.Domain]
	return func(q *record.Query) ([]record.Tuple, error) {
		query := record.Query{}
		if q != nil {
			query = *q
		}
		return d.Query(addr, query)
	}
}

// attachStreamingReplica wires a Reader node's output to a lock-free
// external replica (package reader), seeded from the node's existing
// materialized state so subscribers that attach after data already
// exists see it immediately (SPEC_FULL.md §6.2).
func (e *Engine) attachStreamingReplica(addr graph.Address, idx [][]int) {
	keyCols := []int{0}
	if len(idx) > 0 {
		keyCols = idx[0]
	}
	h := reader.New(keyCols)
	d := e.domains[addr.Domain]
	if entry := d.Node(addr); entry != nil && entry.Store != nil {
		rows, epoch := entry.Store.All()
		h.Seed(rows, epoch)
	}
	e.readers[addr] = h

	sink := make(chan record.Batch, 64)
	d.RegisterSink(addr, sink)
	go func() {
		for batch := range sink {
			h.Apply(batch)
		}
	}()
}

// StreamingReplica returns the lock-free read replica attached to a
// Reader node by Commit, for the transport package's WebSocket push path.
func (e *Engine) StreamingReplica(addr graph.Address) (*reader.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.readers[addr]
	return h, ok
}

// WriterByName looks up a committed base table's writer by the name it was
// given to AddBase, for the transport package's POST /tables/:name route.
func (e *Engine) WriterByName(name string) (Writer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.writers[name]
	return w, ok
}

// ReaderByName looks up a committed materialized view's reader by the name
// it was given to AddBase/AddOperator, for GET /views/:name.
func (e *Engine) ReaderByName(name string) (Reader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.readerFns[name]
	return r, ok
}

// StreamingReplicaByName resolves a node name to its streaming replica, for
// GET /views/:name/stream.
func (e *Engine) StreamingReplicaByName(name string) (*reader.Handle, bool) {
	e.mu.Lock()
	addr, ok := e.addrByName[name]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.StreamingReplica(addr)
}
