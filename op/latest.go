package op

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowengine/flowengine/graph"
	"github.com/flowengine/flowengine/record"
)

// Latest keeps the most recently inserted tuple per key over a single
// ancestor, materialized (spec.md §4.2). A positive input retires the
// prior tuple for its key (if any) and installs itself; a negative is only
// meaningful as half of an update (retract-old, insert-new) delivered in
// the same batch as a positive for the same key — a standalone negative is
// a Data-kind error (spec.md §7) and panics, matching the engine's
// no-recovery policy for upstream correctness bugs.
type Latest struct {
	self    graph.Address
	parent  graph.Address
	columns int
	keyCols []int

	mu     sync.Mutex
	state  map[string]record.Tuple
	lastTS map[string]uint64
	log    *logrus.Entry
}

// NewLatest builds a latest-per-group operator over parent keyed by
// keyCols.
func NewLatest(self, parent graph.Address, columns int, keyCols []int) *Latest {
	return &Latest{
		self:    self,
		parent:  parent,
		columns: columns,
		keyCols: keyCols,
		state:   make(map[string]record.Tuple),
		lastTS:  make(map[string]uint64),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
}

// SetLogger replaces the default standard-logger entry with one carrying
// the engine's configured component fields.
func (l *Latest) SetLogger(log *logrus.Entry) { l.log = log }

func (l *Latest) Kind() graph.Kind         { return graph.KindLatest }
func (l *Latest) Columns() int             { return l.columns }
func (l *Latest) Parents() []graph.Address { return []graph.Address{l.parent} }

func (l *Latest) key(row record.Tuple) string {
	return row.Project(l.keyCols).Key(allCols(len(l.keyCols)))
}

func (l *Latest) OnInput(from graph.Address, b record.Batch, _ Resolver) (record.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	positiveKeys := make(map[string]bool, len(b.Records))
	for _, rec := range b.Records {
		if rec.Sign == record.Positive {
			positiveKeys[l.key(rec.Row)] = true
		}
	}

	var out []record.Record
	for _, rec := range b.Records {
		k := l.key(rec.Row)
		switch rec.Sign {
		case record.Positive:
			if prior, ok := l.state[k]; ok {
				out = append(out, record.NewNegative(prior, rec.Timestamp))
			}
			if last, ok := l.lastTS[k]; ok && rec.Timestamp < last {
				l.log.WithFields(logrus.Fields{"key": []record.Value(rec.Row.Project(l.keyCols)), "applied_ts": last, "record_ts": rec.Timestamp}).
					Warn("op: Latest: record applied out of timestamp order for its key")
			}
			out = append(out, record.NewPositive(rec.Row, rec.Timestamp))
			l.state[k] = rec.Row
			l.lastTS[k] = rec.Timestamp
		case record.Negative:
			if !positiveKeys[k] {
				panic(fmt.Sprintf("op: Latest: standalone retraction for key %v with no matching insert in the same batch", []record.Value(rec.Row.Project(l.keyCols))))
			}
			// The accompanying positive already emitted the retire/install
			// pair for this key; the input negative carries no further
			// obligation downstream.
		}
	}
	if len(out) == 0 {
		return record.Batch{}, nil
	}
	return record.Batch{Edge: b.Edge, Records: out, Timestamp: b.Timestamp}, nil
}

// PointQuery is never invoked: latest is always materialized.
func (l *Latest) PointQuery(record.Query, Resolver) ([]record.Tuple, error) {
	return nil, nil
}

func (l *Latest) SuggestIndices() []IndexSuggestion {
	return []IndexSuggestion{{Node: l.self, Cols: l.keyCols}}
}

func (l *Latest) Resolve(col int) []ColumnOrigin {
	return []ColumnOrigin{{Node: l.parent, Column: col}}
}

func (l *Latest) WillQuery(bool) bool { return false }
