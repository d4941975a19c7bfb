package record

import "fmt"

// Sign distinguishes an insertion from a retraction.
type Sign int8

const (
	// Positive marks an insertion.
	Positive Sign = 1
	// Negative marks a retraction; it must match a previously delivered
	// Positive tuple on the same edge exactly.
	Negative Sign = -1
)

// Record is a signed tuple carrying a monotonic logical timestamp.
type Record struct {
	Row       Tuple
	Sign      Sign
	Timestamp uint64
}

// NewPositive builds an insertion record.
func NewPositive(row Tuple, ts uint64) Record {
	return Record{Row: row, Sign: Positive, Timestamp: ts}
}

// NewNegative builds a retraction record.
func NewNegative(row Tuple, ts uint64) Record {
	return Record{Row: row, Sign: Negative, Timestamp: ts}
}

// Negate returns a record with the opposite sign and the same row, used when
// an operator replaces an old output value with a new one (aggregation,
// latest-per-group).
func (r Record) Negate() Record {
	return Record{Row: r.Row, Sign: -r.Sign, Timestamp: r.Timestamp}
}

// WithTimestamp returns a copy of r stamped with ts.
func (r Record) WithTimestamp(ts uint64) Record {
	r.Timestamp = ts
	return r
}

func (r Record) String() string {
	sign := "+"
	if r.Sign == Negative {
		sign = "-"
	}
	return fmt.Sprintf("%s%v@%d", sign, []Value(r.Row), r.Timestamp)
}

// Batch is a non-empty set of records sharing one source edge and delivered
// as a unit. Timestamps need not be identical within a batch for Base
// emissions (each row may be separately timestamped upstream), but every
// Update the engine passes around is the delta produced by a single input
// event and carries the timestamp of that event once it leaves an operator
// that collapses the batch to one timestamp (aggregation, latest, join).
type Batch struct {
	// Edge identifies the producing edge's address, used by downstream
	// operators and the domain runtime to look up routing and ordering
	// state. Opaque to this package; see package graph.
	Edge      uint64
	Records   []Record
	Timestamp uint64
}

// NewBatch builds a Batch, deriving its Timestamp from the last record if one
// is not given explicitly by the caller (use Batch{...} directly when the
// timestamp must be set before any record is known, e.g. Base inserts).
func NewBatch(edge uint64, ts uint64, records ...Record) Batch {
	if ts == 0 && len(records) > 0 {
		ts = records[len(records)-1].Timestamp
	}
	return Batch{Edge: edge, Records: records, Timestamp: ts}
}

// Empty reports whether the batch carries no records. An Update must never
// be empty once constructed for delivery; operators that would produce no
// change simply do not emit.
func (b Batch) Empty() bool { return len(b.Records) == 0 }

// Positives returns only the Positive records of the batch, in order.
func (b Batch) Positives() []Record {
	out := make([]Record, 0, len(b.Records))
	for _, r := range b.Records {
		if r.Sign == Positive {
			out = append(out, r)
		}
	}
	return out
}

// Negatives returns only the Negative records of the batch, in order.
func (b Batch) Negatives() []Record {
	out := make([]Record, 0, len(b.Records))
	for _, r := range b.Records {
		if r.Sign == Negative {
			out = append(out, r)
		}
	}
	return out
}
