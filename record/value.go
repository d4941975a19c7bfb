// Package record defines the typed tuple values the engine moves through the
// operator graph, and the conjunctive point-query shape used to read a
// materialized view.
package record

import (
	"fmt"
	"time"
)

// Kind tags the underlying type carried by a Value.
type Kind uint8

const (
	// KindNull marks an absent value, produced by left-join padding.
	KindNull Kind = iota
	KindInt
	KindText
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a tagged sum of {integer, text, timestamp, null}.
type Value struct {
	kind Kind
	i    int64
	s    string
	t    time.Time
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Int wraps a 64-bit signed integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Text wraps a string value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Time wraps a timestamp value.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the wrapped integer, panicking if v is not an int.
func (v Value) Int64() int64 {
	if v.kind != KindInt {
		panic(fmt.Sprintf("record: Int64 called on %s value", v.kind))
	}
	return v.i
}

// String returns the wrapped text for a text value, and a printable
// rendering for every other kind ("<null>", the decimal integer, or the
// RFC 3339 timestamp).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "<null>"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindText:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// Timestamp returns the wrapped time, panicking if v is not a timestamp.
func (v Value) Timestamp() time.Time {
	if v.kind != KindTime {
		panic(fmt.Sprintf("record: Timestamp called on %s value", v.kind))
	}
	return v.t
}

// Equal defines element-wise equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindText:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return false
	}
}

// Compare defines element-wise ordering: -1, 0, 1. Null sorts before every
// other kind; values of differing non-null kinds compare by Kind only.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind == KindNull {
			return -1
		}
		if o.kind == KindNull {
			return 1
		}
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindInt:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case KindText:
		switch {
		case v.s < o.s:
			return -1
		case v.s > o.s:
			return 1
		default:
			return 0
		}
	case KindTime:
		switch {
		case v.t.Before(o.t):
			return -1
		case v.t.After(o.t):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Tuple is an ordered sequence of values; the unit of row data the engine
// moves between operators.
type Tuple []Value

// Clone returns a copy of the tuple so callers can retain it past the
// lifetime of the batch it arrived in.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// Equal reports whether two tuples have the same length and equal values at
// every position.
func (t Tuple) Equal(o Tuple) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if !t[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Project returns a new tuple containing only the given column indices, in
// the order given.
func (t Tuple) Project(cols []int) Tuple {
	out := make(Tuple, len(cols))
	for i, c := range cols {
		out[i] = t[c]
	}
	return out
}

// Key builds a comparable map key from the given columns, used to index a
// tuple under a projection.
func (t Tuple) Key(cols []int) string {
	// A length-prefixed encoding avoids ambiguity between e.g. text "a,b" and
	// the two-column key ("a","b").
	buf := make([]byte, 0, 32)
	for _, c := range cols {
		s := t[c].String()
		buf = append(buf, byte(t[c].Kind()))
		buf = appendVarint(buf, len(s))
		buf = append(buf, s...)
	}
	return string(buf)
}

func appendVarint(buf []byte, n int) []byte {
	for n >= 0x80 {
		buf = append(buf, byte(n)|0x80)
		n >>= 7
	}
	return append(buf, byte(n))
}
