package reader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowengine/flowengine/reader"
	"github.com/flowengine/flowengine/record"
)

func TestApplyPositiveThenLookup(t *testing.T) {
	h := reader.New([]int{0})
	h.Apply(record.NewBatch(1, 5, record.NewPositive(record.Tuple{record.Int(1), record.Text("a")}, 5)))

	rows, epoch := h.Lookup(record.Tuple{record.Int(1)})
	assert.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0][1].String())
	assert.Equal(t, uint64(5), epoch)
}

func TestApplyNegativeRemovesMatchingRow(t *testing.T) {
	h := reader.New([]int{0})
	h.Apply(record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(1), record.Int(10)}, 1)))
	h.Apply(record.NewBatch(1, 2, record.NewNegative(record.Tuple{record.Int(1), record.Int(10)}, 2)))

	rows, _ := h.Lookup(record.Tuple{record.Int(1)})
	assert.Empty(t, rows)
	assert.Equal(t, 0, h.Len())
}

func TestApplyToleratesStandaloneNegativeWithoutPanicking(t *testing.T) {
	h := reader.New([]int{0})
	assert.NotPanics(t, func() {
		h.Apply(record.NewBatch(1, 1, record.NewNegative(record.Tuple{record.Int(99), record.Int(1)}, 1)))
	})
}

func TestAllReturnsEveryRowAcrossKeys(t *testing.T) {
	h := reader.New([]int{0})
	h.Apply(record.NewBatch(1, 1,
		record.NewPositive(record.Tuple{record.Int(1), record.Int(1)}, 1),
		record.NewPositive(record.Tuple{record.Int(2), record.Int(2)}, 1),
	))
	assert.Len(t, h.All(), 2)
}

// TestLookupWithNonLeadingKeyColumn covers a key that is not column 0: the
// row is (title, id), keyed on id (column 1), so Lookup's projected key
// tuple has length 1 while the underlying rows have length 2 — indexing
// the projected key by the original column position (1) rather than its
// own position (0) would panic or silently miss.
func TestLookupWithNonLeadingKeyColumn(t *testing.T) {
	h := reader.New([]int{1})
	h.Apply(record.NewBatch(1, 5, record.NewPositive(record.Tuple{record.Text("a"), record.Int(7)}, 5)))

	rows, epoch := h.Lookup(record.Tuple{record.Int(7)})
	assert.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0][0].String())
	assert.Equal(t, uint64(5), epoch)
}

// TestLookupWithMultiColumnKey covers a compound key spanning more than
// one column.
func TestLookupWithMultiColumnKey(t *testing.T) {
	h := reader.New([]int{0, 2})
	h.Apply(record.NewBatch(1, 1, record.NewPositive(record.Tuple{record.Int(1), record.Text("x"), record.Int(2)}, 1)))

	rows, _ := h.Lookup(record.Tuple{record.Int(1), record.Int(2)})
	assert.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0][1].String())

	rows, _ = h.Lookup(record.Tuple{record.Int(1), record.Int(3)})
	assert.Empty(t, rows)
}
