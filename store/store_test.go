package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowengine/flowengine/record"
	"github.com/flowengine/flowengine/store"
)

func row(id int64, name string) record.Tuple {
	return record.Tuple{record.Int(id), record.Text(name)}
}

func TestApplyPositiveThenLookup(t *testing.T) {
	s := store.New([]int{0}, store.Unique)
	s.Apply(record.NewBatch(1, 10, record.NewPositive(row(1, "alice"), 10)))

	got, epoch := s.Lookup([]int{0}, record.Tuple{record.Int(1)})
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(row(1, "alice")))
	assert.Equal(t, uint64(10), epoch)
	assert.Equal(t, 1, s.Len())
}

func TestApplyNegativeRemovesExactMatch(t *testing.T) {
	s := store.New([]int{0}, store.Grouped)
	s.Apply(record.NewBatch(1, 1, record.NewPositive(row(1, "alice"), 1)))
	s.Apply(record.NewBatch(1, 2, record.NewPositive(row(1, "bob"), 2)))
	s.Apply(record.NewBatch(1, 3, record.NewNegative(row(1, "alice"), 3)))

	got, _ := s.Lookup([]int{0}, record.Tuple{record.Int(1)})
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(row(1, "bob")))
	assert.Equal(t, 1, s.Len())
}

func TestNegativeWithoutMatchingPositivePanics(t *testing.T) {
	s := store.New([]int{0}, store.Unique)
	assert.Panics(t, func() {
		s.Apply(record.NewBatch(1, 1, record.NewNegative(row(1, "alice"), 1)))
	})
}

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	s := store.New([]int{0}, store.Unique)
	assert.Panics(t, func() {
		s.Apply(record.NewBatch(1, 1,
			record.NewPositive(row(1, "alice"), 1),
			record.NewPositive(row(1, "alice-again"), 1),
		))
	})
}

func TestAddIndexBackfillsExistingRows(t *testing.T) {
	s := store.New([]int{0}, store.Unique)
	s.Apply(record.NewBatch(1, 1, record.NewPositive(row(1, "alice"), 1)))
	s.Apply(record.NewBatch(1, 2, record.NewPositive(row(2, "bob"), 2)))

	s.AddIndex([]int{1}, store.Unique)
	got, _ := s.Lookup([]int{1}, record.Tuple{record.Text("bob")})
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0][0].Int64())
}

func TestSeedAdvancesEpochWithoutDoubleCounting(t *testing.T) {
	s := store.New([]int{0}, store.Unique)
	s.Seed([]record.Tuple{row(1, "alice"), row(2, "bob")}, 42)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(42), s.Epoch())
	all, _ := s.All()
	assert.Len(t, all, 2)
}

func TestLookupOnUnknownIndexReturnsEmpty(t *testing.T) {
	s := store.New([]int{0}, store.Unique)
	got, _ := s.Lookup([]int{5}, record.Tuple{record.Int(1)})
	assert.Empty(t, got)
}
