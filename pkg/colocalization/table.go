package colocalization

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Table counts pixels per combination index. It is allocated zero-filled
// with 2^N buckets and only ever incremented.
type Table struct {
	counts []uint64
}

// NewTable allocates a zero-filled table with comboCount buckets
func NewTable(comboCount int) *Table {
	return &Table{counts: make([]uint64, comboCount)}
}

// Len returns the number of buckets
func (t *Table) Len() int {
	return len(t.counts)
}

// Increment adds one pixel to bucket index. An index outside the table is a
// fatal inconsistency between the packed flags and the table size.
func (t *Table) Increment(index int) error {
	if index < 0 || index >= len(t.counts) {
		return fmt.Errorf("%w: index %d outside table of %d buckets", ErrIndexOverflow, index, len(t.counts))
	}
	t.counts[index]++
	return nil
}

// Count returns the number of pixels counted in bucket index
func (t *Table) Count(index int) uint64 {
	return t.counts[index]
}

// Counts returns a copy of all buckets in index order
func (t *Table) Counts() []uint64 {
	return append([]uint64(nil), t.counts...)
}

// Sum returns the total number of pixels counted
func (t *Table) Sum() uint64 {
	var total uint64
	for _, c := range t.counts {
		total += c
	}
	return total
}

// Merge adds the buckets of other into t. Both tables must have the same size.
func (t *Table) Merge(other *Table) error {
	if len(other.counts) != len(t.counts) {
		return fmt.Errorf("%w: merging table of %d buckets into %d", ErrIndexOverflow, len(other.counts), len(t.counts))
	}
	for i, c := range other.counts {
		t.counts[i] += c
	}
	return nil
}

// Fractions returns each bucket divided by the table sum. An empty table
// yields all zeros.
func (t *Table) Fractions() []float64 {
	out := make([]float64, len(t.counts))
	for i, c := range t.counts {
		out[i] = float64(c)
	}
	total := floats.Sum(out)
	if total == 0 {
		return out
	}
	floats.Scale(1/total, out)
	return out
}
