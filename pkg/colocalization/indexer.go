package colocalization

import "fmt"

const (
	// MinChannels is the smallest number of channels (or stamp slices) in one analysis
	MinChannels = 2

	// MaxChannels is the largest number of channels (or stamp slices) in one analysis
	MaxChannels = 8
)

// Indexer packs per-channel activity flags into a combination index.
// Flag 0 is the most significant bit, so the order channels were declared in
// decides which index a given activity pattern maps to.
type Indexer struct {
	n int
}

// NewIndexer creates an indexer for n flags
func NewIndexer(n int) (Indexer, error) {
	if n < MinChannels || n > MaxChannels {
		return Indexer{}, fmt.Errorf("%w: %d channels, supported range is %d-%d",
			ErrInvalidConfiguration, n, MinChannels, MaxChannels)
	}
	return Indexer{n: n}, nil
}

// Width returns the number of flags packed per index
func (ix Indexer) Width() int {
	return ix.n
}

// ComboCount returns 2^N, the size of a count table for this indexer
func (ix Indexer) ComboCount() int {
	return 1 << ix.n
}

// Pack computes the combination index of flags. Packing more flags than the
// indexer was built for fails with ErrIndexOverflow instead of producing an
// index outside [0, 2^N).
func (ix Indexer) Pack(flags []bool) (int, error) {
	if len(flags) > ix.n {
		return 0, fmt.Errorf("%w: %d flags packed into a %d-bit index", ErrIndexOverflow, len(flags), ix.n)
	}
	if len(flags) < ix.n {
		return 0, fmt.Errorf("%w: %d flags packed into a %d-bit index", ErrInvalidConfiguration, len(flags), ix.n)
	}

	index := 0
	for _, active := range flags {
		index <<= 1
		if active {
			index |= 1
		}
	}
	return index, nil
}

// Unpack returns the flags encoded in index, flag 0 first. It is the exact
// inverse of Pack and is what the report uses to label rows.
func (ix Indexer) Unpack(index int) ([]bool, error) {
	if index < 0 || index >= ix.ComboCount() {
		return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrIndexOverflow, index, ix.ComboCount())
	}
	flags := make([]bool, ix.n)
	for j := 0; j < ix.n; j++ {
		flags[j] = index&(1<<(ix.n-1-j)) != 0
	}
	return flags, nil
}

// AllActive returns the index of the combination where every flag is set
func (ix Indexer) AllActive() int {
	return ix.ComboCount() - 1
}
