package colocalization

import (
	"fmt"
	"math"

	"multiplexcoloc/internal/models"
)

// Stamp is one independently tallied image group. Each slice of the stamp
// plays the role of a channel: slice 0 is the most significant bit.
type Stamp struct {
	Label string
	Stack *models.Stack
}

// StampSet is a validated collection of stamps sharing one geometry and one
// threshold per slice position
type StampSet struct {
	stamps     []Stamp
	thresholds []float64
	geometry   models.Geometry
	indexer    Indexer
}

// NewStampSet validates stamps and per-slice thresholds. The combination
// width is the slice count of the stamps, which must match len(thresholds).
func NewStampSet(stamps []Stamp, thresholds []float64) (*StampSet, error) {
	if len(stamps) == 0 {
		return nil, fmt.Errorf("%w: no stamps", ErrInvalidConfiguration)
	}

	stacks := make([]*models.Stack, len(stamps))
	for i, s := range stamps {
		stacks[i] = s.Stack
	}
	geometry, err := validateStacks(stacks, "stamp")
	if err != nil {
		return nil, err
	}

	indexer, err := NewIndexer(geometry.Slices)
	if err != nil {
		return nil, fmt.Errorf("stamp slice count: %w", err)
	}
	if len(thresholds) != geometry.Slices {
		return nil, fmt.Errorf("%w: %d thresholds for %d slices per stamp",
			ErrInvalidConfiguration, len(thresholds), geometry.Slices)
	}
	for i, t := range thresholds {
		if math.IsNaN(t) {
			return nil, fmt.Errorf("%w: slice %d threshold is not a number", ErrInvalidConfiguration, i)
		}
	}

	return &StampSet{
		stamps:     append([]Stamp(nil), stamps...),
		thresholds: append([]float64(nil), thresholds...),
		geometry:   geometry,
		indexer:    indexer,
	}, nil
}

// Len returns the number of stamps
func (ss *StampSet) Len() int {
	return len(ss.stamps)
}

// Stamp returns stamp i
func (ss *StampSet) Stamp(i int) Stamp {
	return ss.stamps[i]
}

// Labels returns the stamp labels, substituting "S<i>" for empty ones
func (ss *StampSet) Labels() []string {
	labels := make([]string, len(ss.stamps))
	for i, s := range ss.stamps {
		labels[i] = s.Label
		if labels[i] == "" {
			labels[i] = fmt.Sprintf("S%d", i)
		}
	}
	return labels
}

// Thresholds returns the per-slice thresholds
func (ss *StampSet) Thresholds() []float64 {
	return append([]float64(nil), ss.thresholds...)
}

// Geometry returns the shape shared by all stamps
func (ss *StampSet) Geometry() models.Geometry {
	return ss.geometry
}

// ComboCount returns 2^K for K slices per stamp
func (ss *StampSet) ComboCount() int {
	return ss.indexer.ComboCount()
}

// Indexer returns the combination indexer for the stamp slices
func (ss *StampSet) Indexer() Indexer {
	return ss.indexer
}
