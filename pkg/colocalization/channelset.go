package colocalization

import (
	"fmt"
	"math"

	"multiplexcoloc/internal/models"
)

// Channel is one grayscale stack with its activation threshold.
// A pixel is active on the channel iff its raw value is strictly greater
// than Threshold.
type Channel struct {
	// Label names the channel in report headers only
	Label string

	// Stack holds the raw Gray8 planes
	Stack *models.Stack

	// Threshold is compared as a real number; values outside 0-255 are legal
	// and make the channel always or never active
	Threshold float64
}

// Active reports whether a raw value exceeds the channel threshold
func (c Channel) Active(v byte) bool {
	return float64(v) > c.Threshold
}

// ChannelSet is a validated, ordered collection of 2..8 channels sharing one
// geometry. Channel 0 is the most significant bit of the combination index.
type ChannelSet struct {
	channels []Channel
	geometry models.Geometry
	indexer  Indexer
}

// NewChannelSet validates channels and builds a channel set. Inputs are not
// modified.
func NewChannelSet(channels []Channel) (*ChannelSet, error) {
	indexer, err := NewIndexer(len(channels))
	if err != nil {
		return nil, err
	}

	stacks := make([]*models.Stack, len(channels))
	for i, ch := range channels {
		if math.IsNaN(ch.Threshold) {
			return nil, fmt.Errorf("%w: channel %d threshold is not a number", ErrInvalidConfiguration, i)
		}
		stacks[i] = ch.Stack
	}

	geometry, err := validateStacks(stacks, "channel")
	if err != nil {
		return nil, err
	}

	return &ChannelSet{
		channels: append([]Channel(nil), channels...),
		geometry: geometry,
		indexer:  indexer,
	}, nil
}

// Len returns the number of channels
func (cs *ChannelSet) Len() int {
	return len(cs.channels)
}

// Channel returns channel i
func (cs *ChannelSet) Channel(i int) Channel {
	return cs.channels[i]
}

// Labels returns the channel labels in declared order, substituting
// "C<i>" for empty labels
func (cs *ChannelSet) Labels() []string {
	labels := make([]string, len(cs.channels))
	for i, ch := range cs.channels {
		labels[i] = ch.Label
		if labels[i] == "" {
			labels[i] = fmt.Sprintf("C%d", i)
		}
	}
	return labels
}

// Thresholds returns the channel thresholds in declared order
func (cs *ChannelSet) Thresholds() []float64 {
	out := make([]float64, len(cs.channels))
	for i, ch := range cs.channels {
		out[i] = ch.Threshold
	}
	return out
}

// Geometry returns the shape shared by all channels
func (cs *ChannelSet) Geometry() models.Geometry {
	return cs.geometry
}

// ComboCount returns 2^N for N channels
func (cs *ChannelSet) ComboCount() int {
	return cs.indexer.ComboCount()
}

// Indexer returns the combination indexer for this channel set
func (cs *ChannelSet) Indexer() Indexer {
	return cs.indexer
}

// validateStacks checks pixel format and geometry against stack 0
func validateStacks(stacks []*models.Stack, kind string) (models.Geometry, error) {
	var ref models.Geometry
	for i, s := range stacks {
		if s == nil {
			return models.Geometry{}, fmt.Errorf("%w: %s %d has no image", ErrInvalidConfiguration, kind, i)
		}
		if s.Format != models.FormatGray8 {
			return models.Geometry{}, fmt.Errorf("%w: %s %d (%s) is %s, must be gray8",
				ErrUnsupportedPixelFormat, kind, i, s.Name, s.Format)
		}

		g := s.Geometry()
		if i == 0 {
			if g.Width <= 0 || g.Height <= 0 || g.Slices == 0 {
				return models.Geometry{}, fmt.Errorf("%w: %s 0 (%s) is empty (%s)",
					ErrInvalidConfiguration, kind, s.Name, g)
			}
			ref = g
		} else if g != ref {
			return models.Geometry{}, fmt.Errorf("%w: %s %d (%s) is %s, %s 0 is %s",
				ErrGeometryMismatch, kind, i, s.Name, g, kind, ref)
		}

		for p, plane := range s.Planes {
			if len(plane) != g.PlaneSize() {
				return models.Geometry{}, fmt.Errorf("%w: %s %d plane %d holds %d samples, expected %d",
					ErrGeometryMismatch, kind, i, p, len(plane), g.PlaneSize())
			}
		}
	}
	return ref, nil
}
