package colocalization

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"multiplexcoloc/internal/models"
)

// Scope decides whether pixel (x, y) takes part in the analysis. A nil Scope
// includes every pixel.
type Scope interface {
	Contains(x, y int) bool
}

// Masker is implemented by scopes that can rasterize themselves over a
// plane faster than one Contains call per pixel
type Masker interface {
	Mask(width, height int) []bool
}

// ROIPolicy selects what happens to pixels outside the scope
type ROIPolicy int

const (
	// ExcludeOutside leaves out-of-scope pixels out of every count table bucket
	ExcludeOutside ROIPolicy = iota

	// ForceNegative counts out-of-scope pixels as inactive on every channel (bucket 0)
	ForceNegative
)

// CompositeMode selects what the composite output carries
type CompositeMode int

const (
	// CompositeMask renders only the full-overlap mask
	CompositeMask CompositeMode = iota

	// CompositeSelectable renders the mask plus the planes of one selected channel
	CompositeSelectable
)

// Grouping tells whether a result comes from one analysis or from stamps
type Grouping int

const (
	// GroupingSingle counts one channel set into one table; bits are channels
	GroupingSingle Grouping = iota

	// GroupingStamps counts each stamp into its own table; bits are slices
	GroupingStamps
)

// Options controls a counting pass
type Options struct {
	// Scope restricts which pixels are counted, nil means all
	Scope Scope

	// Policy applies to pixels outside Scope
	Policy ROIPolicy

	// Composite selects the composite rendering
	Composite CompositeMode

	// SelectedChannel is the bit position copied in CompositeSelectable mode
	SelectedChannel int

	// Workers bounds the number of slices (or stamps) processed concurrently.
	// Zero or negative uses all CPUs.
	Workers int
}

// Composite is the rendered output of a counting pass. Mask has the width
// and height of channel 0 and one plane per counted unit (slice or stamp):
// 255 where every channel is active inside the scope, 0 elsewhere.
type Composite struct {
	Mask *models.Stack

	// Channel holds the selected channel's own planes in selectable mode, nil otherwise
	Channel *models.Stack

	// Selected is the bit position copied into Channel
	Selected int
}

// ChannelSummary describes the raw intensities of one bit position over the
// in-scope pixels
type ChannelSummary struct {
	Label     string
	Threshold float64

	// InScope is the number of evaluated pixels
	InScope uint64

	// Active is the number of evaluated pixels above threshold
	Active uint64

	// Mean and StdDev of raw values over evaluated pixels
	Mean   float64
	StdDev float64
}

// Result holds the count tables and composite of one analysis. It is
// read-only once returned.
type Result struct {
	Grouping Grouping

	// Indexer packs and unpacks combination indices for every table
	Indexer Indexer

	// BitLabels name the flag positions: channel labels or slice names
	BitLabels []string

	// GroupLabels name the tables in stamp mode, nil for a single analysis
	GroupLabels []string

	// Tables holds one table for a single analysis or one per stamp
	Tables []*Table

	Composite *Composite

	Summaries []ChannelSummary
}

// Total returns a table summing every group table
func (r *Result) Total() *Table {
	total := NewTable(r.Indexer.ComboCount())
	for _, t := range r.Tables {
		// sizes always match, they come from the same indexer
		_ = total.Merge(t)
	}
	return total
}

// unit is one independent piece of the counting pass: a slice of every
// channel, or every slice of one stamp
type unit struct {
	planes      [][]byte
	thresholds  []float64
	mask        []byte
	selectedSrc []byte
	selectedDst []byte
	table       *Table
	hist        [][256]float64
	active      []uint64
}

type engine struct {
	width, height int
	inScope       []bool
	policy        ROIPolicy
	indexer       Indexer
}

func newUnit(n, comboCount int) *unit {
	return &unit{
		table:  NewTable(comboCount),
		hist:   make([][256]float64, n),
		active: make([]uint64, n),
	}
}

// Count runs the counting pass over a channel set. Every in-scope pixel of
// every slice is classified once; the same comparisons feed both the count
// table increment and the composite sample.
func Count(cs *ChannelSet, opts Options) (*Result, error) {
	if err := checkOptions(opts, cs.Len()); err != nil {
		return nil, err
	}

	g := cs.Geometry()
	e := newEngine(g, cs.Indexer(), opts)
	composite := newComposite(cs.Channel(0).Stack.Name, g.Width, g.Height, g.Slices, opts)
	thresholds := cs.Thresholds()

	units := make([]*unit, g.Slices)
	for s := range units {
		u := newUnit(cs.Len(), cs.ComboCount())
		u.thresholds = thresholds
		u.planes = make([][]byte, cs.Len())
		for b := 0; b < cs.Len(); b++ {
			u.planes[b] = cs.Channel(b).Stack.Planes[s]
		}
		u.mask = composite.Mask.Planes[s]
		if composite.Channel != nil {
			u.selectedSrc = u.planes[opts.SelectedChannel]
			u.selectedDst = composite.Channel.Planes[s]
		}
		units[s] = u
	}

	if err := e.runAll(units, opts.Workers); err != nil {
		return nil, err
	}

	table := NewTable(cs.ComboCount())
	for _, u := range units {
		if err := table.Merge(u.table); err != nil {
			return nil, err
		}
	}

	return &Result{
		Grouping:  GroupingSingle,
		Indexer:   cs.Indexer(),
		BitLabels: cs.Labels(),
		Tables:    []*Table{table},
		Composite: composite,
		Summaries: summarize(units, cs.Labels(), thresholds),
	}, nil
}

// CountStamps runs the counting pass over every stamp, tallying each stamp
// into its own table. The composite has one plane per stamp.
func CountStamps(ss *StampSet, opts Options) (*Result, error) {
	n := ss.Indexer().Width()
	if err := checkOptions(opts, n); err != nil {
		return nil, err
	}

	g := ss.Geometry()
	e := newEngine(g, ss.Indexer(), opts)
	composite := newComposite(ss.Stamp(0).Stack.Name, g.Width, g.Height, ss.Len(), opts)
	thresholds := ss.Thresholds()

	units := make([]*unit, ss.Len())
	tables := make([]*Table, ss.Len())
	for i := range units {
		u := newUnit(n, ss.ComboCount())
		u.thresholds = thresholds
		u.planes = ss.Stamp(i).Stack.Planes
		u.mask = composite.Mask.Planes[i]
		if composite.Channel != nil {
			u.selectedSrc = u.planes[opts.SelectedChannel]
			u.selectedDst = composite.Channel.Planes[i]
		}
		units[i] = u
		tables[i] = u.table
	}

	if err := e.runAll(units, opts.Workers); err != nil {
		return nil, err
	}

	bitLabels := make([]string, n)
	for k := range bitLabels {
		bitLabels[k] = fmt.Sprintf("slice%d", k+1)
	}

	return &Result{
		Grouping:    GroupingStamps,
		Indexer:     ss.Indexer(),
		BitLabels:   bitLabels,
		GroupLabels: ss.Labels(),
		Tables:      tables,
		Composite:   composite,
		Summaries:   summarize(units, bitLabels, thresholds),
	}, nil
}

func checkOptions(opts Options, n int) error {
	if opts.Policy != ExcludeOutside && opts.Policy != ForceNegative {
		return fmt.Errorf("%w: unknown roi policy %d", ErrInvalidConfiguration, opts.Policy)
	}
	switch opts.Composite {
	case CompositeMask:
	case CompositeSelectable:
		if opts.SelectedChannel < 0 || opts.SelectedChannel >= n {
			return fmt.Errorf("%w: selected channel %d outside 0-%d",
				ErrInvalidConfiguration, opts.SelectedChannel, n-1)
		}
	default:
		return fmt.Errorf("%w: unknown composite mode %d", ErrInvalidConfiguration, opts.Composite)
	}
	return nil
}

func newEngine(g models.Geometry, indexer Indexer, opts Options) *engine {
	var inScope []bool
	if m, ok := opts.Scope.(Masker); ok {
		inScope = m.Mask(g.Width, g.Height)
	}
	if len(inScope) != g.PlaneSize() {
		inScope = make([]bool, g.PlaneSize())
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				inScope[y*g.Width+x] = opts.Scope == nil || opts.Scope.Contains(x, y)
			}
		}
	}
	return &engine{
		width:   g.Width,
		height:  g.Height,
		inScope: inScope,
		policy:  opts.Policy,
		indexer: indexer,
	}
}

func newComposite(name string, width, height, planes int, opts Options) *Composite {
	c := &Composite{
		Mask:     models.NewStack(name+" coloc", width, height, planes),
		Selected: opts.SelectedChannel,
	}
	if opts.Composite == CompositeSelectable {
		c.Channel = models.NewStack(fmt.Sprintf("%s channel %d", name, opts.SelectedChannel), width, height, planes)
	}
	return c
}

// runAll processes units on a bounded pool. Each unit owns its table, mask
// plane and histograms, so no locking is needed.
func (e *engine) runAll(units []*unit, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, u := range units {
		u := u
		g.Go(func() error {
			return e.run(u)
		})
	}
	return g.Wait()
}

// run classifies every pixel of one unit
func (e *engine) run(u *unit) error {
	flags := make([]bool, len(u.planes))
	for i, in := range e.inScope {
		if !in {
			if e.policy == ForceNegative {
				if err := u.table.Increment(0); err != nil {
					return err
				}
			}
			continue
		}

		all := true
		for b, plane := range u.planes {
			v := plane[i]
			active := float64(v) > u.thresholds[b]
			flags[b] = active
			all = all && active
			u.hist[b][v]++
			if active {
				u.active[b]++
			}
		}
		if all {
			u.mask[i] = 255
		}

		index, err := e.indexer.Pack(flags)
		if err != nil {
			return err
		}
		if err := u.table.Increment(index); err != nil {
			return err
		}
	}

	if u.selectedDst != nil {
		copy(u.selectedDst, u.selectedSrc)
	}
	return nil
}

// summarize folds per-unit histograms into one summary per bit position
func summarize(units []*unit, labels []string, thresholds []float64) []ChannelSummary {
	values := make([]float64, 256)
	for v := range values {
		values[v] = float64(v)
	}

	out := make([]ChannelSummary, len(labels))
	for b := range out {
		weights := make([]float64, 256)
		var active uint64
		for _, u := range units {
			for v, c := range u.hist[b] {
				weights[v] += c
			}
			active += u.active[b]
		}

		var inScope uint64
		for _, w := range weights {
			inScope += uint64(w)
		}

		s := ChannelSummary{
			Label:     labels[b],
			Threshold: thresholds[b],
			InScope:   inScope,
			Active:    active,
		}
		switch {
		case inScope > 1:
			s.Mean, s.StdDev = stat.MeanStdDev(values, weights)
		case inScope == 1:
			s.Mean = stat.Mean(values, weights)
		}
		out[b] = s
	}
	return out
}
