// Package pipeline runs a complete colocalization analysis described by a
// config: load stacks, restrict to the ROI, count, save the composite and
// write the report.
package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"multiplexcoloc/internal/logger"
	"multiplexcoloc/internal/models"
	"multiplexcoloc/pkg/colocalization"
	"multiplexcoloc/pkg/config"
	"multiplexcoloc/pkg/report"
	"multiplexcoloc/pkg/roi"
	"multiplexcoloc/pkg/stackio"
	"multiplexcoloc/pkg/visualization"
)

// Output holds everything produced by one run. Result and Report stay valid
// when only the report write failed.
type Output struct {
	Result *colocalization.Result
	Report *report.Report

	// ReportPath is where the report was (or should have been) written
	ReportPath string

	// CompositeFiles lists the saved composite planes
	CompositeFiles []string

	// Elapsed is the duration of the counting pass
	Elapsed time.Duration
}

// Pipeline runs one analysis
type Pipeline struct {
	cfg *config.Config
	log zerolog.Logger

	// load reads a stack from a path; replaced in tests
	load func(path string) (*models.Stack, error)
}

// New creates a pipeline for cfg logging to log
func New(cfg *config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:  cfg,
		log:  logger.Component(log, "pipeline"),
		load: stackio.Load,
	}
}

// Process runs the full analysis. Configuration, loading and counting errors
// abort the run and return a nil Output. A report write failure returns the
// Output together with an error wrapping report.ErrReportWriteFailure.
func (p *Pipeline) Process() (*Output, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := p.countOptions()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var res *colocalization.Result
	switch p.cfg.Processing.Mode {
	case config.ModeStamps:
		res, err = p.countStamps(opts)
	default:
		res, err = p.countChannels(opts)
	}
	if err != nil {
		return nil, err
	}

	out := &Output{
		Result:     res,
		Report:     report.New(res, report.Options{Header: p.cfg.Output.Header}),
		ReportPath: p.cfg.Output.Report,
		Elapsed:    time.Since(start),
	}
	p.log.Info().
		Int("tables", len(res.Tables)).
		Int("combinations", res.Indexer.ComboCount()).
		Uint64("counted", res.Total().Sum()).
		Dur("elapsed", out.Elapsed).
		Msg("counting pass finished")

	if p.cfg.Composite.Dir != "" {
		out.CompositeFiles = p.saveComposite(res.Composite)
	}

	if err := out.Report.WriteFile(out.ReportPath); err != nil {
		p.log.Error().Err(err).Str("path", out.ReportPath).Msg("report not written")
		return out, err
	}
	p.log.Info().Str("path", out.ReportPath).Msg("report written")

	return out, nil
}

func (p *Pipeline) countOptions() (colocalization.Options, error) {
	opts := colocalization.Options{
		Workers:         p.cfg.Processing.NumCores,
		SelectedChannel: p.cfg.Composite.SelectedChannel,
	}

	if p.cfg.Processing.ROIPolicy == config.PolicyForceNegative {
		opts.Policy = colocalization.ForceNegative
	}
	if p.cfg.Composite.Mode == config.CompositeSelectable {
		opts.Composite = colocalization.CompositeSelectable
	}

	if p.cfg.Processing.ROIScope == config.ScopeAnalysis {
		set, err := BuildROI(p.cfg.ROI)
		if err != nil {
			return opts, err
		}
		if !set.Unrestricted() {
			opts.Scope = set
		}
		p.log.Debug().
			Int("regions", set.Len()).
			Int("selected", len(set.Selected())).
			Msg("analysis roi")
	}
	return opts, nil
}

func (p *Pipeline) countChannels(opts colocalization.Options) (*colocalization.Result, error) {
	channels := make([]colocalization.Channel, len(p.cfg.Channels))
	for i, ch := range p.cfg.Channels {
		stack, err := p.load(ch.Path)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		p.log.Debug().
			Int("channel", i).
			Str("name", stack.Name).
			Str("geometry", stack.Geometry().String()).
			Str("format", stack.Format.String()).
			Float64("threshold", ch.Threshold).
			Msg("channel loaded")

		if p.cfg.Processing.ROIScope == config.ScopePerChannel {
			stack, err = p.restrictChannel(i, ch, stack)
			if err != nil {
				return nil, err
			}
		}

		channels[i] = colocalization.Channel{
			Label:     ch.Label,
			Stack:     stack,
			Threshold: ch.Threshold,
		}
	}

	set, err := colocalization.NewChannelSet(channels)
	if err != nil {
		return nil, err
	}
	p.log.Info().
		Int("channels", set.Len()).
		Str("geometry", set.Geometry().String()).
		Msg("channel set validated")

	return colocalization.Count(set, opts)
}

// restrictChannel zeroes the pixels outside the channel's ROI in a working
// copy. A channel without its own regions uses the analysis regions.
func (p *Pipeline) restrictChannel(i int, ch config.Channel, stack *models.Stack) (*models.Stack, error) {
	regions := ch.ROI
	if len(regions) == 0 {
		regions = p.cfg.ROI
	}
	set, err := BuildROI(regions)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", i, err)
	}
	if set.Unrestricted() || stack.Format != models.FormatGray8 {
		return stack, nil
	}

	working := stack.Clone()
	if err := set.ApplyToStack(working); err != nil {
		return nil, fmt.Errorf("channel %d: %w", i, err)
	}
	p.log.Debug().Int("channel", i).Int("regions", len(set.Selected())).Msg("channel roi applied")
	return working, nil
}

func (p *Pipeline) countStamps(opts colocalization.Options) (*colocalization.Result, error) {
	stamps := make([]colocalization.Stamp, len(p.cfg.Stamps))
	for i, s := range p.cfg.Stamps {
		stack, err := p.load(s.Path)
		if err != nil {
			return nil, fmt.Errorf("stamp %d: %w", i, err)
		}
		stamps[i] = colocalization.Stamp{Label: s.Label, Stack: stack}
	}

	set, err := colocalization.NewStampSet(stamps, p.cfg.StampThresholds)
	if err != nil {
		return nil, err
	}
	p.log.Info().
		Int("stamps", set.Len()).
		Str("geometry", set.Geometry().String()).
		Msg("stamp set validated")

	return colocalization.CountStamps(set, opts)
}

// saveComposite writes the composite planes; failures are logged, not fatal
func (p *Pipeline) saveComposite(c *colocalization.Composite) []string {
	dir := p.cfg.Composite.Dir
	axes := []string{"z"}
	if p.cfg.Composite.Sections {
		axes = append(axes, "x", "y")
	}

	files := p.saveAxes(c.Mask, "coloc", axes)
	if c.Channel != nil {
		files = append(files, p.saveAxes(c.Channel, fmt.Sprintf("channel%d", c.Selected), axes)...)
	}

	p.log.Info().Int("files", len(files)).Str("dir", filepath.Clean(dir)).Msg("composite saved")
	return files
}

func (p *Pipeline) saveAxes(stack *models.Stack, kind string, axes []string) []string {
	viewer := visualization.NewViewer(stack)
	var files []string
	for _, axis := range axes {
		saved, err := viewer.SaveSliceSequence(axis, p.cfg.Composite.Dir, kind, p.cfg.Composite.Format)
		if err != nil {
			p.log.Warn().Err(err).Str("kind", kind).Str("axis", axis).Msg("failed to save composite planes")
		}
		files = append(files, saved...)
	}
	return files
}

// BuildROI converts configured regions into a region set
func BuildROI(regions []config.Region) (*roi.Set, error) {
	set := roi.NewSet()
	for i, r := range regions {
		var region roi.Region
		switch r.Type {
		case config.RegionRect:
			region = roi.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
		case config.RegionEllipse:
			region = roi.Ellipse{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
		case config.RegionPolygon:
			points := make([]roi.Point, len(r.Points))
			for j, pt := range r.Points {
				points[j] = roi.Point{X: pt[0], Y: pt[1]}
			}
			region = roi.Polygon{Points: points}
		default:
			return nil, fmt.Errorf("%w: region %d has unknown type %q",
				colocalization.ErrInvalidConfiguration, i, r.Type)
		}
		set.Add(r.Name, region, r.Selected)
	}
	return set, nil
}
