// Package config provides configuration loading and management for multiplexcoloc.
// It handles loading an analysis description from YAML files and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"multiplexcoloc/pkg/colocalization"
)

// Analysis modes
const (
	ModeSingle = "single"
	ModeStamps = "stamps"
)

// ROI policies and scopes
const (
	PolicyExclude       = "exclude"
	PolicyForceNegative = "forceNegative"

	ScopeAnalysis   = "analysis"
	ScopePerChannel = "perChannel"
)

// Composite modes
const (
	CompositeMask       = "mask"
	CompositeSelectable = "selectable"
)

// Region types
const (
	RegionRect    = "rect"
	RegionPolygon = "polygon"
	RegionEllipse = "ellipse"
)

// Region describes one ROI region
type Region struct {
	// Name is an optional identifier used in logs
	Name string `yaml:"name,omitempty"`

	// Type is rect, polygon or ellipse
	Type string `yaml:"type"`

	// Selected enables the region; unselected regions are ignored
	Selected bool `yaml:"selected"`

	// X, Y, Width, Height describe rect and ellipse regions
	X      int `yaml:"x,omitempty"`
	Y      int `yaml:"y,omitempty"`
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`

	// Points are the polygon vertices as [x, y] pairs
	Points [][2]float64 `yaml:"points,omitempty"`
}

// Channel describes one input channel
type Channel struct {
	Label string `yaml:"label,omitempty"`

	// Path is an image file or a directory of slice files
	Path string `yaml:"path"`

	// Threshold is the activation threshold; a pixel is active iff value > Threshold
	Threshold float64 `yaml:"threshold"`

	// ROI restricts this channel only when processing.roiScope is perChannel
	ROI []Region `yaml:"roi,omitempty"`
}

// Stamp describes one independently counted image group
type Stamp struct {
	Label string `yaml:"label,omitempty"`
	Path  string `yaml:"path"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds how many slices or stamps are counted concurrently
		NumCores int `yaml:"numCores"`

		// Mode is single or stamps
		Mode string `yaml:"mode"`

		// ROIPolicy is exclude or forceNegative
		ROIPolicy string `yaml:"roiPolicy"`

		// ROIScope is analysis or perChannel
		ROIScope string `yaml:"roiScope"`
	} `yaml:"processing"`

	// Channels used in single mode, in bit order
	Channels []Channel `yaml:"channels,omitempty"`

	// Stamps used in stamps mode
	Stamps []Stamp `yaml:"stamps,omitempty"`

	// StampThresholds holds one threshold per slice position of every stamp
	StampThresholds []float64 `yaml:"stampThresholds,omitempty"`

	// ROI regions applied to the whole analysis
	ROI []Region `yaml:"roi,omitempty"`

	// Composite output parameters
	Composite struct {
		// Mode is mask or selectable
		Mode string `yaml:"mode"`

		// SelectedChannel is copied next to the mask in selectable mode
		SelectedChannel int `yaml:"selectedChannel"`

		// Dir receives the composite planes; empty disables saving
		Dir string `yaml:"dir"`

		// Format is png or tiff
		Format string `yaml:"format"`

		// Sections also saves the x and y cross-sections through the stack
		Sections bool `yaml:"sections"`
	} `yaml:"composite"`

	// Output parameters
	Output struct {
		// Report is the path of the comma-separated count report
		Report string `yaml:"report"`

		// Header adds a label row to the report
		Header bool `yaml:"header"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogJSON switches logging to JSON lines
		LogJSON bool `yaml:"logJSON"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Mode = ModeSingle
	cfg.Processing.ROIPolicy = PolicyExclude
	cfg.Processing.ROIScope = ScopeAnalysis

	cfg.Composite.Mode = CompositeMask
	cfg.Composite.Format = "png"

	cfg.Output.Report = "coloc_counts.csv"
	cfg.Output.Header = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration.
// Unknown keys and non-integer values in integer fields are rejected with
// an error wrapping colocalization.ErrInvalidConfiguration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file %s: %v",
			colocalization.ErrInvalidConfiguration, configPath, err)
	}

	// Relative paths are resolved against the config file location
	cfg.resolvePaths(filepath.Dir(configPath))

	return cfg, nil
}

// decode parses data into cfg, failing on unknown keys and on scalars that
// are not integers where the field is one
func decode(data []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := checkIntegers(&doc, reflect.TypeOf(cfg).Elem(), ""); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// checkIntegers walks node alongside t and reports the first scalar bound to
// an integer field whose tag is not !!int. yaml.v3 would otherwise truncate
// 2.5 to 2.
func checkIntegers(node *yaml.Node, t reflect.Type, path string) error {
	if node == nil {
		return nil
	}
	switch node.Kind {
	case yaml.DocumentNode:
		for _, c := range node.Content {
			if err := checkIntegers(c, t, path); err != nil {
				return err
			}
		}
		return nil
	case yaml.AliasNode:
		return checkIntegers(node.Alias, t, path)
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if node.Kind == yaml.ScalarNode && node.Tag != "!!int" && node.Tag != "!!null" {
			return fmt.Errorf("line %d: %s must be an integer, got %q", node.Line, path, node.Value)
		}
	case reflect.Struct:
		if node.Kind != yaml.MappingNode {
			return nil
		}
		fields := yamlFields(t)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			ft, ok := fields[key]
			if !ok {
				continue
			}
			if err := checkIntegers(node.Content[i+1], ft, joinPath(path, key)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if node.Kind != yaml.SequenceNode {
			return nil
		}
		for i, c := range node.Content {
			if err := checkIntegers(c, t.Elem(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// yamlFields maps the yaml key of every exported field of t to its type
func yamlFields(t reflect.Type) map[string]reflect.Type {
	fields := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = f.Type
	}
	return fields
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path.
// It carries two example channels so it can be edited in place.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	cfg.Channels = []Channel{
		{Label: "Red", Path: "red", Threshold: 50},
		{Label: "Green", Path: "green", Threshold: 50},
	}
	return SaveConfig(cfg, configPath)
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range c.Channels {
		c.Channels[i].Path = resolve(c.Channels[i].Path)
	}
	for i := range c.Stamps {
		c.Stamps[i].Path = resolve(c.Stamps[i].Path)
	}
	c.Composite.Dir = resolve(c.Composite.Dir)
	c.Output.Report = resolve(c.Output.Report)
}

// Validate checks the configuration before any image is read. Every error
// wraps colocalization.ErrInvalidConfiguration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", colocalization.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}

	switch c.Processing.ROIPolicy {
	case PolicyExclude, PolicyForceNegative:
	default:
		return invalid("unknown roi policy %q", c.Processing.ROIPolicy)
	}
	switch c.Processing.ROIScope {
	case ScopeAnalysis, ScopePerChannel:
	default:
		return invalid("unknown roi scope %q", c.Processing.ROIScope)
	}
	switch c.Composite.Format {
	case "png", "tif", "tiff":
	default:
		return invalid("unknown composite format %q", c.Composite.Format)
	}
	if c.Processing.NumCores < 0 {
		return invalid("numCores must not be negative, got %d", c.Processing.NumCores)
	}

	bits := 0
	switch c.Processing.Mode {
	case ModeSingle:
		n := len(c.Channels)
		if n < colocalization.MinChannels || n > colocalization.MaxChannels {
			return invalid("channel count must be an integer between %d and %d, got %d",
				colocalization.MinChannels, colocalization.MaxChannels, n)
		}
		for i, ch := range c.Channels {
			if ch.Path == "" {
				return invalid("channel %d has no path", i)
			}
			if math.IsNaN(ch.Threshold) {
				return invalid("channel %d threshold is not a number", i)
			}
			if err := validateRegions(ch.ROI); err != nil {
				return invalid("channel %d roi: %v", i, err)
			}
		}
		bits = n
	case ModeStamps:
		if len(c.Stamps) == 0 {
			return invalid("stamps mode needs at least one stamp")
		}
		for i, s := range c.Stamps {
			if s.Path == "" {
				return invalid("stamp %d has no path", i)
			}
		}
		n := len(c.StampThresholds)
		if n < colocalization.MinChannels || n > colocalization.MaxChannels {
			return invalid("stamp slice count must be an integer between %d and %d, got %d thresholds",
				colocalization.MinChannels, colocalization.MaxChannels, n)
		}
		for i, t := range c.StampThresholds {
			if math.IsNaN(t) {
				return invalid("slice %d threshold is not a number", i)
			}
		}
		if c.Processing.ROIScope == ScopePerChannel {
			return invalid("roi scope %s is not available in stamps mode", ScopePerChannel)
		}
		bits = n
	default:
		return invalid("unknown mode %q", c.Processing.Mode)
	}

	if err := validateRegions(c.ROI); err != nil {
		return invalid("roi: %v", err)
	}

	switch c.Composite.Mode {
	case CompositeMask:
	case CompositeSelectable:
		if c.Composite.SelectedChannel < 0 || c.Composite.SelectedChannel >= bits {
			return invalid("selected channel %d outside 0-%d", c.Composite.SelectedChannel, bits-1)
		}
	default:
		return invalid("unknown composite mode %q", c.Composite.Mode)
	}

	return nil
}

func validateRegions(regions []Region) error {
	for i, r := range regions {
		switch r.Type {
		case RegionRect, RegionEllipse:
			if r.Width <= 0 || r.Height <= 0 {
				return fmt.Errorf("region %d has empty size %dx%d", i, r.Width, r.Height)
			}
		case RegionPolygon:
			if len(r.Points) < 3 {
				return fmt.Errorf("region %d polygon needs at least 3 points, got %d", i, len(r.Points))
			}
		default:
			return fmt.Errorf("region %d has unknown type %q", i, r.Type)
		}
	}
	return nil
}
