package pipeline

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/image/tiff"

	"multiplexcoloc/pkg/colocalization"
	"multiplexcoloc/pkg/config"
	"multiplexcoloc/pkg/report"
)

// writeChannel writes a directory of PNG slices whose samples come from pattern
func writeChannel(t *testing.T, dir string, width, height, slices int, pattern func(x, y, s int) uint8) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", dir, err)
	}
	for s := 0; s < slices; s++ {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Pix[y*img.Stride+x] = pattern(x, y, s)
			}
		}
		file, err := os.Create(filepath.Join(dir, "slice_"+string(rune('0'+s))+".png"))
		if err != nil {
			t.Fatalf("Failed to create slice: %v", err)
		}
		if err := png.Encode(file, img); err != nil {
			t.Fatalf("Failed to encode slice: %v", err)
		}
		file.Close()
	}
}

// createTestConfig writes two 4x4x2 channels: channel 0 is bright on the
// left half, channel 1 on the top half
func createTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	writeChannel(t, filepath.Join(dir, "left"), 4, 4, 2, func(x, y, s int) uint8 {
		if x < 2 {
			return 200
		}
		return 5
	})
	writeChannel(t, filepath.Join(dir, "top"), 4, 4, 2, func(x, y, s int) uint8 {
		if y < 2 {
			return 200
		}
		return 5
	})

	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Channels = []config.Channel{
		{Label: "left", Path: filepath.Join(dir, "left"), Threshold: 50},
		{Label: "top", Path: filepath.Join(dir, "top"), Threshold: 50},
	}
	cfg.Output.Report = filepath.Join(dir, "out", "counts.csv")
	return cfg, dir
}

// TestProcessSingle runs the whole pipeline without ROI
func TestProcessSingle(t *testing.T) {
	cfg, dir := createTestConfig(t)
	cfg.Composite.Dir = filepath.Join(dir, "composite")

	out, err := New(cfg, zerolog.Nop()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// each quadrant holds 4 pixels per slice, 2 slices
	table := out.Result.Tables[0]
	for i := 0; i < 4; i++ {
		if table.Count(i) != 8 {
			t.Errorf("Bucket %d: expected 8, got %d", i, table.Count(i))
		}
	}

	data, err := os.ReadFile(cfg.Output.Report)
	if err != nil {
		t.Fatalf("Report not written: %v", err)
	}
	want := "(-),(-),8\n(-),(+),8\n(+),(-),8\n(+),(+),8\n"
	if string(data) != want {
		t.Errorf("Unexpected report:\n%s", data)
	}

	if len(out.CompositeFiles) != 2 {
		t.Errorf("Expected 2 composite files, got %d", len(out.CompositeFiles))
	}
	for z := 0; z < 2; z++ {
		name := filepath.Join(cfg.Composite.Dir, fmt.Sprintf("coloc_z_%03d.png", z))
		if _, err := os.Stat(name); err != nil {
			t.Errorf("Expected composite plane %s: %v", name, err)
		}
	}
	if out.Result.Composite.Mask.At(0, 0, 1) != 255 || out.Result.Composite.Mask.At(3, 0, 1) != 0 {
		t.Error("Unexpected composite mask samples")
	}
}

// TestProcessCompositeSections saves the orthogonal sections of the mask and
// of the selected channel next to the slices
func TestProcessCompositeSections(t *testing.T) {
	cfg, dir := createTestConfig(t)
	cfg.Composite.Dir = filepath.Join(dir, "composite")
	cfg.Composite.Format = "tiff"
	cfg.Composite.Mode = config.CompositeSelectable
	cfg.Composite.SelectedChannel = 1
	cfg.Composite.Sections = true

	out, err := New(cfg, zerolog.Nop()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// 2 slices + 4 x-sections + 4 y-sections, for the mask and the channel
	if len(out.CompositeFiles) != 20 {
		t.Errorf("Expected 20 composite files, got %d", len(out.CompositeFiles))
	}
	for _, name := range []string{"coloc_z_001.tif", "coloc_x_003.tif", "coloc_y_000.tif", "channel1_x_002.tif"} {
		if _, err := os.Stat(filepath.Join(cfg.Composite.Dir, name)); err != nil {
			t.Errorf("Expected composite file %s: %v", name, err)
		}
	}

	// x section 0 of the mask has one column per slice and one row per image row
	file, err := os.Open(filepath.Join(cfg.Composite.Dir, "coloc_x_000.tif"))
	if err != nil {
		t.Fatalf("Failed to open section: %v", err)
	}
	defer file.Close()
	img, err := tiff.Decode(file)
	if err != nil {
		t.Fatalf("Failed to decode section: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("Expected 2x4 section, got %dx%d", b.Dx(), b.Dy())
	}
	gray := func(x, y int) uint8 { return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y }
	if gray(1, 0) != 255 || gray(1, 3) != 0 {
		t.Errorf("Unexpected section samples %d and %d", gray(1, 0), gray(1, 3))
	}
}

// TestProcessAnalysisROI restricts the analysis to the left column pair
func TestProcessAnalysisROI(t *testing.T) {
	cfg, _ := createTestConfig(t)
	cfg.ROI = []config.Region{
		{Type: config.RegionRect, Selected: true, X: 0, Y: 0, Width: 2, Height: 4},
		{Type: config.RegionRect, Selected: false, X: 2, Y: 0, Width: 2, Height: 4},
	}

	out, err := New(cfg, zerolog.Nop()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	table := out.Result.Tables[0]
	if table.Sum() != 16 {
		t.Errorf("Expected 16 counted pixels inside roi, got %d", table.Sum())
	}
	if table.Count(0) != 0 || table.Count(1) != 0 {
		t.Errorf("Expected no pixels with channel 0 inactive, got %v", table.Counts())
	}
	if table.Count(2) != 8 || table.Count(3) != 8 {
		t.Errorf("Unexpected counts %v", table.Counts())
	}

	// forced-negative counts the excluded pixels in bucket 0
	cfg.Processing.ROIPolicy = config.PolicyForceNegative
	out, err = New(cfg, zerolog.Nop()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Result.Tables[0].Count(0) != 16 || out.Result.Tables[0].Sum() != 32 {
		t.Errorf("Unexpected forced-negative counts %v", out.Result.Tables[0].Counts())
	}
}

// TestProcessPerChannelROI zeroes channel 1 outside its own region before counting
func TestProcessPerChannelROI(t *testing.T) {
	cfg, _ := createTestConfig(t)
	cfg.Processing.ROIScope = config.ScopePerChannel
	cfg.Channels[1].ROI = []config.Region{
		{Type: config.RegionRect, Selected: true, X: 0, Y: 0, Width: 1, Height: 4},
	}

	out, err := New(cfg, zerolog.Nop()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	table := out.Result.Tables[0]
	if table.Sum() != 32 {
		t.Errorf("Expected every pixel counted, got %d", table.Sum())
	}
	// channel 1 survives only at x == 0, y < 2
	if table.Count(3) != 4 || table.Count(1) != 0 {
		t.Errorf("Unexpected counts %v", table.Counts())
	}
}

// TestProcessStamps counts two stamps of two slices each
func TestProcessStamps(t *testing.T) {
	dir := t.TempDir()
	writeChannel(t, filepath.Join(dir, "s1"), 2, 2, 2, func(x, y, s int) uint8 { return 200 })
	writeChannel(t, filepath.Join(dir, "s2"), 2, 2, 2, func(x, y, s int) uint8 {
		if s == 1 {
			return 200
		}
		return 0
	})

	cfg := config.DefaultConfig()
	cfg.Processing.Mode = config.ModeStamps
	cfg.Stamps = []config.Stamp{
		{Label: "s1", Path: filepath.Join(dir, "s1")},
		{Label: "s2", Path: filepath.Join(dir, "s2")},
	}
	cfg.StampThresholds = []float64{100, 100}
	cfg.Output.Report = filepath.Join(dir, "stamps.csv")

	out, err := New(cfg, zerolog.Nop()).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	data, err := os.ReadFile(cfg.Output.Report)
	if err != nil {
		t.Fatalf("Report not written: %v", err)
	}
	want := "(-),(-),0,0,0\n(-),(+),0,4,4\n(+),(-),0,0,0\n(+),(+),4,0,4\n"
	if string(data) != want {
		t.Errorf("Unexpected report:\n%s\nexpected:\n%s", data, want)
	}
	if len(out.Result.Tables) != 2 {
		t.Errorf("Expected 2 tables, got %d", len(out.Result.Tables))
	}
}

// TestProcessReportFailure verifies that counts survive an unwritable report path
func TestProcessReportFailure(t *testing.T) {
	cfg, dir := createTestConfig(t)
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Output.Report = filepath.Join(blocker, "counts.csv")

	out, err := New(cfg, zerolog.Nop()).Process()
	if !errors.Is(err, report.ErrReportWriteFailure) {
		t.Fatalf("Expected ErrReportWriteFailure, got %v", err)
	}
	if out == nil || out.Result == nil || out.Report == nil {
		t.Fatal("Expected result and report to be returned with the write failure")
	}
	if out.Result.Tables[0].Sum() != 32 {
		t.Errorf("Expected 32 counted pixels, got %d", out.Result.Tables[0].Sum())
	}
}

// TestProcessFatalErrors verifies configuration and geometry failures abort the run
func TestProcessFatalErrors(t *testing.T) {
	cfg, dir := createTestConfig(t)
	cfg.Channels = cfg.Channels[:1]
	out, err := New(cfg, zerolog.Nop()).Process()
	if !errors.Is(err, colocalization.ErrInvalidConfiguration) || out != nil {
		t.Errorf("Expected ErrInvalidConfiguration and no output, got %v", err)
	}

	cfg, dir = createTestConfig(t)
	writeChannel(t, filepath.Join(dir, "small"), 3, 4, 2, func(x, y, s int) uint8 { return 0 })
	cfg.Channels[1].Path = filepath.Join(dir, "small")
	out, err = New(cfg, zerolog.Nop()).Process()
	if !errors.Is(err, colocalization.ErrGeometryMismatch) || out != nil {
		t.Errorf("Expected ErrGeometryMismatch and no output, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Output.Report); !os.IsNotExist(statErr) {
		t.Error("Expected no report after a fatal error")
	}
}

func TestBuildROI(t *testing.T) {
	set, err := BuildROI([]config.Region{
		{Type: config.RegionPolygon, Selected: true, Points: [][2]float64{{0, 0}, {4, 0}, {0, 4}}},
		{Type: config.RegionEllipse, Selected: false, X: 0, Y: 0, Width: 4, Height: 4},
	})
	if err != nil {
		t.Fatalf("BuildROI failed: %v", err)
	}
	if set.Len() != 2 || len(set.Selected()) != 1 {
		t.Errorf("Unexpected set with %d regions", set.Len())
	}
	if !set.Contains(0, 0) || set.Contains(3, 3) {
		t.Error("Unexpected polygon membership")
	}

	_, err = BuildROI([]config.Region{{Type: "hexagon"}})
	if err == nil || !strings.Contains(err.Error(), "hexagon") {
		t.Errorf("Expected error naming the unknown type, got %v", err)
	}
}
