// Package roi provides planar regions of interest and the inclusion rule
// used to restrict colocalization counting.
//
// A Set with no selected regions places no restriction: every pixel is in
// scope. Otherwise a pixel is in scope when it lies inside at least one
// selected region. Membership depends on (x, y) only, never on the slice.
package roi

import (
	"fmt"
	"image"
	"math"

	"multiplexcoloc/internal/models"
)

// Region is a planar membership test over integer pixel coordinates
type Region interface {
	// Contains reports whether pixel (x, y) lies inside the region
	Contains(x, y int) bool

	// Bounds returns the smallest rectangle holding the region
	Bounds() image.Rectangle
}

// Rect is an axis-aligned rectangle covering pixels X..X+Width-1, Y..Y+Height-1
type Rect struct {
	X, Y, Width, Height int
}

// Contains reports whether pixel (x, y) lies inside the rectangle
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Bounds returns the rectangle itself
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Point is a polygon vertex in pixel units
type Point struct {
	X, Y float64
}

// Polygon is a closed polygon; a pixel belongs to it when its center does
type Polygon struct {
	Points []Point
}

// Contains tests the pixel center against the polygon using ray casting
func (p Polygon) Contains(x, y int) bool {
	if len(p.Points) < 3 {
		return false
	}
	px, py := float64(x)+0.5, float64(y)+0.5

	inside := false
	n := len(p.Points)
	for i := 0; i < n; i++ {
		a, b := p.Points[i], p.Points[(i+1)%n]
		if (a.Y > py) != (b.Y > py) &&
			px < (b.X-a.X)*(py-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// Bounds returns the integer bounding box of the vertices
func (p Polygon) Bounds() image.Rectangle {
	if len(p.Points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, pt := range p.Points {
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// Ellipse is the oval inscribed in the rectangle X, Y, Width, Height
type Ellipse struct {
	X, Y, Width, Height int
}

// Contains tests the pixel center against the ellipse equation
func (e Ellipse) Contains(x, y int) bool {
	if e.Width <= 0 || e.Height <= 0 {
		return false
	}
	rx, ry := float64(e.Width)/2, float64(e.Height)/2
	dx := (float64(x) + 0.5 - (float64(e.X) + rx)) / rx
	dy := (float64(y) + 0.5 - (float64(e.Y) + ry)) / ry
	return dx*dx+dy*dy <= 1
}

// Bounds returns the enclosing rectangle
func (e Ellipse) Bounds() image.Rectangle {
	return image.Rect(e.X, e.Y, e.X+e.Width, e.Y+e.Height)
}

// Entry is a region with its selection flag
type Entry struct {
	Name     string
	Region   Region
	Selected bool
}

// Set is an ordered collection of regions, each independently selected
type Set struct {
	entries []Entry
}

// NewSet builds a set from entries
func NewSet(entries ...Entry) *Set {
	return &Set{entries: append([]Entry(nil), entries...)}
}

// Add appends a region
func (s *Set) Add(name string, r Region, selected bool) {
	s.entries = append(s.entries, Entry{Name: name, Region: r, Selected: selected})
}

// Len returns the number of regions, selected or not
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Selected returns the selected regions
func (s *Set) Selected() []Region {
	if s == nil {
		return nil
	}
	var out []Region
	for _, e := range s.entries {
		if e.Selected && e.Region != nil {
			out = append(out, e.Region)
		}
	}
	return out
}

// Unrestricted reports whether the set places no restriction, which is the
// case for a nil set, an empty set, or a set with nothing selected
func (s *Set) Unrestricted() bool {
	return len(s.Selected()) == 0
}

// Contains reports whether pixel (x, y) is in scope
func (s *Set) Contains(x, y int) bool {
	selected := s.Selected()
	if len(selected) == 0 {
		return true
	}
	for _, r := range selected {
		if r.Contains(x, y) {
			return true
		}
	}
	return false
}

// Mask rasterizes the set over a width x height plane, row-major. Only the
// part of each selected region's bounds that overlaps the plane is visited.
func (s *Set) Mask(width, height int) []bool {
	mask := make([]bool, width*height)
	selected := s.Selected()
	if len(selected) == 0 {
		for i := range mask {
			mask[i] = true
		}
		return mask
	}

	plane := image.Rect(0, 0, width, height)
	for _, r := range selected {
		b := r.Bounds().Intersect(plane)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := mask[y*width : (y+1)*width]
			for x := b.Min.X; x < b.Max.X; x++ {
				if !row[x] && r.Contains(x, y) {
					row[x] = true
				}
			}
		}
	}
	return mask
}

// ApplyToStack zeroes every pixel of every slice lying outside the selected
// regions. It writes into the stack's own buffers, so callers pass a working
// copy. Applying the same set twice gives the same result; an unrestricted
// set leaves the stack untouched.
func (s *Set) ApplyToStack(stack *models.Stack) error {
	if s.Unrestricted() {
		return nil
	}
	if stack.Format != models.FormatGray8 {
		return fmt.Errorf("cannot apply roi to %s stack %s", stack.Format, stack.Name)
	}

	mask := s.Mask(stack.Width, stack.Height)
	for p, plane := range stack.Planes {
		if len(plane) != len(mask) {
			return fmt.Errorf("plane %d of %s holds %d samples, expected %d", p, stack.Name, len(plane), len(mask))
		}
		for i, in := range mask {
			if !in {
				plane[i] = 0
			}
		}
	}
	return nil
}
