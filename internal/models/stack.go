package models

import "fmt"

// PixelFormat describes how a decoded slice stores its samples
type PixelFormat int

const (
	// FormatUnknown is any image model not listed below
	FormatUnknown PixelFormat = iota

	// FormatGray8 is single-byte grayscale, the only format accepted for analysis
	FormatGray8

	// FormatGray16 is 16-bit grayscale
	FormatGray16

	// FormatRGBA is any color model
	FormatRGBA

	// FormatPaletted is an indexed-color image
	FormatPaletted
)

// String returns a short name of the pixel format
func (f PixelFormat) String() string {
	switch f {
	case FormatGray8:
		return "gray8"
	case FormatGray16:
		return "gray16"
	case FormatRGBA:
		return "rgba"
	case FormatPaletted:
		return "paletted"
	default:
		return "unknown"
	}
}

// Geometry is the shape shared by every channel of one analysis
type Geometry struct {
	// Width and Height of each plane in pixels
	Width, Height int

	// Slices is the number of planes in the stack
	Slices int
}

// String formats the geometry as WxHxS
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Width, g.Height, g.Slices)
}

// PlaneSize returns the number of pixels in one plane
func (g Geometry) PlaneSize() int {
	return g.Width * g.Height
}

// Stack represents an ordered sequence of co-registered 2D planes.
// Planes are stored row-major, one byte per pixel when Format is FormatGray8.
type Stack struct {
	// Name identifies the stack in logs and reports (file or directory name)
	Name string

	// Width, Height of every plane
	Width  int
	Height int

	// Format is the pixel format detected when the stack was loaded
	Format PixelFormat

	// Planes holds the raw samples, one slice of Width*Height bytes per plane
	Planes [][]byte
}

// NewStack allocates a zero-filled Gray8 stack
func NewStack(name string, width, height, slices int) *Stack {
	planes := make([][]byte, slices)
	for i := range planes {
		planes[i] = make([]byte, width*height)
	}
	return &Stack{
		Name:   name,
		Width:  width,
		Height: height,
		Format: FormatGray8,
		Planes: planes,
	}
}

// Geometry returns the width, height and slice count of the stack
func (s *Stack) Geometry() Geometry {
	return Geometry{Width: s.Width, Height: s.Height, Slices: len(s.Planes)}
}

// At returns the raw sample at (x, y) of the given slice
func (s *Stack) At(x, y, slice int) byte {
	return s.Planes[slice][y*s.Width+x]
}

// Set writes a raw sample at (x, y) of the given slice
func (s *Stack) Set(x, y, slice int, v byte) {
	s.Planes[slice][y*s.Width+x] = v
}

// Clone returns a deep copy of the stack so a working copy can be modified
// without touching the original buffers
func (s *Stack) Clone() *Stack {
	planes := make([][]byte, len(s.Planes))
	for i, p := range s.Planes {
		planes[i] = append([]byte(nil), p...)
	}
	return &Stack{
		Name:   s.Name,
		Width:  s.Width,
		Height: s.Height,
		Format: s.Format,
		Planes: planes,
	}
}
