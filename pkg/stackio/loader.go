// Package stackio loads grayscale image stacks from files.
//
// A stack is either a single image file (one slice) or a directory of slice
// files ordered by the number embedded in their names. PNG, JPEG, TIFF and
// BMP are supported.
package stackio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"multiplexcoloc/internal/models"
	"multiplexcoloc/pkg/colocalization"
)

// SupportedFormats lists the file extensions recognised as slices
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}
}

// IsSupportedFormat reports whether path has a recognised image extension
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedFormats() {
		if ext == e {
			return true
		}
	}
	return false
}

// Load reads a stack from a single image file or a directory of slices
func Load(path string) (*models.Stack, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}

	img, err := loadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	return FromImages(filepath.Base(path), []image.Image{img})
}

// LoadDir reads every supported image in dir as one slice. Slices are sorted
// by the number found in the file name, then by name.
func LoadDir(dir string) (*models.Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsSupportedFormat(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		numI, numJ := extractNumber(files[i]), extractNumber(files[j])
		if numI != numJ {
			return numI < numJ
		}
		return files[i] < files[j]
	})

	images := make([]image.Image, 0, len(files))
	for _, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		images = append(images, img)
	}

	return FromImages(filepath.Base(dir), images)
}

// FromImages builds a stack from decoded slices. Gray8 slices are copied
// into packed row-major planes; any other pixel format is recorded in the
// stack's Format so validation can reject it.
func FromImages(name string, images []image.Image) (*models.Stack, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("stack %s has no slices", name)
	}

	bounds := images[0].Bounds()
	stack := &models.Stack{
		Name:   name,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: models.FormatGray8,
		Planes: make([][]byte, len(images)),
	}

	for i, img := range images {
		b := img.Bounds()
		if b.Dx() != stack.Width || b.Dy() != stack.Height {
			return nil, fmt.Errorf("%w: slice %d of %s is %dx%d, slice 0 is %dx%d",
				colocalization.ErrGeometryMismatch, i, name, b.Dx(), b.Dy(), stack.Width, stack.Height)
		}

		format := DetectFormat(img)
		if format != models.FormatGray8 {
			stack.Format = format
			continue
		}

		gray := img.(*image.Gray)
		plane := make([]byte, stack.Width*stack.Height)
		for y := 0; y < stack.Height; y++ {
			start := gray.PixOffset(b.Min.X, b.Min.Y+y)
			copy(plane[y*stack.Width:(y+1)*stack.Width], gray.Pix[start:start+stack.Width])
		}
		stack.Planes[i] = plane
	}

	return stack, nil
}

// DetectFormat classifies the pixel model of a decoded image
func DetectFormat(img image.Image) models.PixelFormat {
	switch img.(type) {
	case *image.Gray:
		return models.FormatGray8
	case *image.Gray16:
		return models.FormatGray16
	case *image.Paletted:
		return models.FormatPaletted
	default:
		return models.FormatRGBA
	}
}

// loadImage decodes an image with any registered decoder
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// extractNumber extracts the digits of a file name as one number
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}
