package colocalization

import "errors"

var (
	// ErrGeometryMismatch is returned when channels disagree on width, height or slice count
	ErrGeometryMismatch = errors.New("geometry mismatch")

	// ErrUnsupportedPixelFormat is returned when a channel is not single-byte grayscale
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")

	// ErrInvalidConfiguration is returned for channel, threshold or group counts outside the supported range
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIndexOverflow is returned when a combination index does not fit its count table
	ErrIndexOverflow = errors.New("combination index overflow")
)
