package compressor

import "errors"

// ErrUnsupportedFormat is returned when the input is not a decodable JPEG or PNG.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Options tune the WebP codec.
type Options struct {
	// MaxDimension bounds the longest edge before encoding; 0 keeps the original size.
	MaxDimension int
	// AutoOrient applies the EXIF orientation tag while decoding.
	AutoOrient bool
}

// Compressor encodes raw image bytes into WebP at the given quality.
type Compressor interface {
	// Compress decodes data and re-encodes it as WebP at quality (0-100).
	Compress(data []byte, quality int) ([]byte, error)
}
