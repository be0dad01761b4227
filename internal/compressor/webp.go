package compressor

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// WebPCompressor is the default implementation of the Compressor interface.
// It decodes JPEG/PNG input with imaging and encodes lossy WebP with libwebp.
type WebPCompressor struct {
	opts Options

	// The most recent decode, keyed by a hash of the input bytes.
	mu      sync.Mutex
	lastSum uint64
	lastLen int
	lastImg image.Image
}

// NewWebPCompressor creates a new WebPCompressor instance.
func NewWebPCompressor(opts Options) *WebPCompressor {
	return &WebPCompressor{opts: opts}
}

// NewDefaultCompressor returns a WebPCompressor that honours EXIF orientation
// and never resizes.
func NewDefaultCompressor() *WebPCompressor {
	return NewWebPCompressor(Options{AutoOrient: true})
}

// Compress decodes data and re-encodes it as WebP at quality.
func (c *WebPCompressor) Compress(data []byte, quality int) ([]byte, error) {
	if quality < 0 || quality > 100 {
		return nil, fmt.Errorf("quality %d out of range [0, 100]", quality)
	}

	img, err := c.decode(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, fmt.Errorf("webp encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Reset drops the cached decode.
func (c *WebPCompressor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSum = 0
	c.lastLen = 0
	c.lastImg = nil
}

// decode returns the decoded, oriented and optionally downscaled image.
func (c *WebPCompressor) decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	sum := xxhash.Sum64(data)
	c.mu.Lock()
	if c.lastImg != nil && c.lastSum == sum && c.lastLen == len(data) {
		img := c.lastImg
		c.mu.Unlock()
		return img, nil
	}
	c.mu.Unlock()

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(c.opts.AutoOrient))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	if md := c.opts.MaxDimension; md > 0 {
		b := img.Bounds()
		if b.Dx() > md || b.Dy() > md {
			img = imaging.Fit(img, md, md, imaging.Lanczos)
		}
	}

	c.mu.Lock()
	c.lastSum = sum
	c.lastLen = len(data)
	c.lastImg = img
	c.mu.Unlock()

	return img, nil
}
