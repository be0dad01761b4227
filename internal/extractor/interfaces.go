package extractor

import (
	"time"
)

// MetadataExtractor reads descriptive metadata from source images.
type MetadataExtractor interface {
	Extract(filePath string) (*ImageMetadata, error)
	SupportsFile(filePath string) bool
}

// CachedMetadataExtractor extends MetadataExtractor with caching capabilities.
type CachedMetadataExtractor interface {
	MetadataExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	TotalQueries int64
}

// MetadataSource represents where the EXIF fields were read from.
type MetadataSource int

const (
	MetadataSourceNone MetadataSource = iota
	MetadataSourceGoExif
	MetadataSourceExiftool
)

// ImageMetadata describes a source image.
type ImageMetadata struct {
	Path        string         `json:"path" yaml:"path"`
	Format      string         `json:"format" yaml:"format"`
	Width       int            `json:"width" yaml:"width"`
	Height      int            `json:"height" yaml:"height"`
	SizeBytes   int64          `json:"size_bytes" yaml:"size_bytes"`
	Taken       *time.Time     `json:"taken,omitempty" yaml:"taken,omitempty"`
	CameraMake  string         `json:"camera_make,omitempty" yaml:"camera_make,omitempty"`
	CameraModel string         `json:"camera_model,omitempty" yaml:"camera_model,omitempty"`
	Software    string         `json:"software,omitempty" yaml:"software,omitempty"`
	Orientation int            `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	Source      MetadataSource `json:"-" yaml:"-"`
}

// String returns a human-readable description of the metadata source.
func (ms MetadataSource) String() string {
	switch ms {
	case MetadataSourceGoExif:
		return "EXIF"
	case MetadataSourceExiftool:
		return "exiftool"
	default:
		return "none"
	}
}
