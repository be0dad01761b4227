package extractor

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	_ "github.com/disintegration/imaging" // registers the JPEG and PNG decoders
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// EXIFExtractor reads image dimensions and EXIF metadata.
type EXIFExtractor struct {
	fs          afero.Fs
	logger      *logrus.Logger
	useExiftool bool
	cache       *sync.Map
	stats       CacheStats
	mutex       sync.RWMutex
}

// NewEXIFExtractor returns a new EXIFExtractor. When useExiftool is set,
// files without goexif-readable metadata are retried with the exiftool binary.
func NewEXIFExtractor(fs afero.Fs, logger *logrus.Logger, useExiftool bool) *EXIFExtractor {
	return &EXIFExtractor{
		fs:          fs,
		logger:      logger,
		useExiftool: useExiftool,
		cache:       &sync.Map{},
	}
}

// Extract returns the metadata of an image file.
func (e *EXIFExtractor) Extract(filePath string) (*ImageMetadata, error) {
	if !e.SupportsFile(filePath) {
		return nil, fmt.Errorf("file type not supported by extractor: %s", filePath)
	}

	fileInfo, err := e.fs.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	key := fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().Unix())
	if value, ok := e.cache.Load(key); ok {
		e.incrementCacheHits()
		md := value.(ImageMetadata)
		return &md, nil
	}
	e.incrementCacheMisses()

	data, err := afero.ReadFile(e.fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	md := &ImageMetadata{
		Path:      filePath,
		Format:    format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: fileInfo.Size(),
	}

	if err := e.extractWithGoExif(data, md); err != nil {
		e.logger.Debugf("goexif found no metadata in %s: %v", filePath, err)
		if e.useExiftool {
			if err := e.extractWithExiftool(filePath, md); err != nil {
				e.logger.Debugf("exiftool found no metadata in %s: %v", filePath, err)
			}
		}
	}

	e.cache.Store(key, *md)
	return md, nil
}

// SupportsFile reports whether the file is supported by this extractor.
func (e *EXIFExtractor) SupportsFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return slices.Contains([]string{".jpg", ".jpeg", ".png"}, ext)
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *EXIFExtractor) ClearCache() {
	e.cache = &sync.Map{}
	e.mutex.Lock()
	e.stats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this extractor.
func (e *EXIFExtractor) GetCacheStats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	stats := e.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

// extractWithGoExif fills md from the EXIF block using the rwcarlsen/goexif library.
func (e *EXIFExtractor) extractWithGoExif(data []byte, md *ImageMetadata) error {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode EXIF: %w", err)
	}

	md.Source = MetadataSourceGoExif
	if tm, err := x.DateTime(); err == nil {
		md.Taken = &tm
	}
	md.CameraMake = exifString(x, exif.Make)
	md.CameraModel = exifString(x, exif.Model)
	md.Software = exifString(x, exif.Software)
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			md.Orientation = v
		}
	}
	return nil
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}

// extractWithExiftool fills md using the exiftool binary. It needs a real
// path on disk.
func (e *EXIFExtractor) extractWithExiftool(filePath string, md *ImageMetadata) error {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return err
	}
	defer et.Close()

	files := et.ExtractMetadata(filePath)
	if len(files) == 0 {
		return fmt.Errorf("no metadata returned")
	}
	if files[0].Err != nil {
		return files[0].Err
	}

	fields := files[0].Fields
	md.Source = MetadataSourceExiftool
	for _, key := range []string{"DateTimeOriginal", "CreateDate", "ModifyDate"} {
		if s, ok := fields[key].(string); ok {
			if tm := parseEXIFDateTime(s); tm != nil {
				md.Taken = tm
				break
			}
		}
	}
	md.CameraMake = fieldString(fields["Make"])
	md.CameraModel = fieldString(fields["Model"])
	md.Software = fieldString(fields["Software"])
	return nil
}

func fieldString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// parseEXIFDateTime parses an EXIF date time string and returns a time.Time pointer.
// Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}

// incrementCacheHits increments the cache hit counter.
func (e *EXIFExtractor) incrementCacheHits() {
	e.mutex.Lock()
	e.stats.Hits++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}

// incrementCacheMisses increments the cache miss counter.
func (e *EXIFExtractor) incrementCacheMisses() {
	e.mutex.Lock()
	e.stats.Misses++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}
