package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all statistics for a conversion batch.
type Statistics struct {
	TotalFilesSelected  int64
	TotalFilesProcessed int64
	FilesConverted      int64
	FilesWithErrors     int64
	TargetsMissed       int64

	EncodeAttempts int64

	// Sizes are accumulated from the rounded per-file KB values, the same
	// numbers shown next to each file.
	TotalOriginalKB int64
	TotalFinalKB    int64

	FilesSaved     int64
	SaveErrors     int64
	BytesProcessed int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	FileTypeStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// SetFilesSelected records how many files the batch was started with.
func (s *Statistics) SetFilesSelected(n int) {
	atomic.StoreInt64(&s.TotalFilesSelected, int64(n))
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// IncrementFilesSaved increases the count of saved files by 1.
func (s *Statistics) IncrementFilesSaved() {
	atomic.AddInt64(&s.FilesSaved, 1)
}

// IncrementSaveErrors increases the count of failed saves by 1.
func (s *Statistics) IncrementSaveErrors() {
	atomic.AddInt64(&s.SaveErrors, 1)
}

// RecordConversion adds one successful conversion to the totals.
func (s *Statistics) RecordConversion(originalKB, finalKB, attempts int, targetMet bool) {
	atomic.AddInt64(&s.FilesConverted, 1)
	atomic.AddInt64(&s.TotalOriginalKB, int64(originalKB))
	atomic.AddInt64(&s.TotalFinalKB, int64(finalKB))
	atomic.AddInt64(&s.EncodeAttempts, int64(attempts))
	if !targetMet {
		atomic.AddInt64(&s.TargetsMissed, 1)
	}
}

// IncrementFileType increases the count for a specific file type by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[fileType]++
}

// AddBytesProcessed adds the given number of bytes to the total bytes processed.
func (s *Statistics) AddBytesProcessed(bytes int64) {
	atomic.AddInt64(&s.BytesProcessed, bytes)
}

// TotalSavedKB returns the KB saved across all converted files.
func (s *Statistics) TotalSavedKB() int64 {
	return atomic.LoadInt64(&s.TotalOriginalKB) - atomic.LoadInt64(&s.TotalFinalKB)
}

// AverageSavingsPercent returns total saved KB over total original KB,
// or zero when nothing was converted.
func (s *Statistics) AverageSavingsPercent() float64 {
	original := atomic.LoadInt64(&s.TotalOriginalKB)
	if original <= 0 {
		return 0
	}
	return float64(s.TotalSavedKB()) / float64(original) * 100
}

// Finalize calculates final statistics such as duration and files per second.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	fps := s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`WebP Conversion Summary:

Files:
		Selected: %d
		Processed: %d
		Converted: %d
		Errors: %d
		Over Target: %d

Sizes:
		Original: %d KB
		Converted: %d KB
		Saved: %d KB
		Average Savings: %.0f%%

Encoder:
		Encode Attempts: %d
		Bytes Read: %s

Output:
		Saved: %d
		Save Errors: %d

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.TotalFilesSelected),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesConverted),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.TargetsMissed),
		atomic.LoadInt64(&s.TotalOriginalKB),
		atomic.LoadInt64(&s.TotalFinalKB),
		s.TotalSavedKB(),
		s.AverageSavingsPercent(),
		atomic.LoadInt64(&s.EncodeAttempts),
		formatBytes(atomic.LoadInt64(&s.BytesProcessed)),
		atomic.LoadInt64(&s.FilesSaved),
		atomic.LoadInt64(&s.SaveErrors),
		duration,
		fps)
}

// GetFileTypeBreakdown returns a formatted breakdown of file types processed.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	result := "File Type Breakdown:\n"
	for fileType, count := range s.FileTypeStats {
		result += fmt.Sprintf("  %s: %d\n", fileType, count)
	}
	return result
}

// FileTypeCounts returns a copy of the per-extension counters.
func (s *Statistics) FileTypeCounts() map[string]int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	counts := make(map[string]int64, len(s.FileTypeStats))
	for k, v := range s.FileTypeStats {
		counts[k] = v
	}
	return counts
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetFilesConverted returns the number of successful conversions.
func (s *Statistics) GetFilesConverted() int64 {
	return atomic.LoadInt64(&s.FilesConverted)
}

// GetFilesWithErrors returns the total number of files with errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	return atomic.LoadInt64(&s.FilesWithErrors)
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
