package encoder

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

// QualityStep is the amount the quality is lowered after every oversized attempt.
const QualityStep = 5

// ErrInvalidRequest is returned when a request violates its parameter bounds.
var ErrInvalidRequest = errors.New("invalid conversion request")

// Compressor encodes raw image bytes at the given quality.
type Compressor interface {
	Compress(data []byte, quality int) ([]byte, error)
}

// CompressorFunc adapts a plain function to the Compressor interface.
type CompressorFunc func(data []byte, quality int) ([]byte, error)

// Compress calls f(data, quality).
func (f CompressorFunc) Compress(data []byte, quality int) ([]byte, error) {
	return f(data, quality)
}

// Request describes a single size-constrained encode.
type Request struct {
	Input        []byte
	TargetSizeKB float64
	MinQuality   int
	MaxQuality   int
}

// Attempt records one compress call made during the search.
type Attempt struct {
	Quality   int
	SizeBytes int
}

// Result is the outcome of a successful search.
type Result struct {
	OriginalBytes  int
	FinalBytes     int
	OriginalSizeKB int
	FinalSizeKB    int
	SavingsPercent int
	QualityUsed    int
	TargetMet      bool
	Attempts       []Attempt
	Output         []byte
}

// EncodeError wraps a failure of the underlying codec.
type EncodeError struct {
	Quality int
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode at quality %d: %v", e.Quality, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// SizeConstrainedEncoder searches for the highest quality whose output fits
// under the requested size, stepping down from MaxQuality by QualityStep.
type SizeConstrainedEncoder struct {
	compressor Compressor
	logger     logrus.FieldLogger
}

// NewSizeConstrainedEncoder returns an encoder backed by the given compressor.
// A nil logger discards debug output.
func NewSizeConstrainedEncoder(c Compressor, logger logrus.FieldLogger) *SizeConstrainedEncoder {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &SizeConstrainedEncoder{compressor: c, logger: logger}
}

// WithLogger returns a copy of the encoder that logs attempts to l.
func (e *SizeConstrainedEncoder) WithLogger(l logrus.FieldLogger) *SizeConstrainedEncoder {
	cp := *e
	cp.logger = l
	return &cp
}

// Validate checks the request bounds.
func (r Request) Validate() error {
	if r.TargetSizeKB <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %v", ErrInvalidRequest, r.TargetSizeKB)
	}
	if r.MinQuality < 0 || r.MaxQuality > 100 {
		return fmt.Errorf("%w: quality range [%d, %d] outside [0, 100]", ErrInvalidRequest, r.MinQuality, r.MaxQuality)
	}
	if r.MinQuality > r.MaxQuality {
		return fmt.Errorf("%w: min quality %d above max quality %d", ErrInvalidRequest, r.MinQuality, r.MaxQuality)
	}
	return nil
}

// Encode runs the quality search for req.
//
// When no quality in range meets the target, the last examined candidate is
// returned with TargetMet false; callers must not assume FinalSizeKB is within
// the target. A codec failure aborts the search with an *EncodeError.
func (e *SizeConstrainedEncoder) Encode(req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res := &Result{OriginalBytes: len(req.Input)}
	var candidate []byte

	for quality := req.MaxQuality; quality >= req.MinQuality; quality -= QualityStep {
		out, err := e.compressor.Compress(req.Input, quality)
		if err != nil {
			return nil, &EncodeError{Quality: quality, Err: err}
		}

		candidate = out
		res.QualityUsed = quality
		res.Attempts = append(res.Attempts, Attempt{Quality: quality, SizeBytes: len(out)})

		e.logger.WithFields(logrus.Fields{
			"quality": quality,
			"size_kb": kilobytes(len(out)),
			"target":  req.TargetSizeKB,
		}).Debug("Encode attempt")

		if kilobytes(len(out)) <= req.TargetSizeKB {
			res.TargetMet = true
			break
		}
	}

	res.Output = candidate
	res.FinalBytes = len(candidate)
	res.OriginalSizeKB = roundHalfUp(kilobytes(res.OriginalBytes))
	res.FinalSizeKB = roundHalfUp(kilobytes(res.FinalBytes))
	res.SavingsPercent = roundHalfUp(SavingsPercent(kilobytes(res.OriginalBytes), kilobytes(res.FinalBytes)))

	return res, nil
}

// SavingsPercent returns the relative reduction from original to final,
// or zero when original is zero.
func SavingsPercent(original, final float64) float64 {
	if original == 0 {
		return 0
	}
	return (original - final) / original * 100
}

func kilobytes(n int) float64 {
	return float64(n) / 1024
}

// roundHalfUp rounds .5 toward positive infinity so negative savings
// display the same way as positive ones.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
