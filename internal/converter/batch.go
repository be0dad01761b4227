package converter

import (
	"errors"
	"fmt"
	"path/filepath"

	"webp-shrink/internal/encoder"
	"webp-shrink/internal/statistics"

	"github.com/google/uuid"
)

// ErrorKind classifies a failed outcome.
type ErrorKind string

const (
	KindNone    ErrorKind = ""
	KindRead    ErrorKind = "read_error"
	KindEncode  ErrorKind = "encode_error"
	KindInvalid ErrorKind = "invalid_request"
)

// ReadError reports an input file that could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// classify maps a per-file error onto its ErrorKind.
func classify(err error) ErrorKind {
	var readErr *ReadError
	var encErr *encoder.EncodeError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &readErr):
		return KindRead
	case errors.As(err, &encErr):
		return KindEncode
	case errors.Is(err, encoder.ErrInvalidRequest):
		return KindInvalid
	default:
		return KindEncode
	}
}

// Params are the search settings shared by every file of a batch.
type Params struct {
	TargetSizeKB float64 `json:"target_size_kb"`
	MinQuality   int     `json:"min_quality"`
	MaxQuality   int     `json:"max_quality"`
}

// Validate checks the parameters without running a search.
func (p Params) Validate() error {
	return p.request(nil).Validate()
}

func (p Params) request(input []byte) encoder.Request {
	return encoder.Request{
		Input:        input,
		TargetSizeKB: p.TargetSizeKB,
		MinQuality:   p.MinQuality,
		MaxQuality:   p.MaxQuality,
	}
}

// Outcome is the per-file result of a conversion. Exactly one of Result and
// Err is set.
type Outcome struct {
	Index        int
	Path         string
	OriginalName string
	Result       *encoder.Result
	Err          error
	Kind         ErrorKind
}

// Success reports whether the file was converted.
func (o Outcome) Success() bool {
	return o.Err == nil && o.Result != nil
}

// Message returns a human-readable description of a failure.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func failed(index int, path string, err error) Outcome {
	return Outcome{
		Index:        index,
		Path:         path,
		OriginalName: filepath.Base(path),
		Err:          err,
		Kind:         classify(err),
	}
}

// BatchState carries one batch through select, convert and save.
type BatchState struct {
	ID       string
	Files    []string
	Params   Params
	Outcomes []Outcome
	Stats    *statistics.Statistics
}

// NewBatchState starts a batch for the selected files.
func NewBatchState(files []string, params Params) BatchState {
	return BatchState{
		ID:     uuid.NewString(),
		Files:  append([]string(nil), files...),
		Params: params,
		Stats:  statistics.NewStatistics(),
	}
}

// Converted reports whether the convert stage has run.
func (b BatchState) Converted() bool {
	return b.Outcomes != nil
}

// Successful returns the outcomes that carry encoded output, in input order.
func (b BatchState) Successful() []Outcome {
	var ok []Outcome
	for _, o := range b.Outcomes {
		if o.Success() {
			ok = append(ok, o)
		}
	}
	return ok
}

// Failed returns the outcomes that carry an error, in input order.
func (b BatchState) Failed() []Outcome {
	var bad []Outcome
	for _, o := range b.Outcomes {
		if !o.Success() {
			bad = append(bad, o)
		}
	}
	return bad
}

// Progress is reported after each file of a batch finishes.
type Progress struct {
	BatchID   string
	Completed int
	Total     int
	Outcome   Outcome
}

// Percent returns the share of the batch completed so far.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)
