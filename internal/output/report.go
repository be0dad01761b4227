package output

import (
	"encoding/json"
	"fmt"
	"io"

	"webp-shrink/internal/converter"

	"gopkg.in/yaml.v3"
)

// Report is the machine-readable form of a converted batch.
type Report struct {
	BatchID        string           `json:"batch_id" yaml:"batch_id"`
	Params         ReportParams     `json:"params" yaml:"params"`
	Files          []ReportFile     `json:"files" yaml:"files"`
	Converted      int              `json:"converted" yaml:"converted"`
	Failed         int              `json:"failed" yaml:"failed"`
	TotalSavedKB   int64            `json:"total_saved_kb" yaml:"total_saved_kb"`
	AverageSavings float64          `json:"average_savings_percent" yaml:"average_savings_percent"`
	DurationMillis int64            `json:"duration_ms" yaml:"duration_ms"`
	FileTypes      map[string]int64 `json:"file_types,omitempty" yaml:"file_types,omitempty"`
}

// ReportParams mirrors converter.Params.
type ReportParams struct {
	TargetSizeKB float64 `json:"target_size_kb" yaml:"target_size_kb"`
	MinQuality   int     `json:"min_quality" yaml:"min_quality"`
	MaxQuality   int     `json:"max_quality" yaml:"max_quality"`
}

// ReportFile is one outcome of the batch.
type ReportFile struct {
	Name           string `json:"name" yaml:"name"`
	Path           string `json:"path" yaml:"path"`
	Success        bool   `json:"success" yaml:"success"`
	OriginalSizeKB int    `json:"original_size_kb,omitempty" yaml:"original_size_kb,omitempty"`
	FinalSizeKB    int    `json:"final_size_kb,omitempty" yaml:"final_size_kb,omitempty"`
	SavingsPercent int    `json:"savings_percent,omitempty" yaml:"savings_percent,omitempty"`
	QualityUsed    int    `json:"quality_used" yaml:"quality_used"`
	TargetMet      bool   `json:"target_met" yaml:"target_met"`
	Attempts       int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewReport builds a report from a converted batch.
func NewReport(state converter.BatchState) Report {
	r := Report{
		BatchID: state.ID,
		Params: ReportParams{
			TargetSizeKB: state.Params.TargetSizeKB,
			MinQuality:   state.Params.MinQuality,
			MaxQuality:   state.Params.MaxQuality,
		},
		Files: make([]ReportFile, 0, len(state.Outcomes)),
	}

	for _, o := range state.Outcomes {
		f := ReportFile{Name: o.OriginalName, Path: o.Path, Success: o.Success()}
		if o.Success() {
			f.OriginalSizeKB = o.Result.OriginalSizeKB
			f.FinalSizeKB = o.Result.FinalSizeKB
			f.SavingsPercent = o.Result.SavingsPercent
			f.QualityUsed = o.Result.QualityUsed
			f.TargetMet = o.Result.TargetMet
			f.Attempts = len(o.Result.Attempts)
			r.Converted++
		} else {
			f.ErrorKind = string(o.Kind)
			f.Error = o.Message()
			r.Failed++
		}
		r.Files = append(r.Files, f)
	}

	if state.Stats != nil {
		r.TotalSavedKB = state.Stats.TotalSavedKB()
		r.AverageSavings = state.Stats.AverageSavingsPercent()
		r.DurationMillis = state.Stats.GetDuration().Milliseconds()
		r.FileTypes = state.Stats.FileTypeCounts()
	}
	return r
}

// IsMachineReadable reports whether format is meant for other programs.
func IsMachineReadable(format string) bool {
	return format == "json" || format == "yaml"
}

// WriteReport writes the batch in the given format: table, json or yaml.
func WriteReport(w io.Writer, state converter.BatchState, format string) error {
	switch format {
	case "", "table":
		return WriteResultsTable(w, state.Outcomes)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReport(state))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewReport(state)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
