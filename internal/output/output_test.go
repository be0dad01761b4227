package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"webp-shrink/internal/converter"
	"webp-shrink/internal/encoder"
	"webp-shrink/internal/saver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleState() converter.BatchState {
	state := converter.NewBatchState([]string{"/in/a.jpg", "/in/b.png"}, converter.Params{
		TargetSizeKB: 200, MinQuality: 40, MaxQuality: 90,
	})
	state.Outcomes = []converter.Outcome{
		{
			Index:        0,
			Path:         "/in/a.jpg",
			OriginalName: "a.jpg",
			Result: &encoder.Result{
				OriginalSizeKB: 500,
				FinalSizeKB:    190,
				SavingsPercent: 62,
				QualityUsed:    55,
				TargetMet:      true,
				Attempts:       make([]encoder.Attempt, 8),
			},
		},
		{
			Index:        1,
			Path:         "/in/b.png",
			OriginalName: "b.png",
			Err:          &converter.ReadError{Path: "/in/b.png", Err: errors.New("no such file")},
			Kind:         converter.KindRead,
		},
	}
	state.Stats.RecordConversion(500, 190, 8, true)
	state.Stats.IncrementFileType(".jpg")
	return state
}

func TestOutcomeLine(t *testing.T) {
	state := sampleState()
	assert.Equal(t, "a.jpg 500 KB → 190 KB (62% smaller) | Quality: 55%", OutcomeLine(state.Outcomes[0]))
	assert.Equal(t, "b.png failed: read /in/b.png: no such file", OutcomeLine(state.Outcomes[1]))
}

func TestPrinter_OutcomeStreams(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinterWithWriters(&out, &errOut, false, false)
	state := sampleState()

	p.Outcome(state.Outcomes[0])
	p.Outcome(state.Outcomes[1])

	assert.Equal(t, "[OK] a.jpg 500 KB → 190 KB (62% smaller) | Quality: 55%\n", out.String())
	assert.Contains(t, errOut.String(), "[ERROR] b.png failed")
}

func TestPrinter_MissedTargetIsWarning(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinterWithWriters(&out, &errOut, false, false)

	p.Outcome(converter.Outcome{
		OriginalName: "big.jpg",
		Result:       &encoder.Result{OriginalSizeKB: 900, FinalSizeKB: 300, SavingsPercent: 67, QualityUsed: 40},
	})

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "[WARN] big.jpg 900 KB → 300 KB (67% smaller) | Quality: 40% (target not reached)")
}

func TestPrinter_QuietKeepsErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinterWithWriters(&out, &errOut, false, true)

	p.Info("hello")
	p.Success("done")
	p.Header("Results")
	p.Error("broken")

	assert.Empty(t, out.String())
	assert.Equal(t, "[ERROR] broken\n", errOut.String())
}

func TestPrinter_BatchSummary(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinterWithWriters(&out, &out, false, false)

	p.BatchSummary(sampleState())

	assert.Contains(t, out.String(), "Results\n-------\n")
	assert.Contains(t, out.String(), "Converted: 1 of 2")
	assert.Contains(t, out.String(), "Average savings: 62%")
	assert.Contains(t, out.String(), "Total saved: 310 KB")
}

func TestPrinter_SaveAllResult(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinterWithWriters(&out, &errOut, false, false)

	p.SaveAllResult(saver.SaveAllResult{
		Directory: "/out",
		Results: []saver.SaveResult{
			{SourceName: "a.jpg", FileName: "a.webp", Path: "/out/a.webp"},
			{SourceName: "c.jpg", FileName: "c.webp", Error: "disk full"},
		},
	})
	assert.Contains(t, out.String(), "[OK] a.jpg → /out/a.webp")
	assert.Contains(t, out.String(), "Saved 1 of 2 file(s) to /out")
	assert.Contains(t, errOut.String(), "[ERROR] c.jpg: disk full")

	out.Reset()
	p.SaveAllResult(saver.SaveAllResult{Canceled: true})
	assert.Equal(t, "Saving canceled\n", out.String())
}

func TestNewReportPrinter_KeepsReportOutputClean(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var out, errOut bytes.Buffer
			state := sampleState()
			p := NewReportPrinter(format, &out, &errOut, false, false)

			for _, o := range state.Outcomes {
				p.Outcome(o)
			}
			p.BatchSummary(state)
			require.NoError(t, WriteReport(&out, state, format))

			var report Report
			if format == "json" {
				require.NoError(t, json.Unmarshal(out.Bytes(), &report))
			} else {
				require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
			}
			assert.Len(t, report.Files, 2)
			assert.Contains(t, errOut.String(), "a.jpg 500 KB → 190 KB")
			assert.Contains(t, errOut.String(), "Converted: 1 of 2")
		})
	}
}

func TestNewReportPrinter_TableSharesStdout(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewReportPrinter("table", &out, &errOut, false, false)

	p.BatchSummary(sampleState())

	assert.Contains(t, out.String(), "Converted: 1 of 2")
	assert.Empty(t, errOut.String())
}

func TestWriteResultsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResultsTable(&buf, sampleState().Outcomes))

	s := buf.String()
	assert.Contains(t, s, "a.jpg")
	assert.Contains(t, s, "190 KB")
	assert.Contains(t, s, "62%")
	assert.Contains(t, s, "read_error")
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleState(), "json"))

	var r Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	assert.Equal(t, 1, r.Converted)
	assert.Equal(t, 1, r.Failed)
	assert.EqualValues(t, 310, r.TotalSavedKB)
	require.Len(t, r.Files, 2)
	assert.Equal(t, 55, r.Files[0].QualityUsed)
	assert.Equal(t, 8, r.Files[0].Attempts)
	assert.Equal(t, "read_error", r.Files[1].ErrorKind)
	assert.EqualValues(t, 1, r.FileTypes[".jpg"])
}

func TestWriteReport_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleState(), "yaml"))

	var r Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &r))
	assert.InDelta(t, 200, r.Params.TargetSizeKB, 0)
	assert.Equal(t, "a.jpg", r.Files[0].Name)
	assert.True(t, r.Files[0].TargetMet)
}

func TestWriteReport_UnknownFormat(t *testing.T) {
	assert.Error(t, WriteReport(&bytes.Buffer{}, sampleState(), "xml"))
}
