// Package output formats conversion results for the terminal and for reports.
package output

import (
	"fmt"
	"io"
	"os"

	"webp-shrink/internal/converter"
	"webp-shrink/internal/saver"

	"github.com/fatih/color"
)

// Printer writes human-readable conversion output.
type Printer struct {
	out       io.Writer
	err       io.Writer
	useColors bool
	quiet     bool
}

// NewPrinter returns a printer on stdout and stderr. Colors are disabled
// when NO_COLOR is set or the terminal is dumb.
func NewPrinter(quiet bool) *Printer {
	return NewPrinterWithWriters(os.Stdout, os.Stderr, ResolveColors(), quiet)
}

// NewPrinterWithWriters returns a printer on the given writers.
func NewPrinterWithWriters(out, errOut io.Writer, useColors, quiet bool) *Printer {
	return &Printer{out: out, err: errOut, useColors: useColors, quiet: quiet}
}

// NewReportPrinter returns a printer for a run that also writes a report in
// format to out. JSON and YAML reports keep out to themselves, so every
// human-readable line goes to errOut instead.
func NewReportPrinter(format string, out, errOut io.Writer, useColors, quiet bool) *Printer {
	if IsMachineReadable(format) {
		out = errOut
	}
	return NewPrinterWithWriters(out, errOut, useColors, quiet)
}

// ResolveColors reports whether the environment allows colored output.
func ResolveColors() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return !color.NoColor
}

// Info prints an informational message.
func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	if p.useColors {
		color.New(color.FgCyan).Fprintf(p.out, format+"\n", args...)
	} else {
		fmt.Fprintf(p.out, format+"\n", args...)
	}
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	if p.useColors {
		color.New(color.FgGreen).Fprintf(p.out, "✓ "+format+"\n", args...)
	} else {
		fmt.Fprintf(p.out, "[OK] "+format+"\n", args...)
	}
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	if p.useColors {
		color.New(color.FgYellow).Fprintf(p.err, "⚠ "+format+"\n", args...)
	} else {
		fmt.Fprintf(p.err, "[WARN] "+format+"\n", args...)
	}
}

// Error prints an error message. Errors are printed even in quiet mode.
func (p *Printer) Error(format string, args ...interface{}) {
	if p.useColors {
		color.New(color.FgRed).Fprintf(p.err, "✗ "+format+"\n", args...)
	} else {
		fmt.Fprintf(p.err, "[ERROR] "+format+"\n", args...)
	}
}

// Header prints a section header.
func (p *Printer) Header(title string) {
	if p.quiet {
		return
	}
	if p.useColors {
		color.New(color.FgWhite, color.Bold).Fprintf(p.out, "\n%s\n", title)
		color.New(color.FgWhite).Fprintf(p.out, "%s\n", repeatChar('─', len([]rune(title))))
	} else {
		fmt.Fprintf(p.out, "\n%s\n%s\n", title, repeatChar('-', len([]rune(title))))
	}
}

// Print prints a plain message.
func (p *Printer) Print(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Outcome prints the one-line result of a converted or failed file.
func (p *Printer) Outcome(o converter.Outcome) {
	if o.Success() {
		if !o.Result.TargetMet {
			p.Warning("%s (target not reached)", OutcomeLine(o))
			return
		}
		p.Success("%s", OutcomeLine(o))
		return
	}
	p.Error("%s", OutcomeLine(o))
}

// BatchSummary prints the aggregate numbers of a converted batch.
func (p *Printer) BatchSummary(state converter.BatchState) {
	converted := len(state.Successful())
	p.Header("Results")
	p.Print("Converted: %d of %d", converted, len(state.Outcomes))
	if converted == 0 {
		return
	}
	p.Print("Average savings: %.0f%%", state.Stats.AverageSavingsPercent())
	p.Print("Total saved: %d KB", state.Stats.TotalSavedKB())
}

// SaveAllResult prints where files went and which writes failed.
func (p *Printer) SaveAllResult(res saver.SaveAllResult) {
	if res.Canceled {
		p.Info("Saving canceled")
		return
	}
	for _, r := range res.Results {
		if r.Success() {
			p.Success("%s → %s", r.SourceName, r.Path)
		} else {
			p.Error("%s: %s", r.SourceName, r.Error)
		}
	}
	p.Info("Saved %d of %d file(s) to %s", res.Saved(), len(res.Results), res.Directory)
}

// OutcomeLine formats an outcome as a single line without color.
func OutcomeLine(o converter.Outcome) string {
	if !o.Success() {
		return fmt.Sprintf("%s failed: %s", o.OriginalName, o.Message())
	}
	r := o.Result
	return fmt.Sprintf("%s %d KB → %d KB (%d%% smaller) | Quality: %d%%",
		o.OriginalName, r.OriginalSizeKB, r.FinalSizeKB, r.SavingsPercent, r.QualityUsed)
}

func repeatChar(char rune, count int) string {
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
