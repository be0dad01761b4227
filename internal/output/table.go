package output

import (
	"io"
	"strconv"

	"webp-shrink/internal/converter"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var resultHeaders = []string{"File", "Original", "WebP", "Savings", "Quality", "Target", "Status"}

// Table renders rows with the project's borderless layout.
type Table struct {
	table  *tablewriter.Table
	header []string
	rows   [][]string
}

// NewTable creates a table on w.
func NewTable(w io.Writer, headers []string) *Table {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap: tw.WrapNone,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{
					ShowHeader: tw.Off,
				},
			},
		}),
	)

	return &Table{table: table, header: headers}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// Render writes the table.
func (t *Table) Render() error {
	t.table.Header(t.header)
	if err := t.table.Bulk(t.rows); err != nil {
		return err
	}
	return t.table.Render()
}

// WriteResultsTable renders one row per outcome, in input order.
func WriteResultsTable(w io.Writer, outcomes []converter.Outcome) error {
	t := NewTable(w, resultHeaders)
	for _, o := range outcomes {
		t.AddRow(resultRow(o))
	}
	return t.Render()
}

func resultRow(o converter.Outcome) []string {
	if !o.Success() {
		return []string{o.OriginalName, "-", "-", "-", "-", "-", string(o.Kind)}
	}
	r := o.Result
	target := "met"
	if !r.TargetMet {
		target = "missed"
	}
	return []string{
		o.OriginalName,
		strconv.Itoa(r.OriginalSizeKB) + " KB",
		strconv.Itoa(r.FinalSizeKB) + " KB",
		strconv.Itoa(r.SavingsPercent) + "%",
		strconv.Itoa(r.QualityUsed),
		target,
		"ok",
	}
}
