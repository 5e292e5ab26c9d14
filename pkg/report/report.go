// Package report renders colocalization count tables as "+/-" keyed rows,
// either comma-separated for downstream statistics or as an aligned text table.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"multiplexcoloc/pkg/colocalization"
)

// ErrReportWriteFailure is returned when the report destination cannot be written
var ErrReportWriteFailure = errors.New("report write failure")

const (
	// Positive marks a flag that is set in the combination
	Positive = "(+)"

	// Negative marks a flag that is clear in the combination
	Negative = "(-)"
)

// Cells renders unpacked flags as "+/-" cells, flag 0 leftmost
func Cells(flags []bool) []string {
	cells := make([]string, len(flags))
	for j, f := range flags {
		if f {
			cells[j] = Positive
		} else {
			cells[j] = Negative
		}
	}
	return cells
}

// Row is one combination of the report
type Row struct {
	Index int

	// Cells holds the "+/-" pattern, one cell per flag
	Cells []string

	// Counts holds one value per table
	Counts []uint64

	// Total is the cross-group sum, only meaningful when the report has groups
	Total uint64
}

// Report is the tabulated form of a result
type Report struct {
	// FlagLabels name the "+/-" columns
	FlagLabels []string

	// GroupLabels name the count columns in stamp mode, nil otherwise
	GroupLabels []string

	Rows []Row

	// Header controls whether Write emits a leading label row
	Header bool
}

// Options controls report construction
type Options struct {
	// Header adds a label row before the data rows
	Header bool
}

// New builds a report with one row per combination index in increasing order
func New(res *colocalization.Result, opts Options) *Report {
	comboCount := res.Indexer.ComboCount()
	grouped := res.Grouping == colocalization.GroupingStamps

	var total *colocalization.Table
	if grouped {
		total = res.Total()
	}

	rows := make([]Row, comboCount)
	for i := range rows {
		counts := make([]uint64, len(res.Tables))
		for t, table := range res.Tables {
			counts[t] = table.Count(i)
		}
		// i < ComboCount so Unpack cannot fail
		flags, _ := res.Indexer.Unpack(i)
		rows[i] = Row{
			Index:  i,
			Cells:  Cells(flags),
			Counts: counts,
		}
		if grouped {
			rows[i].Total = total.Count(i)
		}
	}

	r := &Report{
		FlagLabels: append([]string(nil), res.BitLabels...),
		Rows:       rows,
		Header:     opts.Header,
	}
	if grouped {
		r.GroupLabels = append([]string(nil), res.GroupLabels...)
	}
	return r
}

// Grouped reports whether the report has per-group count columns and a total
func (r *Report) Grouped() bool {
	return r.GroupLabels != nil
}

func (r *Report) headerRecord() []string {
	record := append([]string(nil), r.FlagLabels...)
	if r.Grouped() {
		record = append(record, r.GroupLabels...)
		return append(record, "total")
	}
	return append(record, "count")
}

func (r *Report) record(row Row) []string {
	record := append([]string(nil), row.Cells...)
	for _, c := range row.Counts {
		record = append(record, strconv.FormatUint(c, 10))
	}
	if r.Grouped() {
		record = append(record, strconv.FormatUint(row.Total, 10))
	}
	return record
}

// Write emits the report as comma-separated rows, each terminated by a newline
func (r *Report) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if r.Header {
		if err := cw.Write(r.headerRecord()); err != nil {
			return err
		}
	}
	for _, row := range r.Rows {
		if err := cw.Write(r.record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the report to path, replacing any existing file. Every
// failure is wrapped in ErrReportWriteFailure.
func (r *Report) WriteFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no report path configured", ErrReportWriteFailure)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrReportWriteFailure, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReportWriteFailure, err)
	}
	if err := r.Write(file); err != nil {
		file.Close()
		return fmt.Errorf("%w: %s: %v", ErrReportWriteFailure, path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrReportWriteFailure, path, err)
	}
	return nil
}

// WriteText emits the report as an aligned fixed-column table for terminals
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	writeLine := func(record []string) {
		for _, cell := range record {
			fmt.Fprintf(tw, "%s\t", cell)
		}
		fmt.Fprintln(tw)
	}

	writeLine(r.headerRecord())
	for _, row := range r.Rows {
		writeLine(r.record(row))
	}
	return tw.Flush()
}
