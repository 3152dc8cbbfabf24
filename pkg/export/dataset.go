// Package export renders tabular datasets into downloadable files.
package export

import (
	"errors"
	"time"
)

// ErrNoColumns is returned when a dataset defines no headers.
var ErrNoColumns = errors.New("dataset requires at least one column")

// Column describes one table column. Width is a relative weight used by
// the PDF layout; zero means 1.
type Column struct {
	Header string
	Width  float64
	Align  string
}

// Dataset defines tabular export content. Rows hold cell values in column
// order; short rows are padded with empty cells.
type Dataset struct {
	Title       string
	Subtitle    string
	Columns     []Column
	Rows        [][]string
	GeneratedAt time.Time
}

// Headers returns the column headers in order.
func (d Dataset) Headers() []string {
	headers := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		headers[i] = c.Header
	}
	return headers
}

func (d Dataset) cells(row []string) []string {
	out := make([]string, len(d.Columns))
	copy(out, row)
	return out
}
