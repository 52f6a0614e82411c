package encoding

import (
	"encoding/csv"
	"io"
	"strings"

	"sleepdx/pkg/errors"
)

// Table is a raw tabular corpus: a header and string cells
type Table struct {
	Columns []string
	Rows    [][]string
}

// NormalizeColumnName lower-cases a header and replaces spaces and slashes
// with underscores ("Blood Pressure" -> "blood_pressure").
func NormalizeColumnName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	return strings.ReplaceAll(n, "/", "_")
}

// Normalized returns a copy of the table with normalized column names.
// Rows are shared, not copied.
func (t *Table) Normalized() *Table {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = NormalizeColumnName(c)
	}
	return &Table{Columns: cols, Rows: t.Rows}
}

// Column returns the index of a column, or -1
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ReadCSV reads a table with a header row. Every row must have as many
// cells as the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse csv")
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no header")
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &Table{Columns: header, Rows: records[1:]}, nil
}

// WriteCSV writes the header and rows
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}
