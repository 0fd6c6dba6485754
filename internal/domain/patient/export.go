package patient

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Header returns the column names in file order.
func (t *Table) Header() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// FormatRow renders a record as output cells. The death date is written in
// DateLayout, or empty when missing; every other cell is written as read.
func (t *Table) FormatRow(r Record) []string {
	out := make([]string, len(t.columns))
	copy(out, r.cells)
	if t.dateCol >= 0 && t.dateCol < len(out) {
		out[t.dateCol] = ""
		if r.DateDied.Valid {
			out[t.dateCol] = r.DateDied.Time.Format(DateLayout)
		}
	}
	return out
}

// WriteCSV writes the view as a delimited file with a header row and no
// index column.
func WriteCSV(w io.Writer, v *View) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(v.table.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < v.Len(); i++ {
		if err := cw.Write(v.table.FormatRow(v.Record(i))); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
