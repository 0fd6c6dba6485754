package patient

// Column describes one column of the loaded table.
type Column struct {
	Name    string `json:"name"`
	Numeric bool   `json:"numeric"`
}

// Table is the immutable, fully loaded patient dataset.
type Table struct {
	columns      []Column
	records      []Record
	patientTypes []string
	dateCol      int
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// Record returns record i.
func (t *Table) Record(i int) Record { return t.records[i] }

// Columns returns a copy of the column descriptors in header order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// NumericColumns returns the indices of numeric columns in header order.
func (t *Table) NumericColumns() []int {
	var idx []int
	for i, c := range t.columns {
		if c.Numeric {
			idx = append(idx, i)
		}
	}
	return idx
}

// PatientTypes returns the distinct PATIENT_TYPE values in first-seen order.
func (t *Table) PatientTypes() []string {
	out := make([]string, len(t.patientTypes))
	copy(out, t.patientTypes)
	return out
}

// All returns a view over every record.
func (t *Table) All() *View {
	rows := make([]int, len(t.records))
	for i := range rows {
		rows[i] = i
	}
	return &View{table: t, rows: rows}
}

// View is an ordered subset of a table's records. It references the table
// and never copies or alters records.
type View struct {
	table *Table
	rows  []int
}

// NewView builds a view from ascending row indices of t.
func NewView(t *Table, rows []int) *View {
	return &View{table: t, rows: rows}
}

// Table returns the source table.
func (v *View) Table() *Table { return v.table }

// Len returns the number of rows in the view.
func (v *View) Len() int { return len(v.rows) }

// Record returns the i-th record of the view.
func (v *View) Record(i int) Record { return v.table.records[v.rows[i]] }

// Rows returns a copy of the source row indices.
func (v *View) Rows() []int {
	out := make([]int, len(v.rows))
	copy(out, v.rows)
	return out
}

// Each calls fn for every record in view order.
func (v *View) Each(fn func(Record)) {
	for _, r := range v.rows {
		fn(v.table.records[r])
	}
}

// Slice returns the view rows in [offset, offset+limit).
func (v *View) Slice(offset, limit int) *View {
	if offset < 0 {
		offset = 0
	}
	if offset > len(v.rows) {
		offset = len(v.rows)
	}
	end := offset + limit
	if limit < 0 || end > len(v.rows) {
		end = len(v.rows)
	}
	return &View{table: v.table, rows: v.rows[offset:end:end]}
}
