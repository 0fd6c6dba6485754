package patient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout used when a death date is written back out.
const DateLayout = "2006-01-02"

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing required column")

// LoadOptions controls how cells are interpreted during load.
type LoadOptions struct {
	// DateLayouts are tried in order when parsing DATE_DIED.
	DateLayouts []string
	// DateSentinels are DATE_DIED values meaning "no date".
	DateSentinels []string
}

// DefaultLoadOptions returns ISO dates, day-first dates and the public
// dataset's 9999-99-99 sentinel.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		DateLayouts:   []string{DateLayout, "02/01/2006"},
		DateSentinels: []string{"9999-99-99"},
	}
}

// ReadCSV reads a delimited patient file into a table.
func ReadCSV(r io.Reader, opts LoadOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, row)
	}

	return BuildTable(header, rows, opts)
}

// BuildTable turns raw header and cell text into a table. Short rows are
// padded with missing cells; rows longer than the header are rejected.
func BuildTable(header []string, rows [][]string, opts LoadOptions) (*Table, error) {
	names := make([]string, len(header))
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		names[i] = h
		key := strings.ToUpper(h)
		if canonical, ok := headerAliases[key]; ok {
			key = canonical
		}
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	width := len(names)
	cells := make([][]string, len(rows))
	for n, row := range rows {
		if len(row) > width {
			return nil, fmt.Errorf("row %d: %d fields, header has %d", n+2, len(row), width)
		}
		padded := make([]string, width)
		for i, c := range row {
			padded[i] = strings.TrimSpace(c)
		}
		cells[n] = padded
	}

	dateCol := index[ColDateDied]
	columns := make([]Column, width)
	for i, name := range names {
		columns[i] = Column{Name: name, Numeric: i != dateCol && isNumericColumn(cells, i)}
	}

	sentinels := make(map[string]bool, len(opts.DateSentinels))
	for _, s := range opts.DateSentinels {
		sentinels[s] = true
	}

	t := &Table{
		columns: columns,
		records: make([]Record, len(cells)),
		dateCol: dateCol,
	}
	seenTypes := make(map[string]bool)
	for n, row := range cells {
		numbers := make([]float64, width)
		for i := range row {
			numbers[i] = math.NaN()
			if columns[i].Numeric && row[i] != "" {
				numbers[i], _ = strconv.ParseFloat(row[i], 64)
			}
		}

		pt := row[index[ColPatientType]]
		if !seenTypes[pt] {
			seenTypes[pt] = true
			t.patientTypes = append(t.patientTypes, pt)
		}

		t.records[n] = Record{
			Age:          parseInt(row[index[ColAge]]),
			Sex:          parseInt(row[index[ColSex]]),
			PatientType:  pt,
			DateDied:     parseDate(row[dateCol], opts.DateLayouts, sentinels),
			Diabetes:     parseFlag(row[index[ColDiabetes]]),
			Hypertension: parseFlag(row[index[ColHypertension]]),
			Obesity:      parseFlag(row[index[ColObesity]]),
			cells:        row,
			numbers:      numbers,
		}
	}
	return t, nil
}

func isNumericColumn(rows [][]string, col int) bool {
	for _, row := range rows {
		if row[col] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(row[col], 64); err != nil {
			return false
		}
	}
	return true
}

// parseInt accepts integers and integral floats ("45.0"); anything else is missing.
func parseInt(s string) NullInt {
	if s == "" {
		return NullInt{}
	}
	if v, err := strconv.Atoi(s); err == nil {
		return NullInt{Value: v, Valid: true}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return NullInt{}
	}
	return NullInt{Value: int(f), Valid: true}
}

// parseFlag treats any non-empty cell as present, keeping the integer value
// when there is one.
func parseFlag(s string) NullFlag {
	if s = strings.TrimSpace(s); s == "" {
		return NullFlag{}
	}
	n := parseInt(s)
	return NullFlag{Value: n.Value, Numeric: n.Valid, Valid: true}
}

// parseDate coerces anything it cannot read to a missing date.
func parseDate(s string, layouts []string, sentinels map[string]bool) NullDate {
	if s == "" || sentinels[s] {
		return NullDate{}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return NullDate{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
		}
	}
	return NullDate{}
}
