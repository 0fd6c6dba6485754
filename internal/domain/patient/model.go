package patient

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Canonical column names of the patient dataset.
const (
	ColAge          = "AGE"
	ColSex          = "SEX"
	ColPatientType  = "PATIENT_TYPE"
	ColDateDied     = "DATE_DIED"
	ColDiabetes     = "DIABETES"
	ColHypertension = "HYPERTENSION"
	ColObesity      = "OBESITY"
)

// RequiredColumns lists the columns every input file must carry.
var RequiredColumns = []string{
	ColAge, ColSex, ColPatientType, ColDateDied,
	ColDiabetes, ColHypertension, ColObesity,
}

// headerAliases maps alternative header spellings onto canonical names.
var headerAliases = map[string]string{
	"HIPERTENSION": ColHypertension,
}

// Sex is the binary sex code stored in the SEX column.
type Sex int

const (
	SexMale   Sex = 0
	SexFemale Sex = 1
)

// Sexes is the closed gender domain in display order.
var Sexes = []Sex{SexMale, SexFemale}

func (s Sex) String() string {
	switch s {
	case SexMale:
		return "Male"
	case SexFemale:
		return "Female"
	default:
		return fmt.Sprintf("Sex(%d)", int(s))
	}
}

// ParseSex resolves a gender label ("Male", "female") or code ("0", "1").
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "0":
		return SexMale, nil
	case "female", "1":
		return SexFemale, nil
	}
	return 0, fmt.Errorf("unknown gender %q", s)
}

// Comorbidity names one of the presence-flag columns.
type Comorbidity string

const (
	Diabetes     Comorbidity = "diabetes"
	Hypertension Comorbidity = "hypertension"
	Obesity      Comorbidity = "obesity"
)

// Comorbidities lists every supported comorbidity flag.
var Comorbidities = []Comorbidity{Diabetes, Hypertension, Obesity}

// Column returns the canonical dataset column backing the flag.
func (c Comorbidity) Column() string {
	switch c {
	case Diabetes:
		return ColDiabetes
	case Hypertension:
		return ColHypertension
	case Obesity:
		return ColObesity
	}
	return ""
}

// ParseComorbidity accepts either the flag name or its column name.
func ParseComorbidity(s string) (Comorbidity, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Comorbidities {
		if key == string(c) || key == strings.ToLower(c.Column()) {
			return c, nil
		}
	}
	if canonical, ok := headerAliases[strings.ToUpper(key)]; ok {
		return ParseComorbidity(canonical)
	}
	return "", fmt.Errorf("unknown comorbidity %q", s)
}

// NullInt is an integer cell that may be missing.
type NullInt struct {
	Value int
	Valid bool
}

// NullFlag is a comorbidity cell. Valid means the cell is non-empty, which is
// all the presence filter looks at; Value is only meaningful when Numeric.
type NullFlag struct {
	Value   int
	Numeric bool
	Valid   bool
}

// NullDate is a calendar date that may be missing.
type NullDate struct {
	Time  time.Time
	Valid bool
}

// Record is one patient row. Records are handed out by value and never
// modified after load.
type Record struct {
	Age          NullInt
	Sex          NullInt
	PatientType  string
	DateDied     NullDate
	Diabetes     NullFlag
	Hypertension NullFlag
	Obesity      NullFlag

	cells   []string
	numbers []float64
}

// Died reports whether the record carries a death date.
func (r Record) Died() bool {
	return r.DateDied.Valid
}

// Flag returns the value of the given comorbidity column.
func (r Record) Flag(c Comorbidity) NullFlag {
	switch c {
	case Diabetes:
		return r.Diabetes
	case Hypertension:
		return r.Hypertension
	case Obesity:
		return r.Obesity
	}
	return NullFlag{}
}

// Cell returns the raw text of column i as read from the source.
func (r Record) Cell(i int) string {
	if i < 0 || i >= len(r.cells) {
		return ""
	}
	return r.cells[i]
}

// Number returns the numeric value of column i, or false when the column is
// not numeric or the cell is missing.
func (r Record) Number(i int) (float64, bool) {
	if i < 0 || i >= len(r.numbers) || math.IsNaN(r.numbers[i]) {
		return 0, false
	}
	return r.numbers[i], true
}
