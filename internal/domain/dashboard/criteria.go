package dashboard

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coviddash/dashboard/internal/domain/patient"
)

// Default age slider bounds.
const (
	DefaultAgeMin = 0
	DefaultAgeMax = 120
)

// ErrInvalidCriteria wraps every criteria validation failure.
var ErrInvalidCriteria = errors.New("invalid criteria")

// Criteria is the full set of filter selections. Every field is an explicit
// set; an empty Genders or PatientTypes slice selects nothing.
type Criteria struct {
	AgeMin        int                   `json:"age_min"`
	AgeMax        int                   `json:"age_max"`
	Genders       []patient.Sex         `json:"genders"`
	PatientTypes  []string              `json:"patient_types"`
	Comorbidities []patient.Comorbidity `json:"comorbidities"`
}

// DefaultCriteria selects the full age range, both genders and every
// patient type observed in t, with no comorbidity constraint.
func DefaultCriteria(t *patient.Table) Criteria {
	genders := make([]patient.Sex, len(patient.Sexes))
	copy(genders, patient.Sexes)
	return Criteria{
		AgeMin:        DefaultAgeMin,
		AgeMax:        DefaultAgeMax,
		Genders:       genders,
		PatientTypes:  t.PatientTypes(),
		Comorbidities: []patient.Comorbidity{},
	}
}

// Validate checks the age range and the closed gender and comorbidity domains.
func (c Criteria) Validate() error {
	if c.AgeMin < 0 {
		return fmt.Errorf("%w: age_min must be non-negative, got %d", ErrInvalidCriteria, c.AgeMin)
	}
	if c.AgeMin > c.AgeMax {
		return fmt.Errorf("%w: age_min %d exceeds age_max %d", ErrInvalidCriteria, c.AgeMin, c.AgeMax)
	}
	for _, g := range c.Genders {
		if g != patient.SexMale && g != patient.SexFemale {
			return fmt.Errorf("%w: unknown gender code %d", ErrInvalidCriteria, int(g))
		}
	}
	for _, cm := range c.Comorbidities {
		if cm.Column() == "" {
			return fmt.Errorf("%w: unknown comorbidity %q", ErrInvalidCriteria, cm)
		}
	}
	return nil
}

// CheckPatientTypes rejects patient types outside observed, the distinct
// values present in the loaded table.
func (c Criteria) CheckPatientTypes(observed []string) error {
	known := make(map[string]bool, len(observed))
	for _, pt := range observed {
		known[pt] = true
	}
	for _, pt := range c.PatientTypes {
		if !known[pt] {
			return fmt.Errorf("%w: unknown patient_type %q", ErrInvalidCriteria, pt)
		}
	}
	return nil
}

// ParseCriteria overlays query parameters on defaults. A parameter that is
// absent keeps the default; a parameter present with only empty values
// selects the empty set.
//
//	age_min, age_max      integers
//	gender                Male | Female (repeatable or comma separated)
//	patient_type          observed label (repeatable or comma separated)
//	comorbidity           diabetes | hypertension | obesity
func ParseCriteria(q url.Values, defaults Criteria) (Criteria, error) {
	c := defaults

	if v, ok := single(q, "age_min"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: age_min %q is not an integer", ErrInvalidCriteria, v)
		}
		c.AgeMin = n
	}
	if v, ok := single(q, "age_max"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: age_max %q is not an integer", ErrInvalidCriteria, v)
		}
		c.AgeMax = n
	}

	if vals, ok := multi(q, "gender"); ok {
		c.Genders = make([]patient.Sex, 0, len(vals))
		for _, v := range vals {
			g, err := patient.ParseSex(v)
			if err != nil {
				return c, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
			}
			c.Genders = append(c.Genders, g)
		}
	}

	if vals, ok := multi(q, "patient_type"); ok {
		c.PatientTypes = vals
	}

	if vals, ok := multi(q, "comorbidity"); ok {
		c.Comorbidities = make([]patient.Comorbidity, 0, len(vals))
		for _, v := range vals {
			cm, err := patient.ParseComorbidity(v)
			if err != nil {
				return c, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
			}
			c.Comorbidities = append(c.Comorbidities, cm)
		}
	}

	return c, c.Validate()
}

func single(q url.Values, key string) (string, bool) {
	if _, ok := q[key]; !ok {
		return "", false
	}
	v := strings.TrimSpace(q.Get(key))
	return v, v != ""
}

// multi flattens repeated and comma separated values, dropping blanks.
func multi(q url.Values, key string) ([]string, bool) {
	raw, ok := q[key]
	if !ok {
		return nil, false
	}
	out := []string{}
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out, true
}
