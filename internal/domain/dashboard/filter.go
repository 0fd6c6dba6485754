package dashboard

import (
	"github.com/coviddash/dashboard/internal/domain/patient"
)

// Predicate reports whether a record belongs in the filtered view.
type Predicate func(r patient.Record) bool

// AgeBetween keeps records whose age lies in [lo, hi]. Records without an
// age never match.
func AgeBetween(lo, hi int) Predicate {
	return func(r patient.Record) bool {
		return r.Age.Valid && r.Age.Value >= lo && r.Age.Value <= hi
	}
}

// GenderIn keeps records whose SEX code is one of genders.
func GenderIn(genders ...patient.Sex) Predicate {
	set := make(map[int]bool, len(genders))
	for _, g := range genders {
		set[int(g)] = true
	}
	return func(r patient.Record) bool {
		return r.Sex.Valid && set[r.Sex.Value]
	}
}

// PatientTypeIn keeps records whose PATIENT_TYPE is one of types.
func PatientTypeIn(types ...string) Predicate {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(r patient.Record) bool {
		return set[r.PatientType]
	}
}

// HasComorbidity keeps records where the flag column holds any value.
// The flag's value itself is not inspected.
func HasComorbidity(c patient.Comorbidity) Predicate {
	return func(r patient.Record) bool {
		return r.Flag(c).Valid
	}
}

// Predicates expands criteria into independent, commutative predicates.
func Predicates(c Criteria) []Predicate {
	preds := []Predicate{
		AgeBetween(c.AgeMin, c.AgeMax),
		GenderIn(c.Genders...),
		PatientTypeIn(c.PatientTypes...),
	}
	for _, cm := range c.Comorbidities {
		preds = append(preds, HasComorbidity(cm))
	}
	return preds
}

// FilterWith returns the records of t satisfying every predicate, in table
// order.
func FilterWith(t *patient.Table, preds ...Predicate) *patient.View {
	rows := make([]int, 0, t.Len())
next:
	for i := 0; i < t.Len(); i++ {
		r := t.Record(i)
		for _, p := range preds {
			if !p(r) {
				continue next
			}
		}
		rows = append(rows, i)
	}
	return patient.NewView(t, rows)
}

// Filter applies criteria to t. It never mutates t.
func Filter(t *patient.Table, c Criteria) *patient.View {
	return FilterWith(t, Predicates(c)...)
}
