package dashboard

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/coviddash/dashboard/internal/domain/patient"
)

// AgeHistogramBins is the number of bins in the age distribution.
const AgeHistogramBins = 30

// Summary holds every metric derived from a filtered view.
type Summary struct {
	TotalPatients       int               `json:"total_patients"`
	TotalDeaths         int               `json:"total_deaths"`
	DeathRate           float64           `json:"death_rate"`
	AverageAge          Float             `json:"average_age"`
	MedianAge           Float             `json:"median_age"`
	AgeMode             *int              `json:"age_mode"`
	GenderCounts        map[int]int       `json:"gender_counts"`
	GenderLabels        map[int]string    `json:"gender_labels"`
	PatientTypeByGender CrossTab          `json:"patient_type_by_gender"`
	Correlation         CorrelationMatrix `json:"numeric_correlation_matrix"`
	DeathTrend          []TrendPoint      `json:"death_trend"`
	DeathTrendPeak      int               `json:"death_trend_peak"`
	AgeHistogram        Histogram         `json:"age_histogram"`
	AgeByPatientType    []BoxStats        `json:"age_by_patient_type"`
}

// CrossTab counts records per (patient type, gender code). Rows and
// columns list only values present in the view.
type CrossTab struct {
	PatientTypes []string `json:"patient_types"`
	Genders      []int    `json:"genders"`
	Counts       [][]int  `json:"counts"`
}

// Count returns the cell for patientType and gender, zero when absent.
func (ct CrossTab) Count(patientType string, gender int) int {
	for i, pt := range ct.PatientTypes {
		if pt != patientType {
			continue
		}
		for j, g := range ct.Genders {
			if g == gender {
				return ct.Counts[i][j]
			}
		}
	}
	return 0
}

// CorrelationMatrix is a symmetric matrix of Pearson coefficients between
// numeric columns. Undefined entries are NaN.
type CorrelationMatrix struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"-"`
}

// At returns the coefficient between columns i and j.
func (cm CorrelationMatrix) At(i, j int) float64 { return cm.Values[i][j] }

func (cm CorrelationMatrix) MarshalJSON() ([]byte, error) {
	values := make([][]Float, len(cm.Values))
	for i, row := range cm.Values {
		values[i] = make([]Float, len(row))
		for j, v := range row {
			values[i][j] = Float(v)
		}
	}
	columns := cm.Columns
	if columns == nil {
		columns = []string{}
	}
	return json.Marshal(struct {
		Columns []string  `json:"columns"`
		Values  [][]Float `json:"values"`
	}{columns, values})
}

// TrendPoint is the number of deaths recorded on one day.
type TrendPoint struct {
	Date   time.Time `json:"date"`
	Deaths int       `json:"deaths"`
}

func (p TrendPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date   string `json:"date"`
		Deaths int    `json:"deaths"`
	}{p.Date.Format(patient.DateLayout), p.Deaths})
}

// Histogram is a binned distribution; len(Edges) == len(Counts)+1.
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
}

// BoxStats is the five-number summary of ages within one patient type.
type BoxStats struct {
	PatientType string `json:"patient_type"`
	Count       int    `json:"count"`
	Min         Float  `json:"min"`
	Q1          Float  `json:"q1"`
	Median      Float  `json:"median"`
	Q3          Float  `json:"q3"`
	Max         Float  `json:"max"`
}

// DeathRate is deaths as a percentage of patients, zero when there are none.
func DeathRate(deaths, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(deaths) * 100 / float64(total)
}

// AgeMode returns the most frequent age, the lowest one on ties.
func AgeMode(ages []int) (int, bool) {
	return mode(ages)
}

// Summarize derives every aggregate from v. It never fails; an empty view
// yields zero counts, NaN averages and empty groupings.
func Summarize(v *patient.View) Summary {
	s := Summary{
		TotalPatients: v.Len(),
		GenderCounts:  map[int]int{},
		GenderLabels:  map[int]string{},
	}

	var ages []float64
	var intAges []int
	agesByType := map[string][]float64{}
	deathsByDay := map[time.Time]int{}
	cross := map[string]map[int]int{}
	genderSeen := map[int]bool{}

	v.Each(func(r patient.Record) {
		if r.Age.Valid {
			ages = append(ages, float64(r.Age.Value))
			intAges = append(intAges, r.Age.Value)
			agesByType[r.PatientType] = append(agesByType[r.PatientType], float64(r.Age.Value))
		}
		if r.Died() {
			s.TotalDeaths++
			deathsByDay[r.DateDied.Time]++
		}
		if r.Sex.Valid {
			s.GenderCounts[r.Sex.Value]++
			genderSeen[r.Sex.Value] = true
			if cross[r.PatientType] == nil {
				cross[r.PatientType] = map[int]int{}
			}
			cross[r.PatientType][r.Sex.Value]++
		}
	})

	s.DeathRate = DeathRate(s.TotalDeaths, s.TotalPatients)
	s.AverageAge = Float(mean(ages))
	s.MedianAge = Float(median(ages))
	if m, ok := mode(intAges); ok {
		s.AgeMode = &m
	}
	for code := range s.GenderCounts {
		s.GenderLabels[code] = patient.Sex(code).String()
	}

	s.PatientTypeByGender = crossTab(cross, genderSeen)
	s.Correlation = correlation(v)
	s.DeathTrend, s.DeathTrendPeak = deathTrend(deathsByDay)

	edges, counts := histogram(ages, AgeHistogramBins)
	s.AgeHistogram = Histogram{Edges: edges, Counts: counts}
	s.AgeByPatientType = boxStats(agesByType)

	return s
}

func crossTab(cross map[string]map[int]int, genderSeen map[int]bool) CrossTab {
	ct := CrossTab{PatientTypes: []string{}, Genders: []int{}, Counts: [][]int{}}
	for pt := range cross {
		ct.PatientTypes = append(ct.PatientTypes, pt)
	}
	sortLabels(ct.PatientTypes)
	for g := range genderSeen {
		ct.Genders = append(ct.Genders, g)
	}
	sort.Ints(ct.Genders)

	for _, pt := range ct.PatientTypes {
		row := make([]int, len(ct.Genders))
		for j, g := range ct.Genders {
			row[j] = cross[pt][g]
		}
		ct.Counts = append(ct.Counts, row)
	}
	return ct
}

func correlation(v *patient.View) CorrelationMatrix {
	t := v.Table()
	cols := t.Columns()
	numeric := t.NumericColumns()

	cm := CorrelationMatrix{Columns: make([]string, len(numeric)), Values: [][]float64{}}
	data := make([][]float64, len(numeric))
	for k, c := range numeric {
		cm.Columns[k] = cols[c].Name
		data[k] = make([]float64, v.Len())
	}
	for i := 0; i < v.Len(); i++ {
		r := v.Record(i)
		for k, c := range numeric {
			x, ok := r.Number(c)
			if !ok {
				x = math.NaN()
			}
			data[k][i] = x
		}
	}

	m := correlationMatrix(data)
	if m == nil {
		return cm
	}
	n := m.SymmetricDim()
	cm.Values = make([][]float64, n)
	for i := 0; i < n; i++ {
		cm.Values[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			cm.Values[i][j] = m.At(i, j)
		}
	}
	return cm
}

func deathTrend(byDay map[time.Time]int) ([]TrendPoint, int) {
	points := make([]TrendPoint, 0, len(byDay))
	peak := 0
	for day, n := range byDay {
		points = append(points, TrendPoint{Date: day, Deaths: n})
		if n > peak {
			peak = n
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points, peak
}

func boxStats(agesByType map[string][]float64) []BoxStats {
	types := make([]string, 0, len(agesByType))
	for pt := range agesByType {
		types = append(types, pt)
	}
	sortLabels(types)

	out := make([]BoxStats, 0, len(types))
	for _, pt := range types {
		ages := agesByType[pt]
		sort.Float64s(ages)
		out = append(out, BoxStats{
			PatientType: pt,
			Count:       len(ages),
			Min:         Float(ages[0]),
			Q1:          Float(quantile(ages, 0.25)),
			Median:      Float(quantile(ages, 0.5)),
			Q3:          Float(quantile(ages, 0.75)),
			Max:         Float(ages[len(ages)-1]),
		})
	}
	return out
}

// sortLabels orders numeric labels by value and text labels lexically,
// numbers first.
func sortLabels(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		a, errA := strconv.ParseFloat(labels[i], 64)
		b, errB := strconv.ParseFloat(labels[j], 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return labels[i] < labels[j]
	})
}
