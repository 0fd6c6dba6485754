package dashboard

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/coviddash/dashboard/internal/domain/patient"
)

func TestDeathRate(t *testing.T) {
	if got := DeathRate(3, 10); got != 30 {
		t.Errorf("expected 30, got %v", got)
	}
	if got := DeathRate(0, 0); got != 0 {
		t.Errorf("expected 0 for empty view, got %v", got)
	}
	if got := DeathRate(1, 3); math.Abs(got-33.333333) > 1e-4 {
		t.Errorf("expected 33.33..., got %v", got)
	}
}

func TestAgeMode(t *testing.T) {
	tests := []struct {
		ages []int
		want int
		ok   bool
	}{
		{[]int{20, 20, 30, 30, 30, 40}, 30, true},
		{[]int{20, 20, 30, 30}, 20, true},
		{[]int{55}, 55, true},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := AgeMode(tt.ages)
		if got != tt.want || ok != tt.ok {
			t.Errorf("AgeMode(%v) = %d, %v; want %d, %v", tt.ages, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSummarize_Totals(t *testing.T) {
	s := Summarize(loadTen(t).All())

	if s.TotalPatients != 10 {
		t.Errorf("expected 10 patients, got %d", s.TotalPatients)
	}
	if s.TotalDeaths != 3 {
		t.Errorf("expected 3 deaths, got %d", s.TotalDeaths)
	}
	if s.DeathRate != 30 {
		t.Errorf("expected death rate 30, got %v", s.DeathRate)
	}
	if float64(s.AverageAge) != 43 {
		t.Errorf("expected average age 43, got %v", s.AverageAge)
	}
	if float64(s.MedianAge) != 35 {
		t.Errorf("expected median age 35, got %v", s.MedianAge)
	}
	if s.AgeMode == nil || *s.AgeMode != 30 {
		t.Errorf("expected age mode 30, got %v", s.AgeMode)
	}
	if s.GenderCounts[0] != 5 || s.GenderCounts[1] != 5 {
		t.Errorf("expected 5/5 gender split, got %v", s.GenderCounts)
	}
	if s.GenderLabels[0] != "Male" || s.GenderLabels[1] != "Female" {
		t.Errorf("unexpected gender labels %v", s.GenderLabels)
	}
}

func TestSummarize_CrossTab(t *testing.T) {
	ct := Summarize(loadTen(t).All()).PatientTypeByGender

	want := map[string][2]int{"1": {2, 4}, "2": {3, 1}}
	for pt, counts := range want {
		if got := ct.Count(pt, 0); got != counts[0] {
			t.Errorf("type %s male: expected %d, got %d", pt, counts[0], got)
		}
		if got := ct.Count(pt, 1); got != counts[1] {
			t.Errorf("type %s female: expected %d, got %d", pt, counts[1], got)
		}
	}
	if ct.Count("3", 0) != 0 {
		t.Error("expected zero for an unseen patient type")
	}
}

func TestSummarize_CrossTabOnlyPresentValues(t *testing.T) {
	tbl := loadTen(t)
	c := DefaultCriteria(tbl)
	c.PatientTypes = []string{"2"}
	c.Genders = []patient.Sex{patient.SexMale}

	ct := Summarize(Filter(tbl, c)).PatientTypeByGender
	if len(ct.PatientTypes) != 1 || len(ct.Genders) != 1 {
		t.Fatalf("expected a 1x1 table, got %v x %v", ct.PatientTypes, ct.Genders)
	}
	if ct.Counts[0][0] != 3 {
		t.Errorf("expected 3, got %d", ct.Counts[0][0])
	}
}

func TestSummarize_DeathTrend(t *testing.T) {
	s := Summarize(loadTen(t).All())

	if len(s.DeathTrend) != 2 {
		t.Fatalf("expected 2 distinct dates, got %d", len(s.DeathTrend))
	}
	for i := 1; i < len(s.DeathTrend); i++ {
		if !s.DeathTrend[i].Date.After(s.DeathTrend[i-1].Date) {
			t.Errorf("expected strictly ascending dates, got %v", s.DeathTrend)
		}
	}
	if got := s.DeathTrend[0].Date.Format(patient.DateLayout); got != "2020-03-15" {
		t.Errorf("expected first date 2020-03-15, got %s", got)
	}
	if s.DeathTrend[1].Deaths != 2 {
		t.Errorf("expected 2 deaths on 2020-04-01, got %d", s.DeathTrend[1].Deaths)
	}

	total := 0
	for _, p := range s.DeathTrend {
		total += p.Deaths
	}
	if total != s.TotalDeaths {
		t.Errorf("expected trend to sum to %d, got %d", s.TotalDeaths, total)
	}
	if s.DeathTrendPeak != 2 {
		t.Errorf("expected peak 2, got %d", s.DeathTrendPeak)
	}
}

func TestSummarize_Correlation(t *testing.T) {
	cm := Summarize(loadTen(t).All()).Correlation

	if len(cm.Columns) != 7 {
		t.Fatalf("expected 7 numeric columns, got %v", cm.Columns)
	}
	for _, name := range cm.Columns {
		if name == patient.ColDateDied {
			t.Error("expected DATE_DIED to be excluded")
		}
	}
	for i := range cm.Columns {
		if cm.At(i, i) != 1 {
			t.Errorf("expected diagonal 1 for %s, got %v", cm.Columns[i], cm.At(i, i))
		}
		for j := range cm.Columns {
			a, b := cm.At(i, j), cm.At(j, i)
			if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
				t.Errorf("expected symmetry at %d,%d: %v vs %v", i, j, a, b)
			}
		}
	}
}

func TestSummarize_CorrelationZeroVariance(t *testing.T) {
	tbl := loadTen(t)
	c := DefaultCriteria(tbl)
	c.Genders = []patient.Sex{patient.SexMale}

	cm := Summarize(Filter(tbl, c)).Correlation
	sex, age := columnIndex(cm, "SEX"), columnIndex(cm, "AGE")
	if sex < 0 || age < 0 {
		t.Fatalf("expected SEX and AGE columns, got %v", cm.Columns)
	}
	if !math.IsNaN(cm.At(sex, age)) {
		t.Errorf("expected NaN for a constant column, got %v", cm.At(sex, age))
	}
	if cm.At(age, age) != 1 {
		t.Errorf("expected AGE diagonal 1, got %v", cm.At(age, age))
	}
}

func TestSummarize_SingleRow(t *testing.T) {
	tbl := loadTen(t)
	s := Summarize(patient.NewView(tbl, []int{0}))

	if s.TotalPatients != 1 || float64(s.MedianAge) != 20 {
		t.Errorf("unexpected single row summary: %+v", s)
	}
	for i := range s.Correlation.Columns {
		for j := range s.Correlation.Columns {
			if !math.IsNaN(s.Correlation.At(i, j)) {
				t.Fatalf("expected NaN correlations for one row, got %v at %d,%d", s.Correlation.At(i, j), i, j)
			}
		}
	}
}

func TestSummarize_EmptyView(t *testing.T) {
	tbl := loadTen(t)
	s := Summarize(patient.NewView(tbl, nil))

	if s.TotalPatients != 0 || s.TotalDeaths != 0 || s.DeathRate != 0 {
		t.Errorf("expected zero counts, got %+v", s)
	}
	if !s.AverageAge.IsNaN() || !s.MedianAge.IsNaN() {
		t.Errorf("expected NaN averages, got %v %v", s.AverageAge, s.MedianAge)
	}
	if s.AgeMode != nil {
		t.Errorf("expected no mode, got %d", *s.AgeMode)
	}
	if len(s.DeathTrend) != 0 || len(s.AgeHistogram.Counts) != 0 || len(s.AgeByPatientType) != 0 {
		t.Error("expected empty groupings")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("expected empty summary to marshal, got %v", err)
	}
	if !strings.Contains(string(data), `"average_age":null`) {
		t.Errorf("expected NaN encoded as null, got %s", data)
	}
}

func TestSummarize_AgeHistogram(t *testing.T) {
	h := Summarize(loadTen(t).All()).AgeHistogram

	if len(h.Counts) != AgeHistogramBins || len(h.Edges) != AgeHistogramBins+1 {
		t.Fatalf("expected %d bins, got %d counts and %d edges", AgeHistogramBins, len(h.Counts), len(h.Edges))
	}
	if h.Edges[0] != 20 || h.Edges[len(h.Edges)-1] != 80 {
		t.Errorf("expected edges to span 20-80, got %v-%v", h.Edges[0], h.Edges[len(h.Edges)-1])
	}
	sum := 0
	for _, n := range h.Counts {
		sum += n
	}
	if sum != 10 {
		t.Errorf("expected 10 ages binned, got %d", sum)
	}
	if h.Counts[0] != 2 || h.Counts[len(h.Counts)-1] != 1 {
		t.Errorf("expected 2 in first bin and 1 in the closed last bin, got %d and %d", h.Counts[0], h.Counts[len(h.Counts)-1])
	}
}

func TestSummarize_AgeByPatientType(t *testing.T) {
	box := Summarize(loadTen(t).All()).AgeByPatientType
	if len(box) != 2 {
		t.Fatalf("expected two patient types, got %d", len(box))
	}

	first := box[0]
	if first.PatientType != "1" || first.Count != 6 {
		t.Errorf("expected type 1 with 6 ages, got %+v", first)
	}
	want := []float64{20, 22.5, 35, 47.5, 70}
	got := []float64{float64(first.Min), float64(first.Q1), float64(first.Median), float64(first.Q3), float64(first.Max)}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("five-number summary[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
	if float64(box[1].Median) != 45 {
		t.Errorf("expected type 2 median 45, got %v", box[1].Median)
	}
}

func TestFloat_MarshalJSON(t *testing.T) {
	tests := []struct {
		in   Float
		want string
	}{
		{Float(math.NaN()), "null"},
		{Float(math.Inf(1)), "null"},
		{Float(42.5), "42.5"},
		{Float(30), "30"},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("expected %s, got %s", tt.want, data)
		}
	}
}

func TestCorrelationMatrix_MarshalJSON(t *testing.T) {
	cm := CorrelationMatrix{
		Columns: []string{"AGE", "SEX"},
		Values:  [][]float64{{1, math.NaN()}, {math.NaN(), math.NaN()}},
	}
	data, err := json.Marshal(cm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"columns":["AGE","SEX"],"values":[[1,null],[null,null]]}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestSortLabels(t *testing.T) {
	labels := []string{"10", "b", "2", "a", "1"}
	sortLabels(labels)
	want := []string{"1", "2", "10", "a", "b"}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, labels)
		}
	}
}
