package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coviddash/dashboard/internal/domain/patient"
	"github.com/coviddash/dashboard/internal/platform/analytics"
	"github.com/coviddash/dashboard/internal/platform/telemetry"
	"github.com/coviddash/dashboard/internal/platform/websocket"
)

// EventRecomputed is the websocket event type sent after every run.
const EventRecomputed = "dashboard.recomputed"

// Report is the result of one criteria-change event.
type Report struct {
	Criteria   Criteria      `json:"criteria"`
	Summary    Summary       `json:"summary"`
	ComputedAt time.Time     `json:"computed_at"`
	View       *patient.View `json:"-"`
}

// GenderOption pairs a SEX code with its display label.
type GenderOption struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// Options describes what the presentation layer may offer as filter controls.
type Options struct {
	Defaults      Criteria              `json:"defaults"`
	AgeMin        int                   `json:"age_min"`
	AgeMax        int                   `json:"age_max"`
	Genders       []GenderOption        `json:"genders"`
	PatientTypes  []string              `json:"patient_types"`
	Comorbidities []patient.Comorbidity `json:"comorbidities"`
	TotalRecords  int                   `json:"total_records"`
	Columns       []patient.Column      `json:"columns"`
}

// RecomputeEvent is the payload pushed to stream subscribers.
type RecomputeEvent struct {
	Trigger       string    `json:"trigger"`
	CriteriaKey   string    `json:"criteria_key"`
	Criteria      Criteria  `json:"criteria"`
	SourceRows    int       `json:"source_rows"`
	ViewRows      int       `json:"view_rows"`
	TotalDeaths   int       `json:"total_deaths"`
	DeathRate     float64   `json:"death_rate"`
	ComputedAt    time.Time `json:"computed_at"`
	DurationMicro int64     `json:"duration_us"`
}

// Service owns the loaded table and runs the pipeline on demand.
type Service struct {
	table     *patient.Table
	logger    zerolog.Logger
	tracker   *analytics.UsageTracker
	metrics   *telemetry.Provider
	publisher websocket.EventPublisher
	now       func() time.Time
}

// NewService creates a service over an already loaded table. tracker may be nil.
func NewService(table *patient.Table, logger zerolog.Logger, tracker *analytics.UsageTracker) *Service {
	return &Service{
		table:   table,
		logger:  logger.With().Str("component", "dashboard").Logger(),
		tracker: tracker,
		now:     time.Now,
	}
}

func (s *Service) SetMetrics(m *telemetry.Provider) {
	s.metrics = m
	if m != nil {
		m.SetSourceRows(s.table.Len())
	}
}

func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }

// Table returns the immutable source table.
func (s *Service) Table() *patient.Table { return s.table }

// Defaults returns the initial criteria for the loaded table.
func (s *Service) Defaults() Criteria { return DefaultCriteria(s.table) }

// Options lists the filter domains for the presentation layer.
func (s *Service) Options() Options {
	genders := make([]GenderOption, len(patient.Sexes))
	for i, g := range patient.Sexes {
		genders[i] = GenderOption{Code: int(g), Label: g.String()}
	}
	comorbidities := make([]patient.Comorbidity, len(patient.Comorbidities))
	copy(comorbidities, patient.Comorbidities)

	return Options{
		Defaults:      s.Defaults(),
		AgeMin:        DefaultAgeMin,
		AgeMax:        DefaultAgeMax,
		Genders:       genders,
		PatientTypes:  s.table.PatientTypes(),
		Comorbidities: comorbidities,
		TotalRecords:  s.table.Len(),
		Columns:       s.table.Columns(),
	}
}

// Recompute runs the whole pipeline for c. trigger names what caused the
// recomputation and is only used for logging and analytics.
func (s *Service) Recompute(ctx context.Context, trigger string, c Criteria) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.CheckPatientTypes(s.table.PatientTypes()); err != nil {
		return nil, err
	}

	start := s.now()
	view := Filter(s.table, c)
	summary := Summarize(view)
	elapsed := s.now().Sub(start)

	key := CriteriaKey(c)
	s.logger.Debug().
		Str("trigger", trigger).
		Str("criteria", key).
		Int("source_rows", s.table.Len()).
		Int("view_rows", view.Len()).
		Dur("duration", elapsed).
		Msg("recomputed dashboard")

	if s.tracker != nil {
		s.tracker.Record(&analytics.RecomputeMetric{
			Timestamp:   start,
			Trigger:     trigger,
			CriteriaKey: key,
			SourceRows:  s.table.Len(),
			ViewRows:    view.Len(),
			Duration:    elapsed,
		})
	}

	if s.metrics != nil {
		s.metrics.ObserveRecompute(trigger, view.Len(), elapsed)
	}
	if s.publisher != nil {
		s.publish(ctx, RecomputeEvent{
			Trigger:       trigger,
			CriteriaKey:   key,
			Criteria:      c,
			SourceRows:    s.table.Len(),
			ViewRows:      view.Len(),
			TotalDeaths:   summary.TotalDeaths,
			DeathRate:     summary.DeathRate,
			ComputedAt:    start,
			DurationMicro: elapsed.Microseconds(),
		})
	}

	return &Report{
		Criteria:   c,
		Summary:    summary,
		ComputedAt: start,
		View:       view,
	}, nil
}

func (s *Service) publish(ctx context.Context, payload RecomputeEvent) {
	event, err := websocket.NewEvent(websocket.TopicRecompute, EventRecomputed, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("criteria", payload.CriteriaKey).Msg("failed to publish recompute event")
	}
}

// CriteriaKey renders c canonically so equal selections share a key
// regardless of the order values were given in.
func CriteriaKey(c Criteria) string {
	genders := make([]string, len(c.Genders))
	for i, g := range c.Genders {
		genders[i] = strconv.Itoa(int(g))
	}
	types := make([]string, len(c.PatientTypes))
	copy(types, c.PatientTypes)
	comorbidities := make([]string, len(c.Comorbidities))
	for i, cm := range c.Comorbidities {
		comorbidities[i] = string(cm)
	}

	return fmt.Sprintf("age=%d-%d;gender=%s;patient_type=%s;comorbidity=%s",
		c.AgeMin, c.AgeMax, joinSorted(genders), joinSorted(types), joinSorted(comorbidities))
}

func joinSorted(vals []string) string {
	sort.Strings(vals)
	out := vals[:0]
	for _, v := range vals {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return strings.Join(out, ",")
}
