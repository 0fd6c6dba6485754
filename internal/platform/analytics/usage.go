package analytics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coviddash/dashboard/internal/platform/openapi"
)

// ---------------------------------------------------------------------------
// Core metric type
// ---------------------------------------------------------------------------

// RecomputeMetric captures one run of the filter and aggregate pipeline.
type RecomputeMetric struct {
	Timestamp   time.Time     `json:"timestamp"`
	Trigger     string        `json:"trigger"`
	CriteriaKey string        `json:"criteria_key"`
	SourceRows  int           `json:"source_rows"`
	ViewRows    int           `json:"view_rows"`
	Duration    time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Internal counter types
// ---------------------------------------------------------------------------

type criteriaStats struct {
	Key           string
	Count         int64
	TotalViewRows int64
	LastSeen      time.Time
	mu            sync.Mutex
}

// ---------------------------------------------------------------------------
// Summary types (returned by query methods)
// ---------------------------------------------------------------------------

// CriteriaSummary aggregates every recomputation made with one criteria set.
type CriteriaSummary struct {
	Key         string    `json:"key"`
	Count       int64     `json:"count"`
	AvgViewRows float64   `json:"avg_view_rows"`
	LastSeen    time.Time `json:"last_seen"`
}

// UsageOverview is a high-level summary of dashboard recomputations.
type UsageOverview struct {
	TotalRecomputes int64              `json:"total_recomputes"`
	EmptyViews      int64              `json:"empty_views"`
	AvgDuration     time.Duration      `json:"avg_duration"`
	AvgSelectivity  float64            `json:"avg_selectivity"`
	UniqueCriteria  int                `json:"unique_criteria"`
	Triggers        map[string]int64   `json:"triggers"`
	TopCriteria     []*CriteriaSummary `json:"top_criteria"`
}

// TimeSeriesBucket holds aggregated recomputations for one time bucket.
type TimeSeriesBucket struct {
	Timestamp      time.Time     `json:"timestamp"`
	RecomputeCount int64         `json:"recompute_count"`
	EmptyViewCount int64         `json:"empty_view_count"`
	AvgDuration    time.Duration `json:"avg_duration"`
}

// ---------------------------------------------------------------------------
// UsageTracker: thread-safe recompute aggregator
// ---------------------------------------------------------------------------

// UsageTracker records pipeline runs in a bounded ring buffer and keeps
// per-criteria and per-trigger counters.
type UsageTracker struct {
	metrics          []*RecomputeMetric
	maxMetrics       int
	writePos         int
	full             bool
	criteriaCounters map[string]*criteriaStats
	triggerCounters  map[string]int64
	mu               sync.RWMutex
	totalRecomputes  int64
	totalEmpty       int64
	totalDuration    int64   // nanoseconds
	selectivitySum   float64 // guarded by mu
}

// NewUsageTracker creates a tracker holding at most maxMetrics recent runs.
func NewUsageTracker(maxMetrics int) *UsageTracker {
	if maxMetrics <= 0 {
		maxMetrics = 10000
	}
	return &UsageTracker{
		metrics:          make([]*RecomputeMetric, 0, maxMetrics),
		maxMetrics:       maxMetrics,
		criteriaCounters: make(map[string]*criteriaStats),
		triggerCounters:  make(map[string]int64),
	}
}

// Record appends a metric to the ring buffer and updates all counters.
func (ut *UsageTracker) Record(metric *RecomputeMetric) {
	atomic.AddInt64(&ut.totalRecomputes, 1)
	if metric.ViewRows == 0 {
		atomic.AddInt64(&ut.totalEmpty, 1)
	}
	atomic.AddInt64(&ut.totalDuration, int64(metric.Duration))

	ut.mu.Lock()

	if ut.full {
		ut.metrics[ut.writePos] = metric
	} else if len(ut.metrics) < ut.maxMetrics {
		ut.metrics = append(ut.metrics, metric)
	}
	ut.writePos++
	if ut.writePos >= ut.maxMetrics {
		ut.writePos = 0
		ut.full = true
	}

	if metric.SourceRows > 0 {
		ut.selectivitySum += float64(metric.ViewRows) / float64(metric.SourceRows)
	}

	trigger := metric.Trigger
	if trigger == "" {
		trigger = "unknown"
	}
	ut.triggerCounters[trigger]++

	cs, ok := ut.criteriaCounters[metric.CriteriaKey]
	if !ok {
		cs = &criteriaStats{Key: metric.CriteriaKey}
		ut.criteriaCounters[metric.CriteriaKey] = cs
	}

	ut.mu.Unlock()

	cs.mu.Lock()
	cs.Count++
	cs.TotalViewRows += int64(metric.ViewRows)
	if metric.Timestamp.After(cs.LastSeen) {
		cs.LastSeen = metric.Timestamp
	}
	cs.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Query methods
// ---------------------------------------------------------------------------

// GetOverview returns a high-level usage summary.
func (ut *UsageTracker) GetOverview() *UsageOverview {
	total := atomic.LoadInt64(&ut.totalRecomputes)
	empty := atomic.LoadInt64(&ut.totalEmpty)
	dur := atomic.LoadInt64(&ut.totalDuration)

	var avgDuration time.Duration
	if total > 0 {
		avgDuration = time.Duration(dur / total)
	}

	ut.mu.RLock()
	var avgSelectivity float64
	if total > 0 {
		avgSelectivity = ut.selectivitySum / float64(total)
	}
	triggers := make(map[string]int64, len(ut.triggerCounters))
	for k, v := range ut.triggerCounters {
		triggers[k] = v
	}
	unique := len(ut.criteriaCounters)
	ut.mu.RUnlock()

	return &UsageOverview{
		TotalRecomputes: total,
		EmptyViews:      empty,
		AvgDuration:     avgDuration,
		AvgSelectivity:  avgSelectivity,
		UniqueCriteria:  unique,
		Triggers:        triggers,
		TopCriteria:     ut.GetTopCriteria(5),
	}
}

// GetCriteriaStats returns the counters for one criteria key, or nil.
func (ut *UsageTracker) GetCriteriaStats(key string) *CriteriaSummary {
	ut.mu.RLock()
	cs, ok := ut.criteriaCounters[key]
	ut.mu.RUnlock()
	if !ok {
		return nil
	}
	return cs.summary()
}

// GetTopCriteria returns the most frequently requested criteria sets.
func (ut *UsageTracker) GetTopCriteria(limit int) []*CriteriaSummary {
	ut.mu.RLock()
	summaries := make([]*CriteriaSummary, 0, len(ut.criteriaCounters))
	for _, cs := range ut.criteriaCounters {
		summaries = append(summaries, cs.summary())
	}
	ut.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].Key < summaries[j].Key
	})

	if limit > len(summaries) {
		limit = len(summaries)
	}
	return summaries[:limit]
}

// GetTimeSeries returns recompute counts bucketed by interval over the
// trailing duration.
func (ut *UsageTracker) GetTimeSeries(interval, duration time.Duration) []*TimeSeriesBucket {
	now := time.Now()
	start := now.Add(-duration).Truncate(interval)
	numBuckets := int(duration/interval) + 1

	buckets := make([]*TimeSeriesBucket, numBuckets)
	for i := 0; i < numBuckets; i++ {
		buckets[i] = &TimeSeriesBucket{
			Timestamp: start.Add(time.Duration(i) * interval),
		}
	}

	ut.mu.RLock()
	metricsCopy := make([]*RecomputeMetric, len(ut.metrics))
	copy(metricsCopy, ut.metrics)
	ut.mu.RUnlock()

	for _, m := range metricsCopy {
		if m == nil {
			continue
		}
		if m.Timestamp.Before(start) || m.Timestamp.After(now) {
			continue
		}
		idx := int(m.Timestamp.Sub(start) / interval)
		if idx < 0 || idx >= numBuckets {
			continue
		}
		buckets[idx].RecomputeCount++
		if m.ViewRows == 0 {
			buckets[idx].EmptyViewCount++
		}
		buckets[idx].AvgDuration += m.Duration // accumulate, averaged below
	}

	for _, b := range buckets {
		if b.RecomputeCount > 0 {
			b.AvgDuration = time.Duration(int64(b.AvgDuration) / b.RecomputeCount)
		}
	}

	return buckets
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (cs *criteriaStats) summary() *CriteriaSummary {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var avg float64
	if cs.Count > 0 {
		avg = float64(cs.TotalViewRows) / float64(cs.Count)
	}
	return &CriteriaSummary{
		Key:         cs.Key,
		Count:       cs.Count,
		AvgViewRows: avg,
		LastSeen:    cs.LastSeen,
	}
}

// ---------------------------------------------------------------------------
// Echo HTTP handler
// ---------------------------------------------------------------------------

// UsageHandler exposes recompute analytics over HTTP.
type UsageHandler struct {
	tracker *UsageTracker
}

// NewUsageHandler creates a new handler backed by the given tracker.
func NewUsageHandler(tracker *UsageTracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

// RegisterRoutes mounts the analytics endpoints under /analytics, guarded
// by the given middleware.
func (h *UsageHandler) RegisterRoutes(api *echo.Group, m ...echo.MiddlewareFunc) {
	g := api.Group("/analytics", m...)
	g.GET("/usage", h.HandleOverview)
	g.GET("/criteria", h.HandleTopCriteria)
	g.GET("/timeseries", h.HandleTimeSeries)
}

// Operations documents the analytics endpoints.
func (h *UsageHandler) Operations(prefix, role string) []openapi.Operation {
	ok := map[int]string{200: "OK", 401: "Unauthorized", 403: "Forbidden"}
	return []openapi.Operation{
		{Method: http.MethodGet, Path: prefix + "/analytics/usage", OperationID: "getUsageOverview",
			Summary: "Recompute totals, selectivity and trigger counts", Tag: "analytics", Role: role, Responses: ok},
		{Method: http.MethodGet, Path: prefix + "/analytics/criteria", OperationID: "listTopCriteria",
			Summary: "Most requested criteria sets", Tag: "analytics", Role: role, Responses: ok,
			Params: []openapi.Param{{Name: "limit", Type: "integer", Description: "default 20"}}},
		{Method: http.MethodGet, Path: prefix + "/analytics/timeseries", OperationID: "getUsageTimeSeries",
			Summary: "Recomputes bucketed over time", Tag: "analytics", Role: role, Responses: ok,
			Params: []openapi.Param{
				{Name: "interval", Type: "string", Description: "bucket width, e.g. 1m"},
				{Name: "duration", Type: "string", Description: "look-back window, e.g. 1h or 7d"},
			}},
	}
}

// HandleOverview returns overall recompute statistics.
func (h *UsageHandler) HandleOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetOverview())
}

// HandleTopCriteria returns the most requested criteria sets.
func (h *UsageHandler) HandleTopCriteria(c echo.Context) error {
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return c.JSON(http.StatusOK, h.tracker.GetTopCriteria(limit))
}

// HandleTimeSeries returns time-bucketed recompute counts.
func (h *UsageHandler) HandleTimeSeries(c echo.Context) error {
	interval := parseDurationParam(c.QueryParam("interval"), time.Minute)
	duration := parseDurationParam(c.QueryParam("duration"), time.Hour)
	if interval <= 0 {
		interval = time.Minute
	}
	return c.JSON(http.StatusOK, h.tracker.GetTimeSeries(interval, duration))
}

// parseDurationParam parses "1m", "1h", "7d" style durations.
func parseDurationParam(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}

	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
		return defaultVal
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
