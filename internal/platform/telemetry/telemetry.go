// Package telemetry keeps in-process HTTP and pipeline metrics and exposes
// them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config describes the process the metrics belong to.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "covid-dashboard"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// durationBuckets are request and recompute latency bounds in seconds.
var durationBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5,
}

// rowBuckets bound the size of filtered views.
var rowBuckets = []float64{
	0, 10, 100, 1_000, 10_000, 100_000, 1_000_000,
}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed on export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// family is a set of histograms sharing a name, keyed by rendered labels.
type family struct {
	mu         sync.RWMutex
	boundaries []float64
	series     map[string]*histogram
}

func newFamily(boundaries []float64) *family {
	return &family{boundaries: boundaries, series: make(map[string]*histogram)}
}

func (f *family) with(labels string) *histogram {
	f.mu.RLock()
	h, ok := f.series[labels]
	f.mu.RUnlock()
	if ok {
		return h
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok = f.series[labels]; !ok {
		h = newHistogram(f.boundaries)
		f.series[labels] = h
	}
	return h
}

func (f *family) snapshot() map[string]*histogram {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]*histogram, len(f.series))
	for k, v := range f.series {
		out[k] = v
	}
	return out
}

// Provider owns every metric of the process.
type Provider struct {
	cfg Config

	requestDuration   *family
	recomputeDuration *family
	viewRows          *histogram

	mu         sync.RWMutex
	recomputes map[string]int64

	activeRequests int64
	sourceRows     int64
}

// NewProvider creates an empty metric set.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:               cfg,
		requestDuration:   newFamily(durationBuckets),
		recomputeDuration: newFamily(durationBuckets),
		viewRows:          newHistogram(rowBuckets),
		recomputes:        make(map[string]int64),
	}
}

// SetSourceRows records the size of the loaded table.
func (p *Provider) SetSourceRows(n int) {
	atomic.StoreInt64(&p.sourceRows, int64(n))
}

// ObserveRecompute records one pipeline run.
func (p *Provider) ObserveRecompute(trigger string, viewRows int, d time.Duration) {
	if trigger == "" {
		trigger = "unknown"
	}
	p.mu.Lock()
	p.recomputes[trigger]++
	p.mu.Unlock()

	p.recomputeDuration.with(labelPairs("trigger", trigger)).Observe(d.Seconds())
	p.viewRows.Observe(float64(viewRows))
}

// Recomputes returns how many runs were recorded for trigger.
func (p *Provider) Recomputes(trigger string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recomputes[trigger]
}

// RequestCount returns the number of finished requests for a route pattern
// and status.
func (p *Provider) RequestCount(method, route string, status int) int64 {
	key := labelPairs("method", method, "route", route, "status_code", strconv.Itoa(status))
	if h, ok := p.requestDuration.snapshot()[key]; ok {
		return h.Count()
	}
	return 0
}

// MetricsMiddleware records request latency by method, route pattern and
// status code.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.activeRequests, 1)
			start := time.Now()

			err := next(c)
			atomic.AddInt64(&p.activeRequests, -1)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := labelPairs("method", c.Request().Method, "route", route,
				"status_code", strconv.Itoa(status))
			p.requestDuration.with(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves every metric in text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# HELP dashboard_build_info Build and environment of the running process.\n")
		fmt.Fprintf(&b, "# TYPE dashboard_build_info gauge\n")
		fmt.Fprintf(&b, "dashboard_build_info{%s} 1\n\n", labelPairs(
			"service", p.cfg.ServiceName, "version", p.cfg.ServiceVersion, "environment", p.cfg.Environment))

		writeFamily(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", p.requestDuration)

		writeGauge(&b, "http_server_active_requests",
			"Number of in-flight HTTP requests.", atomic.LoadInt64(&p.activeRequests))

		writeGauge(&b, "dashboard_source_rows",
			"Number of records in the loaded table.", atomic.LoadInt64(&p.sourceRows))

		b.WriteString("# HELP dashboard_recomputes_total Pipeline runs by trigger.\n")
		b.WriteString("# TYPE dashboard_recomputes_total counter\n")
		p.mu.RLock()
		triggers := make([]string, 0, len(p.recomputes))
		for t := range p.recomputes {
			triggers = append(triggers, t)
		}
		sort.Strings(triggers)
		for _, t := range triggers {
			fmt.Fprintf(&b, "dashboard_recomputes_total{%s} %d\n", labelPairs("trigger", t), p.recomputes[t])
		}
		p.mu.RUnlock()
		b.WriteByte('\n')

		writeFamily(&b, "dashboard_recompute_duration_seconds",
			"Duration of filter and aggregate runs in seconds.", p.recomputeDuration)

		fmt.Fprintf(&b, "# HELP dashboard_view_rows Size of filtered views.\n")
		fmt.Fprintf(&b, "# TYPE dashboard_view_rows histogram\n")
		writeHistogram(&b, "dashboard_view_rows", "", p.viewRows)
		b.WriteByte('\n')

		return c.String(http.StatusOK, b.String())
	}
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

func writeFamily(b *strings.Builder, name, help string, f *family) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	snap := f.snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHistogram(b, name, k, snap[k])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	prefix, suffix := "", ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}

	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.Count())
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, h.Count())
}

// labelPairs renders alternating names and values as name="value" pairs.
func labelPairs(kv ...string) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return strings.Join(parts, ",")
}
