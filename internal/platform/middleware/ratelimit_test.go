package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/coviddash/dashboard/internal/platform/auth"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// fixedClock returns a limiter set whose clock only moves when advanced.
func fixedClock(cfg RateLimitConfig) (*clientLimiters, func(time.Duration)) {
	clients := newClientLimiters(normalizeRateLimit(cfg))
	now := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	clients.lastSweep = now
	clients.now = func() time.Time { return now }
	return clients, func(d time.Duration) { now = now.Add(d) }
}

func serveSummary(e *echo.Echo, h echo.HandlerFunc, user string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/summary", nil)
	if user != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, user))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_BurstThenLimited(t *testing.T) {
	e := echo.New()
	clients, _ := fixedClock(RateLimitConfig{RequestsPerSecond: 2, BurstSize: 3})
	h := rateLimit(clients, 2)(okHandler)

	wantRemaining := []string{"2", "1", "0"}
	for i, want := range wantRemaining {
		rec, err := serveSummary(e, h, "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("request %d: expected remaining %s, got %s", i+1, want, got)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: expected limit 2, got %s", i+1, got)
		}
	}

	rec, err := serveSummary(e, h, "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the burst, got %v", err)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected remaining 0, got %q", got)
	}
}

func TestRateLimit_Refills(t *testing.T) {
	e := echo.New()
	clients, advance := fixedClock(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	h := rateLimit(clients, 1)(okHandler)

	if _, err := serveSummary(e, h, ""); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := serveSummary(e, h, ""); err == nil {
		t.Fatal("expected second request to be limited")
	}
	advance(time.Second)
	if _, err := serveSummary(e, h, ""); err != nil {
		t.Errorf("expected a token after one second, got %v", err)
	}
}

func TestRateLimit_RejectedRequestDoesNotConsume(t *testing.T) {
	e := echo.New()
	clients, advance := fixedClock(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	h := rateLimit(clients, 1)(okHandler)

	_, _ = serveSummary(e, h, "")
	for i := 0; i < 5; i++ {
		_, _ = serveSummary(e, h, "")
	}
	advance(time.Second)
	if _, err := serveSummary(e, h, ""); err != nil {
		t.Errorf("expected rejected requests to leave the refill intact, got %v", err)
	}
}

func TestRateLimit_PerUserIsolation(t *testing.T) {
	e := echo.New()
	clients, _ := fixedClock(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	h := rateLimit(clients, 1)(okHandler)

	if _, err := serveSummary(e, h, "analyst-a"); err != nil {
		t.Fatalf("analyst-a first request: expected no error, got %v", err)
	}
	if _, err := serveSummary(e, h, "analyst-a"); err == nil {
		t.Fatal("analyst-a second request: expected rate limit error")
	}
	if _, err := serveSummary(e, h, "analyst-b"); err != nil {
		t.Fatalf("analyst-b first request: expected no error, got %v", err)
	}
	if clients.len() != 2 {
		t.Errorf("expected 2 tracked clients, got %d", clients.len())
	}
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	e := echo.New()
	clients, advance := fixedClock(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	h := rateLimit(clients, 1)(okHandler)

	_, _ = serveSummary(e, h, "analyst-a")
	_, _ = serveSummary(e, h, "analyst-b")
	advance(30 * time.Second)
	_, _ = serveSummary(e, h, "analyst-b")
	advance(40 * time.Second)
	_, _ = serveSummary(e, h, "analyst-c")

	if clients.len() != 2 {
		t.Errorf("expected analyst-a evicted leaving 2 clients, got %d", clients.len())
	}
}

func TestRateLimit_DisabledWithZeroRate(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{})(okHandler)

	for i := 0; i < 50; i++ {
		rec, err := serveSummary(e, h, "")
		if err != nil {
			t.Fatalf("request %d: expected no error with limiting disabled, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("expected no rate limit headers when disabled")
		}
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 || cfg.BurstSize != 40 {
		t.Errorf("expected 20 rps with burst 40, got %v/%d", cfg.RequestsPerSecond, cfg.BurstSize)
	}

	n := normalizeRateLimit(RateLimitConfig{RequestsPerSecond: 5})
	if n.BurstSize != 1 {
		t.Errorf("expected burst raised to 1, got %d", n.BurstSize)
	}
	if n.IdleTTL != cfg.IdleTTL {
		t.Errorf("expected default idle TTL %v, got %v", cfg.IdleTTL, n.IdleTTL)
	}
}
