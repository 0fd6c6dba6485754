package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func securityHeadersFor(t *testing.T, target string, tlsOn bool, htmlPaths ...string) http.Header {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if tlsOn {
		req.TLS = &tls.ConnectionState{}
	}
	rec := httptest.NewRecorder()

	called := false
	err := SecurityHeaders(htmlPaths...)(func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})(e.NewContext(req, rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the handler to run")
	}
	return rec.Header()
}

func TestSecurityHeaders_APIResponses(t *testing.T) {
	h := securityHeadersFor(t, "/api/v1/dashboard/summary", false, "/api/docs")

	expected := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "0",
		"Content-Security-Policy": apiCSP,
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		if got := h.Get(header); got != want {
			t.Errorf("header %s: expected %q, got %q", header, want, got)
		}
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("expected no HSTS over plain HTTP")
	}
}

func TestSecurityHeaders_DocsPageLoadsAssets(t *testing.T) {
	h := securityHeadersFor(t, "/api/docs", false, "/api/docs")

	csp := h.Get("Content-Security-Policy")
	if !strings.Contains(csp, "script-src 'self' 'unsafe-inline' https://unpkg.com") {
		t.Errorf("expected docs page to allow its script bundle, got %q", csp)
	}
	if !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Errorf("expected framing still denied, got %q", csp)
	}
}

func TestSecurityHeaders_OnlyListedPagesRelaxed(t *testing.T) {
	h := securityHeadersFor(t, "/api/openapi.json", false, "/api/docs")
	if got := h.Get("Content-Security-Policy"); got != apiCSP {
		t.Errorf("expected strict policy for the JSON document, got %q", got)
	}
}

func TestSecurityHeaders_HSTSOverTLS(t *testing.T) {
	h := securityHeadersFor(t, "/api/v1/dashboard/export", true)
	if got := h.Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=") {
		t.Errorf("expected HSTS over TLS, got %q", got)
	}
}
