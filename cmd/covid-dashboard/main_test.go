package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/coviddash/dashboard/internal/config"
	"github.com/coviddash/dashboard/internal/domain/dashboard"
	"github.com/coviddash/dashboard/internal/domain/patient"
	"github.com/coviddash/dashboard/internal/platform/analytics"
	"github.com/coviddash/dashboard/internal/platform/auth"
)

const testCSV = `USMER,SEX,PATIENT_TYPE,DATE_DIED,AGE,DIABETES,HIPERTENSION,OBESITY
2,1,1,2020-05-03,65,2,1,2
2,0,1,9999-99-99,72,2,1,1
2,0,2,2020-06-01,55,1,2,
1,1,2,9999-99-99,53,,2,2
1,0,1,9999-99-99,30,2,2,2
`

var testKey = strings.Repeat("s", 32)

func writeTestCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "covid.csv")
	if err := os.WriteFile(path, []byte(testCSV), 0644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	return path
}

func testServer(t *testing.T, authMode string) (*analytics.UsageTracker, http.Handler) {
	t.Helper()
	table, err := patient.ReadCSV(strings.NewReader(testCSV), patient.DefaultLoadOptions())
	if err != nil {
		t.Fatalf("ReadCSV() error: %v", err)
	}
	cfg := &config.Config{
		Env:            "development",
		AuthMode:       authMode,
		AuthSigningKey: testKey,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
	s := newServices(cfg, table, nil, zerolog.Nop())
	return s.tracker, newServer(cfg, s, zerolog.Nop())
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, roles ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	})
	s, err := token.SignedString([]byte(testKey))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestServer_Health(t *testing.T) {
	_, h := testServer(t, config.AuthJWT)
	rec := get(h, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without a token, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["records"] != float64(5) {
		t.Errorf("expected 5 records, got %v", body["records"])
	}
}

func TestServer_SummaryDevAuth(t *testing.T) {
	tracker, h := testServer(t, config.AuthDevelopment)
	rec := get(h, "/api/v1/dashboard/summary?gender=Male", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report struct {
		Summary struct {
			TotalPatients int     `json:"total_patients"`
			TotalDeaths   int     `json:"total_deaths"`
			DeathRate     float64 `json:"death_rate"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if report.Summary.TotalPatients != 3 {
		t.Errorf("expected 3 male patients, got %d", report.Summary.TotalPatients)
	}
	if report.Summary.TotalDeaths != 1 {
		t.Errorf("expected 1 death, got %d", report.Summary.TotalDeaths)
	}
	if tracker.GetOverview().TotalRecomputes != 1 {
		t.Errorf("expected the recompute to be tracked")
	}
}

func TestServer_InvalidCriteria(t *testing.T) {
	_, h := testServer(t, config.AuthDevelopment)
	for _, path := range []string{
		"/api/v1/dashboard/summary?age_min=abc",
		"/api/v1/dashboard/summary?age_min=80&age_max=10",
		"/api/v1/dashboard/records?gender=Other",
	} {
		if rec := get(h, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestServer_JWTRequired(t *testing.T) {
	_, h := testServer(t, config.AuthJWT)

	if rec := get(h, "/api/v1/dashboard/summary", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/dashboard/summary", signToken(t, "viewer")); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without analyst role, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/dashboard/summary", signToken(t, "analyst")); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for analyst, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/analytics/usage", signToken(t, "analyst")); rec.Code != http.StatusForbidden {
		t.Errorf("expected analytics to require admin, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/analytics/usage", signToken(t, "admin")); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestServer_Export(t *testing.T) {
	_, h := testServer(t, config.AuthDevelopment)
	rec := get(h, "/api/v1/dashboard/export?patient_type=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, dashboard.ExportFilename) {
		t.Errorf("expected attachment filename, got %q", cd)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected header plus 2 rows, got %d", len(rows))
	}
}

func TestServer_Metrics(t *testing.T) {
	_, h := testServer(t, config.AuthDevelopment)
	if rec := get(h, "/api/v1/dashboard/summary?gender=Female", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec := get(h, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"dashboard_source_rows 5",
		`dashboard_recomputes_total{trigger="summary"} 1`,
		`route="/api/v1/dashboard/summary",status_code="200"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %q", want)
		}
	}
}

func TestServer_AdminOnlyEndpoints(t *testing.T) {
	_, h := testServer(t, config.AuthJWT)

	if rec := get(h, "/metrics", signToken(t, "analyst")); rec.Code != http.StatusForbidden {
		t.Errorf("expected /metrics to require admin, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/analytics/stream", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected stream to require a token, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/analytics/stream", signToken(t, "analyst")); rec.Code != http.StatusForbidden {
		t.Errorf("expected stream to require admin, got %d", rec.Code)
	}
}

func TestServer_OpenAPIIsPublic(t *testing.T) {
	_, h := testServer(t, config.AuthJWT)
	rec := get(h, "/api/openapi.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without a token, got %d", rec.Code)
	}

	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode document: %v", err)
	}
	for _, path := range []string{"/api/v1/dashboard/summary", "/api/v1/analytics/usage", "/metrics"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("expected %s to be documented", path)
		}
	}
	if _, ok := doc.Paths["/health/db"]; ok {
		t.Error("expected /health/db omitted without a database")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ENV", "development")
	t.Setenv("AUTH_MODE", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSummaryCmd(t *testing.T) {
	path := writeTestCSV(t)
	out, err := runCLI(t, "summary", "--data", path, "--gender", "Female", "--age-min", "50")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}

	var report struct {
		Criteria struct {
			AgeMin int `json:"age_min"`
		} `json:"criteria"`
		Summary struct {
			TotalPatients int `json:"total_patients"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out, err)
	}
	if report.Summary.TotalPatients != 2 {
		t.Errorf("expected 2 female patients aged 50+, got %d", report.Summary.TotalPatients)
	}
	if report.Criteria.AgeMin != 50 {
		t.Errorf("expected age_min 50 echoed, got %d", report.Criteria.AgeMin)
	}
}

func TestSummaryCmd_InvalidCriteria(t *testing.T) {
	path := writeTestCSV(t)
	if _, err := runCLI(t, "summary", "--data", path, "--comorbidity", "asthma"); err == nil {
		t.Error("expected error for unknown comorbidity")
	}
}

func TestExportCmd_ToFile(t *testing.T) {
	path := writeTestCSV(t)
	out := filepath.Join(t.TempDir(), "filtered.csv")
	if _, err := runCLI(t, "export", "--data", path, "--comorbidity", "obesity", "-o", out); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// the obesity cell is blank on one row
	if len(lines) != 5 {
		t.Errorf("expected header plus 4 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "USMER,SEX,PATIENT_TYPE") {
		t.Errorf("expected original header without index column, got %q", lines[0])
	}
}

func TestCriteriaQuery_OnlyChangedFlags(t *testing.T) {
	cmd := summaryCmd()
	if err := cmd.ParseFlags([]string{"--age-max", "60", "--patient-type", "1,2"}); err != nil {
		t.Fatalf("ParseFlags() error: %v", err)
	}

	q := criteriaQuery(cmd)
	if q.Get("age_max") != "60" {
		t.Errorf("expected age_max 60, got %q", q.Get("age_max"))
	}
	if _, ok := q["age_min"]; ok {
		t.Error("expected unset age_min to be absent")
	}
	if _, ok := q["gender"]; ok {
		t.Error("expected unset gender to be absent")
	}
	if got := q["patient_type"]; len(got) != 2 {
		t.Errorf("expected two patient types, got %v", got)
	}
}
