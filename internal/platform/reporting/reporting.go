package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/coviddash/dashboard/internal/platform/auth"
	"github.com/coviddash/dashboard/internal/platform/openapi"
)

// MeasureDefinition is a SQL report over the imported datasets. Positional
// arguments are bound from Parameters in order.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// latestDataset selects the newest import of the dataset named $1.
const latestDataset = `(SELECT id FROM patient_dataset WHERE name = $1 ORDER BY imported_at DESC LIMIT 1)`

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "dataset-inventory",
		Name:        "Dataset Inventory",
		Description: "Imported versions per dataset name with the newest row count",
		SQL: `SELECT name, COUNT(*) AS versions, MAX(imported_at) AS latest_import,
			(ARRAY_AGG(row_count ORDER BY imported_at DESC))[1] AS latest_rows
			FROM patient_dataset GROUP BY name ORDER BY name`,
		Parameters: []string{},
	},
	{
		ID:          "deaths-by-date",
		Name:        "Deaths by Date",
		Description: "Raw DATE_DIED values of the newest import with their counts, sentinel excluded",
		SQL: `SELECT r.cells[array_position(d.header, 'DATE_DIED')] AS date_died, COUNT(*) AS deaths
			FROM patient_record r JOIN patient_dataset d ON d.id = r.dataset_id
			WHERE d.id = ` + latestDataset + `
			AND COALESCE(r.cells[array_position(d.header, 'DATE_DIED')], '') NOT IN ('', '9999-99-99')
			GROUP BY 1 ORDER BY deaths DESC, date_died`,
		Parameters: []string{"dataset"},
	},
	{
		ID:          "patient-type-distribution",
		Name:        "Patient Type Distribution",
		Description: "Records per PATIENT_TYPE label in the newest import",
		SQL: `SELECT r.cells[array_position(d.header, 'PATIENT_TYPE')] AS patient_type, COUNT(*) AS total
			FROM patient_record r JOIN patient_dataset d ON d.id = r.dataset_id
			WHERE d.id = ` + latestDataset + `
			GROUP BY 1 ORDER BY 1`,
		Parameters: []string{"dataset"},
	},
	{
		ID:          "sex-distribution",
		Name:        "Sex Distribution",
		Description: "Records per SEX code in the newest import",
		SQL: `SELECT r.cells[array_position(d.header, 'SEX')] AS sex, COUNT(*) AS total
			FROM patient_record r JOIN patient_dataset d ON d.id = r.dataset_id
			WHERE d.id = ` + latestDataset + `
			GROUP BY 1 ORDER BY 1`,
		Parameters: []string{"dataset"},
	},
}

// Querier is the subset of pgxpool.Pool the handler needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	db             Querier
	defaultDataset string
}

// NewHandler creates a reporting handler. A missing dataset parameter
// falls back to defaultDataset.
func NewHandler(db Querier, defaultDataset string) *Handler {
	return &Handler{db: db, defaultDataset: defaultDataset}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole("analyst"))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// Operations documents the reporting endpoints.
func (h *Handler) Operations(prefix string) []openapi.Operation {
	ids := make([]string, len(PredefinedMeasures))
	for i, m := range PredefinedMeasures {
		ids[i] = m.ID
	}
	return []openapi.Operation{
		{Method: http.MethodGet, Path: prefix + "/reports/measures", OperationID: "listMeasures",
			Summary: "Available SQL measures", Tag: "reporting", Role: "analyst",
			Responses: map[int]string{200: "OK", 401: "Unauthorized", 403: "Forbidden"}},
		{Method: http.MethodGet, Path: prefix + "/reports/measures/{id}/evaluate", OperationID: "evaluateMeasure",
			Summary: "Run a measure against the database", Tag: "reporting", Role: "analyst",
			Params: []openapi.Param{
				{Name: "id", In: "path", Type: "string", Enum: ids},
				{Name: "dataset", Type: "string", Description: "dataset name, default " + h.defaultDataset},
			},
			Responses: map[int]string{200: "OK", 404: "Unknown measure", 500: "Query failed"}},
	}
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params, args := h.bind(measure, c.QueryParam)
	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	})
}

// bind resolves the measure's parameters in order, defaulting dataset.
func (h *Handler) bind(m *MeasureDefinition, lookup func(string) string) (map[string]string, []interface{}) {
	params := make(map[string]string, len(m.Parameters))
	args := make([]interface{}, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		v := lookup(p)
		if v == "" && p == "dataset" {
			v = h.defaultDataset
		}
		params[p] = v
		args = append(args, v)
	}
	return params, args
}

// executeSQL runs a query and returns each row as a column name map.
func (h *Handler) executeSQL(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
