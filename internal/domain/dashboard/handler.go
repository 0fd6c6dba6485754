package dashboard

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/coviddash/dashboard/internal/domain/patient"
	"github.com/coviddash/dashboard/internal/platform/auth"
	"github.com/coviddash/dashboard/internal/platform/openapi"
	"github.com/coviddash/dashboard/pkg/pagination"
)

// ExportFilename is the suggested name of the filtered CSV download.
const ExportFilename = "covid_filtered.csv"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/dashboard", auth.RequireRole("analyst"))
	read.GET("/options", h.GetOptions)
	read.GET("/summary", h.GetSummary)
	read.GET("/records", h.ListRecords)
	read.GET("/export", h.ExportCSV)
}

// Operations documents the dashboard endpoints mounted under prefix.
func (h *Handler) Operations(prefix string) []openapi.Operation {
	comorbidities := make([]string, len(patient.Comorbidities))
	for i, c := range patient.Comorbidities {
		comorbidities[i] = string(c)
	}
	genders := make([]string, len(patient.Sexes))
	for i, g := range patient.Sexes {
		genders[i] = g.String()
	}
	criteria := []openapi.Param{
		{Name: "age_min", Type: "integer", Description: "inclusive lower age bound, default 0"},
		{Name: "age_max", Type: "integer", Description: "inclusive upper age bound, default 120"},
		{Name: "gender", Type: "string", Enum: genders, Repeatable: true,
			Description: "absent selects both; present but empty selects none"},
		{Name: "patient_type", Type: "string", Enum: h.svc.Table().PatientTypes(), Repeatable: true,
			Description: "absent selects every observed type; present but empty selects none"},
		{Name: "comorbidity", Type: "string", Enum: comorbidities, Repeatable: true,
			Description: "keep records where every listed flag is present"},
	}
	page := append([]openapi.Param{
		{Name: "limit", Type: "integer", Description: "page size, default 50, max 1000"},
		{Name: "offset", Type: "integer", Description: "rows to skip"},
	}, criteria...)
	responses := map[int]string{200: "OK", 400: "Invalid criteria", 401: "Unauthorized", 403: "Forbidden"}

	return []openapi.Operation{
		{Method: http.MethodGet, Path: prefix + "/dashboard/options", OperationID: "getOptions",
			Summary: "Default criteria and filter domains", Tag: "dashboard", Role: "analyst",
			Responses: map[int]string{200: "OK", 401: "Unauthorized", 403: "Forbidden"}},
		{Method: http.MethodGet, Path: prefix + "/dashboard/summary", OperationID: "getSummary",
			Summary: "Metrics and aggregates for the filtered view", Tag: "dashboard", Role: "analyst",
			Params: criteria, Responses: responses},
		{Method: http.MethodGet, Path: prefix + "/dashboard/records", OperationID: "listRecords",
			Summary: "Paginated filtered records", Tag: "dashboard", Role: "analyst",
			Params: page, Responses: responses},
		{Method: http.MethodGet, Path: prefix + "/dashboard/export", OperationID: "exportCSV",
			Summary: "Filtered records as a CSV attachment", Tag: "dashboard", Role: "analyst",
			Params: criteria, Produces: "text/csv", Responses: responses},
	}
}

func (h *Handler) GetOptions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Options())
}

func (h *Handler) GetSummary(c echo.Context) error {
	report, err := h.recompute(c, "summary")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListRecords(c echo.Context) error {
	report, err := h.recompute(c, "records")
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	page := report.View.Slice(pg.Offset, pg.Limit)
	table := h.svc.Table()
	header := table.Header()

	rows := make([]map[string]string, 0, page.Len())
	page.Each(func(r patient.Record) {
		cells := table.FormatRow(r)
		row := make(map[string]string, len(header))
		for i, name := range header {
			row[name] = cells[i]
		}
		rows = append(rows, row)
	})

	resp := pagination.NewResponse(rows, report.View.Len(), pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, c.QueryParams(), report.View.Len())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ExportCSV(c echo.Context) error {
	report, err := h.recompute(c, "export")
	if err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+ExportFilename+`"`)
	resp.WriteHeader(http.StatusOK)
	if err := patient.WriteCSV(resp, report.View); err != nil {
		// the status line is out; a second error response would corrupt the stream
		h.svc.logger.Error().Err(err).
			Str("criteria", CriteriaKey(report.Criteria)).
			Int("view_rows", report.View.Len()).
			Msg("csv export interrupted")
	}
	return nil
}

func (h *Handler) recompute(c echo.Context, trigger string) (*Report, error) {
	criteria, err := ParseCriteria(c.QueryParams(), h.svc.Defaults())
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.Recompute(c.Request().Context(), trigger, criteria)
	if err != nil {
		if errors.Is(err, ErrInvalidCriteria) {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return report, nil
}
