package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Param describes one query or path parameter.
type Param struct {
	Name        string
	In          string // "query" or "path"
	Type        string // JSON schema type of a single value
	Enum        []string
	Repeatable  bool
	Required    bool
	Description string
}

// Operation describes one HTTP route.
type Operation struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tag         string
	Role        string
	Params      []Param
	Produces    string // response media type, application/json by default
	Responses   map[int]string
}

// Generator builds an OpenAPI 3.0 document from registered operations.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
}

func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{title: title, version: version, baseURL: baseURL}
}

// Add registers operations. Later registrations of the same method and path
// replace earlier ones.
func (g *Generator) Add(ops ...Operation) {
	for _, op := range ops {
		replaced := false
		for i, existing := range g.ops {
			if existing.Method == op.Method && existing.Path == op.Path {
				g.ops[i] = op
				replaced = true
				break
			}
		}
		if !replaced {
			g.ops = append(g.ops, op)
		}
	}
}

// GenerateSpec produces the OpenAPI document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	tagSet := make(map[string]bool)

	for _, op := range g.ops {
		item, _ := paths[op.Path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[op.Path] = item
		}
		item[strings.ToLower(op.Method)] = g.buildOperation(op)
		if op.Tag != "" {
			tagSet[op.Tag] = true
		}
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	tagList := make([]map[string]string, len(tags))
	for i, t := range tags {
		tagList[i] = map[string]string{"name": t}
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"tags":  tagList,
		"paths": paths,
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"message": map[string]string{"type": "string"},
					},
				},
			},
		},
	}
}

func (g *Generator) buildOperation(op Operation) map[string]interface{} {
	out := map[string]interface{}{
		"operationId": op.OperationID,
		"summary":     op.Summary,
		"parameters":  buildParameters(op.Params),
		"responses":   buildResponses(op),
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}
	if op.Role != "" {
		out["security"] = []map[string][]string{{"bearerAuth": {}}}
		out["x-required-role"] = op.Role
	}
	return out
}

func buildParameters(params []Param) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(params))
	for _, p := range params {
		schema := map[string]interface{}{"type": p.Type}
		if len(p.Enum) > 0 {
			schema["enum"] = p.Enum
		}
		if p.Repeatable {
			schema = map[string]interface{}{"type": "array", "items": schema}
		}
		in := p.In
		if in == "" {
			in = "query"
		}
		param := map[string]interface{}{
			"name":     p.Name,
			"in":       in,
			"required": p.Required || in == "path",
			"schema":   schema,
		}
		if p.Description != "" {
			param["description"] = p.Description
		}
		if p.Repeatable {
			param["style"] = "form"
			param["explode"] = true
		}
		out = append(out, param)
	}
	return out
}

func buildResponses(op Operation) map[string]interface{} {
	media := op.Produces
	if media == "" {
		media = echo.MIMEApplicationJSON
	}
	responses := make(map[string]interface{}, len(op.Responses))
	for code, desc := range op.Responses {
		resp := map[string]interface{}{"description": desc}
		switch {
		case code >= 400:
			resp["content"] = map[string]interface{}{
				echo.MIMEApplicationJSON: map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/Error"},
				},
			}
		case code < 300:
			resp["content"] = map[string]interface{}{
				media: map[string]interface{}{},
			}
		}
		responses[strconv.Itoa(code)] = resp
	}
	return responses
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>COVID-19 Dashboard API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes serves the document and a Swagger UI page.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
