package api

import (
	"net/http"
	"slices"

	"github.com/mattjoyce/convoy/internal/converter"
)

// handleOpenAPI serves a description of the API, including the input
// extensions the running converters accept.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var infos []converter.Info
	if s.deps.Converters != nil {
		infos = s.deps.Converters.Describe()
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(infos))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the job endpoints.
func buildOpenAPIDoc(converters []converter.Info) map[string]any {
	var extensions []string
	for _, c := range converters {
		extensions = append(extensions, c.Extensions...)
	}
	slices.Sort(extensions)
	extensions = slices.Compact(extensions)

	errorResponse := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/Error"}},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Convoy",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{"operationId": "healthz", "responses": map[string]any{"200": map[string]any{"description": "Service status"}}},
			},
			"/converters": map[string]any{
				"get": map[string]any{"operationId": "listConverters", "responses": map[string]any{"200": map[string]any{"description": "Registered converters"}}},
			},
			"/jobs": map[string]any{
				"post": map[string]any{
					"operationId": "submitJob",
					"summary":     "Convert a file and wait for the result",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/SubmitRequest"}},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "Terminal job result, successful or not"},
						"400": errorResponse("Invalid argument"),
						"422": errorResponse("Input file unreadable"),
						"503": errorResponse("Dispatcher saturated or closed"),
					},
				},
				"get": map[string]any{
					"operationId": "listJobs",
					"parameters": []any{
						map[string]any{"name": "limit", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1}},
					},
					"responses": map[string]any{"200": map[string]any{"description": "Recently finished jobs"}},
				},
			},
			"/jobs/{jobID}": map[string]any{
				"get": map[string]any{
					"operationId": "getJob",
					"parameters": []any{
						map[string]any{"name": "jobID", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "Finished job"},
						"404": errorResponse("Unknown job"),
					},
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "streamEvents",
					"summary":     "Server-sent job.status and job.attempt events",
					"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"SubmitRequest": map[string]any{
					"type":     "object",
					"required": []string{"input_path", "target_format"},
					"properties": map[string]any{
						"input_path":    map[string]any{"type": "string", "x-extensions": extensions},
						"target_format": map[string]any{"type": "string"},
						"options":       map[string]any{"type": "object"},
						"timeout":       map[string]any{"type": "string", "example": "90s"},
						"priority":      map[string]any{"type": "integer"},
					},
				},
				"Error": map[string]any{
					"type":       "object",
					"properties": map[string]any{"error": map[string]any{"type": "string"}},
				},
			},
		},
	}
}
