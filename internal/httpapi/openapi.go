package httpapi

import (
	"encoding/json"
	"net/http"
)

// handleOpenAPI handles GET /openapi.json: a hand-built OpenAPI 3.0
// document reflecting every enabled Action's stored JSON Schema. No
// generator library in the pack targets Go OpenAPI document generation,
// so this walks the action list and emits map[string]any directly
// through encoding/json rather than importing one.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	actions, err := s.store.ListEnabledActions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	paths := map[string]any{}
	for _, a := range actions {
		pkg, err := s.store.GetActionPackage(r.Context(), a.ActionPackageID)
		if err != nil {
			continue
		}
		var inputSchema any = map[string]any{"type": "object"}
		if a.InputSchema != "" {
			var parsed map[string]any
			if json.Unmarshal([]byte(a.InputSchema), &parsed) == nil {
				inputSchema = parsed
			}
		}
		var outputSchema any = map[string]any{}
		if a.OutputSchema != "" {
			var parsed map[string]any
			if json.Unmarshal([]byte(a.OutputSchema), &parsed) == nil {
				outputSchema = parsed
			}
		}

		path := "/api/actions/" + pkg.Name + "/" + a.Name + "/run"
		paths[path] = map[string]any{
			"post": map[string]any{
				"summary":     a.Name,
				"description": a.Docs,
				"operationId": pkg.Name + "_" + a.Name,
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{"schema": inputSchema},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "the action's return value",
						"content": map[string]any{
							"application/json": map[string]any{"schema": outputSchema},
						},
						"headers": map[string]any{
							"X-Action-Server-Run-Id": map[string]any{
								"schema": map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		}
	}

	doc := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Action Server",
			"version": Version,
		},
		"paths": paths,
	}
	writeJSON(w, http.StatusOK, doc)
}
