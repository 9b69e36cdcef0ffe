package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

// handleOpenAPI handles GET /openapi.json. The command paths are built from
// the worker's own command list, so the document tracks the running worker.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp, err := s.daemon.Do(ctx, "commands", nil)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !resp.Success {
		respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	names, err := commandNames(resp.Output)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(names, s.config.APIKey != ""))
}

func commandNames(output any) ([]string, error) {
	list, ok := output.([]any)
	if !ok {
		return nil, fmt.Errorf("commands output is %T, not a list", output)
	}
	names := make([]string, 0, len(list))
	for _, v := range list {
		name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("commands output holds %T, not a name", v)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering every command.
func buildOpenAPIDoc(commands []string, secured bool) map[string]any {
	paths := map[string]any{}
	for _, name := range commands {
		operation := map[string]any{
			"operationId": "command__" + name,
			"summary":     "Run " + name + " on the drill worker",
			"tags":        []string{"commands"},
			"requestBody": map[string]any{
				"required": false,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"type": "object"},
					},
				},
			},
			"responses": map[string]any{
				"200": map[string]any{"description": "Success envelope"},
				"502": map[string]any{"description": "Failure envelope from the worker"},
				"503": map[string]any{"description": "Worker unreachable"},
			},
		}
		if secured {
			operation["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}
		paths["/command/"+name] = map[string]any{"post": operation}
	}

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "PCB Drill",
			"version": "1.0",
		},
		"paths": paths,
	}
	if secured {
		doc["components"] = map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		}
	}
	return doc
}
