package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/internal"
)

// model resolves the collection of the request path, writing the error
// response when it is unknown.
func (s *Server) model(w http.ResponseWriter, collection string) (modepress.Model, bool) {
	m, err := s.registry.Model(collection)
	if err != nil {
		writeModelError(w, err)
		return nil, false
	}
	return m, true
}

func parseIDParam(w http.ResponseWriter, raw string) (modepress.ID, bool) {
	id, err := modepress.ParseID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return modepress.NilID, false
	}
	return id, true
}

// handleCreate handles POST /api/v1/{collection}. An array body creates
// each document in turn and stops at the first failure.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, collection string) {
	m, ok := s.model(w, collection)
	if !ok {
		return
	}

	var rawBody any
	if err := readJSONBody(r, &rawBody); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	switch body := rawBody.(type) {
	case map[string]any:
		out, err := m.Create(r.Context(), body)
		if err != nil {
			writeModelError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, out)
	case []any:
		if len(body) == 0 {
			writeError(w, http.StatusBadRequest, "empty array not allowed")
			return
		}
		created := make([]map[string]any, 0, len(body))
		for i, item := range body {
			payload, ok := item.(map[string]any)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d is not an object", i))
				return
			}
			out, err := m.Create(r.Context(), payload)
			if err != nil {
				writeModelError(w, err)
				return
			}
			created = append(created, out)
		}
		writeSuccess(w, http.StatusCreated, created)
	default:
		writeError(w, http.StatusBadRequest, "body must be an object or array")
	}
}

// handleGet handles GET /api/v1/{collection}/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, collection, rawID string) {
	m, ok := s.model(w, collection)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, rawID)
	if !ok {
		return
	}
	out, err := m.Get(r.Context(), id, serializeOptions(r, true))
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

// handleQuery handles GET /api/v1/{collection}?index=...&limit=...&q=...
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, collection string) {
	m, ok := s.model(w, collection)
	if !ok {
		return
	}
	req, err := parseFindRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := m.Find(r.Context(), req)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleUpdate handles PUT /api/v1/{collection}/{id}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, collection, rawID string) {
	m, ok := s.model(w, collection)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, rawID)
	if !ok {
		return
	}

	var body map[string]any
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	out, err := m.Update(r.Context(), id, body)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

// handleDelete handles DELETE /api/v1/{collection}/{id} and
// DELETE /api/v1/{collection} with an array of ids as body.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, collection, rawID string) {
	m, ok := s.model(w, collection)
	if !ok {
		return
	}

	var cond modepress.Condition
	if rawID != "" {
		id, ok := parseIDParam(w, rawID)
		if !ok {
			return
		}
		cond = modepress.ByID(id)
	} else {
		var rawIDs []string
		if err := readJSONBody(r, &rawIDs); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
			return
		}
		if len(rawIDs) == 0 {
			writeError(w, http.StatusBadRequest, "empty id array not allowed")
			return
		}
		ids := make([]modepress.ID, len(rawIDs))
		for i, raw := range rawIDs {
			id, err := modepress.ParseID(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id at index %d: %v", i, err))
				return
			}
			ids[i] = id
		}
		cond = modepress.ByIDs(ids)
	}

	result, err := m.Delete(r.Context(), cond)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleSchema handles GET /api/v1/schemas/{collection}
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	collection := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/schemas"), "/")
	if collection == "" {
		writeSuccess(w, http.StatusOK, s.registry.Names())
		return
	}
	def, ok := s.registry.Definition(collection)
	if !ok {
		writeModelError(w, modepress.NewCollectionNotFoundError(collection))
		return
	}
	doc, err := def.Template.JSONSchema(collection)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, doc)
}

// handleHealth pings the store when it has a remote backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := internal.StoreHealthCheck(r.Context(), s.registry.Store(), 3*time.Second); err != nil {
		zap.S().Warnw("store health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiHandler is the main router that dispatches to specific handlers
func (s *Server) apiHandler(w http.ResponseWriter, r *http.Request) {
	collection, id, err := parsePath(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.S().Debugw("handling request", "method", r.Method, "collection", collection, "id", id)

	switch {
	case r.Method == http.MethodPost && id == "":
		s.handleCreate(w, r, collection)
	case r.Method == http.MethodGet && id == "":
		s.handleQuery(w, r, collection)
	case r.Method == http.MethodGet:
		s.handleGet(w, r, collection, id)
	case r.Method == http.MethodPut && id != "":
		s.handleUpdate(w, r, collection, id)
	case r.Method == http.MethodDelete:
		s.handleDelete(w, r, collection, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
