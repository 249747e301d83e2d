package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

const adminHeader = "X-Modepress-Admin"

// parsePath parses /api/v1/{collection} or /api/v1/{collection}/{id}
func parsePath(path string) (collection string, id string, err error) {
	path = strings.TrimPrefix(path, "/api/v1/")
	path = strings.Trim(path, "/")

	if path == "" {
		return "", "", fmt.Errorf("invalid path: empty collection name")
	}

	parts := strings.Split(path, "/")

	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid path format")
	}
}

// parsePagination extracts index and limit. Missing values are left at
// zero so the model applies its configured defaults.
func parsePagination(queryParams url.Values) (int, int) {
	index, limit := 0, 0
	if v := queryParams.Get("index"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			index = parsed
		}
	}
	if v := queryParams.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return index, limit
}

// parseSortParams reads sort_by (comma separated, repeatable) and an
// optional sort_order applied to every field.
func parseSortParams(queryParams url.Values) ([]modepress.SortField, error) {
	var fields []string
	for _, v := range queryParams["sort_by"] {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}

	order := modepress.SortAsc
	switch strings.ToLower(strings.TrimSpace(queryParams.Get("sort_order"))) {
	case "", "asc":
	case "desc":
		order = modepress.SortDesc
	default:
		return nil, fmt.Errorf("sort_order must be asc or desc")
	}
	if len(fields) == 0 {
		if queryParams.Get("sort_order") != "" {
			return nil, fmt.Errorf("sort_order requires sort_by")
		}
		return nil, nil
	}

	out := make([]modepress.SortField, len(fields))
	for i, f := range fields {
		out[i] = modepress.SortField{Field: f, Order: order}
	}
	return out, nil
}

var reservedParams = map[string]bool{
	"index":      true,
	"limit":      true,
	"q":          true,
	"sort_by":    true,
	"sort_order": true,
	"verbose":    true,
	"expand":     true,
	"condition":  true,
}

// parseFindRequest turns query parameters into a find request. Unreserved
// parameters filter by equality, or by pattern when prefixed with "regex:".
func parseFindRequest(r *http.Request) (*modepress.FindRequest, error) {
	q := r.URL.Query()
	req := &modepress.FindRequest{Search: q.Get("q")}
	req.Index, req.Limit = parsePagination(q)

	sort, err := parseSortParams(q)
	if err != nil {
		return nil, err
	}
	req.Sort = sort

	if raw := q.Get("condition"); raw != "" {
		cond, err := modepress.UnmarshalCondition([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid condition: %w", err)
		}
		req.Condition = cond
	}

	for key, values := range q {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		if pattern, ok := strings.CutPrefix(values[0], "regex:"); ok {
			if req.Regex == nil {
				req.Regex = make(map[string]string)
			}
			req.Regex[key] = pattern
			continue
		}
		if req.Equals == nil {
			req.Equals = make(map[string]any)
		}
		req.Equals[key] = values[0]
	}

	req.SerializeOptions = serializeOptions(r, false)
	return req, nil
}

// serializeOptions reads the visibility tier. Admin visibility comes from
// the admin header, which an upstream auth layer is expected to set.
func serializeOptions(r *http.Request, verboseByDefault bool) modepress.SerializeOptions {
	q := r.URL.Query()
	return modepress.SerializeOptions{
		Verbose:           boolParam(q, "verbose", verboseByDefault),
		Admin:             strings.EqualFold(r.Header.Get(adminHeader), "true"),
		ExpandForeignKeys: boolParam(q, "expand", false),
	}
}

func boolParam(q url.Values, key string, def bool) bool {
	v := q.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// APIResponse is the error response format
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeModelError maps model errors onto status codes.
func writeModelError(w http.ResponseWriter, err error) error {
	var ve *modepress.ValidationErrors
	var fe *modepress.FieldError
	var me *modepress.ModepressError

	switch {
	case errors.As(err, &ve):
		return writeJSON(w, http.StatusBadRequest, APIResponse{Error: err.Error(), Code: modepress.ErrCodeValidationFailed, Details: ve.Errors})
	case errors.As(err, &fe):
		return writeJSON(w, http.StatusBadRequest, APIResponse{Error: err.Error(), Code: modepress.ErrCodeValidationFailed, Details: []*modepress.FieldError{fe}})
	case errors.As(err, &me):
		resp := APIResponse{Error: me.Message, Code: me.Code}
		if len(me.Details) > 0 {
			resp.Details = me.Details
		}
		return writeJSON(w, statusFor(me), resp)
	}
	zap.S().Errorw("request failed", "error", err)
	return writeError(w, http.StatusInternalServerError, err.Error())
}

func statusFor(me *modepress.ModepressError) int {
	switch me.Type {
	case modepress.ErrorTypeValidation:
		return http.StatusBadRequest
	case modepress.ErrorTypeDuplicate:
		return http.StatusConflict
	case modepress.ErrorTypeNotFound:
		return http.StatusNotFound
	case modepress.ErrorTypeStore:
		if me.Code == modepress.ErrCodeStoreUnavailable {
			return http.StatusServiceUnavailable
		}
	}
	zap.S().Errorw("request failed", "error", me)
	return http.StatusInternalServerError
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, data)
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
