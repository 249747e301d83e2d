package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/factory"
	"github.com/lychee-technology/modepress/internal"
)

func TestMain(m *testing.M) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	code := m.Run()
	_ = logger.Sync()
	os.Exit(code)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := modepress.DefaultConfig()
	cfg.Security.Argon2MemoryKiB = 64
	cfg.Security.Argon2Threads = 1
	engine, err := factory.NewWithStore(context.Background(), cfg, internal.NewMemoryStore())
	require.NoError(t, err)
	s := NewServer(engine.Registry)
	s.RegisterRoutes()
	return s
}

type call struct {
	method string
	path   string
	body   string
	admin  bool
}

func (s *Server) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body *bytes.Reader
	if c.body != "" {
		body = bytes.NewReader([]byte(c.body))
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.admin {
		req.Header.Set(adminHeader, "true")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (s *Server) createCategory(t *testing.T, title, slug string) string {
	t.Helper()
	rec, out := s.do(t, call{method: http.MethodPost, path: "/api/v1/categories", body: `{"title":"` + title + `","slug":"` + slug + `"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["_id"].(string)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestServer(t)
	id := s.createCategory(t, "News", "news")
	assert.True(t, modepress.IsValidID(id))

	rec, out := s.do(t, call{method: http.MethodGet, path: "/api/v1/categories/" + id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "News", out["title"])
	assert.Equal(t, "news", out["slug"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestCreateArray(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/categories", strings.NewReader(`[{"title":"A","slug":"a"},{"title":"B","slug":"b"}]`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[1]["slug"])

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/categories", body: `[]`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/categories", body: `"text"`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateErrors(t *testing.T) {
	s := newTestServer(t)
	s.createCategory(t, "News", "news")

	rec, out := s.do(t, call{method: http.MethodPost, path: "/api/v1/categories", body: `{"title":"","slug":""}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, modepress.ErrCodeValidationFailed, out["code"])
	details := out["details"].([]any)
	require.Len(t, details, 2)
	assert.Equal(t, "title", details[0].(map[string]any)["field"])

	rec, out = s.do(t, call{method: http.MethodPost, path: "/api/v1/categories", body: `{"title":"Other","slug":"news"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, modepress.ErrCodeDuplicateEntry, out["code"])

	rec, out = s.do(t, call{method: http.MethodPost, path: "/api/v1/widgets", body: `{}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, modepress.ErrCodeCollectionNotFound, out["code"])

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/categories", body: `{`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetErrors(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, call{method: http.MethodGet, path: "/api/v1/categories/not-an-id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := s.do(t, call{method: http.MethodGet, path: "/api/v1/categories/" + modepress.NewID().Hex()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, modepress.ErrCodeDocumentNotFound, out["code"])

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/categories/a/b"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery(t *testing.T) {
	s := newTestServer(t)
	s.createCategory(t, "Go", "go")
	s.createCategory(t, "Rust", "rust")
	s.createCategory(t, "Gleam", "gleam")

	rec, out := s.do(t, call{method: http.MethodGet, path: "/api/v1/categories?q=g&sort_by=title&sort_order=desc&limit=2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), out["count"])
	assert.Equal(t, float64(2), out["limit"])
	data := out["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "Go", data[0].(map[string]any)["title"])

	_, out = s.do(t, call{method: http.MethodGet, path: "/api/v1/categories?slug=rust"})
	assert.Equal(t, float64(1), out["count"])

	_, out = s.do(t, call{method: http.MethodGet, path: "/api/v1/categories?title=regex:^r"})
	assert.Equal(t, float64(1), out["count"])

	_, out = s.do(t, call{method: http.MethodGet, path: "/api/v1/categories?index=1&sort_by=slug"})
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, float64(1), out["index"])
	assert.Len(t, out["data"], 2)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/categories?nope=1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/categories?sort_by=title&sort_order=up"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate(t *testing.T) {
	s := newTestServer(t)
	id := s.createCategory(t, "News", "news")

	rec, out := s.do(t, call{method: http.MethodPut, path: "/api/v1/categories/" + id, body: `{"title":"Updates"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Updates", out["title"])
	assert.Equal(t, "news", out["slug"])

	rec, _ = s.do(t, call{method: http.MethodPut, path: "/api/v1/categories/" + modepress.NewID().Hex(), body: `{"title":"x"}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodPut, path: "/api/v1/categories", body: `{"title":"x"}`})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	a := s.createCategory(t, "A", "a")
	b := s.createCategory(t, "B", "b")
	c := s.createCategory(t, "C", "c")

	rec, out := s.do(t, call{method: http.MethodDelete, path: "/api/v1/categories/" + a})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["removedCount"])

	rec, out = s.do(t, call{method: http.MethodDelete, path: "/api/v1/categories", body: `["` + b + `","` + c + `"]`})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["removedCount"])

	rec, _ = s.do(t, call{method: http.MethodDelete, path: "/api/v1/categories", body: `[]`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = s.do(t, call{method: http.MethodDelete, path: "/api/v1/categories", body: `["zz"]`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHeaderRevealsSensitiveFields(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, call{method: http.MethodPost, path: "/api/v1/users",
		body: `{"username":"ann","email":"ann@example.com","password":"secret-pw"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := out["_id"].(string)

	_, out = s.do(t, call{method: http.MethodGet, path: "/api/v1/users/" + id})
	assert.Equal(t, "", out["email"])
	assert.Equal(t, "", out["password"])

	_, out = s.do(t, call{method: http.MethodGet, path: "/api/v1/users/" + id, admin: true})
	assert.Equal(t, "ann@example.com", out["email"])
	assert.True(t, strings.HasPrefix(out["password"].(string), "$argon2id$"))
}

func TestQuerySensitiveFieldNeedsAdmin(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, call{method: http.MethodPost, path: "/api/v1/users",
		body: `{"username":"ann","email":"ann@example.com","password":"secret-pw"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, path := range []string{
		"/api/v1/users?email=regex:%5Eann",
		"/api/v1/users?email=ann%40example.com",
		"/api/v1/users?sort_by=password",
		`/api/v1/users?condition=%7B%22a%22%3A%22email%22%2C%22o%22%3A%22eq%22%2C%22v%22%3A%22x%22%7D`,
	} {
		rec, _ := s.do(t, call{method: http.MethodGet, path: path})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/users?email=regex:%5Eann", admin: true})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSchemaEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec, out := s.do(t, call{method: http.MethodGet, path: "/api/v1/schemas/posts"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "posts", out["title"])
	props := out["properties"].(map[string]any)
	assert.Contains(t, props, "slug")
	assert.Contains(t, props, "_id")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schemas", nil)
	list := httptest.NewRecorder()
	s.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)
	var names []string
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &names))
	assert.Contains(t, names, "comments")

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/v1/schemas/widgets"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/v1/schemas/posts"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, call{method: http.MethodPatch, path: "/api/v1/categories"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
