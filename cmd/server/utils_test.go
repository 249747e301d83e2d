package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/modepress"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path           string
		collection, id string
		wantErr        bool
	}{
		{path: "/api/v1/posts", collection: "posts"},
		{path: "/api/v1/posts/", collection: "posts"},
		{path: "/api/v1/posts/abc", collection: "posts", id: "abc"},
		{path: "/api/v1/", wantErr: true},
		{path: "/api/v1/a/b/c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collection, id, err := parsePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.collection, collection)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestParseSortParams(t *testing.T) {
	tests := []struct {
		name        string
		params      url.Values
		want        []modepress.SortField
		expectError bool
	}{
		{
			name:   "no sort parameters",
			params: url.Values{},
		},
		{
			name:   "single sort defaults to asc",
			params: url.Values{"sort_by": {"title"}},
			want:   []modepress.SortField{{Field: "title", Order: modepress.SortAsc}},
		},
		{
			name: "multi sort with csv and custom order",
			params: url.Values{
				"sort_by":    {"createdOn,title ", " slug"},
				"sort_order": {"DESC"},
			},
			want: []modepress.SortField{
				{Field: "createdOn", Order: modepress.SortDesc},
				{Field: "title", Order: modepress.SortDesc},
				{Field: "slug", Order: modepress.SortDesc},
			},
		},
		{
			name:        "invalid sort order",
			params:      url.Values{"sort_by": {"title"}, "sort_order": {"up"}},
			expectError: true,
		},
		{
			name:        "order without fields",
			params:      url.Values{"sort_order": {"desc"}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSortParams(tt.params)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePagination(t *testing.T) {
	index, limit := parsePagination(url.Values{"index": {"20"}, "limit": {"5"}})
	assert.Equal(t, 20, index)
	assert.Equal(t, 5, limit)

	index, limit = parsePagination(url.Values{"index": {"-1"}, "limit": {"many"}})
	assert.Zero(t, index)
	assert.Zero(t, limit)
}

func TestParseFindRequest(t *testing.T) {
	q := url.Values{
		"q":         {"hello"},
		"public":    {"true"},
		"title":     {"regex:^h"},
		"verbose":   {"1"},
		"expand":    {"true"},
		"limit":     {"3"},
		"condition": {`{"a":"slug","o":"ne","v":"draft"}`},
	}
	r := httptest.NewRequest(http.MethodGet, "/api/v1/posts?"+q.Encode(), nil)
	r.Header.Set(adminHeader, "TRUE")

	req, err := parseFindRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", req.Search)
	assert.Equal(t, map[string]any{"public": "true"}, req.Equals)
	assert.Equal(t, map[string]string{"title": "^h"}, req.Regex)
	assert.Equal(t, 3, req.Limit)
	assert.Equal(t, modepress.SerializeOptions{Verbose: true, Admin: true, ExpandForeignKeys: true}, req.SerializeOptions)
	assert.Equal(t, &modepress.FieldCondition{Field: "slug", Op: modepress.OpNe, Value: "draft"}, req.Condition)

	bad := httptest.NewRequest(http.MethodGet, `/api/v1/posts?condition=nope`, nil)
	_, err = parseFindRequest(bad)
	assert.Error(t, err)
}

func TestSerializeOptionsDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/posts/x", nil)
	assert.Equal(t, modepress.SerializeOptions{Verbose: true}, serializeOptions(r, true))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/posts/x?verbose=false", nil)
	assert.False(t, serializeOptions(r, true).Verbose)
}

func TestWriteModelError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", validationErrors("title", "slug"), http.StatusBadRequest},
		{"field", modepress.NewFieldError("title", "title cannot be empty"), http.StatusBadRequest},
		{"duplicate", modepress.NewDuplicateEntryError("posts", "slug", "a"), http.StatusConflict},
		{"not found", modepress.NewNotFoundError("posts", "x"), http.StatusNotFound},
		{"unavailable", modepress.NewStoreUnavailableError("find"), http.StatusServiceUnavailable},
		{"store", modepress.NewStoreError("find", errors.New("boom")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeModelError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func validationErrors(fields ...string) error {
	ve := modepress.NewValidationErrors()
	for _, f := range fields {
		ve.Add(f, modepress.NewFieldError(f, f+" is invalid"))
	}
	return ve.ToError()
}
