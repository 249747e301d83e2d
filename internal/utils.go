package internal

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lychee-technology/modepress"
)

func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return pgx.Identifier(clean).Sanitize()
}

// toID accepts native ids and their hex form.
func toID(v any) (modepress.ID, bool) {
	switch id := v.(type) {
	case modepress.ID:
		return id, !id.IsZero()
	case *modepress.ID:
		if id == nil {
			return modepress.NilID, false
		}
		return *id, !id.IsZero()
	case string:
		parsed, err := primitive.ObjectIDFromHex(id)
		return parsed, err == nil
	}
	return modepress.NilID, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// valuesEqual compares stored values loosely: numbers by value and ids
// against their hex form.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ida, ok := a.(modepress.ID); ok {
		idb, ok := toID(b)
		return ok && ida == idb
	}
	if idb, ok := b.(modepress.ID); ok {
		ida, ok := toID(a)
		return ok && ida == idb
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders nil first, then numbers, strings, ids and bools.
func compareValues(a, b any) int {
	rank := func(v any) int {
		switch v.(type) {
		case nil:
			return 0
		case string:
			return 2
		case modepress.ID:
			return 3
		case bool:
			return 4
		}
		if _, ok := toFloat(v); ok {
			return 1
		}
		return 5
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		return strings.Compare(a.(modepress.ID).Hex(), b.(modepress.ID).Hex())
	case 4:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	}
	return 0
}

// normalizeValue converts typed slices and maps into []any and
// map[string]any recursively, copying as it goes.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, int64, modepress.ID:
		return val
	case modepress.Document:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case primitive.M:
		return normalizeMap(val)
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.A:
		return normalizeSlice([]any(val))
	case []any:
		return normalizeSlice(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = normalizeValue(v)
	}
	return out
}

// normalizeDocument returns a deep copy of doc with only generic containers.
func normalizeDocument(doc modepress.Document) modepress.Document {
	return modepress.Document(normalizeMap(doc))
}
