package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lychee-technology/modepress"
)

// coerce converts v to the Go type held by items of it.Kind() without
// applying any constraint.
func coerce(it *Item, v any) (any, error) {
	switch it.kind {
	case KindText, KindHTML:
		s, ok := toString(v)
		if !ok {
			return nil, fmt.Errorf("%s must be text", it.name)
		}
		return s, nil
	case KindTextArray:
		elems, ok := toSlice(v)
		if !ok {
			return nil, fmt.Errorf("%s must be a list of text", it.name)
		}
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			s, ok := toString(e)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of text", it.name)
			}
			out = append(out, s)
		}
		return out, nil
	case KindNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s must be a number", it.name)
		}
		return f, nil
	case KindNumberArray:
		elems, ok := toSlice(v)
		if !ok {
			return nil, fmt.Errorf("%s must be a list of numbers", it.name)
		}
		out := make([]float64, 0, len(elems))
		for _, e := range elems {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of numbers", it.name)
			}
			out = append(out, f)
		}
		return out, nil
	case KindBool:
		b, ok := toBool(v)
		if !ok {
			return nil, fmt.Errorf("%s must be true or false", it.name)
		}
		return b, nil
	case KindDate:
		return toMillis(v), nil
	case KindID, KindForeignKey:
		id, isNil, ok := toID(v)
		if !ok {
			return nil, fmt.Errorf("Please use a valid ID for '%s'", it.name)
		}
		if isNil {
			return nil, nil
		}
		return id, nil
	case KindIDArray:
		elems, ok := toSlice(v)
		if !ok {
			return nil, fmt.Errorf("Please use a valid ID for '%s'", it.name)
		}
		out := make([]modepress.ID, 0, len(elems))
		for _, e := range elems {
			id, isNil, ok := toID(e)
			if !ok || isNil {
				return nil, fmt.Errorf("Please use a valid ID for '%s'", it.name)
			}
			out = append(out, id)
		}
		return out, nil
	case KindJSON:
		return normalizeJSON(v)
	}
	return nil, fmt.Errorf("%s has unknown kind %d", it.name, it.kind)
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case primitive.ObjectID:
		return val.Hex(), true
	case bool, int, int32, int64, float32, float64, json.Number:
		return fmt.Sprint(val), true
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return b, err == nil
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// toMillis converts timestamps to unix milliseconds. Unparseable values become zero.
func toMillis(v any) int64 {
	switch val := v.(type) {
	case time.Time:
		return val.UnixMilli()
	case primitive.DateTime:
		return int64(val)
	case string:
		s := strings.TrimSpace(val)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli()
		}
		return 0
	}
	if f, ok := toFloat(v); ok {
		return int64(f)
	}
	return 0
}

// toID reports isNil for nil and empty strings and ok=false for malformed ids.
func toID(v any) (id modepress.ID, isNil bool, ok bool) {
	switch val := v.(type) {
	case nil:
		return modepress.NilID, true, true
	case modepress.ID:
		return val, val.IsZero(), true
	case *modepress.ID:
		if val == nil {
			return modepress.NilID, true, true
		}
		return *val, val.IsZero(), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return modepress.NilID, true, true
		}
		parsed, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return modepress.NilID, false, false
		}
		return parsed, false, true
	}
	return modepress.NilID, false, false
}

func toSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		return val, true
	case primitive.A:
		return []any(val), true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = f
		}
		return out, true
	case []modepress.ID:
		out := make([]any, len(val))
		for i, id := range val {
			out[i] = id
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// normalizeJSON round-trips v through encoding/json so that stored values
// only contain maps, slices, strings, float64, bool and nil.
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case primitive.D:
		v = val.Map()
	case primitive.M:
		v = map[string]any(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
