package schema

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/jsonschema-go/jsonschema"
)

const idPattern = "^[0-9a-fA-F]{24}$"

// JSONSchema describes the document shape accepted by s.
func (s *Schema) JSONSchema(title string) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(s.items))
	properties["_id"] = map[string]any{"type": "string", "pattern": idPattern, "readOnly": true}
	for _, it := range s.items {
		prop, err := itemJSONSchema(it)
		if err != nil {
			return nil, err
		}
		if it.ReadOnly {
			prop["readOnly"] = true
		}
		if it.Sensitive {
			prop["writeOnly"] = true
		}
		properties[it.name] = prop
	}

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      title,
		"type":       "object",
		"properties": properties,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema %s: %w", title, err)
	}
	var out jsonschema.Schema
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}
	return &out, nil
}

func itemJSONSchema(it *Item) (map[string]any, error) {
	switch it.kind {
	case KindText, KindHTML:
		return stringSchema(it.Text), nil
	case KindTextArray:
		return arraySchema(stringSchema(it.Text), it.Array), nil
	case KindNumber:
		return numberSchema(it.Number), nil
	case KindNumberArray:
		return arraySchema(numberSchema(it.Number), it.Array), nil
	case KindBool:
		return map[string]any{"type": "boolean"}, nil
	case KindDate:
		return map[string]any{"type": "integer", "description": "unix time in milliseconds"}, nil
	case KindID:
		return map[string]any{"type": []string{"string", "null"}, "pattern": idPattern}, nil
	case KindForeignKey:
		prop := map[string]any{"type": "string", "pattern": idPattern}
		if it.Ref.KeyCanBeNull {
			prop["type"] = []string{"string", "null"}
		}
		if it.Ref.TargetCollection != "" {
			prop["description"] = "references " + it.Ref.TargetCollection
		}
		return prop, nil
	case KindIDArray:
		return arraySchema(map[string]any{"type": "string", "pattern": idPattern}, it.Array), nil
	case KindJSON:
		if it.JSON.Schema == nil {
			return map[string]any{}, nil
		}
		data, err := json.Marshal(it.JSON.Schema)
		if err != nil {
			return nil, err
		}
		var prop map[string]any
		if err := json.Unmarshal(data, &prop); err != nil {
			return nil, err
		}
		return prop, nil
	}
	return nil, fmt.Errorf("%s has unknown kind %d", it.name, it.kind)
}

func stringSchema(opts TextOptions) map[string]any {
	prop := map[string]any{"type": "string"}
	if opts.MinCharacters > 0 {
		prop["minLength"] = opts.MinCharacters
	}
	if opts.MaxCharacters > 0 {
		prop["maxLength"] = opts.MaxCharacters
	}
	return prop
}

func numberSchema(opts NumberOptions) map[string]any {
	prop := map[string]any{"type": "number"}
	if opts.Type == NumberInteger {
		prop["type"] = "integer"
	}
	if !math.IsInf(opts.Min, 0) {
		prop["minimum"] = opts.Min
	}
	if !math.IsInf(opts.Max, 0) {
		prop["maximum"] = opts.Max
	}
	return prop
}

func arraySchema(items map[string]any, opts ArrayOptions) map[string]any {
	prop := map[string]any{"type": "array", "items": items}
	if opts.MinItems > 0 {
		prop["minItems"] = opts.MinItems
	}
	if opts.MaxItems > 0 {
		prop["maxItems"] = opts.MaxItems
	}
	return prop
}
