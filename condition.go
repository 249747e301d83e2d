package modepress

import (
	"encoding/json"
	"fmt"
)

type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Op is the comparison applied by a FieldCondition.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpIn     Op = "in"
	OpRegex  Op = "regex"
	OpIRegex Op = "iregex"
	OpExists Op = "exists"
)

// Condition is a node of a store filter tree.
type Condition interface {
	IsLeaf() bool
}

// CompositeCondition joins child conditions with a logic operator.
// An empty composite matches everything.
type CompositeCondition struct {
	Logic      Logic       `json:"l"`
	Conditions []Condition `json:"c"`
}

func (c *CompositeCondition) IsLeaf() bool { return false }

// UnmarshalJSON decodes nested children into their concrete condition types.
func (c *CompositeCondition) UnmarshalJSON(data []byte) error {
	type compositeAlias struct {
		Logic      *Logic            `json:"l"`
		Conditions []json.RawMessage `json:"c"`
	}

	var alias compositeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	if alias.Logic == nil {
		return fmt.Errorf("composite condition missing logic")
	}

	switch *alias.Logic {
	case LogicAnd, LogicOr:
		c.Logic = *alias.Logic
	default:
		return fmt.Errorf("unknown logic: %s", *alias.Logic)
	}

	if len(alias.Conditions) == 0 {
		c.Conditions = nil
		return nil
	}

	conditions := make([]Condition, 0, len(alias.Conditions))
	for _, raw := range alias.Conditions {
		child, err := UnmarshalCondition(raw)
		if err != nil {
			return err
		}
		conditions = append(conditions, child)
	}

	c.Conditions = conditions
	return nil
}

// FieldCondition compares one document field against a value.
// Equality against an array field matches when any element is equal.
type FieldCondition struct {
	Field string `json:"a"`
	Op    Op     `json:"o"`
	Value any    `json:"v"`
}

func (f *FieldCondition) IsLeaf() bool { return true }

// UnmarshalJSON requires the field key and defaults the operator to equality.
func (f *FieldCondition) UnmarshalJSON(data []byte) error {
	type fieldAlias struct {
		Field string `json:"a"`
		Op    Op     `json:"o"`
		Value any    `json:"v"`
	}

	var alias fieldAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	if alias.Field == "" {
		return fmt.Errorf("field condition missing attr 'a'")
	}
	if alias.Op == "" {
		alias.Op = OpEq
	}

	switch alias.Op {
	case OpEq, OpNe, OpIn, OpRegex, OpIRegex, OpExists:
	default:
		return fmt.Errorf("unsupported operator: %s", alias.Op)
	}

	if alias.Op == OpIn {
		if _, ok := alias.Value.([]any); !ok {
			return fmt.Errorf("operator 'in' on '%s' requires an array value", alias.Field)
		}
	}

	f.Field = alias.Field
	f.Op = alias.Op
	f.Value = alias.Value
	return nil
}

// UnmarshalCondition inspects the payload and instantiates the composite or
// leaf implementation.
func UnmarshalCondition(data []byte) (Condition, error) {
	var discriminator struct {
		Logic *Logic  `json:"l"`
		Attr  *string `json:"a"`
	}

	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, err
	}

	if discriminator.Logic != nil {
		var composite CompositeCondition
		if err := json.Unmarshal(data, &composite); err != nil {
			return nil, err
		}
		return &composite, nil
	}

	if discriminator.Attr != nil {
		var fc FieldCondition
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, err
		}
		return &fc, nil
	}

	return nil, fmt.Errorf("invalid condition payload: expected 'l' or 'a'")
}

func Eq(field string, value any) *FieldCondition {
	return &FieldCondition{Field: field, Op: OpEq, Value: value}
}

func Ne(field string, value any) *FieldCondition {
	return &FieldCondition{Field: field, Op: OpNe, Value: value}
}

func In(field string, values ...any) *FieldCondition {
	return &FieldCondition{Field: field, Op: OpIn, Value: values}
}

// Regex matches a text field against pattern; insensitive ignores case.
func Regex(field, pattern string, insensitive bool) *FieldCondition {
	op := OpRegex
	if insensitive {
		op = OpIRegex
	}
	return &FieldCondition{Field: field, Op: op, Value: pattern}
}

func Exists(field string, exists bool) *FieldCondition {
	return &FieldCondition{Field: field, Op: OpExists, Value: exists}
}

// ByID matches a single document by identifier.
func ByID(id ID) *FieldCondition {
	return Eq(FieldID, id)
}

// ByIDs matches any of the given identifiers.
func ByIDs(ids []ID) *FieldCondition {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return &FieldCondition{Field: FieldID, Op: OpIn, Value: values}
}

// And joins conditions, skipping nil children.
func And(conds ...Condition) *CompositeCondition {
	return &CompositeCondition{Logic: LogicAnd, Conditions: compact(conds)}
}

// Or joins conditions, skipping nil children.
func Or(conds ...Condition) *CompositeCondition {
	return &CompositeCondition{Logic: LogicOr, Conditions: compact(conds)}
}

func compact(conds []Condition) []Condition {
	out := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			continue
		}
		if fc, ok := c.(*FieldCondition); ok && fc == nil {
			continue
		}
		if cc, ok := c.(*CompositeCondition); ok && cc == nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
