package modepress

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID is the native document identifier. It is the MongoDB ObjectID so that
// documents round-trip through the Mongo store without conversion; the other
// stores persist its hex form.
type ID = primitive.ObjectID

// NilID is the zero identifier.
var NilID = primitive.NilObjectID

// NewID generates a new document identifier.
func NewID() ID {
	return primitive.NewObjectID()
}

// ParseID parses the hex form of an identifier.
func ParseID(s string) (ID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return NilID, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// IsValidID reports whether s is a structurally valid identifier.
func IsValidID(s string) bool {
	return primitive.IsValidObjectID(s)
}

// Reserved document keys.
const (
	FieldID                   = "_id"
	FieldRequiredDependencies = "_requiredDependencies"
	FieldOptionalDependencies = "_optionalDependencies"
	FieldArrayDependencies    = "_arrayDependencies"
)

// Document is a schemaless stored record.
type Document map[string]any

// ID returns the document identifier, accepting both native ids and their hex form.
func (d Document) ID() (ID, bool) {
	switch v := d[FieldID].(type) {
	case ID:
		return v, !v.IsZero()
	case string:
		id, err := primitive.ObjectIDFromHex(v)
		return id, err == nil
	}
	return NilID, false
}

// SortOrder is the direction of a sort key.
type SortOrder int

const (
	SortAsc  SortOrder = 1
	SortDesc SortOrder = -1
)

// SortField is one key of a sort specification.
type SortField struct {
	Field string    `json:"field"`
	Order SortOrder `json:"order"`
}

// FindOptions controls paging and ordering of a store query.
type FindOptions struct {
	Skip  int64
	Limit int64
	Sort  []SortField
}

// FindPage is a page of raw documents plus the total number of matches.
type FindPage struct {
	Items []Document
	Total int64
}

// SerializeOptions selects the visibility tier of a serialized document.
type SerializeOptions struct {
	Verbose           bool `json:"verbose"`
	Admin             bool `json:"admin"`
	ExpandForeignKeys bool `json:"expandForeignKeys"`
}

// FindRequest describes a paged model query.
type FindRequest struct {
	// Equals matches fields by value. Values are coerced with the field's schema item.
	Equals map[string]any `json:"equals,omitempty"`
	// Regex matches text fields by case-insensitive pattern.
	Regex map[string]string `json:"regex,omitempty"`
	// Search is matched case-insensitively against the model's search fields.
	Search string `json:"search,omitempty"`
	// Condition is an additional raw condition ANDed with the above.
	Condition Condition `json:"-"`

	Index int         `json:"index"`
	Limit int         `json:"limit"`
	Sort  []SortField `json:"sort,omitempty"`

	SerializeOptions
}

// FindResult is a page of serialized documents.
type FindResult struct {
	Data  []map[string]any `json:"data"`
	Count int64            `json:"count"`
	Index int              `json:"index"`
	Limit int              `json:"limit"`
}

// DeleteResult reports the outcome of a delete including its cascade.
type DeleteResult struct {
	RemovedCount     int64 `json:"removedCount"`
	CascadeRemoved   int64 `json:"cascadeRemoved"`
	CascadeNullified int64 `json:"cascadeNullified"`
	CascadePulled    int64 `json:"cascadePulled"`
	CascadeFailures  int   `json:"cascadeFailures"`
}

// DependencyKind classifies a referential edge.
type DependencyKind string

const (
	// DependencyRequired removes the dependent when the referenced document is removed.
	DependencyRequired DependencyKind = "required"
	// DependencyOptional nullifies the dependent's property.
	DependencyOptional DependencyKind = "optional"
	// DependencyArray pulls the removed id out of the dependent's array property.
	DependencyArray DependencyKind = "array"
)

// MetadataField returns the document key that stores edges of this kind.
func (k DependencyKind) MetadataField() string {
	switch k {
	case DependencyRequired:
		return FieldRequiredDependencies
	case DependencyOptional:
		return FieldOptionalDependencies
	case DependencyArray:
		return FieldArrayDependencies
	}
	return ""
}
