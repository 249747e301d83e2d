package modepress

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDuplicate  ErrorType = "duplicate"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeStore      ErrorType = "store"
	ErrorTypeCascade    ErrorType = "cascade"
	ErrorTypeSchema     ErrorType = "schema"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes
const (
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeDuplicateEntry       = "DUPLICATE_ENTRY"
	ErrCodeDocumentNotFound     = "DOCUMENT_NOT_FOUND"
	ErrCodeCollectionNotFound   = "COLLECTION_NOT_FOUND"
	ErrCodeStoreFailure         = "STORE_FAILURE"
	ErrCodeStoreUnavailable     = "STORE_UNAVAILABLE"
	ErrCodeCascadeFailed        = "CASCADE_FAILED"
	ErrCodeCascadeDepthExceeded = "CASCADE_DEPTH_EXCEEDED"
	ErrCodeSchemaInvalid        = "SCHEMA_INVALID"
	ErrCodeDuplicateField       = "DUPLICATE_FIELD"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// ModepressError is the structured error returned by models and stores.
type ModepressError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Collection string         `json:"collection,omitempty"`
	Field      string         `json:"field,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *ModepressError) Error() string {
	prefix := fmt.Sprintf("[%s:%s]", e.Type, e.Code)
	if e.Collection != "" {
		prefix += " " + e.Collection
	}
	if e.Field != "" {
		prefix += fmt.Sprintf(" field '%s'", e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ModepressError) Unwrap() error {
	return e.Cause
}

// WithDetails merges details into the error
func (e *ModepressError) WithDetails(details map[string]any) *ModepressError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail
func (e *ModepressError) WithDetail(key string, value any) *ModepressError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *ModepressError) WithCause(cause error) *ModepressError {
	e.Cause = cause
	return e
}

// WithCollection adds collection context
func (e *ModepressError) WithCollection(collection string) *ModepressError {
	e.Collection = collection
	return e
}

// WithField adds field context
func (e *ModepressError) WithField(field string) *ModepressError {
	e.Field = field
	return e
}

// NewModepressError creates a new structured error
func NewModepressError(errorType ErrorType, code, message string) *ModepressError {
	return &ModepressError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewDuplicateEntryError reports a unique field colliding with a stored document.
func NewDuplicateEntryError(collection, field string, value any) *ModepressError {
	return &ModepressError{
		Type:       ErrorTypeDuplicate,
		Code:       ErrCodeDuplicateEntry,
		Message:    fmt.Sprintf("'%s' must be unique, '%v' is already in use", field, value),
		Collection: collection,
		Field:      field,
		Details:    map[string]any{"value": value},
	}
}

// NewNotFoundError reports a missing update or delete target.
func NewNotFoundError(collection string, id any) *ModepressError {
	return &ModepressError{
		Type:       ErrorTypeNotFound,
		Code:       ErrCodeDocumentNotFound,
		Message:    fmt.Sprintf("document '%v' does not exist", id),
		Collection: collection,
		Details:    map[string]any{"id": fmt.Sprint(id)},
	}
}

// NewCollectionNotFoundError reports an unknown collection name.
func NewCollectionNotFoundError(collection string) *ModepressError {
	return &ModepressError{
		Type:       ErrorTypeNotFound,
		Code:       ErrCodeCollectionNotFound,
		Message:    fmt.Sprintf("collection '%s' is not registered", collection),
		Collection: collection,
		Details:    make(map[string]any),
	}
}

// NewStoreError wraps an infrastructure failure from the store collaborator.
func NewStoreError(operation string, cause error) *ModepressError {
	return &ModepressError{
		Type:    ErrorTypeStore,
		Code:    ErrCodeStoreFailure,
		Message: operation + " failed",
		Cause:   cause,
		Details: map[string]any{"operation": operation},
	}
}

// NewStoreUnavailableError is returned while the store circuit breaker is open.
func NewStoreUnavailableError(operation string) *ModepressError {
	return &ModepressError{
		Type:    ErrorTypeStore,
		Code:    ErrCodeStoreUnavailable,
		Message: operation + " rejected: store circuit breaker is open",
		Details: map[string]any{"operation": operation},
	}
}

// NewCascadeError reports a failed cascade step.
func NewCascadeError(collection string, id ID, message string, cause error) *ModepressError {
	return &ModepressError{
		Type:       ErrorTypeCascade,
		Code:       ErrCodeCascadeFailed,
		Message:    message,
		Collection: collection,
		Cause:      cause,
		Details:    map[string]any{"id": id.Hex()},
	}
}

// NewSchemaError reports an invalid schema definition.
func NewSchemaError(code, message string) *ModepressError {
	return &ModepressError{
		Type:    ErrorTypeSchema,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *ModepressError {
	return &ModepressError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// FieldError is a single failed field constraint. Message is human readable
// and names the field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Message
}

// NewFieldError creates a field error
func NewFieldError(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

// ValidationErrors aggregates every failed field of a document.
type ValidationErrors struct {
	Errors []*FieldError `json:"errors"`
}

func (ve *ValidationErrors) Error() string {
	switch len(ve.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return ve.Errors[0].Error()
	}
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Message
	}
	return fmt.Sprintf("%d validation errors: %s", len(ve.Errors), strings.Join(msgs, "; "))
}

// Add appends err; a nested FieldError or ValidationErrors is flattened.
func (ve *ValidationErrors) Add(field string, err error) {
	var fe *FieldError
	var nested *ValidationErrors
	switch {
	case errors.As(err, &nested):
		ve.Errors = append(ve.Errors, nested.Errors...)
	case errors.As(err, &fe):
		ve.Errors = append(ve.Errors, fe)
	default:
		ve.Errors = append(ve.Errors, &FieldError{Field: field, Message: err.Error()})
	}
}

// HasErrors returns true if there are any errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// Fields lists the failing field names in order.
func (ve *ValidationErrors) Fields() []string {
	fields := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		fields[i] = e.Field
	}
	return fields
}

// ToError returns nil when empty
func (ve *ValidationErrors) ToError() error {
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// NewValidationErrors creates an empty aggregate
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]*FieldError, 0)}
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}

func isType(err error, t ErrorType) bool {
	var me *ModepressError
	if errors.As(err, &me) {
		return me.Type == t
	}
	return false
}

// IsValidationError reports whether err is a field or aggregated validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationErrors
	var fe *FieldError
	return errors.As(err, &ve) || errors.As(err, &fe) || isType(err, ErrorTypeValidation)
}

// IsDuplicateEntryError reports whether err is a uniqueness collision.
func IsDuplicateEntryError(err error) bool {
	return isType(err, ErrorTypeDuplicate)
}

// IsNotFoundError reports whether err is a missing document or collection.
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsStoreError reports whether err came from the store collaborator.
func IsStoreError(err error) bool {
	return isType(err, ErrorTypeStore)
}

// IsCascadeError reports whether err is a cascade failure.
func IsCascadeError(err error) bool {
	return isType(err, ErrorTypeCascade)
}
