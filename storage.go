package modepress

import (
	"context"
)

// Model binds a schema template to a named collection and performs the
// validated CRUD operations on it.
type Model interface {
	CollectionName() string

	// Create validates payload against a fresh copy of the template, enforces
	// unique fields and inserts the document.
	Create(ctx context.Context, payload map[string]any) (map[string]any, error)
	// Update applies a partial update; fields absent from payload are untouched.
	Update(ctx context.Context, id ID, payload map[string]any) (map[string]any, error)
	Get(ctx context.Context, id ID, opts SerializeOptions) (map[string]any, error)
	Find(ctx context.Context, req *FindRequest) (*FindResult, error)
	Count(ctx context.Context, cond Condition) (int64, error)
	// Delete removes every match and cascades to dependents. Zero matches is not an error.
	Delete(ctx context.Context, cond Condition) (*DeleteResult, error)
	Serialize(ctx context.Context, doc Document, opts SerializeOptions) (map[string]any, error)
}

// Patch is a partial document update.
type Patch struct {
	// Set assigns fields; a nil value stores null.
	Set map[string]any
	// Pull removes matching elements from an array field. A map value matches
	// sub-documents whose listed keys are all equal. Set and Pull must not
	// name the same field.
	Pull map[string]any
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Pull) == 0
}

// Collection is a store handle for one named collection.
type Collection interface {
	Find(ctx context.Context, cond Condition, opts FindOptions) (*FindPage, error)
	// InsertOne stores doc, generating its _id when absent, and returns the stored document.
	InsertOne(ctx context.Context, doc Document) (Document, error)
	// UpdateOne patches the first match. No match is not an error.
	UpdateOne(ctx context.Context, cond Condition, patch Patch) error
	DeleteMany(ctx context.Context, cond Condition) (int64, error)
}

// Store is the collection-oriented document store collaborator.
type Store interface {
	Collection(name string) Collection
	Close(ctx context.Context) error
}

// Indexer is implemented by stores that support secondary indexes.
type Indexer interface {
	EnsureIndexes(ctx context.Context, collection string, unique, indexable []string) error
}

// HealthChecker is implemented by stores with a remote backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ReferenceChecker resolves whether referenced documents exist.
type ReferenceChecker interface {
	Exists(ctx context.Context, collection string, id ID) (bool, error)
}
