package internal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/schema"
)

// Hooks run on the validated working schema right before it is written.
type Hooks struct {
	BeforeInsert func(ctx context.Context, s *schema.Schema) error
	// BeforeUpdate receives the payload keys that were applied.
	BeforeUpdate func(ctx context.Context, s *schema.Schema, applied []string) error
}

// ModelDefinition binds a template to a collection.
type ModelDefinition struct {
	Collection string
	Template   *schema.Schema
	// SummaryFields are serialized alongside _id when Verbose is off.
	SummaryFields []string
	// SearchFields are matched by FindRequest.Search.
	SearchFields []string
	DefaultSort  []modepress.SortField
	Hooks        Hooks
	EdgePolicy   EdgePolicy
}

func (d ModelDefinition) validate() error {
	if d.Collection == "" {
		return modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid, "collection name is required")
	}
	if d.Template == nil {
		return modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid, "template is required").WithCollection(d.Collection)
	}
	for _, name := range d.SummaryFields {
		if d.Template.Item(name) == nil {
			return modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid,
				fmt.Sprintf("summary field '%s' is not in the template", name)).WithCollection(d.Collection).WithField(name)
		}
	}
	for _, name := range d.SearchFields {
		it := d.Template.Item(name)
		if it == nil {
			return modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid,
				fmt.Sprintf("search field '%s' is not in the template", name)).WithCollection(d.Collection).WithField(name)
		}
		switch it.Kind() {
		case schema.KindText, schema.KindHTML, schema.KindTextArray:
		default:
			return modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid,
				fmt.Sprintf("search field '%s' must hold text", name)).WithCollection(d.Collection).WithField(name)
		}
	}
	for _, sf := range d.DefaultSort {
		if sf.Field != modepress.FieldID && d.Template.Item(sf.Field) == nil {
			return modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid,
				fmt.Sprintf("sort field '%s' is not in the template", sf.Field)).WithCollection(d.Collection).WithField(sf.Field)
		}
	}
	return nil
}

// Registry owns the models of one store and the dependency graph between
// their collections. It also answers reference existence checks.
type Registry struct {
	store    modepress.Store
	config   *modepress.Config
	graph    *DependencyGraph
	resolver *CascadeResolver

	mu     sync.RWMutex
	models map[string]*model
	order  []string
}

func NewRegistry(store modepress.Store, config *modepress.Config) *Registry {
	if config == nil {
		config = modepress.DefaultConfig()
	}
	graph := NewDependencyGraph()
	return &Registry{
		store:    store,
		config:   config,
		graph:    graph,
		resolver: NewCascadeResolver(store, graph, config.Reference.MaxCascadeDepth),
		models:   make(map[string]*model),
	}
}

// Register validates def and creates its model.
func (r *Registry) Register(def ModelDefinition) (modepress.Model, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[def.Collection]; exists {
		return nil, modepress.NewSchemaError(modepress.ErrCodeDuplicateField,
			fmt.Sprintf("collection '%s' is already registered", def.Collection)).WithCollection(def.Collection)
	}

	if def.EdgePolicy == nil {
		def.EdgePolicy = DefaultEdgePolicy
	}
	m := &model{
		def:      def,
		registry: r,
		coll:     r.store.Collection(def.Collection),
	}
	r.models[def.Collection] = m
	r.order = append(r.order, def.Collection)

	for _, ref := range def.Template.References() {
		r.graph.Link(def.Collection, ref.Ref.TargetCollection)
	}
	zap.S().Debugw("registered model", "collection", def.Collection, "fields", def.Template.Names())
	return m, nil
}

// MustRegister is Register for built-in definitions.
func (r *Registry) MustRegister(def ModelDefinition) modepress.Model {
	m, err := r.Register(def)
	if err != nil {
		panic(err)
	}
	return m
}

func (r *Registry) lookup(name string) (*model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Model returns the model of a collection.
func (r *Registry) Model(name string) (modepress.Model, error) {
	m, ok := r.lookup(name)
	if !ok {
		return nil, modepress.NewCollectionNotFoundError(name)
	}
	return m, nil
}

// Definition returns the definition a collection was registered with.
func (r *Registry) Definition(name string) (ModelDefinition, bool) {
	m, ok := r.lookup(name)
	if !ok {
		return ModelDefinition{}, false
	}
	return m.def, true
}

// Models returns every model in registration order.
func (r *Registry) Models() []modepress.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]modepress.Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}

// Names returns the registered collection names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Store() modepress.Store { return r.store }

func (r *Registry) Config() *modepress.Config { return r.config }

func (r *Registry) Graph() *DependencyGraph { return r.graph }

// Exists reports whether collection holds a document with id.
func (r *Registry) Exists(ctx context.Context, collection string, id modepress.ID) (bool, error) {
	page, err := r.store.Collection(collection).Find(ctx, modepress.ByID(id), modepress.FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(page.Items) > 0, nil
}

// EnsureIndexes creates the unique and indexable field indexes of every
// model when the store supports them.
func (r *Registry) EnsureIndexes(ctx context.Context) error {
	indexer, ok := r.store.(modepress.Indexer)
	if !ok {
		zap.S().Debugw("store does not support indexes, skipping")
		return nil
	}
	r.mu.RLock()
	defs := make([]ModelDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.models[name].def)
	}
	r.mu.RUnlock()

	for _, def := range defs {
		unique := def.Template.UniqueFieldNames()
		indexable := def.Template.IndexableFieldNames()
		if len(unique) == 0 && len(indexable) == 0 {
			continue
		}
		if err := indexer.EnsureIndexes(ctx, def.Collection, unique, indexable); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", def.Collection, err)
		}
		zap.S().Infow("ensured indexes", "collection", def.Collection, "unique", unique, "indexable", indexable)
	}
	return nil
}
