package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/schema"
)

// Create validates payload against a fresh copy of the template, checks
// unique fields and inserts the document. Nothing is written unless both
// pass.
func (m *model) Create(ctx context.Context, payload map[string]any) (map[string]any, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	s := m.instantiate()
	s.Set(payload, true)

	if err := s.Validate(ctx, m.checker()); err != nil {
		return nil, err
	}
	if err := m.checkUnique(ctx, s, modepress.NilID); err != nil {
		return nil, err
	}
	if hook := m.def.Hooks.BeforeInsert; hook != nil {
		if err := hook(ctx, s); err != nil {
			return nil, err
		}
	}

	id := modepress.NewID()
	doc := modepress.Document(s.Values())
	for field, edges := range dependencyMetadata(s, m.def.EdgePolicy) {
		doc[field] = edges
	}
	doc[modepress.FieldID] = id

	zap.S().Debugw("creating document", "collection", m.def.Collection, "id", id.Hex())
	stored, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, m.storeError("insert", err)
	}
	return m.Serialize(ctx, stored, modepress.SerializeOptions{Verbose: true})
}

// Update applies a partial update. Fields missing from payload keep their
// stored value; the whole document is validated again.
func (m *model) Update(ctx context.Context, id modepress.ID, payload map[string]any) (map[string]any, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	existing, err := m.findOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, modepress.NewNotFoundError(m.def.Collection, id.Hex())
	}

	s := m.instantiate()
	s.Load(existing)
	applied := s.Set(payload, false)

	if err := s.Validate(ctx, m.checker()); err != nil {
		return nil, err
	}
	if err := m.checkUnique(ctx, s, id); err != nil {
		return nil, err
	}
	if hook := m.def.Hooks.BeforeUpdate; hook != nil {
		if err := hook(ctx, s, applied); err != nil {
			return nil, err
		}
	}

	set := make(map[string]any, len(applied)+3)
	if len(applied) > 0 {
		set = s.Values(applied...)
	}
	for _, it := range s.Items() {
		if it.Kind() == schema.KindDate && it.Date.UseNow && !it.ReadOnly {
			set[it.Name()] = it.Raw()
		}
	}
	for field, edges := range dependencyMetadata(s, m.def.EdgePolicy) {
		set[field] = edges
	}

	zap.S().Debugw("updating document", "collection", m.def.Collection, "id", id.Hex(), "fields", applied)
	if err := m.coll.UpdateOne(ctx, modepress.ByID(id), modepress.Patch{Set: set}); err != nil {
		return nil, m.storeError("update", err)
	}

	updated, err := m.findOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, modepress.NewNotFoundError(m.def.Collection, id.Hex())
	}
	return m.Serialize(ctx, updated, modepress.SerializeOptions{Verbose: true})
}

// Get returns one serialized document.
func (m *model) Get(ctx context.Context, id modepress.ID, opts modepress.SerializeOptions) (map[string]any, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	doc, err := m.findOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, modepress.NewNotFoundError(m.def.Collection, id.Hex())
	}
	out, err := m.Serialize(ctx, doc, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s/%s: %w", m.def.Collection, id.Hex(), err)
	}
	return out, nil
}
