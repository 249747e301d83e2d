package internal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/schema"
)

type model struct {
	def      ModelDefinition
	registry *Registry
	coll     modepress.Collection
}

func (m *model) CollectionName() string { return m.def.Collection }

// Template returns the immutable blueprint of the model.
func (m *model) Template() *schema.Schema { return m.def.Template }

func (m *model) config() *modepress.Config { return m.registry.config }

// instantiate returns a working copy of the template owned by one operation.
func (m *model) instantiate() *schema.Schema {
	return m.def.Template.Clone()
}

func (m *model) checker() modepress.ReferenceChecker {
	if !m.config().Reference.ValidateOnWrite {
		return nil
	}
	return m.registry
}

func (m *model) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := m.config().Query.DefaultTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// storeError wraps collaborator failures that are not already typed.
func (m *model) storeError(op string, err error) error {
	var me *modepress.ModepressError
	if errors.As(err, &me) {
		return err
	}
	return modepress.NewStoreError(op, err).WithCollection(m.def.Collection)
}

func (m *model) findOne(ctx context.Context, id modepress.ID) (modepress.Document, error) {
	page, err := m.coll.Find(ctx, modepress.ByID(id), modepress.FindOptions{Limit: 1})
	if err != nil {
		return nil, m.storeError("find", err)
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	return page.Items[0], nil
}

// checkUnique fails with a duplicate entry error when another document of
// the collection holds the value of a unique field. self is excluded.
func (m *model) checkUnique(ctx context.Context, s *schema.Schema, self modepress.ID) error {
	for _, name := range s.UniqueFieldNames() {
		value := s.Item(name).Raw()
		if isBlank(value) {
			continue
		}
		var cond modepress.Condition = modepress.Eq(name, value)
		if !self.IsZero() {
			cond = modepress.And(cond, modepress.Ne(modepress.FieldID, self))
		}
		page, err := m.coll.Find(ctx, cond, modepress.FindOptions{Limit: 1})
		if err != nil {
			return m.storeError("unique check", err)
		}
		if len(page.Items) > 0 {
			zap.S().Debugw("unique field collision", "collection", m.def.Collection, "field", name)
			return modepress.NewDuplicateEntryError(m.def.Collection, name, value)
		}
	}
	return nil
}

// isBlank reports values that never collide on a unique field.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case modepress.ID:
		return val.IsZero()
	case []string:
		return len(val) == 0
	case []float64:
		return len(val) == 0
	case []modepress.ID:
		return len(val) == 0
	}
	return false
}

// Serialize projects a stored document into one of three visibility tiers:
// summary fields only, all fields masked, or all fields unmasked for admins.
func (m *model) Serialize(ctx context.Context, doc modepress.Document, opts modepress.SerializeOptions) (map[string]any, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}
	s := m.instantiate()
	s.Load(doc)
	sanitize := !opts.Admin

	var out map[string]any
	if opts.Verbose {
		out = s.Serialize(schema.SerializeOptions{Sanitize: sanitize})
	} else {
		out = make(map[string]any, len(m.def.SummaryFields)+1)
		for _, name := range m.def.SummaryFields {
			out[name] = s.Item(name).Value(schema.ValueOptions{Sanitize: sanitize})
		}
	}
	if id, ok := doc.ID(); ok {
		out[modepress.FieldID] = id
	}

	if opts.ExpandForeignKeys {
		if err := m.expand(ctx, s, out, opts); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// expand replaces reference values in out with the referenced documents,
// serialized by their own model without further expansion.
func (m *model) expand(ctx context.Context, s *schema.Schema, out map[string]any, opts modepress.SerializeOptions) error {
	nested := modepress.SerializeOptions{Verbose: opts.Verbose, Admin: opts.Admin}
	for _, item := range s.References() {
		if _, present := out[item.Name()]; !present {
			continue
		}
		if item.Sensitive && !opts.Admin {
			continue
		}
		target, ok := m.registry.lookup(item.Ref.TargetCollection)
		if !ok {
			continue
		}

		switch v := item.Raw().(type) {
		case modepress.ID:
			if v.IsZero() {
				continue
			}
			doc, err := target.findOne(ctx, v)
			if err != nil {
				return err
			}
			if doc == nil {
				out[item.Name()] = nil
				continue
			}
			expanded, err := target.Serialize(ctx, doc, nested)
			if err != nil {
				return err
			}
			out[item.Name()] = expanded
		case []modepress.ID:
			if len(v) == 0 {
				out[item.Name()] = []map[string]any{}
				continue
			}
			page, err := target.coll.Find(ctx, modepress.ByIDs(v), modepress.FindOptions{})
			if err != nil {
				return target.storeError("find", err)
			}
			byID := make(map[modepress.ID]modepress.Document, len(page.Items))
			for _, doc := range page.Items {
				if id, ok := doc.ID(); ok {
					byID[id] = doc
				}
			}
			list := make([]map[string]any, 0, len(v))
			for _, id := range v {
				doc, ok := byID[id]
				if !ok {
					continue
				}
				expanded, err := target.Serialize(ctx, doc, nested)
				if err != nil {
					return err
				}
				list = append(list, expanded)
			}
			out[item.Name()] = list
		}
	}
	return nil
}
