// Package schema defines typed document fields and the templates composed from them.
package schema

import (
	"context"
	"fmt"

	"github.com/lychee-technology/modepress"
)

// Schema is an ordered set of uniquely named items. Models keep one schema
// as an immutable template and work on clones.
type Schema struct {
	items []*Item
	index map[string]int
}

func New(items ...*Item) (*Schema, error) {
	s := &Schema{index: make(map[string]int, len(items))}
	for _, it := range items {
		if _, err := s.Add(it); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustNew is New for static templates; it panics on duplicate names.
func MustNew(items ...*Item) *Schema {
	s, err := New(items...)
	if err != nil {
		panic(err)
	}
	return s
}

// Add registers item under its name.
func (s *Schema) Add(item *Item) (*Item, error) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if item.name == "" || item.name == modepress.FieldID {
		return nil, modepress.NewSchemaError(modepress.ErrCodeSchemaInvalid,
			fmt.Sprintf("invalid item name '%s'", item.name))
	}
	if _, exists := s.index[item.name]; exists {
		return nil, modepress.NewSchemaError(modepress.ErrCodeDuplicateField,
			fmt.Sprintf("item '%s' already exists", item.name)).WithField(item.name)
	}
	s.index[item.name] = len(s.items)
	s.items = append(s.items, item)
	return item, nil
}

// Clone returns a deep copy sharing no items with s.
func (s *Schema) Clone() *Schema {
	c := &Schema{
		items: make([]*Item, len(s.items)),
		index: make(map[string]int, len(s.index)),
	}
	for i, it := range s.items {
		c.items[i] = it.Clone()
		c.index[it.name] = i
	}
	return c
}

// Item returns the named item or nil.
func (s *Schema) Item(name string) *Item {
	if i, ok := s.index[name]; ok {
		return s.items[i]
	}
	return nil
}

// Items returns the items in insertion order.
func (s *Schema) Items() []*Item {
	return append([]*Item(nil), s.items...)
}

func (s *Schema) Names() []string {
	names := make([]string, len(s.items))
	for i, it := range s.items {
		names[i] = it.name
	}
	return names
}

// Set overlays payload values onto matching items and returns the applied
// keys in schema order. Unknown keys are ignored, as are read-only items
// unless includeReadOnly is set.
func (s *Schema) Set(payload map[string]any, includeReadOnly bool) []string {
	applied := make([]string, 0, len(payload))
	for _, it := range s.items {
		v, ok := payload[it.name]
		if !ok {
			continue
		}
		if it.ReadOnly && !includeReadOnly {
			continue
		}
		it.Set(v)
		applied = append(applied, it.name)
	}
	return applied
}

// Load assigns stored document values to the matching items.
func (s *Schema) Load(doc map[string]any) {
	for _, it := range s.items {
		if v, ok := doc[it.name]; ok {
			it.Load(v)
		}
	}
}

// Validate validates every item and reports all failures together.
func (s *Schema) Validate(ctx context.Context, checker modepress.ReferenceChecker) error {
	errs := modepress.NewValidationErrors()
	for _, it := range s.items {
		if err := it.Validate(ctx, checker); err != nil {
			errs.Add(it.name, err)
		}
	}
	return errs.ToError()
}

// SerializeOptions controls Serialize.
type SerializeOptions struct {
	Sanitize bool
}

// Serialize projects every item into a plain map.
func (s *Schema) Serialize(opts SerializeOptions) map[string]any {
	out := make(map[string]any, len(s.items))
	for _, it := range s.items {
		out[it.name] = it.Value(ValueOptions{Sanitize: opts.Sanitize})
	}
	return out
}

// Values returns the raw value of each named item, for store writes.
func (s *Schema) Values(names ...string) map[string]any {
	if len(names) == 0 {
		names = s.Names()
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if it := s.Item(name); it != nil {
			out[name] = cloneValue(it.value)
		}
	}
	return out
}

func (s *Schema) UniqueFieldNames() []string {
	var names []string
	for _, it := range s.items {
		if it.Unique {
			names = append(names, it.name)
		}
	}
	return names
}

func (s *Schema) IndexableFieldNames() []string {
	var names []string
	for _, it := range s.items {
		if it.Indexable {
			names = append(names, it.name)
		}
	}
	return names
}

// References returns the foreign key and id-array items that name a target collection.
func (s *Schema) References() []*Item {
	var refs []*Item
	for _, it := range s.items {
		if (it.kind == KindForeignKey || it.kind == KindIDArray) && it.Ref.TargetCollection != "" {
			refs = append(refs, it)
		}
	}
	return refs
}
