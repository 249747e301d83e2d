package internal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lychee-technology/modepress"
)

// MemoryStore keeps collections in process. Documents are held in
// insertion order and copied on the way in and out. Matching follows the
// Mongo rules the other stores implement: equality against an array field
// matches any element, and dotted paths descend through arrays of
// sub-documents.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollectionData
}

type memoryCollectionData struct {
	docs   []modepress.Document
	unique []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollectionData)}
}

func (s *MemoryStore) Collection(name string) modepress.Collection {
	return &memoryCollection{store: s, name: name}
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// EnsureIndexes records the unique fields; inserts and updates that would
// duplicate one of them are rejected.
func (s *MemoryStore) EnsureIndexes(_ context.Context, collection string, unique, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.data(collection)
	data.unique = append([]string(nil), unique...)
	return nil
}

// data returns the collection data, creating it. Callers hold the write lock.
func (s *MemoryStore) data(name string) *memoryCollectionData {
	data, ok := s.collections[name]
	if !ok {
		data = &memoryCollectionData{}
		s.collections[name] = data
	}
	return data
}

type memoryCollection struct {
	store *MemoryStore
	name  string
}

func (c *memoryCollection) Find(ctx context.Context, cond modepress.Condition, opts modepress.FindOptions) (*modepress.FindPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	var matched []modepress.Document
	if data, ok := c.store.collections[c.name]; ok {
		for _, doc := range data.docs {
			ok, err := matchCondition(doc, cond)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, doc)
			}
		}
	}

	if len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, sf := range opts.Sort {
				cmp := compareValues(firstValue(matched[i], sf.Field), firstValue(matched[j], sf.Field))
				if cmp == 0 {
					continue
				}
				if sf.Order == modepress.SortDesc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	total := int64(len(matched))
	start := opts.Skip
	if start > total {
		start = total
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	items := make([]modepress.Document, 0, end-start)
	for _, doc := range matched[start:end] {
		items = append(items, normalizeDocument(doc))
	}
	return &modepress.FindPage{Items: items, Total: total}, nil
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc modepress.Document) (modepress.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := normalizeDocument(doc)
	id, ok := stored.ID()
	if !ok {
		id = modepress.NewID()
	}
	stored[modepress.FieldID] = id

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	data := c.store.data(c.name)

	for _, existing := range data.docs {
		if existingID, _ := existing.ID(); existingID == id {
			return nil, modepress.NewDuplicateEntryError(c.name, modepress.FieldID, id.Hex())
		}
	}
	if err := c.checkUnique(data, stored, modepress.NilID); err != nil {
		return nil, err
	}

	data.docs = append(data.docs, stored)
	return normalizeDocument(stored), nil
}

func (c *memoryCollection) UpdateOne(ctx context.Context, cond modepress.Condition, patch modepress.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	data, ok := c.store.collections[c.name]
	if !ok {
		return nil
	}

	for i, doc := range data.docs {
		match, err := matchCondition(doc, cond)
		if err != nil {
			return err
		}
		if !match {
			continue
		}

		updated := normalizeDocument(doc)
		for field, value := range patch.Set {
			updated[field] = normalizeValue(value)
		}
		for field, value := range patch.Pull {
			arr, ok := updated[field].([]any)
			if !ok {
				continue
			}
			want := normalizeValue(value)
			kept := make([]any, 0, len(arr))
			for _, e := range arr {
				if !pullMatches(e, want) {
					kept = append(kept, e)
				}
			}
			updated[field] = kept
		}

		id, _ := doc.ID()
		if err := c.checkUnique(data, updated, id); err != nil {
			return err
		}
		data.docs[i] = updated
		return nil
	}
	return nil
}

func (c *memoryCollection) DeleteMany(ctx context.Context, cond modepress.Condition) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	data, ok := c.store.collections[c.name]
	if !ok {
		return 0, nil
	}

	kept := data.docs[:0:0]
	var removed int64
	for _, doc := range data.docs {
		match, err := matchCondition(doc, cond)
		if err != nil {
			return 0, err
		}
		if match {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	data.docs = kept
	return removed, nil
}

func (c *memoryCollection) checkUnique(data *memoryCollectionData, doc modepress.Document, self modepress.ID) error {
	for _, field := range data.unique {
		value, ok := doc[field]
		if !ok || isBlank(value) {
			continue
		}
		for _, existing := range data.docs {
			if id, _ := existing.ID(); id == self && !self.IsZero() {
				continue
			}
			if valuesEqual(existing[field], value) {
				return modepress.NewDuplicateEntryError(c.name, field, value)
			}
		}
	}
	return nil
}

// pullMatches reports whether an array element is removed by a pull value.
// A map value matches sub-documents whose listed keys are all equal.
func pullMatches(elem, want any) bool {
	if wantMap, ok := want.(map[string]any); ok {
		elemMap, ok := elem.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range wantMap {
			if !valuesEqual(elemMap[k], v) {
				return false
			}
		}
		return true
	}
	return valuesEqual(elem, want)
}

// resolvePath collects the values at a dotted path, descending through
// arrays of sub-documents. A missing path yields no values.
func resolvePath(v any, parts []string) []any {
	if len(parts) == 0 {
		return []any{v}
	}
	switch val := v.(type) {
	case modepress.Document:
		return resolvePath(map[string]any(val), parts)
	case map[string]any:
		next, ok := val[parts[0]]
		if !ok {
			return nil
		}
		return resolvePath(next, parts[1:])
	case []any:
		var out []any
		for _, e := range val {
			if m, ok := e.(map[string]any); ok {
				out = append(out, resolvePath(m, parts)...)
			}
		}
		return out
	}
	return nil
}

func fieldValues(doc modepress.Document, field string) []any {
	return resolvePath(doc, strings.Split(field, "."))
}

func firstValue(doc modepress.Document, field string) any {
	values := fieldValues(doc, field)
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func matchCondition(doc modepress.Document, cond modepress.Condition) (bool, error) {
	switch c := cond.(type) {
	case nil:
		return true, nil
	case *modepress.CompositeCondition:
		if c == nil || len(c.Conditions) == 0 {
			return true, nil
		}
		for _, child := range c.Conditions {
			ok, err := matchCondition(doc, child)
			if err != nil {
				return false, err
			}
			if c.Logic == modepress.LogicOr && ok {
				return true, nil
			}
			if c.Logic != modepress.LogicOr && !ok {
				return false, nil
			}
		}
		return c.Logic != modepress.LogicOr, nil
	case *modepress.FieldCondition:
		if c == nil {
			return true, nil
		}
		return matchField(doc, c)
	}
	return false, fmt.Errorf("unsupported condition type %T", cond)
}

func matchField(doc modepress.Document, c *modepress.FieldCondition) (bool, error) {
	values := fieldValues(doc, c.Field)
	switch c.Op {
	case modepress.OpEq, "":
		return matchEq(values, c.Value), nil
	case modepress.OpNe:
		return !matchEq(values, c.Value), nil
	case modepress.OpIn:
		options, ok := normalizeValue(c.Value).([]any)
		if !ok {
			return false, fmt.Errorf("operator 'in' on '%s' requires an array value", c.Field)
		}
		for _, option := range options {
			if matchEq(values, option) {
				return true, nil
			}
		}
		return false, nil
	case modepress.OpRegex, modepress.OpIRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("operator '%s' on '%s' requires a string pattern", c.Op, c.Field)
		}
		if c.Op == modepress.OpIRegex {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern for '%s': %w", c.Field, err)
		}
		for _, v := range values {
			if matchRegex(re, v) {
				return true, nil
			}
		}
		return false, nil
	case modepress.OpExists:
		want, _ := c.Value.(bool)
		return (len(values) > 0) == want, nil
	}
	return false, fmt.Errorf("unsupported operator: %s", c.Op)
}

// matchEq matches a value against the candidates at a path. Arrays match
// when any element or the whole array is equal; nil matches null or missing.
func matchEq(values []any, want any) bool {
	want = normalizeValue(want)
	if want == nil {
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if v == nil {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if arr, ok := v.([]any); ok {
			if valuesEqual(arr, want) {
				return true
			}
			for _, e := range arr {
				if valuesEqual(e, want) {
					return true
				}
			}
			continue
		}
		if valuesEqual(v, want) {
			return true
		}
	}
	return false
}

func matchRegex(re *regexp.Regexp, v any) bool {
	switch val := v.(type) {
	case string:
		return re.MatchString(val)
	case []any:
		for _, e := range val {
			if s, ok := e.(string); ok && re.MatchString(s) {
				return true
			}
		}
	}
	return false
}
