package internal

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lychee-technology/modepress"
)

// Find returns a page of serialized documents plus the total match count.
// Index is the number of matches to skip.
func (m *model) Find(ctx context.Context, req *modepress.FindRequest) (*modepress.FindResult, error) {
	if req == nil {
		req = &modepress.FindRequest{}
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	cond, err := m.buildCondition(req)
	if err != nil {
		return nil, err
	}

	index, limit := m.pageBounds(req.Index, req.Limit)
	sort := req.Sort
	if len(sort) == 0 {
		sort = m.def.DefaultSort
	}

	page, err := m.coll.Find(ctx, cond, modepress.FindOptions{
		Skip:  int64(index),
		Limit: int64(limit),
		Sort:  sort,
	})
	if err != nil {
		return nil, m.storeError("find", err)
	}

	data := make([]map[string]any, 0, len(page.Items))
	for _, doc := range page.Items {
		out, err := m.Serialize(ctx, doc, req.SerializeOptions)
		if err != nil {
			return nil, err
		}
		data = append(data, out)
	}
	return &modepress.FindResult{
		Data:  data,
		Count: page.Total,
		Index: index,
		Limit: limit,
	}, nil
}

// Count returns the number of documents matching cond.
func (m *model) Count(ctx context.Context, cond modepress.Condition) (int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	page, err := m.coll.Find(ctx, cond, modepress.FindOptions{Limit: 1})
	if err != nil {
		return 0, m.storeError("count", err)
	}
	return page.Total, nil
}

func (m *model) pageBounds(index, limit int) (int, int) {
	cfg := m.config().Query
	if index < 0 {
		index = 0
	}
	if limit <= 0 {
		limit = cfg.DefaultPageSize
	}
	if cfg.MaxPageSize > 0 && limit > cfg.MaxPageSize {
		limit = cfg.MaxPageSize
	}
	return index, limit
}

// buildCondition translates the structured filter of req into a condition
// tree. Unknown fields are rejected so that typos do not match everything.
func (m *model) buildCondition(req *modepress.FindRequest) (modepress.Condition, error) {
	errs := modepress.NewValidationErrors()
	var conds []modepress.Condition

	restricted := func(field string) bool {
		if !m.hiddenField(field, req.Admin) {
			return false
		}
		errs.Add(field, modepress.NewFieldError(field, fmt.Sprintf("%s cannot be used to filter %s", field, m.def.Collection)))
		return true
	}

	for _, field := range sortedKeys(req.Equals) {
		if restricted(field) {
			continue
		}
		value, err := m.coerceFilterValue(field, req.Equals[field])
		if err != nil {
			errs.Add(field, err)
			continue
		}
		conds = append(conds, modepress.Eq(field, value))
	}

	for _, field := range sortedKeys(req.Regex) {
		if restricted(field) {
			continue
		}
		if m.def.Template.Item(field) == nil {
			errs.Add(field, modepress.NewFieldError(field, fmt.Sprintf("%s is not a field of %s", field, m.def.Collection)))
			continue
		}
		pattern := req.Regex[field]
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			errs.Add(field, modepress.NewFieldError(field, fmt.Sprintf("%s has an invalid pattern: %v", field, err)))
			continue
		}
		conds = append(conds, modepress.Regex(field, pattern, true))
	}

	if req.Condition != nil {
		conditionFields(req.Condition, func(field string) { restricted(field) })
	}
	for _, sf := range req.Sort {
		restricted(sf.Field)
	}

	if errs.HasErrors() {
		return nil, errs.ToError()
	}

	if req.Search != "" {
		quoted := regexp.QuoteMeta(req.Search)
		search := make([]modepress.Condition, 0, len(m.def.SearchFields))
		for _, field := range m.def.SearchFields {
			if m.hiddenField(field, req.Admin) {
				continue
			}
			search = append(search, modepress.Regex(field, quoted, true))
		}
		if len(search) > 0 {
			conds = append(conds, modepress.Or(search...))
		}
	}

	if req.Condition != nil {
		conds = append(conds, req.Condition)
	}

	switch len(conds) {
	case 0:
		return nil, nil
	case 1:
		return conds[0], nil
	}
	return modepress.And(conds...), nil
}

// hiddenField reports whether field, or the item at the root of a dotted
// path, is withheld from non-admin callers: sensitive items and the
// dependency metadata arrays. Matching or sorting on them would reveal what
// serialization masks.
func (m *model) hiddenField(field string, admin bool) bool {
	if admin {
		return false
	}
	root, _, _ := strings.Cut(field, ".")
	switch root {
	case modepress.FieldRequiredDependencies, modepress.FieldOptionalDependencies, modepress.FieldArrayDependencies:
		return true
	}
	item := m.def.Template.Item(root)
	return item != nil && item.Sensitive
}

func conditionFields(c modepress.Condition, visit func(string)) {
	switch n := c.(type) {
	case *modepress.FieldCondition:
		if n != nil {
			visit(n.Field)
		}
	case *modepress.CompositeCondition:
		if n == nil {
			return
		}
		for _, child := range n.Conditions {
			conditionFields(child, visit)
		}
	}
}

// coerceFilterValue converts an equality value to the stored form of the
// field so that, for example, hex strings match stored ids.
func (m *model) coerceFilterValue(field string, value any) (any, error) {
	if field == modepress.FieldID {
		if id, ok := toID(value); ok {
			return id, nil
		}
		return nil, modepress.NewFieldError(field, fmt.Sprintf("Please use a valid ID for '%s'", field))
	}

	item := m.def.Template.Item(field)
	if item == nil {
		return nil, modepress.NewFieldError(field, fmt.Sprintf("%s is not a field of %s", field, m.def.Collection))
	}
	if value == nil {
		return nil, nil
	}
	working := item.Clone()
	working.Load(value)
	return working.Raw(), nil
}
