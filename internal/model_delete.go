package internal

import (
	"context"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

// Delete removes every document matching cond and then cascades to their
// dependents. Cascade failures are counted in the result and never undo
// the delete.
func (m *model) Delete(ctx context.Context, cond modepress.Condition) (*modepress.DeleteResult, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	page, err := m.coll.Find(ctx, cond, modepress.FindOptions{})
	if err != nil {
		return nil, m.storeError("find", err)
	}

	result := &modepress.DeleteResult{}
	if len(page.Items) == 0 {
		return result, nil
	}

	ids := make([]modepress.ID, 0, len(page.Items))
	for _, doc := range page.Items {
		if id, ok := doc.ID(); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return result, nil
	}

	removed, err := m.coll.DeleteMany(ctx, modepress.ByIDs(ids))
	if err != nil {
		return nil, m.storeError("delete", err)
	}
	result.RemovedCount = removed
	zap.S().Debugw("deleted documents", "collection", m.def.Collection, "count", removed)

	if !m.config().Reference.CascadeDelete {
		return result, nil
	}

	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = Node{Collection: m.def.Collection, ID: id}
	}
	m.registry.resolver.Resolve(ctx, nodes, result)
	if result.CascadeFailures > 0 {
		zap.S().Warnw("cascade finished with failures", "collection", m.def.Collection, "failures", result.CascadeFailures)
	}
	return result, nil
}
