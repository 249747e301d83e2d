package internal

import (
	"context"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

// CascadeResolver applies referential actions to the dependents of deleted
// documents. Each step is a separate store write; a failed step is logged
// and counted, and steps already applied stay applied.
type CascadeResolver struct {
	store    modepress.Store
	graph    *DependencyGraph
	maxDepth int
}

func NewCascadeResolver(store modepress.Store, graph *DependencyGraph, maxDepth int) *CascadeResolver {
	return &CascadeResolver{store: store, graph: graph, maxDepth: maxDepth}
}

// Resolve cascades from documents that were already removed from their
// collection and adds the outcome to result.
func (r *CascadeResolver) Resolve(ctx context.Context, removed []Node, result *modepress.DeleteResult) {
	visited := NewSet[Node]()
	for _, n := range removed {
		visited.Add(n)
	}
	for _, n := range removed {
		r.cascade(ctx, n, 1, visited, result)
	}
}

func (r *CascadeResolver) cascade(ctx context.Context, target Node, depth int, visited *Set[Node], result *modepress.DeleteResult) {
	if r.maxDepth > 0 && depth > r.maxDepth {
		zap.S().Warnw("cascade depth exceeded", "collection", target.Collection, "id", target.ID.Hex(), "maxDepth", r.maxDepth)
		result.CascadeFailures++
		EmitCascade(ctx, target.Collection, "failure", 1)
		return
	}

	for _, referrer := range r.graph.Referrers(target.Collection) {
		coll := r.store.Collection(referrer)

		removed := r.removeRequired(ctx, coll, referrer, target, visited, result)
		for _, n := range removed {
			r.cascade(ctx, n, depth+1, visited, result)
		}
		r.nullifyOptional(ctx, coll, referrer, target, result)
		r.pullArray(ctx, coll, referrer, target, result)
	}
}

// dependents finds documents of coll holding an edge of kind to target.
func (r *CascadeResolver) dependents(ctx context.Context, coll modepress.Collection, kind modepress.DependencyKind, target Node) ([]modepress.Document, error) {
	page, err := coll.Find(ctx, modepress.Eq(kind.MetadataField()+"."+modepress.FieldID, target.ID), modepress.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]modepress.Document, 0, len(page.Items))
	for _, doc := range page.Items {
		if len(edgesTo(decodeEdges(doc), kind, target)) > 0 {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *CascadeResolver) fail(ctx context.Context, collection string, target Node, msg string, err error, result *modepress.DeleteResult) {
	cerr := modepress.NewCascadeError(collection, target.ID, msg, err)
	zap.S().Errorw("cascade step failed", "collection", collection, "target", target.Collection, "id", target.ID.Hex(), "error", cerr)
	result.CascadeFailures++
	EmitCascade(ctx, collection, "failure", 1)
}

func (r *CascadeResolver) removeRequired(ctx context.Context, coll modepress.Collection, collection string, target Node, visited *Set[Node], result *modepress.DeleteResult) []Node {
	docs, err := r.dependents(ctx, coll, modepress.DependencyRequired, target)
	if err != nil {
		r.fail(ctx, collection, target, "failed to find required dependents", err, result)
		return nil
	}

	var (
		ids   []modepress.ID
		nodes []Node
	)
	for _, doc := range docs {
		id, ok := doc.ID()
		if !ok {
			continue
		}
		n := Node{Collection: collection, ID: id}
		if !visited.Add(n) {
			continue
		}
		ids = append(ids, id)
		nodes = append(nodes, n)
	}
	if len(ids) == 0 {
		return nil
	}

	count, err := coll.DeleteMany(ctx, modepress.ByIDs(ids))
	if err != nil {
		r.fail(ctx, collection, target, "failed to remove required dependents", err, result)
		return nil
	}
	zap.S().Debugw("cascade removed dependents", "collection", collection, "target", target.Collection, "id", target.ID.Hex(), "count", count)
	result.CascadeRemoved += count
	EmitCascade(ctx, collection, "remove", count)
	return nodes
}

func (r *CascadeResolver) nullifyOptional(ctx context.Context, coll modepress.Collection, collection string, target Node, result *modepress.DeleteResult) {
	docs, err := r.dependents(ctx, coll, modepress.DependencyOptional, target)
	if err != nil {
		r.fail(ctx, collection, target, "failed to find optional dependents", err, result)
		return
	}
	for _, doc := range docs {
		id, _ := doc.ID()
		set := make(map[string]any)
		for _, e := range edgesTo(decodeEdges(doc), modepress.DependencyOptional, target) {
			if e.Property != "" {
				set[e.Property] = nil
			}
		}
		patch := modepress.Patch{
			Set:  set,
			Pull: map[string]any{modepress.FieldOptionalDependencies: edgeMatcher(target)},
		}
		if err := coll.UpdateOne(ctx, modepress.ByID(id), patch); err != nil {
			r.fail(ctx, collection, target, "failed to nullify "+id.Hex(), err, result)
			continue
		}
		result.CascadeNullified++
		EmitCascade(ctx, collection, "nullify", 1)
	}
}

func (r *CascadeResolver) pullArray(ctx context.Context, coll modepress.Collection, collection string, target Node, result *modepress.DeleteResult) {
	docs, err := r.dependents(ctx, coll, modepress.DependencyArray, target)
	if err != nil {
		r.fail(ctx, collection, target, "failed to find array dependents", err, result)
		return
	}
	for _, doc := range docs {
		id, _ := doc.ID()
		pull := map[string]any{modepress.FieldArrayDependencies: edgeMatcher(target)}
		for _, e := range edgesTo(decodeEdges(doc), modepress.DependencyArray, target) {
			if e.Property != "" {
				pull[e.Property] = target.ID
			}
		}
		if err := coll.UpdateOne(ctx, modepress.ByID(id), modepress.Patch{Pull: pull}); err != nil {
			r.fail(ctx, collection, target, "failed to pull from "+id.Hex(), err, result)
			continue
		}
		result.CascadePulled++
		EmitCascade(ctx, collection, "pull", 1)
	}
}

// edgeMatcher matches metadata entries pointing at target.
func edgeMatcher(target Node) map[string]any {
	return map[string]any{
		"collection":      target.Collection,
		modepress.FieldID: target.ID,
	}
}
