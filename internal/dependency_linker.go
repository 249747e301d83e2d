package internal

import (
	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/schema"
)

// EdgePolicy classifies the edge a reference item records on its document.
// It sees the validated working schema, so the decision may depend on
// other fields of the same document.
type EdgePolicy func(s *schema.Schema, item *schema.Item) modepress.DependencyKind

// DefaultEdgePolicy removes dependents of required foreign keys, nullifies
// nullable ones and pulls ids out of id arrays.
func DefaultEdgePolicy(_ *schema.Schema, item *schema.Item) modepress.DependencyKind {
	if item.Kind() == schema.KindIDArray {
		return modepress.DependencyArray
	}
	if item.Ref.KeyCanBeNull {
		return modepress.DependencyOptional
	}
	return modepress.DependencyRequired
}

// buildEdges derives the outgoing edges of a validated document from its
// reference items.
func buildEdges(s *schema.Schema, policy EdgePolicy) []Edge {
	if policy == nil {
		policy = DefaultEdgePolicy
	}
	var edges []Edge
	for _, item := range s.References() {
		kind := policy(s, item)
		if kind.MetadataField() == "" {
			continue
		}
		target := item.Ref.TargetCollection
		switch v := item.Raw().(type) {
		case modepress.ID:
			if v.IsZero() {
				continue
			}
			edges = append(edges, Edge{Kind: kind, Collection: target, Property: item.Name(), ID: v})
		case []modepress.ID:
			for _, id := range v {
				edges = append(edges, Edge{Kind: kind, Collection: target, Property: item.Name(), ID: id})
			}
		}
	}
	return edges
}

// dependencyMetadata returns the metadata arrays to store with the document.
func dependencyMetadata(s *schema.Schema, policy EdgePolicy) map[string]any {
	return encodeEdges(buildEdges(s, policy))
}
