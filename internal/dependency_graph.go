package internal

import (
	"sync"

	"github.com/lychee-technology/modepress"
)

// Node identifies one stored document.
type Node struct {
	Collection string
	ID         modepress.ID
}

// Edge is a dependency recorded on a dependent document. Collection and ID
// name the referenced document; Property is the dependent's field holding
// the reference and is empty for required edges.
type Edge struct {
	Kind       modepress.DependencyKind
	Collection string
	Property   string
	ID         modepress.ID
}

// Target returns the referenced node.
func (e Edge) Target() Node {
	return Node{Collection: e.Collection, ID: e.ID}
}

func (e Edge) toMetadata() map[string]any {
	m := map[string]any{
		"collection":     e.Collection,
		modepress.FieldID: e.ID,
	}
	if e.Kind != modepress.DependencyRequired {
		m["propertyName"] = e.Property
	}
	return m
}

var dependencyKinds = []modepress.DependencyKind{
	modepress.DependencyRequired,
	modepress.DependencyOptional,
	modepress.DependencyArray,
}

// encodeEdges renders edges as the three metadata arrays. Every array is
// present so that a rewrite also clears stale edges.
func encodeEdges(edges []Edge) map[string]any {
	out := make(map[string]any, len(dependencyKinds))
	for _, kind := range dependencyKinds {
		out[kind.MetadataField()] = []any{}
	}
	for _, e := range edges {
		field := e.Kind.MetadataField()
		out[field] = append(out[field].([]any), e.toMetadata())
	}
	return out
}

// decodeEdges reads the metadata arrays of a stored document, skipping
// malformed entries.
func decodeEdges(doc modepress.Document) []Edge {
	var edges []Edge
	for _, kind := range dependencyKinds {
		raw, ok := normalizeValue(doc[kind.MetadataField()]).([]any)
		if !ok {
			continue
		}
		for _, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			id, ok := toID(m[modepress.FieldID])
			if !ok {
				continue
			}
			collection, _ := m["collection"].(string)
			property, _ := m["propertyName"].(string)
			edges = append(edges, Edge{Kind: kind, Collection: collection, Property: property, ID: id})
		}
	}
	return edges
}

// edgesTo filters edges of one kind pointing at target.
func edgesTo(edges []Edge, kind modepress.DependencyKind, target Node) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.Kind == kind && e.Collection == target.Collection && e.ID == target.ID {
			out = append(out, e)
		}
	}
	return out
}

// DependencyGraph records which collections can reference which. It is
// the collection-level shape of the edges stored on documents and limits
// a cascade to collections that can hold dependents.
type DependencyGraph struct {
	mu        sync.RWMutex
	referrers map[string]*Set[string]
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{referrers: make(map[string]*Set[string])}
}

// Link records that documents of from may reference documents of target.
func (g *DependencyGraph) Link(from, target string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.referrers[target]
	if !ok {
		set = NewSet[string]()
		g.referrers[target] = set
	}
	set.Add(from)
}

// Referrers lists the collections that may depend on target, sorted.
func (g *DependencyGraph) Referrers(target string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return SortedItems(g.referrers[target])
}
