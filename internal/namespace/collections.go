package namespace

import (
	"context"

	"github.com/conclavehq/conclave/internal/rag/store"
	"github.com/conclavehq/conclave/pkg/models"
)

// Collections is a namespace-bound view over the knowledge graph and
// document store. Tools receive a Collections value instead of the raw
// stores so they never have to thread a namespace argument through their
// own calls, per §4.10's withNamespace(ns) contract.
type Collections struct {
	ns    string
	graph store.GraphStore
	docs  store.DocumentStore
}

// NewCollections binds graph and docs to ns. Either store may be nil if the
// run has no use for it. The methods do not check for a nil store: calling
// one backed by a nil store panics.
func NewCollections(ns string, graph store.GraphStore, docs store.DocumentStore) Collections {
	return Collections{ns: ns, graph: graph, docs: docs}
}

// WithNamespace returns a Collections bound to a different namespace over
// the same underlying stores, per §4.10.
func (c Collections) WithNamespace(ns string) Collections {
	c.ns = ns
	return c
}

// Namespace returns the bound namespace.
func (c Collections) Namespace() string { return c.ns }

// CreateNode inserts node into the bound namespace, overwriting any
// namespace the caller set on it directly.
func (c Collections) CreateNode(ctx context.Context, node *models.KnowledgeNode) error {
	node.Namespace = c.ns
	return c.graph.CreateNode(ctx, node)
}

// CreateEdge inserts edge; edges carry no namespace of their own (they
// inherit scope from their endpoint nodes).
func (c Collections) CreateEdge(ctx context.Context, edge *models.KnowledgeEdge) error {
	return c.graph.CreateEdge(ctx, edge)
}

// SearchNodes searches the bound namespace, ignoring any namespace set on
// req directly.
func (c Collections) SearchNodes(ctx context.Context, req *models.SearchRequest, embedding []float32) ([]*models.SearchResult, error) {
	req.Namespace = c.ns
	return c.graph.SearchNodes(ctx, req, embedding)
}

// Documents returns the namespace-scoped document store. Conclave's
// DocumentStore is not itself namespace-partitioned (documents scope by
// agent/session/channel metadata instead, per rag/store.ListOptions), so
// this is a pass-through kept for symmetry with the graph view.
func (c Collections) Documents() store.DocumentStore {
	return c.docs
}
