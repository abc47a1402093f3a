package graphrag

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/buildforge/buildforge/pkg/orchestration/dependency"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Embedder produces a vector embedding for a piece of text. Swappable so
// tests can supply a deterministic stub instead of a real embedding model.
type Embedder interface {
	Embed(text string) []float64
}

// Indexer runs the five-phase build pipeline of spec.md §4.5 and serves the
// resulting graph and vector collections to callers (typically through
// Server, the MCP-facing wrapper in server.go).
type Indexer struct {
	mu sync.RWMutex

	logger   *zap.Logger
	embedder Embedder

	graph               *Graph
	nodeDescriptions    *VectorCollection
	contextSummaries    *VectorCollection
	serviceInterfaces   map[string]types.ServiceInterface
	contextTokenBudget  int

	// vectorFallback is exposed through VectorFallback for registration
	// with a dependency.DependencyManager; HybridSearch does not consult it.
	vectorFallback *dependency.InMemoryVectorFallback

	cache *ContextCache
	runID string

	// store persists snapshots and vector collections to SQLite (spec.md
	// §4.1, §4.5 phase 5); nil means every build stays in-memory only.
	store *Store
}

// SetStore wires a Store each BuildKnowledgeGraph call persists its
// snapshot and (when an embedder is configured) vector collections to.
// Persistence failures are logged, never returned -- a build that can't
// persist still serves from memory, matching this package's other
// absent-dependency postures.
func (idx *Indexer) SetStore(store *Store) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.store = store
}

// SetCache wires a Redis-backed context cache and the run ID used to key it.
// A nil cache (or never calling SetCache) leaves GetServiceContext always
// assembling fresh, which is correct and safe -- just uncached.
func (idx *Indexer) SetCache(cache *ContextCache, runID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cache = cache
	idx.runID = runID
}

// NewIndexer returns an Indexer with empty graph/collections. logger and
// embedder may be nil; a nil embedder means BuildKnowledgeGraph skips
// vector-collection population (callers must supply one to exercise
// search).
func NewIndexer(logger *zap.Logger, embedder Embedder, contextTokenBudget int) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if contextTokenBudget <= 0 {
		contextTokenBudget = defaultContextTokenBudget
	}
	return &Indexer{
		logger:             logger,
		embedder:           embedder,
		graph:              NewGraph(),
		nodeDescriptions:   NewVectorCollection(),
		contextSummaries:   NewVectorCollection(),
		serviceInterfaces:  map[string]types.ServiceInterface{},
		contextTokenBudget: contextTokenBudget,
		vectorFallback:     dependency.NewInMemoryVectorFallback(logger),
	}
}

// VectorFallback returns the Indexer's in-memory vector fallback, for
// registration with a dependency.DependencyManager. The Indexer's own
// searches never read from it.
func (idx *Indexer) VectorFallback() *dependency.InMemoryVectorFallback {
	return idx.vectorFallback
}

// BuildKnowledgeGraph runs all five phases synchronously (spec.md §4.5):
// construct the multigraph and synthesized edges, compute PageRank and
// Louvain communities, then rebuild both vector collections from scratch.
func (idx *Indexer) BuildKnowledgeGraph(src SourceData) *Graph {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g := Build(src)
	g.ComputePageRank()
	g.ComputeLouvainCommunities()

	idx.graph = g
	idx.serviceInterfaces = src.ServiceInterfaces

	if idx.embedder != nil {
		idx.rebuildVectorCollectionsLocked(src)
	}

	if idx.store != nil {
		if err := idx.store.SaveSnapshot(context.Background(), idx.runID, g); err != nil {
			idx.logger.Warn("graph rag snapshot persistence failed", zap.Error(err))
		}
	}

	if idx.cache != nil {
		names := make([]string, 0, len(src.Services))
		for _, svc := range src.Services {
			names = append(names, svc.Name)
		}
		idx.cache.Invalidate(context.Background(), idx.runID, names)
	}

	idx.logger.Info("knowledge graph built",
		zap.Int("nodes", len(g.Nodes())), zap.Int("edges", len(g.Edges())))
	return g
}

func (idx *Indexer) rebuildVectorCollectionsLocked(src SourceData) {
	descriptions := make([]VectorRecord, 0, len(idx.graph.Nodes()))
	for _, n := range idx.graph.Nodes() {
		descriptions = append(descriptions, VectorRecord{
			ID:        n.ID,
			Embedding: idx.embedder.Embed(string(n.Type) + " " + n.ID),
			Metadata:  map[string]interface{}{"node_type": string(n.Type)},
		})
	}
	idx.nodeDescriptions.Rebuild(descriptions)

	summaries := make([]VectorRecord, 0, len(src.Services))
	for _, svc := range src.Services {
		context := idx.graph.AssembleServiceContext(svc.Name, src.ServiceInterfaces[svc.Name], idx.contextTokenBudget)
		serviceID := NodeID(types.NodeService, svc.Name)
		summaries = append(summaries, VectorRecord{
			ID:        serviceID,
			Embedding: idx.embedder.Embed(context),
			Metadata:  map[string]interface{}{"service": svc.Name},
		})
	}
	idx.contextSummaries.Rebuild(summaries)

	if idx.store != nil {
		bgCtx := context.Background()
		if err := idx.store.SaveVectorCollection(bgCtx, "node_descriptions", idx.nodeDescriptions); err != nil {
			idx.logger.Warn("node description collection persistence failed", zap.Error(err))
		}
		if err := idx.store.SaveVectorCollection(bgCtx, "context_summaries", idx.contextSummaries); err != nil {
			idx.logger.Warn("context summary collection persistence failed", zap.Error(err))
		}
	}
}

// Graph returns the current graph (read-only use expected by callers).
func (idx *Indexer) Graph() *Graph {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph
}

// GetServiceContext assembles the markdown context block for service,
// using the service interface captured at the last BuildKnowledgeGraph call.
// When a cache is configured (SetCache), a hit for this run/service short-
// circuits assembly entirely.
func (idx *Indexer) GetServiceContext(service string) string {
	idx.mu.RLock()
	cache, runID := idx.cache, idx.runID
	idx.mu.RUnlock()

	if cache != nil {
		if cached, ok := cache.Get(context.Background(), runID, service); ok {
			return cached
		}
	}

	idx.mu.RLock()
	body := idx.graph.AssembleServiceContext(service, idx.serviceInterfaces[service], idx.contextTokenBudget)
	idx.mu.RUnlock()

	if cache != nil {
		cache.Set(context.Background(), runID, service, body)
	}
	return body
}

// QueryGraphNeighborhood returns every node directly connected to nodeID,
// regardless of edge direction.
func (idx *Indexer) QueryGraphNeighborhood(nodeID string) []*types.GraphNode {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := map[string]bool{nodeID: true}
	var out []*types.GraphNode
	for _, e := range idx.graph.OutEdges(nodeID) {
		if !seen[e.Target] {
			seen[e.Target] = true
			out = append(out, idx.graph.Node(e.Target))
		}
	}
	for _, e := range idx.graph.InEdges(nodeID) {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, idx.graph.Node(e.Source))
		}
	}
	return out
}

// HybridSearch blends a semantic vector-similarity score with a graph
// distance score, weighted by semanticWeight/graphWeight (which must sum to
// <= 1, per spec.md §6's config schema), and ranks results by the blended
// score. If the node-description collection was never built (no embedder
// configured), it returns nil; the in-memory fallback is not consulted.
func (idx *Indexer) HybridSearch(query []float64, semanticWeight, graphWeight float64, limit int) []SimilarityResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.nodeDescriptions.Count() == 0 {
		return nil
	}
	semanticResults := idx.nodeDescriptions.Search(query, limit*4)

	scored := make([]SimilarityResult, 0, len(semanticResults))
	for _, r := range semanticResults {
		graphScore := idx.graphCentralityScore(r.ID)
		blended := semanticWeight*r.Similarity + graphWeight*graphScore
		scored = append(scored, SimilarityResult{ID: r.ID, Similarity: blended, Metadata: r.Metadata})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func (idx *Indexer) graphCentralityScore(nodeID string) float64 {
	node := idx.graph.Node(nodeID)
	if node == nil || node.Attributes == nil {
		return 0
	}
	if pr, ok := node.Attributes["pagerank"].(float64); ok {
		return pr
	}
	return 0
}

// FindCrossServiceImpact returns the one-hop set of nodes a change to
// nodeID would ripple into via SERVICE_CALLS or CALLS edges, used by the
// Fix Loop's "Dependencies Warning" section (spec.md §4.7) and the Quality
// Gate's priority-boost check (spec.md §4.7 step 1).
func (idx *Indexer) FindCrossServiceImpact(nodeID string, limit int) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var impacted []string
	for _, e := range idx.graph.InEdges(nodeID) {
		if e.Relation == types.RelServiceCalls || e.Relation == types.RelCalls {
			impacted = append(impacted, e.Source)
		}
	}
	if limit > 0 && len(impacted) > limit {
		impacted = impacted[:limit]
	}
	return impacted
}

// ValidateServiceBoundaries reports services with no SERVICE_CALLS edges in
// either direction -- orphan services the Quality Gate's ADV-003
// orphan-service check consults (spec.md §4.6 layer 4).
func (idx *Indexer) ValidateServiceBoundaries() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var orphans []string
	for _, n := range idx.graph.Nodes() {
		if n.Type != types.NodeService {
			continue
		}
		connected := false
		for _, e := range idx.graph.Edges() {
			if e.Relation != types.RelServiceCalls {
				continue
			}
			if e.Source == n.ID || e.Target == n.ID {
				connected = true
				break
			}
		}
		if !connected {
			orphans = append(orphans, n.ID)
		}
	}
	return orphans
}

// CheckCrossServiceEvents reports whether any service other than
// consumerService publishes eventName, used to suppress ADV-001 (dead
// event handler) false positives when a cross-service publisher exists
// (spec.md §4.6 layer 4).
func (idx *Indexer) CheckCrossServiceEvents(eventName, consumerService string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	eventID := NodeID(types.NodeEvent, eventName)
	for _, e := range idx.graph.InEdges(eventID) {
		if e.Relation != types.RelPublishesEvent {
			continue
		}
		if e.Source != NodeID(types.NodeService, consumerService) {
			return true
		}
	}
	return false
}
