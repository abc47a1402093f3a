package graphrag

import "github.com/buildforge/buildforge/pkg/shared/types"

// QualityGateAdapter exposes the subset of Indexer the quality gate's Layer
// 3/4 scanners and fix loop consult (spec.md §4.6/§4.7), implementing
// qualitygate.GraphRAGClient without qualitygate needing to import this
// package's full surface.
type QualityGateAdapter struct {
	idx *Indexer
}

// NewQualityGateAdapter wraps idx. idx may be nil -- every method then
// returns the degrade-gracefully default (false / empty), matching "absence
// of the Graph RAG client is transparent" (spec.md §4.6).
func NewQualityGateAdapter(idx *Indexer) *QualityGateAdapter {
	return &QualityGateAdapter{idx: idx}
}

// CheckCrossServiceEvents reports whether a publisher other than
// consumerService exists for eventName.
func (a *QualityGateAdapter) CheckCrossServiceEvents(eventName, consumerService string) bool {
	if a == nil || a.idx == nil {
		return false
	}
	return a.idx.CheckCrossServiceEvents(eventName, consumerService)
}

// HasInboundServiceCalls reports whether any SERVICE_CALLS edge targets nodeID.
func (a *QualityGateAdapter) HasInboundServiceCalls(nodeID string) bool {
	if a == nil || a.idx == nil {
		return false
	}
	idx := a.idx
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, e := range idx.graph.InEdges(nodeID) {
		if e.Relation == types.RelServiceCalls {
			return true
		}
	}
	return false
}

// Dependents returns up to limit one-hop SERVICE_CALLS/CALLS callers of nodeID.
func (a *QualityGateAdapter) Dependents(nodeID string, limit int) []string {
	if a == nil || a.idx == nil {
		return nil
	}
	return a.idx.FindCrossServiceImpact(nodeID, limit)
}
