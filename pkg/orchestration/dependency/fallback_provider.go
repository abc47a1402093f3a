package dependency

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/buildforge/buildforge/internal/errors"
)

// FallbackProvider is a best-effort, in-process substitute for an external
// dependency. Implementations never return an error for a missing match;
// they only fail on malformed input.
type FallbackProvider interface {
	ProvideFallback(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error)
	GetMetrics() FallbackMetrics
}

// FallbackMetrics tracks how much load a fallback has absorbed. The status
// API's /health reports only fallback names, not these counts.
type FallbackMetrics struct {
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
	FallbacksProvided    int64
}

func (m *FallbackMetrics) recordOp(err error) {
	m.TotalOperations++
	m.FallbacksProvided++
	if err != nil {
		m.FailedOperations++
	} else {
		m.SuccessfulOperations++
	}
}

// VectorSearchResult is one hit from InMemoryVectorFallback's similarity search.
type VectorSearchResult struct {
	ID         string
	Similarity float64
	Metadata   map[string]interface{}
}

type storedVector struct {
	id       string
	vector   []float64
	metadata map[string]interface{}
}

// InMemoryVectorFallback substitutes for the Graph RAG vector store (spec.md
// §4.5) when it is unreachable: cosine-similarity search over vectors held
// only for the life of the process.
type InMemoryVectorFallback struct {
	mu      sync.Mutex
	logger  *zap.Logger
	vectors []storedVector
	metrics FallbackMetrics
}

// NewInMemoryVectorFallback returns an empty vector fallback. logger may be nil.
func NewInMemoryVectorFallback(logger *zap.Logger) *InMemoryVectorFallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorFallback{logger: logger}
}

func (f *InMemoryVectorFallback) GetMetrics() FallbackMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

// CalculateSimilarity returns the cosine similarity of a and b, or 0 if
// either vector has zero magnitude or the vectors differ in length.
func (f *InMemoryVectorFallback) CalculateSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ProvideFallback handles "store" and "search" operations.
func (f *InMemoryVectorFallback) ProvideFallback(_ context.Context, operation string, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch operation {
	case "store":
		result, err := f.storeLocked(params)
		f.metrics.recordOp(err)
		return result, err
	case "search":
		result, err := f.searchLocked(params)
		f.metrics.recordOp(err)
		return result, err
	default:
		err := errors.New(errors.ErrorTypeValidation, fmt.Sprintf("unsupported vector fallback operation: %s", operation))
		f.metrics.recordOp(err)
		return nil, err
	}
}

func (f *InMemoryVectorFallback) storeLocked(params map[string]interface{}) (interface{}, error) {
	id, _ := params["id"].(string)
	vector, ok := params["vector"].([]float64)
	if !ok {
		return nil, errors.New(errors.ErrorTypeValidation, "store requires a []float64 vector")
	}
	metadata, _ := params["metadata"].(map[string]interface{})
	f.vectors = append(f.vectors, storedVector{id: id, vector: vector, metadata: metadata})
	return map[string]interface{}{"stored": true, "id": id}, nil
}

func (f *InMemoryVectorFallback) searchLocked(params map[string]interface{}) (interface{}, error) {
	query, ok := params["vector"].([]float64)
	if !ok {
		return nil, errors.New(errors.ErrorTypeValidation, "search requires a []float64 vector")
	}
	limit := 10
	if l, ok := params["limit"].(int); ok && l > 0 {
		limit = l
	}

	results := make([]VectorSearchResult, 0, len(f.vectors))
	for _, v := range f.vectors {
		sim := f.CalculateSimilarity(query, v.vector)
		results = append(results, VectorSearchResult{ID: v.id, Similarity: sim, Metadata: v.metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

