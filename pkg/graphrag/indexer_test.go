package graphrag_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/mcp"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// stubEmbedder returns a deterministic low-dimensional embedding derived
// from the text's length and first-byte value, enough to exercise ranking
// without depending on a real embedding model.
type stubEmbedder struct{}

func (stubEmbedder) Embed(text string) []float64 {
	if len(text) == 0 {
		return []float64{0, 0}
	}
	return []float64{float64(len(text)), float64(text[0])}
}

func sampleSource() graphrag.SourceData {
	return graphrag.SourceData{
		Services: []types.ServiceDefinition{{Name: "orders"}, {Name: "billing"}},
		DomainEntities: []graphrag.DomainEntity{
			{Name: "Order", Service: "orders"},
		},
		Symbols: []graphrag.SymbolDef{
			{File: "orders/client.go", Name: "Client", Kind: "class"},
			{File: "billing/api.go", Name: "API", Kind: "class"},
		},
		DependencyEdges: []graphrag.DependencyEdge{
			{FromFileSymbol: "orders/client.go::Client", ToFileSymbol: "billing/api.go::API", Relation: types.RelImports},
		},
		ServiceInterfaces: map[string]types.ServiceInterface{
			"orders": {
				Service: "orders",
				Events:  []types.EventInterface{{Name: "order.created", Direction: "publishes"}},
			},
		},
	}
}

var _ = Describe("Indexer", func() {
	var idx *graphrag.Indexer

	BeforeEach(func() {
		idx = graphrag.NewIndexer(nil, stubEmbedder{}, 0)
	})

	It("builds a graph reachable through Graph()", func() {
		idx.BuildKnowledgeGraph(sampleSource())
		Expect(idx.Graph().HasNode("service::orders")).To(BeTrue())
	})

	It("assembles per-service context after a build", func() {
		idx.BuildKnowledgeGraph(sampleSource())
		out := idx.GetServiceContext("orders")
		Expect(out).To(ContainSubstring("billing"))
	})

	It("finds cross-service impact from callers", func() {
		idx.BuildKnowledgeGraph(sampleSource())
		impacted := idx.FindCrossServiceImpact("service::billing", 0)
		Expect(impacted).To(ContainElement("service::orders"))
	})

	It("flags a service with no SERVICE_CALLS edges as an orphan boundary", func() {
		src := graphrag.SourceData{Services: []types.ServiceDefinition{{Name: "isolated"}}}
		idx.BuildKnowledgeGraph(src)
		Expect(idx.ValidateServiceBoundaries()).To(ContainElement("service::isolated"))
	})

	It("reports a cross-service event publisher other than the consumer", func() {
		src := graphrag.SourceData{
			Services: []types.ServiceDefinition{{Name: "orders"}, {Name: "billing"}},
			ServiceInterfaces: map[string]types.ServiceInterface{
				"orders": {Service: "orders", Events: []types.EventInterface{{Name: "order.created", Direction: "publishes"}}},
			},
		}
		idx.BuildKnowledgeGraph(src)
		Expect(idx.CheckCrossServiceEvents("order.created", "billing")).To(BeTrue())
		Expect(idx.CheckCrossServiceEvents("order.created", "orders")).To(BeFalse())
	})

	It("returns nil from HybridSearch when no vector collection has been built", func() {
		empty := graphrag.NewIndexer(nil, nil, 0)
		empty.BuildKnowledgeGraph(sampleSource())
		Expect(empty.HybridSearch([]float64{1, 0}, 0.5, 0.5, 5)).To(BeNil())
	})

	It("blends semantic and graph scores in HybridSearch once built with an embedder", func() {
		idx.BuildKnowledgeGraph(sampleSource())
		results := idx.HybridSearch([]float64{5, 'o'}, 0.7, 0.3, 3)
		Expect(results).ToNot(BeEmpty())
	})
})

var _ = Describe("NewServer", func() {
	var idx *graphrag.Indexer
	var server *mcp.Server

	BeforeEach(func() {
		idx = graphrag.NewIndexer(nil, stubEmbedder{}, 0)
		server = graphrag.NewServer(idx)
	})

	It("exposes exactly the seven named tools", func() {
		names := map[string]bool{}
		for _, t := range server.GetCapabilities().Tools {
			names[t.Name] = true
		}
		for _, want := range []string{
			"build_knowledge_graph", "get_service_context", "query_graph_neighborhood",
			"hybrid_search", "find_cross_service_impact", "validate_service_boundaries",
			"check_cross_service_events",
		} {
			Expect(names).To(HaveKey(want))
		}
		Expect(server.GetCapabilities().Tools).To(HaveLen(7))
	})

	It("build_knowledge_graph populates the indexer's graph", func() {
		raw, _ := json.Marshal(sampleSource())
		_, err := server.HandleToolCall(context.Background(), "build_knowledge_graph", raw)
		Expect(err).ToNot(HaveOccurred())
		Expect(idx.Graph().HasNode("service::orders")).To(BeTrue())
	})

	It("get_service_context returns the assembled markdown block", func() {
		idx.BuildKnowledgeGraph(sampleSource())
		raw, _ := json.Marshal(map[string]string{"service": "orders"})
		result, err := server.HandleToolCall(context.Background(), "get_service_context", raw)
		Expect(err).ToNot(HaveOccurred())
		Expect(result).ToNot(BeNil())
	})

	It("an unknown tool name is rejected without panicking", func() {
		_, err := server.HandleToolCall(context.Background(), "not_a_tool", json.RawMessage(`{}`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("mcp.Client wrapping a graphrag server", func() {
	It("wraps a handler error as unavailable rather than surfacing it raw", func() {
		idx := graphrag.NewIndexer(nil, stubEmbedder{}, 0)
		server := graphrag.NewServer(idx)
		client := mcp.NewClient(server)

		_, err := client.CallTool(context.Background(), "build_knowledge_graph", json.RawMessage(`not-json`))
		Expect(err).To(HaveOccurred())
	})
})
