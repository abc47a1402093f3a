package graphrag_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

const sampleOpenAPI = `{
  "openapi": "3.0.0",
  "info": {"title": "orders", "version": "1.0"},
  "paths": {
    "/orders": {
      "get": {"responses": {"200": {"description": "ok"}}}
    }
  }
}`

var _ = Describe("Build", func() {
	It("adds a node per service", func() {
		src := graphrag.SourceData{
			Services: []types.ServiceDefinition{{Name: "orders", Language: "go"}},
		}
		g := graphrag.Build(src)
		Expect(g.HasNode("service::orders")).To(BeTrue())
	})

	It("adds an OWNS_ENTITY edge from service to its domain entities", func() {
		src := graphrag.SourceData{
			Services:       []types.ServiceDefinition{{Name: "orders"}},
			DomainEntities: []graphrag.DomainEntity{{Name: "Order", Service: "orders"}},
		}
		g := graphrag.Build(src)
		Expect(g.HasEdge("service::orders", "domain_entity::orders/Order", types.RelOwnsEntity)).To(BeTrue())
	})

	It("synthesizes SERVICE_CALLS when one service's file imports another's", func() {
		src := graphrag.SourceData{
			Services: []types.ServiceDefinition{{Name: "orders"}, {Name: "billing"}},
			Symbols: []graphrag.SymbolDef{
				{File: "orders/client.go", Name: "Client", Kind: "class"},
				{File: "billing/api.go", Name: "API", Kind: "class"},
			},
			DependencyEdges: []graphrag.DependencyEdge{
				{FromFileSymbol: "orders/client.go::Client", ToFileSymbol: "billing/api.go::API", Relation: types.RelImports},
			},
		}
		g := graphrag.Build(src)
		Expect(g.HasEdge("service::orders", "service::billing", types.RelServiceCalls)).To(BeTrue())
	})

	It("excludes shared-util prefixes from SERVICE_CALLS synthesis", func() {
		src := graphrag.SourceData{
			Services: []types.ServiceDefinition{{Name: "orders"}},
			DependencyEdges: []graphrag.DependencyEdge{
				{FromFileSymbol: "orders/client.go::Client", ToFileSymbol: "shared/util.go::Helper", Relation: types.RelImports},
			},
		}
		g := graphrag.Build(src)
		var serviceCalls []*types.GraphEdge
		for _, e := range g.Edges() {
			if e.Relation == types.RelServiceCalls {
				serviceCalls = append(serviceCalls, e)
			}
		}
		Expect(serviceCalls).To(BeEmpty())
	})

	It("parses OpenAPI paths into endpoint nodes exposed by the service", func() {
		src := graphrag.SourceData{
			Services:   []types.ServiceDefinition{{Name: "orders"}},
			OpenAPIDocs: map[string][]byte{"orders": []byte(sampleOpenAPI)},
		}
		g := graphrag.Build(src)
		Expect(g.HasEdge("service::orders", "endpoint::orders:GET /orders", types.RelExposesEndpoint)).To(BeTrue())
	})

	It("adds PUBLISHES_EVENT and CONSUMES_EVENT edges from service interfaces", func() {
		src := graphrag.SourceData{
			Services: []types.ServiceDefinition{{Name: "orders"}},
			ServiceInterfaces: map[string]types.ServiceInterface{
				"orders": {
					Service: "orders",
					Events: []types.EventInterface{
						{Name: "order.created", Direction: "publishes"},
						{Name: "payment.settled", Direction: "consumes"},
					},
				},
			},
		}
		g := graphrag.Build(src)
		Expect(g.HasEdge("service::orders", "event::order.created", types.RelPublishesEvent)).To(BeTrue())
		Expect(g.HasEdge("service::orders", "event::payment.settled", types.RelConsumesEvent)).To(BeTrue())
	})

	It("derives IMPLEMENTS_ENTITY by normalized name match", func() {
		src := graphrag.SourceData{
			Services:       []types.ServiceDefinition{{Name: "orders"}},
			DomainEntities: []graphrag.DomainEntity{{Name: "Order", Service: "orders"}},
			Symbols: []graphrag.SymbolDef{
				{File: "orders/service.go", Name: "OrderService", Kind: "class"},
			},
		}
		g := graphrag.Build(src)
		Expect(g.HasEdge("symbol::orders/service.go::OrderService", "domain_entity::orders/Order", types.RelImplementsEntity)).To(BeTrue())
	})
})
