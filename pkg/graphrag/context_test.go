package graphrag_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

var _ = Describe("AssembleServiceContext", func() {
	It("renders dependency, owned-entity, and consumed-API sections", func() {
		src := graphrag.SourceData{
			Services:       []types.ServiceDefinition{{Name: "orders"}, {Name: "billing"}},
			DomainEntities: []graphrag.DomainEntity{{Name: "Order", Service: "orders"}},
			DependencyEdges: []graphrag.DependencyEdge{
				{FromFileSymbol: "orders/client.go::C", ToFileSymbol: "billing/api.go::A", Relation: types.RelImports},
			},
		}
		g := graphrag.Build(src)
		iface := types.ServiceInterface{
			Service:   "orders",
			Endpoints: []types.EndpointInterface{{Method: "GET", Path: "/invoices", Provider: "billing"}},
		}
		out := g.AssembleServiceContext("orders", iface, 2000)

		Expect(out).To(ContainSubstring("Service Dependencies"))
		Expect(out).To(ContainSubstring("billing"))
		Expect(out).To(ContainSubstring("Owned Entities"))
		Expect(out).To(ContainSubstring("orders/Order"))
		Expect(out).To(ContainSubstring("APIs This Service Must Consume"))
		Expect(out).To(ContainSubstring("GET /invoices"))
	})

	It("omits empty sections entirely", func() {
		g := graphrag.NewGraph()
		g.AddNode(types.NodeService, "orders", nil)
		out := g.AssembleServiceContext("orders", types.ServiceInterface{}, 2000)
		Expect(out).ToNot(ContainSubstring("Integration Notes"))
	})

	It("drops the lowest-priority retained section first when over budget", func() {
		src := graphrag.SourceData{
			Services:       []types.ServiceDefinition{{Name: "orders"}},
			DomainEntities: []graphrag.DomainEntity{{Name: strings.Repeat("X", 50), Service: "orders"}},
		}
		g := graphrag.Build(src)
		iface := types.ServiceInterface{
			Service: "orders",
			Events:  []types.EventInterface{{Name: "order.created", Direction: "publishes"}},
		}
		// A tiny budget keeps only the highest-ranked non-empty sections.
		out := g.AssembleServiceContext("orders", iface, 1)
		Expect(out).ToNot(ContainSubstring("Events Published"))
	})

	It("truncates the last retained section with a marker when still over budget", func() {
		var entities []graphrag.DomainEntity
		for i := 0; i < 50; i++ {
			entities = append(entities, graphrag.DomainEntity{Name: strings.Repeat("E", 40), Service: "orders"})
		}
		src := graphrag.SourceData{
			Services:       []types.ServiceDefinition{{Name: "orders"}},
			DomainEntities: entities,
		}
		g := graphrag.Build(src)
		out := g.AssembleServiceContext("orders", types.ServiceInterface{Service: "orders"}, 5)
		Expect(out).To(ContainSubstring("[... truncated ...]"))
	})
})
