package graphrag_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

var _ = Describe("ComputePageRank", func() {
	It("assigns a higher score to the node with more incoming links", func() {
		g := graphrag.NewGraph()
		a := g.AddNode(types.NodeService, "a", nil)
		b := g.AddNode(types.NodeService, "b", nil)
		c := g.AddNode(types.NodeService, "c", nil)
		g.AddEdge(a, c, types.RelServiceCalls, nil)
		g.AddEdge(b, c, types.RelServiceCalls, nil)

		scores := g.ComputePageRank()
		Expect(scores[c]).To(BeNumerically(">", scores[a]))
		Expect(scores[c]).To(BeNumerically(">", scores[b]))
	})

	It("stores the score as a pagerank node attribute", func() {
		g := graphrag.NewGraph()
		a := g.AddNode(types.NodeService, "a", nil)
		g.ComputePageRank()
		Expect(g.Node(a).Attributes).To(HaveKey("pagerank"))
	})

	It("redistributes dangling mass instead of leaking probability", func() {
		g := graphrag.NewGraph()
		a := g.AddNode(types.NodeService, "a", nil)
		b := g.AddNode(types.NodeService, "b", nil)
		g.AddEdge(a, b, types.RelServiceCalls, nil)
		// b is dangling (no outbound edges).
		scores := g.ComputePageRank()
		total := scores[a] + scores[b]
		Expect(total).To(BeNumerically("~", 1.0, 1e-6))
	})

	It("handles an empty graph without panicking", func() {
		g := graphrag.NewGraph()
		Expect(g.ComputePageRank()).To(BeEmpty())
	})
})

var _ = Describe("ComputeLouvainCommunities", func() {
	It("groups tightly connected nodes into the same community", func() {
		g := graphrag.NewGraph()
		a := g.AddNode(types.NodeService, "a", nil)
		b := g.AddNode(types.NodeService, "b", nil)
		c := g.AddNode(types.NodeService, "c", nil)
		z := g.AddNode(types.NodeService, "z", nil)
		g.AddEdge(a, b, types.RelServiceCalls, nil)
		g.AddEdge(b, a, types.RelServiceCalls, nil)
		g.AddEdge(b, c, types.RelServiceCalls, nil)
		g.AddEdge(c, b, types.RelServiceCalls, nil)

		communities := g.ComputeLouvainCommunities()
		Expect(communities[a]).To(Equal(communities[b]))
		Expect(communities[b]).To(Equal(communities[c]))
		Expect(communities[z]).ToNot(Equal(communities[a]))
	})

	It("is deterministic across repeated runs on identical input", func() {
		build := func() *graphrag.Graph {
			g := graphrag.NewGraph()
			a := g.AddNode(types.NodeService, "a", nil)
			b := g.AddNode(types.NodeService, "b", nil)
			c := g.AddNode(types.NodeService, "c", nil)
			g.AddEdge(a, b, types.RelServiceCalls, nil)
			g.AddEdge(b, c, types.RelServiceCalls, nil)
			return g
		}
		first := build().ComputeLouvainCommunities()
		second := build().ComputeLouvainCommunities()
		Expect(first).To(Equal(second))
	})

	It("stores the result as a community node attribute", func() {
		g := graphrag.NewGraph()
		a := g.AddNode(types.NodeService, "a", nil)
		g.ComputeLouvainCommunities()
		Expect(g.Node(a).Attributes).To(HaveKey("community"))
	})
})
