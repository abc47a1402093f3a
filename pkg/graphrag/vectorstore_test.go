package graphrag_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/graphrag"
)

var _ = Describe("VectorCollection", func() {
	It("Rebuild drops prior records entirely", func() {
		c := graphrag.NewVectorCollection()
		c.Rebuild([]graphrag.VectorRecord{{ID: "a", Embedding: []float64{1, 0}}})
		Expect(c.Count()).To(Equal(1))
		c.Rebuild([]graphrag.VectorRecord{{ID: "b", Embedding: []float64{0, 1}}})
		Expect(c.Count()).To(Equal(1))
		results := c.Search([]float64{0, 1}, 10)
		Expect(results).To(HaveLen(1))
		Expect(results[0].ID).To(Equal("b"))
	})

	It("Upsert adds without dropping existing records", func() {
		c := graphrag.NewVectorCollection()
		c.Rebuild([]graphrag.VectorRecord{{ID: "a", Embedding: []float64{1, 0}}})
		c.Upsert([]graphrag.VectorRecord{{ID: "b", Embedding: []float64{0, 1}}})
		Expect(c.Count()).To(Equal(2))
	})

	It("Search ranks by cosine similarity descending", func() {
		c := graphrag.NewVectorCollection()
		c.Rebuild([]graphrag.VectorRecord{
			{ID: "close", Embedding: []float64{1, 0}},
			{ID: "orthogonal", Embedding: []float64{0, 1}},
			{ID: "opposite", Embedding: []float64{-1, 0}},
		})
		results := c.Search([]float64{1, 0}, 10)
		Expect(results[0].ID).To(Equal("close"))
		Expect(results[len(results)-1].ID).To(Equal("opposite"))
	})

	It("breaks similarity ties by ascending ID", func() {
		c := graphrag.NewVectorCollection()
		c.Rebuild([]graphrag.VectorRecord{
			{ID: "z", Embedding: []float64{1, 0}},
			{ID: "a", Embedding: []float64{1, 0}},
		})
		results := c.Search([]float64{1, 0}, 10)
		Expect(results[0].ID).To(Equal("a"))
	})

	It("returns a zero similarity for mismatched or zero-magnitude vectors", func() {
		c := graphrag.NewVectorCollection()
		c.Rebuild([]graphrag.VectorRecord{{ID: "a", Embedding: []float64{0, 0}}})
		results := c.Search([]float64{1, 0}, 10)
		Expect(results[0].Similarity).To(Equal(0.0))
	})

	It("respects the limit parameter", func() {
		c := graphrag.NewVectorCollection()
		c.Rebuild([]graphrag.VectorRecord{
			{ID: "a", Embedding: []float64{1, 0}},
			{ID: "b", Embedding: []float64{1, 0}},
			{ID: "c", Embedding: []float64{1, 0}},
		})
		Expect(c.Search([]float64{1, 0}, 2)).To(HaveLen(2))
	})
})
