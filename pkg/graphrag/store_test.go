package graphrag_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

var _ = Describe("Store", func() {
	Describe("against a real SQLite file", func() {
		var (
			dir   string
			store *graphrag.Store
			ctx   context.Context
		)

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "graphrag-store")
			Expect(err).ToNot(HaveOccurred())
			store, err = graphrag.OpenStore(filepath.Join(dir, "graph_rag.db"))
			Expect(err).ToNot(HaveOccurred())
			ctx = context.Background()
		})

		AfterEach(func() {
			Expect(store.Close()).To(Succeed())
			os.RemoveAll(dir)
		})

		It("persists a snapshot row per build", func() {
			g := buildSampleGraph()
			Expect(store.SaveSnapshot(ctx, "run-1", g)).To(Succeed())
			Expect(store.SaveSnapshot(ctx, "run-1", g)).To(Succeed())

			n, err := store.SnapshotCount(ctx, "run-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))
		})

		It("isolates snapshot rows by run_id", func() {
			g := buildSampleGraph()
			Expect(store.SaveSnapshot(ctx, "run-a", g)).To(Succeed())

			n, err := store.SnapshotCount(ctx, "run-b")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(0))
		})

		It("round-trips a vector collection through save and load", func() {
			vc := graphrag.NewVectorCollection()
			vc.Rebuild([]graphrag.VectorRecord{
				{ID: "a", Embedding: []float64{0.1, 0.2}, Metadata: map[string]interface{}{"node_type": "service"}},
				{ID: "b", Embedding: []float64{0.3, 0.4}, Metadata: map[string]interface{}{"node_type": "service"}},
			})

			Expect(store.SaveVectorCollection(ctx, "node_descriptions", vc)).To(Succeed())

			loaded, err := store.LoadVectorCollection(ctx, "node_descriptions")
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded).To(HaveLen(2))
		})

		It("replaces rather than appends on a second save", func() {
			vc := graphrag.NewVectorCollection()
			vc.Rebuild([]graphrag.VectorRecord{{ID: "a", Embedding: []float64{0.1}}})
			Expect(store.SaveVectorCollection(ctx, "node_descriptions", vc)).To(Succeed())

			vc.Rebuild([]graphrag.VectorRecord{{ID: "b", Embedding: []float64{0.2}}})
			Expect(store.SaveVectorCollection(ctx, "node_descriptions", vc)).To(Succeed())

			loaded, err := store.LoadVectorCollection(ctx, "node_descriptions")
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded).To(HaveLen(1))
			Expect(loaded[0].ID).To(Equal("b"))
		})
	})

	Describe("against a mocked database", func() {
		var (
			store *graphrag.Store
			mock  sqlmock.Sqlmock
			ctx   context.Context
		)

		BeforeEach(func() {
			mockDB, mockSQL, err := sqlmock.New()
			Expect(err).ToNot(HaveOccurred())
			store = graphrag.FromDB(sqlx.NewDb(mockDB, "sqlmock"))
			mock = mockSQL
			ctx = context.Background()
		})

		AfterEach(func() {
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("wraps a snapshot insert failure in a store AppError", func() {
			mock.ExpectExec(`INSERT INTO graph_rag_snapshots`).WillReturnError(os.ErrClosed)

			err := store.SaveSnapshot(ctx, "run-1", buildSampleGraph())
			Expect(err).To(HaveOccurred())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeStoreIO)).To(BeTrue())
		})

		It("rolls back the vector collection transaction on a mid-batch failure", func() {
			mock.ExpectBegin()
			mock.ExpectExec(`DELETE FROM vector_records`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO vector_records`).WillReturnError(os.ErrClosed)
			mock.ExpectRollback()

			vc := graphrag.NewVectorCollection()
			vc.Rebuild([]graphrag.VectorRecord{{ID: "a", Embedding: []float64{0.1}}})

			err := store.SaveVectorCollection(ctx, "node_descriptions", vc)
			Expect(err).To(HaveOccurred())
		})
	})
})

func buildSampleGraph() *graphrag.Graph {
	return graphrag.Build(graphrag.SourceData{
		Services: []types.ServiceDefinition{{Name: "orders"}},
	})
}
