package statestore_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/buildforge/buildforge/internal/statestore"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

var _ = Describe("Side tables", func() {
	var (
		runDir string
		store  *statestore.Store
		ctx    context.Context
	)

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "buildforge-run-*")
		Expect(err).NotTo(HaveOccurred())
		runDir = dir
		store = statestore.New(runDir, nil)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(store.CloseSideTables()).To(Succeed())
	})

	It("is a no-op when side tables were never opened", func() {
		Expect(store.RecordBuilderArtifacts(ctx, "run-1", map[string]types.BuilderResult{
			"orders": {ServiceName: "orders", Status: types.BuilderSucceeded, OutputDir: runDir, Cost: decimal.Zero},
		})).To(Succeed())

		rows, err := store.BuilderArtifacts(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(BeEmpty())
	})

	It("indexes one row per builder result once opened", func() {
		Expect(store.OpenSideTables()).To(Succeed())

		exitCode := 0
		durationMs := int64(1500)
		results := map[string]types.BuilderResult{
			"orders": {
				ServiceName: "orders",
				Status:      types.BuilderSucceeded,
				OutputDir:   runDir + "/orders",
				ExitCode:    &exitCode,
				DurationMs:  &durationMs,
				Cost:        decimal.NewFromFloat(1.25),
			},
		}
		Expect(store.RecordBuilderArtifacts(ctx, "run-1", results)).To(Succeed())

		rows, err := store.BuilderArtifacts(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].ServiceName).To(Equal("orders"))
		Expect(rows[0].LogPath).To(Equal(runDir + "/orders/builder.log"))
		Expect(*rows[0].ExitCode).To(Equal(0))
	})

	It("isolates rows by run_id", func() {
		Expect(store.OpenSideTables()).To(Succeed())

		one := map[string]types.BuilderResult{"orders": {ServiceName: "orders", Status: types.BuilderSucceeded, OutputDir: runDir, Cost: decimal.Zero}}
		Expect(store.RecordBuilderArtifacts(ctx, "run-a", one)).To(Succeed())
		Expect(store.RecordBuilderArtifacts(ctx, "run-b", one)).To(Succeed())

		rows, err := store.BuilderArtifacts(ctx, "run-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})

	It("persists across a close and reopen", func() {
		Expect(store.OpenSideTables()).To(Succeed())
		one := map[string]types.BuilderResult{"orders": {ServiceName: "orders", Status: types.BuilderSucceeded, OutputDir: runDir, Cost: decimal.Zero}}
		Expect(store.RecordBuilderArtifacts(ctx, "run-1", one)).To(Succeed())
		Expect(store.CloseSideTables()).To(Succeed())

		reopened := statestore.New(runDir, nil)
		Expect(reopened.OpenSideTables()).To(Succeed())
		defer reopened.CloseSideTables()

		rows, err := reopened.BuilderArtifacts(ctx, "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})
})
