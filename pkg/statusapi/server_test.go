package statusapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/internal/statestore"
	"github.com/buildforge/buildforge/pkg/metrics"
	"github.com/buildforge/buildforge/pkg/shared/types"
	"github.com/buildforge/buildforge/pkg/statusapi"
)

func TestStatusAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Status API Suite")
}

var _ = Describe("Server", func() {
	var (
		runsRoot string
		store    *statestore.Store
	)

	BeforeEach(func() {
		var err error
		runsRoot, err = os.MkdirTemp("", "statusapi")
		Expect(err).ToNot(HaveOccurred())
		// Store.Load takes the run directory per call, so a single store
		// instance serves every run.
		store = statestore.New("", nil)
	})

	AfterEach(func() {
		os.RemoveAll(runsRoot)
	})

	writeRun := func(runID string) string {
		runDir := filepath.Join(runsRoot, runID)
		Expect(os.MkdirAll(runDir, 0o755)).To(Succeed())
		state := types.NewPipelineState(runID, "prd.md")
		Expect(statestore.New(runDir, nil).Save(state)).To(Succeed())
		return runDir
	}

	It("reports healthy on /health", func() {
		srv := statusapi.New(statusapi.Config{Store: store, Lookup: statusapi.DirLookup(runsRoot)})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body map[string]string
		Expect(json.NewDecoder(rec.Body).Decode(&body)).To(Succeed())
		Expect(body["status"]).To(Equal("healthy"))
	})

	It("includes CORS headers on every response", func() {
		srv := statusapi.New(statusapi.Config{Store: store, Lookup: statusapi.DirLookup(runsRoot)})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Header().Get("Access-Control-Allow-Origin")).ToNot(BeEmpty())
	})

	It("returns the persisted state for a known run", func() {
		writeRun("run-1")
		srv := statusapi.New(statusapi.Config{Store: store, Lookup: statusapi.DirLookup(runsRoot)})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/status", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var state types.PipelineState
		Expect(json.NewDecoder(rec.Body).Decode(&state)).To(Succeed())
		Expect(state.RunID).To(Equal("run-1"))
		Expect(state.Phase).To(Equal(types.PhaseInitialized))
	})

	It("returns a problem response for an unregistered run", func() {
		srv := statusapi.New(statusapi.Config{Store: store, Lookup: statusapi.DirLookup(runsRoot)})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/does-not-exist/status", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/problem+json"))

		var problem map[string]string
		Expect(json.NewDecoder(rec.Body).Decode(&problem)).To(Succeed())
		Expect(problem["type"]).To(Equal("unknown-run"))
		Expect(problem["title"]).To(Equal("Run Not Found"))
	})

	It("mounts /metrics when a collector is configured", func() {
		collectors := metrics.New()
		srv := statusapi.New(statusapi.Config{Store: store, Lookup: statusapi.DirLookup(runsRoot), Metrics: collectors})

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("returns 404 for /metrics when no collector is configured", func() {
		srv := statusapi.New(statusapi.Config{Store: store, Lookup: statusapi.DirLookup(runsRoot)})

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
