// Package statusapi exposes a chi-based HTTP surface for external
// dashboards, served by the `serve` CLI command (spec.md §6, §9's optional
// local status server; the `status` command reads state directly, not
// through this server): a health endpoint, a per-run status lookup that reads
// PipelineState via the state store, and a /metrics mount delegating to
// pkg/metrics. It never drives the pipeline itself -- it only reads what
// the engine has already persisted.
package statusapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apperrors "github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/internal/statestore"
	"github.com/buildforge/buildforge/pkg/metrics"
	"github.com/buildforge/buildforge/pkg/orchestration/dependency"
)

// RunLookup resolves a run ID to the run directory containing its
// PIPELINE_STATE.json. The CLI and the server share this contract so a
// lookup can be backed by a flat directory layout, a registry file, or
// anything else without statusapi knowing the difference.
type RunLookup func(runID string) (runDir string, ok bool)

// Config wires a Server's dependencies. Metrics and Logger are optional;
// a nil Metrics skips the /metrics mount entirely, and a nil Logger falls
// back to a no-op logger, matching the "absence of a dependency is
// transparent" posture used throughout the pipeline engine.
type Config struct {
	Store       *statestore.Store
	Lookup      RunLookup
	Metrics     *metrics.Collectors
	Dependency  *dependency.DependencyManager
	Logger      *zap.Logger
	CORSOrigins []string
}

// Server is the HTTP handler for the status API. It satisfies
// http.Handler directly so callers can pass it straight to http.Serve.
type Server struct {
	cfg    Config
	router chi.Router
}

// New builds a Server and wires its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{cfg: cfg, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/v1/runs/{runID}/status", s.handleStatus)

	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics.Handler())
	}
}

// healthResponse is the literal body shape exercised against production
// status endpoints elsewhere in the teacher's surviving tests, extended
// with the fallbacks a dependency.DependencyManager reports as available
// (spec.md §9's status surface). FallbacksAvailable is omitted entirely
// when no DependencyManager was configured.
type healthResponse struct {
	Status             string   `json:"status"`
	FallbacksAvailable []string `json:"fallbacks_available,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if s.cfg.Dependency != nil {
		resp.FallbacksAvailable = s.cfg.Dependency.GetHealthReport().FallbacksAvailable
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeProblem(w, http.StatusBadRequest, "missing-run-id", "Missing Required Field", "runID is required")
		return
	}

	runDir, ok := s.cfg.Lookup(runID)
	if !ok {
		writeProblem(w, http.StatusNotFound, "unknown-run", "Run Not Found", "no run directory registered for "+runID)
		return
	}

	state, err := s.cfg.Store.Load(runDir)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// writeStoreError maps a state store error onto the RFC7807-style problem
// response, using the shared AppError taxonomy's own status classification
// (spec.md §7) rather than re-deriving one here.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeNotFound:
		writeProblem(w, http.StatusNotFound, "run-not-found", "Run Not Found", err.Error())
	default:
		s.cfg.Logger.Warn("status lookup failed", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "store-io-error", "Internal Error", "failed to load run state")
	}
}

// problem is the RFC7807-shaped error body used across every statusapi
// error response.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: problemType, Title: title, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DirLookup returns a RunLookup backed by a flat "one subdirectory per run
// ID" layout under root, matching how `buildforge run` and `buildforge
// resume` lay out run directories on disk.
func DirLookup(root string) RunLookup {
	return func(runID string) (string, bool) {
		dir := filepath.Join(root, runID)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return "", false
		}
		return dir, true
	}
}
