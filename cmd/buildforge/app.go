package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/buildforge/buildforge/internal/config"
	"github.com/buildforge/buildforge/internal/statestore"
	"github.com/buildforge/buildforge/pkg/audit"
	"github.com/buildforge/buildforge/pkg/contractregistry"
	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/metrics"
	"github.com/buildforge/buildforge/pkg/notify"
	"github.com/buildforge/buildforge/pkg/orchestration/budget"
	"github.com/buildforge/buildforge/pkg/orchestration/external"
	"github.com/buildforge/buildforge/pkg/orchestration/fleet"
	"github.com/buildforge/buildforge/pkg/orchestration/pipeline"
	"github.com/buildforge/buildforge/pkg/orchestration/shutdown"
	"github.com/buildforge/buildforge/pkg/qualitygate"
	"github.com/buildforge/buildforge/pkg/qualitygate/policy"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

const (
	auditFileName         = "audit.db"
	graphRAGStoreFileName = "graph_rag.db"
)

// app is the composition root wiring every subsystem into one
// pipeline.Dependencies for a single run directory. When graph_rag.enabled
// is true, GraphRAG and SourceData are both constructed, but with a nil
// Embedder: spec.md §1 puts the LLM embedding calls a real one would need
// out of scope, and no embedding implementation survives anywhere in this
// codebase's lineage to ground one on. Graph construction, PageRank/Louvain
// metrics, and context assembly run fine without an embedder; only semantic
// vector search degrades to the in-memory fallback.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   pipeline.Dependencies
	closer func() error
}

// newApp wires every subsystem for runDir against cfg. The returned
// closer must be called once the caller is done driving the engine (it
// closes the audit trail's database handle).
func newApp(cfg *config.Config, runDir string) (*app, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	store := statestore.New(runDir, logger)
	if err := store.OpenSideTables(); err != nil {
		logger.Warn("state side tables unavailable, continuing with JSON state only", zap.Error(err))
	}

	trail, err := audit.Open(filepath.Join(runDir, auditFileName))
	if err != nil {
		logger.Warn("audit trail unavailable, continuing without one", zap.Error(err))
		trail = nil
	}

	scanners := []qualitygate.Scanner{qualitygate.ConvergenceScanner{}}
	regoScanners, err := loadRegoScanners(cfg, logger)
	if err != nil {
		logger.Warn("rego policies unavailable, quality gate runs without layer 3/4 scanners", zap.Error(err))
	}
	scanners = append(scanners, regoScanners...)
	qgEngine := qualitygate.NewEngine(scanners, nil, logger)

	tracerProvider := sdktrace.NewTracerProvider()
	meterProvider := sdkmetric.NewMeterProvider()

	coordinator := shutdown.New(logger)
	fleetCfg := fleet.Config{
		MaxConcurrent:     cfg.Builder.MaxConcurrent,
		TimeoutPerBuilder: config.Seconds(cfg.Builder.TimeoutPerBuilder),
	}

	deps := pipeline.Dependencies{
		Store:       store,
		Budget:      budget.New(),
		Shutdown:    coordinator,
		Contracts:   contractregistry.New(),
		Fleet:       fleet.New(fleetCfg, coordinator, logger),
		QualityGate: qgEngine,
		Architect:   external.SubprocessArchitect{Command: architectCommand(), Timeout: config.Seconds(cfg.Architect.Timeout)},
		Integration: external.SubprocessIntegration{Command: integrationCommand(), Timeout: config.Seconds(cfg.Integration.Timeout)},
		Metrics:     metrics.New(),
		Notifier:    notify.New(os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_CHANNEL"), logger),
		Audit:       trail,
		Logger:      logger,
		MaxRetries:  cfg.Architect.MaxRetries,
		Tracer:      tracerProvider.Tracer("github.com/buildforge/buildforge/cmd/buildforge"),
		Meter:       meterProvider.Meter("github.com/buildforge/buildforge/cmd/buildforge"),
	}
	if cfg.BudgetLimit != nil {
		limit := decimal.NewFromFloat(*cfg.BudgetLimit)
		deps.BudgetLimit = &limit
	}
	var graphRAGStore *graphrag.Store
	if cfg.GraphRAG.Enabled {
		indexer := graphrag.NewIndexer(logger, nil, cfg.GraphRAG.ContextTokenBudget)
		if store, err := graphrag.OpenStore(filepath.Join(runDir, graphRAGStoreFileName)); err != nil {
			logger.Warn("graph rag store unavailable, builds stay in-memory only", zap.Error(err))
		} else {
			graphRAGStore = store
			indexer.SetStore(store)
		}
		deps.GraphRAG = indexer
		deps.SourceData = graphrag.RunDirSourceData{Logger: logger}
	}

	coordinator.Install()

	a := &app{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		closer: func() error {
			coordinator.Stop()
			_ = tracerProvider.Shutdown(context.Background())
			_ = meterProvider.Shutdown(context.Background())
			_ = store.CloseSideTables()
			if graphRAGStore != nil {
				_ = graphRAGStore.Close()
			}
			if trail == nil {
				return nil
			}
			return trail.Close()
		},
	}
	return a, nil
}

// architectCommand names the external Architect binary to shell out to
// (spec.md §1's out-of-scope collaborator), overridable for environments
// where it isn't installed as "architect-agent" on PATH -- the same
// convention fleet.defaultCommand uses for builder-agent.
func architectCommand() string {
	if cmd := os.Getenv("BUILDFORGE_ARCHITECT_CMD"); cmd != "" {
		return cmd
	}
	return "architect-agent"
}

func integrationCommand() string {
	if cmd := os.Getenv("BUILDFORGE_INTEGRATION_CMD"); cmd != "" {
		return cmd
	}
	return "integration-agent"
}

// loadRegoScanners compiles quality_gate.layer3_scanners (each expected at
// <rego_policy_path>/<name>.rego, package qualitygate.<name>) into Layer 3
// scanners, plus <rego_policy_path>/adversarial.rego as the Layer 4 scanner
// when quality_gate.layer4_enabled is set (spec.md §4.6). An empty
// rego_policy_path means quality gating runs on ConvergenceScanner alone;
// a missing individual file is reported as an error rather than silently
// skipped, since the operator named it explicitly in layer3_scanners.
func loadRegoScanners(cfg *config.Config, logger *zap.Logger) ([]qualitygate.Scanner, error) {
	if cfg.QualityGate.RegoPolicyPath == "" {
		return nil, nil
	}

	ctx := context.Background()
	var scanners []qualitygate.Scanner

	for _, name := range cfg.QualityGate.Layer3Scanners {
		evaluator, err := compileRegoFile(ctx, cfg.QualityGate.RegoPolicyPath, name, logger)
		if err != nil {
			return scanners, err
		}
		scanners = append(scanners, qualitygate.NewRegoScanner(name, types.LayerSystem, evaluator))
	}

	if cfg.QualityGate.Layer4Enabled {
		evaluator, err := compileRegoFile(ctx, cfg.QualityGate.RegoPolicyPath, "adversarial", logger)
		if err != nil {
			return scanners, err
		}
		scanners = append(scanners, qualitygate.NewRegoScanner("adversarial", types.LayerAdversarial, evaluator))
	}

	return scanners, nil
}

func compileRegoFile(ctx context.Context, dir, name string, logger *zap.Logger) (*policy.Evaluator, error) {
	path := filepath.Join(dir, name+".rego")
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return policy.NewEvaluator(ctx, policy.Config{
		PolicyName: name,
		Source:     string(source),
		Query:      "data.qualitygate." + name + ".violations",
	}, logger)
}
