package pipeline

import (
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/buildforge/buildforge/internal/statestore"
	"github.com/buildforge/buildforge/pkg/audit"
	"github.com/buildforge/buildforge/pkg/contractregistry"
	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/metrics"
	"github.com/buildforge/buildforge/pkg/notify"
	"github.com/buildforge/buildforge/pkg/orchestration/budget"
	"github.com/buildforge/buildforge/pkg/orchestration/fleet"
	"github.com/buildforge/buildforge/pkg/orchestration/shutdown"
	"github.com/buildforge/buildforge/pkg/qualitygate"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// ArchitectRunner decomposes a PRD into a service map (spec.md §1's "THE
// ARCHITECT AGENT" out-of-scope collaborator). The pipeline engine only
// depends on its contract: given a PRD, produce service_map.json somewhere
// under runDir and report what it cost.
type ArchitectRunner interface {
	Run(prdPath, runDir string) (serviceMapPath string, cost decimal.Decimal, err error)
}

// SourceDataProvider assembles graphrag.SourceData from the Codebase
// Intelligence, Architect, and Contract Engine stores (spec.md §4.5 phase
// 1 and §5's "three external stores"). Those stores' own schemas are
// out-of-scope collaborators; the pipeline depends only on this contract.
type SourceDataProvider interface {
	Load(runDir string, state *types.PipelineState) (graphrag.SourceData, error)
}

// IntegrationRunner merges builder output into one deployable system
// (spec.md §1's "Integration (external)" data-flow step). The pipeline only
// depends on its contract: given builder results, produce
// integration_report.json and report what it cost.
type IntegrationRunner interface {
	Run(runDir string, results map[string]types.BuilderResult) (reportPath string, cost decimal.Decimal, err error)
}

// Dependencies wires every subsystem the pipeline engine drives. GraphRAG
// and QualityGate are optional in the sense that a nil value degrades the
// corresponding phase to a no-op success -- consistent with spec.md §4.6's
// "absence of a client is transparent" posture applied to the engine
// itself. A nil Architect, Fleet, or Integration makes its phase return an
// error, which ends the run in done_failure.
type Dependencies struct {
	Store       *statestore.Store
	Budget      *budget.Controller
	Shutdown    *shutdown.Coordinator
	Contracts   *contractregistry.Registry
	GraphRAG    *graphrag.Indexer
	Fleet       *fleet.Fleet
	QualityGate *qualitygate.Engine

	Architect   ArchitectRunner
	SourceData  SourceDataProvider
	Integration IntegrationRunner

	Metrics     *metrics.Collectors
	Notifier    *notify.Notifier
	Audit       *audit.Trail
	Logger      *zap.Logger
	MaxRetries  int
	BudgetLimit *decimal.Decimal

	// Tracer and Meter are optional OpenTelemetry handles for span/metric
	// instrumentation distinct from pkg/metrics's Prometheus collectors
	// (spec.md carries no tracing/metrics-backend requirement of its own;
	// this is ambient operational instrumentation). A nil value falls back
	// to OpenTelemetry's own no-op global implementations.
	Tracer trace.Tracer
	Meter  metric.Meter
}

func (d Dependencies) maxRetries() int {
	if d.MaxRetries <= 0 {
		return 3
	}
	return d.MaxRetries
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Dependencies) tracer() trace.Tracer {
	if d.Tracer == nil {
		return otel.Tracer("github.com/buildforge/buildforge/pkg/orchestration/pipeline")
	}
	return d.Tracer
}

func (d Dependencies) meter() metric.Meter {
	if d.Meter == nil {
		return otel.Meter("github.com/buildforge/buildforge/pkg/orchestration/pipeline")
	}
	return d.Meter
}
