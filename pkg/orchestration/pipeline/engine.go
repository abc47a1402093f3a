// Package pipeline drives the finite-state pipeline of spec.md §4.8: one
// `advance` handler per phase, atomic state save after every transition,
// budget/shutdown halting checks before every transition, and exponential
// backoff retry on handler failure.
package pipeline

import (
	"context"
	"time"

	goerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	apperrors "github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/orchestration/budget"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// retryBaseDelay is the exponential backoff base between failed handler
// attempts (spec.md §4.8: "retries up to max_retries with exponential
// backoff"). Capped at retryMaxDelay so a misconfigured max_retries can't
// stall a run for hours.
const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// handlerFunc is one phase's `advance` handler (spec.md §4.8): given the
// current state, it returns the next phase and the cost incurred, or an
// error. A handler must not mutate state directly except through its
// return values -- phaseHandlers that do touch state (e.g. BuilderResults)
// are the documented exception for artifacts that have no other home.
type handlerFunc func(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error)

var handlers = map[types.Phase]handlerFunc{
	types.PhaseInitialized:          handleInitialized,
	types.PhaseArchitectRunning:     handleArchitectRunning,
	types.PhaseArchitectComplete:    handleArchitectComplete,
	types.PhaseContractsRegistering: handleContractsRegistering,
	types.PhaseContractsRegistered:  handleContractsRegistered,
	types.PhaseGraphRAGBuilding:     handleGraphRAGBuilding,
	types.PhaseGraphRAGReady:        handleGraphRAGReady,
	types.PhaseBuildersRunning:      handleBuildersRunning,
	types.PhaseBuildersComplete:     handleBuildersComplete,
	types.PhaseIntegrating:          handleIntegrating,
	types.PhaseIntegrationComplete:  handleIntegrationComplete,
	types.PhaseQualityGating:        handleQualityGating,
	types.PhaseQualityGatePassed:    handleQualityGatePassed,
	types.PhaseQualityGateFailed:    handleQualityGateFailed,
	types.PhaseFixPassRunning:       handleFixPassRunning,
}

// Engine drives state through the phase handler table, persisting after
// every transition (spec.md §4.8).
type Engine struct {
	deps Dependencies
}

// New returns an Engine wired to deps.
func New(deps Dependencies) *Engine {
	return &Engine{deps: deps}
}

// errShutdown is returned internally by advanceOnce to signal a clean,
// state-preserving stop; Run/Resume translate it to a nil error (spec.md
// §4.8: "calls shutdown.emergency_save and exits cleanly with the state
// preserved").
var errShutdown = goerrors.New("shutdown requested")

// Run drives state forward until it reaches a terminal phase, the budget is
// exceeded, or a shutdown is requested. It returns nil on done_success or a
// clean shutdown, and a non-nil error once state reaches done_failure.
func (e *Engine) Run(runDir string, state *types.PipelineState) error {
	logger := e.deps.logger()

	if counter, err := e.deps.meter().Int64UpDownCounter(
		"buildforge.pipeline.active_runs",
		metric.WithDescription("Number of pipeline runs currently executing in this process."),
	); err == nil {
		ctx := context.Background()
		counter.Add(ctx, 1)
		defer counter.Add(ctx, -1)
	}

	for !types.IsTerminal(state.Phase) {
		if err := e.advanceOnce(runDir, state); err != nil {
			if err == errShutdown {
				logger.Info("shutdown requested, state preserved", zap.String("phase", string(state.Phase)))
				e.notify(func(ctx context.Context) error { return e.deps.Notifier.NotifyShutdown(ctx, state) })
				return nil
			}
			if apperrors.IsType(err, apperrors.ErrorTypeBudgetExceeded) {
				e.notify(func(ctx context.Context) error { return e.deps.Notifier.NotifyRunFailure(ctx, state) })
				return err
			}
			// Any other error has already driven state to done_failure (or
			// left it in place if this phase has no failure edge); loop
			// again so IsTerminal picks it up, or keep retrying a
			// non-terminal phase the caller chose not to treat as fatal.
			if types.IsTerminal(state.Phase) {
				e.notify(func(ctx context.Context) error { return e.deps.Notifier.NotifyRunFailure(ctx, state) })
				return err
			}
		}
	}
	if state.Phase == types.PhaseDoneFailure {
		e.notify(func(ctx context.Context) error { return e.deps.Notifier.NotifyRunFailure(ctx, state) })
		return goerrors.Errorf("pipeline failed: %s", state.PhaseArtifacts["error"])
	}
	e.notify(func(ctx context.Context) error { return e.deps.Notifier.NotifyRunSuccess(ctx, state) })
	return nil
}

// notify fires a Notifier call in the background-free, synchronous path: a
// notification failure never fails the run itself, so errors are only
// logged. The call blocks until delivery, including any retries, finishes.
func (e *Engine) notify(fn func(ctx context.Context) error) {
	if e.deps.Notifier == nil {
		return
	}
	if err := fn(context.Background()); err != nil {
		e.deps.logger().Warn("notification delivery failed", zap.Error(err))
	}
}

// Resume loads the persisted state for runDir and continues driving it from
// exactly that phase -- no replay of prior phases (spec.md §4.8's resume
// semantics).
func (e *Engine) Resume(runDir string) (*types.PipelineState, error) {
	state, err := e.deps.Store.Load(runDir)
	if err != nil {
		return nil, err
	}
	if !types.ResumePoint(state.Phase) {
		return state, goerrors.Errorf("cannot resume from terminal phase %s", state.Phase)
	}
	return state, e.Run(runDir, state)
}

// Status returns the persisted state for runDir without advancing it.
func (e *Engine) Status(runDir string) (*types.PipelineState, error) {
	return e.deps.Store.Load(runDir)
}

// Step advances state by exactly one phase handler and persists the
// result, without looping to a terminal phase. It is the seam the CLI's
// single-phase commands (`plan`, `build`, `integrate`, `verify`) drive
// directly, rather than reusing Run's "until terminal" loop (spec.md §6).
func (e *Engine) Step(runDir string, state *types.PipelineState) error {
	err := e.advanceOnce(runDir, state)
	if err == errShutdown {
		return nil
	}
	return err
}

// advanceOnce runs the budget/shutdown halting checks, then the current
// phase's handler (retried with exponential backoff on error), then
// persists the resulting state (spec.md §4.8).
func (e *Engine) advanceOnce(runDir string, state *types.PipelineState) error {
	d := e.deps

	if d.Budget != nil && d.Budget.CheckBudget(d.BudgetLimit) == budget.StatusExceeded {
		state.Phase = types.PhaseDoneFailure
		state.PhaseArtifacts["error"] = "budget exceeded"
		state.Touch()
		_ = d.Store.Save(state)
		limit := ""
		if d.BudgetLimit != nil {
			limit = d.BudgetLimit.String()
		}
		return apperrors.NewBudgetExceededError(d.Budget.TotalCost().String(), limit)
	}

	if d.Shutdown != nil && d.Shutdown.ShouldStop() {
		d.Shutdown.EmergencySave(d.Store, state)
		return errShutdown
	}

	handler, ok := handlers[state.Phase]
	if !ok {
		return nil // terminal phase, nothing to do
	}

	if d.Budget != nil {
		d.Budget.StartPhase(state.Phase)
	}

	entryPhase := state.Phase
	_, span := d.tracer().Start(context.Background(), "pipeline.phase."+string(entryPhase))
	span.SetAttributes(attribute.String("run_id", state.RunID))

	start := time.Now()
	nextPhase, cost, err := runWithRetry(d, handler, runDir, state)
	elapsed := time.Since(start)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()

	if d.Budget != nil {
		d.Budget.EndPhase(entryPhase, cost)
		state.PhaseCosts = d.Budget.ToStateMap()
		state.RecomputeTotalCost()
	}

	if d.Metrics != nil {
		costFloat, _ := cost.Float64()
		d.Metrics.ObservePhaseTransition(entryPhase, err == nil, elapsed.Seconds(), costFloat)
	}

	if err != nil {
		state.PhaseArtifacts["error"] = err.Error()
		if types.CanTransition(entryPhase, types.PhaseDoneFailure) {
			state.Phase = types.PhaseDoneFailure
		}
		// else: phase has no failure edge (e.g. graph_rag_building); state
		// stays at entryPhase, matching "leaves the state at its entry
		// value" (spec.md §4.8). Handlers without a failure edge are
		// expected not to return errors in the first place.
		state.Touch()
		_ = d.Store.Save(state)
		return err
	}

	delete(state.PhaseArtifacts, "error")
	state.Phase = nextPhase
	state.Touch()
	if saveErr := d.Store.Save(state); saveErr != nil {
		return saveErr
	}
	if d.Metrics != nil && types.IsTerminal(nextPhase) {
		totalCost, _ := state.TotalCost.Float64()
		d.Metrics.ObserveRunOutcome(nextPhase, totalCost)
	}
	if d.Audit != nil {
		if auditErr := d.Audit.RecordTransition(context.Background(), state.RunID, entryPhase, nextPhase, cost); auditErr != nil {
			d.logger().Warn("audit record failed", zap.Error(auditErr))
		}
	}
	d.logger().Info("phase transition",
		zap.String("run_id", state.RunID),
		zap.String("from", string(entryPhase)),
		zap.String("to", string(nextPhase)))
	return nil
}

func runWithRetry(d Dependencies, handler handlerFunc, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	maxRetries := d.maxRetries()
	var (
		nextPhase types.Phase
		cost      decimal.Decimal
		err       error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		nextPhase, cost, err = handler(d, runDir, state)
		if err == nil {
			return nextPhase, cost, nil
		}
		if attempt < maxRetries {
			time.Sleep(backoffDelay(attempt))
		}
	}
	return nextPhase, cost, err
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
