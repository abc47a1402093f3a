// Package fleet launches and supervises the bounded-concurrency pool of
// builder subprocesses described in spec.md §4.4: one OS process per
// service, a semaphore bounding how many run at once, and SIGTERM/grace/
// SIGKILL escalation on shutdown or per-builder timeout.
package fleet

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/orchestration/shutdown"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

const (
	// DefaultMaxConcurrent is the semaphore size absent an override (spec.md §4.4).
	DefaultMaxConcurrent = 3
	// DefaultGraceMs is how long a cancelled builder gets between SIGTERM and SIGKILL.
	DefaultGraceMs = 10000
	// DefaultTimeoutPerBuilder is the per-builder wall-clock limit.
	DefaultTimeoutPerBuilder = 1800 * time.Second

	pollInterval = 500 * time.Millisecond

	builderConfigFileName    = "builder_config.json"
	fixInstructionsFileName  = "FIX_INSTRUCTIONS.md"
	builderLogFileName       = "builder.log"
)

// Depth is the builder's effort level (spec.md §4.4's builder config contract).
type Depth string

const (
	DepthQuick     Depth = "quick"
	DepthStandard  Depth = "standard"
	DepthThorough  Depth = "thorough"
)

// BuilderConfig is the JSON contract written to
// <output_dir>/builder_config.json (spec.md §4.4). Empty-string fields must
// produce identical behavior to the field being entirely absent -- callers
// rely on the zero value to mean "no context available," not "context is
// the empty string."
type BuilderConfig struct {
	ServiceName     string                  `json:"service_name"`
	Depth           Depth                   `json:"depth"`
	PRDPath         string                  `json:"prd_path"`
	ContractContext string                  `json:"contract_context"`
	GraphRAGContext string                  `json:"graph_rag_context"`
	CodebaseContext string                  `json:"codebase_context"`
	OutputDir       string                  `json:"output_dir"`
	ServiceInfo     types.ServiceDefinition `json:"service_info"`
}

// ServiceContext is the per-service input the pipeline supplies for one
// fleet run. FixInstructions is non-empty only during a fix-loop
// re-invocation (spec.md §4.7 step 4).
type ServiceContext struct {
	PRDPath         string
	ContractContext string
	GraphRAGContext string
	CodebaseContext string
	FixInstructions string
	Depth           Depth
}

// CommandFactory builds the *exec.Cmd that runs one builder subprocess for
// cfg. Production wiring points this at the real builder agent binary;
// tests substitute a short-lived stub.
type CommandFactory func(cfg BuilderConfig) *exec.Cmd

// Config tunes the fleet's scheduling. Zero values fall back to spec.md
// §4.4's stated defaults.
type Config struct {
	MaxConcurrent     int
	GraceMs           int
	TimeoutPerBuilder time.Duration
	Command           CommandFactory
}

func (c Config) maxConcurrent() int64 {
	if c.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}
	return int64(c.MaxConcurrent)
}

func (c Config) grace() time.Duration {
	if c.GraceMs <= 0 {
		return DefaultGraceMs * time.Millisecond
	}
	return time.Duration(c.GraceMs) * time.Millisecond
}

func (c Config) timeout() time.Duration {
	if c.TimeoutPerBuilder <= 0 {
		return DefaultTimeoutPerBuilder
	}
	return c.TimeoutPerBuilder
}

// Fleet launches up to Config.MaxConcurrent builder subprocesses in
// parallel, one per service, and collects their BuilderResult (spec.md
// §4.4's single public contract).
type Fleet struct {
	cfg      Config
	shutdown *shutdown.Coordinator
	logger   *zap.Logger
}

// New builds a Fleet. coordinator may be nil (should_stop always false).
// logger may be nil (discarded).
func New(cfg Config, coordinator *shutdown.Coordinator, logger *zap.Logger) *Fleet {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Command == nil {
		cfg.Command = defaultCommand
	}
	return &Fleet{cfg: cfg, shutdown: coordinator, logger: logger}
}

func defaultCommand(cfg BuilderConfig) *exec.Cmd {
	return exec.Command("builder-agent", "--config", filepath.Join(cfg.OutputDir, builderConfigFileName))
}

// Run spawns one builder subprocess per service in serviceMap, bounded by
// Config.MaxConcurrent, and returns each outcome keyed by service name
// (spec.md §4.4: "results are keyed by service name; no global ordering
// across builders is promised"). Failure of one builder never affects the
// others.
func (f *Fleet) Run(runDir string, serviceMap types.ServiceMap, contexts map[string]ServiceContext) map[string]types.BuilderResult {
	sem := semaphore.NewWeighted(f.cfg.maxConcurrent())

	var mu sync.Mutex
	results := make(map[string]types.BuilderResult, len(serviceMap.Services))
	record := func(r types.BuilderResult) {
		mu.Lock()
		results[r.ServiceName] = r
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, svc := range serviceMap.Services {
		svc := svc
		outputDir := filepath.Join(runDir, svc.Name)

		if f.shouldStop() {
			record(newTerminalResult(svc.Name, outputDir, types.BuilderFailed, time.Now(), nil, "cancelled"))
			continue
		}

		if !f.acquire(sem) {
			record(newTerminalResult(svc.Name, outputDir, types.BuilderFailed, time.Now(), nil, "cancelled"))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			record(f.runBuilder(runDir, svc, contexts[svc.Name]))
		}()
	}

	wg.Wait()
	return results
}

// acquire blocks until a semaphore slot is free, polling should_stop every
// pollInterval so a shutdown request during a long queue wait is honored
// (spec.md §4.4's "semaphore acquire" suspension point).
func (f *Fleet) acquire(sem *semaphore.Weighted) bool {
	if sem.TryAcquire(1) {
		return true
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		if f.shouldStop() {
			return false
		}
		if sem.TryAcquire(1) {
			return true
		}
	}
	return false
}

func (f *Fleet) shouldStop() bool {
	return f.shutdown != nil && f.shutdown.ShouldStop()
}

// runBuilder writes the builder's config and fix instructions, spawns its
// subprocess, and supervises it to a terminal BuilderResult.
func (f *Fleet) runBuilder(runDir string, svc types.ServiceDefinition, sc ServiceContext) types.BuilderResult {
	start := time.Now()
	outputDir := filepath.Join(runDir, svc.Name)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return f.startupFailure(svc.Name, outputDir, start, err)
	}

	depth := sc.Depth
	if depth == "" {
		depth = DepthStandard
	}

	cfg := BuilderConfig{
		ServiceName:     svc.Name,
		Depth:           depth,
		PRDPath:         sc.PRDPath,
		ContractContext: sc.ContractContext,
		GraphRAGContext: sc.GraphRAGContext,
		CodebaseContext: sc.CodebaseContext,
		OutputDir:       outputDir,
		ServiceInfo:     svc,
	}

	if err := writeBuilderConfig(outputDir, cfg); err != nil {
		return f.startupFailure(svc.Name, outputDir, start, err)
	}
	if sc.FixInstructions != "" {
		path := filepath.Join(outputDir, fixInstructionsFileName)
		if err := os.WriteFile(path, []byte(sc.FixInstructions), 0o644); err != nil {
			f.logger.Warn("writing fix instructions failed",
				zap.String("service", svc.Name), zap.Error(err))
		}
	}

	logFile, err := os.Create(filepath.Join(outputDir, builderLogFileName))
	if err != nil {
		return f.startupFailure(svc.Name, outputDir, start, err)
	}
	defer logFile.Close()

	cmd := f.cfg.Command(cfg)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return f.startupFailure(svc.Name, outputDir, start, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(f.cfg.timeout())
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-done:
			return resultFromWait(svc.Name, outputDir, start, waitErr)
		case <-timer.C:
			f.cancelProcess(cmd, done)
			return newTerminalResult(svc.Name, outputDir, types.BuilderTimeout, start, exitCodePtr(cmd), "timeout")
		case <-ticker.C:
			if f.shouldStop() {
				f.cancelProcess(cmd, done)
				return newTerminalResult(svc.Name, outputDir, types.BuilderFailed, start, exitCodePtr(cmd), "cancelled")
			}
		}
	}
}

// cancelProcess sends SIGTERM, waits up to Config.GraceMs for the process to
// exit, then escalates to SIGKILL (spec.md §4.4's cancellation contract).
func (f *Fleet) cancelProcess(cmd *exec.Cmd, done chan error) {
	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-done:
		return
	case <-time.After(f.cfg.grace()):
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
}

func (f *Fleet) startupFailure(serviceName, outputDir string, start time.Time, err error) types.BuilderResult {
	f.logger.Warn("builder startup failed", zap.String("service", serviceName), zap.Error(err))
	return newTerminalResult(serviceName, outputDir, types.BuilderFailed, start, nil, err.Error())
}

func resultFromWait(serviceName, outputDir string, start time.Time, waitErr error) types.BuilderResult {
	if waitErr == nil {
		zero := 0
		return newTerminalResult(serviceName, outputDir, types.BuilderSucceeded, start, &zero, "")
	}
	var exitErr *exec.ExitError
	if stderrors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		return newTerminalResult(serviceName, outputDir, types.BuilderFailed, start, &code, waitErr.Error())
	}
	return newTerminalResult(serviceName, outputDir, types.BuilderFailed, start, nil, waitErr.Error())
}

func exitCodePtr(cmd *exec.Cmd) *int {
	if cmd.ProcessState == nil {
		return nil
	}
	code := cmd.ProcessState.ExitCode()
	return &code
}

// newTerminalResult builds a BuilderResult satisfying the invariant that
// every terminal status carries non-nil DurationMs and ExitCode (spec.md
// §3.1); cost is always decimal.Zero since this layer has no visibility
// into builder-reported spend.
func newTerminalResult(serviceName, outputDir string, status types.BuilderStatus, start time.Time, exitCode *int, errMsg string) types.BuilderResult {
	duration := time.Since(start).Milliseconds()
	code := 0
	if exitCode != nil {
		code = *exitCode
	}
	return types.BuilderResult{
		ServiceName:  serviceName,
		Status:       status,
		OutputDir:    outputDir,
		Cost:         decimal.Zero,
		DurationMs:   &duration,
		ExitCode:     &code,
		ErrorMessage: errMsg,
	}
}

func writeBuilderConfig(outputDir string, cfg BuilderConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshaling builder config")
	}
	return os.WriteFile(filepath.Join(outputDir, builderConfigFileName), raw, 0o644)
}
