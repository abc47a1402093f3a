package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	goerrors "github.com/go-faster/errors"
	"go.uber.org/zap"

	apperrors "github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/internal/config"
	"github.com/buildforge/buildforge/internal/statestore"
	"github.com/buildforge/buildforge/pkg/orchestration/dependency"
	"github.com/buildforge/buildforge/pkg/orchestration/fleet"
	"github.com/buildforge/buildforge/pkg/orchestration/pipeline"
	"github.com/buildforge/buildforge/pkg/shared/types"
	"github.com/buildforge/buildforge/pkg/statusapi"
)

// errInterrupted signals a clean shutdown mid-run, mapped to exit code 130.
var errInterrupted = goerrors.New("interrupted")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseUserFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "parsing flags for %s", fs.Name())
	}
	return nil
}

func requirePositional(fs *flag.FlagSet, name string) (string, error) {
	if fs.NArg() < 1 {
		return "", apperrors.New(apperrors.ErrorTypeUserError, "missing required argument <"+name+">")
	}
	return fs.Arg(0), nil
}

func requireFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "reading %s", path)
	}
	return nil
}

func cmdInit(args []string, stdout io.Writer) error {
	fs := newFlagSet("init")
	configPath := fs.String("config", "", "path to a YAML configuration file")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}
	prdPath, err := requirePositional(fs, "prd")
	if err != nil {
		return err
	}
	if err := requireFile(prdPath); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	runID := newRunID()
	runDir := runDirFor(cfg, runID)
	a, err := newApp(cfg, runDir)
	if err != nil {
		return err
	}
	defer a.closer()

	state := types.NewPipelineState(runID, prdPath)
	if err := a.deps.Store.Save(state); err != nil {
		return err
	}

	fmt.Fprintln(stdout, runDir)
	return nil
}

func cmdRun(args []string, stdout io.Writer) error {
	fs := newFlagSet("run")
	configPath := fs.String("config", "", "path to a YAML configuration file")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}
	prdPath, err := requirePositional(fs, "prd")
	if err != nil {
		return err
	}
	if err := requireFile(prdPath); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	runID := newRunID()
	runDir := runDirFor(cfg, runID)
	a, err := newApp(cfg, runDir)
	if err != nil {
		return err
	}
	defer a.closer()

	state := types.NewPipelineState(runID, prdPath)
	if err := a.deps.Store.Save(state); err != nil {
		return err
	}
	a.deps.Shutdown.SetState(a.deps.Store, state)

	if *configPath != "" {
		if watcher, err := config.Watch(*configPath, func() {
			a.logger.Warn("config file changed on disk; the running pipeline keeps its original snapshot")
		}, a.logger); err == nil {
			defer watcher.Close()
		}
	}

	fmt.Fprintln(stdout, runDir)

	engine := pipeline.New(a.deps)
	if err := engine.Run(runDir, state); err != nil {
		return err
	}
	if !types.IsTerminal(state.Phase) {
		return errInterrupted
	}
	return nil
}

func cmdResume(args []string, stdout io.Writer) error {
	fs := newFlagSet("resume")
	runDirFlag := fs.String("run-dir", "", "run directory to resume")
	configPath := fs.String("config", "", "path to a YAML configuration file")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	runDir, err := resolveRunDir(*runDirFlag, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, runDir)
	if err != nil {
		return err
	}
	defer a.closer()

	state, err := a.deps.Store.Load(runDir)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "loading state for %s", runDir)
		}
		return err
	}
	if !types.ResumePoint(state.Phase) {
		return apperrors.New(apperrors.ErrorTypeUserError,
			"cannot resume from terminal phase "+string(state.Phase))
	}
	a.deps.Shutdown.SetState(a.deps.Store, state)

	engine := pipeline.New(a.deps)
	if err := engine.Run(runDir, state); err != nil {
		return err
	}
	fmt.Fprintln(stdout, state.Phase)
	if !types.IsTerminal(state.Phase) {
		return errInterrupted
	}
	return nil
}

func cmdPlan(args []string, stdout io.Writer) error {
	return runSinglePhase(args, stdout, "plan", singlePhaseTargets{
		stopAt: map[types.Phase]bool{types.PhaseArchitectComplete: true},
	})
}

func cmdBuild(args []string, stdout io.Writer) error {
	fs := newFlagSet("build")
	runDirFlag := fs.String("run-dir", "", "run directory (defaults to the only one under output_dir)")
	configPath := fs.String("config", "", "path to a YAML configuration file")
	maxConcurrent := fs.Int("max-concurrent", 0, "override builder.max_concurrent")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *maxConcurrent > 0 {
		cfg.Builder.MaxConcurrent = *maxConcurrent
	}
	runDir, err := resolveRunDir(*runDirFlag, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, runDir)
	if err != nil {
		return err
	}
	defer a.closer()
	if *maxConcurrent > 0 {
		a.deps.Fleet = fleet.New(fleet.Config{
			MaxConcurrent:     *maxConcurrent,
			TimeoutPerBuilder: config.Seconds(cfg.Builder.TimeoutPerBuilder),
		}, a.deps.Shutdown, a.logger)
	}

	return stepRunDir(a, runDir, stdout, singlePhaseTargets{
		stopAt: map[types.Phase]bool{types.PhaseBuildersComplete: true},
	})
}

func cmdIntegrate(args []string, stdout io.Writer) error {
	return runSinglePhase(args, stdout, "integrate", singlePhaseTargets{
		stopAt: map[types.Phase]bool{types.PhaseIntegrationComplete: true},
	})
}

func cmdVerify(args []string, stdout io.Writer) error {
	return runSinglePhase(args, stdout, "verify", singlePhaseTargets{
		stopAt: map[types.Phase]bool{
			types.PhaseQualityGatePassed: true,
			types.PhaseQualityGateFailed: true,
		},
	})
}

// singlePhaseTargets names the phase(s) a single-phase CLI command should
// stop at once reached (inclusive), without driving the engine any further.
type singlePhaseTargets struct {
	stopAt map[types.Phase]bool
}

func runSinglePhase(args []string, stdout io.Writer, name string, targets singlePhaseTargets) error {
	fs := newFlagSet(name)
	runDirFlag := fs.String("run-dir", "", "run directory (defaults to the only one under output_dir)")
	configPath := fs.String("config", "", "path to a YAML configuration file")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	runDir, err := resolveRunDir(*runDirFlag, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, runDir)
	if err != nil {
		return err
	}
	defer a.closer()

	return stepRunDir(a, runDir, stdout, targets)
}

func stepRunDir(a *app, runDir string, stdout io.Writer, targets singlePhaseTargets) error {
	state, err := a.deps.Store.Load(runDir)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "loading state for %s", runDir)
		}
		return err
	}

	engine := pipeline.New(a.deps)
	for !types.IsTerminal(state.Phase) && !targets.stopAt[state.Phase] {
		if err := engine.Step(runDir, state); err != nil {
			fmt.Fprintln(stdout, state.Phase)
			return err
		}
	}

	fmt.Fprintln(stdout, state.Phase)
	if state.Phase == types.PhaseDoneFailure {
		return goerrors.Errorf("pipeline failed: %s", state.PhaseArtifacts["error"])
	}
	return nil
}

func cmdStatus(args []string, stdout io.Writer) error {
	fs := newFlagSet("status")
	runDirFlag := fs.String("run-dir", "", "run directory (defaults to the only one under output_dir)")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}

	cfg := config.Default()
	runDir, err := resolveRunDir(*runDirFlag, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, runDir)
	if err != nil {
		return err
	}
	defer a.closer()

	engine := pipeline.New(a.deps)
	state, err := engine.Status(runDir)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "loading state for %s", runDir)
		}
		return err
	}

	fmt.Fprintf(stdout, "run_id:       %s\n", state.RunID)
	fmt.Fprintf(stdout, "phase:        %s\n", state.Phase)
	fmt.Fprintf(stdout, "fix_attempts: %d\n", state.FixAttempts)
	fmt.Fprintf(stdout, "total_cost:   %s\n", state.TotalCost.String())
	fmt.Fprintf(stdout, "builders:     %d\n", len(state.BuilderResults))
	return nil
}

// cmdServe starts the local status HTTP server (spec.md §9) over every run
// directory under output_dir and blocks in http.ListenAndServe until it
// returns an error; it does not consult the shutdown coordinator used by
// run/resume. A DependencyManager is
// registered with whatever fallbacks the composition root's own subsystems
// expose (currently the Graph RAG indexer's in-memory vector fallback),
// surfaced read-only through /health.
func cmdServe(args []string, stdout io.Writer) error {
	fs := newFlagSet("serve")
	configPath := fs.String("config", "", "path to a YAML configuration file")
	addr := fs.String("addr", "", "override status_server.addr")
	if err := parseUserFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.StatusServer.Addr = *addr
	}

	a, err := newApp(cfg, cfg.OutputDir)
	if err != nil {
		return err
	}
	defer a.closer()

	depManager := dependency.NewDependencyManager(&dependency.DependencyConfig{EnableFallbacks: true}, a.logger)
	if a.deps.GraphRAG != nil {
		if err := depManager.RegisterFallback("graph_rag_vector", a.deps.GraphRAG.VectorFallback()); err != nil {
			a.logger.Warn("could not register graph rag vector fallback", zap.Error(err))
		}
	}

	server := statusapi.New(statusapi.Config{
		Store:      statestore.New(cfg.OutputDir, a.logger),
		Lookup:     statusapi.DirLookup(cfg.OutputDir),
		Metrics:    a.deps.Metrics,
		Dependency: depManager,
		Logger:     a.logger,
	})

	fmt.Fprintln(stdout, cfg.StatusServer.Addr)
	return http.ListenAndServe(cfg.StatusServer.Addr, server)
}

func cmdConfigTemplate(_ []string, stdout io.Writer) error {
	fmt.Fprint(stdout, config.Template())
	return nil
}

func runDirFor(cfg *config.Config, runID string) string {
	return cfg.OutputDir + string(os.PathSeparator) + runID
}
