package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	goerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/orchestration/fleet"
	"github.com/buildforge/buildforge/pkg/qualitygate"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// handleInitialized kicks off the Architect (spec.md §1, data-flow step 1).
func handleInitialized(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseArchitectRunning, decimal.Zero, nil
}

func handleArchitectRunning(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if d.Architect == nil {
		return state.Phase, decimal.Zero, goerrors.New("no architect runner configured")
	}
	serviceMapPath, cost, err := d.Architect.Run(state.PRDPath, runDir)
	if err != nil {
		return state.Phase, cost, goerrors.Wrap(err, "architect run failed")
	}
	state.ServiceMapPath = serviceMapPath
	return types.PhaseArchitectComplete, cost, nil
}

func handleArchitectComplete(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseContractsRegistering, decimal.Zero, nil
}

// handleContractsRegistering ingests the service map's own declared
// dependencies as registered contract IDs (spec.md §4.8's contracts_
// registering phase; the Contract Engine that actually produces contract
// documents is an out-of-scope external collaborator per spec.md §1, so
// this phase only tracks the IDs the service map already names).
func handleContractsRegistering(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	serviceMap, err := loadServiceMap(state.ServiceMapPath)
	if err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "loading service map")
	}
	if d.Contracts != nil {
		for _, svc := range serviceMap.Services {
			for _, id := range strings.Split(svc.Metadata["contract_ids"], ",") {
				id = strings.TrimSpace(id)
				if id != "" {
					d.Contracts.Register(svc.Name, id)
				}
			}
		}
		state.ContractIDs = d.Contracts.ToStateMap()
	}
	return types.PhaseContractsRegistered, decimal.Zero, nil
}

func handleContractsRegistered(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseGraphRAGBuilding, decimal.Zero, nil
}

// handleGraphRAGBuilding never fails the phase: spec.md §3.2 documents
// graph_rag_building's only outgoing edge as graph_rag_ready, matching
// "GraphRAGUnavailable degrades, never halts". A missing indexer, source
// provider, or a Load error all just mean the run proceeds without the
// knowledge graph.
func handleGraphRAGBuilding(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if d.GraphRAG == nil || d.SourceData == nil {
		return types.PhaseGraphRAGReady, decimal.Zero, nil
	}
	src, err := d.SourceData.Load(runDir, state)
	if err != nil {
		d.logger().Warn("graph rag source data unavailable, continuing without it")
		return types.PhaseGraphRAGReady, decimal.Zero, nil
	}
	d.GraphRAG.BuildKnowledgeGraph(src)
	return types.PhaseGraphRAGReady, decimal.Zero, nil
}

func handleGraphRAGReady(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseBuildersRunning, decimal.Zero, nil
}

func handleBuildersRunning(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if d.Fleet == nil {
		return state.Phase, decimal.Zero, goerrors.New("no builder fleet configured")
	}
	serviceMap, err := loadServiceMap(state.ServiceMapPath)
	if err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "loading service map")
	}

	contexts := make(map[string]fleet.ServiceContext, len(serviceMap.Services))
	for _, svc := range serviceMap.Services {
		sc := fleet.ServiceContext{PRDPath: state.PRDPath, Depth: fleet.DepthStandard}
		if d.Contracts != nil {
			sc.ContractContext = strings.Join(d.Contracts.ContractIDs(svc.Name), ",")
		}
		if d.GraphRAG != nil {
			sc.GraphRAGContext = d.GraphRAG.GetServiceContext(svc.Name)
		}
		contexts[svc.Name] = sc
	}

	results := d.Fleet.Run(runDir, serviceMap, contexts)
	state.BuilderResults = results
	observeBuilderResults(d, results)
	if err := d.Store.RecordBuilderArtifacts(context.Background(), state.RunID, results); err != nil {
		d.logger().Warn("indexing builder artifacts failed", zap.Error(err))
	}
	return types.PhaseBuildersComplete, sumBuilderCost(results), nil
}

// observeBuilderResults reports each builder's terminal status and duration
// to the metrics collectors, a no-op when none are configured.
func observeBuilderResults(d Dependencies, results map[string]types.BuilderResult) {
	if d.Metrics == nil {
		return
	}
	for name, r := range results {
		var durationSeconds float64
		if r.DurationMs != nil {
			durationSeconds = float64(*r.DurationMs) / 1000.0
		}
		d.Metrics.ObserveBuilderRun(name, r.Status, durationSeconds)
	}
}

func handleBuildersComplete(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseIntegrating, decimal.Zero, nil
}

func handleIntegrating(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if d.Integration == nil {
		return state.Phase, decimal.Zero, goerrors.New("no integration runner configured")
	}
	reportPath, cost, err := d.Integration.Run(runDir, state.BuilderResults)
	if err != nil {
		return state.Phase, cost, goerrors.Wrap(err, "integration failed")
	}
	state.PhaseArtifacts["integration_report_path"] = reportPath
	return types.PhaseIntegrationComplete, cost, nil
}

func handleIntegrationComplete(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseQualityGating, decimal.Zero, nil
}

// handleQualityGating runs the four-layer scanner ensemble and persists both
// the JSON and markdown reports (spec.md §4.6, persisted-state layout). A
// nil engine degrades to an automatic pass, consistent with every other
// "absence of a client is transparent" posture in this pipeline.
func handleQualityGating(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if d.QualityGate == nil {
		return types.PhaseQualityGatePassed, decimal.Zero, nil
	}

	serviceMap, err := loadServiceMap(state.ServiceMapPath)
	if err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "loading service map")
	}

	target := qualitygate.Target{
		RunID:          state.RunID,
		FixAttempt:     state.FixAttempts,
		BuilderResults: state.BuilderResults,
		ServiceMap:     serviceMap,
	}
	report := d.QualityGate.Run(context.Background(), target)

	reportPath := filepath.Join(runDir, qualityReportJSONFileName)
	if err := writeJSONArtifact(reportPath, report); err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "writing quality gate report")
	}
	mdPath := filepath.Join(runDir, qualityReportMDFileName)
	if err := os.WriteFile(mdPath, []byte(renderQualityGateReportMarkdown(report)), 0o644); err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "writing quality gate markdown report")
	}
	state.QualityReportPath = reportPath
	if d.Metrics != nil {
		d.Metrics.ObserveViolations(report.Violations)
	}
	if d.Audit != nil {
		if auditErr := d.Audit.RecordViolations(context.Background(), state.RunID, report.Violations); auditErr != nil {
			d.logger().Warn("audit record failed", zap.Error(auditErr))
		}
	}

	convergenceRatio := qualitygate.ConvergenceRatio(state.BuilderResults)
	if qualitygate.ShouldPromote(report, convergenceRatio, 0) {
		return types.PhaseQualityGatePassed, decimal.Zero, nil
	}
	return types.PhaseQualityGateFailed, decimal.Zero, nil
}

func handleQualityGatePassed(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	return types.PhaseDoneSuccess, decimal.Zero, nil
}

// handleQualityGateFailed halts the fix loop once qualitygate.MaxFixRetries
// is reached (spec.md §4.7: "the fix loop does not run forever").
func handleQualityGateFailed(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if state.FixAttempts >= qualitygate.MaxFixRetries {
		return types.PhaseDoneFailure, decimal.Zero, nil
	}
	return types.PhaseFixPassRunning, decimal.Zero, nil
}

// handleFixPassRunning renders per-service fix instructions from the last
// quality report, re-invokes the fleet scoped to the affected services at
// quick depth, and loops back to quality_gating (spec.md §4.7's fix-loop
// back-edge).
func handleFixPassRunning(d Dependencies, runDir string, state *types.PipelineState) (types.Phase, decimal.Decimal, error) {
	if d.Fleet == nil {
		return state.Phase, decimal.Zero, goerrors.New("no builder fleet configured")
	}

	report, err := loadQualityReport(state.QualityReportPath)
	if err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "loading quality gate report")
	}

	serviceMap, err := loadServiceMap(state.ServiceMapPath)
	if err != nil {
		return state.Phase, decimal.Zero, goerrors.Wrap(err, "loading service map")
	}

	grouped := qualitygate.GroupByService(report.Violations, serviceMap.Services)
	if len(grouped) == 0 {
		// Nothing attributable to a service; nothing more the fix loop can
		// do productively, so let the gate re-run as-is.
		state.FixAttempts++
		return types.PhaseQualityGating, decimal.Zero, nil
	}

	var graphRAG qualitygate.GraphRAGClient
	if d.GraphRAG != nil {
		graphRAG = graphrag.NewQualityGateAdapter(d.GraphRAG)
	}

	affected := make(map[string]types.ServiceDefinition, len(grouped))
	for _, svc := range serviceMap.Services {
		if _, ok := grouped[svc.Name]; ok {
			affected[svc.Name] = svc
		}
	}

	contexts := make(map[string]fleet.ServiceContext, len(affected))
	for name, violations := range grouped {
		instructions, err := renderFixInstructions(violations, graphRAG)
		if err != nil {
			return state.Phase, decimal.Zero, goerrors.Wrapf(err, "rendering fix instructions for %s", name)
		}
		sc := fleet.ServiceContext{PRDPath: state.PRDPath, Depth: fleet.DepthQuick, FixInstructions: instructions}
		if d.Contracts != nil {
			sc.ContractContext = strings.Join(d.Contracts.ContractIDs(name), ",")
		}
		if d.GraphRAG != nil {
			sc.GraphRAGContext = d.GraphRAG.GetServiceContext(name)
		}
		contexts[name] = sc
	}

	scopedMap := types.ServiceMap{Services: make([]types.ServiceDefinition, 0, len(affected))}
	for _, svc := range affected {
		scopedMap.Services = append(scopedMap.Services, svc)
	}

	results := d.Fleet.Run(runDir, scopedMap, contexts)
	for name, result := range results {
		state.BuilderResults[name] = result
	}
	observeBuilderResults(d, results)
	if d.Metrics != nil {
		d.Metrics.ObserveFixAttempt()
	}
	state.FixAttempts++
	return types.PhaseQualityGating, sumBuilderCost(results), nil
}

func sumBuilderCost(results map[string]types.BuilderResult) decimal.Decimal {
	total := decimal.Zero
	for _, r := range results {
		total = total.Add(r.Cost)
	}
	return total
}

func loadQualityReport(path string) (types.QualityReport, error) {
	var report types.QualityReport
	raw, err := os.ReadFile(path)
	if err != nil {
		return report, goerrors.Wrap(err, "reading quality gate report")
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return report, goerrors.Wrap(err, "decoding quality gate report")
	}
	return report, nil
}

// renderFixInstructions reuses qualitygate.WriteFixInstructions against a
// scratch directory and reads the result back as a string, rather than
// duplicating its private markdown-rendering helpers (spec.md §4.7's
// FIX_INSTRUCTIONS.md format is owned by that package alone).
func renderFixInstructions(violations []types.Violation, graphRAG qualitygate.GraphRAGClient) (string, error) {
	scratch, err := os.MkdirTemp("", "fix-instructions")
	if err != nil {
		return "", goerrors.Wrap(err, "creating scratch directory")
	}
	defer os.RemoveAll(scratch)

	if err := qualitygate.WriteFixInstructions(scratch, violations, graphRAG); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(scratch, "FIX_INSTRUCTIONS.md"))
	if err != nil {
		return "", goerrors.Wrap(err, "reading rendered fix instructions")
	}
	return string(raw), nil
}
