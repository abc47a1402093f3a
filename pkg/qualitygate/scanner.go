// Package qualitygate implements the four-layer scanner ensemble, the
// deduplicating aggregator, and the fix loop described in spec.md §4.6/§4.7.
// Individual scanner rule regexes (SEC-*, ADV-*, DOCKER-*) are out of scope
// per spec.md's Non-goals; Scanner is the pluggable seam a concrete rule set
// would be registered through.
package qualitygate

import (
	"context"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Target is what one scanner run inspects: the builder outputs and
// artifacts produced for a single pipeline run.
type Target struct {
	RunID          string
	FixAttempt     int
	BuilderResults map[string]types.BuilderResult
	ServiceMap     types.ServiceMap
}

// Scanner produces zero or more violations for one layer. Scanners on the
// same layer run concurrently against the same Target (spec.md §5: "each
// scanner may be launched as a separate task and awaited together").
type Scanner interface {
	Name() string
	Layer() types.Layer
	Scan(ctx context.Context, target Target) ([]types.Violation, error)
}

// GraphRAGClient is the subset of the Graph RAG indexer Layer 3 consults to
// suppress false positives (spec.md §4.6): "before flagging ADV-001 ...
// calls check_cross_service_events and suppresses the violation if a
// cross-service publisher exists. Before flagging ADV-002 ... checks for
// inbound SERVICE_CALLS edges." A nil client means "unavailable"; scanners
// must fall back to local-only analysis rather than error.
type GraphRAGClient interface {
	CheckCrossServiceEvents(eventName, consumerService string) bool
	HasInboundServiceCalls(nodeID string) bool
	// Dependents returns up to limit one-hop callers of nodeID, used by the
	// fix loop's priority boost and "Dependencies Warning" section (spec.md
	// §4.7).
	Dependents(nodeID string, limit int) []string
}

// ConvergenceScanner is Layer 1: it inspects builder-reported test results
// and flags any non-succeeded builder as a blocking violation (spec.md
// §4.6's "Builder-reported test results" concern).
type ConvergenceScanner struct{}

func (ConvergenceScanner) Name() string        { return "convergence" }
func (ConvergenceScanner) Layer() types.Layer  { return types.LayerConvergence }

func (ConvergenceScanner) Scan(_ context.Context, target Target) ([]types.Violation, error) {
	var violations []types.Violation
	for service, result := range target.BuilderResults {
		if result.Status == types.BuilderSucceeded {
			continue
		}
		violations = append(violations, types.Violation{
			Code:       "CONV-001",
			Layer:      types.LayerConvergence,
			Severity:   types.SeverityError,
			Service:    service,
			Message:    "builder did not report success: " + string(result.Status),
			Evidence:   result.ErrorMessage,
			FixAttempt: target.FixAttempt,
		})
	}
	return violations, nil
}

// ConvergenceRatio returns the fraction of builders that reported
// succeeded, used by ShouldPromote's convergence-threshold check.
func ConvergenceRatio(results map[string]types.BuilderResult) float64 {
	if len(results) == 0 {
		return 1
	}
	succeeded := 0
	for _, r := range results {
		if r.Status == types.BuilderSucceeded {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(results))
}
