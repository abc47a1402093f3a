package qualitygate

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Engine runs every registered scanner and aggregates their output into a
// QualityReport (spec.md §4.6's "Engine contract").
type Engine struct {
	scanners         []Scanner
	graphRAG         GraphRAGClient // nil means unavailable; every consultation below degrades transparently
	logger           *zap.Logger
	convergenceRatio float64
}

// NewEngine builds an engine from scanners plus an optional Graph RAG
// client. Layer ordering within Run is fixed by spec.md §5, not by
// registration order.
func NewEngine(scanners []Scanner, graphRAG GraphRAGClient, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{scanners: scanners, graphRAG: graphRAG, logger: logger}
}

func (e *Engine) scannersFor(layer types.Layer) []Scanner {
	var out []Scanner
	for _, s := range e.scanners {
		if s.Layer() == layer {
			out = append(out, s)
		}
	}
	return out
}

// runLayer runs every scanner registered for layer concurrently and
// concatenates their output (spec.md §5: "each scanner may be launched as a
// separate task and awaited together").
func (e *Engine) runLayer(ctx context.Context, layer types.Layer, target Target) []types.Violation {
	scanners := e.scannersFor(layer)
	results := make([][]types.Violation, len(scanners))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range scanners {
		i, s := i, s
		g.Go(func() error {
			violations, err := s.Scan(gctx, target)
			if err != nil {
				e.logger.Warn("scanner failed", zap.String("scanner", s.Name()), zap.Error(err))
				return nil // a failing scanner degrades to "no findings," never aborts the gate
			}
			results[i] = violations
			return nil
		})
	}
	_ = g.Wait()

	var out []types.Violation
	for _, r := range results {
		out = append(out, r...)
	}
	return e.applyGraphRAGSuppression(out)
}

// applyGraphRAGSuppression implements spec.md §4.6's ADV-001/ADV-002
// suppression rules. Absence of a client is transparent: violations pass
// through unmodified.
func (e *Engine) applyGraphRAGSuppression(violations []types.Violation) []types.Violation {
	if e.graphRAG == nil {
		return violations
	}
	var out []types.Violation
	for _, v := range violations {
		switch v.Code {
		case "ADV-001": // dead event handler
			if e.graphRAG.CheckCrossServiceEvents(v.Evidence, v.Service) {
				continue
			}
		case "ADV-002": // dead contract
			if e.graphRAG.HasInboundServiceCalls(v.FilePath) {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// Run executes all four layers per spec.md §4.6/§5's ordering: Layer 1 ≤
// Layer 2 ≤ Layer 3 (each reads artifacts the previous layer wrote), and
// Layer 4 runs concurrently with Layer 3 since it never blocks and reads
// only static artifacts.
func (e *Engine) Run(ctx context.Context, target Target) types.QualityReport {
	layer1 := e.runLayer(ctx, types.LayerConvergence, target)
	layer2 := e.runLayer(ctx, types.LayerContract, target)

	var layer3, layer4 []types.Violation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { layer3 = e.runLayer(gctx, types.LayerSystem, target); return nil })
	g.Go(func() error { layer4 = e.runLayer(gctx, types.LayerAdversarial, target); return nil })
	_ = g.Wait()

	perLayer := map[types.Layer][]types.Violation{
		types.LayerConvergence: layer1,
		types.LayerContract:    layer2,
		types.LayerSystem:      layer3,
		types.LayerAdversarial: layer4,
	}
	report := Aggregate(target.FixAttempt, perLayer)
	sortViolations(report.Violations)
	return report
}

func sortViolations(violations []types.Violation) {
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Layer != violations[j].Layer {
			return violations[i].Layer < violations[j].Layer
		}
		if violations[i].FilePath != violations[j].FilePath {
			return violations[i].FilePath < violations[j].FilePath
		}
		return violations[i].Line < violations[j].Line
	})
}
