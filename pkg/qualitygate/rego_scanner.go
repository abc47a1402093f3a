package qualitygate

import (
	"context"

	goerrors "github.com/go-faster/errors"

	"github.com/buildforge/buildforge/pkg/qualitygate/policy"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// regoInput is what a Layer 3/4 Rego policy receives as its evaluation
// input: the full target, flattened to plain types Rego can index.
type regoInput struct {
	RunID          string                           `json:"run_id"`
	FixAttempt     int                              `json:"fix_attempt"`
	Services       []types.ServiceDefinition        `json:"services"`
	BuilderResults map[string]types.BuilderResult   `json:"builder_results"`
}

// RegoScanner adapts a compiled policy.Evaluator to the Scanner interface,
// the concrete implementation a Layer 3 or Layer 4 scanner key in
// quality_gate.layer3_scanners / quality_gate.layer4_enabled resolves to
// (spec.md §4.6: "Layer 3 (system)" and "Layer 4 (adversarial)" scanners
// share one compile-once evaluation harness; only the policy content and
// declared layer differ).
type RegoScanner struct {
	name      string
	layer     types.Layer
	evaluator *policy.Evaluator
}

// NewRegoScanner wraps an already-compiled evaluator. name identifies the
// scanner for logging and report attribution; layer must be LayerSystem or
// LayerAdversarial.
func NewRegoScanner(name string, layer types.Layer, evaluator *policy.Evaluator) RegoScanner {
	return RegoScanner{name: name, layer: layer, evaluator: evaluator}
}

func (s RegoScanner) Name() string       { return s.name }
func (s RegoScanner) Layer() types.Layer { return s.layer }

func (s RegoScanner) Scan(ctx context.Context, target Target) ([]types.Violation, error) {
	input := regoInput{
		RunID:          target.RunID,
		FixAttempt:     target.FixAttempt,
		Services:       target.ServiceMap.Services,
		BuilderResults: target.BuilderResults,
	}
	var violations []types.Violation
	if err := s.evaluator.Evaluate(ctx, input, &violations); err != nil {
		return nil, goerrors.Wrapf(err, "evaluating %s policy", s.name)
	}
	for i := range violations {
		violations[i].Layer = s.layer
		violations[i].FixAttempt = target.FixAttempt
	}
	return violations, nil
}
