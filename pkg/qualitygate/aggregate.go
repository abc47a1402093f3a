package qualitygate

import (
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// defaultConvergenceThreshold is the ratio of builders that must report
// succeeded for ShouldPromote to pass, absent an override (spec.md §4.6).
const defaultConvergenceThreshold = 0.8

// isBlockingSeverity reports whether a violation of severity s counts
// toward its layer's BlockingCount: error and warning do. Aggregate applies
// it on every layer, Layer 4 included; only blocking layers can fail the
// verdict or ShouldPromote.
func isBlockingSeverity(s types.Severity) bool {
	return s == types.SeverityError || s == types.SeverityWarning
}

// Aggregate deduplicates violations by (code, file_path, line) across every
// layer -- keeping the highest severity on a collision -- computes each
// layer's LayerResult, and derives the overall verdict by precedence
// fail > advisory_only > pass (spec.md §4.6).
func Aggregate(fixAttempt int, perLayer map[types.Layer][]types.Violation) types.QualityReport {
	deduped := dedupe(perLayer)

	layerResults := make(map[types.Layer]types.LayerResult, len(perLayer))
	verdict := types.VerdictPass

	for layer, violations := range groupByLayer(deduped) {
		blocking := 0
		for _, v := range violations {
			if isBlockingSeverity(v.Severity) {
				blocking++
			}
		}
		passed := blocking == 0
		layerResults[layer] = types.LayerResult{
			Passed:        passed,
			Violations:    violations,
			BlockingCount: blocking,
		}

		switch {
		case !passed && layer.Blocking():
			verdict = types.HigherPrecedenceVerdict(verdict, types.VerdictFail)
		case !layer.Blocking() && len(violations) > 0:
			verdict = types.HigherPrecedenceVerdict(verdict, types.VerdictAdvisoryOnly)
		}
	}

	return types.QualityReport{
		Verdict:      verdict,
		LayerResults: layerResults,
		Violations:   deduped,
		FixAttempt:   fixAttempt,
	}
}

// dedupe collapses violations sharing a (code, file_path, line) key across
// all layers, keeping the highest severity among duplicates. Layer order
// within the result follows first occurrence across a stable layer
// iteration (1..4).
func dedupe(perLayer map[types.Layer][]types.Violation) []types.Violation {
	seen := map[[3]string]int{} // dedupe key -> index into out
	var out []types.Violation

	for layer := types.LayerConvergence; layer <= types.LayerAdversarial; layer++ {
		for _, v := range perLayer[layer] {
			key := v.DedupeKey()
			if idx, ok := seen[key]; ok {
				out[idx].Severity = types.HigherSeverity(out[idx].Severity, v.Severity)
				continue
			}
			seen[key] = len(out)
			out = append(out, v)
		}
	}
	return out
}

func groupByLayer(violations []types.Violation) map[types.Layer][]types.Violation {
	out := make(map[types.Layer][]types.Violation)
	for l := types.LayerConvergence; l <= types.LayerAdversarial; l++ {
		out[l] = nil
	}
	for _, v := range violations {
		out[v.Layer] = append(out[v.Layer], v)
	}
	return out
}

// ShouldPromote reports pass iff every blocking layer has zero blocking
// violations and the convergence ratio meets threshold (default 0.8, per
// spec.md §4.6). threshold <= 0 uses the default.
func ShouldPromote(report types.QualityReport, convergenceRatio float64, threshold float64) bool {
	if threshold <= 0 {
		threshold = defaultConvergenceThreshold
	}
	if convergenceRatio < threshold {
		return false
	}
	for layer, result := range report.LayerResults {
		if layer.Blocking() && result.BlockingCount > 0 {
			return false
		}
	}
	return true
}
