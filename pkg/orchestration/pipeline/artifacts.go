package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	goerrors "github.com/go-faster/errors"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Artifact file names written under runDir, per spec.md's persisted-state
// layout section.
const (
	serviceMapFileName        = "service_map.json"
	integrationReportFileName = "integration_report.json"
	qualityReportJSONFileName = "quality_gate_report.json"
	qualityReportMDFileName   = "QUALITY_GATE_REPORT.md"
)

func loadServiceMap(path string) (types.ServiceMap, error) {
	sm, err := types.LoadServiceMap(path)
	if err != nil {
		return sm, goerrors.Wrap(err, "reading service map")
	}
	return sm, nil
}

func writeJSONArtifact(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerrors.Wrap(err, "marshaling artifact")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return goerrors.Wrap(err, "creating artifact directory")
	}
	return os.WriteFile(path, raw, 0o644)
}

// renderQualityGateReportMarkdown produces the human-facing summary
// alongside the machine-readable quality_gate_report.json (spec.md's
// persisted-state layout: "QUALITY_GATE_REPORT.md").
func renderQualityGateReportMarkdown(report types.QualityReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Quality Gate Report\n\n")
	fmt.Fprintf(&b, "Verdict: **%s**  \n", report.Verdict)
	fmt.Fprintf(&b, "Fix attempt: %d\n\n", report.FixAttempt)

	layers := make([]types.Layer, 0, len(report.LayerResults))
	for l := range report.LayerResults {
		layers = append(layers, l)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i] < layers[j] })

	for _, l := range layers {
		lr := report.LayerResults[l]
		status := "passed"
		if !lr.Passed {
			status = "failed"
		}
		fmt.Fprintf(&b, "## Layer %d (%s, %d blocking)\n\n", l, status, lr.BlockingCount)
		for _, v := range lr.Violations {
			fmt.Fprintf(&b, "- `%s` [%s] %s:%d -- %s\n", v.Code, v.Severity, v.FilePath, v.Line, v.Message)
		}
		b.WriteString("\n")
	}

	if len(report.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, r := range report.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}
