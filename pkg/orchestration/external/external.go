// Package external adapts the two out-of-scope collaborators named in
// spec.md §1 -- the Architect agent and the Integration step -- to the
// pipeline engine's ArchitectRunner/IntegrationRunner contracts, by
// shelling out to a configurable external command and reading back the
// artifact it is expected to have produced. This is the one place the CLI
// needs a concrete implementation of those interfaces; the engine itself
// never imports this package.
package external

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	goerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

const costSidecarSuffix = ".cost"

// runSubprocess runs command with args under ctx, piping stdout/stderr to the
// current process's, the same visibility fleet.Fleet gives builder
// subprocesses.
func runSubprocess(ctx context.Context, command string, args []string, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// readCostSidecar reads the optional "<artifactPath>.cost" file a
// subprocess may drop next to its artifact (a bare decimal string). A
// missing sidecar means the collaborator reported no cost.
func readCostSidecar(artifactPath string) decimal.Decimal {
	raw, err := os.ReadFile(artifactPath + costSidecarSuffix)
	if err != nil {
		return decimal.Zero
	}
	cost, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero
	}
	return cost
}

// SubprocessArchitect invokes an external Architect binary, expecting it
// to write service_map.json into runDir (spec.md §1/§2's "Architect
// (external) → service_map").
type SubprocessArchitect struct {
	Command string
	Timeout time.Duration
}

func (a SubprocessArchitect) Run(prdPath, runDir string) (string, decimal.Decimal, error) {
	serviceMapPath := filepath.Join(runDir, "service_map.json")
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	if err := runSubprocess(context.Background(), a.Command, []string{prdPath, runDir}, timeout); err != nil {
		return "", decimal.Zero, goerrors.Wrap(err, "architect subprocess failed")
	}
	if _, err := os.Stat(serviceMapPath); err != nil {
		return "", decimal.Zero, goerrors.Wrap(err, "architect did not produce service_map.json")
	}
	return serviceMapPath, readCostSidecar(serviceMapPath), nil
}

// SubprocessIntegration invokes an external Integration binary, expecting
// it to write integration_report.json into runDir after merging the
// builder fleet's output (spec.md §2's "Builder Fleet → Integration
// (external)"). Builder results are handed to the subprocess as a JSON
// file so it knows which services to merge.
type SubprocessIntegration struct {
	Command string
	Timeout time.Duration
}

func (i SubprocessIntegration) Run(runDir string, results map[string]types.BuilderResult) (string, decimal.Decimal, error) {
	resultsPath := filepath.Join(runDir, "builder_results.json")
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", decimal.Zero, goerrors.Wrap(err, "encoding builder results for integration")
	}
	if err := os.WriteFile(resultsPath, encoded, 0o644); err != nil {
		return "", decimal.Zero, goerrors.Wrap(err, "writing builder results for integration")
	}

	reportPath := filepath.Join(runDir, "integration_report.json")
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	if err := runSubprocess(context.Background(), i.Command, []string{runDir, resultsPath}, timeout); err != nil {
		return "", decimal.Zero, goerrors.Wrap(err, "integration subprocess failed")
	}
	if _, err := os.Stat(reportPath); err != nil {
		return "", decimal.Zero, goerrors.Wrap(err, "integration did not produce integration_report.json")
	}
	return reportPath, readCostSidecar(reportPath), nil
}
