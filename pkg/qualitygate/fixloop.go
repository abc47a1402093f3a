package qualitygate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Priority is the fix loop's urgency classification (spec.md §4.7).
type Priority int

const (
	PriorityP2 Priority = iota // low
	PriorityP1                 // medium
	PriorityP0                 // highest
)

func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	default:
		return "P2"
	}
}

// impactBoostThreshold is the default downstream-node count above which a
// violation's priority is bumped one level (spec.md §4.7).
const impactBoostThreshold = 10

// dependentsWarningLimit caps the "Dependencies Warning" section (spec.md §4.7).
const dependentsWarningLimit = 10

// ClassifyPriority assigns a priority by keyword heuristics on severity and
// code family (spec.md §4.7 step 1), then boosts it one level if graphRAG is
// available and the violated file's cross-service impact exceeds
// impactBoostThreshold.
func ClassifyPriority(v types.Violation, graphRAG GraphRAGClient) Priority {
	base := basePriority(v)
	if graphRAG == nil {
		return base
	}
	impacted := graphRAG.Dependents(v.FilePath, impactBoostThreshold+1)
	if len(impacted) > impactBoostThreshold {
		return boost(base)
	}
	return base
}

func basePriority(v types.Violation) Priority {
	switch v.Severity {
	case types.SeverityError:
		if strings.HasPrefix(v.Code, "SEC-") || strings.HasPrefix(v.Code, "CONV-") {
			return PriorityP0
		}
		return PriorityP1
	case types.SeverityWarning:
		return PriorityP1
	default: // info, advisory
		return PriorityP2
	}
}

func boost(p Priority) Priority {
	if p < PriorityP0 {
		return p + 1
	}
	return p
}

// GroupByService buckets violations by the service owning their file_path
// (spec.md §4.7 step 2: "violations whose file_path lives under service S
// are routed to builder S only").
func GroupByService(violations []types.Violation, services []types.ServiceDefinition) map[string][]types.Violation {
	out := make(map[string][]types.Violation)
	for _, v := range violations {
		service := v.Service
		if service == "" {
			service = ownerServiceOf(v.FilePath, services)
		}
		if service == "" {
			continue
		}
		out[service] = append(out[service], v)
	}
	return out
}

func ownerServiceOf(filePath string, services []types.ServiceDefinition) string {
	for _, svc := range services {
		if strings.HasPrefix(filePath, svc.Name+"/") {
			return svc.Name
		}
	}
	return ""
}

// fixInstructionsFileName is the name the fleet's builder subprocess reads
// fix guidance from (spec.md §4.7 step 3).
const fixInstructionsFileName = "FIX_INSTRUCTIONS.md"

// WriteFixInstructions writes outputDir/FIX_INSTRUCTIONS.md with P0/P1/P2
// sections in that order, each entry listing code, file:line, evidence, and
// suggested action, plus an optional Dependencies Warning section when
// graphRAG is available (spec.md §4.7 step 3).
func WriteFixInstructions(outputDir string, violations []types.Violation, graphRAG GraphRAGClient) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	byPriority := map[Priority][]types.Violation{}
	for _, v := range violations {
		p := ClassifyPriority(v, graphRAG)
		byPriority[p] = append(byPriority[p], v)
	}

	var b strings.Builder
	b.WriteString("# Fix Instructions\n\n")
	for _, p := range []Priority{PriorityP0, PriorityP1, PriorityP2} {
		group := byPriority[p]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].FilePath != group[j].FilePath {
				return group[i].FilePath < group[j].FilePath
			}
			return group[i].Line < group[j].Line
		})
		fmt.Fprintf(&b, "## %s\n\n", p.String())
		for _, v := range group {
			fmt.Fprintf(&b, "- `%s` at `%s:%d`\n", v.Code, v.FilePath, v.Line)
			if v.Evidence != "" {
				fmt.Fprintf(&b, "  - Evidence: %s\n", v.Evidence)
			}
			action := v.SuggestedFix
			if action == "" {
				action = v.Message
			}
			fmt.Fprintf(&b, "  - Action: %s\n", action)
		}
		b.WriteString("\n")
	}

	if graphRAG != nil {
		writeDependenciesWarning(&b, violations, graphRAG)
	}

	return os.WriteFile(filepath.Join(outputDir, fixInstructionsFileName), []byte(b.String()), 0o644)
}

func writeDependenciesWarning(b *strings.Builder, violations []types.Violation, graphRAG GraphRAGClient) {
	seenFiles := map[string]bool{}
	var warned []string
	for _, v := range violations {
		if v.FilePath == "" || seenFiles[v.FilePath] {
			continue
		}
		seenFiles[v.FilePath] = true
		dependents := graphRAG.Dependents(v.FilePath, dependentsWarningLimit)
		if len(dependents) == 0 {
			continue
		}
		warned = append(warned, fmt.Sprintf("- `%s` is depended on by: %s", v.FilePath, strings.Join(dependents, ", ")))
	}
	if len(warned) == 0 {
		return
	}
	b.WriteString("## Dependencies Warning\n\n")
	for _, line := range warned {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// MaxFixRetries is the default hard upper bound on fix-loop iterations
// (spec.md §4.7's "max_fix_retries (default 3)").
const MaxFixRetries = 3
