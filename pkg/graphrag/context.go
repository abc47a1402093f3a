package graphrag

import (
	"fmt"
	"strings"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// defaultContextTokenBudget mirrors config's graph_rag.context_token_budget
// default (spec.md §4.5).
const defaultContextTokenBudget = 2000

// approxCharsPerToken matches spec.md §4.5's "~8000 chars" for a
// 2000-token budget.
const approxCharsPerToken = 4

const truncationMarker = "[... truncated ...]"

// contextSection is one ranked block of the assembled context (spec.md
// §4.5's seven-section table, in priority order).
type contextSection struct {
	rank  int
	title string
	body  string
}

// AssembleServiceContext builds the per-service markdown context block
// described in spec.md §4.5, truncating to tokenBudget (in tokens; pass 0
// for the documented default) by dropping lowest-ranked sections first and
// cutting the last retained section mid-content if still over budget.
func (g *Graph) AssembleServiceContext(service string, iface types.ServiceInterface, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = defaultContextTokenBudget
	}
	charBudget := tokenBudget * approxCharsPerToken

	serviceID := NodeID(types.NodeService, service)
	sections := []contextSection{
		{1, "Service Dependencies", g.renderDependencies(serviceID)},
		{2, "APIs This Service Must Consume", renderConsumedAPIs(iface)},
		{3, "Referenced Entities", g.renderReferencedEntities(serviceID)},
		{4, "Provided APIs", g.renderProvidedAPIs(serviceID)},
		{5, "Events Published / Consumed", renderEvents(iface)},
		{6, "Owned Entities", g.renderOwnedEntities(serviceID)},
		{7, "Integration Notes", ""},
	}

	return renderWithBudget(sections, charBudget)
}

func renderWithBudget(sections []contextSection, charBudget int) string {
	var kept []contextSection
	for _, s := range sections {
		if strings.TrimSpace(s.body) != "" {
			kept = append(kept, s)
		}
	}

	for {
		total := 0
		for _, s := range kept {
			total += len(renderSection(s))
		}
		// Always retain at least the single highest-priority section -- it
		// gets truncated below rather than dropped entirely.
		if total <= charBudget || len(kept) <= 1 {
			break
		}
		// Drop the lowest-ranked (highest rank number) retained section first.
		lowest := 0
		for i, s := range kept {
			if s.rank > kept[lowest].rank {
				lowest = i
			}
		}
		kept = append(kept[:lowest], kept[lowest+1:]...)
	}

	var b strings.Builder
	remaining := charBudget
	for _, s := range kept {
		rendered := renderSection(s)
		if len(rendered) > remaining {
			rendered = rendered[:max0(remaining-len(truncationMarker))] + truncationMarker
		}
		b.WriteString(rendered)
		b.WriteString("\n\n")
		remaining -= len(rendered)
	}
	return strings.TrimSpace(b.String())
}

func renderSection(s contextSection) string {
	return fmt.Sprintf("## %s\n\n%s", s.title, s.body)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (g *Graph) renderDependencies(serviceID string) string {
	var calls, calledBy []string
	for _, e := range g.OutEdges(serviceID) {
		if e.Relation == types.RelServiceCalls {
			calls = append(calls, e.Target)
		}
	}
	for _, e := range g.InEdges(serviceID) {
		if e.Relation == types.RelServiceCalls {
			calledBy = append(calledBy, e.Source)
		}
	}
	if len(calls) == 0 && len(calledBy) == 0 {
		return "No known cross-service dependencies."
	}
	var b strings.Builder
	if len(calls) > 0 {
		fmt.Fprintf(&b, "- Calls: %s\n", strings.Join(calls, ", "))
	}
	if len(calledBy) > 0 {
		fmt.Fprintf(&b, "- Called by: %s\n", strings.Join(calledBy, ", "))
	}
	return b.String()
}

func renderConsumedAPIs(iface types.ServiceInterface) string {
	var lines []string
	for _, ep := range iface.Endpoints {
		if ep.Provider != "" && ep.Provider != iface.Service {
			lines = append(lines, fmt.Sprintf("- %s %s (provided by %s)", ep.Method, ep.Path, ep.Provider))
		}
	}
	return strings.Join(lines, "\n")
}

func (g *Graph) renderReferencedEntities(serviceID string) string {
	var lines []string
	for _, e := range g.OutEdges(serviceID) {
		if e.Relation == types.RelServiceCalls {
			for _, entityEdge := range g.OutEdges(e.Target) {
				if entityEdge.Relation == types.RelOwnsEntity {
					lines = append(lines, "- "+entityEdge.Target)
				}
			}
		}
	}
	return strings.Join(lines, "\n")
}

func (g *Graph) renderProvidedAPIs(serviceID string) string {
	var lines []string
	for _, e := range g.OutEdges(serviceID) {
		if e.Relation == types.RelExposesEndpoint {
			node := g.Node(e.Target)
			if node != nil {
				lines = append(lines, fmt.Sprintf("- %v %v", node.Attributes["method"], node.Attributes["path"]))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func renderEvents(iface types.ServiceInterface) string {
	var lines []string
	for _, ev := range iface.Events {
		lines = append(lines, fmt.Sprintf("- %s (%s)", ev.Name, ev.Direction))
	}
	return strings.Join(lines, "\n")
}

func (g *Graph) renderOwnedEntities(serviceID string) string {
	var lines []string
	for _, e := range g.OutEdges(serviceID) {
		if e.Relation == types.RelOwnsEntity {
			lines = append(lines, "- "+e.Target)
		}
	}
	return strings.Join(lines, "\n")
}
