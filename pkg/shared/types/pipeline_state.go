package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PipelineState is the process-wide run record (spec.md §3.1). It is owned
// exclusively by the Pipeline Engine; every other component reads it via a
// reference passed at call time and never mutates it directly.
type PipelineState struct {
	Phase            Phase                       `json:"phase"`
	RunID            string                      `json:"run_id"`
	PRDPath          string                      `json:"prd_path"`
	ServiceMapPath   string                      `json:"service_map_path,omitempty"`
	ContractIDs      map[string][]string         `json:"contract_ids,omitempty"`
	BuilderResults   map[string]BuilderResult    `json:"builder_results,omitempty"`
	QualityReportPath string                     `json:"quality_report_path,omitempty"`
	FixAttempts      int                         `json:"fix_attempts"`
	TotalCost        decimal.Decimal             `json:"total_cost"`
	PhaseCosts       map[string]decimal.Decimal  `json:"phase_costs,omitempty"`
	PhaseArtifacts   map[string]string           `json:"phase_artifacts,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// NewPipelineState creates the initial record for `init`.
func NewPipelineState(runID, prdPath string) *PipelineState {
	now := time.Now().UTC()
	return &PipelineState{
		Phase:          PhaseInitialized,
		RunID:          runID,
		PRDPath:        prdPath,
		ContractIDs:    map[string][]string{},
		BuilderResults: map[string]BuilderResult{},
		PhaseCosts:     map[string]decimal.Decimal{},
		PhaseArtifacts: map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RecomputeTotalCost restores the invariant total_cost == sum(phase_costs)
// (spec.md §3.1, §8). The pipeline engine calls this after every budget
// update so the saved state is never observed with a stale total.
func (s *PipelineState) RecomputeTotalCost() {
	total := decimal.Zero
	for _, c := range s.PhaseCosts {
		total = total.Add(c)
	}
	s.TotalCost = total
}

// Touch bumps UpdatedAt to now, preserving CreatedAt <= UpdatedAt.
func (s *PipelineState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a copy of s with its own ContractIDs, BuilderResults,
// PhaseCosts, and PhaseArtifacts maps. The pipeline engine does not call
// it; handlers work on the live state.
func (s *PipelineState) Clone() *PipelineState {
	clone := *s
	clone.ContractIDs = make(map[string][]string, len(s.ContractIDs))
	for k, v := range s.ContractIDs {
		cp := make([]string, len(v))
		copy(cp, v)
		clone.ContractIDs[k] = cp
	}
	clone.BuilderResults = make(map[string]BuilderResult, len(s.BuilderResults))
	for k, v := range s.BuilderResults {
		clone.BuilderResults[k] = v
	}
	clone.PhaseCosts = make(map[string]decimal.Decimal, len(s.PhaseCosts))
	for k, v := range s.PhaseCosts {
		clone.PhaseCosts[k] = v
	}
	clone.PhaseArtifacts = make(map[string]string, len(s.PhaseArtifacts))
	for k, v := range s.PhaseArtifacts {
		clone.PhaseArtifacts[k] = v
	}
	return &clone
}
