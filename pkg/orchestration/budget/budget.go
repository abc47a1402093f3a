// Package budget tracks per-phase LLM spend and enforces an optional total
// cost ceiling (spec.md §4.2).
package budget

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Status is the outcome of a budget check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusExceeded Status = "exceeded"
)

// Controller accumulates per-phase cost and total cost, using decimal
// arithmetic throughout so cost accounting never drifts under float error.
// All methods are safe for concurrent use: the Builder Fleet ends phases
// from multiple goroutines.
type Controller struct {
	mu         sync.Mutex
	phaseCosts map[types.Phase]decimal.Decimal
	started    map[types.Phase]bool
	totalCost  decimal.Decimal
}

// New returns an empty Controller.
func New() *Controller {
	return &Controller{
		phaseCosts: make(map[types.Phase]decimal.Decimal),
		started:    make(map[types.Phase]bool),
	}
}

// StartPhase records that phase has begun accruing cost. Calling StartPhase
// more than once for the same phase is harmless.
func (c *Controller) StartPhase(phase types.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started[phase] = true
	if _, ok := c.phaseCosts[phase]; !ok {
		c.phaseCosts[phase] = decimal.Zero
	}
}

// EndPhase accumulates cost into phase and the running total. A phase ending
// without a matching StartPhase is accepted silently, treated as a one-shot
// phase (spec.md §4.2 edge cases). cost must be non-negative; a negative
// value is clamped to zero rather than allowed to reduce the total.
func (c *Controller) EndPhase(phase types.Phase, cost decimal.Decimal) {
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseCosts[phase] = c.phaseCosts[phase].Add(cost)
	c.totalCost = c.totalCost.Add(cost)
}

// TotalCost returns the running total across all phases.
func (c *Controller) TotalCost() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// PhaseCost returns the accumulated cost for one phase. A phase that was
// never started or ended reports zero, which is indistinguishable from a
// phase that explicitly ended with zero cost (spec.md §4.2 edge case: "cost
// of exactly zero ... must not collapse to unstarted" — callers that need to
// tell the two apart should consult WasStarted).
func (c *Controller) PhaseCost(phase types.Phase) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phaseCosts[phase]
}

// WasStarted reports whether phase ever had StartPhase or EndPhase called on it.
func (c *Controller) WasStarted(phase types.Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started[phase] {
		return true
	}
	_, ok := c.phaseCosts[phase]
	return ok
}

// CheckBudget reports StatusExceeded once total cost reaches limit. A nil
// limit means no ceiling is configured and the check always passes.
func (c *Controller) CheckBudget(limit *decimal.Decimal) Status {
	if limit == nil {
		return StatusOK
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalCost.GreaterThanOrEqual(*limit) {
		return StatusExceeded
	}
	return StatusOK
}

// ToDict round-trips the controller's state through PipelineState.PhaseCosts
// and TotalCost (spec.md §4.2).
func (c *Controller) ToDict() (phaseCosts map[types.Phase]decimal.Decimal, total decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.Phase]decimal.Decimal, len(c.phaseCosts))
	for k, v := range c.phaseCosts {
		out[k] = v
	}
	return out, c.totalCost
}

// FromDict restores a Controller's state from persisted phase costs. The
// total is recomputed as the sum of phase costs rather than trusted
// verbatim, so a state file hand-edited or corrupted mid-write can't
// desynchronize the two.
func FromDict(phaseCosts map[types.Phase]decimal.Decimal) *Controller {
	c := New()
	total := decimal.Zero
	for phase, cost := range phaseCosts {
		c.phaseCosts[phase] = cost
		c.started[phase] = true
		total = total.Add(cost)
	}
	c.totalCost = total
	return c
}

// ToStateMap renders the controller's phase costs into the string-keyed form
// PipelineState.PhaseCosts persists to JSON.
func (c *Controller) ToStateMap() map[string]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(c.phaseCosts))
	for k, v := range c.phaseCosts {
		out[string(k)] = v
	}
	return out
}

// FromStateMap restores a Controller from PipelineState.PhaseCosts' string-keyed form.
func FromStateMap(phaseCosts map[string]decimal.Decimal) *Controller {
	typed := make(map[types.Phase]decimal.Decimal, len(phaseCosts))
	for k, v := range phaseCosts {
		typed[types.Phase(k)] = v
	}
	return FromDict(typed)
}
