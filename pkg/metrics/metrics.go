// Package metrics exposes the pipeline's Prometheus collectors: phase
// durations and cost, builder outcomes, and quality gate violations (spec.md
// §4.8, §5). The teacher carries no surviving production registration code
// for this concern (only a deferred integration test), so the collector
// layout below follows the sibling pack's promauto-free registration idiom
// (explicit prometheus.New*Vec + registry.MustRegister in an init-style
// constructor).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

const namespace = "buildforge"

// Collectors holds every metric the pipeline publishes, registered against a
// single private registry so multiple Engine instances in the same process
// (e.g. tests) never collide on global MustRegister panics.
type Collectors struct {
	registry *prometheus.Registry

	phaseTransitions *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	phaseCost        *prometheus.HistogramVec

	builderRuns     *prometheus.CounterVec
	builderDuration *prometheus.HistogramVec

	violations   *prometheus.CounterVec
	fixAttempts  prometheus.Counter
	runOutcomes  *prometheus.CounterVec
	totalCostSet prometheus.Gauge
}

// New creates a fresh, independently-registered set of collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		registry: reg,

		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "phase_transitions_total",
				Help:      "Total number of pipeline phase transitions, by source phase and outcome.",
			},
			[]string{"phase", "outcome"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "phase_duration_seconds",
				Help:      "Wall-clock duration spent in a single phase handler invocation.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~6.8m
			},
			[]string{"phase"},
		),
		phaseCost: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "phase_cost_dollars",
				Help:      "Model/tool cost incurred by a single phase, in dollars.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"phase"},
		),

		builderRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fleet",
				Name:      "builder_runs_total",
				Help:      "Total number of per-service builder runs, by terminal status.",
			},
			[]string{"service", "status"},
		),
		builderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "fleet",
				Name:      "builder_duration_seconds",
				Help:      "Wall-clock duration of a single builder run.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
			},
			[]string{"service"},
		),

		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "qualitygate",
				Name:      "violations_total",
				Help:      "Total number of quality gate violations found, by layer and severity.",
			},
			[]string{"layer", "severity"},
		),
		fixAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "qualitygate",
				Name:      "fix_attempts_total",
				Help:      "Total number of fix-pass re-invocations across all runs.",
			},
		),
		runOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "run_outcomes_total",
				Help:      "Total number of completed runs, by terminal phase.",
			},
			[]string{"phase"},
		),
		totalCostSet: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "last_run_total_cost_dollars",
				Help:      "Total accumulated cost of the most recently observed run.",
			},
		),
	}

	reg.MustRegister(
		c.phaseTransitions,
		c.phaseDuration,
		c.phaseCost,
		c.builderRuns,
		c.builderDuration,
		c.violations,
		c.fixAttempts,
		c.runOutcomes,
		c.totalCostSet,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return c
}

// Handler returns an HTTP handler exposing the registered collectors in the
// Prometheus exposition format, for statusapi to mount at /metrics.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gather returns the current value of every registered collector as
// protobuf metric families, for callers (tests, or an in-process
// diagnostics command) that want to inspect values directly rather than
// scrape the text exposition format through Handler.
func (c *Collectors) Gather() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}

// ObservePhaseTransition records one phase handler invocation: its source
// phase, outcome ("ok" or "error"), duration, and incurred cost.
func (c *Collectors) ObservePhaseTransition(phase types.Phase, ok bool, durationSeconds, costDollars float64) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.phaseTransitions.WithLabelValues(string(phase), outcome).Inc()
	c.phaseDuration.WithLabelValues(string(phase)).Observe(durationSeconds)
	if costDollars > 0 {
		c.phaseCost.WithLabelValues(string(phase)).Observe(costDollars)
	}
}

// ObserveBuilderRun records the terminal status and duration of one
// per-service builder run (spec.md §4.5's BuilderResult.Status values).
func (c *Collectors) ObserveBuilderRun(service string, status types.BuilderStatus, durationSeconds float64) {
	c.builderRuns.WithLabelValues(service, string(status)).Inc()
	c.builderDuration.WithLabelValues(service).Observe(durationSeconds)
}

// ObserveViolations increments the violation counter once per violation
// found in a quality gate report, grouped by layer and severity.
func (c *Collectors) ObserveViolations(violations []types.Violation) {
	for _, v := range violations {
		c.violations.WithLabelValues(itoaLayer(v.Layer), string(v.Severity)).Inc()
	}
}

// ObserveFixAttempt records one fix-pass re-invocation.
func (c *Collectors) ObserveFixAttempt() {
	c.fixAttempts.Inc()
}

// ObserveRunOutcome records a run reaching a terminal phase and the total
// cost it accumulated.
func (c *Collectors) ObserveRunOutcome(phase types.Phase, totalCostDollars float64) {
	c.runOutcomes.WithLabelValues(string(phase)).Inc()
	c.totalCostSet.Set(totalCostDollars)
}

func itoaLayer(l types.Layer) string {
	return itoaSmall(int(l))
}

func itoaSmall(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}
