package types

import "github.com/shopspring/decimal"

// BuilderStatus is the lifecycle state of one builder subprocess (spec.md §3.1).
type BuilderStatus string

const (
	BuilderPending   BuilderStatus = "pending"
	BuilderRunning   BuilderStatus = "running"
	BuilderSucceeded BuilderStatus = "succeeded"
	BuilderFailed    BuilderStatus = "failed"
	BuilderTimeout   BuilderStatus = "timeout"
)

// IsTerminal reports whether a builder will not transition further.
func (s BuilderStatus) IsTerminal() bool {
	return s == BuilderSucceeded || s == BuilderFailed || s == BuilderTimeout
}

// BuilderResult is the outcome of one builder subprocess (spec.md §3.1).
// Terminal statuses must carry non-nil DurationMs/ExitCode; this invariant
// is enforced by fleet.newTerminalResult rather than at the type level so
// zero-value construction stays cheap in tests.
type BuilderResult struct {
	ServiceName  string        `json:"service_name"`
	Status       BuilderStatus `json:"status"`
	OutputDir    string        `json:"output_dir"`
	Cost         decimal.Decimal `json:"cost"`
	DurationMs   *int64        `json:"duration_ms,omitempty"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// ServiceDefinition is the architect-produced description of one service in
// the service map (spec.md §2, "Architect store"). It is consumed as a JSON
// artifact, never produced by this system.
type ServiceDefinition struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Language      string            `json:"language"`
	DependsOn     []string          `json:"depends_on,omitempty"`
	DomainEntities []string         `json:"domain_entities,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ServiceMap is the Architect's output artifact (spec.md §2 data flow).
type ServiceMap struct {
	Services []ServiceDefinition `json:"services"`
}

// ServiceInterface is the pipeline-prefetched endpoint/event description for
// one service (spec.md §4.5 phase 1: "pre-fetched by the pipeline and passed
// in as a JSON argument — the indexer never computes it itself").
type ServiceInterface struct {
	Service   string             `json:"service"`
	Endpoints []EndpointInterface `json:"endpoints,omitempty"`
	Events    []EventInterface    `json:"events,omitempty"`
}

// EndpointInterface describes one HTTP endpoint exposed or consumed by a service.
type EndpointInterface struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Provider string `json:"provider,omitempty"` // service that implements this endpoint, if known
}

// EventInterface describes one asynchronous event published or consumed.
type EventInterface struct {
	Name      string `json:"name"`
	Direction string `json:"direction"` // "publishes" | "consumes"
}
