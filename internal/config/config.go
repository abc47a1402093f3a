// Package config loads and validates the pipeline's YAML configuration
// (spec.md §6 "Configuration schema"). It mirrors the teacher's config
// package: YAML via gopkg.in/yaml.v3, field validation via
// go-playground/validator, and explicit unknown-key handling.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/buildforge/buildforge/internal/errors"
)

// ArchitectConfig controls the (external, out-of-scope) Architect phase.
type ArchitectConfig struct {
	Timeout     int  `yaml:"timeout" validate:"gte=0"`
	MaxRetries  int  `yaml:"max_retries" validate:"gte=0"`
	AutoApprove bool `yaml:"auto_approve"`
}

// BuilderConfig controls the Builder Fleet (spec.md §4.4).
type BuilderConfig struct {
	MaxConcurrent      int    `yaml:"max_concurrent" validate:"gte=1"`
	TimeoutPerBuilder  int    `yaml:"timeout_per_builder" validate:"gte=0"`
	Depth              string `yaml:"depth" validate:"omitempty,oneof=quick standard thorough"`
}

// IntegrationConfig controls the (external) integration phase.
type IntegrationConfig struct {
	Timeout int `yaml:"timeout" validate:"gte=0"`
}

// QualityGateConfig controls the Quality Gate and Fix Loop (spec.md §4.6, §4.7).
type QualityGateConfig struct {
	MaxFixRetries   int      `yaml:"max_fix_retries" validate:"gte=0"`
	Layer3Scanners  []string `yaml:"layer3_scanners"`
	Layer4Enabled   bool     `yaml:"layer4_enabled"`
	RegoPolicyPath  string   `yaml:"rego_policy_path"`
}

// GraphRAGConfig controls the Graph RAG Indexer (spec.md §4.5).
type GraphRAGConfig struct {
	Enabled           bool    `yaml:"enabled"`
	ContextTokenBudget int    `yaml:"context_token_budget" validate:"gte=0"`
	SemanticWeight    float64 `yaml:"semantic_weight" validate:"gte=0,lte=1"`
	GraphWeight       float64 `yaml:"graph_weight" validate:"gte=0,lte=1"`
}

// StatusServerConfig controls the optional local status HTTP server
// (spec.md §9) started by the `serve` command.
type StatusServerConfig struct {
	Addr string `yaml:"addr"`
}

// Mode is the deployment mode for builder output (spec.md §6).
type Mode string

const (
	ModeDocker Mode = "docker"
	ModeMCP    Mode = "mcp"
	ModeAuto   Mode = "auto"
)

// Config is the top-level recognized configuration schema (spec.md §6).
type Config struct {
	Architect    ArchitectConfig   `yaml:"architect"`
	Builder      BuilderConfig     `yaml:"builder"`
	Integration  IntegrationConfig `yaml:"integration"`
	QualityGate  QualityGateConfig `yaml:"quality_gate"`
	GraphRAG     GraphRAGConfig    `yaml:"graph_rag"`
	StatusServer StatusServerConfig `yaml:"status_server"`
	BudgetLimit  *float64          `yaml:"budget_limit"`
	OutputDir    string            `yaml:"output_dir"`
	Mode         Mode              `yaml:"mode" validate:"omitempty,oneof=docker mcp auto"`
}

// knownTopLevelKeys is used to reject unrecognized top-level keys (spec.md
// §6: "Unknown top-level keys are rejected with a user error").
var knownTopLevelKeys = map[string]bool{
	"architect": true, "builder": true, "integration": true,
	"quality_gate": true, "graph_rag": true, "status_server": true,
	"budget_limit": true, "output_dir": true, "mode": true,
}

// Default returns the configuration's documented defaults (spec.md §4.2-§4.7).
func Default() *Config {
	return &Config{
		Architect: ArchitectConfig{Timeout: 300, MaxRetries: 3, AutoApprove: false},
		Builder: BuilderConfig{
			MaxConcurrent:     3,
			TimeoutPerBuilder: 1800,
			Depth:             "standard",
		},
		Integration: IntegrationConfig{Timeout: 600},
		QualityGate: QualityGateConfig{
			MaxFixRetries:  3,
			Layer3Scanners: []string{"security", "observability"},
			Layer4Enabled:  true,
		},
		GraphRAG: GraphRAGConfig{
			Enabled:            true,
			ContextTokenBudget: 2000,
			SemanticWeight:     0.5,
			GraphWeight:        0.5,
		},
		StatusServer: StatusServerConfig{Addr: "127.0.0.1:8090"},
		OutputDir:    "./runs",
		Mode:         ModeAuto,
	}
}

var validate = validator.New()

// Load reads, merges-over-defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "reading config file %s", path)
	}
	return Parse(raw)
}

// Parse loads configuration from raw YAML bytes, rejecting unknown
// top-level keys. Unknown nested keys are ignored without a warning.
func Parse(raw []byte) (*Config, error) {
	var asMap map[string]interface{}
	if err := yaml.Unmarshal(raw, &asMap); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "parsing config YAML")
	}
	for key := range asMap {
		if !knownTopLevelKeys[key] {
			return nil, apperrors.New(apperrors.ErrorTypeUserError,
				fmt.Sprintf("unknown configuration key %q", key))
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "parsing config YAML")
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeUserError, "invalid configuration")
	}
	if cfg.GraphRAG.SemanticWeight+cfg.GraphRAG.GraphWeight > 1.0+1e-9 {
		return nil, apperrors.New(apperrors.ErrorTypeUserError,
			"graph_rag.semantic_weight + graph_rag.graph_weight must sum to <= 1")
	}
	return cfg, nil
}

// Seconds converts a count of seconds to a time.Duration; Timeout fields are stored
// as plain seconds in YAML but consumed as time.Duration everywhere else.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Template renders a fully-commented config YAML documenting every
// recognized key and its default (spec.md §6's `config-template` command).
// It is built by hand rather than marshalling Default(), since yaml.v3
// cannot attach per-field comments to a struct it didn't parse from
// source.
func Template() string {
	return `# buildforge pipeline configuration.
# Unknown top-level keys are rejected; unknown nested keys are ignored
# without a warning.

architect:
  timeout: 300          # seconds before the architect phase is retried
  max_retries: 3
  auto_approve: false   # skip human review of the service map

builder:
  max_concurrent: 3        # builder fleet semaphore size
  timeout_per_builder: 1800 # seconds
  depth: standard           # quick | standard | thorough

integration:
  timeout: 600 # seconds

quality_gate:
  max_fix_retries: 3
  layer3_scanners:      # scanner keys to enable for layer 3 (system)
    - security
    - observability
  layer4_enabled: true  # layer 4 (adversarial) is advisory-only

graph_rag:
  enabled: true             # master switch
  context_token_budget: 2000
  semantic_weight: 0.5       # semantic_weight + graph_weight must sum to <= 1
  graph_weight: 0.5

status_server:
  addr: 127.0.0.1:8090 # status HTTP server bind address, used by the serve command

budget_limit: null  # spend cap in USD, or null for no limit
output_dir: ./runs
mode: auto          # docker | mcp | auto
`
}
