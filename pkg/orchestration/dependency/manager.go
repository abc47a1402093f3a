package dependency

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/buildforge/buildforge/internal/errors"
)

// DependencyConfig controls the Dependency Manager's behavior.
type DependencyConfig struct {
	EnableFallbacks bool
}

// HealthReport summarizes which fallbacks stand ready to absorb load from a
// degraded external dependency. Exposed on the status API (spec.md §9's
// status surface) via statusapi's /health handler.
type HealthReport struct {
	FallbacksAvailable []string
}

// DependencyManager registers fallback providers for the pipeline's
// external dependencies and reports their combined health. Circuit
// breaking itself is handled per-client where it's needed (pkg/mcp's
// Client uses gobreaker directly); this manager only tracks what stands
// ready to absorb load when a dependency is unavailable.
type DependencyManager struct {
	mu        sync.Mutex
	config    *DependencyConfig
	logger    *zap.Logger
	fallbacks map[string]FallbackProvider
}

// NewDependencyManager constructs a manager. config and logger may be nil.
func NewDependencyManager(config *DependencyConfig, logger *zap.Logger) *DependencyManager {
	if config == nil {
		config = &DependencyConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DependencyManager{
		config:    config,
		logger:    logger,
		fallbacks: make(map[string]FallbackProvider),
	}
}

// RegisterFallback attaches a named fallback provider. Fails if fallbacks
// are disabled in config.
func (dm *DependencyManager) RegisterFallback(name string, provider FallbackProvider) error {
	if !dm.config.EnableFallbacks {
		return errors.New(errors.ErrorTypeValidation, "fallbacks are disabled in dependency manager config")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.fallbacks[name] = provider
	return nil
}

// Fallback returns a registered provider by name, or nil if none is registered.
func (dm *DependencyManager) Fallback(name string) FallbackProvider {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.fallbacks[name]
}

// GetHealthReport reports every registered fallback name.
func (dm *DependencyManager) GetHealthReport() HealthReport {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var report HealthReport
	for name := range dm.fallbacks {
		report.FallbacksAvailable = append(report.FallbacksAvailable, name)
	}
	sort.Strings(report.FallbacksAvailable)
	return report
}
