package graphrag

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/buildforge/buildforge/pkg/contractregistry"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Per-service artifacts a builder may optionally drop into its own output
// directory; both are tolerated as absent (spec.md §4.5 phase 1's
// "partial-load failure for that source" posture).
const (
	serviceInterfaceFileName = "service_interface.json"
	openAPIFileName          = "openapi.json"
)

// RunDirSourceData assembles SourceData for BuildKnowledgeGraph entirely
// from artifacts already on disk under a run directory: the Architect's
// service_map.json (spec.md §2 data flow) and each builder's optional
// service_interface.json/openapi.json. It needs no embedding model and no
// Codebase Intelligence client -- the symbol/dependency-edge graph that
// store would supply stays empty, which Build() already treats as a
// partial-load gap rather than a hard failure.
type RunDirSourceData struct {
	Logger *zap.Logger
}

func (p RunDirSourceData) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Load satisfies pipeline.SourceDataProvider.
func (p RunDirSourceData) Load(runDir string, state *types.PipelineState) (SourceData, error) {
	serviceMap, err := types.LoadServiceMap(state.ServiceMapPath)
	if err != nil {
		return SourceData{}, err
	}

	src := SourceData{
		Services:          serviceMap.Services,
		ContractIDs:       state.ContractIDs,
		ServiceInterfaces: map[string]types.ServiceInterface{},
		OpenAPIDocs:       map[string][]byte{},
	}

	for _, svc := range serviceMap.Services {
		for _, entity := range svc.DomainEntities {
			src.DomainEntities = append(src.DomainEntities, DomainEntity{Name: entity, Service: svc.Name})
		}

		svcDir := filepath.Join(runDir, svc.Name)
		if raw, readErr := os.ReadFile(filepath.Join(svcDir, serviceInterfaceFileName)); readErr == nil {
			iface, parseErr := contractregistry.ParseServiceInterface(raw)
			if parseErr != nil {
				p.logger().Warn("service interface unreadable, continuing without it",
					zap.String("service", svc.Name), zap.Error(parseErr))
				src.Errors = append(src.Errors, "service "+svc.Name+": "+parseErr.Error())
				continue
			}
			src.ServiceInterfaces[svc.Name] = *iface
		}
		if raw, readErr := os.ReadFile(filepath.Join(svcDir, openAPIFileName)); readErr == nil {
			src.OpenAPIDocs[svc.Name] = raw
		}
	}

	return src, nil
}
