package graphrag

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// sharedUtilPrefixes are excluded from SERVICE_CALLS synthesis (spec.md
// §4.5 phase 3).
var sharedUtilPrefixes = []string{"shared/", "common/", "utils/", "lib/", "helpers/"}

// entitySuffixesToStrip are stripped before normalizing a symbol name for
// IMPLEMENTS_ENTITY matching (spec.md §4.5 phase 3).
var entitySuffixesToStrip = []string{
	"Service", "Model", "Schema", "Entity", "Repository",
	"Controller", "Handler", "DTO", "Manager", "Factory",
}

// SymbolDef is one symbol-definition row from the Codebase Intelligence
// store (spec.md §4.5 phase 1).
type SymbolDef struct {
	File string
	Name string
	Kind string // "class" | "interface" | "type" | ...
}

// DependencyEdge is one file::symbol -> file::symbol import/call edge from
// the Codebase Intelligence store, in its native "file::symbol" ID format
// (spec.md §4.5 phase 2).
type DependencyEdge struct {
	FromFileSymbol string
	ToFileSymbol   string
	Relation       types.RelationType // IMPORTS or CALLS
}

// DomainEntity is one domain entity from the Architect store.
type DomainEntity struct {
	Name    string
	Service string
}

// SourceData bundles every input spec.md §4.5 phase 1 loads. Fields left
// nil/empty are treated as a partial-load failure for that source and the
// build continues with what did load (spec.md §4.5 phase 1).
type SourceData struct {
	Services          []types.ServiceDefinition
	DomainEntities    []DomainEntity
	Symbols           []SymbolDef
	DependencyEdges   []DependencyEdge
	ContractIDs       map[string][]string // service -> contract IDs
	ServiceInterfaces map[string]types.ServiceInterface
	OpenAPIDocs       map[string][]byte // service -> raw OpenAPI document

	Errors []string // partial-load failures recorded during assembly
}

// fileOf returns the file component of a "file::symbol" ID.
func fileOf(fileSymbol string) string {
	if idx := strings.Index(fileSymbol, "::"); idx >= 0 {
		return fileSymbol[:idx]
	}
	return fileSymbol
}

// symbolGraphID translates a "file::symbol" dependency-edge ID into the
// graph's "symbol::file::symbol" node ID (spec.md §4.5 phase 2, "ID
// translation ... is mandatory").
func symbolGraphID(fileSymbol string) string {
	return NodeID(types.NodeSymbol, fileSymbol)
}

// Build constructs the multigraph from src in the fixed order spec.md §4.5
// phase 2 requires: service -> domain_entity -> file -> symbol -> contract
// -> endpoint -> event, then derives the synthesized edges of phase 3.
func Build(src SourceData) *Graph {
	g := NewGraph()

	serviceByFile := buildServiceNodes(g, src)
	buildDomainEntityNodes(g, src)
	fileToService := buildFileAndSymbolNodes(g, src, serviceByFile)
	buildContractNodes(g, src)
	symbolEndpointHandlers := buildEndpointNodes(g, src)
	buildEventNodes(g, src)

	deriveServiceCalls(g, src, fileToService)
	deriveHandlesEndpoint(g, src, symbolEndpointHandlers)
	deriveImplementsEntity(g, src)

	return g
}

func buildServiceNodes(g *Graph, src SourceData) map[string]string {
	serviceByFile := map[string]string{}
	for _, svc := range src.Services {
		g.AddNode(types.NodeService, svc.Name, map[string]interface{}{
			"language":    svc.Language,
			"description": svc.Description,
		})
	}
	return serviceByFile
}

func buildDomainEntityNodes(g *Graph, src SourceData) {
	for _, e := range src.DomainEntities {
		entityID := g.AddNode(types.NodeDomainEntity, e.Service+"/"+e.Name, map[string]interface{}{
			"name": e.Name, "service": e.Service,
		})
		serviceID := NodeID(types.NodeService, e.Service)
		if g.HasNode(serviceID) {
			g.AddEdge(serviceID, entityID, types.RelOwnsEntity, nil)
		}
	}
}

// buildFileAndSymbolNodes adds a file node per distinct file referenced by
// src.Symbols/DependencyEdges, a symbol node per src.Symbols entry, a
// CONTAINS_FILE edge from each file's owning service to the file (best-effort
// match on a "<service>/" path prefix), and DEFINES_SYMBOL edges. Returns a
// file -> service name map used by SERVICE_CALLS synthesis.
func buildFileAndSymbolNodes(g *Graph, src SourceData, _ map[string]string) map[string]string {
	fileToService := map[string]string{}
	serviceNames := make([]string, 0, len(src.Services))
	for _, svc := range src.Services {
		serviceNames = append(serviceNames, svc.Name)
	}

	seenFiles := map[string]bool{}
	ensureFile := func(file string) {
		if seenFiles[file] {
			return
		}
		seenFiles[file] = true
		g.AddNode(types.NodeFile, file, nil)
		owner := ownerService(file, serviceNames)
		fileToService[file] = owner
		if owner != "" {
			serviceID := NodeID(types.NodeService, owner)
			fileID := NodeID(types.NodeFile, file)
			g.AddEdge(serviceID, fileID, types.RelContainsFile, nil)
		}
	}

	for _, sym := range src.Symbols {
		ensureFile(sym.File)
		symID := g.AddNode(types.NodeSymbol, sym.File+"::"+sym.Name, map[string]interface{}{
			"name": sym.Name, "kind": sym.Kind, "file": sym.File,
		})
		fileID := NodeID(types.NodeFile, sym.File)
		g.AddEdge(fileID, symID, types.RelDefinesSymbol, nil)
	}

	for _, edge := range src.DependencyEdges {
		ensureFile(fileOf(edge.FromFileSymbol))
		ensureFile(fileOf(edge.ToFileSymbol))
	}

	return fileToService
}

func ownerService(file string, services []string) string {
	for _, svc := range services {
		if strings.HasPrefix(file, svc+"/") {
			return svc
		}
	}
	return ""
}

func buildContractNodes(g *Graph, src SourceData) {
	for service, ids := range src.ContractIDs {
		serviceID := NodeID(types.NodeService, service)
		for _, contractID := range ids {
			contractNodeID := g.AddNode(types.NodeContract, contractID, map[string]interface{}{"service": service})
			if g.HasNode(serviceID) {
				g.AddEdge(serviceID, contractNodeID, types.RelProvidesContract, nil)
			}
		}
	}
}

// buildEndpointNodes parses each service's OpenAPI "paths" into endpoint
// nodes (spec.md §4.5 phase 2). The returned (method, path) -> symbol map
// is always empty; HANDLES_ENDPOINT synthesis does not read it.
func buildEndpointNodes(g *Graph, src SourceData) map[string]string {
	symbolsByEndpoint := map[string]string{}

	for service, raw := range src.OpenAPIDocs {
		doc, err := openapi3.NewLoader().LoadFromData(raw)
		if err != nil || doc == nil || doc.Paths == nil {
			continue
		}
		serviceID := NodeID(types.NodeService, service)
		for path, item := range doc.Paths.Map() {
			for method := range item.Operations() {
				endpointKey := method + " " + path
				endpointID := g.AddNode(types.NodeEndpoint, service+":"+endpointKey, map[string]interface{}{
					"method": method, "path": path, "service": service,
				})
				if g.HasNode(serviceID) {
					g.AddEdge(serviceID, endpointID, types.RelExposesEndpoint, nil)
				}
			}
		}
	}
	return symbolsByEndpoint
}

func buildEventNodes(g *Graph, src SourceData) {
	for service, iface := range src.ServiceInterfaces {
		serviceID := NodeID(types.NodeService, service)
		for _, ev := range iface.Events {
			eventID := g.AddNode(types.NodeEvent, ev.Name, map[string]interface{}{"name": ev.Name})
			if !g.HasNode(serviceID) {
				continue
			}
			if ev.Direction == "publishes" {
				g.AddEdge(serviceID, eventID, types.RelPublishesEvent, nil)
			} else {
				g.AddEdge(serviceID, eventID, types.RelConsumesEvent, nil)
			}
		}
	}
}

// deriveServiceCalls synthesizes SERVICE_CALLS(A->B) edges when a file in
// service A imports a file in service B (spec.md §4.5 phase 3), excluding
// shared-util path prefixes.
func deriveServiceCalls(g *Graph, src SourceData, fileToService map[string]string) {
	for _, edge := range src.DependencyEdges {
		if edge.Relation != types.RelImports {
			continue
		}
		fromFile, toFile := fileOf(edge.FromFileSymbol), fileOf(edge.ToFileSymbol)
		if isSharedUtil(toFile) {
			continue
		}
		fromSvc, toSvc := fileToService[fromFile], fileToService[toFile]
		if fromSvc == "" || toSvc == "" || fromSvc == toSvc {
			continue
		}
		fromID := NodeID(types.NodeService, fromSvc)
		toID := NodeID(types.NodeService, toSvc)
		g.AddEdge(fromID, toID, types.RelServiceCalls, nil)
	}
}

func isSharedUtil(file string) bool {
	for _, prefix := range sharedUtilPrefixes {
		if strings.HasPrefix(file, prefix) {
			return true
		}
	}
	return false
}

// deriveHandlesEndpoint synthesizes HANDLES_ENDPOINT(symbol->endpoint)
// edges by matching (method, path) pairs from each pre-fetched service
// interface to endpoint nodes (spec.md §4.5 phase 3).
func deriveHandlesEndpoint(g *Graph, src SourceData, _ map[string]string) {
	for service, iface := range src.ServiceInterfaces {
		for _, ep := range iface.Endpoints {
			endpointID := NodeID(types.NodeEndpoint, service+":"+ep.Method+" "+ep.Path)
			if !g.HasNode(endpointID) {
				continue
			}
			for _, sym := range src.Symbols {
				if sym.File == "" {
					continue
				}
				symID := NodeID(types.NodeSymbol, sym.File+"::"+sym.Name)
				if strings.EqualFold(sym.Name, handlerNameFor(ep.Method, ep.Path)) {
					g.AddEdge(symID, endpointID, types.RelHandlesEndpoint, nil)
				}
			}
		}
	}
}

func handlerNameFor(method, path string) string {
	lower := strings.ToLower(method)
	if lower == "" {
		return "Handler"
	}
	return strings.ToUpper(lower[:1]) + lower[1:] + "Handler"
}

// deriveImplementsEntity synthesizes IMPLEMENTS_ENTITY(symbol->entity)
// edges by matching normalized symbol and entity names (spec.md §4.5 phase
// 3). Only class/interface/type-kind symbols are candidates.
func deriveImplementsEntity(g *Graph, src SourceData) {
	for _, sym := range src.Symbols {
		if sym.Kind != "class" && sym.Kind != "interface" && sym.Kind != "type" {
			continue
		}
		normalizedSymbol := normalizeEntityName(sym.Name)
		symID := NodeID(types.NodeSymbol, sym.File+"::"+sym.Name)

		for _, entity := range src.DomainEntities {
			if normalizeEntityName(entity.Name) != normalizedSymbol {
				continue
			}
			entityID := NodeID(types.NodeDomainEntity, entity.Service+"/"+entity.Name)
			g.AddEdge(symID, entityID, types.RelImplementsEntity, nil)
		}
	}
}

func normalizeEntityName(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range entitySuffixesToStrip {
		suffixLower := strings.ToLower(suffix)
		if strings.HasSuffix(lower, suffixLower) {
			return strings.TrimSuffix(lower, suffixLower)
		}
	}
	return lower
}
