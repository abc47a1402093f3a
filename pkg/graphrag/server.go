package graphrag

import (
	"context"
	"encoding/json"

	"github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/mcp"
)

// serverName is the MCP server identity advertised in spec.md §9's tool
// list under the "graph-rag" namespace.
const serverName = "graph-rag"

// NewServer wires idx's operations as the seven tools spec.md §4.5/§9 name:
// build_knowledge_graph, get_service_context, query_graph_neighborhood,
// hybrid_search, find_cross_service_impact, validate_service_boundaries,
// and check_cross_service_events.
func NewServer(idx *Indexer) *mcp.Server {
	s := mcp.NewServer(serverName)

	s.RegisterTool(mcp.Tool{
		Name:        "build_knowledge_graph",
		Description: "Construct the knowledge graph from service, codebase, and contract sources.",
		Handler: func(_ context.Context, args json.RawMessage) (interface{}, error) {
			var src SourceData
			if err := json.Unmarshal(args, &src); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "decoding build_knowledge_graph args")
			}
			g := idx.BuildKnowledgeGraph(src)
			return struct {
				NodeCount int `json:"node_count"`
				EdgeCount int `json:"edge_count"`
			}{len(g.Nodes()), len(g.Edges())}, nil
		},
	})

	s.RegisterTool(mcp.Tool{
		Name:        "get_service_context",
		Description: "Assemble the ranked markdown context block for a service.",
		Handler: func(_ context.Context, args json.RawMessage) (interface{}, error) {
			var req struct {
				Service string `json:"service"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "decoding get_service_context args")
			}
			return struct {
				Context string `json:"context"`
			}{idx.GetServiceContext(req.Service)}, nil
		},
	})

	s.RegisterTool(mcp.Tool{
		Name:        "query_graph_neighborhood",
		Description: "List every node directly connected to a node, in either direction.",
		Handler: func(_ context.Context, args json.RawMessage) (interface{}, error) {
			var req struct {
				NodeID string `json:"node_id"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "decoding query_graph_neighborhood args")
			}
			return idx.QueryGraphNeighborhood(req.NodeID), nil
		},
	})

	s.RegisterTool(mcp.Tool{
		Name:        "hybrid_search",
		Description: "Rank nodes by a weighted blend of vector similarity and graph centrality.",
		Handler: func(_ context.Context, args json.RawMessage) (interface{}, error) {
			var req struct {
				Query          []float64 `json:"query"`
				SemanticWeight float64   `json:"semantic_weight"`
				GraphWeight    float64   `json:"graph_weight"`
				Limit          int       `json:"limit"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "decoding hybrid_search args")
			}
			return idx.HybridSearch(req.Query, req.SemanticWeight, req.GraphWeight, req.Limit), nil
		},
	})

	s.RegisterTool(mcp.Tool{
		Name:        "find_cross_service_impact",
		Description: "List the nodes that reach a node over SERVICE_CALLS or CALLS edges, i.e. the callers a change to it would affect.",
		Handler: func(_ context.Context, args json.RawMessage) (interface{}, error) {
			var req struct {
				NodeID string `json:"node_id"`
				Limit  int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "decoding find_cross_service_impact args")
			}
			return idx.FindCrossServiceImpact(req.NodeID, req.Limit), nil
		},
	})

	s.RegisterTool(mcp.Tool{
		Name:        "validate_service_boundaries",
		Description: "List services with no inbound or outbound SERVICE_CALLS edges.",
		Handler: func(_ context.Context, _ json.RawMessage) (interface{}, error) {
			return idx.ValidateServiceBoundaries(), nil
		},
	})

	s.RegisterTool(mcp.Tool{
		Name:        "check_cross_service_events",
		Description: "Report whether an event has a publisher other than the given consuming service.",
		Handler: func(_ context.Context, args json.RawMessage) (interface{}, error) {
			var req struct {
				EventName       string `json:"event_name"`
				ConsumerService string `json:"consumer_service"`
			}
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "decoding check_cross_service_events args")
			}
			return struct {
				HasOtherPublisher bool `json:"has_other_publisher"`
			}{idx.CheckCrossServiceEvents(req.EventName, req.ConsumerService)}, nil
		},
	})

	return s
}
