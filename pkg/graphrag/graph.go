// Package graphrag builds and serves the knowledge graph described in
// spec.md §4.5: a typed directed multigraph over services, files, symbols,
// contracts, endpoints, domain entities, and events, plus PageRank/Louvain
// metrics, two vector collections, and a per-service context assembler.
package graphrag

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// edgeKey uniquely identifies a parallel edge by (source, target, relation),
// per spec.md §9's "multigraph ... edges distinguished by a relation key."
type edgeKey struct {
	source, target string
	relation        types.RelationType
}

// Graph is the directed multigraph described in spec.md §4.5. It is not
// safe for concurrent mutation; callers serialize graph builds through the
// Indexer's single build call.
type Graph struct {
	nodes map[string]*types.GraphNode
	edges map[edgeKey]*types.GraphEdge
	order []string // node insertion order, preserved for deterministic serialization
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*types.GraphNode),
		edges: make(map[edgeKey]*types.GraphEdge),
	}
}

// NodeID renders the canonical "<node_type>::<identifier>" form spec.md §8
// requires of every node.
func NodeID(t types.NodeType, identifier string) string {
	return fmt.Sprintf("%s::%s", t, identifier)
}

// AddNode inserts or overwrites a node. Returns the node's canonical ID.
func (g *Graph) AddNode(t types.NodeType, identifier string, attrs map[string]interface{}) string {
	id := NodeID(t, identifier)
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.nodes[id] = &types.GraphNode{ID: id, Type: t, Attributes: attrs}
	return id
}

// HasNode reports whether id has been added.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *types.GraphNode {
	return g.nodes[id]
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*types.GraphNode {
	out := make([]*types.GraphNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// AddEdge inserts an edge only if both endpoints already exist (spec.md
// §4.5 phase 2: "Edges are added only after both endpoints exist"), and
// only if relation is a member of the 16-relation enum. Returns false if
// either precondition fails, in which case the edge is silently dropped
// (spec.md §4.5 phase 2: "edges whose source or target cannot be resolved
// are silently dropped").
func (g *Graph) AddEdge(source, target string, relation types.RelationType, attrs map[string]interface{}) bool {
	if !g.HasNode(source) || !g.HasNode(target) || !types.IsValidRelation(relation) {
		return false
	}
	g.edges[edgeKey{source, target, relation}] = &types.GraphEdge{
		Source: source, Target: target, Relation: relation, Attributes: attrs,
	}
	return true
}

// HasEdge reports whether the exact (source, target, relation) triple exists.
func (g *Graph) HasEdge(source, target string, relation types.RelationType) bool {
	_, ok := g.edges[edgeKey{source, target, relation}]
	return ok
}

// Edges returns every edge, sorted for deterministic serialization.
func (g *Graph) Edges() []*types.GraphEdge {
	out := make([]*types.GraphEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Relation < out[j].Relation
	})
	return out
}

// OutEdges returns every edge leaving id, in the same sorted order as Edges.
func (g *Graph) OutEdges(id string) []*types.GraphEdge {
	var out []*types.GraphEdge
	for _, e := range g.Edges() {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// InEdges returns every edge entering id, in the same sorted order as Edges.
func (g *Graph) InEdges(id string) []*types.GraphEdge {
	var out []*types.GraphEdge
	for _, e := range g.Edges() {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// nodeLinkDoc is the node-link JSON document shape spec.md §4.5 phase 5
// requires ("serialize the graph to node-link JSON").
type nodeLinkDoc struct {
	Nodes []*types.GraphNode `json:"nodes"`
	Links []*types.GraphEdge `json:"links"`
}

// MarshalNodeLink serializes the graph deterministically: nodes in
// insertion order, edges sorted by (source, target, relation), node and
// edge fields in struct declaration order, and attribute map keys sorted
// -- so rebuilding from identical inputs
// yields byte-identical output (spec.md §8).
func (g *Graph) MarshalNodeLink() ([]byte, error) {
	doc := nodeLinkDoc{Nodes: g.Nodes(), Links: g.Edges()}
	return json.MarshalIndent(doc, "", "  ")
}
