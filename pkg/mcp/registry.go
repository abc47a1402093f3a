// Package mcp models the subsystem's MCP-style tool servers (spec.md §9):
// a registry of (name, handler, input-schema, output-schema) tuples exposed
// over a long-lived bidirectional stream. Only an in-process transport
// exists: a Client holds a *Server and calls it directly; there is no stdio
// or JSON-RPC transport.
package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/buildforge/buildforge/internal/errors"
)

// ToolHandler executes one tool call given its raw JSON arguments and
// returns a JSON-serializable result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool is one registered (name, handler, schema) tuple.
type Tool struct {
	Name         string
	Description  string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
	Handler      ToolHandler `json:"-"`
}

// Capabilities lists the tools a server exposes, mirroring the
// GetCapabilities().Tools shape spec.md §9 asks for.
type Capabilities struct {
	Tools []Tool
}

// Server is a registry of tools reachable by name. It is transport-agnostic:
// HandleToolCall is the single entry point a stdio, HTTP, or in-process
// Transport implementation would dispatch into.
type Server struct {
	mu    sync.RWMutex
	name  string
	tools map[string]Tool
}

// NewServer returns an empty server identified by name (used in logs and
// error messages).
func NewServer(name string) *Server {
	return &Server{name: name, tools: make(map[string]Tool)}
}

// RegisterTool adds a tool to the registry. Registering a name twice
// overwrites the previous registration, matching decorator-style
// registration where the last definition wins.
func (s *Server) RegisterTool(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name] = t
}

// GetCapabilities returns every registered tool's name/description/schema
// (handlers are not exposed; callers only see the public contract).
func (s *Server) GetCapabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps := Capabilities{Tools: make([]Tool, 0, len(s.tools))}
	for _, t := range s.tools {
		caps.Tools = append(caps.Tools, Tool{
			Name: t.Name, Description: t.Description,
			InputSchema: t.InputSchema, OutputSchema: t.OutputSchema,
		})
	}
	return caps
}

// HandleToolCall dispatches to the named tool's handler. An unknown tool
// name or a handler error is always returned as an error value, never a
// panic -- callers follow spec.md §9's "optional dependency gating" by
// treating any error from here as "feature unavailable."
func (s *Server) HandleToolCall(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	s.mu.RLock()
	tool, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("mcp tool " + name + " on server " + s.name)
	}
	return tool.Handler(ctx, args)
}

// Client is the orchestrator-facing half of an MCP interaction. CallTool
// wraps every call so that a failing or absent server degrades
// transparently, per spec.md §5's "any exception falls back to disabled
// behavior and never propagates." Every call additionally passes through a
// per-client circuit breaker so a server stuck failing doesn't keep paying
// the cost of calling it on every subsequent tool invocation.
type Client struct {
	server  *Server // in-process transport; nil means "server unavailable"
	breaker *gobreaker.CircuitBreaker
}

// defaultBreakerSettings trips after 3 consecutive failures and probes again
// after 30s, mirroring the per-channel isolation settings the notification
// controller's test harness wires up for its own gobreaker.Manager
// (MaxRequests/Interval/Timeout/ReadyToTrip on ConsecutiveFailures).
func defaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// NewClient wires a client directly to a Server (in-process transport).
// Passing nil produces a client that always reports unavailable, modeling
// a subprocess that never started (spec.md §8's Graph RAG boundary case).
func NewClient(server *Server) *Client {
	name := "mcp-client"
	if server != nil {
		name = server.name
	}
	return &Client{server: server, breaker: gobreaker.NewCircuitBreaker(defaultBreakerSettings(name))}
}

// Available reports whether this client has a live server to call and its
// breaker is not currently open from prior consecutive failures.
func (c *Client) Available() bool {
	return c != nil && c.server != nil && c.breaker.State() != gobreaker.StateOpen
}

// CallTool calls name with args, returning (nil, err) if the client has no
// server, the breaker is open, or the call itself fails. Callers must treat
// all three as "unavailable," not distinguish them.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if c == nil || c.server == nil {
		return nil, errors.NewGraphRAGUnavailableError(nil)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.server.HandleToolCall(ctx, name, args)
	})
	if err != nil {
		return nil, errors.NewGraphRAGUnavailableError(err)
	}
	return result, nil
}
