// Package mcp exposes the campaign graph, proposals, triggers and metrics
// to AI agents over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// GraphReader returns the encoded current graph.
type GraphReader interface {
	Encoded(ctx context.Context) ([]byte, int64, error)
}

// ProposalGate lists, submits and decides proposals.
type ProposalGate interface {
	List(ctx context.Context, filter proposal.Filter) ([]proposal.Proposal, error)
	Submit(ctx context.Context, p *proposal.Proposal) error
	Decide(ctx context.Context, id string, d proposal.Decision, actor, reason string) (*proposal.Proposal, error)
}

// MutationProposer builds manual proposals.
type MutationProposer interface {
	ProposeManual(ctx context.Context, m graph.Mutation, expectedVersion *int64) (*proposal.Proposal, error)
}

// TriggerManager lists and creates triggers.
type TriggerManager interface {
	List(ctx context.Context) []trigger.Trigger
	Create(ctx context.Context, t *trigger.Trigger) (*trigger.Trigger, error)
}

// MetricsReader returns the latest snapshot per node.
type MetricsReader interface {
	LatestAll() []metric.Snapshot
}

// ServerDeps holds the services the tools call. Nil dependencies make
// their tools report an error.
type ServerDeps struct {
	Graph     GraphReader
	Gate      ProposalGate
	Proposer  MutationProposer
	Triggers  TriggerManager
	Snapshots MetricsReader
}

// ServerConfig configures the MCP endpoint.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
	// Actor is recorded as the decider of proposals resolved via MCP.
	Actor string
}

// Server is the MCP server.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Actor == "" {
		cfg.Actor = "mcp"
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the streamable HTTP transport behind AuthMiddleware, for
// mounting on an existing router.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start serves the streamable HTTP transport at /mcp on cfg.Addr in the
// background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())
	s.http = &http.Server{Addr: s.cfg.Addr, Handler: mux} //nolint:gosec // streaming transport, no write timeout
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP transport down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
