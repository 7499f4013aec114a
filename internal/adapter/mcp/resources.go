package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"launchloop://graph",
			"Campaign Graph",
			mcplib.WithResourceDescription("The current campaign graph snapshot"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleGraphResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"launchloop://proposals/pending",
			"Pending Proposals",
			mcplib.WithResourceDescription("Proposals awaiting approval"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingResource,
	)
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}

func (s *Server) handleGraphResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Graph == nil {
		return jsonContents(req.Params.URI, `{"error":"graph not configured"}`), nil
	}
	data, _, err := s.deps.Graph.Encoded(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handlePendingResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Gate == nil {
		return jsonContents(req.Params.URI, `{"error":"approval gate not configured"}`), nil
	}
	list, err := s.deps.Gate.List(ctx, proposal.Filter{Status: proposal.StatusPending})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []proposal.Proposal{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}
