package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/LaunchLoop/internal/domain/condition"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getGraphTool(),
		s.listProposalsTool(),
		s.decideProposalTool(),
		s.proposeMutationTool(),
		s.listTriggersTool(),
		s.createTriggerTool(),
		s.checkConditionTool(),
		s.latestMetricsTool(),
	)
}

func (s *Server) getGraphTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_graph",
		mcplib.WithDescription("Get the current campaign graph with its version"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetGraph}
}

func (s *Server) listProposalsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_proposals",
		mcplib.WithDescription("List graph mutation proposals, newest first"),
		mcplib.WithString("status",
			mcplib.Description("Only proposals in this status"),
			mcplib.Enum(string(proposal.StatusPending), string(proposal.StatusApproved), string(proposal.StatusRejected), string(proposal.StatusExpired)),
		),
		mcplib.WithString("trigger_id", mcplib.Description("Only proposals raised by this trigger")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListProposals}
}

func (s *Server) decideProposalTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("decide_proposal",
		mcplib.WithDescription("Approve or reject a pending proposal. Approval applies the mutation if the graph has not moved since it was proposed."),
		mcplib.WithString("proposal_id", mcplib.Required(), mcplib.Description("The proposal to decide")),
		mcplib.WithString("decision", mcplib.Required(),
			mcplib.Enum(string(proposal.DecisionApprove), string(proposal.DecisionReject)),
		),
		mcplib.WithString("reason", mcplib.Description("Optional note recorded with the decision")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDecideProposal}
}

func (s *Server) proposeMutationTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("propose_mutation",
		mcplib.WithDescription("Submit a manual graph mutation for approval"),
		mcplib.WithString("mutation", mcplib.Required(),
			mcplib.Description(`Mutation as JSON, e.g. {"kind":"swap_variant","swap_variant":{"post_id":"p1","variant_id":"v2"}}`),
		),
		mcplib.WithNumber("expected_version", mcplib.Description("Reject unless the graph is at this version")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleProposeMutation}
}

func (s *Server) listTriggersTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_triggers",
		mcplib.WithDescription("List all triggers with their enabled state and last firing"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTriggers}
}

func (s *Server) createTriggerTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("create_trigger",
		mcplib.WithDescription("Create a trigger that proposes an action when a metric condition holds on one of its targets"),
		mcplib.WithString("trigger", mcplib.Required(),
			mcplib.Description(`Trigger as JSON: {"name":..., "condition":"engagement_rate < 0.015 within 2h", "target_ids":[...], "action":{"kind":"swap_variant","params":{"variant_id":"$next"}}, "cooldown":"6h"}`),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCreateTrigger}
}

func (s *Server) checkConditionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("check_condition",
		mcplib.WithDescription("Parse a trigger condition and report its canonical form and referenced fields"),
		mcplib.WithString("condition", mcplib.Required(), mcplib.Description("The condition expression")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCheckCondition}
}

func (s *Server) latestMetricsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("latest_metrics",
		mcplib.WithDescription("Latest metric snapshot per post with engagement rate and tier"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLatestMetrics}
}

func (s *Server) handleGetGraph(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Graph == nil {
		return mcplib.NewToolResultError("graph not configured"), nil
	}
	data, _, err := s.deps.Graph.Encoded(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read graph", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListProposals(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Gate == nil {
		return mcplib.NewToolResultError("approval gate not configured"), nil
	}
	args := req.GetArguments()
	filter := proposal.Filter{}
	if v, ok := args["status"].(string); ok {
		filter.Status = proposal.Status(v)
	}
	if v, ok := args["trigger_id"].(string); ok {
		filter.TriggerID = v
	}
	list, err := s.deps.Gate.List(ctx, filter)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list proposals", err), nil
	}
	if list == nil {
		list = []proposal.Proposal{}
	}
	return marshalResult(list, "proposals")
}

func (s *Server) handleDecideProposal(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Gate == nil {
		return mcplib.NewToolResultError("approval gate not configured"), nil
	}
	args := req.GetArguments()
	id, ok := args["proposal_id"].(string)
	if !ok || id == "" {
		return mcplib.NewToolResultError("proposal_id is required"), nil
	}
	decision, _ := args["decision"].(string)
	reason, _ := args["reason"].(string)
	p, err := s.deps.Gate.Decide(ctx, id, proposal.Decision(decision), s.cfg.Actor, reason)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to decide proposal %s", id), err), nil
	}
	return marshalResult(p, "proposal")
}

func (s *Server) handleProposeMutation(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Proposer == nil || s.deps.Gate == nil {
		return mcplib.NewToolResultError("proposer not configured"), nil
	}
	args := req.GetArguments()
	raw, ok := args["mutation"].(string)
	if !ok || raw == "" {
		return mcplib.NewToolResultError("mutation is required"), nil
	}
	var m graph.Mutation
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid mutation JSON", err), nil
	}
	var expected *int64
	if v, ok := args["expected_version"].(float64); ok {
		n := int64(v)
		expected = &n
	}
	p, err := s.deps.Proposer.ProposeManual(ctx, m, expected)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("mutation rejected", err), nil
	}
	if err := s.deps.Gate.Submit(ctx, p); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit proposal", err), nil
	}
	return marshalResult(p, "proposal")
}

func (s *Server) handleListTriggers(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Triggers == nil {
		return mcplib.NewToolResultError("triggers not configured"), nil
	}
	list := s.deps.Triggers.List(ctx)
	if list == nil {
		list = []trigger.Trigger{}
	}
	return marshalResult(list, "triggers")
}

func (s *Server) handleCreateTrigger(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Triggers == nil {
		return mcplib.NewToolResultError("triggers not configured"), nil
	}
	raw, ok := req.GetArguments()["trigger"].(string)
	if !ok || raw == "" {
		return mcplib.NewToolResultError("trigger is required"), nil
	}
	// Triggers created by agents are enabled unless they say otherwise.
	t := trigger.Trigger{Enabled: true}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid trigger JSON", err), nil
	}
	created, err := s.deps.Triggers.Create(ctx, &t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("trigger rejected", err), nil
	}
	return marshalResult(created, "trigger")
}

type conditionReport struct {
	Canonical          string   `json:"canonical"`
	Fields             []string `json:"fields"`
	MaxLookbackSeconds float64  `json:"max_lookback_seconds,omitempty"`
}

func (s *Server) handleCheckCondition(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	src, ok := req.GetArguments()["condition"].(string)
	if !ok || src == "" {
		return mcplib.NewToolResultError("condition is required"), nil
	}
	c, err := condition.Parse(src)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid condition", err), nil
	}
	return marshalResult(conditionReport{
		Canonical:          c.String(),
		Fields:             condition.Referenced(c.Root),
		MaxLookbackSeconds: condition.MaxLookback(c.Root),
	}, "condition")
}

type metricView struct {
	NodeID         string  `json:"node_id"`
	Likes          int64   `json:"likes"`
	Impressions    int64   `json:"impressions"`
	Comments       int64   `json:"comments"`
	Shares         int64   `json:"shares"`
	EngagementRate float64 `json:"engagement_rate"`
	Tier           string  `json:"tier"`
	Stale          bool    `json:"stale"`
}

func (s *Server) handleLatestMetrics(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Snapshots == nil {
		return mcplib.NewToolResultError("metrics not configured"), nil
	}
	snaps := s.deps.Snapshots.LatestAll()
	out := make([]metricView, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, metricView{
			NodeID:         sn.NodeID,
			Likes:          sn.Likes,
			Impressions:    sn.Impressions,
			Comments:       sn.Comments,
			Shares:         sn.Shares,
			EngagementRate: sn.EngagementRate(),
			Tier:           string(sn.Tier()),
			Stale:          sn.Stale,
		})
	}
	return marshalResult(out, "metrics")
}

func marshalResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
