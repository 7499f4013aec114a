package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	llmcp "github.com/Strob0t/LaunchLoop/internal/adapter/mcp"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
)

// --- Fakes ---

type fakeGraph struct{}

func (fakeGraph) Encoded(_ context.Context) ([]byte, int64, error) {
	return []byte(`{"version":3,"graph":{}}`), 3, nil
}

type fakeGate struct {
	proposals []proposal.Proposal
	submitted []*proposal.Proposal
	decidedBy string
}

func (g *fakeGate) List(_ context.Context, f proposal.Filter) ([]proposal.Proposal, error) {
	var out []proposal.Proposal
	for i := range g.proposals {
		if f.Match(&g.proposals[i]) {
			out = append(out, g.proposals[i])
		}
	}
	return out, nil
}

func (g *fakeGate) Submit(_ context.Context, p *proposal.Proposal) error {
	g.submitted = append(g.submitted, p)
	return nil
}

func (g *fakeGate) Decide(_ context.Context, id string, d proposal.Decision, actor, _ string) (*proposal.Proposal, error) {
	for i := range g.proposals {
		if g.proposals[i].ID == id {
			p := g.proposals[i]
			p.Status = proposal.StatusApproved
			if d == proposal.DecisionReject {
				p.Status = proposal.StatusRejected
			}
			p.DecidedBy = actor
			g.decidedBy = actor
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeProposer struct {
	expected *int64
}

func (f *fakeProposer) ProposeManual(_ context.Context, m graph.Mutation, expected *int64) (*proposal.Proposal, error) {
	f.expected = expected
	return proposal.New(proposal.SourceManual, "", m, 3, time.Now(), time.Hour)
}

type fakeTriggers struct {
	created []*trigger.Trigger
}

func (f *fakeTriggers) List(_ context.Context) []trigger.Trigger {
	out := make([]trigger.Trigger, 0, len(f.created))
	for _, t := range f.created {
		out = append(out, *t)
	}
	return out
}

func (f *fakeTriggers) Create(_ context.Context, t *trigger.Trigger) (*trigger.Trigger, error) {
	if _, err := t.Validate(); err != nil {
		return nil, err
	}
	f.created = append(f.created, t)
	return t, nil
}

type fakeSnapshots struct{}

func (fakeSnapshots) LatestAll() []metric.Snapshot {
	return []metric.Snapshot{{NodeID: "post-1", Likes: 40, Impressions: 1000}}
}

func newServer(deps llmcp.ServerDeps) *llmcp.Server {
	return llmcp.NewServer(llmcp.ServerConfig{Name: "test", Version: "0.1.0", Actor: "agent"}, deps)
}

func call(t *testing.T, s *llmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func textOf(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := newServer(llmcp.ServerDeps{})
	want := []string{
		"get_graph", "list_proposals", "decide_proposal", "propose_mutation",
		"list_triggers", "create_trigger", "check_condition", "latest_metrics",
	}
	tools := s.MCPServer().ListTools()
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for _, name := range want {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := newServer(llmcp.ServerDeps{})
	for _, name := range []string{"get_graph", "list_proposals", "list_triggers", "latest_metrics"} {
		if result := call(t, s, name, nil); !result.IsError {
			t.Errorf("%s: expected error result when deps are nil", name)
		}
	}
}

func TestGetGraph(t *testing.T) {
	s := newServer(llmcp.ServerDeps{Graph: fakeGraph{}})
	var payload struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal([]byte(textOf(t, call(t, s, "get_graph", nil))), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Version != 3 {
		t.Fatalf("expected version 3, got %d", payload.Version)
	}
}

func TestListAndDecideProposals(t *testing.T) {
	gate := &fakeGate{proposals: []proposal.Proposal{
		{ID: "p1", Status: proposal.StatusPending, TriggerID: "trg-1"},
		{ID: "p2", Status: proposal.StatusExpired, TriggerID: "trg-1"},
	}}
	s := newServer(llmcp.ServerDeps{Gate: gate})

	var list []proposal.Proposal
	text := textOf(t, call(t, s, "list_proposals", map[string]any{"status": "pending"}))
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "p1" {
		t.Fatalf("unexpected proposals %+v", list)
	}

	var decided proposal.Proposal
	text = textOf(t, call(t, s, "decide_proposal", map[string]any{"proposal_id": "p1", "decision": "approve"}))
	if err := json.Unmarshal([]byte(text), &decided); err != nil {
		t.Fatal(err)
	}
	if decided.Status != proposal.StatusApproved || gate.decidedBy != "agent" {
		t.Fatalf("unexpected decision %+v by %q", decided, gate.decidedBy)
	}

	if result := call(t, s, "decide_proposal", map[string]any{"proposal_id": "ghost", "decision": "approve"}); !result.IsError {
		t.Fatal("expected error for unknown proposal")
	}
	if result := call(t, s, "decide_proposal", map[string]any{"decision": "approve"}); !result.IsError {
		t.Fatal("expected error for missing proposal_id")
	}
}

func TestProposeMutation(t *testing.T) {
	gate := &fakeGate{}
	proposer := &fakeProposer{}
	s := newServer(llmcp.ServerDeps{Gate: gate, Proposer: proposer})

	result := call(t, s, "propose_mutation", map[string]any{
		"mutation":         `{"kind":"retire_node","retire_node":{"node_id":"post-1"}}`,
		"expected_version": float64(3),
	})
	textOf(t, result)
	if len(gate.submitted) != 1 || gate.submitted[0].Kind != graph.MutationRetireNode {
		t.Fatalf("expected one retire proposal submitted, got %+v", gate.submitted)
	}
	if proposer.expected == nil || *proposer.expected != 3 {
		t.Fatalf("expected version not forwarded: %v", proposer.expected)
	}

	if result := call(t, s, "propose_mutation", map[string]any{"mutation": "{"}); !result.IsError {
		t.Fatal("expected error for malformed mutation")
	}
}

func TestCreateTrigger(t *testing.T) {
	triggers := &fakeTriggers{}
	s := newServer(llmcp.ServerDeps{Triggers: triggers})

	textOf(t, call(t, s, "create_trigger", map[string]any{
		"trigger": `{"name":"low","condition":"engagement_rate < 0.015 within 2h","target_ids":["post-1"],"action":{"kind":"retire_node"}}`,
	}))
	if len(triggers.created) != 1 || !triggers.created[0].Enabled {
		t.Fatalf("expected one enabled trigger, got %+v", triggers.created)
	}

	result := call(t, s, "create_trigger", map[string]any{
		"trigger": `{"name":"bad","condition":"likes >","target_ids":["post-1"],"action":{"kind":"retire_node"}}`,
	})
	if !result.IsError {
		t.Fatal("expected error for invalid condition")
	}
}

func TestCheckCondition(t *testing.T) {
	s := newServer(llmcp.ServerDeps{})

	var report struct {
		Canonical string   `json:"canonical"`
		Fields    []string `json:"fields"`
	}
	text := textOf(t, call(t, s, "check_condition", map[string]any{"condition": "likes > 10 and shares > 2"}))
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		t.Fatal(err)
	}
	if report.Canonical == "" || len(report.Fields) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if result := call(t, s, "check_condition", map[string]any{"condition": "likes >"}); !result.IsError {
		t.Fatal("expected error for invalid condition")
	}
}

func TestLatestMetrics(t *testing.T) {
	s := newServer(llmcp.ServerDeps{Snapshots: fakeSnapshots{}})
	var out []struct {
		NodeID string `json:"node_id"`
		Tier   string `json:"tier"`
	}
	if err := json.Unmarshal([]byte(textOf(t, call(t, s, "latest_metrics", nil))), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Tier != string(metric.TierExcellent) {
		t.Fatalf("unexpected metrics %+v", out)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := llmcp.AuthMiddleware("secret", ok)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusForbidden},
		{"bearer", "Bearer secret", http.StatusOK},
		{"bare key", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	s := llmcp.NewServer(llmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, llmcp.ServerDeps{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
