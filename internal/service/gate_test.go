package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
)

func swapMutation(variantID string) graph.Mutation {
	return graph.Mutation{Kind: graph.MutationSwapVariant, SwapVariant: &graph.SwapVariant{PostID: "post-1", VariantID: variantID}}
}

func submitManual(t *testing.T, te *testEngine, m graph.Mutation) *proposal.Proposal {
	t.Helper()
	p, err := te.Proposer.ProposeManual(context.Background(), m, nil)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := te.Gate.Submit(context.Background(), p); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return p
}

func TestGate_RejectLeavesGraphUntouched(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	p := submitManual(t, te, swapMutation("var-b"))

	got, err := te.Gate.Decide(ctx, p.ID, proposal.DecisionReject, "ops", "not now")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != proposal.StatusRejected || got.Reason != "not now" || got.DecidedBy != "ops" {
		t.Fatalf("unexpected proposal %+v", got)
	}
	if te.Graphs.Version() != 1 {
		t.Fatalf("rejection must not commit, version %d", te.Graphs.Version())
	}
	resolved := te.eventsOf(t, event.TypeProposalResolved)
	if len(resolved) != 1 {
		t.Fatalf("expected one proposal.resolved event, got %d", len(resolved))
	}
}

func TestGate_DecideTerminalIsIdempotent(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	p := submitManual(t, te, swapMutation("var-b"))

	first, err := te.Gate.Decide(ctx, p.ID, proposal.DecisionApprove, "ops", "")
	if err != nil {
		t.Fatal(err)
	}
	again, err := te.Gate.Decide(ctx, p.ID, proposal.DecisionReject, "someone-else", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != proposal.StatusApproved || again.DecidedBy != "ops" || again.AppliedVersion != first.AppliedVersion {
		t.Fatalf("second decision changed the proposal: %+v", again)
	}
	if te.Graphs.Version() != 2 {
		t.Fatalf("expected exactly one commit, version %d", te.Graphs.Version())
	}
	if n := len(te.eventsOf(t, event.TypeProposalResolved)); n != 1 {
		t.Fatalf("expected one proposal.resolved event, got %d", n)
	}
}

func TestGate_TimeoutExpires(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	p := submitManual(t, te, swapMutation("var-b"))

	te.clock.Set(t0.Add(23 * time.Hour))
	if n, err := te.Gate.ExpireOverdue(ctx); err != nil || n != 0 {
		t.Fatalf("nothing should expire yet: %d %v", n, err)
	}

	te.clock.Set(t0.Add(25 * time.Hour))
	n, err := te.Gate.ExpireOverdue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := te.Gate.Get(ctx, p.ID)
	if got.Status != proposal.StatusExpired || got.Reason != proposal.ReasonTimeout {
		t.Fatalf("unexpected proposal %+v", got)
	}

	// A late approval is a no-op.
	late, err := te.Gate.Decide(ctx, p.ID, proposal.DecisionApprove, "ops", "")
	if err != nil {
		t.Fatal(err)
	}
	if late.Status != proposal.StatusExpired || te.Graphs.Version() != 1 {
		t.Fatal("expired proposal must not be applied")
	}
}

func TestGate_ApproveOverdueExpires(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	p := submitManual(t, te, swapMutation("var-b"))

	te.clock.Set(t0.Add(48 * time.Hour))
	got, err := te.Gate.Decide(ctx, p.ID, proposal.DecisionApprove, "ops", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != proposal.StatusExpired || got.Reason != proposal.ReasonTimeout {
		t.Fatalf("unexpected proposal %+v", got)
	}
	if te.Graphs.Version() != 1 {
		t.Fatal("overdue approval must not commit")
	}
}

func TestGate_CancelAndUnknown(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	p := submitManual(t, te, swapMutation("var-b"))

	got, err := te.Gate.Cancel(ctx, p.ID, "ops")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != proposal.StatusRejected || got.Reason != proposal.ReasonCancelled {
		t.Fatalf("unexpected proposal %+v", got)
	}
	if _, err := te.Gate.Decide(ctx, "nope", proposal.DecisionApprove, "ops", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := te.Gate.Decide(ctx, p.ID, proposal.Decision("maybe"), "ops", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGate_ApproveStaleTargetExpires(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	swap := submitManual(t, te, swapMutation("var-b"))
	retire := submitManual(t, te, graph.Mutation{Kind: graph.MutationRetireNode, RetireNode: &graph.RetireNode{NodeID: "post-1"}})

	if _, err := te.Gate.Decide(ctx, retire.ID, proposal.DecisionApprove, "ops", ""); err != nil {
		t.Fatal(err)
	}
	got, err := te.Gate.Decide(ctx, swap.ID, proposal.DecisionApprove, "ops", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != proposal.StatusExpired {
		t.Fatalf("expected expired, got %+v", got)
	}
	if te.Graphs.Version() != 2 {
		t.Fatalf("expected only the retire to commit, version %d", te.Graphs.Version())
	}
}

func TestGate_OnePendingPerTrigger(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createTrigger(t, lowEngagementTrigger())

	m := swapMutation("var-b")
	first, err := proposal.New(proposal.SourceTrigger, "trg-low", m, 1, t0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := te.Gate.Submit(ctx, first); err != nil {
		t.Fatal(err)
	}
	if !te.Gate.HasPending("trg-low") {
		t.Fatal("expected a pending proposal for trg-low")
	}
	second, _ := proposal.New(proposal.SourceTrigger, "trg-low", m, 1, t0, time.Hour)
	if err := te.Gate.Submit(ctx, second); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	tr, _ := te.Triggers.Get(ctx, "trg-low")
	if tr.LastFiredAt == nil || !tr.LastFiredAt.Equal(t0) {
		t.Fatalf("submission should start the cooldown, last fired %v", tr.LastFiredAt)
	}

	if _, err := te.Gate.Decide(ctx, first.ID, proposal.DecisionReject, "ops", ""); err != nil {
		t.Fatal(err)
	}
	if te.Gate.HasPending("trg-low") {
		t.Fatal("pending marker should clear on resolution")
	}
}

func TestGate_LoadRestoresPending(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createTrigger(t, lowEngagementTrigger())
	p, _ := proposal.New(proposal.SourceTrigger, "trg-low", swapMutation("var-b"), 1, t0, time.Hour)
	if err := te.Gate.Submit(ctx, p); err != nil {
		t.Fatal(err)
	}

	fresh := NewApprovalGate(te.store, te.Graphs, te.Triggers, nil)
	if err := fresh.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if !fresh.HasPending("trg-low") {
		t.Fatal("pending proposal not restored")
	}
}

func TestProposer_ManualExpectedVersion(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	stale := int64(7)
	if _, err := te.Proposer.ProposeManual(ctx, swapMutation("var-b"), &stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	current := int64(1)
	p, err := te.Proposer.ProposeManual(ctx, swapMutation("var-b"), &current)
	if err != nil {
		t.Fatal(err)
	}
	if p.Source != proposal.SourceManual || p.BaseVersion != 1 || p.Status != proposal.StatusPending {
		t.Fatalf("unexpected proposal %+v", p)
	}
	if !p.ExpiresAt.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", p.ExpiresAt)
	}

	if _, err := te.Proposer.ProposeManual(ctx, swapMutation("var-a"), nil); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("swapping to the active variant should fail the precondition, got %v", err)
	}
	if _, err := te.Proposer.ProposeManual(ctx, swapMutation("ghost"), nil); !errors.Is(err, domain.ErrStaleTarget) {
		t.Fatalf("expected ErrStaleTarget, got %v", err)
	}
}

func TestBuildMutation(t *testing.T) {
	te := newTestEngine(t)
	g := te.Graphs.Read()

	t.Run("swap from a variant target", func(t *testing.T) {
		m, err := BuildMutation(g, lowEngagementTrigger().Action, "var-a")
		if err != nil {
			t.Fatal(err)
		}
		if m.SwapVariant.PostID != "post-1" || m.SwapVariant.VariantID != "var-b" {
			t.Fatalf("unexpected swap %+v", m.SwapVariant)
		}
	})

	t.Run("spawn walks up to the campaign", func(t *testing.T) {
		a := lowEngagementTrigger().Action
		a.Kind = graph.MutationSpawnNode
		a.Params = map[string]string{"node_kind": "post", "title": "Follow-up"}
		m, err := BuildMutation(g, a, "post-1")
		if err != nil {
			t.Fatal(err)
		}
		s := m.SpawnNode
		if s.ParentID != "cmp-1" || s.Post == nil || s.Post.Title != "Follow-up" {
			t.Fatalf("unexpected spawn %+v", s)
		}
		if len(s.EdgesFrom) != 1 || s.EdgesFrom[0] != "post-1" {
			t.Fatalf("expected an edge from the firing post, got %v", s.EdgesFrom)
		}
		if len(s.Post.ID) != len("post-")+8 {
			t.Fatalf("unexpected generated id %q", s.Post.ID)
		}
	})

	t.Run("retire defaults to the target", func(t *testing.T) {
		a := lowEngagementTrigger().Action
		a.Kind = graph.MutationRetireNode
		a.Params = nil
		m, err := BuildMutation(g, a, "post-2")
		if err != nil {
			t.Fatal(err)
		}
		if m.RetireNode.NodeID != "post-2" {
			t.Fatalf("unexpected retire %+v", m.RetireNode)
		}
	})

	t.Run("swap on a campaign is invalid", func(t *testing.T) {
		_, err := BuildMutation(g, lowEngagementTrigger().Action, "cmp-1")
		if !errors.Is(err, domain.ErrInvalidTrigger) {
			t.Fatalf("expected ErrInvalidTrigger, got %v", err)
		}
	})
}
