// Package storetest provides a behavioural test suite shared by the
// database.Store and eventstore.Store implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
)

// base is second-aligned so every backend round-trips it exactly.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Graph builds a small valid graph at the given version.
func Graph(version int64) *graph.Graph {
	g := graph.New()
	g.Version = version
	g.UpdatedAt = base
	g.Phases["phase-1"] = &graph.Phase{ID: "phase-1", Label: "Launch", Ordinal: 1}
	g.Channels["ch-x"] = &graph.Channel{ID: "ch-x", PhaseID: "phase-1", Platform: "x", Enabled: true}
	g.Campaigns["cmp-1"] = &graph.Campaign{ID: "cmp-1", ChannelID: "ch-x", Name: "Teaser"}
	g.Posts["post-1"] = &graph.Post{ID: "post-1", CampaignID: "cmp-1", Title: "Teaser", Status: graph.PostDraft, VariantIDs: []string{"var-a"}, ActiveVariantID: "var-a"}
	g.Posts["post-2"] = &graph.Post{ID: "post-2", CampaignID: "cmp-1", Title: "Countdown", Status: graph.PostDraft}
	g.Variants["var-a"] = &graph.Variant{ID: "var-a", PostID: "post-1", Content: "Soon", Active: true}
	g.Edges["post-1"] = []string{"post-2"}
	return g
}

// RunStore runs the database.Store suite. s must be empty.
func RunStore(t *testing.T, s database.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Graph", func(t *testing.T) {
		g, err := s.LoadGraph(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if g.Version != 0 || g.NodeCount() != 0 {
			t.Fatalf("expected empty graph at v0, got v%d with %d nodes", g.Version, g.NodeCount())
		}

		if err := s.SaveGraph(ctx, Graph(1), 0); err != nil {
			t.Fatalf("save v1: %v", err)
		}
		err = s.SaveGraph(ctx, Graph(2), 0)
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict for stale expected version, got %v", err)
		}
		if err := s.SaveGraph(ctx, Graph(2), 1); err != nil {
			t.Fatalf("save v2: %v", err)
		}

		g, err = s.LoadGraph(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if g.Version != 2 {
			t.Fatalf("expected v2, got v%d", g.Version)
		}
		if g.Posts["post-1"] == nil || g.Posts["post-1"].ActiveVariantID != "var-a" {
			t.Fatal("post-1 did not round-trip")
		}
		if !g.HasEdge("post-1", "post-2") {
			t.Fatal("edge did not round-trip")
		}
	})

	t.Run("Triggers", func(t *testing.T) {
		tr := &trigger.Trigger{
			ID:        "trg-1",
			Name:      "low engagement",
			Condition: "engagement_rate < 0.015 within 2h",
			TargetIDs: []string{"post-1"},
			Action:    trigger.Action{Kind: graph.MutationSwapVariant, Params: map[string]string{"variant_id": "var-b"}},
			Cooldown:  trigger.Duration(6 * time.Hour),
			Enabled:   true,
			CreatedAt: base,
			UpdatedAt: base,
		}
		if err := s.UpsertTrigger(ctx, tr); err != nil {
			t.Fatal(err)
		}
		fired := base.Add(time.Hour)
		tr.LastFiredAt = &fired
		if err := s.UpsertTrigger(ctx, tr); err != nil {
			t.Fatal(err)
		}

		got, err := s.GetTrigger(ctx, "trg-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != tr.Name || got.Cooldown != tr.Cooldown || got.Action.Params["variant_id"] != "var-b" {
			t.Fatalf("trigger did not round-trip: %+v", got)
		}
		if got.LastFiredAt == nil || !got.LastFiredAt.Equal(fired) {
			t.Fatalf("expected last_fired_at %v, got %v", fired, got.LastFiredAt)
		}

		second := tr.Clone()
		second.ID = "trg-0"
		if err := s.UpsertTrigger(ctx, second); err != nil {
			t.Fatal(err)
		}
		list, err := s.ListTriggers(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].ID != "trg-0" {
			t.Fatalf("expected 2 triggers sorted by id, got %+v", list)
		}

		if err := s.DeleteTrigger(ctx, "trg-0"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetTrigger(ctx, "trg-0"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.DeleteTrigger(ctx, "trg-0"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("Proposals", func(t *testing.T) {
		m := graph.Mutation{Kind: graph.MutationSwapVariant, SwapVariant: &graph.SwapVariant{PostID: "post-1", VariantID: "var-b"}}
		p1, err := proposal.New(proposal.SourceTrigger, "trg-1", m, 2, base, 24*time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		p2, err := proposal.New(proposal.SourceManual, "", m, 2, base.Add(time.Minute), 0)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range []*proposal.Proposal{p1, p2} {
			if err := s.CreateProposal(ctx, p); err != nil {
				t.Fatal(err)
			}
		}

		if err := p1.Resolve(proposal.StatusRejected, "alice", "off brand", base.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateProposal(ctx, p1); err != nil {
			t.Fatalf("update pending: %v", err)
		}
		if err := s.UpdateProposal(ctx, p1); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict updating a terminal proposal, got %v", err)
		}

		got, err := s.GetProposal(ctx, p1.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != proposal.StatusRejected || got.DecidedBy != "alice" || got.Mutation.SwapVariant == nil {
			t.Fatalf("proposal did not round-trip: %+v", got)
		}

		pending, err := s.ListProposals(ctx, proposal.Filter{Status: proposal.StatusPending})
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].ID != p2.ID {
			t.Fatalf("expected only the manual proposal pending, got %+v", pending)
		}
		byTrigger, err := s.ListProposals(ctx, proposal.Filter{TriggerID: "trg-1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(byTrigger) != 1 || byTrigger[0].ID != p1.ID {
			t.Fatalf("expected the trigger proposal, got %+v", byTrigger)
		}
		all, err := s.ListProposals(ctx, proposal.Filter{Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 || all[0].ID != p2.ID {
			t.Fatalf("expected newest proposal first, got %+v", all)
		}

		if _, err := s.GetProposal(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Snapshots", func(t *testing.T) {
		batch := []metric.Snapshot{
			{NodeID: "post-1", ChannelID: "ch-x", Platform: "x", Likes: 3, Impressions: 100, CollectedAt: base.Add(10 * time.Minute)},
			{NodeID: "post-1", ChannelID: "ch-x", Platform: "x", Likes: 1, Impressions: 40, CollectedAt: base},
			{NodeID: "post-2", ChannelID: "ch-x", Platform: "x", Likes: 9, CollectedAt: base},
		}
		if err := s.AppendSnapshots(ctx, batch); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendSnapshots(ctx, []metric.Snapshot{
			{NodeID: "post-1", ChannelID: "ch-x", Platform: "x", Likes: 7, Impressions: 300, CollectedAt: base.Add(20 * time.Minute)},
		}); err != nil {
			t.Fatal(err)
		}

		h, err := s.SnapshotHistory(ctx, "post-1", time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(h) != 3 {
			t.Fatalf("expected 3 snapshots, got %d", len(h))
		}
		for i, want := range []int64{1, 3, 7} {
			if h[i].Likes != want {
				t.Fatalf("snapshot %d: expected likes %d (oldest first), got %d", i, want, h[i].Likes)
			}
		}

		h, err = s.SnapshotHistory(ctx, "post-1", base.Add(5*time.Minute), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(h) != 2 {
			t.Fatalf("expected 2 snapshots since +5m, got %d", len(h))
		}

		h, err = s.SnapshotHistory(ctx, "post-1", time.Time{}, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(h) != 1 || h[0].Likes != 7 {
			t.Fatalf("expected newest snapshot with limit 1, got %+v", h)
		}

		h, err = s.SnapshotHistory(ctx, "unknown", time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(h) != 0 {
			t.Fatalf("expected no history, got %d", len(h))
		}
	})
}

// RunEvents runs the eventstore.Store suite. s must be empty.
func RunEvents(t *testing.T, s eventstore.Store) {
	t.Helper()
	ctx := context.Background()

	types := []event.Type{event.TypeGraphCommitted, event.TypeProposalCreated, event.TypeGraphCommitted}
	for i, typ := range types {
		ev, err := event.NewEnvelope(typ, event.GraphCommitted{Version: int64(i + 1)}, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		ev.RequestID = "req-1"
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.ListEvents(ctx, event.Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 2 || !page.HasMore {
		t.Fatalf("expected first page of 2 with more, got %d has_more=%v", len(page.Events), page.HasMore)
	}
	if page.Events[0].Type != event.TypeGraphCommitted || page.Events[0].RequestID != "req-1" {
		t.Fatalf("unexpected first event %+v", page.Events[0])
	}

	next, err := s.ListEvents(ctx, event.Filter{Limit: 2, Cursor: page.Cursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Events) != 1 || next.HasMore {
		t.Fatalf("expected last page of 1, got %d has_more=%v", len(next.Events), next.HasMore)
	}

	commits, err := s.ListEvents(ctx, event.Filter{Type: event.TypeGraphCommitted})
	if err != nil {
		t.Fatal(err)
	}
	if len(commits.Events) != 2 {
		t.Fatalf("expected 2 graph.committed events, got %d", len(commits.Events))
	}

	after := base
	later, err := s.ListEvents(ctx, event.Filter{After: &after})
	if err != nil {
		t.Fatal(err)
	}
	if len(later.Events) != 2 {
		t.Fatalf("expected 2 events after base, got %d", len(later.Events))
	}
}
