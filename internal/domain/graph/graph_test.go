package graph

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture builds a two-phase plan:
//
//	phase-1: ch-x / cmp-1 / post-1 (published, var-a active, var-b), post-2 (draft)
//	phase-2: ch-ig / cmp-2 / post-3 (draft)
//	flow:    post-1 → post-2 → post-3
func fixture(t *testing.T) *Graph {
	t.Helper()
	published := testNow.Add(-2 * time.Hour)
	g := New()
	g.Version = 1
	g.Phases["phase-1"] = &Phase{ID: "phase-1", Label: "Phase 1", Ordinal: 1, Lifecycle: LifecycleActive}
	g.Phases["phase-2"] = &Phase{ID: "phase-2", Label: "Phase 2", Ordinal: 2, Lifecycle: LifecyclePlanning}
	g.Channels["ch-x"] = &Channel{ID: "ch-x", PhaseID: "phase-1", Platform: "x", Enabled: true}
	g.Channels["ch-ig"] = &Channel{ID: "ch-ig", PhaseID: "phase-2", Platform: "jsonfeed", Enabled: true}
	g.Campaigns["cmp-1"] = &Campaign{ID: "cmp-1", ChannelID: "ch-x", Name: "Launch teaser", Goal: map[string]string{"kpi": "engagement"}}
	g.Campaigns["cmp-2"] = &Campaign{ID: "cmp-2", ChannelID: "ch-ig", Name: "Follow-up"}
	g.Posts["post-1"] = &Post{
		ID: "post-1", CampaignID: "cmp-1", Title: "Teaser", Status: PostPublished,
		ExternalRef: "1800000000000000001", PublishedAt: &published,
		ActiveVariantID: "var-a", VariantIDs: []string{"var-a", "var-b"},
	}
	g.Posts["post-2"] = &Post{ID: "post-2", CampaignID: "cmp-1", Title: "Countdown", Status: PostDraft}
	g.Posts["post-3"] = &Post{ID: "post-3", CampaignID: "cmp-2", Title: "Recap", Status: PostDraft}
	g.Variants["var-a"] = &Variant{ID: "var-a", PostID: "post-1", Label: "A", Content: "Something is coming", Active: true}
	g.Variants["var-b"] = &Variant{ID: "var-b", PostID: "post-1", Label: "B", Content: "Ship day is near"}
	g.Edges["post-1"] = []string{"post-2"}
	g.Edges["post-2"] = []string{"post-3"}
	if err := Validate(g); err != nil {
		t.Fatalf("fixture invalid: %v", err)
	}
	return g
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func wantStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestAccessors(t *testing.T) {
	g := fixture(t)

	if kind, ok := g.KindOf("var-b"); !ok || kind != KindVariant {
		t.Errorf("KindOf(var-b) = %v, %v", kind, ok)
	}
	if phase, ok := g.PhaseOf("var-b"); !ok || phase.ID != "phase-1" {
		t.Errorf("PhaseOf(var-b) = %v, %v", phase, ok)
	}
	if ch, ok := g.ChannelOf("post-1"); !ok || ch.ID != "ch-x" {
		t.Errorf("ChannelOf(post-1) = %v, %v", ch, ok)
	}

	wantStrings(t, "children", g.Children("ch-x"), []string{"cmp-1"})
	wantStrings(t, "subtree", g.Subtree("cmp-1"), []string{"cmp-1", "post-1", "post-2", "var-a", "var-b"})
	wantStrings(t, "predecessors", g.Predecessors("post-2"), []string{"post-1"})
	wantStrings(t, "topo order", TopoOrder(g), []string{"post-1", "post-2", "post-3"})
	if n := len(g.PostsUnder("phase-1")); n != 2 {
		t.Errorf("expected 2 posts under phase-1, got %d", n)
	}
	if n := len(g.PostsUnder("var-a")); n != 1 {
		t.Errorf("expected the owning post under var-a, got %d", n)
	}
	if got, want := g.EdgeList(), []Edge{{From: "post-1", To: "post-2"}, {From: "post-2", To: "post-3"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("edge list = %v, want %v", got, want)
	}
	if n := g.NodeCount(); n != 11 {
		t.Errorf("expected 11 nodes, got %d", n)
	}
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		modify func(g *Graph)
		want   error
	}{
		{"cycle", func(g *Graph) { g.Edges["post-3"] = []string{"post-1"} }, ErrBackwardEdge},
		{"sideways cycle", func(g *Graph) { g.Edges["post-2"] = []string{"post-1", "post-3"} }, ErrCycle},
		{"self loop", func(g *Graph) { g.Edges["post-2"] = []string{"post-2"} }, ErrCycle},
		{"dangling parent", func(g *Graph) { g.Posts["post-2"].CampaignID = "nope" }, ErrDanglingRef},
		{"two active", func(g *Graph) { g.Variants["var-b"].Active = true }, ErrMultipleActive},
		{"mismatch", func(g *Graph) { g.Posts["post-1"].ActiveVariantID = "var-b" }, ErrActiveMismatch},
		{"published without active", func(g *Graph) {
			g.Variants["var-a"].Active = false
			g.Posts["post-1"].ActiveVariantID = ""
		}, ErrPublishedNoActive},
		{"edge to unknown", func(g *Graph) { g.Edges["post-1"] = []string{"ghost"} }, ErrDanglingRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := fixture(t)
			tt.modify(g)
			err := Validate(g)
			wantErr(t, err, tt.want)
			wantErr(t, err, domain.ErrPrecondition)
		})
	}
}

func TestApply_SwapVariant(t *testing.T) {
	g := fixture(t)

	next, _, err := Apply(g, Mutation{
		Kind:        MutationSwapVariant,
		SwapVariant: &SwapVariant{PostID: "post-1", VariantID: "var-b"},
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}

	if next.Version != 2 || next.Posts["post-1"].ActiveVariantID != "var-b" {
		t.Fatalf("swap not applied: version %d active %q", next.Version, next.Posts["post-1"].ActiveVariantID)
	}
	if !next.Variants["var-b"].Active || next.Variants["var-a"].Active {
		t.Error("active flags not swapped")
	}
	if _, ok := next.Variants["var-a"]; !ok {
		t.Error("previous variant is deactivated, not deleted")
	}

	// the source snapshot is untouched
	if g.Version != 1 || !g.Variants["var-a"].Active || g.Variants["var-b"].Active || g.Posts["post-1"].ActiveVariantID != "var-a" {
		t.Error("source snapshot modified")
	}
	// untouched entities are shared between snapshots
	if g.Posts["post-2"] != next.Posts["post-2"] {
		t.Error("untouched post was copied")
	}
}

func TestApply_SwapVariantErrors(t *testing.T) {
	g := fixture(t)

	tests := []struct {
		name string
		swap SwapVariant
		want error
	}{
		{"already active", SwapVariant{PostID: "post-1", VariantID: "var-a"}, domain.ErrPrecondition},
		{"missing variant", SwapVariant{PostID: "post-1", VariantID: "var-z"}, domain.ErrStaleTarget},
		{"missing post", SwapVariant{PostID: "post-9", VariantID: "var-b"}, domain.ErrStaleTarget},
		{"foreign variant", SwapVariant{PostID: "post-2", VariantID: "var-b"}, domain.ErrValidation},
		{"post is not a post", SwapVariant{PostID: "cmp-1", VariantID: "var-b"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			swap := tt.swap
			_, _, err := Apply(g, Mutation{Kind: MutationSwapVariant, SwapVariant: &swap}, testNow)
			wantErr(t, err, tt.want)
		})
	}
}

func TestApply_SpawnNode(t *testing.T) {
	g := fixture(t)

	next, eff, err := Apply(g, Mutation{
		Kind: MutationSpawnNode,
		SpawnNode: &SpawnNode{
			Kind:      KindPost,
			ParentID:  "cmp-1",
			Post:      &Post{ID: "post-faq", Title: "FAQ"},
			EdgesFrom: []string{"post-1"},
		},
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}

	if eff.SpawnedID != "post-faq" {
		t.Errorf("unexpected spawned id %q", eff.SpawnedID)
	}
	faq, ok := next.Posts["post-faq"]
	if !ok {
		t.Fatal("spawned post missing")
	}
	if faq.CampaignID != "cmp-1" || faq.Status != PostDraft {
		t.Errorf("unexpected spawned post %+v", faq)
	}
	wantStrings(t, "new edges", next.Edges["post-1"], []string{"post-2", "post-faq"})
	wantStrings(t, "source edges", g.Edges["post-1"], []string{"post-2"})

	// a variant under the new post
	next2, _, err := Apply(next, Mutation{
		Kind: MutationSpawnNode,
		SpawnNode: &SpawnNode{
			Kind:     KindVariant,
			ParentID: "post-faq",
			Variant:  &Variant{ID: "var-faq", Content: "Q&A", Active: true},
		},
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if next2.Posts["post-faq"].ActiveVariantID != "var-faq" || next2.Version != 3 {
		t.Errorf("variant spawn not applied: %+v", next2.Posts["post-faq"])
	}

	// a channel spawn flags collector reconciliation
	_, eff, err = Apply(g, Mutation{
		Kind: MutationSpawnNode,
		SpawnNode: &SpawnNode{
			Kind:     KindChannel,
			ParentID: "phase-2",
			Channel:  &Channel{ID: "ch-ph", Platform: "jsonfeed", Enabled: true},
		},
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !eff.ChannelsChanged {
		t.Error("channel spawn should flag channels changed")
	}
}

func TestApply_SpawnNodeErrors(t *testing.T) {
	g := fixture(t)

	tests := []struct {
		name  string
		spawn SpawnNode
		want  error
	}{
		{"duplicate id", SpawnNode{Kind: KindPost, ParentID: "cmp-1", Post: &Post{ID: "post-2"}}, domain.ErrPrecondition},
		{"wrong parent kind", SpawnNode{Kind: KindPost, ParentID: "ch-x", Post: &Post{ID: "p"}}, domain.ErrValidation},
		{"missing parent", SpawnNode{Kind: KindPost, ParentID: "cmp-9", Post: &Post{ID: "p"}}, domain.ErrStaleTarget},
		{"phase spawn", SpawnNode{Kind: KindPhase, ParentID: "phase-1"}, domain.ErrValidation},
		{"second active variant", SpawnNode{Kind: KindVariant, ParentID: "post-1", Variant: &Variant{ID: "v", Active: true}}, domain.ErrPrecondition},
		{"backward edge", SpawnNode{Kind: KindPost, ParentID: "cmp-1", Post: &Post{ID: "p"}, EdgesFrom: []string{"post-3"}}, ErrBackwardEdge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spawn := tt.spawn
			_, _, err := Apply(g, Mutation{Kind: MutationSpawnNode, SpawnNode: &spawn}, testNow)
			wantErr(t, err, tt.want)
		})
	}
}

func TestApply_RerouteEdge(t *testing.T) {
	g := fixture(t)

	next, _, err := Apply(g, Mutation{
		Kind:        MutationRerouteEdge,
		RerouteEdge: &RerouteEdge{From: "post-1", To: "post-2", NewTo: "post-3"},
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !next.HasEdge("post-1", "post-3") || next.HasEdge("post-1", "post-2") {
		t.Error("edge not rerouted")
	}

	// rerouting into a cycle is rejected without side effects
	_, _, err = Apply(g, Mutation{
		Kind:        MutationRerouteEdge,
		RerouteEdge: &RerouteEdge{From: "post-2", To: "post-3", NewTo: "post-1"},
	}, testNow)
	wantErr(t, err, ErrCycle)
	if !g.HasEdge("post-2", "post-3") {
		t.Error("failed reroute changed the source graph")
	}

	_, _, err = Apply(g, Mutation{
		Kind:        MutationRerouteEdge,
		RerouteEdge: &RerouteEdge{From: "post-1", To: "post-3", NewTo: "post-2"},
	}, testNow)
	wantErr(t, err, domain.ErrStaleTarget)
}

func TestApply_RetireNodeCascades(t *testing.T) {
	g := fixture(t)

	next, eff, err := Apply(g, Mutation{
		Kind:       MutationRetireNode,
		RetireNode: &RetireNode{NodeID: "cmp-1"},
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}

	wantStrings(t, "retired", eff.RetiredIDs, []string{"cmp-1", "post-1", "post-2", "var-a", "var-b"})
	if !next.Campaigns["cmp-1"].Retired || next.Posts["post-1"].Status != PostRetired {
		t.Error("campaign subtree not retired")
	}
	if next.Posts["post-1"].ActiveVariantID != "" || next.Variants["var-a"].Active {
		t.Error("retired post keeps an active variant")
	}
	if len(next.Edges) != 0 {
		t.Errorf("edges touching retired nodes should be removed, got %v", next.Edges)
	}
	if !next.IsLive("post-3") {
		t.Error("post-3 is outside the subtree")
	}
	if _, ok := next.Posts["post-1"]; !ok {
		t.Error("retired nodes stay in the arena")
	}

	// retiring again is a stale target
	_, _, err = Apply(next, Mutation{Kind: MutationRetireNode, RetireNode: &RetireNode{NodeID: "post-1"}}, testNow)
	wantErr(t, err, domain.ErrStaleTarget)
}

func TestApply_RetireActiveVariantOfPublishedPost(t *testing.T) {
	g := fixture(t)

	_, _, err := Apply(g, Mutation{Kind: MutationRetireNode, RetireNode: &RetireNode{NodeID: "var-a"}}, testNow)
	wantErr(t, err, domain.ErrPrecondition)

	next, eff, err := Apply(g, Mutation{Kind: MutationRetireNode, RetireNode: &RetireNode{NodeID: "var-b"}}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	wantStrings(t, "retired", eff.RetiredIDs, []string{"var-b"})
	if !next.Variants["var-b"].Retired {
		t.Error("var-b not retired")
	}
}

func TestMutationValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
	}{
		{"unknown kind", Mutation{Kind: "merge"}},
		{"no payload", Mutation{Kind: MutationRetireNode}},
		{"wrong payload", Mutation{Kind: MutationRetireNode, SwapVariant: &SwapVariant{PostID: "a", VariantID: "b"}}},
		{"two payloads", Mutation{
			Kind:        MutationRetireNode,
			RetireNode:  &RetireNode{NodeID: "x"},
			SwapVariant: &SwapVariant{PostID: "a", VariantID: "b"},
		}},
		{"reroute same target", Mutation{Kind: MutationRerouteEdge, RerouteEdge: &RerouteEdge{From: "a", To: "b", NewTo: "b"}}},
		{"spawn without entity", Mutation{Kind: MutationSpawnNode, SpawnNode: &SpawnNode{Kind: KindPost, ParentID: "c"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantErr(t, tt.m.Validate(), domain.ErrValidation)
		})
	}
}

func TestMutationTargetsAndPayload(t *testing.T) {
	m := Mutation{Kind: MutationSwapVariant, SwapVariant: &SwapVariant{PostID: "post-1", VariantID: "var-b"}}
	wantStrings(t, "targets", m.TargetIDs(), []string{"post-1", "var-b"})

	var payload map[string]string
	if err := json.Unmarshal(m.Payload(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["post_id"] != "post-1" || payload["variant_id"] != "var-b" || len(payload) != 2 {
		t.Errorf("unexpected payload %s", m.Payload())
	}
}

func TestDeepCloneIndependent(t *testing.T) {
	g := fixture(t)
	c := g.DeepClone()
	c.Posts["post-1"].VariantIDs[0] = "changed"
	c.Campaigns["cmp-1"].Goal["kpi"] = "reach"
	c.Edges["post-1"][0] = "changed"

	if g.Posts["post-1"].VariantIDs[0] != "var-a" || g.Campaigns["cmp-1"].Goal["kpi"] != "engagement" || g.Edges["post-1"][0] != "post-2" {
		t.Fatal("deep clone shares state with the source")
	}
}
