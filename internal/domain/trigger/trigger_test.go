package trigger

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
)

func validTrigger() *Trigger {
	return &Trigger{
		ID:        "trg-1",
		Name:      "swap on low engagement",
		Condition: "engagement_rate < 0.015 within 2h",
		TargetIDs: []string{"post-1"},
		Action: Action{
			Kind:   graph.MutationSwapVariant,
			Params: map[string]string{"variant_id": "var-b"},
		},
		Cooldown: Duration(6 * time.Hour),
		Enabled:  true,
	}
}

func TestValidate_OK(t *testing.T) {
	cond, err := validTrigger().Validate()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cond.String(), "((engagement_rate < 0.015) within 2h of publish)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Trigger)
		wantErr error
	}{
		{"missing name", func(tr *Trigger) { tr.Name = "" }, domain.ErrInvalidTrigger},
		{"no targets", func(tr *Trigger) { tr.TargetIDs = nil }, domain.ErrInvalidTrigger},
		{"empty target id", func(tr *Trigger) { tr.TargetIDs = []string{""} }, domain.ErrInvalidTrigger},
		{"duplicate target", func(tr *Trigger) { tr.TargetIDs = []string{"a", "a"} }, domain.ErrInvalidTrigger},
		{"unknown action", func(tr *Trigger) { tr.Action.Kind = "publish_now" }, domain.ErrInvalidTrigger},
		{"negative cooldown", func(tr *Trigger) { tr.Cooldown = Duration(-time.Second) }, domain.ErrInvalidTrigger},
		{"missing variant", func(tr *Trigger) { tr.Action.Params = nil }, domain.ErrInvalidTrigger},
		{"spawn phase", func(tr *Trigger) {
			tr.Action = Action{Kind: graph.MutationSpawnNode, Params: map[string]string{"node_kind": "phase"}}
		}, domain.ErrInvalidTrigger},
		{"reroute without new_to", func(tr *Trigger) {
			tr.Action = Action{Kind: graph.MutationRerouteEdge, Params: map[string]string{"to": "post-2"}}
		}, domain.ErrInvalidTrigger},
		{"bad condition", func(tr *Trigger) { tr.Condition = "likes >" }, domain.ErrInvalidCondition},
		{"missing condition", func(tr *Trigger) { tr.Condition = "" }, domain.ErrInvalidTrigger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := validTrigger()
			tt.mutate(tr)
			if _, err := tr.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_RetireNeedsNoParams(t *testing.T) {
	tr := validTrigger()
	tr.Action = Action{Kind: graph.MutationRetireNode}
	if _, err := tr.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := validTrigger()
	if tr.InCooldown(now) || !tr.CooldownEnds().IsZero() {
		t.Fatal("a trigger that never fired has no cooldown")
	}

	fired := now.Add(-5 * time.Minute)
	tr.LastFiredAt = &fired
	if !tr.InCooldown(now) || !tr.InCooldown(fired.Add(6*time.Hour-time.Nanosecond)) {
		t.Error("expected cooldown within 6h of firing")
	}
	if tr.InCooldown(fired.Add(6 * time.Hour)) {
		t.Error("cooldown should end at 6h")
	}

	tr.Cooldown = 0
	if tr.InCooldown(now) {
		t.Error("zero cooldown never cools down")
	}
}

func TestResolveAndTargets(t *testing.T) {
	a := Action{Kind: graph.MutationSwapVariant, Params: map[string]string{"post_id": "$target", "variant_id": "var-b"}}
	got := a.Resolve("post-9")
	if want := map[string]string{"post_id": "post-9", "variant_id": "var-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if a.Params["post_id"] != "$target" {
		t.Error("resolve modified the template")
	}

	tr := validTrigger()
	if !tr.Targets("post-1") || tr.Targets("post-2") {
		t.Error("unexpected Targets result")
	}
}

func TestClone(t *testing.T) {
	fired := time.Now()
	tr := validTrigger()
	tr.LastFiredAt = &fired
	c := tr.Clone()
	c.TargetIDs[0] = "other"
	c.Action.Params["variant_id"] = "other"
	*c.LastFiredAt = fired.Add(time.Hour)

	if tr.TargetIDs[0] != "post-1" || tr.Action.Params["variant_id"] != "var-b" || !tr.LastFiredAt.Equal(fired) {
		t.Fatalf("clone shares state with the original: %+v", tr)
	}
}

func TestDuration_Decode(t *testing.T) {
	var fromJSON struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"6h","b":90}`), &fromJSON); err != nil {
		t.Fatal(err)
	}
	if fromJSON.A.Std() != 6*time.Hour || fromJSON.B.Std() != 90*time.Second {
		t.Errorf("unexpected json durations %v %v", fromJSON.A.Std(), fromJSON.B.Std())
	}

	out, err := json.Marshal(fromJSON.A)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"6h0m0s"` {
		t.Errorf("unexpected encoding %s", out)
	}

	var fromYAML struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: 30m\nb: 120\n"), &fromYAML); err != nil {
		t.Fatal(err)
	}
	if fromYAML.A.Std() != 30*time.Minute || fromYAML.B.Std() != 2*time.Minute {
		t.Errorf("unexpected yaml durations %v %v", fromYAML.A.Std(), fromYAML.B.Std())
	}

	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &fromJSON); err == nil {
		t.Error("expected an error for an unparsable duration")
	}
}
