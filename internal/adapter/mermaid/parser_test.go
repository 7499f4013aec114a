package mermaid

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/plan"
)

const diagram = `flowchart TD
    subgraph "Phase 1"
        NODE1[<title>Teaser</title><description>Announce the launch</description>]
        NODE2[<title>Countdown</title><description>Three days to go</description>]
    end
    subgraph "Phase 2"
        NODE3[<title>Launch</title><description>It is live</description>]
    end
    NODE1 --> NODE2
    NODE2 --> NODE3
    NODE3 --> GHOST
    this line means nothing
`

func TestParse(t *testing.T) {
	seed, err := Parse(strings.NewReader(diagram), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(seed.Phases))
	}
	p1 := seed.Phases[0]
	if p1.ID != "phase-1" || p1.Label != "Phase 1" {
		t.Fatalf("unexpected phase %+v", p1)
	}
	ch := p1.Channels[0]
	if ch.ID != "phase-1-channel" || ch.Platform != "x" || !*ch.Enabled {
		t.Fatalf("unexpected channel %+v", ch)
	}
	posts := ch.Campaigns[0].Posts
	if len(posts) != 2 || posts[0].Title != "Teaser" || posts[1].Description != "Three days to go" {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if len(seed.Edges) != 2 {
		t.Fatalf("expected the dangling arrow to be dropped, got %v", seed.Edges)
	}

	g, err := plan.Build(seed, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !g.HasEdge("NODE2", "NODE3") {
		t.Fatal("expected cross-phase edge")
	}
}

func TestParse_UnphasedAndOptions(t *testing.T) {
	src := `A[<title>Loose</title><description>no phase</description>]`
	seed, err := Parse(strings.NewReader(src), Options{Platform: "jsonfeed", Disabled: true})
	if err != nil {
		t.Fatal(err)
	}
	ph := seed.Phases[0]
	if ph.Label != UnphasedLabel || ph.ID != "unknown" {
		t.Fatalf("unexpected phase %+v", ph)
	}
	if ph.Channels[0].Platform != "jsonfeed" || *ph.Channels[0].Enabled {
		t.Fatalf("unexpected channel %+v", ph.Channels[0])
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader("flowchart TD\n"), Options{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Phase 1":             "phase-1",
		"  Awareness & Buzz ": "awareness-buzz",
		"!!!":                 "phase",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
