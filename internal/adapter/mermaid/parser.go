// Package mermaid imports campaign plans written as Mermaid flowcharts:
//
//	flowchart TD
//	  subgraph "Phase 1"
//	    A[<title>Teaser</title><description>Announce the launch</description>]
//	  end
//	  A --> B
//
// Subgraphs become phases in order of appearance, titled nodes become
// posts, and arrows become flow edges. Lines that match nothing are
// skipped.
package mermaid

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/plan"
)

// UnphasedLabel is the phase nodes declared outside any subgraph land in.
const UnphasedLabel = "Unknown"

var (
	subgraphRe = regexp.MustCompile(`^subgraph\s+"([^"]+)"`)
	nodeRe     = regexp.MustCompile(`(\w+)\[<title>([^<]*)</title><description>([^<]*)</description>\]`)
	edgeRe     = regexp.MustCompile(`(\w+)\s*-->\s*(\w+)`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// Options control how phases are turned into channels.
type Options struct {
	// Platform is the channel platform of every imported phase.
	Platform string
	// Disabled imports channels with polling switched off.
	Disabled bool
}

type phaseAcc struct {
	label string
	posts []plan.PostSeed
}

// Parse reads a flowchart into a plan seed. Each phase gets one channel
// ("<phase>-channel") and one campaign ("<phase>-campaign").
func Parse(r io.Reader, opts Options) (*plan.Seed, error) {
	if opts.Platform == "" {
		opts.Platform = "x"
	}

	var (
		order   []string
		phases  = map[string]*phaseAcc{}
		current string
		edges   []graph.Edge
		posts   = map[string]bool{}
	)
	phase := func(label string) *phaseAcc {
		if p, ok := phases[label]; ok {
			return p
		}
		p := &phaseAcc{label: label}
		phases[label] = p
		order = append(order, label)
		return p
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "end" {
			continue
		}
		if m := subgraphRe.FindStringSubmatch(line); m != nil {
			current = m[1]
			phase(current)
			continue
		}
		if m := nodeRe.FindStringSubmatch(line); m != nil {
			if posts[m[1]] {
				continue
			}
			label := current
			if label == "" {
				label = UnphasedLabel
			}
			p := phase(label)
			p.posts = append(p.posts, plan.PostSeed{
				ID:          m[1],
				Title:       strings.TrimSpace(m[2]),
				Description: strings.TrimSpace(m[3]),
			})
			posts[m[1]] = true
			continue
		}
		if m := edgeRe.FindStringSubmatch(line); m != nil {
			edges = append(edges, graph.Edge{From: m[1], To: m[2]})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mermaid: %w", err)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no subgraphs or nodes found", domain.ErrValidation)
	}

	seed := &plan.Seed{}
	enabled := !opts.Disabled
	for _, label := range order {
		acc := phases[label]
		id := slug(label)
		seed.Phases = append(seed.Phases, plan.PhaseSeed{
			ID:    id,
			Label: label,
			Channels: []plan.ChannelSeed{{
				ID:       id + "-channel",
				Platform: opts.Platform,
				Enabled:  &enabled,
				Campaigns: []plan.CampaignSeed{{
					ID:    id + "-campaign",
					Name:  label,
					Posts: acc.posts,
				}},
			}},
		})
	}
	// Arrows between undeclared nodes would dangle.
	for _, e := range edges {
		if posts[e.From] && posts[e.To] {
			seed.Edges = append(seed.Edges, e)
		}
	}
	return seed, nil
}

func slug(label string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(label), "-"), "-")
	if s == "" {
		return "phase"
	}
	return s
}
