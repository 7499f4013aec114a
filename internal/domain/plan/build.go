package plan

import (
	"slices"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
)

// Build validates the seed and turns it into a graph at version 0. The
// graph store assigns version 1 when it bootstraps from the result.
func Build(s *Seed, now time.Time) (*graph.Graph, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	g := graph.New()
	g.UpdatedAt = now.UTC()
	for i, ph := range s.Phases {
		label := ph.Label
		if label == "" {
			label = ph.ID
		}
		lifecycle := ph.Lifecycle
		if lifecycle == "" {
			lifecycle = graph.LifecyclePlanning
		}
		g.Phases[ph.ID] = &graph.Phase{ID: ph.ID, Label: label, Ordinal: i + 1, Lifecycle: lifecycle}

		for _, ch := range ph.Channels {
			enabled := ch.Enabled == nil || *ch.Enabled
			g.Channels[ch.ID] = &graph.Channel{
				ID: ch.ID, PhaseID: ph.ID, Platform: ch.Platform, Name: ch.Name,
				ExternalRef: ch.ExternalRef, Enabled: enabled,
			}
			for _, cmp := range ch.Campaigns {
				g.Campaigns[cmp.ID] = &graph.Campaign{ID: cmp.ID, ChannelID: ch.ID, Name: cmp.Name, Goal: cmp.Goal}
				for _, ps := range cmp.Posts {
					addPost(g, cmp.ID, ps)
				}
			}
		}
	}
	for _, e := range s.Edges {
		if !slices.Contains(g.Edges[e.From], e.To) {
			g.Edges[e.From] = append(g.Edges[e.From], e.To)
		}
	}
	for from := range g.Edges {
		slices.Sort(g.Edges[from])
	}

	if err := graph.Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

func addPost(g *graph.Graph, campaignID string, ps PostSeed) {
	status := ps.Status
	if status == "" {
		status = graph.PostDraft
		if ps.PublishedAt != nil {
			status = graph.PostPublished
		}
	}
	p := &graph.Post{
		ID: ps.ID, CampaignID: campaignID, Title: ps.Title, Description: ps.Description,
		Status: status, ExternalRef: ps.ExternalRef, PublishedAt: ps.PublishedAt,
	}
	for _, vs := range ps.Variants {
		g.Variants[vs.ID] = &graph.Variant{
			ID: vs.ID, PostID: ps.ID, Label: vs.Label, Content: vs.Content,
			ExternalRef: vs.ExternalRef, Active: vs.Active,
		}
		p.VariantIDs = append(p.VariantIDs, vs.ID)
		if vs.Active {
			p.ActiveVariantID = vs.ID
		}
	}
	g.Posts[ps.ID] = p
}
