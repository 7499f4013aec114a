// Package plan defines the campaign plan seed: the nested document a
// planner hands over to bootstrap an empty graph.
package plan

import (
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
)

// Seed is a full plan. Phases are ordered by position; containment is
// expressed by nesting and flow edges by id.
type Seed struct {
	Name   string       `json:"name,omitempty" yaml:"name"`
	Phases []PhaseSeed  `json:"phases" yaml:"phases" validate:"required,min=1,dive"`
	Edges  []graph.Edge `json:"edges,omitempty" yaml:"edges" validate:"dive"`
}

// PhaseSeed is one phase with its channels.
type PhaseSeed struct {
	ID        string          `json:"id" yaml:"id" validate:"required"`
	Label     string          `json:"label" yaml:"label"`
	Lifecycle graph.Lifecycle `json:"lifecycle,omitempty" yaml:"lifecycle"`
	Channels  []ChannelSeed   `json:"channels,omitempty" yaml:"channels" validate:"dive"`
}

// ChannelSeed is a channel; Enabled defaults to true.
type ChannelSeed struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Platform    string         `json:"platform" yaml:"platform" validate:"required"`
	Name        string         `json:"name,omitempty" yaml:"name"`
	ExternalRef string         `json:"external_ref,omitempty" yaml:"external_ref"`
	Enabled     *bool          `json:"enabled,omitempty" yaml:"enabled"`
	Campaigns   []CampaignSeed `json:"campaigns,omitempty" yaml:"campaigns" validate:"dive"`
}

// CampaignSeed is a campaign with its posts.
type CampaignSeed struct {
	ID    string            `json:"id" yaml:"id" validate:"required"`
	Name  string            `json:"name,omitempty" yaml:"name"`
	Goal  map[string]string `json:"goal,omitempty" yaml:"goal"`
	Posts []PostSeed        `json:"posts,omitempty" yaml:"posts" validate:"dive"`
}

// PostSeed is a post. Status defaults to draft, or published when
// PublishedAt is set.
type PostSeed struct {
	ID          string           `json:"id" yaml:"id" validate:"required"`
	Title       string           `json:"title" yaml:"title" validate:"required"`
	Description string           `json:"description,omitempty" yaml:"description"`
	Status      graph.PostStatus `json:"status,omitempty" yaml:"status"`
	ExternalRef string           `json:"external_ref,omitempty" yaml:"external_ref"`
	PublishedAt *time.Time       `json:"published_at,omitempty" yaml:"published_at"`
	Variants    []VariantSeed    `json:"variants,omitempty" yaml:"variants" validate:"dive"`
}

// VariantSeed is a content variant; at most one per post may be active.
type VariantSeed struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Label       string `json:"label,omitempty" yaml:"label"`
	Content     string `json:"content" yaml:"content"`
	ExternalRef string `json:"external_ref,omitempty" yaml:"external_ref"`
	Active      bool   `json:"active" yaml:"active"`
}

// Counts summarizes a seed.
type Counts struct {
	Phases    int `json:"phases"`
	Channels  int `json:"channels"`
	Campaigns int `json:"campaigns"`
	Posts     int `json:"posts"`
	Variants  int `json:"variants"`
	Edges     int `json:"edges"`
}

// Count returns the number of entities of each kind.
func (s *Seed) Count() Counts {
	c := Counts{Phases: len(s.Phases), Edges: len(s.Edges)}
	for i := range s.Phases {
		for j := range s.Phases[i].Channels {
			ch := &s.Phases[i].Channels[j]
			c.Channels++
			for k := range ch.Campaigns {
				c.Campaigns++
				for _, p := range ch.Campaigns[k].Posts {
					c.Posts++
					c.Variants += len(p.Variants)
				}
			}
		}
	}
	return c
}
