// Package graph defines the versioned plan graph: phases, channels,
// campaigns, posts and variants held in an arena keyed by id, with flow
// edges stored as id lists.
//
// A *Graph published by the store is an immutable snapshot. Entity pointers
// reachable from it are shared between snapshots and must be treated as
// read-only; Apply produces a new snapshot by copying only what it changes.
package graph

import (
	"slices"
	"sort"
	"time"
)

// NodeKind identifies the kind of a graph entity.
type NodeKind string

const (
	KindPhase    NodeKind = "phase"
	KindChannel  NodeKind = "channel"
	KindCampaign NodeKind = "campaign"
	KindPost     NodeKind = "post"
	KindVariant  NodeKind = "variant"
)

// Lifecycle is the campaign lifecycle stage a phase represents.
type Lifecycle string

const (
	LifecyclePlanning        Lifecycle = "planning"
	LifecycleContentCreation Lifecycle = "content_creation"
	LifecycleScheduled       Lifecycle = "scheduled"
	LifecycleActive          Lifecycle = "active"
	LifecycleAnalyzing       Lifecycle = "analyzing"
	LifecycleCompleted       Lifecycle = "completed"
)

// PostStatus is the publication state of a post.
type PostStatus string

const (
	PostDraft           PostStatus = "draft"
	PostPendingApproval PostStatus = "pending_approval"
	PostScheduled       PostStatus = "scheduled"
	PostPublished       PostStatus = "published"
	PostRetired         PostStatus = "retired"
)

// Phase is an ordered stage of the plan.
type Phase struct {
	ID        string    `json:"id" yaml:"id"`
	Label     string    `json:"label" yaml:"label"`
	Ordinal   int       `json:"ordinal" yaml:"ordinal"`
	Lifecycle Lifecycle `json:"lifecycle,omitempty" yaml:"lifecycle"`
	Retired   bool      `json:"retired,omitempty" yaml:"retired"`
}

// Channel is a distribution surface; Platform names the metrics adapter.
type Channel struct {
	ID          string `json:"id" yaml:"id"`
	PhaseID     string `json:"phase_id" yaml:"phase_id"`
	Platform    string `json:"platform" yaml:"platform"`
	Name        string `json:"name,omitempty" yaml:"name"`
	ExternalRef string `json:"external_ref,omitempty" yaml:"external_ref"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Retired     bool   `json:"retired,omitempty" yaml:"retired"`
}

// Campaign groups posts under a channel with a shared goal.
type Campaign struct {
	ID        string            `json:"id" yaml:"id"`
	ChannelID string            `json:"channel_id" yaml:"channel_id"`
	Name      string            `json:"name,omitempty" yaml:"name"`
	Goal      map[string]string `json:"goal,omitempty" yaml:"goal"`
	Retired   bool              `json:"retired,omitempty" yaml:"retired"`
}

// Post is a content unit.
type Post struct {
	ID              string     `json:"id" yaml:"id"`
	CampaignID      string     `json:"campaign_id" yaml:"campaign_id"`
	Title           string     `json:"title" yaml:"title"`
	Description     string     `json:"description,omitempty" yaml:"description"`
	Status          PostStatus `json:"status" yaml:"status"`
	ExternalRef     string     `json:"external_ref,omitempty" yaml:"external_ref"`
	PublishedAt     *time.Time `json:"published_at,omitempty" yaml:"published_at"`
	ActiveVariantID string     `json:"active_variant_id,omitempty" yaml:"active_variant_id"`
	VariantIDs      []string   `json:"variant_ids,omitempty" yaml:"variant_ids"`
}

// Retired reports whether the post has been retired.
func (p *Post) Retired() bool { return p.Status == PostRetired }

// Variant is an A/B alternative of a post's content.
type Variant struct {
	ID          string `json:"id" yaml:"id"`
	PostID      string `json:"post_id" yaml:"post_id"`
	Label       string `json:"label,omitempty" yaml:"label"`
	Content     string `json:"content" yaml:"content"`
	ExternalRef string `json:"external_ref,omitempty" yaml:"external_ref"`
	Active      bool   `json:"active" yaml:"active"`
	Retired     bool   `json:"retired,omitempty" yaml:"retired"`
}

// Edge is a flow edge between two nodes.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Graph is one version of the plan.
type Graph struct {
	Version   int64                `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Phases    map[string]*Phase    `json:"phases"`
	Channels  map[string]*Channel  `json:"channels"`
	Campaigns map[string]*Campaign `json:"campaigns"`
	Posts     map[string]*Post     `json:"posts"`
	Variants  map[string]*Variant  `json:"variants"`
	// Edges maps a node id to the sorted ids of its flow successors.
	Edges map[string][]string `json:"edges"`
}

// New returns an empty graph at version 0.
func New() *Graph {
	return &Graph{
		Phases:    make(map[string]*Phase),
		Channels:  make(map[string]*Channel),
		Campaigns: make(map[string]*Campaign),
		Posts:     make(map[string]*Post),
		Variants:  make(map[string]*Variant),
		Edges:     make(map[string][]string),
	}
}

// KindOf returns the kind of the node with the given id.
func (g *Graph) KindOf(id string) (NodeKind, bool) {
	switch {
	case g.Phases[id] != nil:
		return KindPhase, true
	case g.Channels[id] != nil:
		return KindChannel, true
	case g.Campaigns[id] != nil:
		return KindCampaign, true
	case g.Posts[id] != nil:
		return KindPost, true
	case g.Variants[id] != nil:
		return KindVariant, true
	}
	return "", false
}

// Has reports whether a node with the given id exists (retired or not).
func (g *Graph) Has(id string) bool {
	_, ok := g.KindOf(id)
	return ok
}

// IsLive reports whether the node exists and is not retired.
func (g *Graph) IsLive(id string) bool {
	kind, ok := g.KindOf(id)
	if !ok {
		return false
	}
	switch kind {
	case KindPhase:
		return !g.Phases[id].Retired
	case KindChannel:
		return !g.Channels[id].Retired
	case KindCampaign:
		return !g.Campaigns[id].Retired
	case KindPost:
		return !g.Posts[id].Retired()
	case KindVariant:
		return !g.Variants[id].Retired
	}
	return false
}

// ParentOf returns the containment parent id of a node. Phases have none.
func (g *Graph) ParentOf(id string) string {
	switch {
	case g.Channels[id] != nil:
		return g.Channels[id].PhaseID
	case g.Campaigns[id] != nil:
		return g.Campaigns[id].ChannelID
	case g.Posts[id] != nil:
		return g.Posts[id].CampaignID
	case g.Variants[id] != nil:
		return g.Variants[id].PostID
	}
	return ""
}

// PhaseOf walks the containment chain up to the node's phase.
func (g *Graph) PhaseOf(id string) (*Phase, bool) {
	for range 5 {
		if p, ok := g.Phases[id]; ok {
			return p, true
		}
		id = g.ParentOf(id)
		if id == "" {
			return nil, false
		}
	}
	return nil, false
}

// ChannelOf returns the channel a node belongs to, if any.
func (g *Graph) ChannelOf(id string) (*Channel, bool) {
	for range 4 {
		if c, ok := g.Channels[id]; ok {
			return c, true
		}
		id = g.ParentOf(id)
		if id == "" {
			return nil, false
		}
	}
	return nil, false
}

// Children returns the sorted containment children of a node.
func (g *Graph) Children(id string) []string {
	var out []string
	switch kind, _ := g.KindOf(id); kind {
	case KindPhase:
		for cid, c := range g.Channels {
			if c.PhaseID == id {
				out = append(out, cid)
			}
		}
	case KindChannel:
		for cid, c := range g.Campaigns {
			if c.ChannelID == id {
				out = append(out, cid)
			}
		}
	case KindCampaign:
		for pid, p := range g.Posts {
			if p.CampaignID == id {
				out = append(out, pid)
			}
		}
	case KindPost:
		out = append(out, g.Posts[id].VariantIDs...)
	}
	sort.Strings(out)
	return out
}

// Subtree returns the node and all its containment descendants, sorted.
func (g *Graph) Subtree(id string) []string {
	seen := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.Children(cur) {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				queue = append(queue, c)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PostsUnder returns the live posts contained in the node's subtree. For a
// post it returns the post itself; for a variant, its post.
func (g *Graph) PostsUnder(id string) []*Post {
	if v, ok := g.Variants[id]; ok {
		id = v.PostID
	}
	var out []*Post
	for _, nid := range g.Subtree(id) {
		if p, ok := g.Posts[nid]; ok && !p.Retired() {
			out = append(out, p)
		}
	}
	return out
}

// Successors returns the flow successors of a node.
func (g *Graph) Successors(id string) []string {
	return g.Edges[id]
}

// Predecessors returns the sorted flow predecessors of a node.
func (g *Graph) Predecessors(id string) []string {
	var out []string
	for from, tos := range g.Edges {
		if slices.Contains(tos, id) {
			out = append(out, from)
		}
	}
	sort.Strings(out)
	return out
}

// HasEdge reports whether the flow edge from→to exists.
func (g *Graph) HasEdge(from, to string) bool {
	return slices.Contains(g.Edges[from], to)
}

// EdgeList returns all flow edges sorted by (from, to).
func (g *Graph) EdgeList() []Edge {
	froms := make([]string, 0, len(g.Edges))
	for from := range g.Edges {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	var out []Edge
	for _, from := range froms {
		for _, to := range g.Edges[from] {
			out = append(out, Edge{From: from, To: to})
		}
	}
	return out
}

// LiveVariants returns the non-retired variants of a post.
func (g *Graph) LiveVariants(postID string) []*Variant {
	p, ok := g.Posts[postID]
	if !ok {
		return nil
	}
	var out []*Variant
	for _, vid := range p.VariantIDs {
		if v, ok := g.Variants[vid]; ok && !v.Retired {
			out = append(out, v)
		}
	}
	return out
}

// ActiveChannels returns enabled, non-retired channels sorted by id.
func (g *Graph) ActiveChannels() []*Channel {
	var out []*Channel
	for _, c := range g.Channels {
		if c.Enabled && !c.Retired {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeCount returns the number of entities in the arena.
func (g *Graph) NodeCount() int {
	return len(g.Phases) + len(g.Channels) + len(g.Campaigns) + len(g.Posts) + len(g.Variants)
}
