package graph

import (
	"slices"
	"sort"
)

// shallowClone copies the arena maps but shares entity pointers and edge
// slices with g. Every write on the result must go through the edit helpers
// below, which copy the touched entity first.
func (g *Graph) shallowClone() *Graph {
	c := &Graph{
		Version:   g.Version,
		UpdatedAt: g.UpdatedAt,
		Phases:    make(map[string]*Phase, len(g.Phases)),
		Channels:  make(map[string]*Channel, len(g.Channels)),
		Campaigns: make(map[string]*Campaign, len(g.Campaigns)),
		Posts:     make(map[string]*Post, len(g.Posts)),
		Variants:  make(map[string]*Variant, len(g.Variants)),
		Edges:     make(map[string][]string, len(g.Edges)),
	}
	for k, v := range g.Phases {
		c.Phases[k] = v
	}
	for k, v := range g.Channels {
		c.Channels[k] = v
	}
	for k, v := range g.Campaigns {
		c.Campaigns[k] = v
	}
	for k, v := range g.Posts {
		c.Posts[k] = v
	}
	for k, v := range g.Variants {
		c.Variants[k] = v
	}
	for k, v := range g.Edges {
		c.Edges[k] = v
	}
	return c
}

// DeepClone returns a fully independent copy of g. Used by importers and
// storage adapters that build a graph before handing it to the store.
func (g *Graph) DeepClone() *Graph {
	c := g.shallowClone()
	for k, v := range c.Phases {
		cp := *v
		c.Phases[k] = &cp
	}
	for k, v := range c.Channels {
		cp := *v
		c.Channels[k] = &cp
	}
	for k := range c.Campaigns {
		c.editCampaign(k)
	}
	for k := range c.Posts {
		c.editPost(k)
	}
	for k, v := range c.Variants {
		cp := *v
		c.Variants[k] = &cp
	}
	for k, v := range c.Edges {
		c.Edges[k] = slices.Clone(v)
	}
	return c
}

func (g *Graph) editPhase(id string) *Phase {
	cp := *g.Phases[id]
	g.Phases[id] = &cp
	return &cp
}

func (g *Graph) editChannel(id string) *Channel {
	cp := *g.Channels[id]
	g.Channels[id] = &cp
	return &cp
}

func (g *Graph) editCampaign(id string) *Campaign {
	cp := *g.Campaigns[id]
	if cp.Goal != nil {
		goal := make(map[string]string, len(cp.Goal))
		for k, v := range cp.Goal {
			goal[k] = v
		}
		cp.Goal = goal
	}
	g.Campaigns[id] = &cp
	return &cp
}

func (g *Graph) editPost(id string) *Post {
	cp := *g.Posts[id]
	cp.VariantIDs = slices.Clone(cp.VariantIDs)
	if cp.PublishedAt != nil {
		t := *cp.PublishedAt
		cp.PublishedAt = &t
	}
	g.Posts[id] = &cp
	return &cp
}

func (g *Graph) editVariant(id string) *Variant {
	cp := *g.Variants[id]
	g.Variants[id] = &cp
	return &cp
}

// addEdge inserts from→to keeping the successor list sorted. The previous
// slice is never written to.
func (g *Graph) addEdge(from, to string) {
	tos := slices.Clone(g.Edges[from])
	if slices.Contains(tos, to) {
		return
	}
	tos = append(tos, to)
	sort.Strings(tos)
	g.Edges[from] = tos
}

func (g *Graph) removeEdge(from, to string) bool {
	tos := g.Edges[from]
	i := slices.Index(tos, to)
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(tos), i, i+1)
	if len(next) == 0 {
		delete(g.Edges, from)
	} else {
		g.Edges[from] = next
	}
	return true
}

// detach removes every flow edge touching id.
func (g *Graph) detach(id string) {
	delete(g.Edges, id)
	for from, tos := range g.Edges {
		if slices.Contains(tos, id) {
			g.removeEdge(from, id)
		}
	}
}
