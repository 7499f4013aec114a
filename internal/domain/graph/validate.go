package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

var (
	ErrCycle             = errors.New("flow edges contain a cycle")
	ErrBackwardEdge      = errors.New("flow edge points to an earlier phase")
	ErrDanglingRef       = errors.New("reference to unknown node")
	ErrRetiredEdge       = errors.New("flow edge touches a retired node")
	ErrMultipleActive    = errors.New("post has more than one active variant")
	ErrActiveMismatch    = errors.New("active_variant_id does not match the active variant")
	ErrPublishedNoActive = errors.New("published post has variants but none is active")
)

// Validate checks every structural invariant of the graph. Violations are
// wrapped with domain.ErrPrecondition.
func Validate(g *Graph) error {
	if err := validateContainment(g); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPrecondition, err)
	}
	if err := validateVariants(g); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPrecondition, err)
	}
	if err := validateEdges(g); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPrecondition, err)
	}
	return validateDAG(g)
}

func validateContainment(g *Graph) error {
	for id, c := range g.Channels {
		if _, ok := g.Phases[c.PhaseID]; !ok {
			return fmt.Errorf("channel %s phase %q: %w", id, c.PhaseID, ErrDanglingRef)
		}
	}
	for id, c := range g.Campaigns {
		if _, ok := g.Channels[c.ChannelID]; !ok {
			return fmt.Errorf("campaign %s channel %q: %w", id, c.ChannelID, ErrDanglingRef)
		}
	}
	for id, p := range g.Posts {
		if _, ok := g.Campaigns[p.CampaignID]; !ok {
			return fmt.Errorf("post %s campaign %q: %w", id, p.CampaignID, ErrDanglingRef)
		}
	}
	for id, v := range g.Variants {
		p, ok := g.Posts[v.PostID]
		if !ok {
			return fmt.Errorf("variant %s post %q: %w", id, v.PostID, ErrDanglingRef)
		}
		found := false
		for _, vid := range p.VariantIDs {
			if vid == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("variant %s not listed on post %s: %w", id, p.ID, ErrDanglingRef)
		}
	}
	return nil
}

func validateVariants(g *Graph) error {
	for id, p := range g.Posts {
		active := ""
		live := 0
		for _, vid := range p.VariantIDs {
			v, ok := g.Variants[vid]
			if !ok {
				return fmt.Errorf("post %s variant %q: %w", id, vid, ErrDanglingRef)
			}
			if v.Retired {
				if v.Active {
					return fmt.Errorf("post %s: retired variant %s is active: %w", id, vid, ErrActiveMismatch)
				}
				continue
			}
			live++
			if v.Active {
				if active != "" {
					return fmt.Errorf("post %s: %w", id, ErrMultipleActive)
				}
				active = vid
			}
		}
		if active != p.ActiveVariantID {
			return fmt.Errorf("post %s: %w", id, ErrActiveMismatch)
		}
		if p.Status == PostPublished && live > 0 && active == "" {
			return fmt.Errorf("post %s: %w", id, ErrPublishedNoActive)
		}
	}
	return nil
}

func validateEdges(g *Graph) error {
	for from, tos := range g.Edges {
		if !g.Has(from) {
			return fmt.Errorf("edge from %q: %w", from, ErrDanglingRef)
		}
		if !g.IsLive(from) {
			return fmt.Errorf("edge from %s: %w", from, ErrRetiredEdge)
		}
		fromPhase, hasFrom := g.PhaseOf(from)
		for _, to := range tos {
			if !g.Has(to) {
				return fmt.Errorf("edge %s→%q: %w", from, to, ErrDanglingRef)
			}
			if !g.IsLive(to) {
				return fmt.Errorf("edge %s→%s: %w", from, to, ErrRetiredEdge)
			}
			toPhase, hasTo := g.PhaseOf(to)
			if hasFrom && hasTo && toPhase.Ordinal < fromPhase.Ordinal {
				return fmt.Errorf("edge %s→%s: %w", from, to, ErrBackwardEdge)
			}
		}
	}
	return nil
}

// validateDAG checks that flow edges are acyclic using Kahn's algorithm.
func validateDAG(g *Graph) error {
	inDegree := make(map[string]int)
	for from, tos := range g.Edges {
		if _, ok := inDegree[from]; !ok {
			inDegree[from] = 0
		}
		for _, to := range tos {
			if to == from {
				return fmt.Errorf("%w: node %s points to itself: %w", domain.ErrPrecondition, from, ErrCycle)
			}
			inDegree[to]++
		}
	}

	queue := make([]string, 0, len(inDegree))
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range g.Edges[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(inDegree) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("%w: %w (involving %v)", domain.ErrPrecondition, ErrCycle, stuck)
	}
	return nil
}

// TopoOrder returns node ids that carry flow edges in a deterministic
// topological order. It assumes the graph has been validated.
func TopoOrder(g *Graph) []string {
	inDegree := make(map[string]int)
	for from, tos := range g.Edges {
		if _, ok := inDegree[from]; !ok {
			inDegree[from] = 0
		}
		for _, to := range tos {
			inDegree[to]++
		}
	}
	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	out := make([]string, 0, len(inDegree))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		out = append(out, node)
		for _, next := range g.Edges[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	return out
}
