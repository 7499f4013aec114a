package graph

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// Effects describes what a committed mutation changed beyond the graph
// itself. RetiredIDs drives the trigger cascade.
type Effects struct {
	RetiredIDs []string `json:"retired_ids,omitempty"`
	SpawnedID  string   `json:"spawned_id,omitempty"`
	// ChannelsChanged is set when a channel was spawned or retired, so
	// collector workers need reconciling.
	ChannelsChanged bool `json:"channels_changed,omitempty"`
}

// Apply computes the successor of g under m. g is left untouched; the result
// carries Version g.Version+1 and UpdatedAt now. All invariants are checked
// on the result before it is returned.
//
// Missing or retired nodes yield domain.ErrStaleTarget, malformed mutations
// domain.ErrValidation, and invariant violations domain.ErrPrecondition.
func Apply(g *Graph, m Mutation, now time.Time) (*Graph, Effects, error) {
	if err := m.Validate(); err != nil {
		return nil, Effects{}, err
	}

	next := g.shallowClone()
	var (
		eff Effects
		err error
	)
	switch m.Kind {
	case MutationSwapVariant:
		err = next.swapVariant(m.SwapVariant)
	case MutationSpawnNode:
		eff, err = next.spawn(m.SpawnNode)
	case MutationRerouteEdge:
		err = next.reroute(m.RerouteEdge)
	case MutationRetireNode:
		eff, err = next.retire(m.RetireNode.NodeID)
	}
	if err != nil {
		return nil, Effects{}, err
	}

	if err := Validate(next); err != nil {
		return nil, Effects{}, err
	}

	next.Version = g.Version + 1
	next.UpdatedAt = now.UTC()
	return next, eff, nil
}

func (g *Graph) requireLive(id string) error {
	if !g.Has(id) {
		return fmt.Errorf("%w: node %s does not exist", domain.ErrStaleTarget, id)
	}
	if !g.IsLive(id) {
		return fmt.Errorf("%w: node %s is retired", domain.ErrStaleTarget, id)
	}
	return nil
}

func (g *Graph) swapVariant(s *SwapVariant) error {
	if err := g.requireLive(s.PostID); err != nil {
		return err
	}
	if err := g.requireLive(s.VariantID); err != nil {
		return err
	}
	if _, ok := g.Posts[s.PostID]; !ok {
		return fmt.Errorf("%w: %s is not a post", domain.ErrValidation, s.PostID)
	}
	v, ok := g.Variants[s.VariantID]
	if !ok {
		return fmt.Errorf("%w: %s is not a variant", domain.ErrValidation, s.VariantID)
	}
	if v.PostID != s.PostID {
		return fmt.Errorf("%w: variant %s belongs to post %s, not %s", domain.ErrValidation, v.ID, v.PostID, s.PostID)
	}
	if v.Active {
		return fmt.Errorf("%w: variant %s is already active", domain.ErrPrecondition, v.ID)
	}

	post := g.editPost(s.PostID)
	if prev := post.ActiveVariantID; prev != "" {
		if _, ok := g.Variants[prev]; ok {
			g.editVariant(prev).Active = false
		}
	}
	g.editVariant(s.VariantID).Active = true
	post.ActiveVariantID = s.VariantID
	return nil
}

func (g *Graph) spawn(s *SpawnNode) (Effects, error) {
	id := s.NodeID()
	if g.Has(id) {
		return Effects{}, fmt.Errorf("%w: node %s already exists", domain.ErrPrecondition, id)
	}
	if err := g.requireLive(s.ParentID); err != nil {
		return Effects{}, err
	}
	parentKind, _ := g.KindOf(s.ParentID)
	want := map[NodeKind]NodeKind{
		KindChannel:  KindPhase,
		KindCampaign: KindChannel,
		KindPost:     KindCampaign,
		KindVariant:  KindPost,
	}[s.Kind]
	if parentKind != want {
		return Effects{}, fmt.Errorf("%w: %s must be spawned under a %s, got %s", domain.ErrValidation, s.Kind, want, parentKind)
	}

	eff := Effects{SpawnedID: id}
	switch s.Kind {
	case KindChannel:
		c := *s.Channel
		c.PhaseID = s.ParentID
		c.Retired = false
		g.Channels[id] = &c
		eff.ChannelsChanged = true
	case KindCampaign:
		c := *s.Campaign
		c.ChannelID = s.ParentID
		c.Retired = false
		g.Campaigns[id] = &c
		// Goal is copied so the snapshot never aliases caller memory.
		g.editCampaign(id)
	case KindPost:
		p := *s.Post
		p.CampaignID = s.ParentID
		if p.Status == "" {
			p.Status = PostDraft
		}
		if p.Status == PostRetired {
			return Effects{}, fmt.Errorf("%w: cannot spawn a retired post", domain.ErrValidation)
		}
		if len(p.VariantIDs) > 0 || p.ActiveVariantID != "" {
			return Effects{}, fmt.Errorf("%w: spawn variants of post %s separately", domain.ErrValidation, id)
		}
		p.VariantIDs = nil
		g.Posts[id] = &p
		g.editPost(id)
	case KindVariant:
		v := *s.Variant
		v.PostID = s.ParentID
		v.Retired = false
		post := g.editPost(s.ParentID)
		if v.Active {
			if post.ActiveVariantID != "" {
				return Effects{}, fmt.Errorf("%w: post %s already has active variant %s", domain.ErrPrecondition, post.ID, post.ActiveVariantID)
			}
			post.ActiveVariantID = id
		}
		post.VariantIDs = append(post.VariantIDs, id)
		g.Variants[id] = &v
	}

	for _, from := range s.EdgesFrom {
		if err := g.requireLive(from); err != nil {
			return Effects{}, err
		}
		g.addEdge(from, id)
	}
	return eff, nil
}

func (g *Graph) reroute(r *RerouteEdge) error {
	for _, id := range []string{r.From, r.To, r.NewTo} {
		if err := g.requireLive(id); err != nil {
			return err
		}
	}
	if !g.HasEdge(r.From, r.To) {
		return fmt.Errorf("%w: edge %s→%s does not exist", domain.ErrStaleTarget, r.From, r.To)
	}
	if g.HasEdge(r.From, r.NewTo) {
		return fmt.Errorf("%w: edge %s→%s already exists", domain.ErrPrecondition, r.From, r.NewTo)
	}
	g.removeEdge(r.From, r.To)
	g.addEdge(r.From, r.NewTo)
	return nil
}

func (g *Graph) retire(id string) (Effects, error) {
	if err := g.requireLive(id); err != nil {
		return Effects{}, err
	}

	if v, ok := g.Variants[id]; ok && v.Active {
		post := g.Posts[v.PostID]
		if post.Status == PostPublished && len(g.LiveVariants(post.ID)) > 1 {
			return Effects{}, fmt.Errorf("%w: variant %s is live on published post %s; swap to another variant first",
				domain.ErrPrecondition, id, post.ID)
		}
	}

	var eff Effects
	for _, nid := range g.Subtree(id) {
		if !g.IsLive(nid) {
			continue
		}
		kind, _ := g.KindOf(nid)
		switch kind {
		case KindPhase:
			g.editPhase(nid).Retired = true
		case KindChannel:
			g.editChannel(nid).Retired = true
			eff.ChannelsChanged = true
		case KindCampaign:
			g.editCampaign(nid).Retired = true
		case KindPost:
			p := g.editPost(nid)
			p.Status = PostRetired
			p.ActiveVariantID = ""
		case KindVariant:
			v := g.editVariant(nid)
			v.Retired = true
			if v.Active {
				v.Active = false
				if p, ok := g.Posts[v.PostID]; ok && p.ActiveVariantID == nid {
					g.editPost(v.PostID).ActiveVariantID = ""
				}
			}
		}
		g.detach(nid)
		eff.RetiredIDs = append(eff.RetiredIDs, nid)
	}
	slices.Sort(eff.RetiredIDs)
	return eff, nil
}
