package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
)

// NextVariant as variant_id selects the live variant after the active one,
// in the post's variant order.
const NextVariant = "$next"

// Proposer turns a fired trigger's action template into a concrete mutation
// and checks it against the graph snapshot the trigger was evaluated on.
// It never mutates the graph.
type Proposer struct {
	graphs  *GraphStore
	timeout time.Duration
	now     func() time.Time
}

// NewProposer creates a proposer whose proposals expire after timeout.
func NewProposer(graphs *GraphStore, timeout time.Duration) *Proposer {
	return &Proposer{graphs: graphs, timeout: timeout, now: time.Now}
}

// Propose builds the proposal for t firing on targetID against g.
//
// Errors: domain.ErrStaleTarget when a referenced node is gone or retired,
// domain.ErrInvalidTrigger when the template cannot produce a valid
// mutation, domain.ErrPrecondition when the mutation does not apply to g
// right now.
func (p *Proposer) Propose(_ context.Context, t *trigger.Trigger, targetID string, g *graph.Graph) (*proposal.Proposal, error) {
	m, err := BuildMutation(g, t.Action, targetID)
	if err != nil {
		return nil, err
	}
	if err := p.check(g, m); err != nil {
		return nil, err
	}
	return proposal.New(proposal.SourceTrigger, t.ID, m, g.Version, p.now(), p.timeout)
}

// ProposeManual wraps an operator mutation. A non-nil expectedVersion must
// match the current version.
func (p *Proposer) ProposeManual(_ context.Context, m graph.Mutation, expectedVersion *int64) (*proposal.Proposal, error) {
	g := p.graphs.Read()
	if expectedVersion != nil && *expectedVersion != g.Version {
		return nil, fmt.Errorf("%w: expected %d, current %d", domain.ErrVersionConflict, *expectedVersion, g.Version)
	}
	if _, _, err := p.graphs.DryRun(g, m); err != nil {
		return nil, err
	}
	return proposal.New(proposal.SourceManual, "", m, g.Version, p.now(), p.timeout)
}

func (p *Proposer) check(g *graph.Graph, m graph.Mutation) error {
	_, _, err := p.graphs.DryRun(g, m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStaleTarget), errors.Is(err, domain.ErrPrecondition):
		return err
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err)
	default:
		return err
	}
}

// BuildMutation resolves an action template for targetID. Params left out
// default to the firing target where trigger.TargetDefaults names one.
func BuildMutation(g *graph.Graph, a trigger.Action, targetID string) (graph.Mutation, error) {
	params := a.Resolve(targetID)
	if key, ok := trigger.TargetDefaults[a.Kind]; ok && params[key] == "" {
		params[key] = targetID
	}

	m := graph.Mutation{Kind: a.Kind}
	switch a.Kind {
	case graph.MutationSwapVariant:
		postID, err := resolvePost(g, params["post_id"])
		if err != nil {
			return m, err
		}
		variantID := params["variant_id"]
		if variantID == NextVariant {
			if variantID, err = nextVariant(g, postID); err != nil {
				return m, err
			}
		}
		m.SwapVariant = &graph.SwapVariant{PostID: postID, VariantID: variantID}

	case graph.MutationSpawnNode:
		s, err := buildSpawn(g, params)
		if err != nil {
			return m, err
		}
		m.SpawnNode = s

	case graph.MutationRerouteEdge:
		m.RerouteEdge = &graph.RerouteEdge{From: params["from"], To: params["to"], NewTo: params["new_to"]}

	case graph.MutationRetireNode:
		m.RetireNode = &graph.RetireNode{NodeID: params["node_id"]}

	default:
		return m, fmt.Errorf("%w: unknown action kind %q", domain.ErrInvalidTrigger, a.Kind)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("%w: %w", domain.ErrInvalidTrigger, err)
	}
	return m, nil
}

// resolvePost accepts a post or one of its variants.
func resolvePost(g *graph.Graph, id string) (string, error) {
	if v, ok := g.Variants[id]; ok {
		return v.PostID, nil
	}
	if _, ok := g.Posts[id]; ok {
		return id, nil
	}
	if !g.Has(id) {
		return "", fmt.Errorf("%w: post %s does not exist", domain.ErrStaleTarget, id)
	}
	return "", fmt.Errorf("%w: swap_variant target %s is not a post", domain.ErrInvalidTrigger, id)
}

func nextVariant(g *graph.Graph, postID string) (string, error) {
	post := g.Posts[postID]
	live := g.LiveVariants(postID)
	if len(live) < 2 {
		return "", fmt.Errorf("%w: post %s has no other live variant", domain.ErrPrecondition, postID)
	}
	for i, v := range live {
		if v.ID == post.ActiveVariantID {
			return live[(i+1)%len(live)].ID, nil
		}
	}
	return live[0].ID, nil
}

var spawnParent = map[graph.NodeKind]graph.NodeKind{
	graph.KindChannel:  graph.KindPhase,
	graph.KindCampaign: graph.KindChannel,
	graph.KindPost:     graph.KindCampaign,
	graph.KindVariant:  graph.KindPost,
}

// buildSpawn assembles the new entity from params. When parent_id names a
// node below the required parent kind (a follow-up post for a post target),
// the containment chain is walked up to the right parent and a post
// target gets a flow edge into the new post.
func buildSpawn(g *graph.Graph, params map[string]string) (*graph.SpawnNode, error) {
	kind := graph.NodeKind(params["node_kind"])
	want, ok := spawnParent[kind]
	if !ok {
		return nil, fmt.Errorf("%w: spawn_node cannot create %q nodes", domain.ErrInvalidTrigger, kind)
	}

	from := params["parent_id"]
	if !g.Has(from) {
		return nil, fmt.Errorf("%w: parent %s does not exist", domain.ErrStaleTarget, from)
	}
	parent := from
	for depth := 0; depth < 5; depth++ {
		k, _ := g.KindOf(parent)
		if k == want {
			break
		}
		parent = g.ParentOf(parent)
		if parent == "" {
			return nil, fmt.Errorf("%w: no %s above %s to spawn a %s under", domain.ErrInvalidTrigger, want, from, kind)
		}
	}

	id := params["id"]
	if id == "" {
		id = fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8])
	}
	s := &graph.SpawnNode{Kind: kind, ParentID: parent}
	switch kind {
	case graph.KindChannel:
		enabled := true
		if v, ok := params["enabled"]; ok {
			enabled, _ = strconv.ParseBool(v)
		}
		s.Channel = &graph.Channel{
			ID:          id,
			Platform:    params["platform"],
			Name:        params["name"],
			ExternalRef: params["external_ref"],
			Enabled:     enabled,
		}
	case graph.KindCampaign:
		s.Campaign = &graph.Campaign{ID: id, Name: params["name"]}
	case graph.KindPost:
		title := params["title"]
		if title == "" {
			title = params["name"]
		}
		s.Post = &graph.Post{
			ID:          id,
			Title:       title,
			Description: params["description"],
			Status:      graph.PostDraft,
		}
	case graph.KindVariant:
		s.Variant = &graph.Variant{
			ID:      id,
			Label:   params["label"],
			Content: params["content"],
		}
	}

	if list := params["edges_from"]; list != "" {
		for _, e := range strings.Split(list, ",") {
			if e = strings.TrimSpace(e); e != "" {
				s.EdgesFrom = append(s.EdgesFrom, e)
			}
		}
	} else if fk, _ := g.KindOf(from); fk == graph.KindPost && kind == graph.KindPost {
		s.EdgesFrom = []string{from}
	}
	return s, nil
}
