package graph

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// MutationKind is the closed set of graph mutations.
type MutationKind string

const (
	MutationSwapVariant MutationKind = "swap_variant"
	MutationSpawnNode   MutationKind = "spawn_node"
	MutationRerouteEdge MutationKind = "reroute_edge"
	MutationRetireNode  MutationKind = "retire_node"
)

// Valid reports whether k is a known mutation kind.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationSwapVariant, MutationSpawnNode, MutationRerouteEdge, MutationRetireNode:
		return true
	}
	return false
}

// Mutation is a tagged union: Kind selects which payload is set.
type Mutation struct {
	Kind        MutationKind `json:"kind"`
	SwapVariant *SwapVariant `json:"swap_variant,omitempty"`
	SpawnNode   *SpawnNode   `json:"spawn_node,omitempty"`
	RerouteEdge *RerouteEdge `json:"reroute_edge,omitempty"`
	RetireNode  *RetireNode  `json:"retire_node,omitempty"`
}

// SwapVariant activates VariantID on PostID and deactivates the previous one.
type SwapVariant struct {
	PostID    string `json:"post_id"`
	VariantID string `json:"variant_id"`
}

// SpawnNode adds a fully formed entity under ParentID. Exactly one of the
// entity pointers matching Kind must be set. EdgesFrom lists existing nodes
// that get a flow edge into the new node.
type SpawnNode struct {
	Kind      NodeKind  `json:"node_kind"`
	ParentID  string    `json:"parent_id"`
	Channel   *Channel  `json:"channel,omitempty"`
	Campaign  *Campaign `json:"campaign,omitempty"`
	Post      *Post     `json:"post,omitempty"`
	Variant   *Variant  `json:"variant,omitempty"`
	EdgesFrom []string  `json:"edges_from,omitempty"`
}

// NodeID returns the id of the entity being spawned.
func (s *SpawnNode) NodeID() string {
	switch s.Kind {
	case KindChannel:
		if s.Channel != nil {
			return s.Channel.ID
		}
	case KindCampaign:
		if s.Campaign != nil {
			return s.Campaign.ID
		}
	case KindPost:
		if s.Post != nil {
			return s.Post.ID
		}
	case KindVariant:
		if s.Variant != nil {
			return s.Variant.ID
		}
	}
	return ""
}

// RerouteEdge replaces the flow edge From→To with From→NewTo.
type RerouteEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	NewTo string `json:"new_to"`
}

// RetireNode retires a node and its containment subtree.
type RetireNode struct {
	NodeID string `json:"node_id"`
}

// Validate checks that the mutation is structurally complete. It does not
// look at any graph.
func (m *Mutation) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown mutation kind %q", domain.ErrValidation, m.Kind)
	}
	set := 0
	for _, p := range []bool{m.SwapVariant != nil, m.SpawnNode != nil, m.RerouteEdge != nil, m.RetireNode != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: mutation must carry exactly one payload", domain.ErrValidation)
	}

	switch m.Kind {
	case MutationSwapVariant:
		if m.SwapVariant == nil {
			return fmt.Errorf("%w: swap_variant payload is required", domain.ErrValidation)
		}
		if m.SwapVariant.PostID == "" || m.SwapVariant.VariantID == "" {
			return fmt.Errorf("%w: swap_variant requires post_id and variant_id", domain.ErrValidation)
		}
	case MutationSpawnNode:
		s := m.SpawnNode
		if s == nil {
			return fmt.Errorf("%w: spawn_node payload is required", domain.ErrValidation)
		}
		if s.ParentID == "" {
			return fmt.Errorf("%w: spawn_node requires parent_id", domain.ErrValidation)
		}
		switch s.Kind {
		case KindChannel, KindCampaign, KindPost, KindVariant:
		default:
			return fmt.Errorf("%w: spawn_node cannot create %q nodes", domain.ErrValidation, s.Kind)
		}
		if s.NodeID() == "" {
			return fmt.Errorf("%w: spawn_node requires a %s entity with an id", domain.ErrValidation, s.Kind)
		}
	case MutationRerouteEdge:
		r := m.RerouteEdge
		if r == nil {
			return fmt.Errorf("%w: reroute_edge payload is required", domain.ErrValidation)
		}
		if r.From == "" || r.To == "" || r.NewTo == "" {
			return fmt.Errorf("%w: reroute_edge requires from, to and new_to", domain.ErrValidation)
		}
		if r.To == r.NewTo {
			return fmt.Errorf("%w: reroute_edge new_to equals to", domain.ErrValidation)
		}
	case MutationRetireNode:
		if m.RetireNode == nil || m.RetireNode.NodeID == "" {
			return fmt.Errorf("%w: retire_node requires node_id", domain.ErrValidation)
		}
	}
	return nil
}

// TargetIDs returns the existing node ids the mutation reads or changes.
func (m *Mutation) TargetIDs() []string {
	switch m.Kind {
	case MutationSwapVariant:
		if m.SwapVariant != nil {
			return []string{m.SwapVariant.PostID, m.SwapVariant.VariantID}
		}
	case MutationSpawnNode:
		if m.SpawnNode != nil {
			return append([]string{m.SpawnNode.ParentID}, m.SpawnNode.EdgesFrom...)
		}
	case MutationRerouteEdge:
		if m.RerouteEdge != nil {
			return []string{m.RerouteEdge.From, m.RerouteEdge.To, m.RerouteEdge.NewTo}
		}
	case MutationRetireNode:
		if m.RetireNode != nil {
			return []string{m.RetireNode.NodeID}
		}
	}
	return nil
}

// Payload returns the JSON encoding of the kind-specific payload.
func (m *Mutation) Payload() json.RawMessage {
	var v any
	switch m.Kind {
	case MutationSwapVariant:
		v = m.SwapVariant
	case MutationSpawnNode:
		v = m.SpawnNode
	case MutationRerouteEdge:
		v = m.RerouteEdge
	case MutationRetireNode:
		v = m.RetireNode
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
