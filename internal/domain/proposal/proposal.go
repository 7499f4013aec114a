// Package proposal defines mutation proposals and their approval state
// machine.
package proposal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
)

// Status is the approval state. Everything except StatusPending is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Source tells who created a proposal.
type Source string

const (
	SourceTrigger Source = "trigger"
	SourceManual  Source = "manual"
)

// Decision is a human verdict on a pending proposal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Expiry reasons.
const (
	ReasonTimeout         = "approval timeout"
	ReasonVersionConflict = "graph version moved"
	ReasonCancelled       = "cancelled"
)

// Proposal is a mutation bound to the graph version it was computed
// against.
type Proposal struct {
	ID             string             `json:"id"`
	TriggerID      string             `json:"trigger_id,omitempty"`
	Source         Source             `json:"source"`
	Kind           graph.MutationKind `json:"kind"`
	TargetIDs      []string           `json:"target_ids"`
	Mutation       graph.Mutation     `json:"mutation"`
	BaseVersion    int64              `json:"base_version"`
	Status         Status             `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	DecidedBy      string             `json:"decided_by,omitempty"`
	AppliedVersion int64              `json:"applied_version,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	DecidedAt      *time.Time         `json:"decided_at,omitempty"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

// New builds a pending proposal. timeout <= 0 means it never times out.
func New(source Source, triggerID string, m graph.Mutation, baseVersion int64, now time.Time, timeout time.Duration) (*Proposal, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if source == SourceTrigger && triggerID == "" {
		return nil, fmt.Errorf("%w: trigger proposal without trigger id", domain.ErrValidation)
	}
	p := &Proposal{
		ID:          uuid.New().String(),
		TriggerID:   triggerID,
		Source:      source,
		Kind:        m.Kind,
		TargetIDs:   m.TargetIDs(),
		Mutation:    m,
		BaseVersion: baseVersion,
		Status:      StatusPending,
		CreatedAt:   now.UTC(),
	}
	if timeout > 0 {
		p.ExpiresAt = p.CreatedAt.Add(timeout)
	}
	return p, nil
}

// Overdue reports whether a pending proposal has passed its expiry.
func (p *Proposal) Overdue(now time.Time) bool {
	return p.Status == StatusPending && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Resolve moves a pending proposal to a terminal status. Resolving an
// already terminal proposal fails with domain.ErrConflict and leaves it
// unchanged.
func (p *Proposal) Resolve(to Status, actor, reason string, now time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", domain.ErrValidation, to)
	}
	if p.Status.Terminal() {
		return fmt.Errorf("%w: proposal %s is already %s", domain.ErrConflict, p.ID, p.Status)
	}
	t := now.UTC()
	p.Status = to
	p.DecidedBy = actor
	p.Reason = reason
	p.DecidedAt = &t
	return nil
}

// Payload returns the mutation payload for event consumers.
func (p *Proposal) Payload() json.RawMessage {
	return p.Mutation.Payload()
}

// Clone returns a copy safe to hand out.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.TargetIDs = append([]string(nil), p.TargetIDs...)
	if p.DecidedAt != nil {
		d := *p.DecidedAt
		c.DecidedAt = &d
	}
	return &c
}

// Filter selects proposals in List.
type Filter struct {
	Status    Status `json:"status,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Match reports whether p passes the filter (Limit is ignored).
func (f Filter) Match(p *Proposal) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.TriggerID != "" && p.TriggerID != f.TriggerID {
		return false
	}
	return true
}
