// Package event defines the events the engine emits to operators and to the
// message bus, and the envelope they are logged in.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event. It doubles as the WebSocket message
// type and the NATS subject suffix.
type Type string

const (
	TypeProposalCreated  Type = "proposal.created"
	TypeProposalResolved Type = "proposal.resolved"
	TypeGraphCommitted   Type = "graph.committed"
	TypeMetricsDegraded  Type = "metrics.degraded"
	TypeTriggerDisabled  Type = "trigger.disabled"
	TypeReevaluate       Type = "trigger.reevaluate"
)

// ProposalCreated is emitted when a proposal enters pending.
type ProposalCreated struct {
	ProposalID string          `json:"proposal_id"`
	TriggerID  string          `json:"trigger_id,omitempty"`
	Kind       string          `json:"kind"`
	TargetIDs  []string        `json:"target_ids"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ProposalResolved is emitted on every terminal transition.
type ProposalResolved struct {
	ProposalID     string `json:"proposal_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	AppliedVersion int64  `json:"applied_version,omitempty"`
}

// GraphCommitted is emitted after each committed mutation.
type GraphCommitted struct {
	Version    int64    `json:"version"`
	Kind       string   `json:"kind"`
	ProposalID string   `json:"proposal_id,omitempty"`
	RetiredIDs []string `json:"retired_ids,omitempty"`
	SpawnedID  string   `json:"spawned_id,omitempty"`
}

// MetricsDegraded is emitted when a channel poll gave up for one cycle.
type MetricsDegraded struct {
	ChannelID string    `json:"channel_id"`
	Platform  string    `json:"platform"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// TriggerDisabled is emitted when the engine disables a trigger.
type TriggerDisabled struct {
	TriggerID string `json:"trigger_id"`
	Reason    string `json:"reason"`
}

// Reevaluate asks the evaluator to run a trigger (or all when empty) again.
type Reevaluate struct {
	TriggerID string `json:"trigger_id,omitempty"`
	Reason    string `json:"reason"`
}

// Envelope is a logged event.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEnvelope marshals payload into an envelope with a fresh id.
func NewEnvelope(t Type, payload any, now time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   data,
		CreatedAt: now.UTC(),
	}, nil
}

// Filter selects logged events.
type Filter struct {
	Type   Type       `json:"type,omitempty"`
	After  *time.Time `json:"after,omitempty"`
	Cursor string     `json:"cursor,omitempty"` // id of the last event of the previous page
	Limit  int        `json:"limit,omitempty"`
}

// Match reports whether e passes Type and After (cursor and limit are
// applied by the store).
func (f Filter) Match(e Envelope) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.After != nil && !e.CreatedAt.After(*f.After) {
		return false
	}
	return true
}

// Page is a cursor-paginated slice of the event log, oldest first.
type Page struct {
	Events  []Envelope `json:"events"`
	Cursor  string     `json:"cursor,omitempty"`
	HasMore bool       `json:"has_more"`
}
