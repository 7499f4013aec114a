package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	llotel "github.com/Strob0t/LaunchLoop/internal/adapter/otel"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/logger"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
	"github.com/Strob0t/LaunchLoop/internal/resilience"
)

// statusWrite retries the proposal status write after a commit.
var statusWrite = resilience.RetryPolicy{Base: 50 * time.Millisecond, Cap: 500 * time.Millisecond, MaxAttempts: 3}

// ReevaluateFunc asks for a trigger to be evaluated again.
type ReevaluateFunc func(ctx context.Context, triggerID, reason string)

// ApprovalGate holds proposals until a human decides on them. It never
// waits on a human: decisions and timeouts arrive as calls, and each moves
// a proposal at most once from pending to a terminal status.
type ApprovalGate struct {
	store    database.Store
	graphs   *GraphStore
	triggers *TriggerService
	events   *EventService
	metrics  *llotel.Metrics
	now      func() time.Time

	decide sync.Mutex // one decision at a time

	mu      sync.Mutex
	pending map[string]string // trigger id -> pending proposal id

	// Approved proposals whose mutation committed but whose status write
	// failed. Guarded by decide.
	unsaved map[string]*proposal.Proposal

	reevaluate ReevaluateFunc
}

// NewApprovalGate creates a gate. triggers may be nil when only manual
// proposals are used.
func NewApprovalGate(store database.Store, graphs *GraphStore, triggers *TriggerService, events *EventService) *ApprovalGate {
	return &ApprovalGate{
		store:    store,
		graphs:   graphs,
		triggers: triggers,
		events:   events,
		now:      time.Now,
		pending:  make(map[string]string),
		unsaved:  make(map[string]*proposal.Proposal),
	}
}

// SetMetrics counts proposals.
func (g *ApprovalGate) SetMetrics(m *llotel.Metrics) { g.metrics = m }

// OnReevaluate is called when a trigger proposal expires without being
// applied.
func (g *ApprovalGate) OnReevaluate(fn ReevaluateFunc) { g.reevaluate = fn }

// Load rebuilds the pending index from the store.
func (g *ApprovalGate) Load(ctx context.Context) error {
	list, err := g.store.ListProposals(ctx, proposal.Filter{Status: proposal.StatusPending})
	if err != nil {
		return fmt.Errorf("load proposals: %w", err)
	}
	g.mu.Lock()
	for i := range list {
		if list[i].TriggerID != "" {
			g.pending[list[i].TriggerID] = list[i].ID
		}
	}
	g.mu.Unlock()
	slog.Info("pending proposals loaded", "count", len(list))
	return nil
}

// HasPending reports whether a trigger has a proposal awaiting a decision.
func (g *ApprovalGate) HasPending(triggerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[triggerID]
	return ok
}

// Submit stores a new pending proposal, starts the trigger's cooldown and
// notifies operators. A trigger can have only one pending proposal; a
// second one fails with domain.ErrConflict.
func (g *ApprovalGate) Submit(ctx context.Context, p *proposal.Proposal) error {
	if p.Status != proposal.StatusPending {
		return fmt.Errorf("%w: proposal %s is %s", domain.ErrValidation, p.ID, p.Status)
	}
	g.mu.Lock()
	if p.TriggerID != "" {
		if other, ok := g.pending[p.TriggerID]; ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: trigger %s already has pending proposal %s", domain.ErrConflict, p.TriggerID, other)
		}
	}
	if err := g.store.CreateProposal(ctx, p); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("store proposal: %w", err)
	}
	if p.TriggerID != "" {
		g.pending[p.TriggerID] = p.ID
	}
	g.mu.Unlock()

	// Firing starts the cooldown whatever the human decides later.
	if p.TriggerID != "" && g.triggers != nil {
		if err := g.triggers.MarkFired(ctx, p.TriggerID, p.CreatedAt); err != nil {
			slog.Warn("record trigger firing failed", "trigger_id", p.TriggerID, "error", err)
		}
	}
	g.metrics.ProposalCreated(ctx, string(p.Source))
	slog.Info("proposal created",
		"proposal_id", p.ID,
		"trigger_id", p.TriggerID,
		"kind", p.Kind,
		"targets", p.TargetIDs,
		"base_version", p.BaseVersion,
	)
	g.events.Emit(ctx, event.TypeProposalCreated, event.ProposalCreated{
		ProposalID: p.ID,
		TriggerID:  p.TriggerID,
		Kind:       string(p.Kind),
		TargetIDs:  p.TargetIDs,
		Payload:    p.Payload(),
		CreatedAt:  p.CreatedAt,
	})
	return nil
}

// Get returns one proposal.
func (g *ApprovalGate) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	return g.store.GetProposal(ctx, id)
}

// List returns proposals matching filter, newest first.
func (g *ApprovalGate) List(ctx context.Context, filter proposal.Filter) ([]proposal.Proposal, error) {
	return g.store.ListProposals(ctx, filter)
}

// Decide applies an approval or records a rejection. Deciding a proposal
// that is already terminal returns it unchanged. An approval whose bound
// version is no longer current, or whose targets went stale, expires the
// proposal instead of applying it.
func (g *ApprovalGate) Decide(ctx context.Context, id string, d proposal.Decision, actor, reason string) (*proposal.Proposal, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: decision must be approve or reject, got %q", domain.ErrValidation, d)
	}
	g.decide.Lock()
	defer g.decide.Unlock()

	p, err := g.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return p, nil
	}
	if done, ok, err := g.recoverApplied(ctx, p, actor, reason); ok {
		return done, err
	}
	if p.Overdue(g.now()) {
		return g.finish(ctx, p, proposal.StatusExpired, "", proposal.ReasonTimeout)
	}

	if d == proposal.DecisionReject {
		return g.finish(ctx, p, proposal.StatusRejected, actor, reason)
	}

	res, err := g.graphs.ApplyMutation(logger.WithProposalID(ctx, p.ID), p.Mutation, p.BaseVersion)
	switch {
	case err == nil:
		p.AppliedVersion = res.Version
		return g.finish(ctx, p, proposal.StatusApproved, actor, reason)
	case errors.Is(err, domain.ErrVersionConflict):
		return g.finish(ctx, p, proposal.StatusExpired, actor, proposal.ReasonVersionConflict)
	case errors.Is(err, domain.ErrStaleTarget), errors.Is(err, domain.ErrPrecondition), errors.Is(err, domain.ErrValidation):
		return g.finish(ctx, p, proposal.StatusExpired, actor, err.Error())
	default:
		// Persistence failures leave the proposal pending for a retry.
		return nil, err
	}
}

// Cancel withdraws a pending proposal.
func (g *ApprovalGate) Cancel(ctx context.Context, id, actor string) (*proposal.Proposal, error) {
	return g.Decide(ctx, id, proposal.DecisionReject, actor, proposal.ReasonCancelled)
}

// ExpireOverdue expires every pending proposal past its deadline and
// returns how many it expired.
func (g *ApprovalGate) ExpireOverdue(ctx context.Context) (int, error) {
	list, err := g.store.ListProposals(ctx, proposal.Filter{Status: proposal.StatusPending})
	if err != nil {
		return 0, fmt.Errorf("list pending proposals: %w", err)
	}
	g.decide.Lock()
	for id, p := range g.unsaved {
		if err := g.persist(ctx, p); err == nil {
			delete(g.unsaved, id)
		}
	}
	g.decide.Unlock()

	now := g.now()
	n := 0
	for i := range list {
		if !list[i].Overdue(now) {
			continue
		}
		g.decide.Lock()
		p, err := g.store.GetProposal(ctx, list[i].ID)
		if err == nil && p.Status == proposal.StatusPending {
			if _, ok, rerr := g.recoverApplied(ctx, p, "", ""); ok {
				g.decide.Unlock()
				if rerr != nil {
					slog.Error("persist applied proposal failed", "proposal_id", p.ID, "error", rerr)
				}
				continue
			}
		}
		if err == nil && p.Overdue(now) {
			_, err = g.finish(ctx, p, proposal.StatusExpired, "", proposal.ReasonTimeout)
			if err == nil {
				n++
			}
		}
		g.decide.Unlock()
		if err != nil {
			slog.Error("expire proposal failed", "proposal_id", list[i].ID, "error", err)
		}
	}
	return n, nil
}

// StartSweeper expires overdue proposals every interval until ctx ends.
func (g *ApprovalGate) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := g.ExpireOverdue(ctx); err != nil {
					slog.Warn("proposal sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("proposals expired", "count", n)
				}
			}
		}
	}()
}

// finish moves p to a terminal status, persists it and emits
// proposal.resolved. Must be called with g.decide held.
func (g *ApprovalGate) finish(ctx context.Context, p *proposal.Proposal, to proposal.Status, actor, reason string) (*proposal.Proposal, error) {
	if err := p.Resolve(to, actor, reason, g.now()); err != nil {
		return nil, err
	}
	if to == proposal.StatusApproved {
		// The graph already moved, so the approval stands even if the
		// status write keeps failing; a later decision persists it.
		if err := g.persist(ctx, p); err != nil {
			g.unsaved[p.ID] = p.Clone()
			slog.Error("approved proposal not persisted", "proposal_id", p.ID, "applied_version", p.AppliedVersion, "error", err)
		}
	} else if err := g.store.UpdateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("update proposal: %w", err)
	}

	g.mu.Lock()
	if p.TriggerID != "" && g.pending[p.TriggerID] == p.ID {
		delete(g.pending, p.TriggerID)
	}
	g.mu.Unlock()

	g.metrics.ProposalResolved(ctx, string(to))
	slog.Info("proposal resolved",
		"proposal_id", p.ID,
		"status", to,
		"reason", reason,
		"applied_version", p.AppliedVersion,
	)
	g.events.Emit(ctx, event.TypeProposalResolved, event.ProposalResolved{
		ProposalID:     p.ID,
		Status:         string(to),
		Reason:         reason,
		AppliedVersion: p.AppliedVersion,
	})
	if to == proposal.StatusExpired && p.TriggerID != "" && g.reevaluate != nil {
		g.reevaluate(ctx, p.TriggerID, reason)
	}
	return p.Clone(), nil
}

func (g *ApprovalGate) persist(ctx context.Context, p *proposal.Proposal) error {
	_, err := resilience.Do(ctx, statusWrite, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.store.UpdateProposal(ctx, p)
	}, nil)
	return err
}

// recoverApplied handles a stored pending proposal whose mutation is
// already live. It writes the approved status again without emitting a
// second resolution. ok is false when p was never applied. Must be called
// with g.decide held.
func (g *ApprovalGate) recoverApplied(ctx context.Context, p *proposal.Proposal, actor, reason string) (done *proposal.Proposal, ok bool, err error) {
	approved, ok := g.unsaved[p.ID]
	if !ok {
		v, applied := g.graphs.AppliedVersion(p.ID)
		if !applied {
			return nil, false, nil
		}
		approved = p.Clone()
		approved.AppliedVersion = v
		if err := approved.Resolve(proposal.StatusApproved, actor, reason, g.now()); err != nil {
			return nil, true, err
		}
	}
	if err := g.persist(ctx, approved); err != nil {
		g.unsaved[p.ID] = approved
		return nil, true, fmt.Errorf("update proposal: %w", err)
	}
	delete(g.unsaved, p.ID)
	slog.Info("applied proposal persisted", "proposal_id", p.ID, "applied_version", approved.AppliedVersion)
	return approved.Clone(), true, nil
}
