// Package memstore implements the storage ports in process memory. It is the
// default driver for development and the backing store of service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
)

// Store implements database.Store and eventstore.Store.
type Store struct {
	mu        sync.RWMutex
	graph     *graph.Graph
	triggers  map[string]*trigger.Trigger
	proposals map[string]*proposal.Proposal
	snapshots map[string][]metric.Snapshot
	events    []event.Envelope

	// historyLimit caps snapshots kept per node; 0 keeps everything.
	historyLimit int
}

// New creates an empty store. historyLimit caps the snapshots kept per node.
func New(historyLimit int) *Store {
	return &Store{
		graph:        graph.New(),
		triggers:     make(map[string]*trigger.Trigger),
		proposals:    make(map[string]*proposal.Proposal),
		snapshots:    make(map[string][]metric.Snapshot),
		historyLimit: historyLimit,
	}
}

// --- Graph ---

// LoadGraph returns the last saved graph. Snapshots are immutable, so the
// pointer is shared.
func (s *Store) LoadGraph(_ context.Context) (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph, nil
}

func (s *Store) SaveGraph(_ context.Context, g *graph.Graph, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph.Version != expectedVersion {
		return fmt.Errorf("save graph v%d: stored v%d: %w", g.Version, s.graph.Version, domain.ErrVersionConflict)
	}
	s.graph = g
	return nil
}

// --- Triggers ---

func (s *Store) ListTriggers(_ context.Context) ([]trigger.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]trigger.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetTrigger(_ context.Context, id string) (*trigger.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, fmt.Errorf("get trigger %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Store) UpsertTrigger(_ context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[t.ID] = t.Clone()
	return nil
}

func (s *Store) DeleteTrigger(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return fmt.Errorf("delete trigger %s: %w", id, domain.ErrNotFound)
	}
	delete(s.triggers, id)
	return nil
}

// --- Proposals ---

func (s *Store) CreateProposal(_ context.Context, p *proposal.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("create proposal %s: %w", p.ID, domain.ErrConflict)
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *Store) UpdateProposal(_ context.Context, p *proposal.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.proposals[p.ID]
	if !ok {
		return fmt.Errorf("update proposal %s: %w", p.ID, domain.ErrNotFound)
	}
	if cur.Status != proposal.StatusPending {
		return fmt.Errorf("update proposal %s (%s): %w", p.ID, cur.Status, domain.ErrConflict)
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetProposal(_ context.Context, id string) (*proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("get proposal %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProposals returns matching proposals, newest first.
func (s *Store) ListProposals(_ context.Context, filter proposal.Filter) ([]proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []proposal.Proposal
	for _, p := range s.proposals {
		if filter.Match(p) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Snapshots ---

// AppendSnapshots inserts the batch keeping each node's history ordered by
// CollectedAt.
func (s *Store) AppendSnapshots(_ context.Context, batch []metric.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]struct{})
	for _, snap := range batch {
		s.snapshots[snap.NodeID] = append(s.snapshots[snap.NodeID], snap)
		touched[snap.NodeID] = struct{}{}
	}
	for id := range touched {
		h := s.snapshots[id]
		metric.SortByCollectedAt(h)
		if s.historyLimit > 0 && len(h) > s.historyLimit {
			h = append([]metric.Snapshot(nil), h[len(h)-s.historyLimit:]...)
		}
		s.snapshots[id] = h
	}
	return nil
}

func (s *Store) SnapshotHistory(_ context.Context, nodeID string, since time.Time, limit int) ([]metric.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.snapshots[nodeID]
	start := sort.Search(len(h), func(i int) bool { return !h[i].CollectedAt.Before(since) })
	h = h[start:]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]metric.Snapshot(nil), h...), nil
}

// --- Events ---

func (s *Store) AppendEvent(_ context.Context, ev event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) ListEvents(_ context.Context, filter event.Filter) (*event.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}
	start := 0
	if filter.Cursor != "" {
		start = -1
		for i, e := range s.events {
			if e.ID == filter.Cursor {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("%w: unknown cursor %q", domain.ErrValidation, filter.Cursor)
		}
	}
	page := &event.Page{Events: []event.Envelope{}}
	for _, e := range s.events[start:] {
		if !filter.Match(e) {
			continue
		}
		if len(page.Events) == limit {
			page.HasMore = true
			break
		}
		page.Events = append(page.Events, e)
	}
	if n := len(page.Events); n > 0 {
		page.Cursor = page.Events[n-1].ID
	}
	return page, nil
}
