package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	llotel "github.com/Strob0t/LaunchLoop/internal/adapter/otel"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/logger"
	"github.com/Strob0t/LaunchLoop/internal/port/cache"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
)

// BootstrapKind is the kind reported for the initial plan load.
const BootstrapKind = "bootstrap"

// CommitResult describes a committed mutation.
type CommitResult struct {
	Version         int64    `json:"version"`
	RetiredIDs      []string `json:"retired_ids,omitempty"`
	SpawnedID       string   `json:"spawned_id,omitempty"`
	ChannelsChanged bool     `json:"channels_changed,omitempty"`
}

// Commit is handed to commit listeners. Mutation is nil for the bootstrap.
type Commit struct {
	Graph      *graph.Graph
	Mutation   *graph.Mutation
	Result     CommitResult
	ProposalID string
}

// CommitListener is called synchronously after each commit, in
// registration order. It must not apply mutations itself.
type CommitListener func(ctx context.Context, c Commit)

// GraphStore owns the plan graph. Reads load the current immutable
// snapshot without locking; writes are serialized and succeed only
// against the exact current version.
type GraphStore struct {
	cur   atomic.Pointer[graph.Graph]
	write sync.Mutex // single writer; held while listeners run

	store   database.Store
	events  *EventService
	metrics *llotel.Metrics
	payload cache.Cache
	fill    singleflight.Group
	now     func() time.Time

	lmu       sync.RWMutex
	listeners map[int]CommitListener
	nextID    int

	applied sync.Map // proposal id -> committed version
}

// NewGraphStore creates a store at version 0 backed by store.
func NewGraphStore(store database.Store, events *EventService) *GraphStore {
	s := &GraphStore{
		store:     store,
		events:    events,
		now:       time.Now,
		listeners: make(map[int]CommitListener),
	}
	s.cur.Store(graph.New())
	return s
}

// SetMetrics records commits and conflicts.
func (s *GraphStore) SetMetrics(m *llotel.Metrics) { s.metrics = m }

// SetPayloadCache caches encoded snapshots per version.
func (s *GraphStore) SetPayloadCache(c cache.Cache) { s.payload = c }

// Load replaces the in-memory snapshot with the persisted one.
func (s *GraphStore) Load(ctx context.Context) error {
	g, err := s.store.LoadGraph(ctx)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	s.write.Lock()
	s.cur.Store(g)
	s.write.Unlock()
	slog.Info("graph loaded", "version", g.Version, "nodes", g.NodeCount())
	return nil
}

// Read returns the current snapshot. Callers must not modify it.
func (s *GraphStore) Read() *graph.Graph {
	return s.cur.Load()
}

// Version returns the current version.
func (s *GraphStore) Version() int64 {
	return s.cur.Load().Version
}

// Subscribe registers a commit listener. The returned function removes it.
func (s *GraphStore) Subscribe(fn CommitListener) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// DryRun applies m to g without persisting or publishing anything.
func (s *GraphStore) DryRun(g *graph.Graph, m graph.Mutation) (*graph.Graph, graph.Effects, error) {
	return graph.Apply(g, m, s.now())
}

// ApplyMutation commits m if the current version equals expectedVersion.
// The proposal being applied, if any, is taken from logger.ProposalID(ctx).
func (s *GraphStore) ApplyMutation(ctx context.Context, m graph.Mutation, expectedVersion int64) (CommitResult, error) {
	ctx, span := llotel.StartApplySpan(ctx, string(m.Kind), expectedVersion)
	defer span.End()

	s.write.Lock()
	defer s.write.Unlock()

	cur := s.cur.Load()
	if cur.Version != expectedVersion {
		s.metrics.Conflict(ctx)
		return CommitResult{}, fmt.Errorf("%w: expected %d, current %d", domain.ErrVersionConflict, expectedVersion, cur.Version)
	}

	next, eff, err := graph.Apply(cur, m, s.now())
	if err != nil {
		return CommitResult{}, err
	}
	if err := s.store.SaveGraph(ctx, next, expectedVersion); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			s.metrics.Conflict(ctx)
		}
		return CommitResult{}, fmt.Errorf("persist graph: %w", err)
	}
	s.cur.Store(next)

	res := CommitResult{
		Version:         next.Version,
		RetiredIDs:      eff.RetiredIDs,
		SpawnedID:       eff.SpawnedID,
		ChannelsChanged: eff.ChannelsChanged,
	}
	proposalID := logger.ProposalID(ctx)
	if proposalID != "" {
		s.applied.Store(proposalID, next.Version)
	}
	s.metrics.Committed(ctx, string(m.Kind), next.Version)
	slog.Info("graph committed",
		"version", next.Version,
		"kind", m.Kind,
		"retired", len(eff.RetiredIDs),
		"spawned", eff.SpawnedID,
	)
	s.publish(ctx, Commit{Graph: next, Mutation: &m, Result: res, ProposalID: proposalID})
	return res, nil
}

// AppliedVersion returns the version at which a proposal's mutation was
// committed by this process.
func (s *GraphStore) AppliedVersion(proposalID string) (int64, bool) {
	v, ok := s.applied.Load(proposalID)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// Bootstrap installs the initial plan. It is only allowed at version 0 and
// commits version 1.
func (s *GraphStore) Bootstrap(ctx context.Context, g *graph.Graph) (CommitResult, error) {
	s.write.Lock()
	defer s.write.Unlock()

	if v := s.cur.Load().Version; v != 0 {
		return CommitResult{}, fmt.Errorf("%w: bootstrap requires an empty graph, current version %d", domain.ErrVersionConflict, v)
	}
	if err := graph.Validate(g); err != nil {
		return CommitResult{}, err
	}
	next := g.DeepClone()
	next.Version = 1
	next.UpdatedAt = s.now().UTC()
	if err := s.store.SaveGraph(ctx, next, 0); err != nil {
		return CommitResult{}, fmt.Errorf("persist graph: %w", err)
	}
	s.cur.Store(next)

	res := CommitResult{Version: 1, ChannelsChanged: len(next.Channels) > 0}
	s.metrics.Committed(ctx, BootstrapKind, 1)
	slog.Info("graph bootstrapped", "nodes", next.NodeCount())
	s.publish(ctx, Commit{Graph: next, Result: res})
	return res, nil
}

func (s *GraphStore) publish(ctx context.Context, c Commit) {
	kind := BootstrapKind
	if c.Mutation != nil {
		kind = string(c.Mutation.Kind)
	}
	if s.events != nil {
		s.events.Emit(ctx, event.TypeGraphCommitted, event.GraphCommitted{
			Version:    c.Result.Version,
			Kind:       kind,
			ProposalID: c.ProposalID,
			RetiredIDs: c.Result.RetiredIDs,
			SpawnedID:  c.Result.SpawnedID,
		})
	}

	s.lmu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	fns := make([]CommitListener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.RUnlock()

	for _, fn := range fns {
		fn(ctx, c)
	}
}

// GraphPayload is the GET /graph response.
type GraphPayload struct {
	Version int64        `json:"version"`
	Graph   *graph.Graph `json:"graph"`
}

// Encoded returns the JSON payload of the current snapshot. Snapshots are
// immutable, so the encoding is cached under its version and commit time.
func (s *GraphStore) Encoded(ctx context.Context) ([]byte, int64, error) {
	g := s.Read()
	key := fmt.Sprintf("graph:v%d:%d", g.Version, g.UpdatedAt.UnixNano())
	if s.payload != nil {
		if data, ok, err := s.payload.Get(ctx, key); err == nil && ok {
			return data, g.Version, nil
		}
	}
	v, err, _ := s.fill.Do(key, func() (any, error) {
		data, err := json.Marshal(GraphPayload{Version: g.Version, Graph: g})
		if err != nil {
			return nil, err
		}
		if s.payload != nil {
			if err := s.payload.Set(ctx, key, data, 0); err != nil {
				slog.Debug("graph payload cache set failed", "version", g.Version, "error", err)
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode graph: %w", err)
	}
	return v.([]byte), g.Version, nil
}
