package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
	"github.com/Strob0t/LaunchLoop/internal/port/metricsink"
)

// IntervalFunc returns the polling interval of a channel, or 0 if unknown.
type IntervalFunc func(channelID string) time.Duration

// SnapshotStore keeps the recent metric history of every node in memory
// and persists each accepted batch. Per node, snapshots only ever move
// forward in collected_at: a reading that is not newer than the latest one
// is dropped.
type SnapshotStore struct {
	store    database.Store
	sink     metricsink.Sink
	limit    int
	factor   int
	interval IntervalFunc
	now      func() time.Time

	mu      sync.RWMutex
	history map[string][]metric.Snapshot // oldest first, at most limit
}

// NewSnapshotStore keeps up to historyLimit snapshots per node in memory.
// A snapshot is stale once it is older than staleFactor polling intervals.
func NewSnapshotStore(store database.Store, historyLimit, staleFactor int) *SnapshotStore {
	if historyLimit < 2 {
		historyLimit = 2
	}
	return &SnapshotStore{
		store:   store,
		limit:   historyLimit,
		factor:  staleFactor,
		now:     time.Now,
		history: make(map[string][]metric.Snapshot),
	}
}

// SetSink mirrors accepted snapshots to a time-series sink.
func (s *SnapshotStore) SetSink(sink metricsink.Sink) { s.sink = sink }

// SetIntervalFunc sets how channel polling intervals are looked up for
// staleness.
func (s *SnapshotStore) SetIntervalFunc(fn IntervalFunc) { s.interval = fn }

// Warm loads the persisted history of the given nodes, e.g. after a restart.
func (s *SnapshotStore) Warm(ctx context.Context, nodeIDs []string) error {
	for _, id := range nodeIDs {
		h, err := s.store.SnapshotHistory(ctx, id, time.Time{}, s.limit)
		if err != nil {
			return fmt.Errorf("warm snapshots %s: %w", id, err)
		}
		if len(h) == 0 {
			continue
		}
		metric.SortByCollectedAt(h)
		s.mu.Lock()
		s.history[id] = h
		s.mu.Unlock()
	}
	return nil
}

// Append stores a batch and returns the snapshots that were accepted. The
// in-memory history is only updated after the batch is persisted.
func (s *SnapshotStore) Append(ctx context.Context, batch []metric.Snapshot) ([]metric.Snapshot, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	sorted := append([]metric.Snapshot(nil), batch...)
	metric.SortByCollectedAt(sorted)

	s.mu.RLock()
	accepted := make([]metric.Snapshot, 0, len(sorted))
	latest := make(map[string]time.Time)
	for _, snap := range sorted {
		last, ok := latest[snap.NodeID]
		if !ok {
			if h := s.history[snap.NodeID]; len(h) > 0 {
				last, ok = h[len(h)-1].CollectedAt, true
			}
		}
		if ok && !snap.CollectedAt.After(last) {
			slog.Debug("out-of-order snapshot dropped", "node_id", snap.NodeID, "collected_at", snap.CollectedAt)
			continue
		}
		snap.Stale = false
		latest[snap.NodeID] = snap.CollectedAt
		accepted = append(accepted, snap)
	}
	s.mu.RUnlock()

	if len(accepted) == 0 {
		return nil, nil
	}
	if err := s.store.AppendSnapshots(ctx, accepted); err != nil {
		return nil, fmt.Errorf("append snapshots: %w", err)
	}

	s.mu.Lock()
	for _, snap := range accepted {
		h := s.history[snap.NodeID]
		if n := len(h); n > 0 && !snap.CollectedAt.After(h[n-1].CollectedAt) {
			continue // a concurrent batch got there first
		}
		h = append(h, snap)
		if len(h) > s.limit {
			h = append([]metric.Snapshot(nil), h[len(h)-s.limit:]...)
		}
		s.history[snap.NodeID] = h
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.WriteSnapshots(ctx, accepted); err != nil {
			slog.Warn("metric sink write failed", "count", len(accepted), "error", err)
		}
	}
	return accepted, nil
}

// Latest returns the newest snapshot of a node with its stale flag set.
func (s *SnapshotStore) Latest(nodeID string) (metric.Snapshot, bool) {
	s.mu.RLock()
	h := s.history[nodeID]
	if len(h) == 0 {
		s.mu.RUnlock()
		return metric.Snapshot{}, false
	}
	snap := h[len(h)-1]
	s.mu.RUnlock()
	snap.Stale = s.isStale(snap, s.now())
	return snap, true
}

// Recent returns the in-memory history of a node before its latest
// snapshot, oldest first.
func (s *SnapshotStore) Recent(nodeID string) []metric.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[nodeID]
	if len(h) < 2 {
		return nil
	}
	return append([]metric.Snapshot(nil), h[:len(h)-1]...)
}

// History reads the persisted history of a node since the given time.
func (s *SnapshotStore) History(ctx context.Context, nodeID string, since time.Time, limit int) ([]metric.Snapshot, error) {
	h, err := s.store.SnapshotHistory(ctx, nodeID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot history %s: %w", nodeID, err)
	}
	now := s.now()
	for i := range h {
		h[i].Stale = s.isStale(h[i], now)
	}
	return h, nil
}

// LatestAll returns the newest snapshot of every node, sorted by node id.
func (s *SnapshotStore) LatestAll() []metric.Snapshot {
	s.mu.RLock()
	out := make([]metric.Snapshot, 0, len(s.history))
	for _, h := range s.history {
		if len(h) > 0 {
			out = append(out, h[len(h)-1])
		}
	}
	s.mu.RUnlock()

	now := s.now()
	for i := range out {
		out[i].Stale = s.isStale(out[i], now)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// ForNode returns the current reading for any node. Posts use their own
// latest snapshot; other nodes aggregate the latest snapshots of the live
// posts beneath them. History is only available for posts.
func (s *SnapshotStore) ForNode(g *graph.Graph, nodeID string) (metric.Snapshot, []metric.Snapshot, bool) {
	if _, ok := g.Posts[nodeID]; ok {
		snap, ok := s.Latest(nodeID)
		if !ok {
			return metric.Snapshot{}, nil, false
		}
		return snap, s.Recent(nodeID), true
	}
	posts := g.PostsUnder(nodeID)
	snaps := make([]metric.Snapshot, 0, len(posts))
	for _, p := range posts {
		if snap, ok := s.Latest(p.ID); ok {
			snaps = append(snaps, snap)
		}
	}
	agg, ok := metric.Aggregate(nodeID, snaps)
	return agg, nil, ok
}

// Forget drops the in-memory history of retired nodes.
func (s *SnapshotStore) Forget(nodeIDs []string) {
	s.mu.Lock()
	for _, id := range nodeIDs {
		delete(s.history, id)
	}
	s.mu.Unlock()
}

func (s *SnapshotStore) isStale(snap metric.Snapshot, now time.Time) bool {
	if s.interval == nil {
		return false
	}
	return snap.IsStaleAt(now, s.interval(snap.ChannelID), s.factor)
}
