package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
)

// Key layout:
//
//	graph                          JSON graph snapshot
//	graph/version                  8-byte big-endian version
//	trigger/<id>                   JSON trigger
//	proposal/<id>                  JSON proposal
//	snap/<node>/<unix nanos BE>    JSON snapshot
//	event/<seq BE>                 JSON envelope
//	eventid/<id>                   8-byte seq of the event
var (
	keyGraph        = []byte("graph")
	keyGraphVersion = []byte("graph/version")
	prefixTrigger   = []byte("trigger/")
	prefixProposal  = []byte("proposal/")
	prefixSnap      = []byte("snap/")
	prefixEvent     = []byte("event/")
	prefixEventID   = []byte("eventid/")
	keyEventSeq     = []byte("seq/event")
)

// Store implements database.Store and eventstore.Store on BadgerDB.
type Store struct {
	db       *badger.DB
	eventSeq *badger.Sequence
	stopGC   chan struct{}
	gcDone   chan struct{}
}

func newStore(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence(keyEventSeq, 100)
	if err != nil {
		return nil, fmt.Errorf("badger: event sequence: %w", err)
	}
	return &Store{db: db, eventSeq: seq}, nil
}

func key(prefix []byte, parts ...[]byte) []byte {
	k := append([]byte(nil), prefix...)
	for i, p := range parts {
		if i > 0 {
			k = append(k, '/')
		}
		k = append(k, p...)
	}
	return k
}

func u64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

// conflict maps badger's transaction conflict onto the domain error.
func conflict(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

// --- Graph ---

func (s *Store) LoadGraph(_ context.Context) (*graph.Graph, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyGraph)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	g, err := graph.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	return g, nil
}

func (s *Store) SaveGraph(_ context.Context, g *graph.Graph, expectedVersion int64) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		var stored int64
		item, err := txn.Get(keyGraphVersion)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				stored = int64(binary.BigEndian.Uint64(val))
				return nil
			}); err != nil {
				return err
			}
		}
		if stored != expectedVersion {
			return fmt.Errorf("stored v%d, expected v%d: %w", stored, expectedVersion, domain.ErrVersionConflict)
		}
		if err := txn.Set(keyGraphVersion, u64(uint64(g.Version))); err != nil {
			return err
		}
		return txn.Set(keyGraph, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("save graph v%d: %w", g.Version, domain.ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("save graph v%d: %w", g.Version, err)
	}
	return nil
}

// --- Triggers ---

func (s *Store) ListTriggers(_ context.Context) ([]trigger.Trigger, error) {
	var out []trigger.Trigger
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixTrigger, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var t trigger.Trigger
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &t) }); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return out, nil
}

func (s *Store) GetTrigger(_ context.Context, id string) (*trigger.Trigger, error) {
	var t trigger.Trigger
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key(prefixTrigger, []byte(id)), &t)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get trigger %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) UpsertTrigger(_ context.Context, t *trigger.Trigger) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key(prefixTrigger, []byte(t.ID)), t)
	})
	if err != nil {
		return fmt.Errorf("upsert trigger %s: %w", t.ID, conflict(err))
	}
	return nil
}

func (s *Store) DeleteTrigger(_ context.Context, id string) error {
	k := key(prefixTrigger, []byte(id))
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err != nil {
			return err
		}
		return txn.Delete(k)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete trigger %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete trigger %s: %w", id, conflict(err))
	}
	return nil
}

// --- Proposals ---

func (s *Store) CreateProposal(_ context.Context, p *proposal.Proposal) error {
	k := key(prefixProposal, []byte(p.ID))
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return domain.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, k, p)
	})
	if err != nil {
		return fmt.Errorf("create proposal %s: %w", p.ID, conflict(err))
	}
	return nil
}

func (s *Store) UpdateProposal(_ context.Context, p *proposal.Proposal) error {
	k := key(prefixProposal, []byte(p.ID))
	err := s.db.Update(func(txn *badger.Txn) error {
		var cur proposal.Proposal
		if err := getJSON(txn, k, &cur); err != nil {
			return err
		}
		if cur.Status != proposal.StatusPending {
			return fmt.Errorf("stored status %s: %w", cur.Status, domain.ErrConflict)
		}
		return setJSON(txn, k, p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("update proposal %s: %w", p.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update proposal %s: %w", p.ID, conflict(err))
	}
	return nil
}

func (s *Store) GetProposal(_ context.Context, id string) (*proposal.Proposal, error) {
	var p proposal.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key(prefixProposal, []byte(id)), &p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get proposal %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return &p, nil
}

// ListProposals scans all proposals; the pending set is small and terminal
// proposals are only listed on demand.
func (s *Store) ListProposals(_ context.Context, filter proposal.Filter) ([]proposal.Proposal, error) {
	var out []proposal.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixProposal, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p proposal.Proposal
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return err
			}
			if filter.Match(&p) {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortNewestFirst(ps []proposal.Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID > ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}

// --- Snapshots ---

func snapKey(nodeID string, at time.Time) []byte {
	return key(prefixSnap, []byte(nodeID), u64(uint64(at.UnixNano())))
}

func (s *Store) AppendSnapshots(_ context.Context, batch []metric.Snapshot) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, snap := range batch {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("append snapshots: %w", err)
		}
		if err := wb.Set(snapKey(snap.NodeID, snap.CollectedAt), data); err != nil {
			return fmt.Errorf("append snapshots: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("append snapshots: %w", err)
	}
	return nil
}

func (s *Store) SnapshotHistory(_ context.Context, nodeID string, since time.Time, limit int) ([]metric.Snapshot, error) {
	prefix := key(prefixSnap, []byte(nodeID), nil)
	var out []metric.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		start := prefix
		if !since.IsZero() && since.UnixNano() > 0 {
			start = snapKey(nodeID, since)
		}
		for it.Seek(start); it.Valid(); it.Next() {
			var snap metric.Snapshot
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &snap) }); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot history %s: %w", nodeID, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// --- Events ---

func (s *Store) AppendEvent(_ context.Context, ev event.Envelope) error {
	seq, err := s.eventSeq.Next()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	// Sequences start at 0; shift so 0 can mean "no cursor".
	seq++
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, key(prefixEvent, u64(seq)), ev); err != nil {
			return err
		}
		return txn.Set(key(prefixEventID, []byte(ev.ID)), u64(seq))
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, filter event.Filter) (*event.Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}
	page := &event.Page{Events: []event.Envelope{}}
	err := s.db.View(func(txn *badger.Txn) error {
		start := prefixEvent
		if filter.Cursor != "" {
			item, err := txn.Get(key(prefixEventID, []byte(filter.Cursor)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: unknown cursor %q", domain.ErrValidation, filter.Cursor)
			}
			if err != nil {
				return err
			}
			var seq uint64
			if err := item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
			start = key(prefixEvent, u64(seq+1))
		}

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixEvent, PrefetchValues: true, PrefetchSize: limit + 1})
		defer it.Close()
		for it.Seek(start); it.Valid(); it.Next() {
			var ev event.Envelope
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &ev) }); err != nil {
				return err
			}
			if !filter.Match(ev) {
				continue
			}
			if len(page.Events) == limit {
				page.HasMore = true
				return nil
			}
			page.Events = append(page.Events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if n := len(page.Events); n > 0 {
		page.Cursor = page.Events[n-1].ID
	}
	return page, nil
}
