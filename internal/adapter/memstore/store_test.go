package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/database/storetest"
)

func TestStoreCompliance(t *testing.T) {
	storetest.RunStore(t, New(0))
}

func TestEventStoreCompliance(t *testing.T) {
	storetest.RunEvents(t, New(0))
}

func TestHistoryLimit(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		err := s.AppendSnapshots(ctx, []metric.Snapshot{{NodeID: "post-1", Likes: int64(i), CollectedAt: base.Add(time.Duration(i) * time.Minute)}})
		if err != nil {
			t.Fatal(err)
		}
	}
	h, _ := s.SnapshotHistory(ctx, "post-1", time.Time{}, 0)
	if len(h) != 2 || h[0].Likes != 3 || h[1].Likes != 4 {
		t.Fatalf("expected the two newest snapshots, got %+v", h)
	}
}

func TestListEvents_UnknownCursor(t *testing.T) {
	s := New(0)
	ev, _ := event.NewEnvelope(event.TypeGraphCommitted, event.GraphCommitted{Version: 1}, time.Now())
	_ = s.AppendEvent(context.Background(), ev)
	if _, err := s.ListEvents(context.Background(), event.Filter{Cursor: "nope"}); err == nil {
		t.Fatal("expected error for unknown cursor")
	}
}
