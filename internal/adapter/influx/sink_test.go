package influx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
)

type mockWriteAPI struct {
	points []*write.Point
	err    error
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	m.points = append(m.points, point...)
	return m.err
}

func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                              {}
func (m *mockWriteAPI) Flush(context.Context) error                  { return nil }

func TestWriteSnapshots(t *testing.T) {
	w := &mockWriteAPI{}
	s := NewWithWriter(w)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := s.WriteSnapshots(context.Background(), []metric.Snapshot{
		{NodeID: "post-1", ChannelID: "ch-x", Platform: "x", Likes: 6, Comments: 2, Shares: 2, Impressions: 1000, CollectedAt: at},
		{NodeID: "post-2", ChannelID: "ch-x", Platform: "x", CollectedAt: at},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(w.points))
	}

	p := w.points[0]
	if p.Name() != Measurement {
		t.Fatalf("expected measurement %s, got %s", Measurement, p.Name())
	}
	if !p.Time().Equal(at) {
		t.Fatalf("expected point time %v, got %v", at, p.Time())
	}
	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	if tags["node_id"] != "post-1" || tags["platform"] != "x" {
		t.Fatalf("unexpected tags %v", tags)
	}
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if rate, ok := fields["engagement_rate"].(float64); !ok || rate != 0.01 {
		t.Fatalf("expected engagement_rate 0.01, got %v", fields["engagement_rate"])
	}
}

func TestWriteSnapshots_Error(t *testing.T) {
	s := NewWithWriter(&mockWriteAPI{err: errors.New("bucket not found")})
	err := s.WriteSnapshots(context.Background(), []metric.Snapshot{{NodeID: "post-1"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteSnapshots_Empty(t *testing.T) {
	w := &mockWriteAPI{}
	if err := NewWithWriter(w).WriteSnapshots(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(w.points) != 0 {
		t.Fatal("expected no write for an empty batch")
	}
}
