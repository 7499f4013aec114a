package metricsource_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
)

type testSource struct {
	name string
	base string
}

func (s *testSource) Name() string { return s.name }
func (s *testSource) FetchMetrics(_ context.Context, ref metricsource.ChannelRef) ([]metric.Raw, error) {
	out := make([]metric.Raw, 0, len(ref.Nodes))
	for _, n := range ref.Nodes {
		out = append(out, metric.Raw{NodeID: n.NodeID, Fields: map[string]int64{"likes": 1}})
	}
	return out, nil
}

func TestRegisterAndNew(t *testing.T) {
	metricsource.Register("test-platform", func(cfg map[string]string) (metricsource.Source, error) {
		return &testSource{name: "test-platform", base: cfg["base_url"]}, nil
	})

	s, err := metricsource.New("test-platform", map[string]string{"base_url": "http://feed"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "test-platform" {
		t.Fatalf("expected test-platform, got %s", s.Name())
	}
	if got := s.(*testSource).base; got != "http://feed" {
		t.Fatalf("expected config to reach the factory, got %q", got)
	}
	raws, err := s.FetchMetrics(context.Background(), metricsource.ChannelRef{Nodes: []metricsource.NodeRef{{NodeID: "post-1"}}})
	if err != nil || len(raws) != 1 {
		t.Fatalf("expected 1 reading, got %d (%v)", len(raws), err)
	}
	if !metricsource.Registered("test-platform") {
		t.Fatal("expected test-platform to be registered")
	}
}

func TestNewUnknownPlatform(t *testing.T) {
	_, err := metricsource.New("nonexistent", nil)
	if err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestDuplicateRegisterPanics(t *testing.T) {
	metricsource.Register("dup-platform", func(map[string]string) (metricsource.Source, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	metricsource.Register("dup-platform", func(map[string]string) (metricsource.Source, error) { return nil, nil })
}

func TestPermanentError(t *testing.T) {
	err := &metricsource.PermanentError{Err: domain.ErrChannelFetch}
	var wrapped error = err
	if !errors.Is(wrapped, domain.ErrChannelFetch) {
		t.Fatal("expected PermanentError to unwrap to ErrChannelFetch")
	}
	var pe *metricsource.PermanentError
	if !errors.As(wrapped, &pe) {
		t.Fatal("expected errors.As to find PermanentError")
	}
}
