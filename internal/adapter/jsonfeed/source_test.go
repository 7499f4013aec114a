package jsonfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
)

var (
	_ metricsource.Source      = (*Source)(nil)
	_ metricsource.FieldMapper = (*Source)(nil)
)

func TestFetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/launch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "ext-1,post-2" {
			t.Errorf("unexpected ids %q", got)
		}
		_, _ = w.Write([]byte(`{"items":[
			{"id":"ext-1","published_at":"2026-03-01T12:00:00Z","metrics":{"hearts":4,"views":200,"comments":1}},
			{"id":"unknown","metrics":{"likes":99}}]}`))
	}))
	defer srv.Close()

	fm, err := parseFieldMap("hearts=likes")
	if err != nil {
		t.Fatal(err)
	}
	s := NewSource(srv.URL, "", fm)
	raws, err := s.FetchMetrics(context.Background(), metricsource.ChannelRef{
		ChannelID:   "ch-feed",
		ExternalRef: "accounts/launch",
		Nodes:       []metricsource.NodeRef{{NodeID: "post-1", ExternalID: "ext-1"}, {NodeID: "post-2"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 1 || raws[0].NodeID != "post-1" {
		t.Fatalf("unexpected readings %+v", raws)
	}

	snaps, err := metric.Normalize("ch-feed", platformName, raws, s.FieldMap(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if snaps[0].Likes != 4 || snaps[0].Impressions != 200 || snaps[0].Comments != 1 {
		t.Fatalf("unexpected snapshot %+v", snaps[0])
	}
}

func TestFetchMetrics_NotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewSource(srv.URL, "", nil).FetchMetrics(context.Background(), metricsource.ChannelRef{
		Nodes: []metricsource.NodeRef{{NodeID: "post-1"}},
	})
	var pe *metricsource.PermanentError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
}

func TestFetchMetrics_NoNodes(t *testing.T) {
	raws, err := NewSource("http://unused", "", nil).FetchMetrics(context.Background(), metricsource.ChannelRef{})
	if err != nil || raws != nil {
		t.Fatalf("expected no request and no readings, got %v %v", raws, err)
	}
}

func TestParseFieldMap(t *testing.T) {
	if _, err := parseFieldMap("hearts=followers"); err == nil {
		t.Fatal("expected error for unknown target field")
	}
	if _, err := parseFieldMap("=likes"); err == nil {
		t.Fatal("expected error for empty name")
	}
	fm, err := parseFieldMap(" hearts = likes , plays=impressions ")
	if err != nil {
		t.Fatal(err)
	}
	if fm["hearts"] != "likes" || fm["plays"] != "impressions" {
		t.Fatalf("unexpected map %v", fm)
	}
}

func TestRegisteredFactory(t *testing.T) {
	if _, err := metricsource.New(platformName, map[string]string{}); err == nil {
		t.Fatal("expected error without base_url")
	}
	s, err := metricsource.New(platformName, map[string]string{"base_url": "http://feed", "field_map": "hearts=likes"})
	if err != nil {
		t.Fatal(err)
	}
	if s.(metricsource.FieldMapper).FieldMap()["hearts"] != "likes" {
		t.Fatal("expected field_map setting to reach the source")
	}
}
