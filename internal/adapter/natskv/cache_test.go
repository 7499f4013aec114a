package natskv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/LaunchLoop/internal/port/cache/cachetest"
)

func TestKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"graph:v12", "graph_v12"},
		{"idem/POST /api/v1/graph/mutations/abc", "idem/POST_/api/v1/graph/mutations/abc"},
		{"graph.v1", "graph.v1"},
		{".leading.", "leading"},
		{"", "_"},
		{"ünï", "__n__"},
	}
	for _, tt := range tests {
		if got := Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCache_Compliance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket: "LAUNCHLOOP_TEST_CACHE",
		TTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	cachetest.Run(t, New(kv))
}
