package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "discord" {
		t.Fatalf("expected 'discord', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	caps := NewNotifier("").Capabilities()
	if !caps.RichFormatting || !caps.Fields {
		t.Fatal("expected RichFormatting and Fields")
	}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier("").Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var got discordWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{
		Title:   "Collector degraded",
		Message: "ch-x gave up after 5 attempts",
		Level:   "error",
		Source:  "metrics.degraded",
		Fields:  []notifier.Field{{Label: "Channel", Value: "ch-x"}},
		Link:    "https://launchloop.local/api/v1/events",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Color != 0xE74C3C || e.URL == "" || len(e.Fields) != 1 || e.Fields[0].Value != "ch-x" {
		t.Fatalf("unexpected embed %+v", e)
	}
	if e.Footer == nil || e.Footer.Text != "Source: metrics.degraded" {
		t.Fatalf("unexpected footer %+v", e.Footer)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid Webhook Token"}`))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{Title: "x"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}
