package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	caps := NewNotifier("").Capabilities()
	if !caps.RichFormatting || !caps.Fields {
		t.Fatal("expected RichFormatting and Fields")
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Proposal awaiting approval",
		Message: "swap_variant on post-1",
		Level:   "warning",
		Source:  "proposal.created",
		Fields:  []notifier.Field{{Label: "Trigger", Value: "trg-1"}, {Label: "Base version", Value: "4"}},
		Link:    "https://launchloop.local/api/v1/proposals/p-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got.Text, "[WARN]") {
		t.Fatalf("unexpected fallback text %q", got.Text)
	}
	var sawFields, sawLink, sawSource bool
	for _, b := range got.Blocks {
		if len(b.Fields) == 2 && strings.Contains(b.Fields[0].Text, "trg-1") {
			sawFields = true
		}
		if b.Text != nil && strings.Contains(b.Text.Text, "/proposals/p-1|") {
			sawLink = true
		}
		if b.Type == "context" && len(b.Elements) == 1 {
			sawSource = true
		}
	}
	if !sawFields || !sawLink || !sawSource {
		t.Fatalf("missing blocks: fields=%v link=%v source=%v", sawFields, sawLink, sawSource)
	}
}

func TestBuildMessage_CapsFields(t *testing.T) {
	nt := notifier.Notification{Title: "many"}
	for i := 0; i < 15; i++ {
		nt.Fields = append(nt.Fields, notifier.Field{Label: "n", Value: strconv.Itoa(i)})
	}
	msg := buildMessage(nt)
	for _, b := range msg.Blocks {
		if len(b.Fields) > maxFields {
			t.Fatalf("expected at most %d fields, got %d", maxFields, len(b.Fields))
		}
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Test",
		Message: "Test message",
		Level:   "info",
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
