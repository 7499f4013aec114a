package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
)

// mockNotifier implements notifier.Notifier for testing.
type mockNotifier struct {
	name    string
	sent    []notifier.Notification
	sendErr error
}

func (m *mockNotifier) Name() string                        { return m.name }
func (m *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }
func (m *mockNotifier) Send(_ context.Context, n notifier.Notification) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, n)
	return nil
}

func TestNotificationService_ProposalCreated(t *testing.T) {
	m1 := &mockNotifier{name: "mock1"}
	m2 := &mockNotifier{name: "mock2"}
	svc := NewNotificationService([]notifier.Notifier{m1, m2}, nil, "https://ops.example.com/")

	svc.NotifyEvent(context.Background(), event.TypeProposalCreated, event.ProposalCreated{
		ProposalID: "prop-1",
		TriggerID:  "trg-low",
		Kind:       "swap_variant",
		TargetIDs:  []string{"post-1"},
	})

	if len(m1.sent) != 1 || len(m2.sent) != 1 {
		t.Fatalf("expected one notification per notifier, got %d and %d", len(m1.sent), len(m2.sent))
	}
	n := m1.sent[0]
	if n.Source != "proposal.created" || n.Level != "warning" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.Message != "swap_variant on post-1" {
		t.Fatalf("unexpected message %q", n.Message)
	}
	if n.Link != "https://ops.example.com/api/v1/proposals/prop-1" {
		t.Fatalf("unexpected link %q", n.Link)
	}
	if len(n.Fields) != 2 || n.Fields[1].Value != "trg-low" {
		t.Fatalf("unexpected fields %+v", n.Fields)
	}
}

func TestNotificationService_FilterEvents(t *testing.T) {
	m := &mockNotifier{name: "mock"}
	svc := NewNotificationService([]notifier.Notifier{m}, []string{"metrics.degraded"}, "")
	ctx := context.Background()

	svc.NotifyEvent(ctx, event.TypeProposalCreated, event.ProposalCreated{ProposalID: "prop-1"})
	if len(m.sent) != 0 {
		t.Fatal("proposal.created should be filtered out")
	}

	svc.NotifyEvent(ctx, event.TypeMetricsDegraded, event.MetricsDegraded{ChannelID: "x-main", Platform: "x", Attempts: 3, Error: "timeout"})
	if len(m.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(m.sent))
	}
	if m.sent[0].Level != "error" {
		t.Fatalf("unexpected level %q", m.sent[0].Level)
	}
}

func TestNotificationService_SkipsUninteresting(t *testing.T) {
	m := &mockNotifier{name: "mock"}
	svc := NewNotificationService([]notifier.Notifier{m}, nil, "")
	ctx := context.Background()

	svc.NotifyEvent(ctx, event.TypeProposalResolved, event.ProposalResolved{ProposalID: "prop-1", Status: "approved"})
	svc.NotifyEvent(ctx, event.TypeGraphCommitted, event.GraphCommitted{Version: 2})
	if len(m.sent) != 0 {
		t.Fatalf("expected nothing sent, got %+v", m.sent)
	}

	svc.NotifyEvent(ctx, event.TypeProposalResolved, event.ProposalResolved{ProposalID: "prop-1", Status: "expired", Reason: "timeout"})
	svc.NotifyEvent(ctx, event.TypeTriggerDisabled, event.TriggerDisabled{TriggerID: "trg-low", Reason: "target retired"})
	if len(m.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(m.sent))
	}
	if m.sent[0].Title != "Proposal expired" || m.sent[1].Message != "target retired" {
		t.Fatalf("unexpected notifications %+v", m.sent)
	}
}

func TestNotificationService_ErrorContinues(t *testing.T) {
	failing := &mockNotifier{name: "failing", sendErr: errors.New("network error")}
	working := &mockNotifier{name: "working"}
	svc := NewNotificationService([]notifier.Notifier{failing, working}, nil, "")

	svc.Notify(context.Background(), notifier.Notification{Title: "test", Source: "proposal.created"})

	if len(working.sent) != 1 {
		t.Fatal("working notifier should still receive notification after failing one")
	}
}

func TestNotificationService_Count(t *testing.T) {
	svc := NewNotificationService([]notifier.Notifier{&mockNotifier{name: "a"}, &mockNotifier{name: "b"}}, nil, "")
	if svc.NotifierCount() != 2 {
		t.Fatalf("expected 2, got %d", svc.NotifierCount())
	}
}
