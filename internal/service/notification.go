// Package service contains the engine's application services: graph store,
// snapshot store, collector, trigger registry, evaluator, proposer and
// approval gate, plus the event fan-out that connects them to operators.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
	baseURL       string
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled event types (e.g., "proposal.created", "metrics.degraded").
// If enabledEvents is nil or empty, all events are enabled. baseURL prefixes
// the review link of proposal notifications.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string, baseURL string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifyEvent renders an engine event for approvers. Events nobody needs to
// act on are not sent.
func (s *NotificationService) NotifyEvent(ctx context.Context, t event.Type, payload any) {
	n, ok := s.render(t, payload)
	if !ok {
		return
	}
	s.Notify(ctx, n)
}

func (s *NotificationService) render(t event.Type, payload any) (notifier.Notification, bool) {
	switch p := payload.(type) {
	case event.ProposalCreated:
		n := notifier.Notification{
			Title:   "Proposal awaiting approval",
			Message: fmt.Sprintf("%s on %s", p.Kind, strings.Join(p.TargetIDs, ", ")),
			Level:   "warning",
			Source:  string(t),
			Fields:  []notifier.Field{{Label: "Proposal", Value: p.ProposalID}},
		}
		if p.TriggerID != "" {
			n.Fields = append(n.Fields, notifier.Field{Label: "Trigger", Value: p.TriggerID})
		}
		if s.baseURL != "" {
			n.Link = s.baseURL + "/api/v1/proposals/" + p.ProposalID
		}
		return n, true
	case event.MetricsDegraded:
		return notifier.Notification{
			Title:   "Metrics collection degraded",
			Message: fmt.Sprintf("Channel %s gave up after %d attempts: %s", p.ChannelID, p.Attempts, p.Error),
			Level:   "error",
			Source:  string(t),
			Fields: []notifier.Field{
				{Label: "Channel", Value: p.ChannelID},
				{Label: "Platform", Value: p.Platform},
			},
		}, true
	case event.TriggerDisabled:
		return notifier.Notification{
			Title:   "Trigger disabled",
			Message: p.Reason,
			Level:   "warning",
			Source:  string(t),
			Fields:  []notifier.Field{{Label: "Trigger", Value: p.TriggerID}},
		}, true
	case event.ProposalResolved:
		if p.Status != "expired" {
			return notifier.Notification{}, false
		}
		return notifier.Notification{
			Title:   "Proposal expired",
			Message: p.Reason,
			Level:   "info",
			Source:  string(t),
			Fields:  []notifier.Field{{Label: "Proposal", Value: p.ProposalID}},
		}, true
	}
	return notifier.Notification{}, false
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
