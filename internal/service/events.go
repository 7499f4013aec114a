package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/logger"
	"github.com/Strob0t/LaunchLoop/internal/port/broadcast"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
	"github.com/Strob0t/LaunchLoop/internal/port/messagequeue"
)

// EventService fans engine events out to WebSocket clients, the message
// bus, the event log and approver notifications. Delivery failures are
// logged; they never fail the operation that emitted the event.
type EventService struct {
	hub    broadcast.Broadcaster
	queue  messagequeue.Queue
	log    eventstore.Store
	notify *NotificationService
	now    func() time.Time
}

// NewEventService creates an EventService broadcasting to hub.
func NewEventService(hub broadcast.Broadcaster) *EventService {
	return &EventService{hub: hub, now: time.Now}
}

// SetQueue publishes events on the message bus as well.
func (s *EventService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetEventStore records every event in the event log.
func (s *EventService) SetEventStore(es eventstore.Store) { s.log = es }

// SetNotifications forwards actionable events to approvers.
func (s *EventService) SetNotifications(n *NotificationService) { s.notify = n }

// Emit delivers one event.
func (s *EventService) Emit(ctx context.Context, t event.Type, payload any) {
	if s == nil {
		return
	}
	env, err := event.NewEnvelope(t, payload, s.now())
	if err != nil {
		slog.Error("event marshal failed", "type", t, "error", err)
		return
	}
	env.RequestID = logger.RequestID(ctx)

	if s.log != nil {
		if err := s.log.AppendEvent(ctx, env); err != nil {
			slog.Warn("event log append failed", "type", t, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, string(t), payload)
	}
	if s.queue != nil {
		if err := s.queue.Publish(ctx, messagequeue.Subject(t), env.Payload); err != nil {
			slog.Warn("event publish failed", "type", t, "error", err)
		}
	}
	if s.notify != nil {
		go s.notify.NotifyEvent(context.WithoutCancel(ctx), t, payload)
	}
	slog.Debug("event emitted", "type", t, "event_id", env.ID)
}
