// Package messagequeue defines the message queue port (interface) and the
// subjects the engine publishes and consumes.
package messagequeue

import (
	"context"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// SubjectPrefix roots every subject; the JetStream stream captures
// SubjectPrefix + ">".
const SubjectPrefix = "launchloop."

// Subjects.
const (
	SubjectProposalCreated  = SubjectPrefix + string(event.TypeProposalCreated)
	SubjectProposalResolved = SubjectPrefix + string(event.TypeProposalResolved)
	SubjectGraphCommitted   = SubjectPrefix + string(event.TypeGraphCommitted)
	SubjectMetricsDegraded  = SubjectPrefix + string(event.TypeMetricsDegraded)
	SubjectTriggerDisabled  = SubjectPrefix + string(event.TypeTriggerDisabled)
	SubjectReevaluate       = SubjectPrefix + string(event.TypeReevaluate)
	SubjectMetricsIngest    = SubjectPrefix + "metrics.ingest" // metrics.ingest.{channel_id}
)

// Subject returns the subject an event type is published on.
func Subject(t event.Type) string {
	return SubjectPrefix + string(t)
}
