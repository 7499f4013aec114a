// Package notifier defines the port for telling approvers about proposals
// that wait for a decision and about engine problems.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Field is a labelled detail rendered under the message.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Level   string  `json:"level"`  // "info", "success", "warning", "error"
	Source  string  `json:"source"` // event type, e.g. "proposal.created"
	Fields  []Field `json:"fields,omitempty"`
	Link    string  `json:"link,omitempty"` // where the approver can decide
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Fields         bool `json:"fields"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
