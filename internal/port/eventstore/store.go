// Package eventstore defines the port interface for the append-only event
// log (audit trail of commits, decisions and degraded polls).
package eventstore

import (
	"context"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
)

// DefaultLimit is the page size when a filter does not set one.
const DefaultLimit = 100

// Store is the port interface for appending and paging events.
type Store interface {
	// AppendEvent persists a new event.
	AppendEvent(ctx context.Context, ev event.Envelope) error

	// ListEvents returns a page of events, oldest first, starting after the
	// filter's cursor.
	ListEvents(ctx context.Context, filter event.Filter) (*event.Page, error)
}
