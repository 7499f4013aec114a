package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// AppendEvent inserts a new event into the engine_events table.
func (s *EventStore) AppendEvent(ctx context.Context, ev event.Envelope) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engine_events (id, event_type, payload, request_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, string(ev.Type), []byte(ev.Payload), ev.RequestID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a cursor-paginated page of events with optional filtering.
func (s *EventStore) ListEvents(ctx context.Context, filter event.Filter) (*event.Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}

	// Build dynamic WHERE clause.
	var (
		conditions []string
		args       []any
	)
	argIdx := 1
	if filter.Cursor != "" {
		var seq int64
		err := s.pool.QueryRow(ctx, `SELECT seq FROM engine_events WHERE id::text = $1`, filter.Cursor).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown cursor %q", domain.ErrValidation, filter.Cursor)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf("seq > $%d", argIdx))
		args = append(args, seq)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", argIdx))
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIdx))
		args = append(args, *filter.After)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	// Fetch one extra to determine hasMore.
	args = append(args, limit+1)
	query := fmt.Sprintf(`SELECT id, event_type, payload, request_id, created_at FROM engine_events %s ORDER BY seq ASC LIMIT $%d`,
		where, argIdx)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	page := &event.Page{Events: []event.Envelope{}}
	for rows.Next() {
		var (
			ev      event.Envelope
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &typ, &payload, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.Payload = payload
		ev.CreatedAt = ev.CreatedAt.UTC()
		page.Events = append(page.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Events) > limit {
		page.HasMore = true
		page.Events = page.Events[:limit]
	}
	if n := len(page.Events); n > 0 {
		page.Cursor = page.Events[n-1].ID
	}
	return page, nil
}
