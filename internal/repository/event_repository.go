// Package repository implements PostgreSQL persistence for events and push
// subscriptions. The database is the durability backstop for persistent
// events; the in-memory store in internal/store is a transient cache on top.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/duelcam/backend/internal/events"
)

// EventRepositoryInterface defines the durable event table operations the
// delivery core depends on.
type EventRepositoryInterface interface {
	Insert(ctx context.Context, event events.Event) error
	UnreadPersistent(ctx context.Context, userID string) ([]events.Event, error)
	MarkSent(ctx context.Context, ids []string, sentAt time.Time) error
	MarkRead(ctx context.Context, userID string, ids []string) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	DeleteRead(ctx context.Context, userID string) (int, error)
}

// EventRepo implements EventRepositoryInterface using PostgreSQL
type EventRepo struct {
	db *sqlx.DB
}

// NewEventRepo creates a new EventRepo instance
func NewEventRepo(db *sqlx.DB) *EventRepo {
	return &EventRepo{db: db}
}

// Insert stores an event row. The id is assigned by the caller and unique
// across the external store.
func (r *EventRepo) Insert(ctx context.Context, event events.Event) error {
	query := `
		INSERT INTO events (id, user_id, type, created_at, send_at, data, persistent, read, is_technical)
		VALUES (:id, :user_id, :type, :created_at, :send_at, :data, :persistent, :read, :is_technical)
	`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UnreadPersistent returns the user's persistent events that have not been
// acknowledged yet, ordered by creation time. This is the backlog a fresh
// stream connection emits first.
func (r *EventRepo) UnreadPersistent(ctx context.Context, userID string) ([]events.Event, error) {
	result := []events.Event{}
	query := `SELECT id, user_id, type, created_at, send_at, data, persistent, read, is_technical
		FROM events
		WHERE user_id = $1 AND persistent = TRUE AND read = FALSE
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &result, query, userID); err != nil {
		return nil, fmt.Errorf("query unread persistent events: %w", err)
	}
	return result, nil
}

// MarkSent sets send_at for the given ids after a successful stream emit.
func (r *EventRepo) MarkSent(ctx context.Context, ids []string, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE events SET send_at = ? WHERE id IN (?)`, sentAt, ids)
	if err != nil {
		return fmt.Errorf("build mark sent query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("mark events sent: %w", err)
	}
	return nil
}

// MarkRead flags the given events as acknowledged by their owner. Rows
// belonging to other users are left untouched.
func (r *EventRepo) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE events SET read = TRUE WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("build mark read query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("mark events read: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByUser removes all events for a user.
func (r *EventRepo) DeleteByUser(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete events by user: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteOlderThan removes non-persistent events created before the cutoff.
// Persistent rows stay until explicitly acknowledged.
func (r *EventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE persistent = FALSE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events older than cutoff: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteRead removes acknowledged events for a user.
func (r *EventRepo) DeleteRead(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE user_id = $1 AND read = TRUE`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete read events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
