package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Subscription repository errors
var (
	ErrSubscriptionNotFound = errors.New("push subscription not found")
)

// SubscriptionRepositoryInterface defines the push target registry the
// escalation notifier reads from.
type SubscriptionRepositoryInterface interface {
	Insert(ctx context.Context, sub PushSubscription) error
	ActiveForUser(ctx context.Context, userID string) ([]PushSubscription, error)
	Delete(ctx context.Context, id string) error
	DeleteOwned(ctx context.Context, userID, id string) error
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error
}

// SubscriptionRepo implements SubscriptionRepositoryInterface using PostgreSQL
type SubscriptionRepo struct {
	db *sqlx.DB
}

// NewSubscriptionRepo creates a new SubscriptionRepo instance
func NewSubscriptionRepo(db *sqlx.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// Insert registers a push target. Re-registering the same endpoint for the
// same user replaces the stored keys.
func (r *SubscriptionRepo) Insert(ctx context.Context, sub PushSubscription) error {
	query := `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, expiration_time, created_at)
		VALUES (:id, :user_id, :endpoint, :p256dh, :auth, :expiration_time, :created_at)
		ON CONFLICT (user_id, endpoint) DO UPDATE
		SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, expiration_time = EXCLUDED.expiration_time
	`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("insert push subscription: %w", err)
	}
	return nil
}

// ActiveForUser returns the user's subscriptions that have not expired as of
// now. Subscriptions without an expiration time never expire on their own.
func (r *SubscriptionRepo) ActiveForUser(ctx context.Context, userID string) ([]PushSubscription, error) {
	result := []PushSubscription{}
	query := `SELECT id, user_id, endpoint, p256dh, auth, expiration_time, created_at
		FROM push_subscriptions
		WHERE user_id = $1 AND (expiration_time IS NULL OR expiration_time > NOW())
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &result, query, userID); err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	return result, nil
}

// Delete removes a subscription by id regardless of owner. This is the
// notifier's prune path; user-facing deletes go through DeleteOwned.
func (r *SubscriptionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// DeleteOwned removes a subscription by id only if the user owns it.
// Someone else's id looks the same as a missing one: ErrSubscriptionNotFound.
func (r *SubscriptionRepo) DeleteOwned(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete owned push subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// DeleteByEndpoint removes a user's subscription by its endpoint URL, the
// identifier a browser PushSubscription naturally carries. Missing rows are
// reported as ErrSubscriptionNotFound.
func (r *SubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
