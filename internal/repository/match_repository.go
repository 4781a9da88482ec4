package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Match repository errors
var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("user is not a participant of the match")
)

// MatchRepositoryInterface resolves matchups for signal routing.
type MatchRepositoryInterface interface {
	ResolvePeer(ctx context.Context, matchID, userID string) (string, error)
}

// MatchRepo implements MatchRepositoryInterface using PostgreSQL
type MatchRepo struct {
	db *sqlx.DB
}

// NewMatchRepo creates a new MatchRepo instance
func NewMatchRepo(db *sqlx.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

// ResolvePeer returns the other participant of the match, or an error when
// the match does not exist or the user is not part of it.
func (r *MatchRepo) ResolvePeer(ctx context.Context, matchID, userID string) (string, error) {
	var row struct {
		UserA string `db:"user_a"`
		UserB string `db:"user_b"`
	}
	query := `SELECT user_a, user_b FROM matches WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, matchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrMatchNotFound
		}
		return "", fmt.Errorf("query match: %w", err)
	}

	switch userID {
	case row.UserA:
		return row.UserB, nil
	case row.UserB:
		return row.UserA, nil
	default:
		return "", ErrNotParticipant
	}
}
