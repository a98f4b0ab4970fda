package repository

import (
	"context"
	"fmt"

	"treasure-hunt/internal/model"
)

// AttemptRepository handles the append-only claim audit trail.
type AttemptRepository struct {
	q querier
}

// NewAttemptRepository creates a new AttemptRepository instance.
func NewAttemptRepository(q querier) *AttemptRepository {
	return &AttemptRepository{q: q}
}

// Insert appends an attempt for a game.
func (r *AttemptRepository) Insert(ctx context.Context, gameID string, a model.Attempt) error {
	const query = `
		INSERT INTO game_attempts (game_id, user_id, distance, latitude, longitude, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.q.Exec(ctx, query, gameID, a.UserID, a.Distance, a.Location.Latitude, a.Location.Longitude, a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// ListByGame retrieves the most recent attempts for a game, newest first.
// A non-positive limit returns all of them.
func (r *AttemptRepository) ListByGame(ctx context.Context, gameID string, limit int) ([]model.Attempt, error) {
	const query = `
		SELECT user_id, distance, latitude, longitude, attempted_at
		FROM game_attempts
		WHERE game_id = $1
		ORDER BY attempted_at DESC, id DESC
		LIMIT $2
	`

	// LIMIT NULL returns every row.
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := r.q.Query(ctx, query, gameID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		err := rows.Scan(
			&a.UserID,
			&a.Distance,
			&a.Location.Latitude,
			&a.Location.Longitude,
			&a.AttemptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}
