package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"treasure-hunt/internal/model"
)

// DailyWinRepository handles daily win marker persistence.
// Markers are write-once; nothing here updates or deletes them.
type DailyWinRepository struct {
	q querier
}

// NewDailyWinRepository creates a new DailyWinRepository instance.
func NewDailyWinRepository(q querier) *DailyWinRepository {
	return &DailyWinRepository{q: q}
}

// Get retrieves the marker for a (date, device, category) key.
// Returns ErrDailyWinNotFound if none exists.
func (r *DailyWinRepository) Get(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error) {
	const query = `
		SELECT win_date, device_id, category, user_id, game_id, game_name, prize_amount, created_at
		FROM daily_wins
		WHERE win_date = $1 AND device_id = $2 AND category = $3
	`

	var (
		w   model.DailyWin
		cat string
	)
	err := r.q.QueryRow(ctx, query, date, deviceID, string(category)).Scan(
		&w.Date,
		&w.DeviceID,
		&cat,
		&w.UserID,
		&w.GameID,
		&w.GameName,
		&w.PrizeAmount,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDailyWinNotFound
		}
		return nil, fmt.Errorf("failed to get daily win: %w", err)
	}
	w.Category = model.Category(cat)
	return &w, nil
}

// Insert records a marker. Returns ErrDailyWinDeviceTaken or
// ErrDailyWinUserTaken if the device or the user already has one for the
// same date and category.
func (r *DailyWinRepository) Insert(ctx context.Context, w *model.DailyWin) error {
	const query = `
		INSERT INTO daily_wins (win_date, device_id, category, user_id, game_id, game_name, prize_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		w.Date, w.DeviceID, string(w.Category), w.UserID, w.GameID, w.GameName, w.PrizeAmount,
	).Scan(&w.CreatedAt)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrDailyWinDeviceTaken) || errors.Is(err, ErrDailyWinUserTaken) {
			return err
		}
		return fmt.Errorf("failed to insert daily win: %w", err)
	}
	return nil
}
