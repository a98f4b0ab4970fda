package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"treasure-hunt/internal/model"
)

const balanceColumns = `user_id, balance, total_earnings, total_wins, last_physical_win_date, last_battle_royale_win_date, push_recipient, created_at, updated_at`

// BalanceRepository handles user balance persistence.
type BalanceRepository struct {
	q querier
}

// NewBalanceRepository creates a new BalanceRepository instance.
func NewBalanceRepository(q querier) *BalanceRepository {
	return &BalanceRepository{q: q}
}

// GetByID retrieves a user's balance record.
// Returns ErrUserNotFound if the user has never won or registered.
func (r *BalanceRepository) GetByID(ctx context.Context, userID string) (*model.UserBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM user_balances WHERE user_id = $1`

	u, err := scanBalance(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return u, nil
}

// Credit adds a prize to the user's balance and earnings, counts the win and
// stamps the category's last win date. The record is created on first win.
func (r *BalanceRepository) Credit(ctx context.Context, c Credit) (*model.UserBalance, error) {
	query := `
		INSERT INTO user_balances (user_id, balance, total_earnings, total_wins,
		                           last_physical_win_date, last_battle_royale_win_date, created_at, updated_at)
		VALUES ($1, $2, $2, 1,
		        CASE WHEN $3 = 'physical' THEN $4 ELSE '' END,
		        CASE WHEN $3 = 'battle_royale' THEN $4 ELSE '' END,
		        NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = user_balances.balance + EXCLUDED.balance,
			total_earnings = user_balances.total_earnings + EXCLUDED.total_earnings,
			total_wins = user_balances.total_wins + 1,
			last_physical_win_date = CASE WHEN $3 = 'physical' THEN $4 ELSE user_balances.last_physical_win_date END,
			last_battle_royale_win_date = CASE WHEN $3 = 'battle_royale' THEN $4 ELSE user_balances.last_battle_royale_win_date END,
			updated_at = NOW()
		RETURNING ` + balanceColumns

	u, err := scanBalance(r.q.QueryRow(ctx, query, c.UserID, c.Amount, string(c.Category), c.Date))
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", classify(err))
	}
	return u, nil
}

// SetPushRecipient stores where win notifications for the user are sent.
func (r *BalanceRepository) SetPushRecipient(ctx context.Context, userID, recipient string) error {
	const query = `
		INSERT INTO user_balances (user_id, push_recipient, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET push_recipient = EXCLUDED.push_recipient, updated_at = NOW()
	`

	if _, err := r.q.Exec(ctx, query, userID, recipient); err != nil {
		return fmt.Errorf("failed to set push recipient: %w", err)
	}
	return nil
}

func scanBalance(row pgx.Row) (*model.UserBalance, error) {
	var u model.UserBalance
	err := row.Scan(
		&u.UserID,
		&u.Balance,
		&u.TotalEarnings,
		&u.TotalWins,
		&u.LastPhysicalWinDate,
		&u.LastBattleRoyaleWinDate,
		&u.PushRecipient,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
