package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"games table", `
		CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			prize_amount NUMERIC(14,2) NOT NULL,
			winner_slots INT NOT NULL CHECK (winner_slots > 0),
			details JSONB NOT NULL,
			winners JSONB NOT NULL DEFAULT '[]',
			starts_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);
	`},
	{"game_attempts table", `
		CREATE TABLE IF NOT EXISTS game_attempts (
			id BIGSERIAL PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			attempted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_game_attempts_game_time ON game_attempts(game_id, attempted_at DESC);
	`},
	{"user_balances table", `
		CREATE TABLE IF NOT EXISTS user_balances (
			user_id TEXT PRIMARY KEY,
			balance NUMERIC(14,2) NOT NULL DEFAULT 0,
			total_earnings NUMERIC(14,2) NOT NULL DEFAULT 0,
			total_wins INT NOT NULL DEFAULT 0,
			last_physical_win_date VARCHAR(10) NOT NULL DEFAULT '',
			last_battle_royale_win_date VARCHAR(10) NOT NULL DEFAULT '',
			push_recipient TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	// The user key makes the per-user daily cap authoritative inside the
	// settling transaction.
	{"daily_wins table", `
		CREATE TABLE IF NOT EXISTS daily_wins (
			win_date VARCHAR(10) NOT NULL,
			device_id TEXT NOT NULL,
			category VARCHAR(20) NOT NULL,
			user_id TEXT NOT NULL,
			game_id TEXT NOT NULL,
			game_name VARCHAR(255) NOT NULL,
			prize_amount NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT daily_wins_pkey PRIMARY KEY (win_date, device_id, category)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS daily_wins_user_key ON daily_wins(win_date, user_id, category);
	`},
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
