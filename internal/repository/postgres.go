package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"treasure-hunt/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgreSQL error codes that mean "retry the transaction".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// classify maps driver errors onto repository sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "daily_wins_pkey":
			return ErrDailyWinDeviceTaken
		case "daily_wins_user_key":
			return ErrDailyWinUserTaken
		case "games_pkey":
			return ErrGameExists
		}
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	}
	return err
}

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool      *pgxpool.Pool
	games     *GameRepository
	balances  *BalanceRepository
	dailyWins *DailyWinRepository
	attempts  *AttemptRepository
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:      pool,
		games:     NewGameRepository(pool),
		balances:  NewBalanceRepository(pool),
		dailyWins: NewDailyWinRepository(pool),
		attempts:  NewAttemptRepository(pool),
	}
}

// WithTx runs fn inside a READ COMMITTED transaction. Lost updates are
// prevented by the version check in UpdateGame and the daily win keys,
// both of which surface as ErrConflict or a taken-marker error.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{
		games:     NewGameRepository(tx),
		balances:  NewBalanceRepository(tx),
		dailyWins: NewDailyWinRepository(tx),
		attempts:  NewAttemptRepository(tx),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// GetGame implements Reader.
func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.Game, error) {
	return s.games.GetByID(ctx, id)
}

// GetBalance implements Reader.
func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.UserBalance, error) {
	return s.balances.GetByID(ctx, userID)
}

// GetDailyWin implements Reader.
func (s *PostgresStore) GetDailyWin(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error) {
	return s.dailyWins.Get(ctx, date, deviceID, category)
}

// CreateGame implements Store.
func (s *PostgresStore) CreateGame(ctx context.Context, g *model.Game) error {
	return s.games.Create(ctx, g)
}

// ListGames implements Store.
func (s *PostgresStore) ListGames(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	return s.games.List(ctx, status)
}

// InsertAttempt implements Store.
func (s *PostgresStore) InsertAttempt(ctx context.Context, gameID string, a model.Attempt) error {
	return s.attempts.Insert(ctx, gameID, a)
}

// ListAttempts implements Store.
func (s *PostgresStore) ListAttempts(ctx context.Context, gameID string, limit int) ([]model.Attempt, error) {
	return s.attempts.ListByGame(ctx, gameID, limit)
}

// SetPushRecipient implements Store.
func (s *PostgresStore) SetPushRecipient(ctx context.Context, userID, recipient string) error {
	return s.balances.SetPushRecipient(ctx, userID, recipient)
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgTx binds the repositories to one pgx transaction.
type pgTx struct {
	games     *GameRepository
	balances  *BalanceRepository
	dailyWins *DailyWinRepository
	attempts  *AttemptRepository
}

func (t *pgTx) GetGame(ctx context.Context, id string) (*model.Game, error) {
	return t.games.GetByID(ctx, id)
}

func (t *pgTx) GetBalance(ctx context.Context, userID string) (*model.UserBalance, error) {
	return t.balances.GetByID(ctx, userID)
}

func (t *pgTx) GetDailyWin(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error) {
	return t.dailyWins.Get(ctx, date, deviceID, category)
}

func (t *pgTx) UpdateGame(ctx context.Context, g *model.Game) error {
	return t.games.Update(ctx, g)
}

func (t *pgTx) InsertAttempt(ctx context.Context, gameID string, a model.Attempt) error {
	return t.attempts.Insert(ctx, gameID, a)
}

func (t *pgTx) InsertDailyWin(ctx context.Context, w *model.DailyWin) error {
	return t.dailyWins.Insert(ctx, w)
}

func (t *pgTx) Credit(ctx context.Context, c Credit) (*model.UserBalance, error) {
	return t.balances.Credit(ctx, c)
}
