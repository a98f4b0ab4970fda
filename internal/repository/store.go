// Package repository provides the persistence layer for games, balances and
// daily win markers.
package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"treasure-hunt/internal/model"
)

// Common errors for repository operations.
var (
	ErrGameNotFound     = errors.New("game not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrDailyWinNotFound = errors.New("daily win not found")
	ErrGameExists       = errors.New("game already exists")

	// ErrConflict means a concurrent writer committed first. The whole
	// read-modify-write should be retried.
	ErrConflict = errors.New("write conflict")

	// ErrDailyWinDeviceTaken and ErrDailyWinUserTaken report that a daily win
	// marker already exists for the device or the user on that date and category.
	ErrDailyWinDeviceTaken = errors.New("daily win already recorded for device")
	ErrDailyWinUserTaken   = errors.New("daily win already recorded for user")
)

// Credit describes one prize credit to a user's balance.
type Credit struct {
	UserID   string
	Amount   decimal.Decimal
	Category model.Category
	Date     string // stamped as the category's last win date
}

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	GetGame(ctx context.Context, id string) (*model.Game, error)
	GetBalance(ctx context.Context, userID string) (*model.UserBalance, error)
	GetDailyWin(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error)
}

// Tx is a unit of work. Nothing it writes is visible until the surrounding
// WithTx returns nil.
type Tx interface {
	Reader

	// UpdateGame writes g if its Version still matches the stored one and
	// bumps the version. Returns ErrConflict otherwise.
	UpdateGame(ctx context.Context, g *model.Game) error
	InsertAttempt(ctx context.Context, gameID string, a model.Attempt) error
	InsertDailyWin(ctx context.Context, w *model.DailyWin) error
	Credit(ctx context.Context, c Credit) (*model.UserBalance, error)
}

// Store is the transactional document store the services run against.
type Store interface {
	Reader

	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	CreateGame(ctx context.Context, g *model.Game) error
	ListGames(ctx context.Context, status model.GameStatus) ([]*model.Game, error)
	InsertAttempt(ctx context.Context, gameID string, a model.Attempt) error
	ListAttempts(ctx context.Context, gameID string, limit int) ([]model.Attempt, error)
	SetPushRecipient(ctx context.Context, userID, recipient string) error
	Ping(ctx context.Context) error
}
