package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/repository"
)

func newGame(id string) *model.Game {
	return &model.Game{
		ID:          id,
		Name:        "Ferry Building",
		Status:      model.GameStatusLive,
		PrizeAmount: decimal.NewFromInt(40),
		WinnerSlots: 2,
		Details:     &model.LocationDetails{Target: model.Coordinate{Latitude: 37.7955, Longitude: -122.3937}, AccuracyRadius: 10},
	}
}

func TestStore_CreateGetList(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := New(WithNow(func() time.Time { return now }))
	ctx := context.Background()

	g := newGame("g1")
	require.NoError(t, s.CreateGame(ctx, g))
	assert.Equal(t, int64(1), g.Version)
	assert.Equal(t, now, g.CreatedAt)
	assert.ErrorIs(t, s.CreateGame(ctx, newGame("g1")), repository.ErrGameExists)

	got, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	got.Name = "mutated"
	again, _ := s.GetGame(ctx, "g1")
	assert.Equal(t, "Ferry Building", again.Name, "reads return copies")

	_, err = s.GetGame(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrGameNotFound)

	draft := newGame("g2")
	draft.Status = model.GameStatusPending
	require.NoError(t, s.CreateGame(ctx, draft))
	lives, err := s.ListGames(ctx, model.GameStatusLive)
	require.NoError(t, err)
	require.Len(t, lives, 1)
	assert.Equal(t, "g1", lives[0].ID)
}

func TestStore_TxBuffersUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, newGame("g1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		g, err := tx.GetGame(ctx, "g1")
		require.NoError(t, err)
		g.Winners = append(g.Winners, model.Winner{UserID: "alice", Position: 1})
		require.NoError(t, tx.UpdateGame(ctx, g))
		_, err = tx.Credit(ctx, repository.Credit{UserID: "alice", Amount: decimal.NewFromInt(40), Category: model.CategoryPhysical, Date: "2026-03-14"})
		require.NoError(t, err)

		// Not visible outside yet.
		outside, _ := s.GetGame(ctx, "g1")
		assert.Empty(t, outside.Winners)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	g, _ := s.GetGame(ctx, "g1")
	assert.Empty(t, g.Winners)
	assert.Equal(t, int64(1), g.Version)
	_, err = s.GetBalance(ctx, "alice")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestStore_StaleVersionConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, newGame("g1")))

	stale, _ := s.GetGame(ctx, "g1")

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		g, err := tx.GetGame(ctx, "g1")
		if err != nil {
			return err
		}
		g.Winners = append(g.Winners, model.Winner{UserID: "alice", Position: 1})
		return tx.UpdateGame(ctx, g)
	}))

	err := s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.UpdateGame(ctx, stale)
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestStore_ConflictDetectedAtCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, newGame("g1")))

	err := s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		g, _ := tx.GetGame(ctx, "g1")
		g.Name = "first"
		if err := tx.UpdateGame(ctx, g); err != nil {
			return err
		}
		// A concurrent writer commits between our write and our commit.
		return s.WithTx(ctx, func(ctx context.Context, inner repository.Tx) error {
			h, _ := inner.GetGame(ctx, "g1")
			h.Name = "second"
			return inner.UpdateGame(ctx, h)
		})
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	g, _ := s.GetGame(ctx, "g1")
	assert.Equal(t, "second", g.Name)
	assert.Equal(t, int64(2), g.Version)
}

func TestStore_RepeatedUpdateInOneTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, newGame("g1")))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, name := range []string{"a", "b"} {
			g, err := tx.GetGame(ctx, "g1")
			if err != nil {
				return err
			}
			g.Name = name
			if err := tx.UpdateGame(ctx, g); err != nil {
				return err
			}
		}
		return nil
	}))

	g, _ := s.GetGame(ctx, "g1")
	assert.Equal(t, "b", g.Name)
	assert.Equal(t, int64(2), g.Version)
}

func TestStore_DailyWinKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert := func(w model.DailyWin) error {
		return s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.InsertDailyWin(ctx, &w)
		})
	}
	base := model.DailyWin{Date: "2026-03-14", DeviceID: "dev-a", Category: model.CategoryPhysical, UserID: "alice"}
	require.NoError(t, insert(base))

	dev := base
	dev.UserID = "mallory"
	assert.ErrorIs(t, insert(dev), repository.ErrDailyWinDeviceTaken)

	user := base
	user.DeviceID = "dev-b"
	assert.ErrorIs(t, insert(user), repository.ErrDailyWinUserTaken)

	other := base
	other.Category = model.CategoryBattleRoyale
	assert.NoError(t, insert(other))

	got, err := s.GetDailyWin(ctx, "2026-03-14", "dev-a", model.CategoryPhysical)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
}

func TestStore_CreditAccumulatesInTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SetPushRecipient(ctx, "alice", "99"))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Credit(ctx, repository.Credit{UserID: "alice", Amount: decimal.NewFromInt(10), Category: model.CategoryPhysical, Date: "2026-03-14"})
		require.NoError(t, err)
		b, err := tx.Credit(ctx, repository.Credit{UserID: "alice", Amount: decimal.NewFromInt(5), Category: model.CategoryBattleRoyale, Date: "2026-03-14"})
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(decimal.NewFromInt(15)))
		assert.Equal(t, "99", b.PushRecipient)
		return nil
	}))

	b, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 2, b.TotalWins)
	assert.Equal(t, "2026-03-14", b.LastPhysicalWinDate)
	assert.Equal(t, "2026-03-14", b.LastBattleRoyaleWinDate)
}

func TestStore_Attempts(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateGame(ctx, newGame("g1")))
	assert.ErrorIs(t, s.InsertAttempt(ctx, "nope", model.Attempt{}), repository.ErrGameNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.InsertAttempt(ctx, "g1", model.Attempt{UserID: "a", Distance: float64(i)}))
	}
	got, err := s.ListAttempts(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Distance)

	all, err := s.ListAttempts(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Len(t, s.Attempts("g1"), 3)
}

func TestStore_CanceledContextDoesNotCommit(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateGame(context.Background(), newGame("g1")))

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		g, _ := tx.GetGame(ctx, "g1")
		g.Name = "never"
		if err := tx.UpdateGame(ctx, g); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	g, _ := s.GetGame(context.Background(), "g1")
	assert.Equal(t, "Ferry Building", g.Name)
}
