package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"treasure-hunt/internal/geo"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/pkg/clock"
	"treasure-hunt/internal/repository"
	"treasure-hunt/internal/repository/memstore"
)

var (
	testNow    = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	testToday  = "2026-03-14"
	testTarget = model.Coordinate{Latitude: 40.7580, Longitude: -73.9855}
)

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 50, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

// north returns c moved the given number of meters due north.
func north(c model.Coordinate, meters float64) model.Coordinate {
	return model.Coordinate{
		Latitude:  c.Latitude + meters/(geo.EarthRadiusMeters*math.Pi/180),
		Longitude: c.Longitude,
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (d *recordingDispatcher) Send(ctx context.Context, recipient, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent == nil {
		d.sent = make(map[string][]string)
	}
	d.sent[recipient] = append(d.sent[recipient], message)
	return d.err
}

type fixture struct {
	store       repository.Store
	mem         *memstore.Store
	clock       *clock.Manual
	eligibility *EligibilityService
	games       *GameService
	settlement  *SettlementService
	finalizer   *FinalizerService
	accounts    *AccountService
	dispatcher  *recordingDispatcher
}

func newFixture(t *testing.T, opts ...memstore.Option) *fixture {
	t.Helper()
	mem := memstore.New(opts...)
	return newFixtureWithStore(mem, mem)
}

func newFixtureWithStore(store repository.Store, mem *memstore.Store) *fixture {
	clk := clock.NewManual(testNow)
	eval := geo.NewEvaluator(geo.DefaultFadeStart)
	elig := NewEligibilityService(store, clk)
	disp := &recordingDispatcher{}
	return &fixture{
		store:       store,
		mem:         mem,
		clock:       clk,
		eligibility: elig,
		games:       NewGameService(store, eval, testRetry()),
		settlement:  NewSettlementService(store, elig, eval, clk, testRetry()),
		finalizer:   NewFinalizerService(store, elig, disp, clk, testRetry()),
		accounts:    NewAccountService(store),
		dispatcher:  disp,
	}
}

func (f *fixture) liveLocationGame(t *testing.T, slots int, radius float64) *model.Game {
	t.Helper()
	ctx := context.Background()
	g, err := f.games.Create(ctx, NewGame{
		Name:        "Times Square Drop",
		PrizeAmount: decimal.NewFromInt(100),
		WinnerSlots: slots,
		Details:     &model.LocationDetails{Target: testTarget, AccuracyRadius: radius},
	})
	require.NoError(t, err)
	g, err = f.games.Launch(ctx, g.ID)
	require.NoError(t, err)
	return g
}

func (f *fixture) liveVirtualGame(t *testing.T, prize int64, dist map[int]float64, mode model.ScoringMode) *model.Game {
	t.Helper()
	ctx := context.Background()
	g, err := f.games.Create(ctx, NewGame{
		Name:        "Friday Royale",
		PrizeAmount: decimal.NewFromInt(prize),
		WinnerSlots: len(dist),
		Details:     &model.VirtualDetails{ScoringMode: mode, PrizeDistribution: dist},
	})
	require.NoError(t, err)
	g, err = f.games.Launch(ctx, g.ID)
	require.NoError(t, err)
	return g
}

// seedWin records a win of category for userID today, the way a settled
// game would.
func (f *fixture) seedWin(t *testing.T, userID, deviceID string, category model.Category) {
	t.Helper()
	err := f.store.WithTx(context.Background(), seedTx(userID, deviceID, category, clock.Today(f.clock)))
	require.NoError(t, err)
}

func seedTx(userID, deviceID string, category model.Category, date string) func(ctx context.Context, tx repository.Tx) error {
	return func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertDailyWin(ctx, &model.DailyWin{
			Date:     date,
			DeviceID: model.DeviceKey(deviceID, userID),
			Category: category,
			UserID:   userID,
			GameID:   "seeded",
		}); err != nil {
			return err
		}
		_, err := tx.Credit(ctx, repository.Credit{
			UserID:   userID,
			Amount:   decimal.NewFromInt(1),
			Category: category,
			Date:     date,
		})
		return err
	}
}

var errBroken = errors.New("connection refused")

// brokenStore fails every read and transaction.
type brokenStore struct {
	repository.Store
}

func (brokenStore) GetBalance(ctx context.Context, userID string) (*model.UserBalance, error) {
	return nil, errBroken
}

func (brokenStore) GetDailyWin(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error) {
	return nil, errBroken
}

func (brokenStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return errBroken
}

// conflictStore reports a write conflict on every commit.
type conflictStore struct {
	repository.Store
	calls int
	mu    sync.Mutex
}

func (s *conflictStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return repository.ErrConflict
}

// failingCreditStore fails the balance credit of one user.
type failingCreditStore struct {
	repository.Store
	failUser string
}

func (s failingCreditStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, failingCreditTx{Tx: tx, failUser: s.failUser})
	})
}

type failingCreditTx struct {
	repository.Tx
	failUser string
}

func (t failingCreditTx) Credit(ctx context.Context, c repository.Credit) (*model.UserBalance, error) {
	if c.UserID == t.failUser {
		return nil, errors.New("balance row locked out")
	}
	return t.Tx.Credit(ctx, c)
}
