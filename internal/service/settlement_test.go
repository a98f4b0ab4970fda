package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"treasure-hunt/internal/geo"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/repository"
	"treasure-hunt/internal/repository/memstore"
)

func TestClaim_InRangeWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.liveLocationGame(t, 2, 10)

	res, err := f.settlement.Claim(ctx, ClaimRequest{
		GameID: g.ID, UserID: "alice", DeviceID: "dev-a", Location: north(testTarget, 8),
	})
	require.NoError(t, err)
	assert.Equal(t, ClaimStatusWon, res.Status)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 1, res.SlotsRemaining)
	assert.InDelta(t, 8, res.Distance, 0.01)
	assert.True(t, res.Payout.Equal(decimal.NewFromInt(100)))

	bal, err := f.accounts.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, bal.TotalEarnings.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, bal.TotalWins)
	assert.Equal(t, testToday, bal.LastPhysicalWinDate)
	assert.Empty(t, bal.LastBattleRoyaleWinDate)

	marker, err := f.store.GetDailyWin(ctx, testToday, "dev-a", model.CategoryPhysical)
	require.NoError(t, err)
	assert.Equal(t, "alice", marker.UserID)
	assert.Equal(t, g.ID, marker.GameID)

	stored, err := f.games.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, stored.Winners, 1)
	assert.Equal(t, "alice", stored.Winners[0].UserID)
	assert.Equal(t, model.GameStatusLive, stored.Status)
	assert.Len(t, f.mem.Attempts(g.ID), 1)
}

func TestClaim_OutOfRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.liveLocationGame(t, 1, 10)

	_, err := f.settlement.Claim(ctx, ClaimRequest{
		GameID: g.ID, UserID: "bob", DeviceID: "dev-b", Location: north(testTarget, 40),
	})
	require.ErrorIs(t, err, ErrOutOfRange)

	var oor *OutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.InDelta(t, 40, oor.Distance, 0.01)
	assert.InDelta(t, 30, oor.MetersToGo, 0.01)
	assert.Equal(t, 10.0, oor.Radius)

	stored, err := f.games.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Winners)
	assert.Equal(t, g.Version, stored.Version)

	_, err = f.store.GetBalance(ctx, "bob")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
	_, err = f.store.GetDailyWin(ctx, testToday, "dev-b", model.CategoryPhysical)
	assert.ErrorIs(t, err, repository.ErrDailyWinNotFound)

	// The attempt is kept for audit only.
	assert.Len(t, f.mem.Attempts(g.ID), 1)
}

func TestClaim_AlreadyWonIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.liveLocationGame(t, 3, 10)
	req := ClaimRequest{GameID: g.ID, UserID: "alice", DeviceID: "dev-a", Location: north(testTarget, 2)}

	first, err := f.settlement.Claim(ctx, req)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := f.settlement.Claim(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ClaimStatusAlreadyWon, again.Status)
		assert.Equal(t, first.Position, again.Position)
	}

	// Even from out of range.
	req.Location = north(testTarget, 500)
	again, err := f.settlement.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ClaimStatusAlreadyWon, again.Status)

	bal, err := f.accounts.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, bal.TotalWins)

	stored, err := f.games.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Winners, 1)
}

func TestClaim_SlotsFullCompletesGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.liveLocationGame(t, 1, 10)

	_, err := f.settlement.Claim(ctx, ClaimRequest{GameID: g.ID, UserID: "alice", DeviceID: "dev-a", Location: testTarget})
	require.NoError(t, err)

	stored, err := f.games.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GameStatusCompleted, stored.Status)

	_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: g.ID, UserID: "bob", DeviceID: "dev-b", Location: testTarget})
	assert.ErrorIs(t, err, ErrSlotsFull)

	_, err = f.store.GetBalance(ctx, "bob")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestClaim_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.games.Create(ctx, NewGame{
		Name:        "Not yet",
		PrizeAmount: decimal.NewFromInt(10),
		WinnerSlots: 1,
		Details:     &model.LocationDetails{Target: testTarget, AccuracyRadius: 10},
	})
	require.NoError(t, err)
	virtual := f.liveVirtualGame(t, 100, map[int]float64{1: 100}, model.ScoringHigherIsBetter)

	tests := []struct {
		name   string
		gameID string
		want   error
	}{
		{"pending game", pending.ID, ErrGameNotLive},
		{"virtual game", virtual.ID, ErrWrongGameKind},
		{"unknown game", "missing", ErrGameNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.settlement.Claim(ctx, ClaimRequest{GameID: tt.gameID, UserID: "u", DeviceID: "d", Location: testTarget})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClaim_PausedGameRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.liveLocationGame(t, 1, 10)
	_, err := f.games.Pause(ctx, g.ID)
	require.NoError(t, err)

	_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: g.ID, UserID: "u", DeviceID: "d", Location: testTarget})
	assert.ErrorIs(t, err, ErrGameNotLive)
}

func TestClaim_ExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.liveLocationGame(t, 5, 10)

	tests := []struct {
		name      string
		meters    float64
		proximity func(p int) bool
		wantErr   error
	}{
		{"8m wins", 8, func(p int) bool { return p == 100 }, nil},
		{"40m in fade window", 40, func(p int) bool { return p > 0 && p < 100 }, ErrOutOfRange},
		{"60m beyond fade", 60, func(p int) bool { return p == 0 }, ErrOutOfRange},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := north(testTarget, tt.meters)
			ev, err := f.games.Evaluate(ctx, g.ID, loc)
			require.NoError(t, err)
			assert.True(t, tt.proximity(ev.Proximity), "proximity %d", ev.Proximity)

			_, err = f.settlement.Claim(ctx, ClaimRequest{
				GameID: g.ID, UserID: fmt.Sprintf("user-%d", i), DeviceID: fmt.Sprintf("dev-%d", i), Location: loc,
			})
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestClaim_DailyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.liveLocationGame(t, 5, 10)
	second := f.liveLocationGame(t, 5, 10)

	_, err := f.settlement.Claim(ctx, ClaimRequest{GameID: first.ID, UserID: "alice", DeviceID: "dev-a", Location: testTarget})
	require.NoError(t, err)

	// Same user, another physical game, same day.
	_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: second.ID, UserID: "alice", DeviceID: "dev-z", Location: testTarget})
	assert.ErrorIs(t, err, ErrAlreadyWonToday)

	// Another account on the same device.
	_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: second.ID, UserID: "mallory", DeviceID: "dev-a", Location: testTarget})
	assert.ErrorIs(t, err, ErrDeviceAlreadyWonToday)

	// Next day both are fine again.
	f.clock.Advance(24 * time.Hour)
	res, err := f.settlement.Claim(ctx, ClaimRequest{GameID: second.ID, UserID: "alice", DeviceID: "dev-a", Location: testTarget})
	require.NoError(t, err)
	assert.Equal(t, ClaimStatusWon, res.Status)
}

func TestClaim_DailyCapAcrossGamesUnderRace(t *testing.T) {
	// Two physical games, same user on two devices, claims released together.
	f := newFixture(t, memstore.WithBeforeCommit(runtime.Gosched))
	ctx := context.Background()
	a := f.liveLocationGame(t, 1, 10)
	b := f.liveLocationGame(t, 1, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.settlement.Claim(ctx, ClaimRequest{
				GameID: id, UserID: "alice", DeviceID: fmt.Sprintf("dev-%d", i), Location: testTarget,
			})
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyWonToday)
		}
	}
	assert.Equal(t, 1, wins)

	bal, err := f.accounts.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, bal.TotalWins)
}

func TestClaim_ConcurrentAtMostNWinners(t *testing.T) {
	f := newFixture(t, memstore.WithBeforeCommit(runtime.Gosched))
	ctx := context.Background()
	const slots, claimants = 3, 20
	g := f.liveLocationGame(t, slots, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		full    int
		unknown []error
	)
	start := make(chan struct{})
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := f.settlement.Claim(ctx, ClaimRequest{
				GameID:   g.ID,
				UserID:   fmt.Sprintf("user-%02d", i),
				DeviceID: fmt.Sprintf("dev-%02d", i),
				Location: north(testTarget, float64(i%9)),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == ClaimStatusWon:
				won++
			case errors.Is(err, ErrSlotsFull), errors.Is(err, ErrGameNotLive):
				full++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, unknown)
	assert.Equal(t, slots, won)
	assert.Equal(t, claimants-slots, full)

	stored, err := f.games.Get(ctx, g.ID)
	require.NoError(t, err)
	assertContiguousWinners(t, stored.Winners, slots)
	assert.Equal(t, model.GameStatusCompleted, stored.Status)
}

func assertContiguousWinners(t require.TestingT, winners []model.Winner, n int) {
	require.Len(t, winners, n)
	users := make(map[string]bool, n)
	positions := make([]int, 0, n)
	for _, w := range winners {
		require.False(t, users[w.UserID], "duplicate winner %s", w.UserID)
		users[w.UserID] = true
		positions = append(positions, w.Position)
	}
	sort.Ints(positions)
	for i, p := range positions {
		require.Equal(t, i+1, p)
	}
}

func TestClaim_AtMostNWinnersProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		slots := rapid.IntRange(1, 4).Draw(t, "slots")
		claimants := rapid.IntRange(slots+1, slots+8).Draw(t, "claimants")

		mem := memstore.New(memstore.WithBeforeCommit(runtime.Gosched))
		f := newFixtureWithStore(mem, mem)
		ctx := context.Background()
		g, err := f.games.Create(ctx, NewGame{
			Name:        "prop",
			PrizeAmount: decimal.NewFromInt(5),
			WinnerSlots: slots,
			Details:     &model.LocationDetails{Target: testTarget, AccuracyRadius: 25},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.games.Launch(ctx, g.ID); err != nil {
			t.Fatalf("launch: %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		won := 0
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.settlement.Claim(ctx, ClaimRequest{
					GameID: g.ID, UserID: fmt.Sprintf("u%d", i), DeviceID: fmt.Sprintf("d%d", i), Location: testTarget,
				})
				if err == nil {
					mu.Lock()
					won++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if won != slots {
			t.Fatalf("expected %d winners, got %d", slots, won)
		}
		stored, err := f.games.Get(ctx, g.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		positions := make([]int, 0, len(stored.Winners))
		for _, w := range stored.Winners {
			positions = append(positions, w.Position)
		}
		sort.Ints(positions)
		for i, p := range positions {
			if p != i+1 {
				t.Fatalf("positions not contiguous: %v", positions)
			}
		}
	})
}

func TestClaim_WinGateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		radius := rapid.Float64Range(1, 60).Draw(t, "radius")
		meters := rapid.Float64Range(0, 120).Draw(t, "meters")

		mem := memstore.New()
		f := newFixtureWithStore(mem, mem)
		ctx := context.Background()
		g, err := f.games.Create(ctx, NewGame{
			Name:        "gate",
			PrizeAmount: decimal.NewFromInt(1),
			WinnerSlots: 1,
			Details:     &model.LocationDetails{Target: testTarget, AccuracyRadius: radius},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.games.Launch(ctx, g.ID); err != nil {
			t.Fatalf("launch: %v", err)
		}

		loc := north(testTarget, meters)
		_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: g.ID, UserID: "u", DeviceID: "d", Location: loc})

		inRange := geo.Distance(loc, testTarget) <= radius
		if inRange && err != nil {
			t.Fatalf("in range claim failed: %v", err)
		}
		if !inRange {
			if !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("expected out of range, got %v", err)
			}
			stored, _ := f.games.Get(ctx, g.ID)
			if len(stored.Winners) != 0 {
				t.Fatal("out of range claim mutated winners")
			}
		}
	})
}

func TestClaim_StoreUnavailableFailsClosed(t *testing.T) {
	mem := memstore.New()
	f := newFixtureWithStore(brokenStore{Store: mem}, mem)
	ctx := context.Background()

	g, err := NewGameService(mem, geo.NewEvaluator(0), testRetry()).Create(ctx, NewGame{
		Name:        "offline",
		PrizeAmount: decimal.NewFromInt(10),
		WinnerSlots: 1,
		Details:     &model.LocationDetails{Target: testTarget, AccuracyRadius: 10},
	})
	require.NoError(t, err)
	_, err = NewGameService(mem, geo.NewEvaluator(0), testRetry()).Launch(ctx, g.ID)
	require.NoError(t, err)

	_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: g.ID, UserID: "u", DeviceID: "d", Location: testTarget})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	stored, err := mem.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Winners)
}

func TestClaim_ConflictRetriesExhausted(t *testing.T) {
	mem := memstore.New()
	cs := &conflictStore{Store: mem}
	f := newFixtureWithStore(cs, mem)
	ctx := context.Background()

	g, err := NewGameService(mem, geo.NewEvaluator(0), testRetry()).Create(ctx, NewGame{
		Name:        "contended",
		PrizeAmount: decimal.NewFromInt(10),
		WinnerSlots: 1,
		Details:     &model.LocationDetails{Target: testTarget, AccuracyRadius: 10},
	})
	require.NoError(t, err)
	_, err = NewGameService(mem, geo.NewEvaluator(0), testRetry()).Launch(ctx, g.ID)
	require.NoError(t, err)

	_, err = f.settlement.Claim(ctx, ClaimRequest{GameID: g.ID, UserID: "u", DeviceID: "d", Location: testTarget})
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.Equal(t, testRetry().MaxAttempts, cs.calls)
}
