package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/notify"
	"treasure-hunt/internal/pkg/clock"
	"treasure-hunt/internal/pkg/lock"
	"treasure-hunt/internal/repository"
)

const (
	// DefaultNotifyTimeout bounds each winner notification.
	DefaultNotifyTimeout = 5 * time.Second
	// DefaultFinalizeWait bounds how long Finalize queues behind another
	// run for the same game.
	DefaultFinalizeWait = 2 * time.Second
)

// errAlreadyAwarded means the candidate already holds a position in the game.
var errAlreadyAwarded = errors.New("candidate already awarded")

var hundred = decimal.NewFromInt(100)

// Payout returns round(prize * pct / 100) in whole units.
func Payout(prize decimal.Decimal, pct float64) decimal.Decimal {
	return prize.Mul(decimal.NewFromFloat(pct)).Div(hundred).Round(0)
}

// SkippedCandidate is a leaderboard entry passed over by the finalizer.
type SkippedCandidate struct {
	UserID string `json:"userId"`
	Rank   int    `json:"rank"`
	Reason string `json:"reason"`
}

// FailedCandidate is a leaderboard entry whose settlement errored.
type FailedCandidate struct {
	UserID string `json:"userId"`
	Rank   int    `json:"rank"`
	Error  string `json:"error"`
}

// FinalizeReport is the outcome of finalizing a virtual game.
type FinalizeReport struct {
	GameID  string             `json:"gameId"`
	Winners []model.Winner     `json:"winners"`
	Skipped []SkippedCandidate `json:"skipped"`
	Failed  []FailedCandidate  `json:"failed"`
	// ShortFall is the number of slots left unawarded.
	ShortFall int `json:"shortFall"`
}

// FinalizerService turns a virtual game's leaderboard into paid winners.
type FinalizerService struct {
	store         repository.Store
	eligibility   *EligibilityService
	dispatcher    notify.Dispatcher
	clock         clock.Clock
	retry         RetryPolicy
	notifyTimeout time.Duration

	locks    *lock.UserLock // keyed by game id
	lockWait time.Duration
	pending  sync.WaitGroup
}

// NewFinalizerService creates a new FinalizerService instance.
func NewFinalizerService(
	store repository.Store,
	eligibility *EligibilityService,
	dispatcher notify.Dispatcher,
	clk clock.Clock,
	retry RetryPolicy,
) *FinalizerService {
	return &FinalizerService{
		store:         store,
		eligibility:   eligibility,
		dispatcher:    dispatcher,
		clock:         clk,
		retry:         retry,
		notifyTimeout: DefaultNotifyTimeout,
		locks:         lock.NewUserLock(),
		lockWait:      DefaultFinalizeWait,
	}
}

// Finalize walks the ranked leaderboard, skipping candidates who already
// won battle royale today, and awards positions 1..winnerSlots in order.
// Each award commits on its own; one failing candidate doesn't stop the
// rest. The game is then marked completed and winners are notified in the
// background.
//
// Calls for the same game run one at a time. A call that waits longer than
// the finalize wait gets ErrFinalizeInProgress.
func (s *FinalizerService) Finalize(ctx context.Context, gameID string) (*FinalizeReport, error) {
	var report *FinalizeReport
	err := s.locks.WithLockContext(ctx, gameID, s.lockWait, func() error {
		var err error
		report, err = s.finalize(ctx, gameID)
		return err
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrFinalizeInProgress
	}
	return report, err
}

func (s *FinalizerService) finalize(ctx context.Context, gameID string) (*FinalizeReport, error) {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeError(err)
	}
	v, ok := game.Virtual()
	if !ok {
		return nil, ErrWrongGameKind
	}
	switch game.Status {
	case model.GameStatusCompleted:
		return nil, ErrAlreadyFinalized
	case model.GameStatusLive, model.GameStatusInactive:
	default:
		return nil, ErrGameNotLive
	}

	now := s.clock.Now()
	today := now.Format(clock.DateLayout)

	report := &FinalizeReport{
		GameID:  game.ID,
		Winners: append([]model.Winner{}, game.Winners...),
		Skipped: []SkippedCandidate{},
		Failed:  []FailedCandidate{},
	}
	var notes []winnerNote

	ranked := RankLeaderboard(v.Leaderboard, v.ScoringMode)
candidates:
	for i, c := range ranked {
		if len(report.Winners) >= game.WinnerSlots {
			break
		}
		rank := i + 1
		if _, ok := game.Winner(c.UserID); ok {
			// Awarded by an earlier, interrupted run.
			continue
		}

		logger := log.With().
			Str("game_id", game.ID).
			Str("user_id", c.UserID).
			Int("rank", rank).
			Logger()

		if e := s.eligibility.Check(ctx, c.UserID, c.DeviceID, model.CategoryBattleRoyale, today); !e.Eligible {
			logger.Info().Str("reason", e.Reason).Msg("Finalizer skipped ineligible candidate")
			report.Skipped = append(report.Skipped, SkippedCandidate{UserID: c.UserID, Rank: rank, Reason: e.Reason})
			continue
		}

		w, balance, err := s.award(ctx, game.ID, c, now, today)
		switch {
		case err == nil:
		case errors.Is(err, errAlreadyAwarded):
			logger.Info().Msg("Finalizer skipped candidate awarded by another run")
			continue
		case errors.Is(err, ErrAlreadyWonToday):
			logger.Info().Msg("Finalizer skipped candidate who won meanwhile")
			report.Skipped = append(report.Skipped, SkippedCandidate{UserID: c.UserID, Rank: rank, Reason: ReasonUserAlreadyWonToday})
			continue
		case errors.Is(err, ErrDeviceAlreadyWonToday):
			logger.Info().Msg("Finalizer skipped candidate whose device won meanwhile")
			report.Skipped = append(report.Skipped, SkippedCandidate{UserID: c.UserID, Rank: rank, Reason: ReasonDeviceAlreadyWonToday})
			continue
		case errors.Is(err, ErrSlotsFull):
			logger.Info().Msg("Finalizer found every slot taken by another run")
			break candidates
		case errors.Is(err, ErrAlreadyFinalized):
			return report, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return report, err
		default:
			logger.Error().Err(err).Msg("Finalizer failed to settle candidate")
			report.Failed = append(report.Failed, FailedCandidate{UserID: c.UserID, Rank: rank, Error: err.Error()})
			continue
		}

		report.Winners = append(report.Winners, *w)
		logger.Info().
			Int("position", w.Position).
			Str("payout", w.Payout.String()).
			Msg("Finalizer awarded position")
		if s.dispatcher != nil && balance != nil && balance.PushRecipient != "" {
			notes = append(notes, winnerNote{
				recipient: balance.PushRecipient,
				userID:    w.UserID,
				position:  w.Position,
				message:   fmt.Sprintf("🏆 You finished #%d in %s and won %s!", w.Position, game.Name, w.Payout.String()),
			})
		}
	}

	stored, err := s.markCompleted(ctx, game.ID)
	if err != nil {
		return report, err
	}
	// The stored list includes winners awarded by overlapping runs.
	report.Winners = append([]model.Winner{}, stored.Winners...)
	s.notifyWinners(ctx, notes)

	report.ShortFall = game.WinnerSlots - len(report.Winners)
	if report.ShortFall > 0 {
		log.Warn().
			Str("game_id", game.ID).
			Int("awarded", len(report.Winners)).
			Int("slots", game.WinnerSlots).
			Int("candidates", len(ranked)).
			Msg("Finalizer could not fill every slot")
	} else {
		log.Info().
			Str("game_id", game.ID).
			Int("awarded", len(report.Winners)).
			Msg("Game finalized")
	}
	return report, nil
}

// award settles one candidate in its own transaction.
func (s *FinalizerService) award(ctx context.Context, gameID string, c model.LeaderboardEntry, now time.Time, today string) (*model.Winner, *model.UserBalance, error) {
	var (
		winner  *model.Winner
		balance *model.UserBalance
	)
	err := retryOnConflict(ctx, s.retry, "finalize_award", func(ctx context.Context) error {
		winner, balance = nil, nil
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			g, err := tx.GetGame(ctx, gameID)
			if err != nil {
				return err
			}
			if g.Status == model.GameStatusCompleted {
				return ErrAlreadyFinalized
			}
			if _, ok := g.Winner(c.UserID); ok {
				return errAlreadyAwarded
			}
			if g.IsFull() {
				return ErrSlotsFull
			}
			v, ok := g.Virtual()
			if !ok {
				return ErrWrongGameKind
			}

			e, err := lookupEligibility(ctx, tx, c.UserID, c.DeviceID, model.CategoryBattleRoyale, today)
			if err != nil {
				return err
			}
			if !e.Eligible {
				return e.Err()
			}

			position := len(g.Winners) + 1
			w := model.Winner{
				UserID:      c.UserID,
				Position:    position,
				CompletedAt: now,
				Payout:      Payout(g.PrizeAmount, v.PrizeDistribution[position]),
			}
			g.Winners = append(g.Winners, w)
			if err := tx.UpdateGame(ctx, g); err != nil {
				return err
			}
			if err := tx.InsertDailyWin(ctx, &model.DailyWin{
				Date:        today,
				DeviceID:    model.DeviceKey(c.DeviceID, c.UserID),
				Category:    model.CategoryBattleRoyale,
				UserID:      c.UserID,
				GameID:      g.ID,
				GameName:    g.Name,
				PrizeAmount: w.Payout,
			}); err != nil {
				return err
			}
			b, err := tx.Credit(ctx, repository.Credit{
				UserID:   c.UserID,
				Amount:   w.Payout,
				Category: model.CategoryBattleRoyale,
				Date:     today,
			})
			if err != nil {
				return err
			}
			winner, balance = &w, b
			return nil
		})
	})
	if err != nil {
		return nil, nil, storeError(err)
	}
	return winner, balance, nil
}

func (s *FinalizerService) markCompleted(ctx context.Context, gameID string) (*model.Game, error) {
	var stored *model.Game
	err := retryOnConflict(ctx, s.retry, "finalize_complete", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			g, err := tx.GetGame(ctx, gameID)
			if err != nil {
				return err
			}
			stored = g
			if g.Status == model.GameStatusCompleted {
				return nil
			}
			g.Status = model.GameStatusCompleted
			return tx.UpdateGame(ctx, g)
		})
	})
	if err != nil {
		return nil, storeError(fmt.Errorf("failed to mark game completed: %w", err))
	}
	return stored, nil
}

type winnerNote struct {
	recipient string
	userID    string
	position  int
	message   string
}

// notifyWinners sends notes from a goroutine once settlement is committed.
// Each send gets its own timeout and outlives the caller's context.
func (s *FinalizerService) notifyWinners(ctx context.Context, notes []winnerNote) {
	if len(notes) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		for _, n := range notes {
			s.notify(ctx, n)
		}
	}()
}

// notify is fire-and-forget; failures are logged only.
func (s *FinalizerService) notify(ctx context.Context, n winnerNote) {
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if err := s.dispatcher.Send(ctx, n.recipient, n.message); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", n.userID).
			Int("position", n.position).
			Msg("Failed to notify winner")
	}
}

// Wait blocks until notifications queued by earlier Finalize calls are done.
func (s *FinalizerService) Wait() {
	s.pending.Wait()
}

// SetNotifyTimeout overrides DefaultNotifyTimeout. Non-positive values are ignored.
func (s *FinalizerService) SetNotifyTimeout(d time.Duration) {
	if d > 0 {
		s.notifyTimeout = d
	}
}

// SetFinalizeWait overrides DefaultFinalizeWait. Non-positive values are ignored.
func (s *FinalizerService) SetFinalizeWait(d time.Duration) {
	if d > 0 {
		s.lockWait = d
	}
}
