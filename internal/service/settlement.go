package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"treasure-hunt/internal/geo"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/pkg/clock"
	"treasure-hunt/internal/repository"
)

// ClaimStatus is the non-error outcome of a claim.
type ClaimStatus string

const (
	ClaimStatusWon        ClaimStatus = "won"
	ClaimStatusAlreadyWon ClaimStatus = "already_won"
)

// ClaimRequest asks for a winner slot of a location game. The distance is
// computed from Location; callers never supply it.
type ClaimRequest struct {
	GameID   string
	UserID   string
	DeviceID string
	Location model.Coordinate
}

// ClaimResult describes a granted (or previously granted) slot.
type ClaimResult struct {
	Status         ClaimStatus        `json:"status"`
	GameID         string             `json:"gameId"`
	Position       int                `json:"position"`
	Payout         decimal.Decimal    `json:"payout"`
	Distance       float64            `json:"distance"`
	CompletedAt    time.Time          `json:"completedAt"`
	SlotsRemaining int                `json:"slotsRemaining"`
	Balance        *model.UserBalance `json:"balance,omitempty"`
}

// SettlementService settles location games. It is the only place the
// winner-slot cap of a location game is enforced.
type SettlementService struct {
	store       repository.Store
	eligibility *EligibilityService
	evaluator   *geo.Evaluator
	clock       clock.Clock
	retry       RetryPolicy
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(
	store repository.Store,
	eligibility *EligibilityService,
	evaluator *geo.Evaluator,
	clk clock.Clock,
	retry RetryPolicy,
) *SettlementService {
	return &SettlementService{
		store:       store,
		eligibility: eligibility,
		evaluator:   evaluator,
		clock:       clk,
		retry:       retry,
	}
}

// Claim tries to take the next winner slot for the caller.
//
// Out of range returns *OutOfRangeError and changes nothing but the audit
// trail. A caller already among the winners gets ClaimStatusAlreadyWon and
// is not credited again. Otherwise the winner append, the balance credit,
// the daily win marker and the last-win stamp commit together; write
// conflicts re-run the whole transaction.
func (s *SettlementService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	game, err := s.store.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, storeError(err)
	}
	loc, ok := game.Location()
	if !ok {
		return nil, ErrWrongGameKind
	}

	// Idempotent re-affirmation, from anywhere and in any status.
	if w, ok := game.Winner(req.UserID); ok {
		return alreadyWon(game, w), nil
	}
	if game.Status == model.GameStatusCompleted && game.IsFull() {
		return nil, ErrSlotsFull
	}
	if game.Status != model.GameStatusLive {
		return nil, ErrGameNotLive
	}

	// One instant for the whole operation so the day can't roll over
	// between the pre-check and the commit.
	now := s.clock.Now()
	today := now.Format(clock.DateLayout)

	reading := s.evaluator.Evaluate(req.Location, loc)
	attempt := model.Attempt{
		UserID:      req.UserID,
		AttemptedAt: now,
		Distance:    reading.Distance,
		Location:    req.Location,
	}

	if !reading.InRange {
		if err := s.store.InsertAttempt(ctx, game.ID, attempt); err != nil {
			log.Warn().Err(err).Str("game_id", game.ID).Msg("Failed to record attempt")
		}
		log.Info().
			Str("game_id", game.ID).
			Str("user_id", req.UserID).
			Float64("distance", reading.Distance).
			Float64("radius", loc.AccuracyRadius).
			Msg("Claim out of range")
		return nil, &OutOfRangeError{
			Distance:   reading.Distance,
			Radius:     loc.AccuracyRadius,
			MetersToGo: reading.MetersToGo,
		}
	}

	if e := s.eligibility.Check(ctx, req.UserID, req.DeviceID, model.CategoryPhysical, today); !e.Eligible {
		log.Info().
			Str("game_id", game.ID).
			Str("user_id", req.UserID).
			Str("device_id", req.DeviceID).
			Str("reason", e.Reason).
			Msg("Claim rejected by daily cap")
		return nil, e.Err()
	}

	var result *ClaimResult
	err = retryOnConflict(ctx, s.retry, "claim", func(ctx context.Context) error {
		result = nil
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			r, err := s.settle(ctx, tx, req, attempt, today)
			result = r
			return err
		})
	})
	if err != nil {
		if !errors.Is(err, ErrSlotsFull) && !errors.Is(err, ErrGameNotLive) {
			log.Warn().
				Err(err).
				Str("game_id", req.GameID).
				Str("user_id", req.UserID).
				Msg("Claim failed")
		}
		return nil, storeError(err)
	}

	log.Info().
		Str("game_id", req.GameID).
		Str("user_id", req.UserID).
		Str("device_id", req.DeviceID).
		Str("status", string(result.Status)).
		Int("position", result.Position).
		Float64("distance", result.Distance).
		Msg("Claim settled")
	return result, nil
}

// settle is one run of the read-modify-write. It must only touch tx.
func (s *SettlementService) settle(ctx context.Context, tx repository.Tx, req ClaimRequest, attempt model.Attempt, today string) (*ClaimResult, error) {
	game, err := tx.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if w, ok := game.Winner(req.UserID); ok {
		return alreadyWon(game, w), nil
	}
	if game.IsFull() {
		return nil, ErrSlotsFull
	}
	if game.Status != model.GameStatusLive {
		return nil, ErrGameNotLive
	}

	// The daily cap is re-read here; the marker insert below is the
	// authoritative check.
	e, err := lookupEligibility(ctx, tx, req.UserID, req.DeviceID, model.CategoryPhysical, today)
	if err != nil {
		return nil, err
	}
	if !e.Eligible {
		return nil, e.Err()
	}

	winner := model.Winner{
		UserID:      req.UserID,
		Position:    len(game.Winners) + 1,
		CompletedAt: attempt.AttemptedAt,
		Distance:    attempt.Distance,
		Payout:      game.PrizeAmount,
	}
	game.Winners = append(game.Winners, winner)
	if game.IsFull() {
		game.Status = model.GameStatusCompleted
	}

	if err := tx.UpdateGame(ctx, game); err != nil {
		return nil, err
	}
	if err := tx.InsertAttempt(ctx, game.ID, attempt); err != nil {
		return nil, err
	}
	if err := tx.InsertDailyWin(ctx, &model.DailyWin{
		Date:        today,
		DeviceID:    model.DeviceKey(req.DeviceID, req.UserID),
		Category:    model.CategoryPhysical,
		UserID:      req.UserID,
		GameID:      game.ID,
		GameName:    game.Name,
		PrizeAmount: winner.Payout,
	}); err != nil {
		return nil, err
	}
	balance, err := tx.Credit(ctx, repository.Credit{
		UserID:   req.UserID,
		Amount:   winner.Payout,
		Category: model.CategoryPhysical,
		Date:     today,
	})
	if err != nil {
		return nil, err
	}

	return &ClaimResult{
		Status:         ClaimStatusWon,
		GameID:         game.ID,
		Position:       winner.Position,
		Payout:         winner.Payout,
		Distance:       winner.Distance,
		CompletedAt:    winner.CompletedAt,
		SlotsRemaining: game.SlotsRemaining(),
		Balance:        balance,
	}, nil
}

func alreadyWon(game *model.Game, w model.Winner) *ClaimResult {
	return &ClaimResult{
		Status:         ClaimStatusAlreadyWon,
		GameID:         game.ID,
		Position:       w.Position,
		Payout:         w.Payout,
		Distance:       w.Distance,
		CompletedAt:    w.CompletedAt,
		SlotsRemaining: game.SlotsRemaining(),
	}
}

// storeError maps repository errors onto the service taxonomy. Domain
// outcomes pass through; anything unrecognised is a store failure.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrGameNotFound):
		return ErrGameNotFound
	case errors.Is(err, repository.ErrDailyWinUserTaken):
		return ErrAlreadyWonToday
	case errors.Is(err, repository.ErrDailyWinDeviceTaken):
		return ErrDeviceAlreadyWonToday
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	for _, known := range []error{
		ErrSlotsFull, ErrGameNotLive, ErrWrongGameKind, ErrAlreadyWonToday,
		ErrDeviceAlreadyWonToday, ErrTransactionConflict, ErrInvalidTransition,
		ErrAlreadyFinalized, ErrInvalidGame, ErrInvalidScore, ErrOutOfRange,
		ErrGameNotFound, ErrInvalidCategory, errAlreadyAwarded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
