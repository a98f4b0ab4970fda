package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"treasure-hunt/internal/geo"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/odds"
	"treasure-hunt/internal/repository"
)

// NewGame is the admin input for creating a game.
type NewGame struct {
	Name        string
	PrizeAmount decimal.Decimal
	WinnerSlots int
	StartsAt    *time.Time
	Details     model.GameDetails
}

// Evaluation is the read-only proximity view of a location game.
type Evaluation struct {
	geo.Reading
	GameID         string           `json:"gameId"`
	Status         model.GameStatus `json:"status"`
	Odds           int              `json:"odds"`
	SlotsRemaining int              `json:"slotsRemaining"`
}

// GameService manages the game lifecycle, proximity views and leaderboards.
type GameService struct {
	store     repository.Store
	evaluator *geo.Evaluator
	retry     RetryPolicy
	newID     func() string
}

// NewGameService creates a new GameService instance.
func NewGameService(store repository.Store, evaluator *geo.Evaluator, retry RetryPolicy) *GameService {
	return &GameService{
		store:     store,
		evaluator: evaluator,
		retry:     retry,
		newID:     uuid.NewString,
	}
}

// Create validates and stores a new game. Games start pending, or
// scheduled when StartsAt is set.
func (s *GameService) Create(ctx context.Context, in NewGame) (*model.Game, error) {
	if err := validateNewGame(in); err != nil {
		return nil, err
	}

	game := &model.Game{
		ID:          s.newID(),
		Name:        strings.TrimSpace(in.Name),
		Status:      model.GameStatusPending,
		PrizeAmount: in.PrizeAmount,
		WinnerSlots: in.WinnerSlots,
		Details:     in.Details,
		Winners:     []model.Winner{},
		StartsAt:    in.StartsAt,
	}
	if in.StartsAt != nil {
		game.Status = model.GameStatusScheduled
	}
	if v, ok := game.Virtual(); ok {
		v.Leaderboard = []model.LeaderboardEntry{}
	}

	if err := s.store.CreateGame(ctx, game); err != nil {
		return nil, storeError(fmt.Errorf("failed to create game: %w", err))
	}

	log.Info().
		Str("game_id", game.ID).
		Str("kind", string(game.Kind())).
		Str("status", string(game.Status)).
		Int("winner_slots", game.WinnerSlots).
		Str("prize_amount", game.PrizeAmount.String()).
		Msg("Game created")
	return game, nil
}

func validateNewGame(in NewGame) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGame)
	}
	if !in.PrizeAmount.IsPositive() {
		return fmt.Errorf("%w: prize amount must be positive", ErrInvalidGame)
	}
	if in.WinnerSlots < 1 {
		return fmt.Errorf("%w: at least one winner slot is required", ErrInvalidGame)
	}

	switch d := in.Details.(type) {
	case *model.LocationDetails:
		if d == nil {
			return fmt.Errorf("%w: missing location details", ErrInvalidGame)
		}
		if !(d.AccuracyRadius > 0) || math.IsInf(d.AccuracyRadius, 0) {
			return fmt.Errorf("%w: accuracy radius must be positive", ErrInvalidGame)
		}
		if d.Target.Latitude < -90 || d.Target.Latitude > 90 {
			return fmt.Errorf("%w: latitude out of range", ErrInvalidGame)
		}
		if d.Target.Longitude < -180 || d.Target.Longitude > 180 {
			return fmt.Errorf("%w: longitude out of range", ErrInvalidGame)
		}
	case *model.VirtualDetails:
		if d == nil {
			return fmt.Errorf("%w: missing virtual details", ErrInvalidGame)
		}
		if d.ScoringMode != model.ScoringLowerIsBetter && d.ScoringMode != model.ScoringHigherIsBetter {
			return fmt.Errorf("%w: unknown scoring mode %q", ErrInvalidGame, d.ScoringMode)
		}
		if len(d.PrizeDistribution) != in.WinnerSlots {
			return fmt.Errorf("%w: prize distribution must cover positions 1..%d", ErrInvalidGame, in.WinnerSlots)
		}
		for pos := 1; pos <= in.WinnerSlots; pos++ {
			pct, ok := d.PrizeDistribution[pos]
			if !ok {
				return fmt.Errorf("%w: prize distribution missing position %d", ErrInvalidGame, pos)
			}
			if pct < 0 || pct > 100 {
				return fmt.Errorf("%w: prize percent for position %d out of range", ErrInvalidGame, pos)
			}
		}
	default:
		return fmt.Errorf("%w: unknown game kind", ErrInvalidGame)
	}
	return nil
}

// Get returns a game by id.
func (s *GameService) Get(ctx context.Context, id string) (*model.Game, error) {
	g, err := s.store.GetGame(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return g, nil
}

// List returns games, optionally filtered by status.
func (s *GameService) List(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidGame, status)
	}
	games, err := s.store.ListGames(ctx, status)
	if err != nil {
		return nil, storeError(err)
	}
	return games, nil
}

// Launch makes a pending or scheduled game live.
func (s *GameService) Launch(ctx context.Context, id string) (*model.Game, error) {
	return s.transition(ctx, id, model.GameStatusLive, model.GameStatusPending, model.GameStatusScheduled)
}

// Pause takes a live game offline without ending it.
func (s *GameService) Pause(ctx context.Context, id string) (*model.Game, error) {
	return s.transition(ctx, id, model.GameStatusInactive, model.GameStatusLive)
}

// Resume makes a paused game live again.
func (s *GameService) Resume(ctx context.Context, id string) (*model.Game, error) {
	return s.transition(ctx, id, model.GameStatusLive, model.GameStatusInactive)
}

// Complete ends a location game. Virtual games end through the finalizer.
func (s *GameService) Complete(ctx context.Context, id string) (*model.Game, error) {
	return s.transition(ctx, id, model.GameStatusCompleted, model.GameStatusLive, model.GameStatusInactive)
}

func (s *GameService) transition(ctx context.Context, id string, to model.GameStatus, from ...model.GameStatus) (*model.Game, error) {
	var out *model.Game
	err := retryOnConflict(ctx, s.retry, "transition", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			g, err := tx.GetGame(ctx, id)
			if err != nil {
				return err
			}
			if to == model.GameStatusCompleted && g.Kind() == model.GameKindVirtual {
				return ErrWrongGameKind
			}
			if !statusIn(g.Status, from) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, to)
			}
			g.Status = to
			if err := tx.UpdateGame(ctx, g); err != nil {
				return err
			}
			out = g
			return nil
		})
	})
	if err != nil {
		return nil, storeError(err)
	}

	log.Info().
		Str("game_id", id).
		Str("status", string(to)).
		Msg("Game status changed")
	return out, nil
}

func statusIn(s model.GameStatus, set []model.GameStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Evaluate measures a device position against a location game. Read-only.
func (s *GameService) Evaluate(ctx context.Context, id string, user model.Coordinate) (*Evaluation, error) {
	g, err := s.store.GetGame(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	loc, ok := g.Location()
	if !ok {
		return nil, ErrWrongGameKind
	}

	reading := s.evaluator.Evaluate(user, loc)
	return &Evaluation{
		Reading:        reading,
		GameID:         g.ID,
		Status:         g.Status,
		Odds:           odds.Estimate(reading.Proximity, len(g.Winners), g.WinnerSlots),
		SlotsRemaining: g.SlotsRemaining(),
	}, nil
}

// Attempts returns the most recent claim attempts of a game.
func (s *GameService) Attempts(ctx context.Context, id string, limit int) ([]model.Attempt, error) {
	if _, err := s.store.GetGame(ctx, id); err != nil {
		return nil, storeError(err)
	}
	attempts, err := s.store.ListAttempts(ctx, id, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return attempts, nil
}
