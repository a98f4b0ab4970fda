package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"treasure-hunt/internal/model"
)

const gameColumns = `id, name, kind, status, prize_amount, winner_slots, details, winners, starts_at, version, created_at, updated_at`

// GameRepository handles game document persistence.
type GameRepository struct {
	q querier
}

// NewGameRepository creates a new GameRepository instance.
func NewGameRepository(q querier) *GameRepository {
	return &GameRepository{q: q}
}

// Create inserts a new game. The game's Version, CreatedAt and UpdatedAt are
// filled from the stored row.
func (r *GameRepository) Create(ctx context.Context, g *model.Game) error {
	const query = `
		INSERT INTO games (id, name, kind, status, prize_amount, winner_slots, details, winners, starts_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, NOW(), NOW())
		RETURNING version, created_at, updated_at
	`

	details, winners, err := encodeGame(g)
	if err != nil {
		return err
	}

	err = r.q.QueryRow(ctx, query,
		g.ID, g.Name, string(g.Kind()), string(g.Status), g.PrizeAmount, g.WinnerSlots, details, winners, g.StartsAt,
	).Scan(&g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", classify(err))
	}
	return nil
}

// GetByID retrieves a game by its ID.
// Returns ErrGameNotFound if the game does not exist.
func (r *GameRepository) GetByID(ctx context.Context, id string) (*model.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`

	g, err := scanGame(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return g, nil
}

// List returns games, newest first. An empty status returns every game.
func (r *GameRepository) List(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`

	rows, err := r.q.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []*model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating games: %w", err)
	}

	return games, nil
}

// Update writes the mutable fields of g if the stored version still equals
// g.Version. On success g.Version is advanced; on a stale version it returns
// ErrConflict and nothing is written.
func (r *GameRepository) Update(ctx context.Context, g *model.Game) error {
	const query = `
		UPDATE games
		SET name = $3, status = $4, prize_amount = $5, winner_slots = $6,
		    details = $7, winners = $8, starts_at = $9,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	details, winners, err := encodeGame(g)
	if err != nil {
		return err
	}

	err = r.q.QueryRow(ctx, query,
		g.ID, g.Version, g.Name, string(g.Status), g.PrizeAmount, g.WinnerSlots, details, winners, g.StartsAt,
	).Scan(&g.Version, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConflict
		}
		return fmt.Errorf("failed to update game: %w", classify(err))
	}
	return nil
}

func encodeGame(g *model.Game) (details, winners []byte, err error) {
	if g.Details == nil {
		return nil, nil, fmt.Errorf("game %s has no details", g.ID)
	}
	details, err = json.Marshal(g.Details)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode game details: %w", err)
	}
	w := g.Winners
	if w == nil {
		w = []model.Winner{}
	}
	winners, err = json.Marshal(w)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode winners: %w", err)
	}
	return details, winners, nil
}

func decodeDetails(kind model.GameKind, raw []byte) (model.GameDetails, error) {
	switch kind {
	case model.GameKindLocation:
		var d model.LocationDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case model.GameKindVirtual:
		var d model.VirtualDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}
	return nil, fmt.Errorf("unknown game kind %q", kind)
}

func scanGame(row pgx.Row) (*model.Game, error) {
	var (
		g       model.Game
		kind    string
		status  string
		details []byte
		winners []byte
	)
	err := row.Scan(
		&g.ID,
		&g.Name,
		&kind,
		&status,
		&g.PrizeAmount,
		&g.WinnerSlots,
		&details,
		&winners,
		&g.StartsAt,
		&g.Version,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Status = model.GameStatus(status)
	if g.Details, err = decodeDetails(model.GameKind(kind), details); err != nil {
		return nil, fmt.Errorf("failed to decode game %s details: %w", g.ID, err)
	}
	if err := json.Unmarshal(winners, &g.Winners); err != nil {
		return nil, fmt.Errorf("failed to decode game %s winners: %w", g.ID, err)
	}
	return &g, nil
}
