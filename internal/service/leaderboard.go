package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/repository"
)

// ScoreSubmission is one finished run of a virtual game.
type ScoreSubmission struct {
	UserID   string
	Username string
	DeviceID string
	Score    float64
}

// RankedEntry is a leaderboard entry with its 1-based rank.
type RankedEntry struct {
	Rank int `json:"rank"`
	model.LeaderboardEntry
}

// ScoreResult reports the user's standing after a submission.
type ScoreResult struct {
	Entry    model.LeaderboardEntry `json:"entry"`
	Improved bool                   `json:"improved"`
	Rank     int                    `json:"rank"`
}

// Better reports whether a beats b under mode.
func Better(mode model.ScoringMode, a, b float64) bool {
	if mode == model.ScoringLowerIsBetter {
		return a < b
	}
	return a > b
}

// RankLeaderboard returns the entries ordered best first. Ties keep their
// leaderboard order.
func RankLeaderboard(entries []model.LeaderboardEntry, mode model.ScoringMode) []model.LeaderboardEntry {
	ranked := append([]model.LeaderboardEntry(nil), entries...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Better(mode, ranked[i].Score, ranked[j].Score)
	})
	return ranked
}

// SubmitScore records a score for a live virtual game. Each user keeps only
// their best score; an improvement updates the entry where it already sits.
func (s *GameService) SubmitScore(ctx context.Context, gameID string, sub ScoreSubmission) (*ScoreResult, error) {
	if math.IsNaN(sub.Score) || math.IsInf(sub.Score, 0) {
		return nil, fmt.Errorf("%w: score must be finite", ErrInvalidScore)
	}
	if sub.Score < 0 {
		return nil, fmt.Errorf("%w: score must not be negative", ErrInvalidScore)
	}

	var result *ScoreResult
	err := retryOnConflict(ctx, s.retry, "submit_score", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			g, err := tx.GetGame(ctx, gameID)
			if err != nil {
				return err
			}
			v, ok := g.Virtual()
			if !ok {
				return ErrWrongGameKind
			}
			if g.Status != model.GameStatusLive {
				return ErrGameNotLive
			}

			entry, improved := applyScore(v, sub)
			if improved {
				if err := tx.UpdateGame(ctx, g); err != nil {
					return err
				}
			}
			result = &ScoreResult{
				Entry:    entry,
				Improved: improved,
				Rank:     rankOf(RankLeaderboard(v.Leaderboard, v.ScoringMode), sub.UserID),
			}
			return nil
		})
	})
	if err != nil {
		return nil, storeError(err)
	}

	log.Info().
		Str("game_id", gameID).
		Str("user_id", sub.UserID).
		Float64("score", sub.Score).
		Bool("improved", result.Improved).
		Int("rank", result.Rank).
		Msg("Score submitted")
	return result, nil
}

// applyScore merges sub into the leaderboard and returns the user's entry
// and whether anything changed.
func applyScore(v *model.VirtualDetails, sub ScoreSubmission) (model.LeaderboardEntry, bool) {
	username := strings.TrimSpace(sub.Username)
	for i := range v.Leaderboard {
		e := &v.Leaderboard[i]
		if e.UserID != sub.UserID {
			continue
		}
		if !Better(v.ScoringMode, sub.Score, e.Score) {
			return *e, false
		}
		e.Score = sub.Score
		if username != "" {
			e.Username = username
		}
		if sub.DeviceID != "" {
			e.DeviceID = sub.DeviceID
		}
		return *e, true
	}

	entry := model.LeaderboardEntry{
		UserID:   sub.UserID,
		Username: username,
		DeviceID: sub.DeviceID,
		Score:    sub.Score,
	}
	v.Leaderboard = append(v.Leaderboard, entry)
	return entry, true
}

func rankOf(ranked []model.LeaderboardEntry, userID string) int {
	for i, e := range ranked {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// Leaderboard returns the ranked leaderboard of a virtual game.
func (s *GameService) Leaderboard(ctx context.Context, gameID string) ([]RankedEntry, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, storeError(err)
	}
	v, ok := g.Virtual()
	if !ok {
		return nil, ErrWrongGameKind
	}

	ranked := RankLeaderboard(v.Leaderboard, v.ScoringMode)
	out := make([]RankedEntry, len(ranked))
	for i, e := range ranked {
		out[i] = RankedEntry{Rank: i + 1, LeaderboardEntry: e}
	}
	return out, nil
}
