package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/service"
)

const defaultAttemptLimit = 100

type createGameRequest struct {
	Name        string          `json:"name"`
	Kind        model.GameKind  `json:"kind"`
	PrizeAmount decimal.Decimal `json:"prizeAmount"`
	WinnerSlots int             `json:"winnerSlots"`
	StartsAt    *time.Time      `json:"startsAt"`

	// location
	Target         *model.Coordinate `json:"target"`
	AccuracyRadius float64           `json:"accuracyRadius"`

	// virtual
	ScoringMode       model.ScoringMode `json:"scoringMode"`
	PrizeDistribution map[int]float64   `json:"prizeDistribution"`
}

func (r createGameRequest) toNewGame() (service.NewGame, error) {
	in := service.NewGame{
		Name:        r.Name,
		PrizeAmount: r.PrizeAmount,
		WinnerSlots: r.WinnerSlots,
		StartsAt:    r.StartsAt,
	}
	switch r.Kind {
	case model.GameKindLocation:
		if r.Target == nil {
			return in, fmt.Errorf("%w: target is required", service.ErrInvalidGame)
		}
		in.Details = &model.LocationDetails{Target: *r.Target, AccuracyRadius: r.AccuracyRadius}
	case model.GameKindVirtual:
		in.Details = &model.VirtualDetails{ScoringMode: r.ScoringMode, PrizeDistribution: r.PrizeDistribution}
	default:
		return in, fmt.Errorf("%w: unknown kind %q", service.ErrInvalidGame, r.Kind)
	}
	return in, nil
}

func (h *Handler) AdminCreateGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	in, err := req.toNewGame()
	if err != nil {
		writeError(c, err)
		return
	}
	g, err := h.games.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) AdminAttempts(c *gin.Context) {
	limit := defaultAttemptLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	attempts, err := h.games.Attempts(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (h *Handler) AdminLaunch(c *gin.Context)   { h.transition(c, h.games.Launch) }
func (h *Handler) AdminPause(c *gin.Context)    { h.transition(c, h.games.Pause) }
func (h *Handler) AdminResume(c *gin.Context)   { h.transition(c, h.games.Resume) }
func (h *Handler) AdminComplete(c *gin.Context) { h.transition(c, h.games.Complete) }

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, id string) (*model.Game, error)) {
	g, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// AdminFinalize runs the finalizer. A call queued behind another run of
// the same game for too long gets 409.
func (h *Handler) AdminFinalize(c *gin.Context) {
	report, err := h.finalizer.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
