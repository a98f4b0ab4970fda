package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/middleware"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/service"
)

// publicGame hides other players' device ids.
func publicGame(g *model.Game) *model.Game {
	v, ok := g.Virtual()
	if !ok {
		return g
	}
	out := g.Clone()
	v, _ = out.Virtual()
	for i := range v.Leaderboard {
		v.Leaderboard[i].DeviceID = ""
	}
	return out
}

func (h *Handler) ListGames(c *gin.Context) {
	games, err := h.games.List(c.Request.Context(), model.GameStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]*model.Game, 0, len(games))
	for _, g := range games {
		out = append(out, publicGame(g))
	}
	c.JSON(http.StatusOK, gin.H{"games": out})
}

func (h *Handler) GetGame(c *gin.Context) {
	g, err := h.games.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicGame(g))
}

func (h *Handler) Evaluate(c *gin.Context) {
	coord, ok := bindCoordinate(c)
	if !ok {
		return
	}
	ev, err := h.games.Evaluate(c.Request.Context(), c.Param("id"), coord)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Claim settles a location game win. One claim per user runs at a time;
// a second concurrent claim from the same user is turned away.
func (h *Handler) Claim(c *gin.Context) {
	claims := caller(c)
	deviceID := middleware.DeviceIDFromContext(c)
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + middleware.DeviceIDHeader + " header"})
		return
	}
	coord, ok := bindCoordinate(c)
	if !ok {
		return
	}

	if !h.claimLocks.TryLock(claims.UserID) {
		log.Debug().Str("user_id", claims.UserID).Msg("Concurrent claim rejected")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "a claim is already in progress"})
		return
	}
	defer h.claimLocks.Unlock(claims.UserID)

	res, err := h.settlement.Claim(c.Request.Context(), service.ClaimRequest{
		GameID:   c.Param("id"),
		UserID:   claims.UserID,
		DeviceID: deviceID,
		Location: coord,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
