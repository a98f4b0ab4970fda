package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"treasure-hunt/internal/middleware"
	"treasure-hunt/internal/service"
)

type scoreRequest struct {
	Score    *float64 `json:"score" binding:"required"`
	Username string   `json:"username"`
}

type leaderboardRow struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

func (h *Handler) SubmitScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score is required"})
		return
	}
	claims := caller(c)
	username := req.Username
	if username == "" {
		username = claims.Username
	}

	res, err := h.games.SubmitScore(c.Request.Context(), c.Param("id"), service.ScoreSubmission{
		UserID:   claims.UserID,
		Username: username,
		DeviceID: middleware.DeviceIDFromContext(c),
		Score:    *req.Score,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	res.Entry.DeviceID = ""
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	ranked, err := h.games.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	rows := make([]leaderboardRow, 0, len(ranked))
	for _, e := range ranked {
		rows = append(rows, leaderboardRow{Rank: e.Rank, UserID: e.UserID, Username: e.Username, Score: e.Score})
	}
	c.JSON(http.StatusOK, gin.H{"gameId": c.Param("id"), "leaderboard": rows})
}
