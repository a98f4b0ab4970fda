package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"treasure-hunt/internal/middleware"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/service"
)

type pushRequest struct {
	Recipient string `json:"recipient" binding:"required"`
}

// Eligibility answers whether the caller may still win a category today.
func (h *Handler) Eligibility(c *gin.Context) {
	category := model.Category(c.Query("category"))
	if !category.Valid() {
		writeError(c, service.ErrInvalidCategory)
		return
	}
	claims := caller(c)
	today := h.eligibility.Today()
	e := h.eligibility.Check(c.Request.Context(), claims.UserID, middleware.DeviceIDFromContext(c), category, today)
	c.JSON(http.StatusOK, gin.H{
		"category":   category,
		"date":       today,
		"eligible":   e.Eligible,
		"reason":     e.Reason,
		"failedOpen": e.FailedOpen,
	})
}

func (h *Handler) Balance(c *gin.Context) {
	b, err := h.accounts.GetBalance(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) RegisterPush(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
		return
	}
	if err := h.accounts.RegisterPushRecipient(c.Request.Context(), caller(c).UserID, req.Recipient); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
