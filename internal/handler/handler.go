// Package handler provides the HTTP API on top of the services.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/auth"
	"treasure-hunt/internal/middleware"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/pkg/lock"
	"treasure-hunt/internal/repository"
	"treasure-hunt/internal/service"
)

const healthTimeout = 2 * time.Second

// Services bundles what the handlers call into.
type Services struct {
	Store       repository.Store
	Games       *service.GameService
	Settlement  *service.SettlementService
	Finalizer   *service.FinalizerService
	Eligibility *service.EligibilityService
	Accounts    *service.AccountService
}

// Handler serves the HTTP API.
type Handler struct {
	store       repository.Store
	games       *service.GameService
	settlement  *service.SettlementService
	finalizer   *service.FinalizerService
	eligibility *service.EligibilityService
	accounts    *service.AccountService
	claimLocks  *lock.UserLock // keyed by user id
}

// NewHandler creates a new Handler.
func NewHandler(s Services) *Handler {
	return &Handler{
		store:       s.Store,
		games:       s.Games,
		settlement:  s.Settlement,
		finalizer:   s.Finalizer,
		eligibility: s.Eligibility,
		accounts:    s.Accounts,
		claimLocks:  lock.NewUserLock(),
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, jwt *auth.Manager) {
	r.GET("/api/health", h.Health)

	api := r.Group("/api")
	api.Use(middleware.JWT(jwt), middleware.DeviceID())

	api.GET("/games", h.ListGames)
	api.GET("/games/:id", h.GetGame)
	api.POST("/games/:id/evaluate", h.Evaluate)
	api.POST("/games/:id/claim", h.Claim)
	api.POST("/games/:id/scores", h.SubmitScore)
	api.GET("/games/:id/leaderboard", h.Leaderboard)
	api.GET("/eligibility", h.Eligibility)
	api.GET("/me/balance", h.Balance)
	api.PUT("/me/push", h.RegisterPush)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRole(auth.RoleAdmin))
	admin.POST("/games", h.AdminCreateGame)
	admin.GET("/games/:id/attempts", h.AdminAttempts)
	admin.POST("/games/:id/launch", h.AdminLaunch)
	admin.POST("/games/:id/pause", h.AdminPause)
	admin.POST("/games/:id/resume", h.AdminResume)
	admin.POST("/games/:id/complete", h.AdminComplete)
	admin.POST("/games/:id/finalize", h.AdminFinalize)
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// caller returns the authenticated user. JWT middleware guarantees claims
// on every /api route but the health check.
func caller(c *gin.Context) *auth.Claims {
	return middleware.ClaimsFromContext(c)
}

type coordinateRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lon *float64 `json:"lon" binding:"required"`
}

func (r coordinateRequest) coordinate() (model.Coordinate, bool) {
	lat, lon := *r.Lat, *r.Lon
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.Coordinate{}, false
	}
	return model.Coordinate{Latitude: lat, Longitude: lon}, true
}

func bindCoordinate(c *gin.Context) (model.Coordinate, bool) {
	var req coordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return model.Coordinate{}, false
	}
	coord, ok := req.coordinate()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinate out of bounds"})
		return model.Coordinate{}, false
	}
	return coord, true
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, err error) {
	var outOfRange *service.OutOfRangeError
	switch {
	case errors.As(err, &outOfRange):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "not close enough to claim",
			"code":       "out_of_range",
			"distance":   outOfRange.Distance,
			"metersToGo": outOfRange.MetersToGo,
			"radius":     outOfRange.Radius,
		})
	case errors.Is(err, service.ErrSlotsFull):
		c.JSON(http.StatusConflict, gin.H{"error": "all winner slots are taken", "code": "slots_full"})
	case errors.Is(err, service.ErrAlreadyWonToday):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": service.ReasonUserAlreadyWonToday})
	case errors.Is(err, service.ErrDeviceAlreadyWonToday):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": service.ReasonDeviceAlreadyWonToday})
	case errors.Is(err, service.ErrGameNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found", "code": "not_found"})
	case errors.Is(err, service.ErrGameNotLive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "game_not_live"})
	case errors.Is(err, service.ErrFinalizeInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "finalize_in_progress"})
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "invalid_state"})
	case errors.Is(err, service.ErrWrongGameKind),
		errors.Is(err, service.ErrInvalidGame),
		errors.Is(err, service.ErrInvalidScore),
		errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidRecipient):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
	case errors.Is(err, service.ErrTransactionConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too much contention, try again", "code": "conflict"})
	case errors.Is(err, service.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable, try again", "code": "unavailable"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
	_ = c.Error(err)
}
