package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/pkg/clock"
	"treasure-hunt/internal/repository"
)

// Reasons an identity is ineligible to win.
const (
	ReasonUserAlreadyWonToday   = "user_already_won_today"
	ReasonDeviceAlreadyWonToday = "device_already_won_today"
)

// Eligibility is the answer of the eligibility guard.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	// FailedOpen is set when the store could not be read and the answer
	// defaulted to eligible.
	FailedOpen bool `json:"failedOpen,omitempty"`
}

// Err converts an ineligible answer into the matching sentinel error.
func (e Eligibility) Err() error {
	switch {
	case e.Eligible:
		return nil
	case e.Reason == ReasonDeviceAlreadyWonToday:
		return ErrDeviceAlreadyWonToday
	default:
		return ErrAlreadyWonToday
	}
}

// EligibilityService answers whether a user may record a win of a category
// today. It is a pre-check; the settlement transaction enforces the cap.
type EligibilityService struct {
	store repository.Reader
	clock clock.Clock
}

// NewEligibilityService creates a new EligibilityService instance.
func NewEligibilityService(store repository.Reader, clk clock.Clock) *EligibilityService {
	return &EligibilityService{store: store, clock: clk}
}

// Today returns the date every daily-cap comparison uses.
func (s *EligibilityService) Today() string {
	return clock.Today(s.clock)
}

// CheckToday runs Check against the current date.
func (s *EligibilityService) CheckToday(ctx context.Context, userID, deviceID string, category model.Category) Eligibility {
	return s.Check(ctx, userID, deviceID, category, s.Today())
}

// Check answers for a specific date. Store failures fail open.
func (s *EligibilityService) Check(ctx context.Context, userID, deviceID string, category model.Category, today string) Eligibility {
	e, err := lookupEligibility(ctx, s.store, userID, deviceID, category, today)
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("device_id", deviceID).
			Str("category", string(category)).
			Msg("Eligibility check failed, allowing")
		return Eligibility{Eligible: true, FailedOpen: true}
	}
	return e
}

// lookupEligibility reads the balance stamp and the device marker. It is
// also run inside settlement transactions, where store errors must not be
// swallowed.
func lookupEligibility(ctx context.Context, r repository.Reader, userID, deviceID string, category model.Category, today string) (Eligibility, error) {
	balance, err := r.GetBalance(ctx, userID)
	switch {
	case err == nil:
		if balance.LastWinDate(category) == today {
			return Eligibility{Reason: ReasonUserAlreadyWonToday}, nil
		}
	case errors.Is(err, repository.ErrUserNotFound):
		// Never won anything.
	default:
		return Eligibility{}, err
	}

	marker, err := r.GetDailyWin(ctx, today, model.DeviceKey(deviceID, userID), category)
	switch {
	case err == nil:
		if marker.UserID != userID {
			return Eligibility{Reason: ReasonDeviceAlreadyWonToday}, nil
		}
	case errors.Is(err, repository.ErrDailyWinNotFound):
	default:
		return Eligibility{}, err
	}

	return Eligibility{Eligible: true}, nil
}
