package service

import (
	"errors"
	"fmt"
)

// Claim outcomes that reject a request.
var (
	// ErrOutOfRange means the device is farther from the target than the
	// accuracy radius. Returned wrapped in *OutOfRangeError.
	ErrOutOfRange = errors.New("out of range")
	// ErrSlotsFull means every winner slot of the game is taken.
	ErrSlotsFull = errors.New("all winner slots are taken")
	// ErrTransactionConflict means concurrent writers kept winning the race
	// until the retry budget ran out.
	ErrTransactionConflict = errors.New("transaction conflict: retries exhausted")
	// ErrStoreUnavailable means the store failed; the claim is rejected.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyWonToday and ErrDeviceAlreadyWonToday reject a win that
	// would break the daily cap of its category.
	ErrAlreadyWonToday       = errors.New("user already won this category today")
	ErrDeviceAlreadyWonToday = errors.New("device already won this category today")
)

// Game errors.
var (
	ErrGameNotFound      = errors.New("game not found")
	ErrGameNotLive       = errors.New("game is not live")
	ErrWrongGameKind     = errors.New("operation not supported for this game kind")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyFinalized  = errors.New("game already finalized")
	// ErrFinalizeInProgress means another finalize run holds the game.
	ErrFinalizeInProgress = errors.New("finalize already running")
	ErrInvalidGame        = errors.New("invalid game")
	ErrInvalidScore       = errors.New("invalid score")
	ErrInvalidCategory    = errors.New("invalid category")
)

// OutOfRangeError carries what the user needs to know to move closer.
type OutOfRangeError struct {
	Distance   float64
	Radius     float64
	MetersToGo float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: %.1fm away, %.1fm to go (radius %.1fm)", e.Distance, e.MetersToGo, e.Radius)
}

// Is makes errors.Is(err, ErrOutOfRange) match.
func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}
