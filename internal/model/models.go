// Package model defines the data models for the treasure-hunt prize service.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// GameKind discriminates the two settlement paths a game can take.
type GameKind string

const (
	GameKindLocation GameKind = "location" // Physical hunt won by reaching a target coordinate
	GameKindVirtual  GameKind = "virtual"  // Battle royale ranked by leaderboard score
)

// GameStatus is the admin-controlled lifecycle state of a game.
type GameStatus string

const (
	GameStatusPending   GameStatus = "pending"
	GameStatusScheduled GameStatus = "scheduled"
	GameStatusLive      GameStatus = "live"
	GameStatusCompleted GameStatus = "completed"
	GameStatusInactive  GameStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusPending, GameStatusScheduled, GameStatusLive, GameStatusCompleted, GameStatusInactive:
		return true
	}
	return false
}

// Category is the daily-cap bucket a win is counted against.
type Category string

const (
	CategoryPhysical     Category = "physical"
	CategoryBattleRoyale Category = "battle_royale"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryPhysical || c == CategoryBattleRoyale
}

// ScoringMode decides leaderboard ordering for virtual games.
type ScoringMode string

const (
	ScoringLowerIsBetter  ScoringMode = "lower_is_better"  // e.g. fastest time
	ScoringHigherIsBetter ScoringMode = "higher_is_better" // e.g. most collected
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Winner is one claimed prize slot. Positions are 1-based and contiguous.
type Winner struct {
	UserID      string          `json:"userId"`
	Position    int             `json:"position"`
	CompletedAt time.Time       `json:"completedAt"`
	Distance    float64         `json:"distance"`
	Payout      decimal.Decimal `json:"payout"`
}

// Attempt is an audit record of a claim attempt. Never used for correctness.
type Attempt struct {
	UserID      string     `json:"userId"`
	AttemptedAt time.Time  `json:"attemptedAt"`
	Distance    float64    `json:"distance"`
	Location    Coordinate `json:"location"`
}

// LeaderboardEntry is a user's best score in a virtual game.
type LeaderboardEntry struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	DeviceID string  `json:"deviceId,omitempty"`
	Score    float64 `json:"score"`
}

// GameDetails holds the kind-specific part of a game.
// Implemented only by *LocationDetails and *VirtualDetails.
type GameDetails interface {
	Kind() GameKind
	isGameDetails()
}

// LocationDetails is the variant for physical hunts.
type LocationDetails struct {
	Target         Coordinate `json:"target"`
	AccuracyRadius float64    `json:"accuracyRadius"` // meters
}

// Kind implements GameDetails.
func (*LocationDetails) Kind() GameKind { return GameKindLocation }
func (*LocationDetails) isGameDetails() {}

// VirtualDetails is the variant for battle royale competitions.
type VirtualDetails struct {
	ScoringMode       ScoringMode        `json:"scoringMode"`
	PrizeDistribution map[int]float64    `json:"prizeDistribution"` // position -> percent of prize amount
	Leaderboard       []LeaderboardEntry `json:"leaderboard"`
}

// Kind implements GameDetails.
func (*VirtualDetails) Kind() GameKind { return GameKindVirtual }
func (*VirtualDetails) isGameDetails() {}

// Game represents one prize event.
type Game struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Status      GameStatus      `json:"status"`
	PrizeAmount decimal.Decimal `json:"prizeAmount"`
	WinnerSlots int             `json:"winnerSlots"`
	Details     GameDetails     `json:"details"`
	Winners     []Winner        `json:"winners"`
	StartsAt    *time.Time      `json:"startsAt,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// MarshalJSON adds the kind discriminator next to the details.
func (g *Game) MarshalJSON() ([]byte, error) {
	type alias Game
	return json.Marshal(struct {
		Kind GameKind `json:"kind"`
		*alias
	}{g.Kind(), (*alias)(g)})
}

// Kind returns the discriminator of the game's details.
func (g *Game) Kind() GameKind {
	if g.Details == nil {
		return ""
	}
	return g.Details.Kind()
}

// Location returns the location variant, if this is a location game.
func (g *Game) Location() (*LocationDetails, bool) {
	d, ok := g.Details.(*LocationDetails)
	return d, ok
}

// Virtual returns the virtual variant, if this is a virtual game.
func (g *Game) Virtual() (*VirtualDetails, bool) {
	d, ok := g.Details.(*VirtualDetails)
	return d, ok
}

// Winner returns the recorded win of userID, if any.
func (g *Game) Winner(userID string) (Winner, bool) {
	for _, w := range g.Winners {
		if w.UserID == userID {
			return w, true
		}
	}
	return Winner{}, false
}

// SlotsRemaining returns the number of unclaimed winner slots.
func (g *Game) SlotsRemaining() int {
	if n := g.WinnerSlots - len(g.Winners); n > 0 {
		return n
	}
	return 0
}

// IsFull reports whether every winner slot is taken.
func (g *Game) IsFull() bool {
	return len(g.Winners) >= g.WinnerSlots
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	c := *g
	c.Winners = append([]Winner(nil), g.Winners...)
	if g.StartsAt != nil {
		t := *g.StartsAt
		c.StartsAt = &t
	}
	switch d := g.Details.(type) {
	case *LocationDetails:
		cp := *d
		c.Details = &cp
	case *VirtualDetails:
		cp := *d
		cp.Leaderboard = append([]LeaderboardEntry(nil), d.Leaderboard...)
		cp.PrizeDistribution = make(map[int]float64, len(d.PrizeDistribution))
		for k, v := range d.PrizeDistribution {
			cp.PrizeDistribution[k] = v
		}
		c.Details = &cp
	}
	return &c
}

// UserBalance is the per-identity prize ledger.
type UserBalance struct {
	UserID                  string          `json:"userId"`
	Balance                 decimal.Decimal `json:"balance"`
	TotalEarnings           decimal.Decimal `json:"totalEarnings"`
	TotalWins               int             `json:"totalWins"`
	LastPhysicalWinDate     string          `json:"lastPhysicalWinDate"`
	LastBattleRoyaleWinDate string          `json:"lastBattleRoyaleWinDate"`
	PushRecipient           string          `json:"-"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

// LastWinDate returns the last recorded win date for a category.
func (u *UserBalance) LastWinDate(c Category) string {
	switch c {
	case CategoryPhysical:
		return u.LastPhysicalWinDate
	case CategoryBattleRoyale:
		return u.LastBattleRoyaleWinDate
	}
	return ""
}

// DailyWin marks that a device produced a win of a category on a date.
// At most one exists per (Date, DeviceID, Category) and per (Date, UserID, Category).
type DailyWin struct {
	Date        string          `json:"date"`
	DeviceID    string          `json:"deviceId"`
	Category    Category        `json:"category"`
	UserID      string          `json:"userId"`
	GameID      string          `json:"gameId"`
	GameName    string          `json:"gameName"`
	PrizeAmount decimal.Decimal `json:"prizeAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// DeviceKey returns the device identifier a marker is stored under.
// Requests without a device identity fall back to a per-user key so they
// never collide with other users.
func DeviceKey(deviceID, userID string) string {
	if deviceID != "" {
		return deviceID
	}
	return "user:" + userID
}
