// Package geo evaluates how close a device is to a game's target location.
package geo

import (
	"math"

	"treasure-hunt/internal/model"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by Distance.
	EarthRadiusMeters = 6371000.0

	// DefaultFadeStart is where proximity starts rising above zero: 50 yards.
	DefaultFadeStart = 45.72
)

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance in meters between two points
// using the haversine formula.
func Distance(from, to model.Coordinate) float64 {
	phi1 := toRadians(from.Latitude)
	phi2 := toRadians(to.Latitude)
	dPhi := toRadians(to.Latitude - from.Latitude)
	dLambda := toRadians(to.Longitude - from.Longitude)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a slightly past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Bearing returns the initial compass bearing from one point to another,
// in degrees within [0, 360).
func Bearing(from, to model.Coordinate) float64 {
	phi1 := toRadians(from.Latitude)
	phi2 := toRadians(to.Latitude)
	dLambda := toRadians(to.Longitude - from.Longitude)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	b := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	if b >= 360 {
		b = 0
	}
	return b
}

// InRange reports whether a claim at distance meters wins against radius.
// This is the only geometric gate for location games.
func InRange(distance, radius float64) bool {
	return distance <= radius
}

// Evaluator computes proximity percentages against a fixed fade start.
type Evaluator struct {
	fadeStart float64
}

// NewEvaluator creates an Evaluator. A non-positive fadeStart selects DefaultFadeStart.
func NewEvaluator(fadeStart float64) *Evaluator {
	if fadeStart <= 0 {
		fadeStart = DefaultFadeStart
	}
	return &Evaluator{fadeStart: fadeStart}
}

// FadeStart returns the distance at which proximity reaches zero.
func (e *Evaluator) FadeStart() float64 {
	return e.fadeStart
}

// Proximity maps a distance to a 0-100 closeness score.
// Anything within radius is 100, anything at or past the fade start is 0,
// and the band in between is interpolated linearly. A radius at or past the
// fade start saturates at the fade start.
func (e *Evaluator) Proximity(distance, radius float64) int {
	if distance <= radius {
		return 100
	}
	if distance >= e.fadeStart {
		return 0
	}
	lower := math.Max(0, math.Min(radius, e.fadeStart))
	pct := (e.fadeStart - distance) / (e.fadeStart - lower) * 100
	return int(math.Round(math.Min(100, math.Max(0, pct))))
}

// Reading is the full evaluation of a device position against a target.
type Reading struct {
	Distance   float64 `json:"distance"`
	Bearing    float64 `json:"bearing"`
	Proximity  int     `json:"proximity"`
	InRange    bool    `json:"inRange"`
	MetersToGo float64 `json:"metersToGo"`
}

// Evaluate measures user against a location game's target.
func (e *Evaluator) Evaluate(user model.Coordinate, target *model.LocationDetails) Reading {
	d := Distance(user, target.Target)
	return Reading{
		Distance:   d,
		Bearing:    Bearing(user, target.Target),
		Proximity:  e.Proximity(d, target.AccuracyRadius),
		InRange:    InRange(d, target.AccuracyRadius),
		MetersToGo: math.Max(0, d-target.AccuracyRadius),
	}
}
