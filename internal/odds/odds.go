// Package odds derives the advisory "chance of winning" shown next to the
// proximity meter. It never gates a win.
package odds

import "math"

// Estimate returns a 0-100 display chance from a proximity percentage and the
// number of winner slots still open.
func Estimate(proximity, winnersRecorded, totalSlots int) int {
	if totalSlots <= 0 {
		return 0
	}
	remaining := totalSlots - winnersRecorded
	if remaining <= 0 {
		return 0
	}
	if remaining > totalSlots {
		remaining = totalSlots
	}

	base := baseOdds(proximity)
	return int(math.Round(base * float64(remaining) / float64(totalSlots)))
}

// baseOdds is the piecewise curve: linear to 70, then a steeper climb to 95
// at 90, then one point per proximity point, capped at 100.
func baseOdds(proximity int) float64 {
	p := math.Max(0, math.Min(100, float64(proximity)))
	var base float64
	switch {
	case p <= 70:
		base = p
	case p <= 90:
		base = 70 + (p-70)/20*25
	default:
		base = 95 + (p - 90)
	}
	return math.Min(100, base)
}
