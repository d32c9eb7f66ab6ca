package game

import (
	"math"
)

// Crash point distribution, heavily weighted to the 1-3x range.
const (
	TierVeryLow = 0.50 // 50%: 1.0x - 1.5x
	TierLow     = 0.85 // 35%: 1.5x - 3.0x (cumulative)
	TierMedium  = 0.95 // 10%: 3.0x - 10.0x (cumulative)
	TierHigh    = 0.99 // 4%: 10.0x - 50.0x (cumulative)

	CrashMin        = 1.0
	CrashVeryLowMax = 1.5
	CrashLowMax     = 3.0
	CrashMediumMax  = 10.0
	CrashHighMax    = 50.0
	CrashExtremeMax = 200.0
)

type tier struct {
	upTo     float64
	low, max float64
}

var tiers = []tier{
	{TierVeryLow, CrashMin, CrashVeryLowMax},
	{TierLow, CrashVeryLowMax, CrashLowMax},
	{TierMedium, CrashLowMax, CrashMediumMax},
	{TierHigh, CrashMediumMax, CrashHighMax},
	{1.0, CrashHighMax, CrashExtremeMax},
}

// GenerateCrashPoint derives the provably fair crash multiplier for a
// round from the server seed. Rounded down to two decimals, never below
// CrashMin.
func GenerateCrashPoint(serverSeed, roundID string) float64 {
	r := NewSeededRNG(serverSeed, roundID, "crash").Float64()

	prev := 0.0
	point := CrashMin
	for _, t := range tiers {
		if r < t.upTo {
			normalized := (r - prev) / (t.upTo - prev)
			point = t.low + normalized*(t.max-t.low)
			break
		}
		prev = t.upTo
	}
	point = math.Floor(point*100) / 100
	if point < CrashMin {
		point = CrashMin
	}
	return point
}

// MultiplierAt is the displayed multiplier t into a running round:
// e^(rate*t) floored to two decimals.
func MultiplierAt(rate, seconds float64) float64 {
	if seconds <= 0 {
		return 1.0
	}
	return math.Floor(math.Exp(rate*seconds)*100) / 100
}

// TimeToReach is how long a round runs before showing m.
func TimeToReach(rate, m float64) float64 {
	if m <= 1 || rate <= 0 {
		return 0
	}
	return math.Log(m) / rate
}
