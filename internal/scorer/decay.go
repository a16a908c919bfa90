package scorer

import (
	"math"
	"time"
)

// DecayConfig controls how quickly an observation loses weight. Floor is the
// least weight an old observation keeps; it never lifts a weight above raw.
type DecayConfig struct {
	HalfLifeDays int
	Floor        float64
}

// EffectiveWeight computes the time-decayed weight of an observation.
// Formula: effective = max(min(floor, raw), raw * 2^(-ageDays / halfLifeDays))
func EffectiveWeight(raw float64, observedAt, now time.Time, decay DecayConfig) float64 {
	if raw <= 0 {
		return 0
	}
	if observedAt.IsZero() {
		return raw
	}

	ageDays := now.Sub(observedAt).Hours() / 24
	if ageDays <= 0 {
		return raw
	}

	halfLife := float64(decay.HalfLifeDays)
	if halfLife <= 0 {
		halfLife = 30
	}

	decayed := raw * math.Pow(2, -ageDays/halfLife)

	if floor := math.Min(decay.Floor, raw); decayed < floor {
		return floor
	}
	return decayed
}
