package crash

import "math"

// growthBase is the per-10ms growth factor of the flight curve:
// multiplier(t) = 1.0024^(t/10) with t in milliseconds.
//
// This is the single canonical curve. It drives both the broadcast
// multiplier and crash detection; do not introduce a second formula.
const growthBase = 1.0024

// MultiplierAt returns the live multiplier, in hundredths, for the given
// flight elapsed time. Monotonically non-decreasing in elapsedMs.
func MultiplierAt(elapsedMs int64) int64 {
	if elapsedMs <= 0 {
		return BaseMultiplier
	}
	m := math.Pow(growthBase, float64(elapsedMs)/10.0)
	mult := int64(math.Floor(m * 100))
	if mult < BaseMultiplier {
		return BaseMultiplier
	}
	return mult
}

// FlightDuration returns the elapsed milliseconds at which the curve first
// reaches mult (hundredths).
func FlightDuration(mult int64) int64 {
	if mult <= BaseMultiplier {
		return 0
	}
	t := math.Log(float64(mult)/100.0) / math.Log(growthBase) * 10.0
	elapsed := int64(math.Ceil(t))
	// Guard against float rounding just below the target.
	for MultiplierAt(elapsed) < mult {
		elapsed++
	}
	return elapsed
}
