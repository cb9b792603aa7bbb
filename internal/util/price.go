// Package util holds the shared price arithmetic: snapping prices and
// strikes onto exchange tick grids.
package util

import "math"

// StrikeTick is the strike grid B3 lists liquid option series on.
const StrikeTick = 0.50

// tickEpsilon absorbs float drift at tick boundaries so that values a few
// ulps off an exact multiple land on it instead of the neighboring tick.
const tickEpsilon = 1e-9

// RoundToTick rounds x to the nearest multiple of tick. Ties round away
// from zero. A zero tick or a non-finite x returns x unchanged; the sign
// of tick is ignored.
func RoundToTick(x, tick float64) float64 {
	q, tick, ok := quantize(x, tick)
	if !ok {
		return x
	}
	return math.Round(q+math.Copysign(tickEpsilon, q)) * tick
}

// FloorToTick rounds x down to a multiple of tick.
func FloorToTick(x, tick float64) float64 {
	q, tick, ok := quantize(x, tick)
	if !ok {
		return x
	}
	return math.Floor(q+tickEpsilon) * tick
}

// CeilToTick rounds x up to a multiple of tick.
func CeilToTick(x, tick float64) float64 {
	q, tick, ok := quantize(x, tick)
	if !ok {
		return x
	}
	return math.Ceil(q-tickEpsilon) * tick
}

// RoundStrike snaps a strike price onto the exchange grid.
func RoundStrike(x float64) float64 {
	return RoundToTick(x, StrikeTick)
}

func quantize(x, tick float64) (float64, float64, bool) {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, 0, false
	}
	return x / tick, tick, true
}
