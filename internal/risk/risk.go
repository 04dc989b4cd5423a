// Package risk holds the stop-loss check and the trend-driven grid
// parameter adjustment. It consumes advisory signals, never computes them.
package risk

import (
	"math"

	"xrp-grid-bot-go/internal/models"
)

const (
	maxGridRangePct      = 5.0
	minGridRangePct      = 2.0
	bullishRangeScale    = 1.2
	bearishRangeScale    = 0.8
	volatileAllocScale   = 0.9
	minTotalAllocation   = 50.0
	magnitudeVolatileAbs = 10.0
)

// CheckStopLoss reports whether the price has fallen below the stop-loss
// threshold relative to the grid's baseline price.
func CheckStopLoss(currentPrice, baselinePrice, stopLossPct float64) bool {
	if baselinePrice <= 0 || stopLossPct <= 0 {
		return false
	}
	return currentPrice < baselinePrice*(1-stopLossPct/100)
}

// AdjustForTrend returns a copy of the grid config tuned to the trend
// signal: bullish markets widen the grid, bearish markets narrow it, and a
// strong move in either direction trims the allocation. The input is never
// mutated.
func AdjustForTrend(cfg models.GridConfig, signal models.TrendSignal) models.GridConfig {
	adjusted := cfg

	switch signal.Direction {
	case models.TrendBullish:
		adjusted.GridRangePct = math.Min(cfg.GridRangePct*bullishRangeScale, maxGridRangePct)
	case models.TrendBearish:
		adjusted.GridRangePct = math.Max(cfg.GridRangePct*bearishRangeScale, minGridRangePct)
	}

	if math.Abs(signal.Magnitude) > magnitudeVolatileAbs {
		adjusted.TotalAllocation = math.Max(cfg.TotalAllocation*volatileAllocScale, minTotalAllocation)
	}

	return adjusted
}

// Differs reports whether an adjusted config is materially different from
// the active one, i.e. whether a rebuild is worth the order churn.
func Differs(active, adjusted models.GridConfig) bool {
	const relTolerance = 1e-6
	if !nearlyEqual(active.GridRangePct, adjusted.GridRangePct, relTolerance) {
		return true
	}
	if !nearlyEqual(active.TotalAllocation, adjusted.TotalAllocation, relTolerance) {
		return true
	}
	return false
}

func nearlyEqual(a, b, tol float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= tol*scale
}
