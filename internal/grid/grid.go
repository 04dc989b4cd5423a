// Package grid computes the price ladder and per-level order sizes for one
// grid cycle. Everything here is a pure function of the current price and
// the grid configuration.
package grid

import (
	"fmt"
	"math"
	"time"

	"xrp-grid-bot-go/internal/models"

	"github.com/google/uuid"
)

const (
	// Distribution exponents: levels cluster toward the lower bound, more
	// aggressively when dynamic sizing is on.
	defaultExponent       = 1.5
	dynamicSizingExponent = 2.0
)

// Generate computes the grid for the given current price. The returned state
// carries the baseline price used later for the stop-loss check.
func Generate(currentPrice float64, cfg models.GridConfig) (*models.GridState, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("grid: current price must be positive, got %f", currentPrice)
	}
	if cfg.GridLevels < 2 {
		return nil, fmt.Errorf("grid: need at least 2 levels, got %d", cfg.GridLevels)
	}

	lower := currentPrice * (1 - cfg.GridRangePct/100)
	upper := currentPrice * (1 + cfg.GridRangePct/100)

	exponent := defaultExponent
	if cfg.DynamicSizing {
		exponent = dynamicSizingExponent
	}

	prices := Prices(lower, upper, cfg.GridLevels, exponent, cfg.PricePrecision)
	sizes := Sizes(prices, currentPrice, cfg)

	return &models.GridState{
		CycleID:       uuid.NewString(),
		BaselinePrice: currentPrice,
		LowerBound:    roundTo(lower, cfg.PricePrecision),
		UpperBound:    roundTo(upper, cfg.PricePrecision),
		Prices:        prices,
		Sizes:         sizes,
		CreatedAt:     time.Now(),
	}, nil
}

// Prices returns n prices spanning [lower, upper]:
//
//	price(i) = lower + ((i/(n-1))^exponent) * (upper - lower)
//
// The sequence is monotonically non-decreasing, with the first element equal
// to the lower bound and the last equal to the upper bound (after rounding).
func Prices(lower, upper float64, n int, exponent float64, precision int) []float64 {
	prices := make([]float64, n)
	span := upper - lower
	for i := 0; i < n; i++ {
		factor := math.Pow(float64(i)/float64(n-1), exponent)
		prices[i] = roundTo(lower+factor*span, precision)
	}
	// Rounding must not disturb the bound guarantees.
	prices[0] = roundTo(lower, precision)
	prices[n-1] = roundTo(upper, precision)
	return prices
}

// Sizes computes the per-level order volume. The base size is an even split
// of the total allocation; with dynamic sizing enabled, buy levels shrink
// and sell levels grow with their distance from the level nearest to the
// current price.
func Sizes(prices []float64, currentPrice float64, cfg models.GridConfig) []float64 {
	n := len(prices)
	sizes := make([]float64, n)
	base := cfg.TotalAllocation / float64(n)

	nearest := NearestIndex(prices, currentPrice)
	for i, price := range prices {
		size := base
		if cfg.DynamicSizing {
			distance := float64(abs(i - nearest))
			if price < currentPrice {
				// Buy side: smaller further below the price.
				size = base * math.Max(0.7, 1-0.05*distance)
			} else if price > currentPrice {
				// Sell side: larger further above the price.
				size = base * (1 + 0.10*distance)
			}
		}
		sizes[i] = roundTo(size, cfg.VolumePrecision)
	}
	return sizes
}

// NearestIndex returns the index of the price closest to target. Sizing and
// order placement share it so the level treated as "at the price" is the
// same in both.
func NearestIndex(prices []float64, target float64) int {
	best := 0
	bestDiff := math.Abs(prices[0] - target)
	for i := 1; i < len(prices); i++ {
		if diff := math.Abs(prices[i] - target); diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return best
}

func roundTo(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(value*factor) / factor
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
