package grid

import (
	"testing"

	"xrp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() models.GridConfig {
	return models.GridConfig{
		Pair:            "XRPUSDT",
		GridRangePct:    4.0,
		GridLevels:      5,
		TotalAllocation: 100.0,
		PricePrecision:  4,
		VolumePrecision: 1,
	}
}

// TestGenerateBounds verifies the ladder spans exactly the configured range
// around the current price.
func TestGenerateBounds(t *testing.T) {
	state, err := Generate(0.5000, testConfig())
	require.NoError(t, err)

	assert.Equal(t, 0.4800, state.LowerBound)
	assert.Equal(t, 0.5200, state.UpperBound)
	assert.Equal(t, 0.5000, state.BaselinePrice)
	assert.NotEmpty(t, state.CycleID)

	require.Len(t, state.Prices, 5)
	assert.Equal(t, state.LowerBound, state.Prices[0])
	assert.Equal(t, state.UpperBound, state.Prices[4])
}

// TestPricesCurve checks the exponent-1.5 distribution at 4-decimal
// precision: levels cluster toward the lower bound.
func TestPricesCurve(t *testing.T) {
	prices := Prices(0.48, 0.52, 5, 1.5, 4)

	expected := []float64{0.4800, 0.4850, 0.4941, 0.5060, 0.5200}
	require.Len(t, prices, len(expected))
	for i, want := range expected {
		assert.InDelta(t, want, prices[i], 1e-9, "price at level %d", i)
	}
}

// TestPricesMonotonic asserts non-decreasing order for a spread of shapes.
func TestPricesMonotonic(t *testing.T) {
	cases := []struct {
		name     string
		n        int
		exponent float64
	}{
		{"two levels", 2, 1.5},
		{"default exponent", 16, 1.5},
		{"dynamic exponent", 16, 2.0},
		{"many levels", 101, 1.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prices := Prices(0.48, 0.52, tc.n, tc.exponent, 4)
			require.Len(t, prices, tc.n)
			assert.Equal(t, 0.48, prices[0])
			assert.Equal(t, 0.52, prices[tc.n-1])
			for i := 1; i < tc.n; i++ {
				assert.GreaterOrEqual(t, prices[i], prices[i-1], "level %d", i)
			}
		})
	}
}

// TestSizesEvenSplit verifies the flat allocation when dynamic sizing is off.
func TestSizesEvenSplit(t *testing.T) {
	cfg := testConfig()
	state, err := Generate(0.5000, cfg)
	require.NoError(t, err)

	for i, size := range state.Sizes {
		assert.InDelta(t, 20.0, size, 1e-9, "size at level %d", i)
	}
}

// TestSizesDynamic verifies the scaling rules: buys shrink below the price,
// sells grow above it, both by index distance from the nearest level.
func TestSizesDynamic(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSizing = true
	cfg.VolumePrecision = 4

	prices := []float64{0.48, 0.49, 0.50, 0.51, 0.52}
	sizes := Sizes(prices, 0.50, cfg)

	base := cfg.TotalAllocation / 5
	assert.InDelta(t, base*0.90, sizes[0], 1e-6) // buy, 2 levels out
	assert.InDelta(t, base*0.95, sizes[1], 1e-6) // buy, 1 level out
	assert.InDelta(t, base, sizes[2], 1e-6)      // at the price
	assert.InDelta(t, base*1.10, sizes[3], 1e-6) // sell, 1 level out
	assert.InDelta(t, base*1.20, sizes[4], 1e-6) // sell, 2 levels out
}

// TestSizesDynamicBuyFloor checks the 0.7 floor on the buy-side scale.
func TestSizesDynamicBuyFloor(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSizing = true
	cfg.VolumePrecision = 4
	cfg.GridLevels = 11

	prices := Prices(0.40, 0.60, 11, 2.0, 4)
	sizes := Sizes(prices, 0.60, cfg)

	base := cfg.TotalAllocation / 11
	// The farthest buy is 10 levels below the nearest; 1-0.05*10 = 0.5
	// would undercut the floor.
	assert.InDelta(t, base*0.7, sizes[0], 1e-4)
}

func TestNearestIndex(t *testing.T) {
	prices := []float64{0.48, 0.49, 0.50, 0.51, 0.52}

	assert.Equal(t, 0, NearestIndex(prices, 0.40))
	assert.Equal(t, 2, NearestIndex(prices, 0.501))
	assert.Equal(t, 4, NearestIndex(prices, 0.60))
}

func TestGenerateRejectsBadInput(t *testing.T) {
	cfg := testConfig()

	_, err := Generate(0, cfg)
	assert.Error(t, err)

	cfg.GridLevels = 1
	_, err = Generate(0.5, cfg)
	assert.Error(t, err)
}
