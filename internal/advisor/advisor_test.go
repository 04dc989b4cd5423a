package advisor

import (
	"errors"
	"testing"
	"time"

	"xrp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExchange serves canned klines.
type mockExchange struct {
	klines []models.Kline
	err    error
}

func (m *mockExchange) GetPrice(string) (float64, error)                  { return 0, nil }
func (m *mockExchange) GetBalances() (map[string]float64, error)          { return nil, nil }
func (m *mockExchange) CancelOrder(string, string) error                  { return nil }
func (m *mockExchange) ListOpenOrders(string) ([]models.OpenOrder, error) { return nil, nil }

func (m *mockExchange) PlaceOrder(string, models.Side, float64, float64) (string, error) {
	return "", nil
}

func (m *mockExchange) ListClosedOrders(string, time.Time) ([]models.ClosedOrder, error) {
	return nil, nil
}

func (m *mockExchange) GetKlines(string, string, int) ([]models.Kline, error) {
	return m.klines, m.err
}

// klinesFromCloses builds hourly candles with the given close prices.
func klinesFromCloses(closes []float64) []models.Kline {
	klines := make([]models.Kline, len(closes))
	start := time.Now().Add(-time.Duration(len(closes)) * time.Hour)
	for i, c := range closes {
		klines[i] = models.Kline{OpenTime: start.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return klines
}

// rampCloses returns n closes moving linearly from first to last.
func rampCloses(n int, first, last float64) []float64 {
	closes := make([]float64, n)
	step := (last - first) / float64(n-1)
	for i := range closes {
		closes[i] = first + float64(i)*step
	}
	return closes
}

func TestTrendBullishOnRisingCloses(t *testing.T) {
	ex := &mockExchange{klines: klinesFromCloses(rampCloses(60, 0.40, 0.60))}
	adv := NewSMAAdvisor(ex)

	signal, err := adv.GetTrendSignal("XRPUSDT", 60)
	require.NoError(t, err)

	assert.Equal(t, models.TrendBullish, signal.Direction)
	assert.Greater(t, signal.Magnitude, 0.5)
}

func TestTrendBearishOnFallingCloses(t *testing.T) {
	ex := &mockExchange{klines: klinesFromCloses(rampCloses(60, 0.60, 0.40))}
	adv := NewSMAAdvisor(ex)

	signal, err := adv.GetTrendSignal("XRPUSDT", 60)
	require.NoError(t, err)

	assert.Equal(t, models.TrendBearish, signal.Direction)
	assert.Less(t, signal.Magnitude, -0.5)
}

func TestTrendNeutralOnFlatCloses(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 0.50
	}
	ex := &mockExchange{klines: klinesFromCloses(closes)}
	adv := NewSMAAdvisor(ex)

	signal, err := adv.GetTrendSignal("XRPUSDT", 60)
	require.NoError(t, err)

	assert.Equal(t, models.TrendNeutral, signal.Direction)
	assert.InDelta(t, 0, signal.Magnitude, 1e-9)
}

func TestTrendSignalErrors(t *testing.T) {
	ex := &mockExchange{err: errors.New("unreachable")}
	adv := NewSMAAdvisor(ex)
	_, err := adv.GetTrendSignal("XRPUSDT", 60)
	assert.Error(t, err)

	ex = &mockExchange{klines: klinesFromCloses(rampCloses(10, 0.4, 0.5))}
	adv = NewSMAAdvisor(ex)
	_, err = adv.GetTrendSignal("XRPUSDT", 60)
	assert.Error(t, err)
}

func TestNeutralAdvisor(t *testing.T) {
	signal, err := Neutral{}.GetTrendSignal("XRPUSDT", 60)
	require.NoError(t, err)
	assert.Equal(t, models.TrendNeutral, signal.Direction)
}
