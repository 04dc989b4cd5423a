// Package advisor produces trend signals consumed by the risk controller.
// The grid engine treats the signal as opaque; only the direction and
// magnitude contract matters.
package advisor

import (
	"fmt"

	"xrp-grid-bot-go/internal/exchange"
	"xrp-grid-bot-go/internal/models"

	"github.com/markcheno/go-talib"
)

// Advisor supplies a trend signal for a pair over a candle lookback.
type Advisor interface {
	GetTrendSignal(pair string, lookback int) (models.TrendSignal, error)
}

// Neutral always reports a flat market. It stands in when trend-driven
// adjustment is disabled.
type Neutral struct{}

func (Neutral) GetTrendSignal(string, int) (models.TrendSignal, error) {
	return models.TrendSignal{Direction: models.TrendNeutral}, nil
}

// SMAAdvisor derives the signal from a short/long simple-moving-average
// crossover over hourly candles: direction from the sign of the spread,
// magnitude as the spread in percent of the long average.
type SMAAdvisor struct {
	exchange    exchange.Exchange
	interval    string
	shortWindow int
	longWindow  int
	threshold   float64 // percent spread below which the market reads neutral
}

// NewSMAAdvisor uses a 10/50 hourly SMA pair, the windows the original
// advisory module used.
func NewSMAAdvisor(ex exchange.Exchange) *SMAAdvisor {
	return &SMAAdvisor{
		exchange:    ex,
		interval:    "1h",
		shortWindow: 10,
		longWindow:  50,
		threshold:   0.5,
	}
}

func (a *SMAAdvisor) GetTrendSignal(pair string, lookback int) (models.TrendSignal, error) {
	if lookback < a.longWindow {
		lookback = a.longWindow + a.shortWindow
	}

	klines, err := a.exchange.GetKlines(pair, a.interval, lookback)
	if err != nil {
		return models.TrendSignal{}, fmt.Errorf("advisor: %w", err)
	}
	if len(klines) < a.longWindow {
		return models.TrendSignal{}, fmt.Errorf("advisor: need %d candles, got %d", a.longWindow, len(klines))
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	shortSMA := talib.Sma(closes, a.shortWindow)
	longSMA := talib.Sma(closes, a.longWindow)

	latestShort := shortSMA[len(shortSMA)-1]
	latestLong := longSMA[len(longSMA)-1]
	if latestLong == 0 {
		return models.TrendSignal{Direction: models.TrendNeutral}, nil
	}

	magnitude := (latestShort - latestLong) / latestLong * 100

	signal := models.TrendSignal{Magnitude: magnitude}
	switch {
	case magnitude > a.threshold:
		signal.Direction = models.TrendBullish
	case magnitude < -a.threshold:
		signal.Direction = models.TrendBearish
	default:
		signal.Direction = models.TrendNeutral
	}
	return signal, nil
}
