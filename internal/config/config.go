package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"xrp-grid-bot-go/internal/models"
)

// LoadConfig reads the JSON configuration file, fills in defaults and
// validates the values the grid engine depends on.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Defaults()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config pre-filled with the values the original bot
// shipped with, so a partial config file still yields a runnable setup.
func Defaults() *models.Config {
	return &models.Config{
		Grid: models.GridConfig{
			Pair:               "XRPUSDT",
			BaseAsset:          "XRP",
			QuoteAsset:         "USDT",
			GridRangePct:       4.0,
			GridLevels:         16,
			TotalAllocation:    100.0,
			PricePrecision:     4,
			VolumePrecision:    1,
			MinOrderVolume:     1.0,
			DynamicSizing:      true,
			StopLossPct:        12.0,
			ProfitReinvestment: true,
			PriceCheckInterval: models.Duration(5 * time.Minute),
			OrderTimeout:       models.Duration(24 * time.Hour),
			TrendCheckInterval: models.Duration(6 * time.Hour),
		},
		Exchange: models.ExchangeConfig{
			// An empty base URL keeps the client library's production default.
			WSBaseURL:         "wss://stream.binance.com:9443",
			RequestsPerSecond: 1.0,
			TickerCacheTTLSec: 5,
		},
		Notifier: models.NotifierConfig{
			Provider:       "console",
			MaxPerHour:     10,
			MinIntervalSec: 60,
			QueueSize:      64,
		},
		Log: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
		DBPath:  "data/ledger",
		DataDir: "data",
	}
}

// Validate rejects configurations the grid engine cannot run with.
func Validate(cfg *models.Config) error {
	g := cfg.Grid
	if g.Pair == "" {
		return fmt.Errorf("config: pair must be set")
	}
	if g.GridLevels < 2 {
		return fmt.Errorf("config: grid_levels must be >= 2, got %d", g.GridLevels)
	}
	if g.GridRangePct <= 0 {
		return fmt.Errorf("config: grid_range_percentage must be positive, got %.2f", g.GridRangePct)
	}
	if g.TotalAllocation <= 0 {
		return fmt.Errorf("config: total_allocation must be positive, got %.2f", g.TotalAllocation)
	}
	if g.StopLossPct < 0 || g.StopLossPct >= 100 {
		return fmt.Errorf("config: stop_loss_percentage must be in [0, 100), got %.2f", g.StopLossPct)
	}
	if g.PriceCheckInterval.Std() <= 0 {
		return fmt.Errorf("config: price_check_interval must be positive")
	}
	if g.OrderTimeout.Std() <= 0 {
		return fmt.Errorf("config: order_timeout must be positive")
	}
	if g.TrendCheckInterval.Std() <= 0 {
		return fmt.Errorf("config: trend_check_interval must be positive")
	}
	return nil
}
