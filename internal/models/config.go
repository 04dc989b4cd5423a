package models

import "time"

// Config holds every tunable of the bot. It is decoded from a JSON file and
// treated as immutable for the duration of a grid cycle; trend adjustments
// replace the embedded GridConfig wholesale on regeneration.
type Config struct {
	Grid     GridConfig     `json:"grid"`
	Exchange ExchangeConfig `json:"exchange"`
	Notifier NotifierConfig `json:"notifier"`
	Log      LogConfig      `json:"log"`

	DBPath  string `json:"db_path"`
	DataDir string `json:"data_dir"` // performance report artifacts
}

// GridConfig are the strategy parameters of one grid cycle.
type GridConfig struct {
	Pair               string  `json:"pair"`                 // e.g. "XRPUSDT"
	BaseAsset          string  `json:"base_asset"`           // e.g. "XRP"
	QuoteAsset         string  `json:"quote_asset"`          // e.g. "USDT"
	GridRangePct       float64 `json:"grid_range_percentage"`
	GridLevels         int     `json:"grid_levels"` // >= 2
	TotalAllocation    float64 `json:"total_allocation"`
	PricePrecision     int     `json:"price_precision"`
	VolumePrecision    int     `json:"volume_precision"`
	MinOrderVolume     float64 `json:"min_order_volume"`
	DynamicSizing      bool    `json:"dynamic_sizing"`
	StopLossPct        float64 `json:"stop_loss_percentage"`
	ProfitReinvestment bool    `json:"profit_reinvestment"`

	PriceCheckInterval Duration `json:"price_check_interval"`
	OrderTimeout       Duration `json:"order_timeout"`
	TrendCheckInterval Duration `json:"trend_check_interval"`
}

// ExchangeConfig selects the gateway endpoints and tuning.
type ExchangeConfig struct {
	BaseURL           string  `json:"base_url"`
	WSBaseURL         string  `json:"ws_base_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TickerCacheTTLSec int     `json:"ticker_cache_ttl_sec"`
}

// NotifierConfig configures delivery and throttling of notifications.
type NotifierConfig struct {
	Provider         string `json:"provider"` // "telegram", "console", "none"
	TelegramChatID   int64  `json:"telegram_chat_id"`
	MaxPerHour       int    `json:"max_per_hour"`
	MinIntervalSec   int    `json:"min_interval_sec"`
	QueueSize        int    `json:"queue_size"`
}

// LogConfig mirrors the zap/lumberjack setup.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// Duration decodes JSON strings like "5m" or "24h" into a time.Duration.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	// Bare numbers are taken as seconds.
	parsed, err := time.ParseDuration(s + "s")
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
