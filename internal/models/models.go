package models

import "time"

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Status is the lifecycle state of a TradeRecord.
//
// Valid transitions:
//
//	pending -> open | failed
//	open    -> filled | canceled
type Status string

const (
	StatusPending  Status = "pending"
	StatusOpen     Status = "open"
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
	StatusFailed   Status = "failed"
)

// TradeRecord is the durable record of a single order submission. It is
// created the moment a submission is attempted and is never deleted; the
// ledger owns it from that point on.
type TradeRecord struct {
	ID              string     `json:"id"`
	Pair            string     `json:"pair"`
	Side            Side       `json:"side"`
	Price           float64    `json:"price"`  // requested limit price
	Volume          float64    `json:"volume"` // requested volume
	Status          Status     `json:"status"`
	ExternalOrderID string     `json:"external_order_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FilledVolume    float64    `json:"filled_volume,omitempty"`
	ActualPrice     float64    `json:"actual_price,omitempty"`
	Cost            float64    `json:"cost,omitempty"`
	Fee             float64    `json:"fee,omitempty"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`

	// MatchedVolume is the portion of FilledVolume already consumed by
	// margin matching. Keeping it on the record makes matching idempotent
	// across restarts.
	MatchedVolume float64 `json:"matched_volume,omitempty"`
}

// RemainingVolume is the filled volume not yet consumed by margin matching.
func (t *TradeRecord) RemainingVolume() float64 {
	return t.FilledVolume - t.MatchedVolume
}

// MarginRecord is the realized profit from pairing part of a filled sell
// against part of a cheaper filled buy.
type MarginRecord struct {
	BuyTradeID       string    `json:"buy_trade_id"`
	SellTradeID      string    `json:"sell_trade_id"`
	BuyPrice         float64   `json:"buy_price"`
	SellPrice        float64   `json:"sell_price"`
	MatchedVolume    float64   `json:"matched_volume"`
	Margin           float64   `json:"margin"`
	MarginPercentage float64   `json:"margin_percentage"`
	Timestamp        time.Time `json:"timestamp"`
}

// TradePatch carries the fields of a ledger update. Nil pointers leave the
// corresponding record field untouched.
type TradePatch struct {
	Status          *Status
	ExternalOrderID *string
	FilledVolume    *float64
	ActualPrice     *float64
	Cost            *float64
	Fee             *float64
	FilledAt        *time.Time
	ErrorDetail     *string
	MatchedVolume   *float64
}

// PerformanceSummary aggregates the ledger once, on demand. It replaces the
// incrementally mutated counters of the original system so the totals can
// never drift from the record store.
type PerformanceSummary struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	TotalTrades     int              `json:"total_trades"`
	CountsByStatus  map[Status]int   `json:"counts_by_status"`
	CountsBySide    map[Side]int     `json:"counts_by_side"`
	TotalMargin     float64          `json:"total_margin"`
	AvgMarginPct    float64          `json:"avg_margin_percentage"`
	MatchedVolume   float64          `json:"matched_volume"`
	BuyVolume       float64          `json:"buy_volume"`  // filled buy volume
	SellVolume      float64          `json:"sell_volume"` // filled sell volume
	NetVolume       float64          `json:"net_volume"`  // buy - sell
	MarginRecords   int              `json:"margin_records"`
	OpenOrders      int              `json:"open_orders"`
}

// GridState is the derived state of one grid generation. It is owned by the
// supervisor and replaced wholesale on every regeneration, never patched.
type GridState struct {
	CycleID       string    `json:"cycle_id"`
	BaselinePrice float64   `json:"baseline_price"` // stop-loss reference
	LowerBound    float64   `json:"lower_bound"`
	UpperBound    float64   `json:"upper_bound"`
	Prices        []float64 `json:"prices"` // strictly ascending
	Sizes         []float64 `json:"sizes"`  // per-level order volume
	CreatedAt     time.Time `json:"created_at"`
}

// TrendDirection is the advisory market direction.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// TrendSignal is the opaque adjustment input produced by a trend advisor.
type TrendSignal struct {
	Direction TrendDirection `json:"direction"`
	Magnitude float64        `json:"magnitude"` // percent, signed by direction
}

// OpenOrder is an exchange-reported resting order.
type OpenOrder struct {
	ExternalOrderID string
	Price           float64
	Volume          float64
	OpenedAt        time.Time
}

// ClosedOrderStatus is the gateway-normalized terminal status of an order.
type ClosedOrderStatus string

const (
	ClosedOrderFilled   ClosedOrderStatus = "closed"
	ClosedOrderCanceled ClosedOrderStatus = "canceled"
)

// ClosedOrder is an exchange-reported order that left the book.
type ClosedOrder struct {
	ExternalOrderID string
	Status          ClosedOrderStatus
	FilledVolume    float64
	Price           float64
	Cost            float64
	Fee             float64
	ClosedAt        time.Time
}

// Kline is a single OHLC candle, consumed by the trend advisor.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
