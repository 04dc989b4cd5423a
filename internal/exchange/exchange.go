package exchange

import (
	"time"

	"xrp-grid-bot-go/internal/models"
)

// Exchange is the gateway every trading component talks to. Implementations
// own their timeouts and rate limiting; callers treat a timed-out call like
// any other failed call.
type Exchange interface {
	// GetPrice returns the last trade price for the pair.
	GetPrice(pair string) (float64, error)

	// GetBalances returns the free balance per asset.
	GetBalances() (map[string]float64, error)

	// PlaceOrder submits a limit order and returns the exchange order id.
	PlaceOrder(pair string, side models.Side, price, volume float64) (string, error)

	// CancelOrder cancels a resting order by its exchange order id.
	CancelOrder(pair, externalOrderID string) error

	// ListOpenOrders returns the orders currently resting on the book.
	ListOpenOrders(pair string) ([]models.OpenOrder, error)

	// ListClosedOrders returns orders that reached a terminal state since
	// the given watermark.
	ListClosedOrders(pair string, since time.Time) ([]models.ClosedOrder, error)

	// GetKlines returns the most recent OHLC candles for the pair.
	GetKlines(pair, interval string, limit int) ([]models.Kline, error)
}
