package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"xrp-grid-bot-go/internal/logger"
	"xrp-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const requestTimeout = 10 * time.Second

// BinanceExchange implements the Exchange gateway against the Binance spot
// REST API. Every call is fronted by a rate limiter; ticker reads are served
// from a short-lived cache kept warm by the websocket price stream.
type BinanceExchange struct {
	client  *binance.Client
	limiter *rate.Limiter

	cacheTTL time.Duration
	mu       sync.RWMutex
	prices   map[string]cachedPrice

	feeRate float64

	stream *priceStream
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// NewBinanceExchange builds a gateway from API credentials and the exchange
// configuration block.
func NewBinanceExchange(apiKey, secretKey string, cfg models.ExchangeConfig) *BinanceExchange {
	client := binance.NewClient(apiKey, secretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	ttl := time.Duration(cfg.TickerCacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &BinanceExchange{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rps), 2),
		cacheTTL: ttl,
		prices:   make(map[string]cachedPrice),
		feeRate:  0.001, // default spot taker fee
	}
}

// StartPriceStream keeps the cached price for the pair fresh over a
// websocket ticker feed, so most GetPrice calls avoid a REST round trip.
func (e *BinanceExchange) StartPriceStream(wsBaseURL, pair string) {
	e.stream = newPriceStream(wsBaseURL, pair, e.setCachedPrice)
	e.stream.start()
}

// Close stops the background price stream, if one was started.
func (e *BinanceExchange) Close() {
	if e.stream != nil {
		e.stream.stop()
	}
}

func (e *BinanceExchange) setCachedPrice(pair string, price float64) {
	e.mu.Lock()
	e.prices[pair] = cachedPrice{price: price, at: time.Now()}
	e.mu.Unlock()
}

func (e *BinanceExchange) cachedFor(pair string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.prices[pair]
	if !ok || time.Since(entry.at) > e.cacheTTL {
		return 0, false
	}
	return entry.price, true
}

func (e *BinanceExchange) wait() (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	if err := e.limiter.Wait(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	return ctx, cancel, nil
}

// GetPrice returns the cached price when fresh, falling back to the ticker
// endpoint.
func (e *BinanceExchange) GetPrice(pair string) (float64, error) {
	if price, ok := e.cachedFor(pair); ok {
		return price, nil
	}

	ctx, cancel, err := e.wait()
	if err != nil {
		return 0, err
	}
	defer cancel()

	prices, err := e.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ticker for %s: %w", pair, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no ticker returned for %s", pair)
	}

	price := toFloat(prices[0].Price)
	if price <= 0 {
		return 0, fmt.Errorf("invalid ticker price %q for %s", prices[0].Price, pair)
	}
	e.setCachedPrice(pair, price)
	return price, nil
}

// GetBalances returns the free amount of every asset with a balance.
func (e *BinanceExchange) GetBalances() (map[string]float64, error) {
	ctx, cancel, err := e.wait()
	if err != nil {
		return nil, err
	}
	defer cancel()

	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	balances := make(map[string]float64)
	for _, b := range account.Balances {
		free := toFloat(b.Free)
		if free > 0 {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

// PlaceOrder submits a GTC limit order.
func (e *BinanceExchange) PlaceOrder(pair string, side models.Side, price, volume float64) (string, error) {
	ctx, cancel, err := e.wait()
	if err != nil {
		return "", err
	}
	defer cancel()

	sideType := binance.SideTypeBuy
	if side == models.Sell {
		sideType = binance.SideTypeSell
	}

	order, err := e.client.NewCreateOrderService().
		Symbol(pair).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(decimal.NewFromFloat(volume).String()).
		Price(decimal.NewFromFloat(price).String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to place %s order on %s: %w", side, pair, err)
	}

	return strconv.FormatInt(order.OrderID, 10), nil
}

// CancelOrder cancels a resting order.
func (e *BinanceExchange) CancelOrder(pair, externalOrderID string) error {
	orderID, err := strconv.ParseInt(externalOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", externalOrderID, err)
	}

	ctx, cancel, err := e.wait()
	if err != nil {
		return err
	}
	defer cancel()

	if _, err := e.client.NewCancelOrderService().Symbol(pair).OrderID(orderID).Do(ctx); err != nil {
		return fmt.Errorf("failed to cancel order %s on %s: %w", externalOrderID, pair, err)
	}
	return nil
}

// ListOpenOrders returns the orders currently resting on the book.
func (e *BinanceExchange) ListOpenOrders(pair string) ([]models.OpenOrder, error) {
	ctx, cancel, err := e.wait()
	if err != nil {
		return nil, err
	}
	defer cancel()

	orders, err := e.client.NewListOpenOrdersService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders for %s: %w", pair, err)
	}

	open := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		open = append(open, models.OpenOrder{
			ExternalOrderID: strconv.FormatInt(o.OrderID, 10),
			Price:           toFloat(o.Price),
			Volume:          toFloat(o.OrigQuantity),
			OpenedAt:        time.UnixMilli(o.Time),
		})
	}
	return open, nil
}

// ListClosedOrders returns orders that reached a terminal state since the
// watermark, with statuses normalized to closed/canceled.
func (e *BinanceExchange) ListClosedOrders(pair string, since time.Time) ([]models.ClosedOrder, error) {
	ctx, cancel, err := e.wait()
	if err != nil {
		return nil, err
	}
	defer cancel()

	orders, err := e.client.NewListOrdersService().Symbol(pair).StartTime(since.UnixMilli()).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed orders for %s: %w", pair, err)
	}

	var closed []models.ClosedOrder
	for _, o := range orders {
		var status models.ClosedOrderStatus
		switch o.Status {
		case binance.OrderStatusTypeFilled:
			status = models.ClosedOrderFilled
		case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeRejected:
			status = models.ClosedOrderCanceled
		default:
			// Still working; reconciliation only wants terminal orders.
			continue
		}

		filled := toFloat(o.ExecutedQuantity)
		cost := toFloat(o.CummulativeQuoteQuantity)
		price := toFloat(o.Price)
		if filled > 0 && cost > 0 {
			price = cost / filled
		}

		closed = append(closed, models.ClosedOrder{
			ExternalOrderID: strconv.FormatInt(o.OrderID, 10),
			Status:          status,
			FilledVolume:    filled,
			Price:           price,
			Cost:            cost,
			Fee:             cost * e.feeRate,
			ClosedAt:        time.UnixMilli(o.UpdateTime),
		})
	}
	return closed, nil
}

// GetKlines returns the most recent OHLC candles.
func (e *BinanceExchange) GetKlines(pair, interval string, limit int) ([]models.Kline, error) {
	ctx, cancel, err := e.wait()
	if err != nil {
		return nil, err
	}
	defer cancel()

	raw, err := e.client.NewKlinesService().Symbol(pair).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", pair, err)
	}

	klines := make([]models.Kline, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, models.Kline{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     toFloat(k.Open),
			High:     toFloat(k.High),
			Low:      toFloat(k.Low),
			Close:    toFloat(k.Close),
			Volume:   toFloat(k.Volume),
		})
	}
	return klines, nil
}

// toFloat parses an exchange-reported decimal string. Malformed values are
// logged and read as zero rather than failing the whole response.
func toFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.S().Warnf("Unparseable decimal %q from exchange.", s)
		return 0
	}
	f, _ := d.Float64()
	return f
}
