package supervisor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"xrp-grid-bot-go/internal/errreport"
	"xrp-grid-bot-go/internal/ledger"
	"xrp-grid-bot-go/internal/lifecycle"
	"xrp-grid-bot-go/internal/models"
	"xrp-grid-bot-go/internal/notifier"
	"xrp-grid-bot-go/internal/reporter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockExchange is a scriptable Exchange for supervisor tests.
type mockExchange struct {
	price       float64
	priceErr    error
	balances    map[string]float64
	openOrders  []models.OpenOrder
	openErr     error
	closed      []models.ClosedOrder
	placed      []string
	canceled    []string
	nextOrderID int
}

func (m *mockExchange) GetPrice(string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockExchange) GetBalances() (map[string]float64, error) {
	return m.balances, nil
}

func (m *mockExchange) PlaceOrder(_ string, side models.Side, price, volume float64) (string, error) {
	m.nextOrderID++
	id := fmt.Sprintf("EX-%d", m.nextOrderID)
	m.placed = append(m.placed, id)
	return id, nil
}

func (m *mockExchange) CancelOrder(_, externalOrderID string) error {
	m.canceled = append(m.canceled, externalOrderID)
	return nil
}

func (m *mockExchange) ListOpenOrders(string) ([]models.OpenOrder, error) {
	return m.openOrders, m.openErr
}

func (m *mockExchange) ListClosedOrders(_ string, since time.Time) ([]models.ClosedOrder, error) {
	var out []models.ClosedOrder
	for _, o := range m.closed {
		if o.ClosedAt.After(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockExchange) GetKlines(string, string, int) ([]models.Kline, error) {
	return nil, nil
}

// mockAdvisor returns a fixed signal.
type mockAdvisor struct {
	signal models.TrendSignal
	err    error
}

func (m *mockAdvisor) GetTrendSignal(string, int) (models.TrendSignal, error) {
	return m.signal, m.err
}

// countingReporter tallies error reports by type.
type countingReporter struct {
	reports map[string]int
}

func newCountingReporter() *countingReporter {
	return &countingReporter{reports: make(map[string]int)}
}

func (c *countingReporter) Report(errType, _ string, _ errreport.Severity, _ string, _ map[string]string) {
	c.reports[errType]++
}

// recordingNotifier captures every notification.
type recordingNotifier struct {
	titles []string
}

func (r *recordingNotifier) Notify(_ notifier.Level, title, _ string) notifier.Result {
	r.titles = append(r.titles, title)
	return notifier.Delivered
}

func testGridConfig() models.GridConfig {
	return models.GridConfig{
		Pair:            "XRPUSDT",
		BaseAsset:       "XRP",
		QuoteAsset:      "USDT",
		GridRangePct:    4.0,
		GridLevels:      5,
		TotalAllocation: 100.0,
		PricePrecision:  4,
		VolumePrecision: 1,
		StopLossPct:     12.0,
	}
}

type fixture struct {
	sup      *Supervisor
	exchange *mockExchange
	ledger   *ledger.Ledger
	errors   *countingReporter
	notify   *recordingNotifier
	advisor  *mockAdvisor
}

func newFixture(t *testing.T, cfg models.GridConfig) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()

	ex := &mockExchange{
		price:    0.50,
		balances: map[string]float64{"XRP": 500.0, "USDT": 500.0},
	}
	book := ledger.New(nil, log)
	errs := newCountingReporter()
	note := &recordingNotifier{}
	adv := &mockAdvisor{signal: models.TrendSignal{Direction: models.TrendNeutral}}
	orders := lifecycle.NewManager(ex, book, errs, log)
	reps := reporter.New(t.TempDir(), log)

	sup := New(cfg, ex, orders, book, adv, reps, note, errs, log)
	return &fixture{sup: sup, exchange: ex, ledger: book, errors: errs, notify: note, advisor: adv}
}

func openCount(book *ledger.Ledger) int {
	open := models.StatusOpen
	return len(book.Query(ledger.Filter{Status: &open}))
}

// TestBuildPlacesLadder: the first tick builds the grid and places one order
// per level except the one at the baseline.
func TestBuildPlacesLadder(t *testing.T) {
	f := newFixture(t, testGridConfig())

	f.sup.Tick(time.Now())

	assert.Equal(t, StateMonitoring, f.sup.State())
	require.NotNil(t, f.sup.Grid())
	assert.Equal(t, 0.50, f.sup.Grid().BaselinePrice)
	assert.Len(t, f.exchange.placed, 4)
	assert.Equal(t, 4, openCount(f.ledger))
}

// TestBuildAbortsOnInsufficientBalance: no orders are placed, the ledger is
// untouched and exactly one insufficient-funds report is emitted.
func TestBuildAbortsOnInsufficientBalance(t *testing.T) {
	f := newFixture(t, testGridConfig())
	f.exchange.balances = map[string]float64{"XRP": 10.0}

	f.sup.Tick(time.Now())

	assert.Equal(t, StateBuilding, f.sup.State())
	assert.Empty(t, f.exchange.placed)
	assert.Empty(t, f.ledger.Query(ledger.Filter{}))
	assert.Equal(t, 1, f.errors.reports[errreport.TypeInsufficientFunds])
}

func TestBuildAbortsWhenPriceUnavailable(t *testing.T) {
	f := newFixture(t, testGridConfig())
	f.exchange.priceErr = errors.New("connection refused")

	f.sup.Tick(time.Now())

	assert.Equal(t, StateBuilding, f.sup.State())
	assert.Empty(t, f.exchange.placed)
	assert.Equal(t, 1, f.errors.reports[errreport.TypeAPI])
}

// TestEmptyBookTriggersRebuild: when every order has left the book the
// supervisor rebuilds a fresh cycle with the same config.
func TestEmptyBookTriggersRebuild(t *testing.T) {
	f := newFixture(t, testGridConfig())
	now := time.Now()

	f.sup.Tick(now)
	require.Equal(t, StateMonitoring, f.sup.State())
	firstCycle := f.sup.Grid().CycleID
	firstCount := len(f.exchange.placed)
	rangeBefore := f.sup.ActiveConfig().GridRangePct

	// The exchange reports nothing resting.
	f.exchange.openOrders = nil
	f.sup.Tick(now.Add(time.Minute))
	assert.Equal(t, StateRebuilding, f.sup.State())

	f.sup.Tick(now.Add(2 * time.Minute))
	assert.Equal(t, StateMonitoring, f.sup.State())
	assert.NotEqual(t, firstCycle, f.sup.Grid().CycleID)
	assert.Equal(t, rangeBefore, f.sup.ActiveConfig().GridRangePct)
	assert.Greater(t, len(f.exchange.placed), firstCount)
}

// TestRebuildSettlesPendingFills: fills that empty the book are settled into
// the ledger before the rebuild, and a fill reported only after the rebuild
// is still picked up because the reconciliation watermark survives it.
func TestRebuildSettlesPendingFills(t *testing.T) {
	f := newFixture(t, testGridConfig())
	now := time.Now()

	f.sup.Tick(now)
	require.Equal(t, StateMonitoring, f.sup.State())

	firstCycle := f.ledger.Query(ledger.Filter{})
	require.Len(t, firstCycle, 4)

	// Every order but the lowest buy fills shortly after placement.
	fillAt := now.Add(5 * time.Minute)
	var late models.TradeRecord
	for _, rec := range firstCycle {
		if rec.Side == models.Buy && rec.Price < 0.482 {
			late = rec
			continue
		}
		f.exchange.closed = append(f.exchange.closed, models.ClosedOrder{
			ExternalOrderID: rec.ExternalOrderID,
			Status:          models.ClosedOrderFilled,
			FilledVolume:    rec.Volume,
			Price:           rec.Price,
			Cost:            rec.Price * rec.Volume,
			Fee:             0.001 * rec.Price * rec.Volume,
			ClosedAt:        fillAt,
		})
	}
	require.NotEmpty(t, late.ID)

	// The exchange reports an empty book on the next tick.
	f.exchange.openOrders = nil
	f.sup.Tick(now.Add(6 * time.Minute))
	require.Equal(t, StateRebuilding, f.sup.State())

	filled := models.StatusFilled
	assert.Len(t, f.ledger.Query(ledger.Filter{Status: &filled}), 3)
	assert.NotEmpty(t, f.ledger.Margins())

	// The last fill closes in the gap between that pass and the rebuild.
	f.exchange.closed = append(f.exchange.closed, models.ClosedOrder{
		ExternalOrderID: late.ExternalOrderID,
		Status:          models.ClosedOrderFilled,
		FilledVolume:    late.Volume,
		Price:           late.Price,
		Cost:            late.Price * late.Volume,
		ClosedAt:        now.Add(6*time.Minute + 30*time.Second),
	})

	f.sup.Tick(now.Add(7 * time.Minute))
	require.Equal(t, StateMonitoring, f.sup.State())
	f.exchange.openOrders = []models.OpenOrder{{ExternalOrderID: "EX-5"}}

	// The next periodic reconciliation still covers that gap.
	f.sup.Tick(now.Add(25 * time.Minute))

	got, err := f.ledger.Get(late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
}

// TestStopLossEntersCooldown: a deep price drop cancels the ladder and
// pauses the bot; building resumes once the cooldown elapses.
func TestStopLossEntersCooldown(t *testing.T) {
	f := newFixture(t, testGridConfig())
	now := time.Now()

	f.sup.Tick(now)
	require.Equal(t, StateMonitoring, f.sup.State())
	require.NotZero(t, openCount(f.ledger))

	// 0.40 < 0.50 * (1 - 12%) = 0.44.
	f.exchange.price = 0.40
	f.sup.Tick(now.Add(time.Minute))

	assert.Equal(t, StateStopLossCooldown, f.sup.State())
	assert.Zero(t, openCount(f.ledger))
	assert.Contains(t, f.notify.titles, "Stop-loss triggered")

	// Still cooling down a few minutes later.
	f.sup.Tick(now.Add(10 * time.Minute))
	assert.Equal(t, StateStopLossCooldown, f.sup.State())

	// After the pause the grid is rebuilt at the new price.
	f.sup.Tick(now.Add(2 * time.Hour))
	assert.Equal(t, StateMonitoring, f.sup.State())
	assert.Equal(t, 0.40, f.sup.Grid().BaselinePrice)
}

// TestTrendAdjustmentTriggersRebuild: a bullish signal widens the range and
// forces a rebuild with the adjusted config.
func TestTrendAdjustmentTriggersRebuild(t *testing.T) {
	cfg := testGridConfig()
	cfg.TrendCheckInterval = models.Duration(30 * time.Minute)
	f := newFixture(t, cfg)
	now := time.Now()

	f.sup.Tick(now)
	require.Equal(t, StateMonitoring, f.sup.State())

	// Keep the book populated so monitoring reaches the trend duty.
	f.exchange.openOrders = []models.OpenOrder{{ExternalOrderID: "EX-1"}}
	f.advisor.signal = models.TrendSignal{Direction: models.TrendBullish, Magnitude: 3.0}

	f.sup.Tick(now.Add(31 * time.Minute))

	assert.Equal(t, StateRebuilding, f.sup.State())
	assert.InDelta(t, 4.8, f.sup.ActiveConfig().GridRangePct, 1e-9)
}

// TestNeutralTrendLeavesGridAlone: no material config change, no rebuild.
func TestNeutralTrendLeavesGridAlone(t *testing.T) {
	cfg := testGridConfig()
	cfg.TrendCheckInterval = models.Duration(30 * time.Minute)
	f := newFixture(t, cfg)
	now := time.Now()

	f.sup.Tick(now)
	f.exchange.openOrders = []models.OpenOrder{{ExternalOrderID: "EX-1"}}

	f.sup.Tick(now.Add(31 * time.Minute))
	assert.Equal(t, StateMonitoring, f.sup.State())
}

// TestOrderTimeoutSweep: stale open orders are canceled and the grid is
// scheduled for a rebuild.
func TestOrderTimeoutSweep(t *testing.T) {
	cfg := testGridConfig()
	cfg.OrderTimeout = models.Duration(24 * time.Hour)
	f := newFixture(t, cfg)
	now := time.Now()

	f.sup.Tick(now)
	require.Equal(t, StateMonitoring, f.sup.State())
	openBefore := openCount(f.ledger)
	require.NotZero(t, openBefore)

	f.exchange.openOrders = []models.OpenOrder{{ExternalOrderID: "EX-1"}}
	f.sup.Tick(now.Add(25 * time.Hour))

	assert.Equal(t, StateRebuilding, f.sup.State())
	assert.Zero(t, openCount(f.ledger))
}

// TestMonitoringSkipsTickOnPriceFailure: a transport error skips the tick's
// duties and the state is unchanged.
func TestMonitoringSkipsTickOnPriceFailure(t *testing.T) {
	f := newFixture(t, testGridConfig())
	now := time.Now()

	f.sup.Tick(now)
	require.Equal(t, StateMonitoring, f.sup.State())

	f.exchange.priceErr = errors.New("timeout")
	f.exchange.openOrders = nil
	f.sup.Tick(now.Add(time.Minute))

	assert.Equal(t, StateMonitoring, f.sup.State())
}

// TestBuildCancelsRestingOrders: orders surviving from a previous run are
// cleared before the new ladder is placed.
func TestBuildCancelsRestingOrders(t *testing.T) {
	f := newFixture(t, testGridConfig())
	f.exchange.openOrders = []models.OpenOrder{{ExternalOrderID: "STALE-1"}}

	f.sup.Tick(time.Now())

	assert.Equal(t, StateMonitoring, f.sup.State())
	assert.Contains(t, f.exchange.canceled, "STALE-1")
}
