// Package supervisor runs the grid control loop as an explicit finite-state
// machine. Every transition is evaluated at a tick boundary; the loop never
// recurses and never terminates except on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"xrp-grid-bot-go/internal/advisor"
	"xrp-grid-bot-go/internal/errreport"
	"xrp-grid-bot-go/internal/exchange"
	"xrp-grid-bot-go/internal/grid"
	"xrp-grid-bot-go/internal/ledger"
	"xrp-grid-bot-go/internal/lifecycle"
	"xrp-grid-bot-go/internal/models"
	"xrp-grid-bot-go/internal/notifier"
	"xrp-grid-bot-go/internal/reporter"
	"xrp-grid-bot-go/internal/risk"

	"go.uber.org/zap"
)

// State is the supervisor's position in the control loop.
type State string

const (
	StateBuilding         State = "building"
	StateMonitoring       State = "monitoring"
	StateStopLossCooldown State = "stop_loss_cooldown"
	StateRebuilding       State = "rebuilding"
)

const (
	reconcileInterval = 15 * time.Minute
	cooldownDuration  = time.Hour
	reportInterval    = 24 * time.Hour

	// Candles handed to the trend advisor per check.
	trendLookback = 60
)

// Supervisor owns the grid lifecycle: it builds the ladder, watches it,
// tears it down on stop-loss and rebuilds it when the book empties or the
// trend advisor shifts the configuration.
type Supervisor struct {
	activeGrid models.GridConfig

	exchange exchange.Exchange
	orders   *lifecycle.Manager
	ledger   *ledger.Ledger
	advisor  advisor.Advisor
	reporter *reporter.Reporter
	notify   notifier.Notifier
	errors   errreport.Reporter
	logger   *zap.SugaredLogger

	state         State
	grid          *models.GridState
	cooldownUntil time.Time

	watermark      time.Time // closed-order reconciliation cursor
	lastReconcile  time.Time
	lastTrendCheck time.Time
	lastReport     time.Time
}

// New builds a supervisor in the Building state.
func New(
	cfg models.GridConfig,
	ex exchange.Exchange,
	orders *lifecycle.Manager,
	l *ledger.Ledger,
	adv advisor.Advisor,
	rep *reporter.Reporter,
	n notifier.Notifier,
	errs errreport.Reporter,
	logger *zap.SugaredLogger,
) *Supervisor {
	return &Supervisor{
		activeGrid: cfg,
		exchange:   ex,
		orders:     orders,
		ledger:     l,
		advisor:    adv,
		reporter:   rep,
		notify:     n,
		errors:     errs,
		logger:     logger,
		state:      StateBuilding,
	}
}

// State returns the current loop state.
func (s *Supervisor) State() State { return s.state }

// Grid returns the active grid state, nil before the first successful build.
func (s *Supervisor) Grid() *models.GridState { return s.grid }

// ActiveConfig returns the grid configuration currently in force, including
// any trend adjustments applied since startup.
func (s *Supervisor) ActiveConfig() models.GridConfig { return s.activeGrid }

// Run executes the loop until the context is canceled. One tick fires
// immediately, then every price check interval.
func (s *Supervisor) Run(ctx context.Context) {
	interval := s.activeGrid.PriceCheckInterval.Std()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.logger.Infof("Supervisor started for %s, tick interval %s.", s.activeGrid.Pair, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Supervisor stopping: context canceled.")
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick advances the state machine once. Every failure inside a tick is
// reported and swallowed; the next tick retries naturally.
func (s *Supervisor) Tick(now time.Time) {
	switch s.state {
	case StateBuilding:
		s.build(now)
	case StateMonitoring:
		s.monitor(now)
	case StateStopLossCooldown:
		if !now.Before(s.cooldownUntil) {
			s.logger.Info("Stop-loss cooldown elapsed, rebuilding the grid.")
			s.state = StateBuilding
			s.build(now)
		}
	case StateRebuilding:
		s.state = StateBuilding
		s.build(now)
	}
}

// build fetches market state, generates the ladder and places every order.
// On any precondition failure the supervisor stays in Building and retries
// on the next tick.
func (s *Supervisor) build(now time.Time) {
	cfg := s.activeGrid

	price, err := s.exchange.GetPrice(cfg.Pair)
	if err != nil {
		s.logger.Warnf("Grid build aborted: price unavailable: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityMedium, "build", nil)
		return
	}

	balances, err := s.exchange.GetBalances()
	if err != nil {
		s.logger.Warnf("Grid build aborted: balances unavailable: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityMedium, "build", nil)
		return
	}
	if balances[cfg.BaseAsset] < cfg.TotalAllocation {
		msg := fmt.Sprintf("%s balance %.4f below total allocation %.4f",
			cfg.BaseAsset, balances[cfg.BaseAsset], cfg.TotalAllocation)
		s.logger.Warnf("Grid build aborted: %s.", msg)
		s.errors.Report(errreport.TypeInsufficientFunds, msg, errreport.SeverityHigh, "build", nil)
		s.notify.Notify(notifier.LevelWarning, "Grid build aborted", msg)
		return
	}

	state, err := grid.Generate(price, cfg)
	if err != nil {
		s.logger.Errorf("Grid generation failed: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityHigh, "build", nil)
		return
	}

	s.cancelResting(cfg)

	placed, failed := s.placeLadder(cfg, state)
	s.grid = state
	s.state = StateMonitoring
	if s.watermark.IsZero() {
		// First cycle only. Rebuilds keep the watermark so fills that closed
		// before the rebuild are still reconciled.
		s.watermark = now
	}
	s.lastReconcile = now
	s.lastTrendCheck = now
	if s.lastReport.IsZero() {
		s.lastReport = now
	}

	s.logger.Infof("Grid cycle %s built: baseline %.4f, bounds [%.4f, %.4f], %d orders placed, %d failed.",
		state.CycleID, state.BaselinePrice, state.LowerBound, state.UpperBound, placed, failed)
	s.notify.Notify(notifier.LevelInfo, "Grid built",
		fmt.Sprintf("%s cycle %s: baseline %.4f, %d orders placed, %d failed",
			cfg.Pair, state.CycleID, state.BaselinePrice, placed, failed))
}

// placeLadder submits one order per level, buys below the baseline and sells
// above it. The level nearest the baseline is skipped so the grid never
// crosses the market at build time.
func (s *Supervisor) placeLadder(cfg models.GridConfig, state *models.GridState) (placed, failed int) {
	skip := grid.NearestIndex(state.Prices, state.BaselinePrice)
	for i, price := range state.Prices {
		if i == skip {
			continue
		}
		side := models.Buy
		if price > state.BaselinePrice {
			side = models.Sell
		}
		record := s.orders.PlaceOrder(cfg, side, price, state.Sizes[i])
		if record.Status == models.StatusFailed {
			failed++
			continue
		}
		placed++
	}
	return placed, failed
}

// cancelResting clears any orders still on the book from a previous cycle
// or process run, best effort.
func (s *Supervisor) cancelResting(cfg models.GridConfig) {
	open, err := s.exchange.ListOpenOrders(cfg.Pair)
	if err != nil {
		s.logger.Warnf("Could not list resting orders before build: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityLow, "build", nil)
		return
	}
	for _, o := range open {
		if record, found := s.ledger.FindByExternalOrderID(o.ExternalOrderID); found {
			s.orders.CancelOrder(record)
			continue
		}
		// Unknown to the ledger (stray from a previous run without state).
		if err := s.exchange.CancelOrder(cfg.Pair, o.ExternalOrderID); err != nil {
			s.logger.Warnf("Failed to cancel stray order %s: %v", o.ExternalOrderID, err)
		}
	}
}

// monitor watches the active grid: stop-loss first, then the periodic
// duties, then the empty-book check.
func (s *Supervisor) monitor(now time.Time) {
	cfg := s.activeGrid

	price, err := s.exchange.GetPrice(cfg.Pair)
	if err != nil {
		s.logger.Warnf("Monitoring tick skipped: price unavailable: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityLow, "monitor", nil)
		return
	}

	if risk.CheckStopLoss(price, s.grid.BaselinePrice, cfg.StopLossPct) {
		s.triggerStopLoss(now, price)
		return
	}

	if now.Sub(s.lastReconcile) >= reconcileInterval {
		s.reconcile(now, price)
	}

	if s.sweepTimedOut(now) {
		s.logger.Info("Timed-out orders canceled, scheduling a grid rebuild.")
		// Settle any fills that closed since the last pass before the book
		// is torn down.
		s.reconcile(now, price)
		s.state = StateRebuilding
		return
	}

	open, err := s.exchange.ListOpenOrders(cfg.Pair)
	if err != nil {
		s.logger.Warnf("Could not list open orders: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityLow, "monitor", nil)
		return
	}
	if len(open) == 0 {
		s.logger.Info("Order book is empty, scheduling a grid rebuild.")
		// An empty book usually means the orders filled; reconcile them into
		// the ledger before rebuilding on top.
		s.reconcile(now, price)
		s.state = StateRebuilding
		return
	}

	if cfg.TrendCheckInterval.Std() > 0 && now.Sub(s.lastTrendCheck) >= cfg.TrendCheckInterval.Std() {
		s.checkTrend(now)
		if s.state == StateRebuilding {
			return
		}
	}

	if now.Sub(s.lastReport) >= reportInterval {
		s.publishReport(now)
	}
}

// triggerStopLoss cancels the whole ladder and enters the cooldown pause.
func (s *Supervisor) triggerStopLoss(now time.Time, price float64) {
	msg := fmt.Sprintf("%s price %.4f fell below stop-loss threshold (baseline %.4f, %.1f%%)",
		s.activeGrid.Pair, price, s.grid.BaselinePrice, s.activeGrid.StopLossPct)
	s.logger.Warnf("Stop-loss triggered: %s.", msg)

	for _, record := range s.openRecords() {
		s.orders.CancelOrder(record)
	}

	s.state = StateStopLossCooldown
	s.cooldownUntil = now.Add(cooldownDuration)
	s.notify.Notify(notifier.LevelCritical, "Stop-loss triggered",
		fmt.Sprintf("%s; cooling down until %s", msg, s.cooldownUntil.Format(time.RFC3339)))
}

// reconcile settles closed orders and advances the watermark. A transport
// failure leaves the watermark alone so the next pass re-covers the window.
func (s *Supervisor) reconcile(now time.Time, price float64) {
	margins, err := s.orders.ReconcileClosedOrders(s.activeGrid, s.watermark, price)
	if err != nil {
		s.logger.Warnf("Reconciliation failed: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityMedium, "reconcile", nil)
		return
	}
	s.lastReconcile = now
	s.watermark = now

	if len(margins) > 0 {
		var total float64
		for _, m := range margins {
			total += m.Margin
		}
		s.logger.Infof("Reconciliation matched %d margin record(s), %.4f %s realized.",
			len(margins), total, s.activeGrid.QuoteAsset)
		s.notify.Notify(notifier.LevelInfo, "Profit realized",
			fmt.Sprintf("%d match(es), %.4f %s", len(margins), total, s.activeGrid.QuoteAsset))
	}
}

// sweepTimedOut cancels open orders older than the configured timeout and
// reports whether any were swept.
func (s *Supervisor) sweepTimedOut(now time.Time) bool {
	timeout := s.activeGrid.OrderTimeout.Std()
	if timeout <= 0 {
		return false
	}
	swept := false
	for _, record := range s.openRecords() {
		if now.Sub(record.CreatedAt) < timeout {
			continue
		}
		s.logger.Infof("Order %s exceeded the %s timeout, canceling.", record.ID, timeout)
		s.orders.CancelOrder(record)
		swept = true
	}
	return swept
}

// checkTrend asks the advisor for a signal and schedules a rebuild when the
// adjusted configuration differs materially from the active one.
func (s *Supervisor) checkTrend(now time.Time) {
	s.lastTrendCheck = now

	signal, err := s.advisor.GetTrendSignal(s.activeGrid.Pair, trendLookback)
	if err != nil {
		s.logger.Warnf("Trend check failed: %v", err)
		s.errors.Report(errreport.TypeAPI, err.Error(), errreport.SeverityLow, "trend", nil)
		return
	}

	adjusted := risk.AdjustForTrend(s.activeGrid, signal)
	if !risk.Differs(s.activeGrid, adjusted) {
		return
	}

	s.logger.Infof("Trend %s (%.2f%%) adjusted the grid config: range %.2f%% -> %.2f%%, allocation %.2f -> %.2f. Rebuilding.",
		signal.Direction, signal.Magnitude,
		s.activeGrid.GridRangePct, adjusted.GridRangePct,
		s.activeGrid.TotalAllocation, adjusted.TotalAllocation)
	s.notify.Notify(notifier.LevelInfo, "Trend rebuild",
		fmt.Sprintf("%s trend (%.2f%%): range %.2f%% -> %.2f%%",
			signal.Direction, signal.Magnitude, s.activeGrid.GridRangePct, adjusted.GridRangePct))
	s.activeGrid = adjusted
	s.state = StateRebuilding
}

// publishReport emits the rolling 24h performance summary.
func (s *Supervisor) publishReport(now time.Time) {
	s.lastReport = now

	summary := s.ledger.PerformanceSummary()
	if err := s.reporter.Publish(s.activeGrid.Pair, summary, s.ledger.Margins()); err != nil {
		s.logger.Warnf("Failed to publish performance report: %v", err)
		s.errors.Report(errreport.TypePersistence, err.Error(), errreport.SeverityLow, "report", nil)
	}
	s.notify.Notify(notifier.LevelInfo, "Daily performance",
		fmt.Sprintf("%s: %d trades, %.4f %s total margin (avg %.2f%%)",
			s.activeGrid.Pair, summary.TotalTrades, summary.TotalMargin,
			s.activeGrid.QuoteAsset, summary.AvgMarginPct))
}

func (s *Supervisor) openRecords() []models.TradeRecord {
	open := models.StatusOpen
	return s.ledger.Query(ledger.Filter{Status: &open})
}
