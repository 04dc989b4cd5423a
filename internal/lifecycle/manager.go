// Package lifecycle drives orders through the exchange: placement creates
// ledger records, reconciliation settles them, cancellation retires them.
// Nothing here panics or propagates past the tick boundary; callers inspect
// record statuses rather than handling errors.
package lifecycle

import (
	"fmt"
	"math"
	"time"

	"xrp-grid-bot-go/internal/errreport"
	"xrp-grid-bot-go/internal/exchange"
	"xrp-grid-bot-go/internal/ledger"
	"xrp-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// reinvestDiscount prices reinvestment buys slightly below the market so
// they rest on the book instead of crossing it.
const reinvestDiscount = 0.99

// Manager orchestrates order placement, cancellation and reconciliation
// between the exchange gateway and the trade ledger.
type Manager struct {
	exchange exchange.Exchange
	ledger   *ledger.Ledger
	reporter errreport.Reporter
	logger   *zap.SugaredLogger
}

// NewManager wires the manager to its collaborators.
func NewManager(ex exchange.Exchange, l *ledger.Ledger, reporter errreport.Reporter, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		exchange: ex,
		ledger:   l,
		reporter: reporter,
		logger:   logger,
	}
}

// PlaceOrder creates a pending ledger record, submits the order and settles
// the record to open or failed. It never returns an error: the caller reads
// the outcome off the returned record's status.
func (m *Manager) PlaceOrder(cfg models.GridConfig, side models.Side, price, volume float64) models.TradeRecord {
	record := models.TradeRecord{
		ID:     ledger.NewTradeID(),
		Pair:   cfg.Pair,
		Side:   side,
		Price:  roundTo(price, cfg.PricePrecision),
		Volume: roundTo(volume, cfg.VolumePrecision),
		Status: models.StatusPending,
	}

	if err := m.ledger.Append(&record); err != nil {
		// Without a ledger record the order must not be submitted: the
		// ledger is the audit trail.
		m.logger.Errorf("Failed to append trade record %s: %v", record.ID, err)
		m.reporter.Report(errreport.TypePersistence, err.Error(), errreport.SeverityHigh, "ledger", nil)
		record.Status = models.StatusFailed
		record.ErrorDetail = err.Error()
		return record
	}

	externalID, err := m.exchange.PlaceOrder(cfg.Pair, side, record.Price, record.Volume)
	if err != nil {
		m.logger.Warnf("Order placement failed (%s %s %.8f @ %.8f): %v", side, cfg.Pair, record.Volume, record.Price, err)
		m.reporter.Report(errreport.TypeOrderPlacement, err.Error(), errreport.SeverityMedium, "exchange",
			map[string]string{"trade_id": record.ID, "side": string(side)})
		m.patch(record.ID, models.TradePatch{
			Status:      statusPtr(models.StatusFailed),
			ErrorDetail: strPtr(err.Error()),
		})
	} else {
		m.logger.Infof("Placed %s order %s: %.8f %s @ %.8f (exchange id %s)",
			side, record.ID, record.Volume, cfg.Pair, record.Price, externalID)
		m.patch(record.ID, models.TradePatch{
			Status:          statusPtr(models.StatusOpen),
			ExternalOrderID: strPtr(externalID),
		})
	}

	final, err := m.ledger.Get(record.ID)
	if err != nil {
		return record
	}
	return final
}

// CancelOrder cancels the order behind the record, best effort. Gateway
// failures are reported but never block the caller.
func (m *Manager) CancelOrder(record models.TradeRecord) {
	if record.ExternalOrderID == "" || record.Status != models.StatusOpen {
		return
	}

	if err := m.exchange.CancelOrder(record.Pair, record.ExternalOrderID); err != nil {
		m.logger.Warnf("Failed to cancel order %s (exchange id %s): %v", record.ID, record.ExternalOrderID, err)
		m.reporter.Report(errreport.TypeAPI, err.Error(), errreport.SeverityLow, "cancel",
			map[string]string{"trade_id": record.ID})
		return
	}

	m.patch(record.ID, models.TradePatch{Status: statusPtr(models.StatusCanceled)})
	m.logger.Infof("Canceled order %s (exchange id %s).", record.ID, record.ExternalOrderID)
}

// ReconcileClosedOrders pulls exchange-reported terminal orders since the
// watermark, settles the matching ledger records, runs margin matching when
// sells filled, and reinvests realized profit when configured. It returns
// the margin records emitted by this pass.
func (m *Manager) ReconcileClosedOrders(cfg models.GridConfig, since time.Time, currentPrice float64) ([]models.MarginRecord, error) {
	closedOrders, err := m.exchange.ListClosedOrders(cfg.Pair, since)
	if err != nil {
		return nil, fmt.Errorf("reconciliation fetch failed: %w", err)
	}

	var sellFills []models.TradeRecord
	for _, closed := range closedOrders {
		record, found := m.ledger.FindByExternalOrderID(closed.ExternalOrderID)
		if !found {
			// Not ours (or predates the ledger); leave it alone.
			continue
		}
		if record.Status != models.StatusOpen {
			// Already settled by an earlier pass.
			continue
		}

		switch closed.Status {
		case models.ClosedOrderFilled:
			filledAt := closed.ClosedAt
			m.patch(record.ID, models.TradePatch{
				Status:       statusPtr(models.StatusFilled),
				FilledVolume: floatPtr(closed.FilledVolume),
				ActualPrice:  floatPtr(closed.Price),
				Cost:         floatPtr(closed.Cost),
				Fee:          floatPtr(closed.Fee),
				FilledAt:     &filledAt,
			})
			m.logger.Infof("Order %s filled: %.8f @ %.8f (cost %.8f, fee %.8f).",
				record.ID, closed.FilledVolume, closed.Price, closed.Cost, closed.Fee)
			if record.Side == models.Sell {
				updated, err := m.ledger.Get(record.ID)
				if err == nil {
					sellFills = append(sellFills, updated)
				}
			}
		case models.ClosedOrderCanceled:
			m.patch(record.ID, models.TradePatch{Status: statusPtr(models.StatusCanceled)})
			m.logger.Infof("Order %s reported canceled by the exchange.", record.ID)
		}
	}

	var margins []models.MarginRecord
	if len(sellFills) > 0 {
		margins = m.ledger.MatchMargins()
		if cfg.ProfitReinvestment {
			for _, sell := range sellFills {
				m.reinvestProfit(cfg, sell, currentPrice)
			}
		}
	}
	return margins, nil
}

// reinvestProfit turns the proceeds of a filled sell into a resting buy
// just below the current price, when they cover the minimum tradable volume.
func (m *Manager) reinvestProfit(cfg models.GridConfig, sell models.TradeRecord, currentPrice float64) {
	if currentPrice <= 0 {
		return
	}

	profit := sell.Cost - sell.Fee
	if profit <= 0 {
		return
	}

	buyPrice := currentPrice * reinvestDiscount
	volume := roundTo(profit/buyPrice, cfg.VolumePrecision)
	if volume < cfg.MinOrderVolume {
		m.logger.Debugf("Reinvestment from sell %s skipped: %.8f below minimum volume %.8f.",
			sell.ID, volume, cfg.MinOrderVolume)
		return
	}

	m.logger.Infof("Reinvesting %.8f %s profit from sell %s into a buy of %.8f @ %.8f.",
		profit, cfg.QuoteAsset, sell.ID, volume, buyPrice)
	m.PlaceOrder(cfg, models.Buy, buyPrice, volume)
}

// patch applies a ledger update, tolerating invalid transitions as
// log-and-continue per the error handling design.
func (m *Manager) patch(id string, patch models.TradePatch) {
	if err := m.ledger.Update(id, patch); err != nil {
		m.logger.Warnf("Ledger update for %s rejected: %v", id, err)
		m.reporter.Report(errreport.TypeLedgerTransition, err.Error(), errreport.SeverityLow, "ledger",
			map[string]string{"trade_id": id})
	}
}

func roundTo(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(value*factor) / factor
}

func statusPtr(s models.Status) *models.Status { return &s }
func strPtr(s string) *string                  { return &s }
func floatPtr(f float64) *float64              { return &f }
