package ledger

import (
	"sort"
	"time"

	"xrp-grid-bot-go/internal/models"
)

// volumeEpsilon treats residual volumes below this as fully consumed.
const volumeEpsilon = 1e-9

// MatchMargins pairs filled sell records against cheaper filled buy records
// and returns the margin records emitted by this call.
//
// Buys are bucketed by ascending fill price; each sell, oldest fill first,
// repeatedly consumes the cheapest buy bucket whose price is strictly below
// the sell price until the sell volume is exhausted or no eligible bucket
// remains. Matching is keyed by price, not time: a sell may match a buy that
// was placed after it chronologically. Consumed volume is debited from both
// records, so calling this again without new fills emits nothing.
func (l *Ledger) MatchMargins() []models.MarginRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	buys := l.unmatchedFills(models.Buy)
	sort.Slice(buys, func(i, j int) bool {
		if buys[i].ActualPrice != buys[j].ActualPrice {
			return buys[i].ActualPrice < buys[j].ActualPrice
		}
		return fillTime(buys[i]).Before(fillTime(buys[j]))
	})

	sells := l.unmatchedFills(models.Sell)
	sort.Slice(sells, func(i, j int) bool {
		return fillTime(sells[i]).Before(fillTime(sells[j]))
	})

	var emitted []models.MarginRecord
	for _, sell := range sells {
		for sell.RemainingVolume() > volumeEpsilon {
			buy := cheapestEligible(buys, sell.ActualPrice)
			if buy == nil {
				// No buy below the sell price; the remaining sell volume
				// stays unmatched until new buys fill.
				break
			}

			matched := sell.RemainingVolume()
			if remaining := buy.RemainingVolume(); remaining < matched {
				matched = remaining
			}

			margin := matched * (sell.ActualPrice - buy.ActualPrice)
			record := models.MarginRecord{
				BuyTradeID:       buy.ID,
				SellTradeID:      sell.ID,
				BuyPrice:         buy.ActualPrice,
				SellPrice:        sell.ActualPrice,
				MatchedVolume:    matched,
				Margin:           margin,
				MarginPercentage: margin / (matched * buy.ActualPrice) * 100,
				Timestamp:        time.Now(),
			}
			emitted = append(emitted, record)

			buy.MatchedVolume += matched
			sell.MatchedVolume += matched
			buy.UpdatedAt = record.Timestamp
			sell.UpdatedAt = record.Timestamp
			l.persistTrade(buy)
			l.persistTrade(sell)
		}
	}

	if len(emitted) > 0 {
		l.margins = append(l.margins, emitted...)
		l.persistMargins(emitted)
		l.logger.Infof("Margin matching emitted %d records.", len(emitted))
	}
	return emitted
}

// unmatchedFills returns the live records (not copies) of filled trades on
// one side that still have unconsumed volume. Caller holds the lock.
func (l *Ledger) unmatchedFills(side models.Side) []*models.TradeRecord {
	var fills []*models.TradeRecord
	for _, id := range l.order {
		record := l.trades[id]
		if record.Side != side || record.Status != models.StatusFilled {
			continue
		}
		if record.RemainingVolume() > volumeEpsilon {
			fills = append(fills, record)
		}
	}
	return fills
}

// cheapestEligible returns the lowest-priced buy, in the pre-sorted slice,
// that is strictly cheaper than sellPrice and has volume left.
func cheapestEligible(buys []*models.TradeRecord, sellPrice float64) *models.TradeRecord {
	for _, buy := range buys {
		if buy.ActualPrice >= sellPrice {
			// Buys are sorted ascending by price; nothing further is eligible.
			return nil
		}
		if buy.RemainingVolume() > volumeEpsilon {
			return buy
		}
	}
	return nil
}

func fillTime(record *models.TradeRecord) time.Time {
	if record.FilledAt != nil {
		return *record.FilledAt
	}
	return record.CreatedAt
}

// PerformanceSummary aggregates the whole ledger in one pass. It is a pure
// read; nothing is mutated or persisted.
func (l *Ledger) PerformanceSummary() models.PerformanceSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := models.PerformanceSummary{
		GeneratedAt:    time.Now(),
		CountsByStatus: make(map[models.Status]int),
		CountsBySide:   make(map[models.Side]int),
	}

	for _, id := range l.order {
		record := l.trades[id]
		summary.TotalTrades++
		summary.CountsByStatus[record.Status]++
		summary.CountsBySide[record.Side]++

		if record.Status == models.StatusOpen {
			summary.OpenOrders++
		}
		if record.Status == models.StatusFilled {
			switch record.Side {
			case models.Buy:
				summary.BuyVolume += record.FilledVolume
			case models.Sell:
				summary.SellVolume += record.FilledVolume
			}
		}
	}
	summary.NetVolume = summary.BuyVolume - summary.SellVolume

	var pctSum float64
	for _, margin := range l.margins {
		summary.TotalMargin += margin.Margin
		summary.MatchedVolume += margin.MatchedVolume
		pctSum += margin.MarginPercentage
	}
	summary.MarginRecords = len(l.margins)
	if len(l.margins) > 0 {
		summary.AvgMarginPct = pctSum / float64(len(l.margins))
	}

	return summary
}
