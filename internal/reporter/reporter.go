// Package reporter renders periodic performance reports from the trade
// ledger and archives them as daily JSON artifacts.
package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"xrp-grid-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// Reporter formats performance summaries and persists one report file per
// calendar day under the data directory.
type Reporter struct {
	dataDir string
	logger  *zap.SugaredLogger
}

// New creates a Reporter writing artifacts under dataDir. The directory is
// created on first write if it does not exist.
func New(dataDir string, logger *zap.SugaredLogger) *Reporter {
	return &Reporter{dataDir: dataDir, logger: logger}
}

// report is the JSON artifact layout. Margins carry the individual matches
// behind the summary totals so a day's profit can be audited offline.
type report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Pair        string                    `json:"pair"`
	Summary     models.PerformanceSummary `json:"summary"`
	Margins     []models.MarginRecord     `json:"margins"`
}

// Render returns the summary as a bordered text table for the log.
func (r *Reporter) Render(pair string, summary models.PerformanceSummary) string {
	t := table.NewWriter()
	t.SetTitle("Performance %s", pair)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total trades", summary.TotalTrades},
		{"Open orders", summary.OpenOrders},
		{"Filled", summary.CountsByStatus[models.StatusFilled]},
		{"Canceled", summary.CountsByStatus[models.StatusCanceled]},
		{"Failed", summary.CountsByStatus[models.StatusFailed]},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Bought volume", fmt.Sprintf("%.4f", summary.BuyVolume)},
		{"Sold volume", fmt.Sprintf("%.4f", summary.SellVolume)},
		{"Net volume", fmt.Sprintf("%.4f", summary.NetVolume)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Margin matches", summary.MarginRecords},
		{"Matched volume", fmt.Sprintf("%.4f", summary.MatchedVolume)},
		{"Total margin", fmt.Sprintf("%.4f", summary.TotalMargin)},
		{"Avg margin %", fmt.Sprintf("%.2f%%", summary.AvgMarginPct)},
	})
	return t.Render()
}

// Publish logs the rendered table and writes the daily JSON artifact.
// A fresh summary on the same day overwrites the earlier file, so the
// artifact always holds the latest snapshot for that date.
func (r *Reporter) Publish(pair string, summary models.PerformanceSummary, margins []models.MarginRecord) error {
	r.logger.Infof("Performance report for %s:\n%s", pair, r.Render(pair, summary))

	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	artifact := report{
		GeneratedAt: time.Now(),
		Pair:        pair,
		Summary:     summary,
		Margins:     margins,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	path := filepath.Join(r.dataDir, fmt.Sprintf("performance_report_%s.json", time.Now().Format("20060102")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	r.logger.Infof("Performance report archived to %s.", path)
	return nil
}
