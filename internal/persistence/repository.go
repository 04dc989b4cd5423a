package persistence

import "xrp-grid-bot-go/internal/models"

// TradeRepository abstracts the durable record store behind the trade
// ledger (e.g. BadgerDB, in-memory) from the rest of the application.
// Records are only ever appended or updated, never deleted.
type TradeRepository interface {
	// SaveTrade writes a trade record under its id, creating or replacing it.
	SaveTrade(record *models.TradeRecord) error

	// LoadTrades returns every stored trade record.
	LoadTrades() ([]*models.TradeRecord, error)

	// AppendMargins appends margin records to the store.
	AppendMargins(records []models.MarginRecord) error

	// LoadMargins returns every stored margin record.
	LoadMargins() ([]models.MarginRecord, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
