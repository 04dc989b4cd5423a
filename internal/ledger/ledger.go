// Package ledger owns the durable record of every order the bot has ever
// submitted. Records are appended and updated, never deleted; the ledger is
// the audit trail the rest of the system is reconciled against.
package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"xrp-grid-bot-go/internal/models"
	"xrp-grid-bot-go/internal/persistence"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateID is returned when appending a record whose id exists.
	ErrDuplicateID = errors.New("ledger: duplicate trade id")
	// ErrNotFound is returned when updating or reading an unknown record.
	ErrNotFound = errors.New("ledger: trade not found")
	// ErrInvalidTransition is returned for a status change the trade record
	// state machine does not allow.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrIncompleteFill is returned for a transition to filled that does not
	// carry a positive filled volume and actual price.
	ErrIncompleteFill = errors.New("ledger: fill missing volume or price")
)

// validTransitions is the trade record state machine:
// pending -> open|failed, open -> filled|canceled.
var validTransitions = map[models.Status][]models.Status{
	models.StatusPending: {models.StatusOpen, models.StatusFailed},
	models.StatusOpen:    {models.StatusFilled, models.StatusCanceled},
}

// Ledger is the in-memory view of the trade record store, written through
// to a TradeRepository. It has a single logical writer (the supervisor
// worker); the mutex makes reads from other goroutines safe.
type Ledger struct {
	mu      sync.RWMutex
	trades  map[string]*models.TradeRecord
	order   []string // ids in append order
	margins []models.MarginRecord
	repo    persistence.TradeRepository
	logger  *zap.SugaredLogger
}

// New creates a ledger backed by repo. A nil repo keeps the ledger purely
// in memory, which the tests rely on.
func New(repo persistence.TradeRepository, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{
		trades: make(map[string]*models.TradeRecord),
		repo:   repo,
		logger: logger,
	}
}

// Load restores the ledger from the repository. Records come back in
// creation order so that matching age ordering survives restarts.
func (l *Ledger) Load() error {
	if l.repo == nil {
		return nil
	}

	records, err := l.repo.LoadTrades()
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	margins, err := l.repo.LoadMargins()
	if err != nil {
		return fmt.Errorf("failed to load margins: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = make(map[string]*models.TradeRecord, len(records))
	l.order = make([]string, 0, len(records))
	for _, record := range records {
		l.trades[record.ID] = record
		l.order = append(l.order, record.ID)
	}
	l.margins = margins

	l.logger.Infof("Ledger loaded: %d trade records, %d margin records.", len(records), len(margins))
	return nil
}

// NewTradeID returns a compact unique id: base62 over the creation
// timestamp plus four random bytes.
func NewTradeID() string {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
	if _, err := rand.Read(buf[8:]); err != nil {
		// Timestamp alone still gives practical uniqueness per process.
		binary.BigEndian.PutUint32(buf[8:], uint32(time.Now().Nanosecond()))
	}
	return base62.EncodeToString(buf)
}

// Append adds a new trade record. The id must be unique for all time.
func (l *Ledger) Append(record *models.TradeRecord) error {
	if record.ID == "" {
		return fmt.Errorf("ledger: record has empty id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.trades[record.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	stored := *record
	l.trades[record.ID] = &stored
	l.order = append(l.order, record.ID)

	l.persistTrade(&stored)
	return nil
}

// Update merges the patch into the record with the given id. A status change
// is validated against the state machine; callers may treat an
// ErrInvalidTransition as log-and-continue rather than aborting their cycle.
func (l *Ledger) Update(id string, patch models.TradePatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.trades[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if patch.Status != nil && *patch.Status != record.Status {
		if !transitionAllowed(record.Status, *patch.Status) {
			return fmt.Errorf("%w: %s -> %s (trade %s)", ErrInvalidTransition, record.Status, *patch.Status, id)
		}
		if *patch.Status == models.StatusFilled {
			// A filled record must carry a positive filled volume and actual
			// price; margin matching divides by both.
			filled := record.FilledVolume
			if patch.FilledVolume != nil {
				filled = *patch.FilledVolume
			}
			actualPrice := record.ActualPrice
			if patch.ActualPrice != nil {
				actualPrice = *patch.ActualPrice
			}
			if filled <= 0 || actualPrice <= 0 {
				return fmt.Errorf("%w: trade %s (volume %.8f, price %.8f)", ErrIncompleteFill, id, filled, actualPrice)
			}
		}
		record.Status = *patch.Status
	}
	if patch.ExternalOrderID != nil {
		record.ExternalOrderID = *patch.ExternalOrderID
	}
	if patch.FilledVolume != nil {
		filled := *patch.FilledVolume
		if filled > record.Volume {
			// filledVolume may never exceed the requested volume.
			l.logger.Warnf("Trade %s reported filled volume %.8f above requested %.8f, clamping.", id, filled, record.Volume)
			filled = record.Volume
		}
		record.FilledVolume = filled
	}
	if patch.ActualPrice != nil {
		record.ActualPrice = *patch.ActualPrice
	}
	if patch.Cost != nil {
		record.Cost = *patch.Cost
	}
	if patch.Fee != nil {
		record.Fee = *patch.Fee
	}
	if patch.FilledAt != nil {
		record.FilledAt = patch.FilledAt
	}
	if patch.ErrorDetail != nil {
		record.ErrorDetail = *patch.ErrorDetail
	}
	if patch.MatchedVolume != nil {
		record.MatchedVolume = *patch.MatchedVolume
	}
	record.UpdatedAt = time.Now()

	l.persistTrade(record)
	return nil
}

func transitionAllowed(from, to models.Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Get returns a copy of the record with the given id.
func (l *Ledger) Get(id string) (models.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, exists := l.trades[id]
	if !exists {
		return models.TradeRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *record, nil
}

// FindByExternalOrderID returns the record holding the given exchange order
// id, if any.
func (l *Ledger) FindByExternalOrderID(orderID string) (models.TradeRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, id := range l.order {
		record := l.trades[id]
		if record.ExternalOrderID == orderID {
			return *record, true
		}
	}
	return models.TradeRecord{}, false
}

// Filter selects records in a Query call. Nil fields match everything.
type Filter struct {
	Status *models.Status
	Side   *models.Side
	Limit  int // 0 means unlimited
}

// Query returns copies of the records matching the filter, in append order.
func (l *Ledger) Query(filter Filter) []models.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []models.TradeRecord
	for _, id := range l.order {
		record := l.trades[id]
		if filter.Status != nil && record.Status != *filter.Status {
			continue
		}
		if filter.Side != nil && record.Side != *filter.Side {
			continue
		}
		results = append(results, *record)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

// Margins returns a copy of every margin record emitted so far.
func (l *Ledger) Margins() []models.MarginRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.MarginRecord, len(l.margins))
	copy(out, l.margins)
	return out
}

// persistTrade writes through to the repository. Persistence failures are
// logged and reported upstream by the caller's cycle, never fatal here.
func (l *Ledger) persistTrade(record *models.TradeRecord) {
	if l.repo == nil {
		return
	}
	stored := *record
	if err := l.repo.SaveTrade(&stored); err != nil {
		l.logger.Errorf("Failed to persist trade %s: %v", record.ID, err)
	}
}

func (l *Ledger) persistMargins(records []models.MarginRecord) {
	if l.repo == nil || len(records) == 0 {
		return
	}
	if err := l.repo.AppendMargins(records); err != nil {
		l.logger.Errorf("Failed to persist %d margin records: %v", len(records), err)
	}
}
