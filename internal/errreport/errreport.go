// Package errreport records and categorizes failures. Reporting is cheap
// and never fatal: the control loop hands errors here at tick boundaries
// and keeps running.
package errreport

import (
	"fmt"
	"sync"
	"time"

	"xrp-grid-bot-go/internal/logger"
	"xrp-grid-bot-go/internal/notifier"
)

// Severity grades a reported failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known error types used across the bot.
const (
	TypeAPI               = "api_error"
	TypeInsufficientFunds = "insufficient_funds"
	TypeOrderPlacement    = "order_placement"
	TypeLedgerTransition  = "ledger_transition"
	TypePersistence       = "persistence"
)

// Reporter records a categorized failure. Implementations may attempt a
// registered recovery routine and may escalate via notification.
type Reporter interface {
	Report(errType, message string, severity Severity, category string, context map[string]string)
}

// Noop discards every report. Used in tests.
type Noop struct{}

func (Noop) Report(string, string, Severity, string, map[string]string) {}

// RecoveryFunc attempts to bring the failed subsystem back.
type RecoveryFunc func() error

type typeStats struct {
	count        int
	firstSeen    time.Time
	lastSeen     time.Time
	lastNotified time.Time
	recoveryRuns int
}

// Handler is the live Reporter: it keeps rolling per-type statistics, runs
// registered recovery routines a bounded number of times, and escalates
// high/critical severities through the notifier with a per-type cooldown.
type Handler struct {
	notifier            notifier.Notifier
	maxRecoveryAttempts int
	notifyCooldown      time.Duration

	mu         sync.Mutex
	stats      map[string]*typeStats
	recoveries map[string]RecoveryFunc
}

// NewHandler builds a Handler escalating through n.
func NewHandler(n notifier.Notifier) *Handler {
	return &Handler{
		notifier:            n,
		maxRecoveryAttempts: 3,
		notifyCooldown:      15 * time.Minute,
		stats:               make(map[string]*typeStats),
		recoveries:          make(map[string]RecoveryFunc),
	}
}

// RegisterRecovery installs a recovery routine for an error type.
func (h *Handler) RegisterRecovery(errType string, fn RecoveryFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recoveries[errType] = fn
}

// Report logs the failure, updates statistics, attempts recovery and
// escalates when warranted.
func (h *Handler) Report(errType, message string, severity Severity, category string, context map[string]string) {
	log := logger.S().With("error_type", errType, "severity", string(severity), "category", category)
	for k, v := range context {
		log = log.With(k, v)
	}
	switch severity {
	case SeverityHigh, SeverityCritical:
		log.Error(message)
	case SeverityMedium:
		log.Warn(message)
	default:
		log.Info(message)
	}

	recovery, shouldNotify := h.track(errType, severity)

	if recovery != nil {
		if err := recovery(); err != nil {
			logger.S().Warnf("Recovery for %s failed: %v", errType, err)
		} else {
			logger.S().Infof("Recovery for %s succeeded.", errType)
		}
	}

	if shouldNotify {
		title := fmt.Sprintf("Trading bot error: %s", errType)
		body := fmt.Sprintf("%s\nseverity: %s, category: %s", message, severity, category)
		h.notifier.Notify(severityLevel(severity), title, body)
	}
}

// track updates per-type stats and decides, under the lock, whether to run
// recovery and whether to notify.
func (h *Handler) track(errType string, severity Severity) (RecoveryFunc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	st, ok := h.stats[errType]
	if !ok {
		st = &typeStats{firstSeen: now}
		h.stats[errType] = st
	}
	st.count++
	st.lastSeen = now

	var recovery RecoveryFunc
	if fn, ok := h.recoveries[errType]; ok && st.recoveryRuns < h.maxRecoveryAttempts {
		st.recoveryRuns++
		recovery = fn
	}

	shouldNotify := false
	if severity == SeverityHigh || severity == SeverityCritical {
		if now.Sub(st.lastNotified) >= h.notifyCooldown {
			st.lastNotified = now
			shouldNotify = true
		}
	}
	return recovery, shouldNotify
}

// Summary lists the reported counts per error type.
func (h *Handler) Summary() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int, len(h.stats))
	for errType, st := range h.stats {
		out[errType] = st.count
	}
	return out
}

func severityLevel(severity Severity) notifier.Level {
	switch severity {
	case SeverityCritical:
		return notifier.LevelCritical
	case SeverityHigh:
		return notifier.LevelError
	case SeverityMedium:
		return notifier.LevelWarning
	default:
		return notifier.LevelInfo
	}
}
