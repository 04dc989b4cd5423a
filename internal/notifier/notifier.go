// Package notifier delivers titled text messages to the operator. Delivery
// is asynchronous and throttled; the trading loop must never block on it.
package notifier

import (
	"sync"
	"time"

	"xrp-grid-bot-go/internal/logger"
	"xrp-grid-bot-go/internal/models"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Result reports what happened to a notification.
type Result string

const (
	Delivered Result = "delivered"
	Throttled Result = "throttled"
	Failed    Result = "failed"
)

// Notifier delivers a single titled message.
type Notifier interface {
	Notify(level Level, title, body string) Result
}

// Noop drops every notification. It stands in when no provider is
// configured, so callers never need nil checks.
type Noop struct{}

func (Noop) Notify(Level, string, string) Result { return Delivered }

// Throttler wraps a Notifier with per-level delivery quotas: a minimum
// interval between messages of the same level and a rolling hourly cap.
// Critical messages bypass throttling.
type Throttler struct {
	next        Notifier
	maxPerHour  int
	minInterval time.Duration

	mu       sync.Mutex
	lastSent map[Level]time.Time
	history  map[Level][]time.Time
}

// NewThrottler builds a throttler from the notifier configuration.
func NewThrottler(next Notifier, cfg models.NotifierConfig) *Throttler {
	maxPerHour := cfg.MaxPerHour
	if maxPerHour <= 0 {
		maxPerHour = 10
	}
	minInterval := time.Duration(cfg.MinIntervalSec) * time.Second
	if minInterval <= 0 {
		minInterval = time.Minute
	}
	return &Throttler{
		next:        next,
		maxPerHour:  maxPerHour,
		minInterval: minInterval,
		lastSent:    make(map[Level]time.Time),
		history:     make(map[Level][]time.Time),
	}
}

func (t *Throttler) Notify(level Level, title, body string) Result {
	if level != LevelCritical && t.shouldThrottle(level) {
		logger.S().Debugf("Notification throttled: [%s] %s", level, title)
		return Throttled
	}
	return t.next.Notify(level, title, body)
}

func (t *Throttler) shouldThrottle(level Level) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if last, ok := t.lastSent[level]; ok && now.Sub(last) < t.minInterval {
		return true
	}

	cutoff := now.Add(-time.Hour)
	recent := t.history[level][:0]
	for _, ts := range t.history[level] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	t.history[level] = recent

	if len(recent) >= t.maxPerHour {
		return true
	}

	t.lastSent[level] = now
	t.history[level] = append(t.history[level], now)
	return false
}

// Dispatcher decouples delivery from the caller with a bounded queue.
// When the queue is full the message is dropped, never blocking the
// trading loop.
type Dispatcher struct {
	next  Notifier
	queue chan message
	done  chan struct{}
	once  sync.Once
}

type message struct {
	level Level
	title string
	body  string
}

// NewDispatcher starts the delivery worker.
func NewDispatcher(next Notifier, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		next:  next,
		queue: make(chan message, queueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues the message. The returned result only reflects queue
// admission; actual delivery happens on the worker.
func (d *Dispatcher) Notify(level Level, title, body string) Result {
	select {
	case d.queue <- message{level: level, title: title, body: body}:
		return Delivered
	default:
		logger.S().Warnf("Notification queue full, dropping: [%s] %s", level, title)
		return Failed
	}
}

// Close drains nothing and stops the worker after in-flight delivery.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
}

func (d *Dispatcher) run() {
	for {
		select {
		case msg := <-d.queue:
			d.next.Notify(msg.level, msg.title, msg.body)
		case <-d.done:
			return
		}
	}
}
