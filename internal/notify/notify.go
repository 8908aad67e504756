// Package notify delivers signal and campaign alerts to external channels.
// Delivery is best-effort with bounded retries; a failed alert never blocks
// the analysis pipeline.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is one delivery channel.
type Notifier interface {
	Name() string
	Send(message Message) error
}

// Message is a channel-independent alert payload.
type Message struct {
	Title string
	Body  string
}

// Config holds queueing and retry behavior.
type Config struct {
	QueueSize   int           // Pending alert buffer
	MaxRetries  int           // Attempts per alert before dropping
	BackoffBase time.Duration // First retry delay, doubled per attempt
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	return c
}

type queued struct {
	msg      Message
	notifier Notifier
	attempt  int
}

// Manager fans alerts out to the registered notifiers through a bounded
// retry queue.
type Manager struct {
	cfg       Config
	notifiers []Notifier
	logger    zerolog.Logger

	queue    chan queued
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewManager creates a notification manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "Notify").Logger(),
		queue:    make(chan queued, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}
}

// Register adds a delivery channel.
func (m *Manager) Register(n Notifier) {
	m.notifiers = append(m.notifiers, n)
	m.logger.Info().Str("channel", n.Name()).Msg("Notifier registered")
}

// Start launches the delivery worker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.deliveryLoop()
}

// Stop shuts the delivery worker down. Queued alerts past the current one
// are dropped; pending retries are cancelled.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// Notify enqueues an alert for every registered channel. When the queue is
// full the alert is dropped and counted, never blocked on.
func (m *Manager) Notify(msg Message) {
	for _, n := range m.notifiers {
		select {
		case m.queue <- queued{msg: msg, notifier: n, attempt: 0}:
		default:
			m.logger.Warn().Str("channel", n.Name()).Str("title", msg.Title).
				Msg("Notification queue full, alert dropped")
		}
	}
}

func (m *Manager) deliveryLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			return
		case item := <-m.queue:
			m.deliver(item)
		}
	}
}

func (m *Manager) deliver(item queued) {
	for {
		err := item.notifier.Send(item.msg)
		if err == nil {
			return
		}
		item.attempt++
		if item.attempt >= m.cfg.MaxRetries {
			m.logger.Error().Err(err).Str("channel", item.notifier.Name()).
				Int("attempts", item.attempt).Str("title", item.msg.Title).
				Msg("Alert dropped after retries")
			return
		}

		backoff := m.cfg.BackoffBase * time.Duration(1<<(item.attempt-1))
		m.logger.Warn().Err(err).Str("channel", item.notifier.Name()).
			Int("attempt", item.attempt).Dur("retry_in", backoff).
			Msg("Delivery failed, retrying")
		select {
		case <-m.stopChan:
			return // Shutdown cancels pending retries
		case <-time.After(backoff):
		}
	}
}

// FormatSignalAlert renders the standard signal alert body.
func FormatSignalAlert(symbol, direction string, entry, stop, target, rMultiple, confidence float64, grade string) Message {
	return Message{
		Title: fmt.Sprintf("Signal: %s %s", symbol, direction),
		Body: fmt.Sprintf(
			"Entry: %.4f\nStop: %.4f\nTarget: %.4f\nR-multiple: %.2f\nConfidence: %.2f (%s)",
			entry, stop, target, rMultiple, confidence, grade),
	}
}
