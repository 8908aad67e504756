package events

import (
	"sync"
	"time"
)

// EventType represents the kinds of events the engine publishes
type EventType string

const (
	EventPatternDetected   EventType = "PATTERN_DETECTED"
	EventPatternRejected   EventType = "PATTERN_REJECTED"
	EventCampaignCreated   EventType = "CAMPAIGN_CREATED"
	EventCampaignUpdated   EventType = "CAMPAIGN_UPDATED"
	EventCampaignCompleted EventType = "CAMPAIGN_COMPLETED"
	EventCampaignFailed    EventType = "CAMPAIGN_FAILED"
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventSymbolStale       EventType = "SYMBOL_STALE"
	EventSymbolRecovered   EventType = "SYMBOL_RECOVERED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so
// a slow subscriber cannot stall a symbol worker.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}

// PublishRejection publishes a pattern rejection with its audit reason
func (b *Bus) PublishRejection(symbol, patternType, code, reason string) {
	b.Publish(Event{
		Type: EventPatternRejected,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"pattern": patternType,
			"code":    code,
			"reason":  reason,
		},
	})
}
