// Package events provides the progression event journal. Events capture
// significant occurrences in the ledger lifecycle such as profile creation,
// XP deposits, level-ups, reward credits and notification failures.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType classifies the kind of journal event.
type EventType string

const (
	// Profile lifecycle events
	EventProfileCreated EventType = "profile.created"

	// Ledger events
	EventXpDeposited    EventType = "xp.deposited"
	EventLevelUp        EventType = "level.up"
	EventRewardCredited EventType = "reward.credited"

	// Settings events
	EventLevelsReloaded   EventType = "levels.reloaded"
	EventLevelsReloadFail EventType = "levels.reload_failed"

	// Notification events
	EventNotifyFailed EventType = "notify.failed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one structured journal record.
type Event struct {
	// Core fields
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Subject fields
	UserID       string `json:"user_id,omitempty"`
	Level        int    `json:"level,omitempty"`
	CurrencyKind string `json:"currency_kind,omitempty"`
	Amount       int64  `json:"amount,omitempty"`

	// Details
	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration_ns,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Correlation
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// Journal is the interface for event recording.
type Journal interface {
	// Log records an event.
	Log(event Event)

	// LogWithContext records an event with correlation IDs from the context.
	LogWithContext(ctx context.Context, event Event)

	// Subscribe registers a handler for events.
	Subscribe(handler EventHandler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()

	// Recent returns the most recent N events.
	Recent(n int) []Event

	// RecentByUser returns recent events for a specific user.
	RecentByUser(userID string, n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext adds correlation information to the event before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		if s, ok := traceID.(string); ok {
			event.TraceID = s
		}
	}
	if requestID := ctx.Value(requestIDKey); requestID != nil {
		if s, ok := requestID.(string); ok {
			event.RequestID = s
		}
	}
	rb.Log(event)
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	// Return unsubscribe function
	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByUser returns recent events for a specific user.
func (rb *RingBuffer) RecentByUser(userID string, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].UserID == userID {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].Type == eventType {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all events from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

// Context keys for correlation
type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	requestIDKey contextKey = "request_id"
)

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}

// NoOpJournal is a journal that discards all events.
type NoOpJournal struct{}

func (NoOpJournal) Log(Event)                                          {}
func (NoOpJournal) LogWithContext(context.Context, Event)              {}
func (NoOpJournal) Subscribe(EventHandler) func()                      { return func() {} }
func (NoOpJournal) SubscribeFiltered(EventFilter, EventHandler) func() { return func() {} }
func (NoOpJournal) Recent(int) []Event                                 { return nil }
func (NoOpJournal) RecentByUser(string, int) []Event                   { return nil }
func (NoOpJournal) RecentByType(EventType, int) []Event                { return nil }
