// Package events implements the per-task SSE Event Bus (C9): a bounded,
// non-blocking pub/sub with history for late subscribers.
package events

import (
	"sync"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

const (
	DefaultQueueCapacity = 100
	DefaultHistoryTTL    = 300 * time.Second
)

var terminalEvents = map[domain.EventName]bool{
	domain.EventComplete: true,
	domain.EventError:    true,
}

// Bus is an in-memory, per-task event bus. Every task owns its own
// history slice and set of subscriber channels; state is swept on read
// rather than by a background timer, matching the rest of this module's
// TTL caches.
type Bus struct {
	mu          sync.Mutex
	history     map[string][]domain.Event
	subscribers map[string][]chan domain.Event
	completedAt map[string]time.Time
	historyTTL  time.Duration
	queueCap    int
	now         func() time.Time
}

func New(opts ...Option) *Bus {
	b := &Bus{
		history:     make(map[string][]domain.Event),
		subscribers: make(map[string][]chan domain.Event),
		completedAt: make(map[string]time.Time),
		historyTTL:  DefaultHistoryTTL,
		queueCap:    DefaultQueueCapacity,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type Option func(*Bus)

func WithHistoryTTL(d time.Duration) Option { return func(b *Bus) { b.historyTTL = d } }
func WithQueueCapacity(n int) Option        { return func(b *Bus) { b.queueCap = n } }
func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

// Emit appends to history and pushes to every current subscriber
// non-blockingly; a full subscriber channel drops the event for that
// subscriber only.
func (b *Bus) Emit(taskID string, name domain.EventName, payload map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	event := domain.Event{TaskID: taskID, Event: name, Timestamp: b.now(), Payload: payload}
	b.history[taskID] = append(b.history[taskID], event)

	if terminalEvents[name] {
		b.completedAt[taskID] = b.now()
	}

	for _, ch := range b.subscribers[taskID] {
		select {
		case ch <- event:
		default: // drop: subscriber too slow or queue full
		}
	}
}

// Subscribe returns a channel pre-populated with existing history (oldest
// truncated first if it would overflow the queue bound) plus live events.
// The returned channel must be passed to Unsubscribe when the caller is
// done reading.
func (b *Bus) Subscribe(taskID string) chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.queueCap)
	hist := b.history[taskID]
	start := 0
	if len(hist) > b.queueCap {
		start = len(hist) - b.queueCap
	}
	for _, event := range hist[start:] {
		select {
		case ch <- event:
		default:
		}
	}

	b.subscribers[taskID] = append(b.subscribers[taskID], ch)
	return ch
}

// Unsubscribe removes ch from taskID's subscriber list. Idempotent.
func (b *Bus) Unsubscribe(taskID string, ch chan domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[taskID]
	for i, s := range subs {
		if s == ch {
			b.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// HasTerminalEvent reports whether a complete/error event has been
// recorded for taskID.
func (b *Bus) HasTerminalEvent(taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range b.history[taskID] {
		if terminalEvents[event.Event] {
			return true
		}
	}
	return false
}

// CleanupStale removes all state for tasks whose terminal event is older
// than historyTTL. Returns the number of tasks cleaned up. Call
// periodically, or on read paths, per this module's sweep-on-read policy.
func (b *Bus) CleanupStale() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var stale []string
	for taskID, completedAt := range b.completedAt {
		if now.Sub(completedAt) > b.historyTTL {
			stale = append(stale, taskID)
		}
	}
	for _, taskID := range stale {
		delete(b.history, taskID)
		delete(b.subscribers, taskID)
		delete(b.completedAt, taskID)
	}
	return len(stale)
}
