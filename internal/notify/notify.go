package notify

import (
	"sync"
	"time"

	"media-index/internal/logging"
)

// Event types published by the engine.
const (
	EventScanStarted   = "scan.started"
	EventScanProgress  = "scan.progress"
	EventScanPaused    = "scan.paused"
	EventScanResumed   = "scan.resumed"
	EventScanCompleted = "scan.completed"
	EventScanFailed    = "scan.failed"
	EventSyncApplied   = "sync.applied"
)

// Event is a fire-and-forget notification for one library. There is no
// acknowledgment and no cross-library ordering guarantee.
type Event struct {
	LibraryID string         `json:"libraryId"`
	Type      string         `json:"type"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	libraryID string // "" subscribes to every library
	ch        chan Event
}

// Bus fans events out to subscribers. Delivery is best-effort: a full
// subscriber channel drops the event rather than blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers interest in events for one library id, or all
// libraries when libraryID is empty. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(libraryID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{libraryID: libraryID, ch: make(chan Event, buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without
// blocking. Events for saturated subscribers are dropped.
func (b *Bus) Publish(libraryID, eventType string, data map[string]any) {
	ev := Event{
		LibraryID: libraryID,
		Type:      eventType,
		Time:      time.Now(),
		Data:      data,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.libraryID != "" && sub.libraryID != libraryID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logging.Debug("notify: dropping %s event for %s (subscriber full)", eventType, libraryID)
		}
	}
}
