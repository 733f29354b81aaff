// Package notify fans out UI notifications to in-process subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/xaenox/soullink/internal/metrics"
)

type Kind string

const (
	KindProactiveMessage Kind = "proactive_message"
	KindGroupMessages    Kind = "group_messages"
	KindAchievement      Kind = "achievement_unlocked"
)

// Event is one notification. Fields not relevant to Kind are empty.
type Event struct {
	Kind           Kind
	UserID         string
	ConversationID string
	GroupID        string
	MessageID      string
	Text           string
	Action         string
	At             time.Time
}

// Broadcaster delivers every published event to every subscriber. Publish
// never blocks; a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	metrics metrics.Recorder
}

func NewBroadcaster(recorder metrics.Recorder) *Broadcaster {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Broadcaster{
		subs:    make(map[int]chan Event),
		metrics: recorder,
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unsubscribes and closes the channel; it is safe to call twice.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish returns the number of subscribers that received the event.
func (b *Broadcaster) Publish(ev Event) int {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			b.metrics.RecordDroppedNotification()
		}
	}
	return delivered
}
