package agent

import (
	"sync"
	"time"
)

type EventType string

const (
	EventSessionUpdated EventType = "session_updated"
	EventSessionRemoved EventType = "session_removed"
)

// Event is published after every change to a session.
type Event struct {
	Type    EventType `json:"type"`
	TaskID  string    `json:"taskId"`
	Session *Session  `json:"session,omitempty"`
	At      time.Time `json:"at"`
}

const subscriberBuffer = 64

// broadcaster fans events out to subscribers. Slow subscribers miss events
// rather than block the publisher.
type broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *broadcaster) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
