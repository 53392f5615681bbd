// Package broker provides in-process broadcast channels for tracker output.
//
// Two delivery modes exist: live-only, where a subscriber sees only values
// published after it subscribed, and replay-last, where a subscriber's
// channel is primed with the most recently published value before any live
// updates. The bundle feed uses replay-last so a UI attaching late still
// renders immediately; map-change notifications are live-only.
package broker

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Broker broadcasts values of type T to any number of subscribers.
// Sends to subscribers are non-blocking: a subscriber whose buffer is full
// misses the value rather than stalling the publisher.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[int]chan T
	nextID      int

	replayLast bool
	last       T
	hasLast    bool
}

// New creates a live-only broker.
func New[T any]() *Broker[T] {
	return &Broker[T]{subscribers: make(map[int]chan T)}
}

// NewReplayLast creates a broker that delivers the most recent value to each
// new subscriber before its live updates.
func NewReplayLast[T any]() *Broker[T] {
	return &Broker[T]{subscribers: make(map[int]chan T), replayLast: true}
}

// Publish broadcasts v to all current subscribers.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.replayLast {
		b.last = v
		b.hasLast = true
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			log.Warn().Int("subscriber_id", id).Msg("subscriber channel full, dropping value")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with an
// id for Unsubscribe. In replay-last mode the last published value, if any,
// is already queued on the returned channel. bufferSize must be at least 1
// so the replayed value always fits.
func (b *Broker[T]) Subscribe(bufferSize int) (<-chan T, int) {
	if bufferSize < 1 {
		bufferSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan T, bufferSize)
	if b.replayLast && b.hasLast {
		ch <- b.last
	}
	b.subscribers[id] = ch
	return ch, id
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more
// than once with the same id.
func (b *Broker[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Close closes all subscriber channels and drops them.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
