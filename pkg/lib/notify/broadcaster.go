// Package notify fans change notifications out to any number of subscribers
// without ever blocking the publisher.
package notify

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var logger = zerolog.Nop()

// SetLogger replaces the package logger, which discards by default.
func SetLogger(l zerolog.Logger) {
	logger = l.With().Str("component", "notify").Logger()
}

// ErrStopped is returned when subscribing to a stopped broadcaster.
var ErrStopped = errors.New("broadcaster is stopped")

// Broadcaster delivers every published value to all current subscribers.
// Slow subscribers lose their oldest pending value instead of stalling others.
type Broadcaster[T any] struct {
	messageReceiver chan T
	mu              sync.Mutex
	subscribers     map[chan T]struct{}
	stopped         bool
	done            chan struct{}
}

// RunNewBroadcaster creates a Broadcaster and starts its delivery goroutine.
func RunNewBroadcaster[T any]() *Broadcaster[T] {
	broadcaster := &Broadcaster[T]{
		messageReceiver: make(chan T, 1),
		subscribers:     make(map[chan T]struct{}),
		done:            make(chan struct{}),
	}

	go broadcaster.start()

	return broadcaster
}

func (broadcaster *Broadcaster[T]) start() {
	defer close(broadcaster.done)

	for msg := range broadcaster.messageReceiver {
		// Snapshot subscribers so the lock is not held while sending
		broadcaster.mu.Lock()
		subscribers := make([]chan T, 0, len(broadcaster.subscribers))
		for s := range broadcaster.subscribers {
			subscribers = append(subscribers, s)
		}
		broadcaster.mu.Unlock()

		for _, s := range subscribers {
			broadcaster.deliver(s, msg)
		}
	}

	broadcaster.mu.Lock()
	for s := range broadcaster.subscribers {
		close(s)
	}
	broadcaster.subscribers = map[chan T]struct{}{}
	broadcaster.mu.Unlock()
	logger.Debug().Msg("broadcaster stopped")
}

func (broadcaster *Broadcaster[T]) deliver(s chan T, msg T) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	// Unsubscribed (and closed) while we were iterating
	if _, ok := broadcaster.subscribers[s]; !ok {
		return
	}
	select {
	case s <- msg:
		return
	default:
	}
	// Full: drop the oldest value and push the newest
	select {
	case <-s:
	default:
	}
	select {
	case s <- msg:
	default:
		logger.Debug().Msg("subscriber refilled concurrently, dropping message")
	}
}

// Stop closes every subscriber channel once pending messages are delivered.
// Safe to call more than once.
func (broadcaster *Broadcaster[T]) Stop() {
	broadcaster.mu.Lock()
	if !broadcaster.stopped {
		broadcaster.stopped = true
		close(broadcaster.messageReceiver)
	}
	broadcaster.mu.Unlock()
	<-broadcaster.done
}

// Subscribe registers a new subscriber with a buffer of one value.
func (broadcaster *Broadcaster[T]) Subscribe() (chan T, error) {
	ch := make(chan T, 1)
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if broadcaster.stopped {
		return nil, ErrStopped
	}
	broadcaster.subscribers[ch] = struct{}{}
	return ch, nil
}

// Unsubscribe removes and closes a subscriber. Unknown channels are ignored.
func (broadcaster *Broadcaster[T]) Unsubscribe(subscriber chan T) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if _, ok := broadcaster.subscribers[subscriber]; !ok {
		return
	}
	delete(broadcaster.subscribers, subscriber)
	close(subscriber)
}

// Publish queues msg for delivery. If a previous message is still queued it
// is replaced, so Publish never blocks. Publishing after Stop is a no-op.
func (broadcaster *Broadcaster[T]) Publish(msg T) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if broadcaster.stopped {
		logger.Debug().Msg("publish after stop ignored")
		return
	}

	for {
		select {
		case broadcaster.messageReceiver <- msg:
			return
		default:
		}
		select {
		case <-broadcaster.messageReceiver:
		default:
		}
	}
}
