// Package broadcast fans out the latest value of a stream to subscribers.
package broadcast

import "sync"

// Hub delivers published values to every subscriber. Each subscriber holds at
// most one pending value; a slow reader only ever misses intermediate values.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	latest T
	has    bool
}

// NewHub returns an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*subscriber[T]]struct{})}
}

// Subscribe registers a listener. The most recently published value, if any,
// is delivered immediately.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	sub := newSubscriber[T]()

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	if h.has {
		sub.send(h.latest)
	}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			sub.close()
		})
	}
	return sub.ch, unsubscribe
}

// Publish stores value as the latest and hands it to every subscriber.
// Publish is serialized, so subscribers observe values in publish order.
func (h *Hub[T]) Publish(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = value
	h.has = true
	for sub := range h.subs {
		sub.send(value)
	}
}

// Latest returns the most recently published value.
func (h *Hub[T]) Latest() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.has
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches and closes every subscriber channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber[T]]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func newSubscriber[T any]() *subscriber[T] {
	return &subscriber[T]{ch: make(chan T, 1)}
}

func (s *subscriber[T]) send(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- value:
		return
	default:
		// Drop oldest to make room for the new value.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- value:
		default:
		}
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
