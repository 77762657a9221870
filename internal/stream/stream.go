// Package stream provides in-process broadcast streams with bounded
// replay. A stream fans published values out to all subscribers and
// replays the most recent values to late joiners, so read-only consumers
// can attach at any time without a coordination handshake.
package stream

import "sync"

// Stream is a broadcast channel for values of type T. replay bounds how
// many recent values a new subscriber receives on attach: 1 for
// latest-state streams, larger for history streams.
type Stream[T any] struct {
	mu     sync.Mutex
	replay int
	buffer []T
	subs   map[int]chan T
	nextID int
	closed bool
}

// New creates a stream that replays up to replay recent values to each
// new subscriber. replay of zero disables replay.
func New[T any](replay int) *Stream[T] {
	return &Stream[T]{
		replay: replay,
		subs:   make(map[int]chan T),
	}
}

// Publish delivers v to all current subscribers and appends it to the
// replay buffer. Delivery is non-blocking: a subscriber whose channel is
// full misses the value rather than stalling the publisher.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.replay > 0 {
		s.buffer = append(s.buffer, v)
		if len(s.buffer) > s.replay {
			s.buffer = append(s.buffer[:0], s.buffer[len(s.buffer)-s.replay:]...)
		}
	}

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe attaches a new subscriber with the given channel buffer. The
// replay buffer is delivered first. The returned cancel function detaches
// the subscriber and closes its channel; it is safe to call more than once.
func (s *Stream[T]) Subscribe(buffer int) (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buffer < s.replay {
		buffer = s.replay
	}
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan T, buffer)
	for _, v := range s.buffer {
		ch <- v
	}

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Recent returns up to limit of the most recently published values,
// newest first.
func (s *Stream[T]) Recent(limit int) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > len(s.buffer) {
		limit = len(s.buffer)
	}
	if limit <= 0 {
		return nil
	}
	out := make([]T, 0, limit)
	for i := len(s.buffer) - 1; i >= len(s.buffer)-limit; i-- {
		out = append(out, s.buffer[i])
	}
	return out
}

// Latest returns the most recently published value, if any.
func (s *Stream[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.buffer) == 0 {
		return zero, false
	}
	return s.buffer[len(s.buffer)-1], true
}

// Close detaches and closes all subscriber channels. Publish becomes a
// no-op afterwards.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
