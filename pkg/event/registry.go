// Package event provides observer registries whose publishers never block on
// slow or absent subscribers.
package event

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// Registry fans published values out to its subscriptions. The subscription
// list is copy-on-write, so Publish never contends with Subscribe or
// Unsubscribe.
type Registry[T any] struct {
	mu   sync.Mutex
	subs atomic.Pointer[[]*Subscription[T]]
}

// Subscription receives published values on C. Values published while the
// buffer is full are dropped and counted.
type Subscription[T any] struct {
	C <-chan T

	ch      chan T
	dropped atomic.Uint64
}

// Dropped is the number of values this subscription missed.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Subscribe registers a new subscription with the given buffer size.
func (r *Registry[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, ch: ch}

	r.mu.Lock()
	defer r.mu.Unlock()

	var next []*Subscription[T]
	if cur := r.subs.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, s)
	r.subs.Store(&next)

	return s
}

// Unsubscribe removes s. Its channel is left open so a publisher holding an
// older snapshot can still complete a send. Unknown subscriptions are ignored.
func (r *Registry[T]) Unsubscribe(s *Subscription[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.subs.Load()
	if cur == nil {
		return
	}

	next := make([]*Subscription[T], 0, len(*cur))
	for _, existing := range *cur {
		if existing != s {
			next = append(next, existing)
		}
	}
	if len(next) == len(*cur) {
		return
	}
	r.subs.Store(&next)
}

// Publish delivers v to every current subscription without blocking.
func (r *Registry[T]) Publish(v T) {
	cur := r.subs.Load()
	if cur == nil {
		return
	}
	for _, s := range *cur {
		s.send(v)
	}
}

// Len is the number of active subscriptions.
func (r *Registry[T]) Len() int {
	if cur := r.subs.Load(); cur != nil {
		return len(*cur)
	}
	return 0
}

func (s *Subscription[T]) send(v T) {
	select {
	case s.ch <- v:
	default:
		s.dropped.Add(1)
	}
}
