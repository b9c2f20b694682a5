// Package bus is a typed, in-process publish/subscribe primitive.
//
// Every channel carries one fixed payload type. Publishing is synchronous:
// handlers run on the publisher's goroutine, in registration order. The
// subscriber list is copied under a read lock before handlers run, so a
// handler may publish, subscribe or unsubscribe without deadlocking, and an
// unsubscribe only takes effect for the next publish.
package bus

import (
	"sync"
	"sync/atomic"
)

// StatusNoHandler is returned by StatusChannel.Publish when nobody answers.
const StatusNoHandler = -1

var nextHandleID atomic.Uint64

type remover interface {
	remove(id uint64)
}

// Handle identifies one registration. The zero Handle is valid and inert.
type Handle struct {
	id uint64
	ch remover
}

// Unsubscribe removes the registration. Calling it more than once is fine.
func (h Handle) Unsubscribe() {
	if h.ch == nil || h.id == 0 {
		return
	}
	h.ch.remove(h.id)
}

type entry[F any] struct {
	id uint64
	fn F
}

// list is the subscriber bookkeeping shared by both channel kinds.
type list[F any] struct {
	name string

	mu   sync.RWMutex
	subs []entry[F]
}

func (l *list[F]) add(fn F, owner remover) Handle {
	id := nextHandleID.Add(1)
	l.mu.Lock()
	l.subs = append(l.subs, entry[F]{id: id, fn: fn})
	l.mu.Unlock()
	return Handle{id: id, ch: owner}
}

func (l *list[F]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.subs {
		if e.id != id {
			continue
		}
		// Copy into a fresh slice; snapshots held by in-flight publishes keep
		// the old backing array untouched.
		next := make([]entry[F], 0, len(l.subs)-1)
		next = append(next, l.subs[:i]...)
		next = append(next, l.subs[i+1:]...)
		l.subs = next
		return
	}
}

func (l *list[F]) snapshot() []entry[F] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.subs[:len(l.subs):len(l.subs)]
}

func (l *list[F]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

func (l *list[F]) Name() string { return l.name }

// Channel delivers payloads of type T to void handlers.
type Channel[T any] struct {
	list[func(T)]
}

func NewChannel[T any](name string) *Channel[T] {
	return &Channel[T]{list: list[func(T)]{name: name}}
}

// Subscribe registers handler. A nil handler is ignored.
func (c *Channel[T]) Subscribe(handler func(T)) Handle {
	if c == nil || handler == nil {
		return Handle{}
	}
	return c.add(handler, c)
}

func (c *Channel[T]) Unsubscribe(h Handle) { h.Unsubscribe() }

// Publish calls every handler registered at the time of the call.
func (c *Channel[T]) Publish(v T) {
	if c == nil {
		return
	}
	for _, e := range c.snapshot() {
		e.fn(v)
	}
}

// StatusChannel delivers payloads to handlers that answer with a status code.
// Zero means success; the first non-zero answer short-circuits the publish.
type StatusChannel[T any] struct {
	list[func(T) int]
}

func NewStatusChannel[T any](name string) *StatusChannel[T] {
	return &StatusChannel[T]{list: list[func(T) int]{name: name}}
}

func (c *StatusChannel[T]) Subscribe(handler func(T) int) Handle {
	if c == nil || handler == nil {
		return Handle{}
	}
	return c.add(handler, c)
}

func (c *StatusChannel[T]) Unsubscribe(h Handle) { h.Unsubscribe() }

// Publish returns StatusNoHandler when no handler is registered, the first
// non-zero handler result otherwise, or zero when every handler returned zero.
func (c *StatusChannel[T]) Publish(v T) int {
	if c == nil {
		return StatusNoHandler
	}
	subs := c.snapshot()
	if len(subs) == 0 {
		return StatusNoHandler
	}
	for _, e := range subs {
		if rc := e.fn(v); rc != 0 {
			return rc
		}
	}
	return 0
}
