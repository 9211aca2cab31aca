// Package channel is a minimal typed publish/subscribe primitive: an ordered
// list of listeners notified synchronously on Dispatch.
package channel

import "sync"

type listener[T any] struct {
	fn   func(T)
	once bool
}

// Channel is safe for concurrent use. The zero value is ready to use.
type Channel[T any] struct {
	name      string
	mu        sync.Mutex
	listeners []*listener[T]
}

func New[T any](name string) *Channel[T] {
	return &Channel[T]{name: name}
}

func (c *Channel[T]) Name() string {
	return c.name
}

// AddListener subscribes fn and returns a function removing it.
func (c *Channel[T]) AddListener(fn func(T)) (remove func()) {
	return c.add(&listener[T]{fn: fn})
}

// AddOnceListener subscribes fn for the next dispatch only.
func (c *Channel[T]) AddOnceListener(fn func(T)) (remove func()) {
	return c.add(&listener[T]{fn: fn, once: true})
}

func (c *Channel[T]) add(l *listener[T]) func() {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	return func() { c.remove(l) }
}

func (c *Channel[T]) remove(l *listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, cur := range c.listeners {
		if cur == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Channel[T]) RemoveAllListeners() {
	c.mu.Lock()
	c.listeners = nil
	c.mu.Unlock()
}

func (c *Channel[T]) HasListeners() bool {
	return c.Len() > 0
}

func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Dispatch calls every listener registered at the moment of the call, in
// subscription order. Listeners may add or remove listeners while running.
func (c *Channel[T]) Dispatch(v T) {
	c.mu.Lock()
	snapshot := make([]*listener[T], len(c.listeners))
	copy(snapshot, c.listeners)

	kept := c.listeners[:0:0]
	for _, l := range c.listeners {
		if !l.once {
			kept = append(kept, l)
		}
	}
	c.listeners = kept
	c.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}
