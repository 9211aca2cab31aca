// Package pending keeps the futures of in-flight requests keyed by
// correlation id.
package pending

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LLIEPJIOK/service-mesh/wsp/pkg/ws/promise"
)

var ErrReplaced = errors.New("request replaced")

// ReplacedError rejects a request whose id was reused by a newer request
// while it was still waiting for a response.
type ReplacedError struct {
	ID string
}

func (e *ReplacedError) Error() string {
	return fmt.Sprintf("websocket request is replaced, id: %s", e.ID)
}

func (e *ReplacedError) Is(target error) bool {
	return target == ErrReplaced
}

// Table holds only unsettled entries: every entry removes itself on settlement.
type Table[T any] struct {
	mu    sync.Mutex
	items map[string]*promise.Deferred[T]
}

func New[T any]() *Table[T] {
	return &Table[T]{items: make(map[string]*promise.Deferred[T])}
}

// Create registers a request under id and runs send. A pending request with
// the same id is rejected with *ReplacedError. A non-positive timeout means
// the request waits until resolved or rejected explicitly.
func (t *Table[T]) Create(id string, send func() error, timeout time.Duration) *promise.Deferred[T] {
	d := promise.New[T]()

	t.mu.Lock()
	prev := t.items[id]
	t.items[id] = d
	t.mu.Unlock()

	if prev != nil {
		prev.Reject(&ReplacedError{ID: id})
	}

	d.WithTimeout(timeout, fmt.Sprintf(
		"websocket request was rejected by timeout (%d ms), request id: %s",
		timeout.Milliseconds(), id,
	))
	d.Finally(func() { t.remove(id, d) })

	return d.Call(send)
}

// remove deletes id only while it still maps to d: a replaced entry must not
// evict its successor.
func (t *Table[T]) remove(id string, d *promise.Deferred[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.items[id] == d {
		delete(t.items, id)
	}
}

func (t *Table[T]) get(id string) *promise.Deferred[T] {
	if id == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.items[id]
}

// Resolve fulfills the request registered under id. Unknown ids are ignored.
func (t *Table[T]) Resolve(id string, value T) bool {
	d := t.get(id)
	if d == nil {
		return false
	}

	return d.Resolve(value)
}

// Reject rejects the request registered under id. Unknown ids are ignored.
func (t *Table[T]) Reject(id string, err error) bool {
	d := t.get(id)
	if d == nil {
		return false
	}

	return d.Reject(err)
}

// RejectAll rejects every pending request with err.
func (t *Table[T]) RejectAll(err error) int {
	t.mu.Lock()
	items := make([]*promise.Deferred[T], 0, len(t.items))
	for _, d := range t.items {
		items = append(items, d)
	}
	t.mu.Unlock()

	n := 0
	for _, d := range items {
		if d.Reject(err) {
			n++
		}
	}

	return n
}

func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
