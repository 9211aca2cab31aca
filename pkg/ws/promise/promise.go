// Package promise реализует управляемое извне будущее значение (deferred):
// результат задаётся вызовами Resolve/Reject, а не вычислением.
package promise

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("promise rejected by timeout")
	ErrPending = errors.New("promise is pending")
	ErrPanic   = errors.New("panic")
	ErrNoError = errors.New("promise rejected without error")
)

type Status int32

const (
	Pending Status = iota
	Fulfilled
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// TimeoutError is the rejection reason of a deferred whose timeout fired.
type TimeoutError struct {
	Timeout time.Duration
	Reason  string
}

func (e *TimeoutError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}

	return fmt.Sprintf("promise rejected by timeout (%d ms)", e.Timeout.Milliseconds())
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Future is the read side of a Deferred.
type Future[T any] interface {
	Done() <-chan struct{}
	Status() Status
	IsPending() bool
	Result() (T, error)
	Wait(ctx context.Context) (T, error)
}

type Deferred[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	status  Status
	value   T
	err     error
	timer   *time.Timer
	finally []func()
}

var _ Future[struct{}] = (*Deferred[struct{}])(nil)

func New[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

func Resolved[T any](value T) *Deferred[T] {
	d := New[T]()
	d.Resolve(value)
	return d
}

// Failed returns a deferred already rejected with err.
func Failed[T any](err error) *Deferred[T] {
	d := New[T]()
	d.Reject(err)
	return d
}

// Resolve fulfills d with value. Returns false if d was already settled.
func (d *Deferred[T]) Resolve(value T) bool {
	return d.settle(Fulfilled, value, nil)
}

// Reject rejects d with err. Returns false if d was already settled.
func (d *Deferred[T]) Reject(err error) bool {
	if err == nil {
		err = ErrNoError
	}

	var zero T

	return d.settle(Rejected, zero, err)
}

func (d *Deferred[T]) settle(status Status, value T, err error) bool {
	d.mu.Lock()

	if d.status != Pending {
		d.mu.Unlock()
		return false
	}

	d.status = status
	d.value = value
	d.err = err

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	callbacks := d.finally
	d.finally = nil
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}

	close(d.done)

	return true
}

// WithTimeout arms a timer rejecting d with a *TimeoutError after timeout.
// A non-positive timeout disables it. Re-arming replaces the previous timer.
func (d *Deferred[T]) WithTimeout(timeout time.Duration, reason string) *Deferred[T] {
	if timeout <= 0 {
		return d
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != Pending {
		return d
	}

	if d.timer != nil {
		d.timer.Stop()
	}

	err := &TimeoutError{Timeout: timeout, Reason: reason}
	d.timer = time.AfterFunc(timeout, func() { d.Reject(err) })

	return d
}

// Call runs fn synchronously. An error returned by fn, or a panic inside it,
// rejects d.
func (d *Deferred[T]) Call(fn func() error) *Deferred[T] {
	if err := Catch(fn); err != nil {
		d.Reject(err)
	}

	return d
}

// Catch runs fn and converts a panic inside it into an error wrapping ErrPanic.
func Catch(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return fn()
}

// Finally registers fn to run once d is settled. Callbacks run in the
// settling goroutine, in registration order, before Done is closed.
func (d *Deferred[T]) Finally(fn func()) *Deferred[T] {
	d.mu.Lock()

	if d.status == Pending {
		d.finally = append(d.finally, fn)
		d.mu.Unlock()
		return d
	}

	d.mu.Unlock()
	fn()

	return d
}

func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

func (d *Deferred[T]) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Deferred[T]) IsPending() bool {
	return d.Status() == Pending
}

// Result returns the settled value or error without blocking.
// While d is pending it returns ErrPending.
func (d *Deferred[T]) Result() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == Pending {
		var zero T
		return zero, ErrPending
	}

	return d.value, d.err
}

// Wait blocks until d is settled or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
