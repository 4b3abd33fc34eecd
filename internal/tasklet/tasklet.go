// Package tasklet pins a non-thread-safe value to a single worker
// goroutine and serves calls to it over a request/reply mailbox. Exactly
// one call runs at a time, in arrival order; callers block until their
// closure has run on the worker.
package tasklet

import (
	"errors"
	"sync"
)

// ErrStopped is returned by Call after Stop has been invoked.
var ErrStopped = errors.New("tasklet: stopped")

type call[T any] struct {
	fn   func(T)
	done chan struct{}
}

// Tasklet owns a value of type T on a dedicated worker goroutine.
type Tasklet[T any] struct {
	mailbox chan call[T]

	stopOnce sync.Once
	stopped  chan struct{}
	joined   chan struct{}
}

// New constructs the owned value with setUp on the worker goroutine and
// starts serving the mailbox. tearDown runs on the same goroutine when
// Stop is called; it may be nil.
func New[T any](setUp func() (T, error), tearDown func(T)) (*Tasklet[T], error) {
	t := &Tasklet[T]{
		mailbox: make(chan call[T]),
		stopped: make(chan struct{}),
		joined:  make(chan struct{}),
	}

	setupErr := make(chan error, 1)
	go func() {
		defer close(t.joined)
		owned, err := setUp()
		setupErr <- err
		if err != nil {
			return
		}
		if tearDown != nil {
			defer tearDown(owned)
		}
		for {
			select {
			case c := <-t.mailbox:
				c.fn(owned)
				close(c.done)
			case <-t.stopped:
				return
			}
		}
	}()

	if err := <-setupErr; err != nil {
		return nil, err
	}
	return t, nil
}

// Call runs fn on the worker goroutine with exclusive access to the
// owned value and blocks until it returns.
func (t *Tasklet[T]) Call(fn func(T)) error {
	c := call[T]{fn: fn, done: make(chan struct{})}
	select {
	case t.mailbox <- c:
		<-c.done
		return nil
	case <-t.stopped:
		return ErrStopped
	}
}

// Stop signals the worker, runs tearDown on it, and waits for it to
// exit. Pending Call invocations that have not been picked up fail with
// ErrStopped.
func (t *Tasklet[T]) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
	<-t.joined
}

// Conn is a cheap per-caller handle used to invoke the tasklet with a
// typed reply. It exists so call sites read like ordinary function
// calls rather than closure posting.
type Conn[T, R any] struct {
	t  *Tasklet[T]
	fn func(T) R
}

// Connect binds a function of the owned value to the tasklet.
func Connect[T, R any](t *Tasklet[T], fn func(T) R) Conn[T, R] {
	return Conn[T, R]{t: t, fn: fn}
}

// Call invokes the bound function on the worker and returns its result.
func (c Conn[T, R]) Call() (R, error) {
	var out R
	err := c.t.Call(func(owned T) { out = c.fn(owned) })
	return out, err
}
