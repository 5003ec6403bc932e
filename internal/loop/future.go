package loop

import (
	"context"
	"sync"
)

// Poster delivers callbacks onto a specific goroutine. Both the worker Loop
// and the Host implement it.
type Poster interface {
	Post(fn func()) error
}

// Future is the read side of a value produced asynchronously. It is safe to
// observe from any goroutine and resolves exactly once.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewPromise returns an unresolved future and the function that resolves it.
// Only the first call to resolve has an effect; it reports whether it won.
func NewPromise[T any]() (*Future[T], func(T, error) bool) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

func (f *Future[T]) resolve(value T, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	return true
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future resolves or ctx ends. A ctx error leaves the
// future untouched.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the outcome without blocking; ok is false while unresolved.
func (f *Future[T]) Peek() (value T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return value, nil, false
	}
	return f.value, f.err, true
}

// OnDone arranges for fn to run with the outcome once the future resolves.
// When p is non-nil the callback is delivered through it, so a host loop can
// consume results on its own goroutine; otherwise fn runs on the resolving
// goroutine. Callbacks for an already resolved future are dispatched at once.
func (f *Future[T]) OnDone(p Poster, fn func(T, error)) {
	if fn == nil {
		return
	}
	deliver := fn
	if p != nil {
		deliver = func(v T, err error) {
			// A closed poster means nobody is left to observe the result.
			_ = p.Post(func() { fn(v, err) })
		}
	}

	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, deliver)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	deliver(value, err)
}

// Err returns the resolved error, or nil while the future is pending.
func (f *Future[T]) Err() error {
	_, err, _ := f.Peek()
	return err
}
