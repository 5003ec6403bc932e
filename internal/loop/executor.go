package loop

import "context"

// RunBlocking runs fn, which may block on I/O or an external process, on the
// loop's bounded executor and waits for its outcome. When ctx ends first the
// call returns ctx.Err() while fn keeps running; Shutdown still waits for it.
func RunBlocking[T any](ctx context.Context, l *Loop, fn func() (T, error)) (T, error) {
	var zero T

	l.mu.Lock()
	if !l.execOpen {
		l.mu.Unlock()
		return zero, ErrLoopStopped
	}
	l.execWG.Add(1)
	l.mu.Unlock()

	select {
	case l.execSlots <- struct{}{}:
	case <-ctx.Done():
		l.execWG.Done()
		return zero, ctx.Err()
	}

	type outcome struct {
		value T
		err   error
	}
	result := make(chan outcome, 1)
	go func() {
		defer l.execWG.Done()
		defer func() { <-l.execSlots }()
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: &PanicError{Value: r}}
			}
		}()
		value, err := fn()
		result <- outcome{value: value, err: err}
	}()

	select {
	case o := <-result:
		return o.value, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
