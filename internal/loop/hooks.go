package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Hook is an asynchronous cleanup action run before the worker loop stops.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// ExitHooks is an ordered registry of cleanup actions. Run takes the current
// list and clears it before invoking anything, so a hook registered while Run
// is in progress is kept for the next Run instead of being triggered again.
type ExitHooks struct {
	mu    sync.Mutex
	hooks []namedHook
}

// Register appends hook under name.
func (r *ExitHooks) Register(name string, hook Hook) error {
	if hook == nil {
		return ErrInvalidHook
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, namedHook{name: name, fn: hook})
	r.mu.Unlock()
	return nil
}

// Len reports the number of hooks waiting to run.
func (r *ExitHooks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run invokes the registered hooks sequentially in registration order. A
// failing or panicking hook does not stop the ones after it; all failures are
// joined into the returned error.
func (r *ExitHooks) Run(ctx context.Context) error {
	r.mu.Lock()
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := runHook(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runHook(ctx context.Context, h namedHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exit hook %q: %w", h.name, &PanicError{Value: r})
		}
	}()
	if err := h.fn(ctx); err != nil {
		return fmt.Errorf("exit hook %q: %w", h.name, err)
	}
	return nil
}

var processHooks ExitHooks

// ProcessHooks returns the process-wide registry run by the Default loop.
func ProcessHooks() *ExitHooks {
	return &processHooks
}

// AddExitHook registers hook on the process-wide registry.
func AddExitHook(name string, hook Hook) error {
	return processHooks.Register(name, hook)
}
