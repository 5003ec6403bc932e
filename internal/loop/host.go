package loop

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"doctools/internal/logging"
)

// Host is a single-threaded run loop for the calling side of the bridge, the
// role a UI toolkit's main loop plays. Callbacks posted to it, including
// future completions delivered via Future.OnDone, run one at a time on the
// goroutine that called Run.
type Host struct {
	worker *Loop
	logger *slog.Logger

	mu        sync.Mutex
	callbacks []func()
	quitting  bool
	closed    bool
	exitOnce  sync.Once
	exitErr   error
	wake      chan struct{}
}

// NewHost pairs a host loop with the worker it submits to.
func NewHost(worker *Loop, logger *slog.Logger) *Host {
	return &Host{
		worker: worker,
		logger: logging.NewComponentLogger(logger, "host"),
		wake:   make(chan struct{}, 1),
	}
}

// Worker returns the loop this host submits to.
func (h *Host) Worker() *Loop {
	return h.worker
}

// Post queues fn to run on the host goroutine.
func (h *Host) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
	h.signal()
	return nil
}

func (h *Host) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run serves posted callbacks on the calling goroutine until RequestExit has
// shut the worker down, then joins the worker before returning its shutdown
// error. Run must be called at most once.
func (h *Host) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		h.mu.Lock()
		batch := h.callbacks
		h.callbacks = nil
		quitting := h.quitting
		if quitting && len(batch) == 0 {
			h.closed = true
		}
		h.mu.Unlock()

		for _, fn := range batch {
			h.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if quitting {
			break
		}
		<-h.wake
	}

	<-h.worker.Done()
	h.logger.Debug("host loop exited")
	return h.exitErr
}

func (h *Host) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(h.logger, "host callback panicked", "host_callback_panic",
				logging.Error(&PanicError{Value: r}),
			)
		}
	}()
	fn()
}

// RequestExit starts an orderly shutdown without blocking the caller, so it
// is safe to call from a host callback. The worker runs its exit hooks,
// cancels pending tasks and drains; callbacks posted meanwhile (late
// completions) are still served; then Run returns.
func (h *Host) RequestExit(ctx context.Context) {
	h.exitOnce.Do(func() {
		go func() {
			err := h.worker.Shutdown(ctx)
			h.mu.Lock()
			h.exitErr = err
			h.quitting = true
			h.mu.Unlock()
			h.signal()
		}()
	})
}
