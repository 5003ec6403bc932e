package loop

import (
	"context"
	"fmt"

	"doctools/internal/services"
)

var (
	// ErrLoopStopped is returned when work is submitted to a loop that is
	// shutting down or already closed.
	ErrLoopStopped = fmt.Errorf("%w: worker loop is not accepting work", services.ErrShutdown)
	// ErrHostClosed is returned when a callback is posted to a host loop that
	// has already quit.
	ErrHostClosed = fmt.Errorf("%w: host loop has quit", services.ErrShutdown)
	// ErrTaskCancelled resolves every task still pending when the loop shuts down.
	ErrTaskCancelled = fmt.Errorf("task cancelled by loop shutdown: %w: %w", services.ErrCancelled, context.Canceled)
	// ErrInvalidHook rejects nil exit hooks.
	ErrInvalidHook = fmt.Errorf("%w: exit hook must be a non-nil function", services.ErrValidation)
)

// PanicError carries a recovered panic out of a task or hook.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
