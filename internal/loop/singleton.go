package loop

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	defaultMu   sync.Mutex
	defaultLoop atomic.Pointer[Loop]
)

// Default returns the process-wide worker loop, creating and starting it on
// first use. It runs the ProcessHooks registry at shutdown.
func Default() *Loop {
	if l := defaultLoop.Load(); l != nil {
		return l
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if l := defaultLoop.Load(); l != nil {
		return l
	}
	l := New(WithExitHooks(ProcessHooks()))
	_ = l.Start()
	defaultLoop.Store(l)
	return l
}

// SetDefault installs l as the process-wide loop. It fails if Default has
// already been resolved, so every consumer sees the same instance.
func SetDefault(l *Loop) error {
	if l == nil {
		return errors.New("loop: nil default")
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLoop.Load() != nil {
		return errors.New("loop: default already initialized")
	}
	defaultLoop.Store(l)
	return nil
}
