package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"doctools/internal/logging"
)

// State is the loop lifecycle. It only ever moves forward.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const defaultExecutorWorkers = 4

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithExitHooks makes the loop run hooks from r during Shutdown instead of a
// private registry.
func WithExitHooks(r *ExitHooks) Option {
	return func(l *Loop) {
		if r != nil {
			l.hooks = r
		}
	}
}

// WithExecutorWorkers bounds how many RunBlocking calls execute at once.
func WithExecutorWorkers(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.execSlots = make(chan struct{}, n)
		}
	}
}

// Loop hosts a worker goroutine, pinned to its own OS thread, that runs posted
// callbacks one at a time. Tasks submitted through Submit run on goroutines
// owned by the loop and are cancelled at Shutdown if still pending.
type Loop struct {
	logger *slog.Logger
	hooks  *ExitHooks
	state  atomic.Int32

	mu        sync.Mutex
	callbacks []func()
	timers    map[*Handle]struct{}
	tasks     map[uint64]func()
	nextTask  uint64
	execOpen  bool
	postOpen  bool

	wake       chan struct{}
	quit       chan struct{}
	workerDone chan struct{}
	done       chan struct{}

	baseCtx    context.Context
	cancelBase context.CancelFunc
	taskWG     sync.WaitGroup
	execWG     sync.WaitGroup
	execSlots  chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a loop in the not-started state. Start it explicitly or let
// the first submission start it.
func New(opts ...Option) *Loop {
	baseCtx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		logger:     logging.NewNop(),
		hooks:      &ExitHooks{},
		timers:     make(map[*Handle]struct{}),
		tasks:      make(map[uint64]func()),
		execOpen:   true,
		postOpen:   true,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
		done:       make(chan struct{}),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		execSlots:  make(chan struct{}, defaultExecutorWorkers),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "loop")
	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Start launches the worker goroutine. Starting a running loop is a no-op;
// starting a stopping or closed loop fails.
func (l *Loop) Start() error {
	if l.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		go l.run()
		l.logger.Debug("worker loop started")
		return nil
	}
	if l.State() == StateRunning {
		return nil
	}
	return ErrLoopStopped
}

// Hooks exposes the registry run during Shutdown.
func (l *Loop) Hooks() *ExitHooks {
	return l.hooks
}

// AddExitHook registers a cleanup action. Registration is refused once the
// loop has begun shutting down.
func (l *Loop) AddExitHook(name string, hook Hook) error {
	if s := l.State(); s == StateStopping || s == StateClosed {
		return ErrLoopStopped
	}
	return l.hooks.Register(name, hook)
}

// Done is closed once Shutdown has fully completed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loop is closed or ctx ends.
func (l *Loop) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the number of submitted tasks that have not finished.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Post queues fn to run on the worker goroutine. It is safe to call from any
// goroutine, including from the worker itself. Posting is allowed while the
// loop is stopping so in-flight work can still hand results back.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if l.State() == StateNotStarted {
		if err := l.Start(); err != nil {
			return err
		}
	}
	l.mu.Lock()
	if !l.postOpen {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.workerDone)

	for {
		l.mu.Lock()
		batch := l.callbacks
		l.callbacks = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.quit:
			// Drain whatever was posted before quit was requested.
			l.mu.Lock()
			l.postOpen = false
			batch = l.callbacks
			l.callbacks = nil
			l.mu.Unlock()
			for _, fn := range batch {
				l.invoke(fn)
			}
			return
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(l.logger, "loop callback panicked", "loop_callback_panic",
				logging.Error(&PanicError{Value: r}),
			)
		}
	}()
	fn()
}

// Submit hands fn to the loop and returns a future for its outcome. It fails
// fast with ErrLoopStopped once shutdown has begun. fn receives a context that
// is cancelled when the loop shuts down; a task still running at that point
// resolves with ErrTaskCancelled.
func Submit[T any](l *Loop, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	if fn == nil {
		return nil, errors.New("loop: nil task")
	}
	if l.State() == StateNotStarted {
		if err := l.Start(); err != nil {
			return nil, err
		}
	}

	future, resolve := NewPromise[T]()
	var zero T
	cancel := func() { resolve(zero, ErrTaskCancelled) }

	l.mu.Lock()
	if l.State() != StateRunning {
		l.mu.Unlock()
		return nil, ErrLoopStopped
	}
	l.nextTask++
	id := l.nextTask
	l.tasks[id] = cancel
	l.taskWG.Add(1)
	l.callbacks = append(l.callbacks, func() {
		go runTask(l, id, future, resolve, fn)
	})
	l.mu.Unlock()
	l.signal()

	return future, nil
}

func runTask[T any](l *Loop, id uint64, future *Future[T], resolve func(T, error) bool, fn func(context.Context) (T, error)) {
	defer l.finishTask(id)
	var zero T
	defer func() {
		if r := recover(); r != nil {
			resolve(zero, &PanicError{Value: r})
		}
	}()
	if _, _, done := future.Peek(); done {
		return
	}
	value, err := fn(l.baseCtx)
	resolve(value, err)
}

func (l *Loop) finishTask(id uint64) {
	l.mu.Lock()
	delete(l.tasks, id)
	l.mu.Unlock()
	l.taskWG.Done()
}

// Handle identifies a scheduled callback.
type Handle struct {
	cancelled atomic.Bool
	timer     *time.Timer
	loop      *Loop
}

// Cancel prevents the callback from running if it has not started yet.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.loop != nil {
		h.loop.mu.Lock()
		delete(h.loop.timers, h)
		h.loop.mu.Unlock()
	}
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// CallSoon runs fn on the worker goroutine as soon as possible.
func (l *Loop) CallSoon(fn func()) (*Handle, error) {
	if fn == nil {
		return nil, errors.New("loop: nil callback")
	}
	h := &Handle{}
	err := l.Post(func() {
		if !h.cancelled.Load() {
			fn()
		}
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// CallLater runs fn on the worker goroutine after delay.
func (l *Loop) CallLater(delay time.Duration, fn func()) (*Handle, error) {
	if fn == nil {
		return nil, errors.New("loop: nil callback")
	}
	if l.State() == StateNotStarted {
		if err := l.Start(); err != nil {
			return nil, err
		}
	}
	h := &Handle{loop: l}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != StateRunning {
		return nil, ErrLoopStopped
	}
	l.timers[h] = struct{}{}
	h.timer = time.AfterFunc(max(delay, 0), func() {
		l.mu.Lock()
		delete(l.timers, h)
		l.mu.Unlock()
		if h.cancelled.Load() {
			return
		}
		if err := l.Post(func() {
			if !h.cancelled.Load() {
				fn()
			}
		}); err != nil {
			l.logger.Debug("timer fired after loop closed")
		}
	})
	return h, nil
}

// CallAt runs fn on the worker goroutine at t. A time in the past runs fn as
// soon as possible.
func (l *Loop) CallAt(t time.Time, fn func()) (*Handle, error) {
	return l.CallLater(time.Until(t), fn)
}

// Shutdown winds the loop down exactly once:
//  1. new submissions start failing with ErrLoopStopped
//  2. exit hooks run to completion in registration order
//  3. pending timers and tasks are cancelled; their futures resolve with ErrTaskCancelled
//  4. task goroutines and the blocking executor are drained, bounded by ctx
//  5. the worker goroutine exits and Done is closed
//
// Concurrent callers all wait for the same shutdown and receive its error.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.shutdownErr = l.shutdown(ctx)
	})
	<-l.done
	return l.shutdownErr
}

func (l *Loop) shutdown(ctx context.Context) error {
	started := l.state.Swap(int32(StateStopping)) != int32(StateNotStarted)
	if !started {
		l.mu.Lock()
		l.postOpen = false
		l.mu.Unlock()
	}
	l.logger.Debug("worker loop stopping")

	var errs []error
	if err := l.hooks.Run(ctx); err != nil {
		errs = append(errs, err)
	}

	l.mu.Lock()
	timers := make([]*Handle, 0, len(l.timers))
	for h := range l.timers {
		timers = append(timers, h)
	}
	cancels := make([]func(), 0, len(l.tasks))
	for _, cancel := range l.tasks {
		cancels = append(cancels, cancel)
	}
	l.execOpen = false
	l.mu.Unlock()

	for _, h := range timers {
		h.Cancel()
	}
	// Resolve futures before cancelling contexts so awaiters see
	// ErrTaskCancelled rather than whatever the task returns on ctx.Done.
	for _, cancel := range cancels {
		cancel()
	}
	l.cancelBase()
	if len(cancels) > 0 {
		l.logger.Info("cancelled pending tasks at shutdown", logging.Int("tasks", len(cancels)))
	}

	if err := waitGroup(ctx, &l.taskWG); err != nil {
		errs = append(errs, fmt.Errorf("drain tasks: %w", err))
	}
	if err := waitGroup(ctx, &l.execWG); err != nil {
		errs = append(errs, fmt.Errorf("drain executor: %w", err))
	}

	if started {
		close(l.quit)
		<-l.workerDone
	}
	l.state.Store(int32(StateClosed))
	close(l.done)
	l.logger.Debug("worker loop closed")
	return errors.Join(errs...)
}

// waitGroup waits for wg on a short-lived goroutine so the wait itself can be
// abandoned when ctx ends.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
