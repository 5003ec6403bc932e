package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"doctools/internal/logging"
	"doctools/internal/loop"
	"doctools/internal/services"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 8

var (
	// ErrRunnerStopped rejects registrations once the runner has drained.
	ErrRunnerStopped = fmt.Errorf("%w: job runner has drained", services.ErrShutdown)
	// ErrJobDiscarded resolves jobs still queued when the runner is aborted.
	ErrJobDiscarded = fmt.Errorf("%w: job discarded before it started", services.ErrCancelled)
)

// RunnerState is the runner lifecycle.
type RunnerState int

const (
	StateIdle RunnerState = iota
	StateConsuming
	StateDraining
	StateStopped
)

func (s RunnerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConsuming:
		return "consuming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type runnerConfig struct {
	capacity        int
	loop            *loop.Loop
	logger          *slog.Logger
	observer        Observer
	shutdownTimeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

// WithCapacity sets the queue capacity.
func WithCapacity(n int) RunnerOption {
	return func(c *runnerConfig) { c.capacity = n }
}

// WithLoop makes the runner execute on a shared loop. The caller remains
// responsible for shutting that loop down. Without it the runner creates its
// own loop and shuts it down once drained.
func WithLoop(l *loop.Loop) RunnerOption {
	return func(c *runnerConfig) { c.loop = l }
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(c *runnerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) RunnerOption {
	return func(c *runnerConfig) { c.observer = o }
}

// WithShutdownTimeout bounds the shutdown of an owned loop.
func WithShutdownTimeout(d time.Duration) RunnerOption {
	return func(c *runnerConfig) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// Stats summarizes runner activity.
type Stats struct {
	State     RunnerState
	Queued    int
	Submitted int64
	Succeeded int64
	Failed    int64
	Cancelled int64
}

// Runner is a bounded producer/consumer pipeline. Producers Register jobs; a
// single consumer dequeues them in FIFO order and launches each as its own
// task; a monitor stops the consumer once every enqueued job is done.
type Runner[R any] struct {
	queue    *Queue[*Job[R]]
	loop     *loop.Loop
	ownsLoop bool
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration

	mu         sync.Mutex
	state      RunnerState
	jobs       []*Job[R]
	pending    []*Job[R]
	forwarding bool
	forwarders sync.WaitGroup
	drained    chan struct{}
	drainOnce  sync.Once
	exitOnce   sync.Once
	consumed   chan struct{}
	done       chan struct{}
	stopErr    error

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// NewRunner constructs an idle runner.
func NewRunner[R any](opts ...RunnerOption) (*Runner[R], error) {
	cfg := runnerConfig{
		capacity:        DefaultCapacity,
		logger:          logging.NewNop(),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	queue, err := NewQueue[*Job[R]](cfg.capacity)
	if err != nil {
		return nil, err
	}
	r := &Runner[R]{
		queue:    queue,
		loop:     cfg.loop,
		logger:   logging.NewComponentLogger(cfg.logger, "jobqueue"),
		observer: cfg.observer,
		timeout:  cfg.shutdownTimeout,
		drained:  make(chan struct{}),
		consumed: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if r.loop == nil {
		r.loop = loop.New(loop.WithLogger(cfg.logger))
		r.ownsLoop = true
	}
	return r, nil
}

// State returns the current lifecycle state.
func (r *Runner[R]) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot of runner counters.
func (r *Runner[R]) Stats() Stats {
	return Stats{
		State:     r.State(),
		Queued:    r.queue.Len(),
		Submitted: r.submitted.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Cancelled: r.cancelled.Load(),
	}
}

// Jobs returns every job accepted so far, in registration order.
func (r *Runner[R]) Jobs() []*Job[R] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Job[R](nil), r.jobs...)
}

// Done is closed once the runner has stopped (and its owned loop, if any,
// has shut down).
func (r *Runner[R]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the runner stops or ctx ends.
func (r *Runner[R]) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accept creates the job and reserves its queue slot while holding the
// runner lock, so the monitor either sees the reservation or the job is
// rejected. A job is never silently dropped.
func (r *Runner[R]) accept(op Operation[R], args []string, dest string) (*Job[R], error) {
	if op.Run == nil {
		return nil, services.Wrap(services.ErrValidation, "jobqueue", "register", "operation has no function", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= StateDraining {
		return nil, ErrRunnerStopped
	}
	if err := r.queue.reserve(); err != nil {
		return nil, ErrRunnerStopped
	}
	job := newJob(op, args, dest)
	r.jobs = append(r.jobs, job)
	r.submitted.Add(1)
	return job, nil
}

// Register enqueues a job, blocking while the queue is full. It is valid
// while the runner is idle or consuming. Jobs still pending from Enqueue are
// not waited for, so mixing the two gives no ordering between them.
func (r *Runner[R]) Register(ctx context.Context, op Operation[R], args []string, dest string) (*Job[R], error) {
	job, err := r.accept(op, args, dest)
	if err != nil {
		return nil, err
	}
	if err := r.queue.send(ctx, job); err != nil {
		r.abandon(ctx, job, err)
		return nil, err
	}
	r.queued(ctx, job)
	return job, nil
}

// Enqueue accepts a job without blocking the caller. The job's slot is
// counted immediately and the job joins an ordered pending list; a single
// forwarder task on the runner's loop moves pending jobs into the queue, so
// enqueue order is dequeue order and many jobs can be enqueued before Run
// starts the consumer.
func (r *Runner[R]) Enqueue(op Operation[R], args []string, dest string) (*Job[R], error) {
	job, err := r.accept(op, args, dest)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.pending = append(r.pending, job)
	start := !r.forwarding
	r.forwarding = true
	if start {
		r.forwarders.Add(1)
	}
	r.mu.Unlock()
	if !start {
		return job, nil
	}

	forwarder, err := loop.Submit(r.loop, r.forward)
	if err != nil {
		r.flushPending(err)
		r.forwarders.Done()
		return nil, err
	}
	forwarder.OnDone(nil, func(_ struct{}, err error) {
		defer r.forwarders.Done()
		if err != nil {
			r.flushPending(err)
		}
	})
	return job, nil
}

// flushPending resolves jobs the forwarder never reached, which happens when
// the loop shuts down first.
func (r *Runner[R]) flushPending(cause error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.forwarding = false
	r.mu.Unlock()
	for _, job := range pending {
		r.queue.unreserve()
		r.abandon(context.Background(), job, cause)
	}
}

// forward hands pending jobs to the queue one at a time, oldest first.
func (r *Runner[R]) forward(ctx context.Context) (struct{}, error) {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.forwarding = false
			r.mu.Unlock()
			return struct{}{}, nil
		}
		job := r.pending[0]
		r.pending[0] = nil
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if err := r.queue.send(ctx, job); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				err = ErrJobDiscarded
			}
			r.abandon(ctx, job, err)
			continue
		}
		r.queued(ctx, job)
	}
}

func (r *Runner[R]) queued(ctx context.Context, job *Job[R]) {
	r.notify(ctx, "job_queued", func() { r.observer.JobQueued(ctx, job.Info()) })
	r.logger.Debug("job queued",
		logging.String(logging.FieldJobID, job.id),
		logging.String("operation", job.op.Name),
	)
}

// abandon resolves a job that will never run. ctx may already be cancelled,
// so the observer gets a detached copy.
func (r *Runner[R]) abandon(ctx context.Context, job *Job[R], err error) {
	ctx = context.WithoutCancel(ctx)
	var zero R
	job.resolve(zero, err)
	r.countOutcome(err)
	r.notify(ctx, "job_finished", func() { r.observer.JobFinished(ctx, job.Info(), err, 0) })
}

// notify calls the observer, containing any panic so queue accounting is
// never skipped.
func (r *Runner[R]) notify(ctx context.Context, event string, fn func()) {
	if r.observer == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logging.ErrorWithContext(logging.WithContext(ctx, r.logger), "job observer panicked", "observer_panic",
				logging.String("event", event),
				logging.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	fn()
}

// Run starts the consumer and the drain monitor. It returns at once; use Wait
// or Done to observe completion. Calling Run on a consuming runner is a
// no-op. A runner with nothing enqueued stops right away. When ctx ends before
// the queue drains, jobs not yet dequeued resolve with ErrJobDiscarded and
// Wait reports ctx's error. Jobs already launched keep running on a loop
// supplied with WithLoop; an owned loop is shut down, which cancels them.
func (r *Runner[R]) Run(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateConsuming:
		r.mu.Unlock()
		return nil
	case StateDraining, StateStopped:
		r.mu.Unlock()
		return ErrRunnerStopped
	}
	r.state = StateConsuming
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		r.consumerExit(ctx)
		r.stop(err)
		return err
	}

	consumer, err := loop.Submit(r.loop, r.consume)
	if err != nil {
		r.consumerExit(context.Background())
		r.stop(err)
		return err
	}
	// A consumer cancelled before it started never runs its own cleanup.
	consumer.OnDone(nil, func(struct{}, error) { r.consumerExit(context.Background()) })
	monitor, err := loop.Submit(r.loop, func(loopCtx context.Context) (struct{}, error) {
		r.monitor(ctx, loopCtx)
		return struct{}{}, nil
	})
	if err != nil {
		r.beginDrain()
		r.stop(err)
		return err
	}
	monitor.OnDone(nil, func(_ struct{}, err error) {
		if err != nil {
			r.beginDrain()
			r.stop(err)
		}
	})
	r.logger.Debug("job runner consuming", logging.Int("capacity", r.queue.Cap()))
	return nil
}

func (r *Runner[R]) consume(loopCtx context.Context) (struct{}, error) {
	defer r.consumerExit(loopCtx)
	ctx, cancel := context.WithCancel(loopCtx)
	defer cancel()
	go func() {
		select {
		case <-r.drained:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		job, err := r.queue.Get(ctx)
		if err != nil {
			// Cancellation at drain is the normal way out.
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
				return struct{}{}, nil
			}
			return struct{}{}, err
		}
		r.launch(loopCtx, job)
	}
}

func (r *Runner[R]) consumerExit(ctx context.Context) {
	r.exitOnce.Do(func() {
		r.discard(ctx)
		close(r.consumed)
	})
}

// discard closes the queue once the consumer has exited and resolves every
// job still buffered with ErrJobDiscarded. After a normal drain the buffer is
// already empty.
func (r *Runner[R]) discard(ctx context.Context) {
	r.beginDrain()
	leftovers := r.queue.Drain()
	if len(leftovers) == 0 {
		return
	}
	logging.WarnWithContext(r.logger, "job runner discarded queued jobs", "jobs_discarded",
		logging.Int("count", len(leftovers)),
		logging.String(logging.FieldImpact, "queued conversions did not run"),
	)
	for _, job := range leftovers {
		r.abandon(services.WithJobID(ctx, job.id), job, ErrJobDiscarded)
		if err := r.queue.TaskDone(); err != nil {
			r.logger.Error("queue accounting failed", logging.Error(err))
		}
	}
}

// launch starts job as an independent loop task. The job is marked done on
// the queue exactly once, whatever its outcome.
func (r *Runner[R]) launch(loopCtx context.Context, job *Job[R]) {
	ctx := services.WithJobID(loopCtx, job.id)
	info := job.Info()
	start := time.Now()
	logger := logging.WithContext(ctx, r.logger)

	complete := func(value R, err error) {
		defer func() {
			if doneErr := r.queue.TaskDone(); doneErr != nil {
				logger.Error("queue accounting failed", logging.Error(doneErr))
			}
		}()
		job.resolve(value, err)
		r.countOutcome(err)
		r.notify(ctx, "job_finished", func() { r.observer.JobFinished(ctx, info, err, time.Since(start)) })
		switch {
		case err == nil:
			logger.Info("job completed",
				logging.String("operation", info.Operation),
				logging.String("dest", info.Dest),
				logging.Duration("elapsed", time.Since(start)),
			)
		case services.IsCancellation(err):
			logging.WarnWithContext(logger, "job cancelled", "job_cancelled",
				logging.String("operation", info.Operation),
				logging.Error(err),
				logging.String(logging.FieldImpact, "output may be incomplete"),
			)
		default:
			logging.ErrorWithContext(logger, "job failed", "job_failed",
				logging.String("operation", info.Operation),
				logging.String("args", strings.Join(info.Args, ", ")),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Error(err),
			)
		}
	}

	r.notify(ctx, "job_started", func() { r.observer.JobStarted(ctx, info) })

	future, err := loop.Submit(r.loop, func(taskCtx context.Context) (R, error) {
		return job.op.Run(services.WithJobID(taskCtx, job.id), job.args, job.dest)
	})
	if err != nil {
		var zero R
		complete(zero, err)
		return
	}
	future.OnDone(nil, complete)
}

// monitor waits for the queue to join, then re-checks under the runner lock
// so a registration racing the join is either counted or rejected.
func (r *Runner[R]) monitor(runCtx, loopCtx context.Context) {
	ctx, cancel := context.WithCancel(runCtx)
	defer cancel()
	stopAfter := context.AfterFunc(loopCtx, cancel)
	defer stopAfter()

	for {
		if err := r.queue.Join(ctx); err != nil {
			r.logger.Debug("job runner monitor stopped early", logging.Error(err))
			r.beginDrain()
			r.stop(err)
			return
		}
		r.mu.Lock()
		if r.queue.Unfinished() > 0 {
			r.mu.Unlock()
			continue
		}
		r.state = StateDraining
		r.mu.Unlock()
		break
	}

	r.beginDrain()
	stats := r.Stats()
	r.logger.Info("job runner drained",
		logging.Int64("submitted", stats.Submitted),
		logging.Int64("succeeded", stats.Succeeded),
		logging.Int64("failed", stats.Failed),
		logging.Int64("cancelled", stats.Cancelled),
	)
	r.stop(nil)
}

// beginDrain refuses further registrations, closes the queue, and cancels
// the consumer. Jobs already launched keep running.
func (r *Runner[R]) beginDrain() {
	r.drainOnce.Do(func() {
		r.mu.Lock()
		if r.state < StateDraining {
			r.state = StateDraining
		}
		r.mu.Unlock()
		r.queue.Close()
		close(r.drained)
	})
}

// stop reports the runner stopped once the consumer has resolved leftover
// jobs. It never blocks the caller, which may be a loop task or a future
// callback running inside the loop's shutdown.
func (r *Runner[R]) stop(cause error) {
	go func() {
		<-r.consumed
		r.forwarders.Wait()
		if !r.ownsLoop {
			r.finish(cause)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		err := r.loop.Shutdown(ctx)
		r.finish(errors.Join(cause, err))
	}()
}

func (r *Runner[R]) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return
	}
	r.state = StateStopped
	r.stopErr = err
	close(r.done)
}

func (r *Runner[R]) countOutcome(err error) {
	switch {
	case err == nil:
		r.succeeded.Add(1)
	case services.IsCancellation(err):
		r.cancelled.Add(1)
	default:
		r.failed.Add(1)
	}
}
