package jobqueue

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"doctools/internal/loop"
)

// Operation is the work a job performs: a named function applied to the
// job's positional arguments and destination.
type Operation[R any] struct {
	Name string
	Run  func(ctx context.Context, args []string, dest string) (R, error)
}

// Job is one queued request. It never changes after it is enqueued.
type Job[R any] struct {
	id       string
	op       Operation[R]
	args     []string
	dest     string
	enqueued time.Time

	future  *loop.Future[R]
	resolve func(R, error) bool
}

func newJob[R any](op Operation[R], args []string, dest string) *Job[R] {
	future, resolve := loop.NewPromise[R]()
	return &Job[R]{
		id:       uuid.NewString(),
		op:       op,
		args:     slices.Clone(args),
		dest:     dest,
		enqueued: time.Now(),
		future:   future,
		resolve:  resolve,
	}
}

// ID returns the job identifier.
func (j *Job[R]) ID() string { return j.id }

// Operation returns the operation name.
func (j *Job[R]) Operation() string { return j.op.Name }

// Args returns a copy of the positional arguments.
func (j *Job[R]) Args() []string { return slices.Clone(j.args) }

// Dest returns the destination.
func (j *Job[R]) Dest() string { return j.dest }

// Enqueued returns the time the job was created.
func (j *Job[R]) Enqueued() time.Time { return j.enqueued }

// Future resolves with the job's outcome.
func (j *Job[R]) Future() *loop.Future[R] { return j.future }

// Info returns a type-erased description for observers.
func (j *Job[R]) Info() JobInfo {
	return JobInfo{
		ID:        j.id,
		Operation: j.op.Name,
		Args:      slices.Clone(j.args),
		Dest:      j.dest,
		Enqueued:  j.enqueued,
	}
}

// JobInfo describes a job without its result type.
type JobInfo struct {
	ID        string
	Operation string
	Args      []string
	Dest      string
	Enqueued  time.Time
}

// Observer is notified as jobs move through the runner. Calls may arrive
// concurrently from different jobs.
type Observer interface {
	JobQueued(ctx context.Context, job JobInfo)
	JobStarted(ctx context.Context, job JobInfo)
	JobFinished(ctx context.Context, job JobInfo, err error, elapsed time.Duration)
}
