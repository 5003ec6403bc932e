package history

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"doctools/internal/batch"
	"doctools/internal/jobqueue"
	"doctools/internal/logging"
	"doctools/internal/services"
)

// KindOCR labels recognition items.
const KindOCR = "ocr"

// Recorder writes job and batch item progress to a Store. It satisfies both
// jobqueue.Observer and batch.Observer. Write failures are logged and never
// reach the observed work.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ jobqueue.Observer = (*Recorder)(nil)
	_ batch.Observer    = (*Recorder)(nil)
)

// NewRecorder constructs a recorder for store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.NewComponentLogger(logger, "history"),
		now:    time.Now,
	}
}

// Store returns the backing store.
func (r *Recorder) Store() *Store { return r.store }

func (r *Recorder) warn(ctx context.Context, op string, err error) {
	if err == nil || r.logger == nil {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, r.logger), "history write failed", "history_write_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldImpact, "job history may be incomplete"),
	)
}

func entryFromInfo(ctx context.Context, info jobqueue.JobInfo) Entry {
	batchID, _ := services.BatchIDFromContext(ctx)
	return Entry{
		ID:          info.ID,
		BatchID:     batchID,
		Kind:        info.Operation,
		Source:      strings.Join(info.Args, ", "),
		Destination: info.Dest,
		CreatedAt:   info.Enqueued,
	}
}

// JobQueued records a pending conversion.
func (r *Recorder) JobQueued(ctx context.Context, info jobqueue.JobInfo) {
	r.warn(ctx, "queued", r.store.Insert(context.WithoutCancel(ctx), entryFromInfo(ctx, info)))
}

// JobStarted marks a conversion running. The consumer may dequeue a job
// before its producer reported it queued, so a missing row is created.
func (r *Recorder) JobStarted(ctx context.Context, info jobqueue.JobInfo) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	err := r.store.MarkRunning(ctx, info.ID, now)
	if errors.Is(err, ErrEntryNotFound) {
		e := entryFromInfo(ctx, info)
		e.Status = StatusRunning
		e.StartedAt = now
		err = r.store.Insert(ctx, e)
	}
	r.warn(ctx, "started", err)
}

// JobFinished records the conversion outcome.
func (r *Recorder) JobFinished(ctx context.Context, info jobqueue.JobInfo, jobErr error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	status, kind, msg := outcome(jobErr)
	err := r.store.MarkFinished(ctx, info.ID, status, kind, msg, now)
	if errors.Is(err, ErrEntryNotFound) {
		e := entryFromInfo(ctx, info)
		e.Status, e.ErrorKind, e.ErrorMessage = status, kind, msg
		e.StartedAt = now.Add(-elapsed)
		e.FinishedAt = now
		err = r.store.Insert(ctx, e)
	}
	r.warn(ctx, "finished", err)
}

// WindowStarted is part of batch.Observer; windows are not persisted.
func (r *Recorder) WindowStarted(ctx context.Context, batchID string, window, size int) {}

// ItemFinished records one recognition item in a single write.
func (r *Recorder) ItemFinished(ctx context.Context, batchID, key string, itemErr error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	now := r.now()
	status, kind, msg := outcome(itemErr)
	r.warn(ctx, "item", r.store.Insert(ctx, Entry{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		Kind:         KindOCR,
		Source:       key,
		Status:       status,
		ErrorKind:    kind,
		ErrorMessage: msg,
		CreatedAt:    now.Add(-elapsed),
		StartedAt:    now.Add(-elapsed),
		FinishedAt:   now,
	}))
}

// WindowFinished is part of batch.Observer; windows are not persisted.
func (r *Recorder) WindowFinished(ctx context.Context, batchID string, window int) {}

func outcome(err error) (Status, string, string) {
	switch {
	case err == nil:
		return StatusCompleted, "", ""
	case services.IsCancellation(err):
		return StatusCancelled, services.Kind(err), err.Error()
	default:
		return StatusFailed, services.Kind(err), err.Error()
	}
}
