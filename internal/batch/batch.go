package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"doctools/internal/logging"
	"doctools/internal/services"
)

var (
	// ErrInvalidWindow rejects window sizes below one.
	ErrInvalidWindow = fmt.Errorf("%w: window size must be at least 1", services.ErrValidation)
	// ErrDuplicateKey rejects batches that name the same item twice.
	ErrDuplicateKey = fmt.Errorf("%w: duplicate batch item", services.ErrValidation)
)

// Item is one unit of batch work. Key identifies the item in the ResultMap.
type Item[K comparable, V any] struct {
	Key K
	Run func(ctx context.Context) (V, error)
}

// Result is the outcome of one item.
type Result[V any] struct {
	Value V
	Err   error
}

// ResultMap maps every launched item to its outcome.
type ResultMap[K comparable, V any] map[K]Result[V]

// Failed counts items whose outcome is an error.
func (m ResultMap[K, V]) Failed() int {
	n := 0
	for _, r := range m {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Values returns the successful outcomes.
func (m ResultMap[K, V]) Values() map[K]V {
	out := make(map[K]V, len(m))
	for k, r := range m {
		if r.Err == nil {
			out[k] = r.Value
		}
	}
	return out
}

// Errors returns the failed outcomes.
func (m ResultMap[K, V]) Errors() map[K]error {
	out := make(map[K]error)
	for k, r := range m {
		if r.Err != nil {
			out[k] = r.Err
		}
	}
	return out
}

// Observer is notified as windows and items progress. Calls for items in the
// same window arrive concurrently.
type Observer interface {
	WindowStarted(ctx context.Context, batchID string, window, size int)
	ItemFinished(ctx context.Context, batchID, key string, err error, elapsed time.Duration)
	WindowFinished(ctx context.Context, batchID string, window int)
}

type settings struct {
	batchID  string
	logger   *slog.Logger
	observer Observer
}

// Option configures Run.
type Option func(*settings)

// WithBatchID sets the identifier stamped on the context and log lines.
func WithBatchID(id string) Option {
	return func(s *settings) { s.batchID = id }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// Run executes items in consecutive windows of at most size items. Every item
// in a window is launched, in input order, before any result is awaited, and
// the next window starts only after the whole window has finished. A failing
// or panicking item records its error in its own slot and never affects its
// siblings.
//
// Run returns an error only for invalid input, detected before any item is
// launched, or when ctx ends before the batch completes. The window in flight
// still finishes, no further window starts, and the returned map holds the
// outcomes gathered so far.
func Run[K comparable, V any](ctx context.Context, items []Item[K, V], size int, opts ...Option) (ResultMap[K, V], error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, size)
	}
	seen := make(map[K]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.Key]; dup {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, item.Key)
		}
		if item.Run == nil {
			return nil, services.Wrap(services.ErrValidation, "batch", "run", fmt.Sprintf("item %v has no work", item.Key), nil)
		}
		seen[item.Key] = struct{}{}
	}

	results := make(ResultMap[K, V], len(items))
	if len(items) == 0 {
		return results, nil
	}

	cfg := settings{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batchID == "" {
		cfg.batchID = uuid.NewString()
	}
	ctx = services.WithBatchID(ctx, cfg.batchID)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(cfg.logger, "batch"))

	aborted := func(err error) (ResultMap[K, V], error) {
		logging.WarnWithContext(logger, "batch aborted", "batch_aborted",
			logging.Int("completed", len(results)),
			logging.Int("total", len(items)),
			logging.String(logging.FieldImpact, "remaining items were not started"),
		)
		return results, fmt.Errorf("batch aborted after %d of %d items: %w", len(results), len(items), err)
	}

	var mu sync.Mutex
	for index, window := range Partition(items, size) {
		if err := ctx.Err(); err != nil {
			return aborted(err)
		}

		if cfg.observer != nil {
			cfg.observer.WindowStarted(ctx, cfg.batchID, index, len(window))
		}
		logger.Debug("window started", logging.Int("window", index), logging.Int("size", len(window)))

		// Item errors stay in their slots; the group only reports an abort of
		// the whole batch, which never cancels siblings.
		var g errgroup.Group
		g.SetLimit(size)
		for _, item := range window {
			g.Go(func() error {
				key := fmt.Sprint(item.Key)
				itemCtx := services.WithItem(ctx, key)
				start := time.Now()
				value, err := invoke(itemCtx, item.Run)
				if cfg.observer != nil {
					cfg.observer.ItemFinished(itemCtx, cfg.batchID, key, err, time.Since(start))
				}
				mu.Lock()
				results[item.Key] = Result[V]{Value: value, Err: err}
				mu.Unlock()
				return ctx.Err()
			})
		}
		abortErr := g.Wait()

		if cfg.observer != nil {
			cfg.observer.WindowFinished(ctx, cfg.batchID, index)
		}
		if abortErr != nil {
			return aborted(abortErr)
		}
	}

	if failed := results.Failed(); failed > 0 {
		logger.Info("batch finished with failures", logging.Int("total", len(items)), logging.Int("failed", failed))
	} else {
		logger.Debug("batch finished", logging.Int("total", len(items)))
	}
	return results, nil
}

func invoke[V any](ctx context.Context, fn func(context.Context) (V, error)) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("batch item panicked: ", r))
		}
	}()
	return fn(ctx)
}

// Partition splits items into consecutive windows of at most size elements.
// The last window holds the remainder. size must be positive.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 || len(items) == 0 {
		return nil
	}
	windows := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		windows = append(windows, items[start:min(start+size, len(items))])
	}
	return windows
}
