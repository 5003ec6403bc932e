package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"doctools/internal/services"
)

var (
	// ErrQueueClosed is returned by Put and Get once the queue is closed.
	ErrQueueClosed = fmt.Errorf("%w: queue closed", services.ErrShutdown)
	// ErrTooManyDone reports a TaskDone call without a matching Get.
	ErrTooManyDone = errors.New("jobqueue: TaskDone called more times than items were dequeued")
	// ErrInvalidCapacity rejects capacities below one.
	ErrInvalidCapacity = fmt.Errorf("%w: queue capacity must be at least 1", services.ErrValidation)
)

// Queue is a bounded FIFO with join support. Put blocks while the queue is
// full and Get blocks while it is empty. Join waits until every item put has
// been marked with TaskDone.
type Queue[T any] struct {
	items   chan T
	closing chan struct{}

	mu         sync.Mutex
	unfinished int
	dequeued   int64
	done       int64
	joined     chan struct{}
	closed     bool
	senders    sync.WaitGroup
}

// NewQueue returns a queue holding at most capacity items.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	joined := make(chan struct{})
	close(joined)
	return &Queue[T]{
		items:   make(chan T, capacity),
		closing: make(chan struct{}),
		joined:  joined,
	}, nil
}

// Put appends item, waiting for space.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	if err := q.reserve(); err != nil {
		return err
	}
	return q.send(ctx, item)
}

// reserve counts an item as unfinished before it is sent, so Join cannot
// complete while a producer is still waiting for space.
func (q *Queue[T]) reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.unfinished == 0 {
		q.joined = make(chan struct{})
	}
	q.unfinished++
	return nil
}

func (q *Queue[T]) unreserve() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.release()
}

func (q *Queue[T]) release() {
	q.unfinished--
	if q.unfinished == 0 {
		close(q.joined)
	}
}

func (q *Queue[T]) send(ctx context.Context, item T) error {
	q.mu.Lock()
	if q.closed {
		q.release()
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		q.unreserve()
		return ctx.Err()
	case <-q.closing:
		q.unreserve()
		return ErrQueueClosed
	}
}

// Get removes the oldest item, waiting until one is available.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.items:
		q.markDequeued()
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-q.closing:
		select {
		case item := <-q.items:
			q.markDequeued()
			return item, nil
		default:
			return zero, ErrQueueClosed
		}
	}
}

func (q *Queue[T]) markDequeued() {
	q.mu.Lock()
	q.dequeued++
	q.mu.Unlock()
}

// TaskDone marks one dequeued item as processed.
func (q *Queue[T]) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done >= q.dequeued {
		return ErrTooManyDone
	}
	q.done++
	q.release()
	return nil
}

// Join waits until every item put so far has been marked done.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	joined := q.joined
	q.mu.Unlock()
	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting items and wakes blocked producers. Items already
// buffered can still be taken with Get.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closing)
}

// Drain closes the queue, waits for producers still inside Put, and
// returns every item left in the buffer in FIFO order. Each returned item
// counts as dequeued and must be marked with TaskDone.
func (q *Queue[T]) Drain() []T {
	q.Close()
	q.senders.Wait()

	var items []T
	for {
		select {
		case item := <-q.items:
			q.markDequeued()
			items = append(items, item)
		default:
			return items
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }

// Unfinished returns the number of items put or reserved but not yet done.
func (q *Queue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Counts returns how many items were dequeued and marked done.
func (q *Queue[T]) Counts() (dequeued, done int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeued, q.done
}
