package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"doctools/internal/batch"
	"doctools/internal/services"
)

func TestRunRejectsInvalidWindowBeforeLaunching(t *testing.T) {
	var launched atomic.Int32
	items := []batch.Item[string, int]{{Key: "a", Run: func(context.Context) (int, error) {
		launched.Add(1)
		return 1, nil
	}}}
	for _, size := range []int{0, -3} {
		_, err := batch.Run(context.Background(), items, size)
		if !errors.Is(err, batch.ErrInvalidWindow) || !errors.Is(err, services.ErrValidation) {
			t.Fatalf("size %d: expected ErrInvalidWindow, got %v", size, err)
		}
	}
	if launched.Load() != 0 {
		t.Fatalf("expected no work launched, got %d", launched.Load())
	}
}

func TestRunRejectsDuplicateKeys(t *testing.T) {
	run := func(context.Context) (int, error) { return 0, nil }
	items := []batch.Item[string, int]{{Key: "a", Run: run}, {Key: "a", Run: run}}
	if _, err := batch.Run(context.Background(), items, 2); !errors.Is(err, batch.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	results, err := batch.Run[string, int](context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty map, got %v", results)
	}
}

func TestRunBoundsConcurrencyAndCoversEveryItem(t *testing.T) {
	for _, tc := range []struct{ k, n int }{{1, 1}, {5, 2}, {7, 3}, {4, 4}, {3, 10}} {
		t.Run(fmt.Sprintf("k=%d,n=%d", tc.k, tc.n), func(t *testing.T) {
			var inFlight, maxInFlight atomic.Int32
			items := make([]batch.Item[int, int], tc.k)
			for i := range items {
				items[i] = batch.Item[int, int]{Key: i, Run: func(context.Context) (int, error) {
					n := inFlight.Add(1)
					for {
						cur := maxInFlight.Load()
						if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					inFlight.Add(-1)
					return i * 10, nil
				}}
			}
			results, err := batch.Run(context.Background(), items, tc.n)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(results) != tc.k {
				t.Fatalf("expected %d results, got %d", tc.k, len(results))
			}
			if int(maxInFlight.Load()) > tc.n {
				t.Fatalf("expected at most %d in flight, saw %d", tc.n, maxInFlight.Load())
			}
			for i := 0; i < tc.k; i++ {
				if r := results[i]; r.Err != nil || r.Value != i*10 {
					t.Fatalf("item %d mapped to wrong result %+v", i, r)
				}
			}
		})
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	items := []batch.Item[string, string]{
		{Key: "ok-1", Run: func(context.Context) (string, error) { return "one", nil }},
		{Key: "bad", Run: func(context.Context) (string, error) { return "", boom }},
		{Key: "panics", Run: func(context.Context) (string, error) { panic("kaboom") }},
		{Key: "ok-2", Run: func(context.Context) (string, error) {
			time.Sleep(5 * time.Millisecond)
			return "two", nil
		}},
	}
	results, err := batch.Run(context.Background(), items, 4)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(results))
	}
	if !errors.Is(results["bad"].Err, boom) {
		t.Fatalf("expected boom for bad item, got %v", results["bad"].Err)
	}
	if results["panics"].Err == nil {
		t.Fatal("expected panic to be recorded as an error")
	}
	if results["ok-1"].Value != "one" || results["ok-2"].Value != "two" {
		t.Fatalf("expected siblings to succeed, got %+v", results)
	}
	if results.Failed() != 2 || len(results.Values()) != 2 || len(results.Errors()) != 2 {
		t.Fatalf("unexpected summary: failed=%d", results.Failed())
	}
}

type windowEvent struct {
	kind   string
	window int
	at     time.Time
	size   int
}

type recordingObserver struct {
	mu     sync.Mutex
	events []windowEvent
	items  []time.Time
}

func (o *recordingObserver) WindowStarted(_ context.Context, _ string, window, size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, windowEvent{kind: "start", window: window, size: size, at: time.Now()})
}

func (o *recordingObserver) ItemFinished(context.Context, string, string, error, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, time.Now())
}

func (o *recordingObserver) WindowFinished(_ context.Context, _ string, window int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, windowEvent{kind: "finish", window: window, at: time.Now()})
}

func TestRunWindowsAreSequential(t *testing.T) {
	type span struct{ start, end time.Time }
	var mu sync.Mutex
	spans := map[int]span{}
	items := make([]batch.Item[int, int], 5)
	for i := range items {
		items[i] = batch.Item[int, int]{Key: i, Run: func(context.Context) (int, error) {
			start := time.Now()
			time.Sleep(time.Duration(5+i) * time.Millisecond)
			mu.Lock()
			spans[i] = span{start: start, end: time.Now()}
			mu.Unlock()
			return i, nil
		}}
	}
	obs := &recordingObserver{}
	if _, err := batch.Run(context.Background(), items, 2, batch.WithObserver(obs), batch.WithBatchID("b")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var sizes []int
	for _, ev := range obs.events {
		if ev.kind == "start" {
			sizes = append(sizes, ev.size)
		}
	}
	if fmt.Sprint(sizes) != "[2 2 1]" {
		t.Fatalf("expected windows [2 2 1], got %v", sizes)
	}
	groups := [][]int{{0, 1}, {2, 3}, {4}}
	for g := 1; g < len(groups); g++ {
		for _, prev := range groups[g-1] {
			for _, next := range groups[g] {
				if spans[next].start.Before(spans[prev].end) {
					t.Fatalf("item %d started before item %d of the previous window finished", next, prev)
				}
			}
		}
	}
	if len(obs.items) != 5 {
		t.Fatalf("expected 5 item events, got %d", len(obs.items))
	}
}

func TestRunAbortKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	items := make([]batch.Item[int, int], 6)
	for i := range items {
		items[i] = batch.Item[int, int]{Key: i, Run: func(context.Context) (int, error) {
			if i == 1 {
				cancel()
			}
			return i, nil
		}}
	}
	results, err := batch.Run(ctx, items, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected first window results only, got %d", len(results))
	}
	if _, ok := results[0]; !ok {
		t.Fatal("expected partial results to remain accessible")
	}
}

func TestRunAbortDuringLastWindowIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var finished atomic.Int32
	items := make([]batch.Item[int, int], 3)
	for i := range items {
		items[i] = batch.Item[int, int]{Key: i, Run: func(context.Context) (int, error) {
			if i == 2 {
				cancel()
			}
			finished.Add(1)
			return i, nil
		}}
	}
	results, err := batch.Run(ctx, items, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(results) != 3 || finished.Load() != 3 {
		t.Fatalf("expected every launched item recorded, got %d results", len(results))
	}
	if results.Failed() != 0 {
		t.Fatalf("expected the abort not to fail items, got %d failures", results.Failed())
	}
}

func TestPartition(t *testing.T) {
	got := batch.Partition([]int{1, 2, 3, 4, 5}, 2)
	if fmt.Sprint(got) != "[[1 2] [3 4] [5]]" {
		t.Fatalf("unexpected windows %v", got)
	}
	if batch.Partition([]int{1}, 0) != nil {
		t.Fatal("expected nil for invalid size")
	}
}
