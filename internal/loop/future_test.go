package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPromiseResolvesOnce(t *testing.T) {
	fut, resolve := NewPromise[int]()
	if _, _, ok := fut.Peek(); ok {
		t.Fatal("expected unresolved future")
	}
	if !resolve(1, nil) {
		t.Fatal("expected first resolve to win")
	}
	if resolve(2, errors.New("late")) {
		t.Fatal("expected second resolve to be ignored")
	}
	v, err, ok := fut.Peek()
	if !ok || v != 1 || err != nil {
		t.Fatalf("unexpected outcome %d, %v, %v", v, err, ok)
	}
}

func TestResultHonoursContext(t *testing.T) {
	fut, resolve := NewPromise[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fut.Result(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	resolve("later", nil)
	if v, err := fut.Result(context.Background()); err != nil || v != "later" {
		t.Fatalf("expected future to resolve after timed-out wait, got %q, %v", v, err)
	}
}

type recordingPoster struct {
	mu    sync.Mutex
	posts int
	run   bool
}

func (p *recordingPoster) Post(fn func()) error {
	p.mu.Lock()
	p.posts++
	p.mu.Unlock()
	if p.run {
		fn()
	}
	return nil
}

func TestOnDoneDeliversThroughPoster(t *testing.T) {
	fut, resolve := NewPromise[int]()
	poster := &recordingPoster{run: true}
	got := make(chan int, 2)
	fut.OnDone(poster, func(v int, _ error) { got <- v })
	resolve(42, nil)
	fut.OnDone(poster, func(v int, _ error) { got <- v + 1 })

	if v := <-got; v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := <-got; v != 43 {
		t.Fatalf("expected late callback to run immediately with 43, got %d", v)
	}
	if poster.posts != 2 {
		t.Fatalf("expected both callbacks to go through the poster, got %d", poster.posts)
	}
}

func TestOnDoneWithoutPosterRunsOnResolver(t *testing.T) {
	fut, resolve := NewPromise[int]()
	var called bool
	fut.OnDone(nil, func(int, error) { called = true })
	resolve(0, nil)
	if !called {
		t.Fatal("expected callback to run synchronously on resolve")
	}
}
