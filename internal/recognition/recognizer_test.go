package recognition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"doctools/internal/config"
	"doctools/internal/loop"
	"doctools/internal/services"
)

type fakeEngine struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	fail     map[string]error
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		cur := e.maxSeen.Load()
		if n <= cur || e.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if err := e.fail[in.ID]; err != nil {
		return Result{}, err
	}
	text := string(in.Kind) + ":" + string(in.Data) + in.URL
	return Result{Text: text, Lines: []string{text}}, nil
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]Result
}

func (c *memoryCache) Get(_ context.Context, key string) (Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[key]
	return r, ok, nil
}

func (c *memoryCache) Put(_ context.Context, key string, r Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string]Result{}
	}
	c.items[key] = r
	return nil
}

func (c *memoryCache) Close() error { return nil }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRecognizeFilesIsolatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.png", "A")
	b := writeFile(t, dir, "b.jpg", "B")
	missing := filepath.Join(dir, "gone.png")

	r, err := New(&fakeEngine{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results, err := r.RecognizeFiles(context.Background(), []string{a, b, missing})
	if err != nil {
		t.Fatalf("RecognizeFiles failed: %v", err)
	}
	if len(results) != 3 || results.Failed() != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %+v", results)
	}
	if results[a].Value.Text != "image:A" || results[b].Value.Text != "image:B" {
		t.Fatalf("unexpected texts %+v", results)
	}
	if !errors.Is(results[missing].Err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing file, got %v", results[missing].Err)
	}
}

func TestRecognizeFilesRespectsConcurrency(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"1.png", "2.png", "3.png", "4.png", "5.png"} {
		paths = append(paths, writeFile(t, dir, name, name))
	}
	engine := &fakeEngine{delay: 10 * time.Millisecond}
	r, _ := New(engine, WithConcurrency(2))
	results, err := r.RecognizeFiles(context.Background(), paths)
	if err != nil || results.Failed() != 0 {
		t.Fatalf("RecognizeFiles failed: %v %+v", err, results)
	}
	if engine.maxSeen.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent requests, saw %d", engine.maxSeen.Load())
	}
}

func TestRecognizePathDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scan.pdf", "P")
	writeFile(t, dir, "photo.jpeg", "J")
	writeFile(t, dir, "notes.txt", "ignored")

	r, _ := New(&fakeEngine{})
	results, err := r.RecognizePath(context.Background(), dir)
	if err != nil {
		t.Fatalf("RecognizePath failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected only supported files, got %d", len(results))
	}
	if got := results[filepath.Join(dir, "scan.pdf")].Value.Text; got != "pdf:P" {
		t.Fatalf("expected pdf input, got %q", got)
	}
}

func TestRecognizePathInputErrors(t *testing.T) {
	r, _ := New(&fakeEngine{})
	empty := t.TempDir()
	writeFile(t, empty, "readme.md", "x")

	_, err := r.RecognizePath(context.Background(), empty)
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "no supported file found") {
		t.Fatalf("expected no supported file error, got %v", err)
	}
	_, err = r.RecognizePath(context.Background(), filepath.Join(empty, "nope"))
	if !errors.Is(err, services.ErrNotFound) || !strings.Contains(err.Error(), "not a file or directory") {
		t.Fatalf("expected not a file or directory, got %v", err)
	}
	_, err = r.RecognizePath(context.Background(), filepath.Join(empty, "readme.md"))
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "do not support .md type") {
		t.Fatalf("expected unsupported suffix, got %v", err)
	}
}

func TestRecognizePathURL(t *testing.T) {
	r, _ := New(&fakeEngine{})
	results, err := r.RecognizePath(context.Background(), "https://example.com/x.png")
	if err != nil {
		t.Fatalf("RecognizePath failed: %v", err)
	}
	if got := results["https://example.com/x.png"].Value.Text; got != "url:https://example.com/x.png" {
		t.Fatalf("unexpected url result %q", got)
	}
}

type keyObserver struct {
	mu   sync.Mutex
	keys []string
}

func (o *keyObserver) WindowStarted(context.Context, string, int, int) {}
func (o *keyObserver) WindowFinished(context.Context, string, int)     {}

func (o *keyObserver) ItemFinished(_ context.Context, _, key string, _ error, _ time.Duration) {
	o.mu.Lock()
	o.keys = append(o.keys, key)
	o.mu.Unlock()
}

func TestRecognizePathSingleFileNotifiesObserver(t *testing.T) {
	obs := &keyObserver{}
	r, _ := New(&fakeEngine{}, WithBatchObserver(obs))
	path := writeFile(t, t.TempDir(), "scan.png", "px")

	results, err := r.RecognizePath(context.Background(), path)
	if err != nil {
		t.Fatalf("RecognizePath failed: %v", err)
	}
	if got := results[path].Value.Text; got != "image:px" {
		t.Fatalf("unexpected result %q", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.keys) != 1 || obs.keys[0] != path {
		t.Fatalf("expected one observed item %q, got %v", path, obs.keys)
	}
}

func TestRecognizeBytes(t *testing.T) {
	r, _ := New(&fakeEngine{})
	res, err := r.RecognizeBytes(context.Background(), []byte("clip"), "")
	if err != nil || res.Text != "image:clip" {
		t.Fatalf("RecognizeBytes failed: %q %v", res.Text, err)
	}
	if _, err := r.RecognizeBytes(context.Background(), nil, KindImage); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty payload, got %v", err)
	}
}

func TestRecognizeUsesCache(t *testing.T) {
	engine := &fakeEngine{}
	r, _ := New(engine, WithCache(&memoryCache{}))
	for i := 0; i < 3; i++ {
		res, err := r.RecognizeBytes(context.Background(), []byte("same"), KindImage)
		if err != nil || res.Text != "image:same" {
			t.Fatalf("RecognizeBytes failed: %q %v", res.Text, err)
		}
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("expected cached results after the first call, engine saw %d", engine.calls.Load())
	}
}

func TestRecognizeTimeout(t *testing.T) {
	r, _ := New(&fakeEngine{delay: time.Second}, WithRequestTimeout(10*time.Millisecond))
	_, err := r.RecognizeBytes(context.Background(), []byte("slow"), KindImage)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRecognizeNormalizesText(t *testing.T) {
	decomposed := "e\u0301"
	r, _ := New(engineFunc(func(ctx context.Context, in Input) (Result, error) {
		return Result{Text: decomposed, Lines: []string{decomposed}}, nil
	}))
	res, err := r.RecognizeBytes(context.Background(), []byte("x"), KindImage)
	if err != nil {
		t.Fatalf("RecognizeBytes failed: %v", err)
	}
	if res.Text != "\u00e9" || res.Lines[0] != "\u00e9" {
		t.Fatalf("expected NFC text, got %q", res.Text)
	}
}

type engineFunc func(ctx context.Context, in Input) (Result, error)

func (f engineFunc) Name() string { return "func" }
func (f engineFunc) Recognize(ctx context.Context, in Input) (Result, error) {
	return f(ctx, in)
}

func TestRecognizeReadsThroughLoop(t *testing.T) {
	l := loop.New()
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })
	path := writeFile(t, t.TempDir(), "a.bmp", "BM")
	r, _ := New(&fakeEngine{}, WithLoop(l))
	res, err := r.RecognizeFile(context.Background(), path)
	if err != nil || res.Text != "image:BM" {
		t.Fatalf("RecognizeFile failed: %q %v", res.Text, err)
	}
}

func TestSetConcurrency(t *testing.T) {
	r, _ := New(&fakeEngine{})
	if r.Concurrency() != config.RecommendedOCRConcurrency {
		t.Fatalf("unexpected default concurrency %d", r.Concurrency())
	}
	if err := r.SetConcurrency(0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := r.SetConcurrency(5); err != nil || r.Concurrency() != 5 {
		t.Fatalf("SetConcurrency failed: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, _ := New(&fakeEngine{})
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestCacheKeyDependsOnContent(t *testing.T) {
	a := CacheKey("baidu", Input{Kind: KindImage, Data: []byte("a")})
	b := CacheKey("baidu", Input{Kind: KindImage, Data: []byte("b")})
	pdf := CacheKey("baidu", Input{Kind: KindPDF, Data: []byte("a")})
	other := CacheKey("tesseract", Input{Kind: KindImage, Data: []byte("a")})
	if a == b || a == pdf || a == other {
		t.Fatalf("expected distinct keys, got %s %s %s %s", a, b, pdf, other)
	}
	if !strings.HasPrefix(a, "doctools:ocr:baidu:") {
		t.Fatalf("unexpected key prefix %s", a)
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "config.json", `{"API_KEY": "k", "SECRET_KEY": "s"}`)

	creds, err := LoadCredentials(config.OCR{CredentialsFile: file})
	if err != nil || creds.APIKey != "k" || creds.SecretKey != "s" {
		t.Fatalf("LoadCredentials failed: %+v %v", creds, err)
	}
	creds, err = LoadCredentials(config.OCR{APIKey: "cfg", SecretKey: "cfgs", CredentialsFile: file})
	if err != nil || creds.APIKey != "cfg" {
		t.Fatalf("expected configured keys to win, got %+v %v", creds, err)
	}

	partial := writeFile(t, dir, "partial.json", `{"API_KEY": "k"}`)
	if _, err := LoadCredentials(config.OCR{CredentialsFile: partial}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := LoadCredentials(config.OCR{CredentialsFile: filepath.Join(dir, "missing.json")}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing file, got %v", err)
	}
}

func TestWriteResults(t *testing.T) {
	out := t.TempDir()
	results := Results{
		"/in/a.png":                 {Value: Result{Text: "alpha"}},
		"/in/b.pdf":                 {Err: errors.New("boom")},
		"https://example.com/c.jpg": {Value: Result{Text: "gamma"}},
	}
	written, err := WriteResults(out, results)
	if err != nil {
		t.Fatalf("WriteResults failed: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 files, got %v", written)
	}
	data, err := os.ReadFile(filepath.Join(out, "a.txt"))
	if err != nil || strings.TrimSpace(string(data)) != "alpha" {
		t.Fatalf("unexpected a.txt: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(out, "c.txt")); err != nil {
		t.Fatalf("expected url result file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected failed item to be skipped, got %v", err)
	}
}
