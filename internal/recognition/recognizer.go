package recognition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"doctools/internal/batch"
	"doctools/internal/config"
	"doctools/internal/logging"
	"doctools/internal/loop"
	"doctools/internal/services"
)

// Results maps each input (file path or URL) to its outcome.
type Results = batch.ResultMap[string, Result]

// Option customises a Recognizer.
type Option func(*Recognizer)

// WithCache stores results in cache and serves repeat inputs from it.
func WithCache(cache ResultCache) Option {
	return func(r *Recognizer) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithLogger sets the recognizer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recognizer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConcurrency sets the batch window size.
func WithConcurrency(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRequestTimeout bounds each recognition request.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.timeout = d }
}

// WithBatchObserver reports batch progress to o.
func WithBatchObserver(o batch.Observer) Option {
	return func(r *Recognizer) { r.observer = o }
}

// WithLoop reads input files on the loop's blocking executor.
func WithLoop(l *loop.Loop) Option {
	return func(r *Recognizer) { r.loop = l }
}

// Recognizer turns files, directories, URLs and raw bytes into text.
type Recognizer struct {
	engine   Engine
	cache    ResultCache
	logger   *slog.Logger
	timeout  time.Duration
	observer batch.Observer
	loop     *loop.Loop

	mu          sync.RWMutex
	concurrency int

	closeOnce sync.Once
	closeErr  error
}

// New constructs a recognizer around engine.
func New(engine Engine, opts ...Option) (*Recognizer, error) {
	if engine == nil {
		return nil, services.Wrap(services.ErrConfiguration, "recognition", "new", "engine is required", nil)
	}
	r := &Recognizer{
		engine:      engine,
		cache:       NopCache(),
		logger:      logging.NewNop(),
		concurrency: config.RecommendedOCRConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "recognition")
	return r, nil
}

// NewFromConfig builds the configured engine and cache.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Recognizer, error) {
	if cfg == nil {
		return nil, errors.New("recognition: config is nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	engine, err := newEngine(cfg.OCR, logger)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithConcurrency(cfg.OCR.Concurrency),
		WithRequestTimeout(cfg.RequestTimeout()),
	}
	if cfg.Cache.Enabled {
		cache, err := NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.CacheTTL())
		if err != nil {
			logging.WarnWithContext(logger, "recognition cache unavailable", "cache_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "every input is sent to the engine"),
				logging.String(logging.FieldErrorHint, "check cache.redis_url or disable the cache"),
			)
		} else {
			base = append(base, WithCache(cache))
		}
	}
	return New(engine, append(base, opts...)...)
}

func newEngine(cfg config.OCR, logger *slog.Logger) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", "baidu":
		creds, err := LoadCredentials(cfg)
		if err != nil {
			return nil, err
		}
		return NewBaiduEngine(creds,
			WithEndpoints(cfg.TokenURL, cfg.Endpoint),
			WithRateLimit(cfg.RequestsPerSecond),
			WithBaiduLogger(logger),
		)
	case "tesseract":
		return NewTesseractEngine(cfg.Languages)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "recognition", "engine",
			fmt.Sprintf("unknown engine %q", cfg.Engine), nil)
	}
}

// Engine returns the underlying engine.
func (r *Recognizer) Engine() Engine { return r.engine }

// Concurrency returns the batch window size.
func (r *Recognizer) Concurrency() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.concurrency
}

// SetConcurrency changes the batch window size for subsequent batches.
func (r *Recognizer) SetConcurrency(n int) error {
	if n < 1 {
		return services.Wrap(services.ErrValidation, "recognition", "set concurrency",
			fmt.Sprintf("concurrency must be at least 1, got %d", n), nil)
	}
	r.mu.Lock()
	r.concurrency = n
	r.mu.Unlock()
	if n > config.RecommendedOCRConcurrency {
		logging.WarnWithContext(r.logger, "recognition concurrency raised", "concurrency_raised",
			logging.Int("concurrency", n),
			logging.String(logging.FieldErrorHint, "make sure the account quota allows this many parallel requests"),
		)
	}
	return nil
}

// RecognizePath recognises a file, a URL, or every supported file directly
// inside a directory. For a single file or URL the item error is also
// returned as the call error.
func (r *Recognizer) RecognizePath(ctx context.Context, path string) (Results, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrValidation, "recognition", "recognize", "no input given", nil)
	}
	if isURL(path) {
		return r.recognizeOne(ctx, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "recognition", "recognize",
			fmt.Sprintf("%q not a file or directory", path), nil)
	}
	if info.IsDir() {
		return r.RecognizeDir(ctx, path)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrValidation, "recognition", "recognize",
			fmt.Sprintf("%q not a file or directory", path), nil)
	}
	return r.recognizeOne(ctx, path)
}

// recognizeOne runs a single input as a one-item batch so observers see it,
// and returns the item's error as the call error.
func (r *Recognizer) recognizeOne(ctx context.Context, path string) (Results, error) {
	results, err := r.RecognizeFiles(ctx, []string{path})
	if err != nil {
		return results, err
	}
	return results, results[path].Err
}

// RecognizeDir recognises the supported files directly inside dir.
func (r *Recognizer) RecognizeDir(ctx context.Context, dir string) (Results, error) {
	files, err := SupportedFiles(dir)
	if err != nil {
		return nil, err
	}
	return r.RecognizeFiles(ctx, files)
}

// SupportedFiles lists the supported files directly inside dir, sorted by
// name.
func SupportedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "recognition", "list", fmt.Sprintf("read %s", dir), err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsSupported(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrValidation, "recognition", "list",
			fmt.Sprintf("no supported file found in %s; %s are supported", dir, strings.Join(SupportedSuffixes, ", ")), nil)
	}
	sort.Strings(files)
	return files, nil
}

// RecognizeFiles recognises paths in windows of Concurrency items. A failing
// item keeps its error in its own slot.
func (r *Recognizer) RecognizeFiles(ctx context.Context, paths []string) (Results, error) {
	items := make([]batch.Item[string, Result], 0, len(paths))
	for _, path := range paths {
		items = append(items, batch.Item[string, Result]{
			Key: path,
			Run: func(ctx context.Context) (Result, error) {
				if isURL(path) {
					return r.RecognizeURL(ctx, path)
				}
				return r.RecognizeFile(ctx, path)
			},
		})
	}
	opts := []batch.Option{batch.WithLogger(r.logger)}
	if r.observer != nil {
		opts = append(opts, batch.WithObserver(r.observer))
	}
	results, err := batch.Run(ctx, items, r.Concurrency(), opts...)
	if err == nil && results.Failed() < len(results) {
		r.logger.Info("successfully recognized",
			logging.Int("total", len(results)),
			logging.Int("failed", results.Failed()),
		)
	}
	return results, err
}

// RecognizeFile reads and recognises a single file.
func (r *Recognizer) RecognizeFile(ctx context.Context, path string) (Result, error) {
	kind, ok := kindForPath(path)
	if !ok {
		return Result{}, services.Wrap(services.ErrValidation, "recognition", "recognize",
			fmt.Sprintf("do not support %s type", filepath.Ext(path)), nil)
	}
	data, err := r.readFile(ctx, path)
	if err != nil {
		return Result{}, err
	}
	return r.recognize(ctx, Input{ID: path, Kind: kind, Data: data})
}

// RecognizeURL recognises a remote image.
func (r *Recognizer) RecognizeURL(ctx context.Context, rawURL string) (Result, error) {
	return r.recognize(ctx, Input{ID: rawURL, Kind: KindURL, URL: rawURL})
}

// RecognizeBytes recognises an in-memory payload such as a clipboard image.
func (r *Recognizer) RecognizeBytes(ctx context.Context, data []byte, kind Kind) (Result, error) {
	if kind == "" {
		kind = KindImage
	}
	if kind == KindURL {
		return Result{}, services.Wrap(services.ErrValidation, "recognition", "recognize bytes", "use RecognizeURL for urls", nil)
	}
	if len(data) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "recognition", "recognize bytes",
			`not enough parameters, "image" or "pdf_file" is needed`, nil)
	}
	return r.recognize(ctx, Input{ID: "bytes", Kind: kind, Data: data})
}

func (r *Recognizer) readFile(ctx context.Context, path string) ([]byte, error) {
	read := func() ([]byte, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "recognition", "read", path, err)
		}
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "recognition", "read", path, err)
		}
		return data, nil
	}
	if r.loop == nil {
		return read()
	}
	return loop.RunBlocking(ctx, r.loop, read)
}

func (r *Recognizer) recognize(ctx context.Context, in Input) (Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	key := CacheKey(r.engine.Name(), in)
	if cached, ok, err := r.cache.Get(ctx, key); err != nil {
		logger.Warn("recognition cache read failed", logging.Error(err))
	} else if ok {
		cached.ID = in.ID
		logger.Debug("recognition served from cache", logging.String(logging.FieldItem, in.ID))
		return cached, nil
	}

	reqCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	result, err := r.engine.Recognize(reqCtx, in)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = services.Wrap(services.ErrTimeout, "recognition", r.engine.Name(),
				fmt.Sprintf("request exceeded %s", r.timeout), err)
		}
		return Result{}, err
	}
	result = normalizeResult(result)
	result.ID = in.ID
	logger.Debug("input recognized",
		logging.String(logging.FieldItem, in.ID),
		logging.Int("lines", len(result.Lines)),
		logging.Duration("elapsed", time.Since(start)),
	)

	if err := r.cache.Put(ctx, key, result); err != nil {
		logger.Warn("recognition cache write failed", logging.Error(err))
	}
	return result, nil
}

func normalizeResult(result Result) Result {
	lines := make([]string, len(result.Lines))
	for i, line := range result.Lines {
		lines[i] = norm.NFC.String(line)
	}
	result.Lines = lines
	result.Text = norm.NFC.String(result.Text)
	return result
}

// Close releases the engine connections and the cache. It has the shape of an
// exit hook and is safe to call more than once.
func (r *Recognizer) Close(context.Context) error {
	r.closeOnce.Do(func() {
		if c, ok := r.engine.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
		r.closeErr = r.cache.Close()
		r.logger.Debug("recognizer closed")
	})
	return r.closeErr
}
