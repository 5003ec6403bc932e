// Package app wires configuration, logging, the worker loop, history and
// settings into the services the CLI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"doctools/internal/config"
	"doctools/internal/deps"
	"doctools/internal/history"
	"doctools/internal/jobqueue"
	"doctools/internal/logging"
	"doctools/internal/loop"
	"doctools/internal/preflight"
	"doctools/internal/recognition"
	"doctools/internal/settings"
	"doctools/internal/transform"
)

// Option customises App construction.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	loop     *loop.Loop
	handlers []slog.Handler
	engine   recognition.Engine
}

// WithLogger uses logger instead of one built from config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLoop uses l instead of the process-wide loop.
func WithLoop(l *loop.Loop) Option {
	return func(o *options) { o.loop = l }
}

// WithLogHandlers tees log records to extra handlers, such as a status line.
func WithLogHandlers(handlers ...slog.Handler) Option {
	return func(o *options) { o.handlers = append(o.handlers, handlers...) }
}

// WithEngine replaces the configured recognition engine.
func WithEngine(engine recognition.Engine) Option {
	return func(o *options) { o.engine = engine }
}

// App owns the long-lived collaborators of one process.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	loop     *loop.Loop
	store    *history.Store
	recorder *history.Recorder
	settings *settings.Store
	engine   recognition.Engine

	mu         sync.Mutex
	recognizer *recognition.Recognizer

	closeOnce sync.Once
	closeErr  error
}

// New builds the app for cfg. Settings are saved by an exit hook when the
// loop shuts down; the history store is closed after the loop has drained.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.NewFromConfig(cfg, o.handlers...)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	} else if len(o.handlers) > 0 {
		logger = logging.TeeLogger(logger, o.handlers...)
	}

	if cfg.Paths.OutputDir != "" {
		if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure output directory: %w", err)
		}
	}

	worker := o.loop
	if worker == nil {
		worker = processLoop(cfg, logger)
	}

	a := &App{cfg: cfg, logger: logger, loop: worker, engine: o.engine}

	var err error
	if a.settings, err = settings.Open(cfg.SettingsPath()); err != nil {
		return nil, err
	}
	if err := worker.AddExitHook("settings", a.settings.Save); err != nil {
		return nil, err
	}

	if cfg.History.Enabled {
		if a.store, err = history.Open(cfg); err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		if n, err := a.store.CancelUnfinished(ctx); err != nil {
			logger.Warn("history cleanup failed", logging.Error(err))
		} else if n > 0 {
			logger.Info("marked interrupted jobs cancelled", logging.Int64("jobs", n))
		}
		a.recorder = history.NewRecorder(a.store, logger)
	}

	for _, failed := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "commands relying on it will fail"),
		)
	}
	logDependencySnapshot(logger, cfg)
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the process logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Loop returns the worker loop every service submits to.
func (a *App) Loop() *loop.Loop { return a.loop }

// History returns the history store, or nil when history is disabled.
func (a *App) History() *history.Store { return a.store }

// Settings returns the persisted settings.
func (a *App) Settings() *settings.Store { return a.settings }

// Recognizer returns the shared recognizer, building it on first use. Its
// Close runs as an exit hook.
func (a *App) Recognizer(ctx context.Context) (*recognition.Recognizer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recognizer != nil {
		return a.recognizer, nil
	}

	opts := []recognition.Option{recognition.WithLoop(a.loop)}
	if a.recorder != nil {
		opts = append(opts, recognition.WithBatchObserver(a.recorder))
	}
	if saved := a.settings.Current().OCRConcurrency; saved > 0 {
		opts = append(opts, recognition.WithConcurrency(saved))
	}

	var (
		r   *recognition.Recognizer
		err error
	)
	if a.engine != nil {
		r, err = recognition.New(a.engine, append([]recognition.Option{
			recognition.WithLogger(a.logger),
			recognition.WithConcurrency(a.cfg.OCR.Concurrency),
			recognition.WithRequestTimeout(a.cfg.RequestTimeout()),
		}, opts...)...)
	} else {
		r, err = recognition.NewFromConfig(ctx, a.cfg, a.logger, opts...)
	}
	if err != nil {
		return nil, err
	}
	if err := a.loop.AddExitHook("recognizer", r.Close); err != nil {
		return nil, err
	}
	a.recognizer = r
	return r, nil
}

// Transformer builds a conversion runner that shares the app loop. Each
// invocation of a convert command gets its own runner.
func (a *App) Transformer(extra ...jobqueue.RunnerOption) (*transform.Transformer, error) {
	opts := transform.OptionsFromConfig(a.cfg.Transform)
	opts.SofficeBinary = deps.ResolveSofficePath(opts.SofficeBinary)
	opts.Logger = a.logger

	runnerOpts := []jobqueue.RunnerOption{
		jobqueue.WithLoop(a.loop),
		jobqueue.WithLogger(a.logger),
		jobqueue.WithCapacity(a.cfg.Transform.QueueCapacity),
	}
	if a.recorder != nil {
		runnerOpts = append(runnerOpts, jobqueue.WithObserver(a.recorder))
	}
	return transform.NewTransformer(transform.Config{
		Options: opts,
		Timeout: a.cfg.TransformTimeout(),
		Runner:  append(runnerOpts, extra...),
	})
}

// Close shuts the loop down, which runs the exit hooks, then closes the
// history store. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.loop.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// processLoop installs a configured loop as the process default. When the
// default was already resolved elsewhere that instance is used.
func processLoop(cfg *config.Config, logger *slog.Logger) *loop.Loop {
	l := loop.New(
		loop.WithLogger(logger),
		loop.WithExecutorWorkers(cfg.Loop.ExecutorWorkers),
		loop.WithExitHooks(loop.ProcessHooks()),
	)
	if err := loop.SetDefault(l); err != nil {
		logger.Debug("using existing default loop", logging.Error(err))
		return loop.Default()
	}
	return l
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	pdftoppm := cfg.Transform.PdftoppmBinary
	soffice := deps.ResolveSofficePath(cfg.Transform.SofficeBinary)
	logger.Debug("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("ocr_engine", cfg.OCR.Engine),
		logging.Bool("ocr_key_present", strings.TrimSpace(cfg.OCR.APIKey) != ""),
		logging.Bool("pdftoppm_available", binaryAvailable(pdftoppm)),
		logging.String("pdftoppm_binary", pdftoppm),
		logging.Bool("soffice_available", binaryAvailable(soffice)),
		logging.String("soffice_binary", soffice),
		logging.Bool("cache_enabled", cfg.Cache.Enabled),
		logging.Bool("history_enabled", cfg.History.Enabled),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
