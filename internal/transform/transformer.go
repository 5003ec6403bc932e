package transform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"doctools/internal/jobqueue"
	"doctools/internal/logging"
	"doctools/internal/services"
)

// Outcome is the result of one conversion job.
type Outcome struct {
	Job    jobqueue.JobInfo
	Output Output
	Err    error
}

// Transformer schedules conversions on a job queue runner.
type Transformer struct {
	runner     *jobqueue.Runner[Output]
	converters map[Kind]Converter
	timeout    time.Duration
	logger     *slog.Logger
}

// Config configures a Transformer.
type Config struct {
	Options Options
	// Timeout bounds each conversion; zero means no limit.
	Timeout time.Duration
	// Converters overrides the default converter set.
	Converters map[Kind]Converter
	Runner     []jobqueue.RunnerOption
}

// NewTransformer builds a transformer and its runner.
func NewTransformer(cfg Config) (*Transformer, error) {
	converters := cfg.Converters
	if converters == nil {
		converters = NewConverters(cfg.Options)
	}
	logger := cfg.Options.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	runnerOpts := append([]jobqueue.RunnerOption{jobqueue.WithLogger(logger)}, cfg.Runner...)
	runner, err := jobqueue.NewRunner[Output](runnerOpts...)
	if err != nil {
		return nil, err
	}
	return &Transformer{
		runner:     runner,
		converters: converters,
		timeout:    cfg.Timeout,
		logger:     logging.NewComponentLogger(logger, "transform"),
	}, nil
}

// Runner exposes the underlying job runner.
func (t *Transformer) Runner() *jobqueue.Runner[Output] { return t.runner }

// Register validates path and enqueues one job per matching file. A
// directory given for img2pdf becomes a single job holding every image in
// name order. An empty dest means the file's own directory, or the directory
// itself when path is one.
func (t *Transformer) Register(ctx context.Context, kind Kind, path, dest string) ([]*jobqueue.Job[Output], error) {
	conv, ok := t.converters[kind]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "transform", "register",
			fmt.Sprintf("no converter for %s", kind), nil)
	}
	groups, defaultDest, err := expandSources(kind, path)
	if err != nil {
		logging.ErrorWithContext(t.logger, "conversion rejected", "conversion_rejected",
			logging.String("kind", kind.String()),
			logging.String("path", path),
			logging.Error(err),
		)
		return nil, err
	}
	if strings.TrimSpace(dest) == "" {
		dest = defaultDest
	}

	op := t.operation(conv)
	jobs := make([]*jobqueue.Job[Output], 0, len(groups))
	for _, sources := range groups {
		job, err := t.runner.Enqueue(op, sources, dest)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	t.logger.Debug("conversions registered",
		logging.String("kind", kind.String()),
		logging.Int("jobs", len(jobs)),
		logging.String("dest", dest),
	)
	return jobs, nil
}

func (t *Transformer) operation(conv Converter) jobqueue.Operation[Output] {
	return jobqueue.Operation[Output]{
		Name: conv.Kind().String(),
		Run: func(ctx context.Context, args []string, dest string) (Output, error) {
			if t.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t.timeout)
				defer cancel()
			}
			return conv.Convert(ctx, args, dest)
		},
	}
}

// Run starts consuming registered jobs. It returns immediately.
func (t *Transformer) Run(ctx context.Context) error {
	return t.runner.Run(ctx)
}

// Wait blocks until every registered job has finished and returns their
// outcomes in registration order.
func (t *Transformer) Wait(ctx context.Context) ([]Outcome, error) {
	waitErr := t.runner.Wait(ctx)
	jobs := t.runner.Jobs()
	outcomes := make([]Outcome, 0, len(jobs))
	for _, job := range jobs {
		out, err, ok := job.Future().Peek()
		if !ok {
			err = services.Wrap(services.ErrCancelled, "transform", "wait", "job did not finish", nil)
		}
		outcomes = append(outcomes, Outcome{Job: job.Info(), Output: out, Err: err})
	}
	return outcomes, waitErr
}

// expandSources resolves path into job source groups and the default
// destination.
func expandSources(kind Kind, path string) ([][]string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", services.Wrap(services.ErrNotFound, "transform", kind.String(),
			fmt.Sprintf("%q not a file or directory", path), nil)
	}
	if info.Mode().IsRegular() {
		if !kind.Accepts(path) {
			return nil, "", services.Wrap(services.ErrValidation, "transform", kind.String(),
				fmt.Sprintf("%s needs a %s file (%s)", kind, kind.sourceNoun(), strings.Join(kind.Suffixes(), ", ")), nil)
		}
		return [][]string{{path}}, filepath.Dir(path), nil
	}
	if !info.IsDir() {
		return nil, "", services.Wrap(services.ErrValidation, "transform", kind.String(),
			fmt.Sprintf("%q not a file or directory", path), nil)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, "", services.Wrap(services.ErrNotFound, "transform", kind.String(), fmt.Sprintf("read %s", path), err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && kind.Accepts(entry.Name()) {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, "", services.Wrap(services.ErrValidation, "transform", kind.String(),
			fmt.Sprintf("no %s file found in %s", kind.sourceNoun(), path), nil)
	}
	sort.Strings(files)
	if kind == IMG2PDF {
		return [][]string{files}, path, nil
	}
	groups := make([][]string, len(files))
	for i, f := range files {
		groups[i] = []string{f}
	}
	return groups, path, nil
}
