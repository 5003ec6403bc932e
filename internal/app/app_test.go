package app_test

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"doctools/internal/app"
	"doctools/internal/history"
	"doctools/internal/logging"
	"doctools/internal/loop"
	"doctools/internal/recognition"
	"doctools/internal/settings"
	"doctools/internal/testsupport"
	"doctools/internal/transform"
)

type echoEngine struct{}

func (echoEngine) Name() string { return "echo" }

func (echoEngine) Recognize(_ context.Context, in recognition.Input) (recognition.Result, error) {
	text := strings.TrimSpace(string(in.Data))
	return recognition.Result{ID: in.ID, Text: text, Lines: []string{text}}, nil
}

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	a, err := app.New(context.Background(), cfg,
		app.WithLogger(logging.NewNop()),
		app.WithLoop(loop.New()),
		app.WithEngine(echoEngine{}),
	)
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func TestRecognizerRecordsHistory(t *testing.T) {
	a := newApp(t)
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	r, err := a.Recognizer(context.Background())
	if err != nil {
		t.Fatalf("Recognizer failed: %v", err)
	}
	if again, _ := a.Recognizer(context.Background()); again != r {
		t.Fatal("expected the recognizer to be shared")
	}
	results, err := r.RecognizeDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("RecognizeDir failed: %v", err)
	}
	if len(results) != 2 || results.Failed() != 0 {
		t.Fatalf("unexpected results %#v", results)
	}

	entries, err := a.History().List(context.Background(), 0)
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected 2 history rows, got %d %v", len(entries), err)
	}
	for _, e := range entries {
		if e.Kind != history.KindOCR || e.Status != history.StatusCompleted {
			t.Fatalf("unexpected entry %#v", e)
		}
	}
}

func TestTransformerRecordsHistory(t *testing.T) {
	a := newApp(t)
	dir := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(dir, "1.png"), 4, 3, color.White)
	testsupport.WritePNG(t, filepath.Join(dir, "2.png"), 3, 4, color.Black)

	tr, err := a.Transformer()
	if err != nil {
		t.Fatalf("Transformer failed: %v", err)
	}
	if _, err := tr.Register(context.Background(), transform.IMG2PDF, dir, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcomes, err := tr.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("unexpected outcomes %#v", outcomes)
	}
	if _, err := os.Stat(filepath.Join(dir, "output.pdf")); err != nil {
		t.Fatalf("expected output.pdf: %v", err)
	}

	entry, err := a.History().Get(context.Background(), outcomes[0].Job.ID)
	if err != nil || entry == nil || entry.Status != history.StatusCompleted || entry.Kind != "img2pdf" {
		t.Fatalf("unexpected history entry %#v %v", entry, err)
	}
	if a.Loop().State() != loop.StateRunning {
		t.Fatalf("expected shared loop to keep running, got %s", a.Loop().State())
	}
}

func TestCloseSavesSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	a, err := app.New(context.Background(), cfg,
		app.WithLogger(logging.NewNop()),
		app.WithLoop(loop.New()),
		app.WithEngine(echoEngine{}),
	)
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	a.Settings().Update(func(s *settings.Settings) {
		s.LastDir = "/scans"
		s.OCRConcurrency = 3
	})
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if a.Loop().State() != loop.StateClosed {
		t.Fatalf("expected loop closed, got %s", a.Loop().State())
	}

	saved, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		t.Fatalf("settings.Open failed: %v", err)
	}
	if got := saved.Current(); got.LastDir != "/scans" || got.OCRConcurrency != 3 {
		t.Fatalf("unexpected saved settings %#v", got)
	}
}

func TestSavedConcurrencyApplies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.SettingsPath(), []byte(`{"ocr_concurrency":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), cfg,
		app.WithLogger(logging.NewNop()),
		app.WithLoop(loop.New()),
		app.WithEngine(echoEngine{}),
	)
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	defer a.Close(context.Background())

	r, err := a.Recognizer(context.Background())
	if err != nil {
		t.Fatalf("Recognizer failed: %v", err)
	}
	if r.Concurrency() != 1 {
		t.Fatalf("expected saved concurrency 1, got %d", r.Concurrency())
	}
}

func TestHistoryDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithHistory(false))
	a, err := app.New(context.Background(), cfg, app.WithLogger(logging.NewNop()), app.WithLoop(loop.New()))
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	defer a.Close(context.Background())
	if a.History() != nil {
		t.Fatal("expected no history store")
	}
	if _, err := os.Stat(cfg.HistoryPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no history database, got %v", err)
	}
}
