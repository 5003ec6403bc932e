package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"doctools/internal/history"
	"doctools/internal/testsupport"
)

func TestInsertAndTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute)
	if err := store.Insert(ctx, history.Entry{ID: "job-1", Kind: "pdf2img", Source: "/in/a.pdf", Destination: "/out", CreatedAt: created}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.MarkRunning(ctx, "job-1", time.Now()); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := store.MarkFinished(ctx, "job-1", history.StatusFailed, "external_tool", "pdftoppm exited 1", time.Now()); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}

	entry, err := store.Get(ctx, "job-1")
	if err != nil || entry == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Status != history.StatusFailed || entry.ErrorKind != "external_tool" || entry.Source != "/in/a.pdf" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry.StartedAt.IsZero() || entry.FinishedAt.IsZero() || !entry.CreatedAt.Equal(created.UTC()) {
		t.Fatalf("expected timestamps to round-trip, got %#v", entry)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	_ = store.Insert(ctx, history.Entry{ID: "dup", Kind: "ocr", Source: "a", Status: history.StatusRunning})
	if err := store.Insert(ctx, history.Entry{ID: "dup", Kind: "ocr", Source: "b"}); err != nil {
		t.Fatalf("second Insert failed: %v", err)
	}
	entry, _ := store.Get(ctx, "dup")
	if entry.Source != "a" || entry.Status != history.StatusRunning {
		t.Fatalf("expected first insert to win, got %#v", entry)
	}
}

func TestMarkUnknownEntry(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	err := store.MarkRunning(context.Background(), "missing", time.Now())
	if !errors.Is(err, history.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := store.MarkFinished(context.Background(), "missing", history.StatusRunning, "", "", time.Now()); err == nil {
		t.Fatal("expected non-terminal status to be rejected")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	statuses := []history.Status{history.StatusCompleted, history.StatusFailed, history.StatusCompleted, history.StatusPending}
	for i, status := range statuses {
		e := history.Entry{ID: string(rune('a' + i)), Kind: "ocr", Source: "s", Status: status, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	all, err := store.List(ctx, 0)
	if err != nil || len(all) != 4 {
		t.Fatalf("List failed: %d %v", len(all), err)
	}
	if all[0].ID != "d" || all[3].ID != "a" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[3].ID)
	}
	limited, _ := store.List(ctx, 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
	completed, _ := store.List(ctx, 0, history.StatusCompleted)
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed, got %d", len(completed))
	}

	counts, err := store.Counts(ctx)
	if err != nil || counts[history.StatusCompleted] != 2 || counts[history.StatusFailed] != 1 {
		t.Fatalf("unexpected counts %v %v", counts, err)
	}

	cancelled, err := store.CancelUnfinished(ctx)
	if err != nil || cancelled != 1 {
		t.Fatalf("CancelUnfinished failed: %d %v", cancelled, err)
	}
	removed, err := store.Clear(ctx)
	if err != nil || removed != 4 {
		t.Fatalf("Clear failed: %d %v", removed, err)
	}
	if rest, _ := store.List(ctx, 0); len(rest) != 0 {
		t.Fatalf("expected empty history, got %d", len(rest))
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = store.Insert(context.Background(), history.Entry{ID: "keep", Kind: "img2pdf", Source: "x"})
	_ = store.Close()

	reopened := testsupport.MustOpenHistory(t, cfg)
	if entry, err := reopened.Get(context.Background(), "keep"); err != nil || entry == nil {
		t.Fatalf("expected entry after reopen, got %v %v", entry, err)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := history.ParseStatus(" Failed "); err != nil || s != history.StatusFailed {
		t.Fatalf("ParseStatus failed: %v %v", s, err)
	}
	if _, err := history.ParseStatus("exploded"); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version failed: %v", err)
	}
	_ = db.Close()

	if _, err := history.OpenPath(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
