package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := store.Current(); got.LastDir != "" || got.OCRConcurrency != 0 || got.Extra != nil {
		t.Fatalf("expected empty settings, got %#v", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.Update(func(s *Settings) {
		s.LastDir = "/scans"
		s.OCRConcurrency = 4
		s.TransformKind = "img2pdf"
	})
	if err := store.Save(context.Background()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got := reopened.Current()
	if got.LastDir != "/scans" || got.OCRConcurrency != 4 || got.TransformKind != "img2pdf" {
		t.Fatalf("unexpected settings %#v", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone, got %v", err)
	}
}

func TestSavePreservesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark","last_dir":"/old"}`), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// Another writer adds a key after we loaded.
	if err := os.WriteFile(path, []byte(`{"theme":"dark","window":{"w":800},"last_dir":"/old"}`), 0o644); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	store.Update(func(s *Settings) { s.LastDir = "/new" })
	if err := store.Save(context.Background()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(raw["last_dir"]) != `"/new"` || string(raw["theme"]) != `"dark"` {
		t.Fatalf("unexpected file %s", data)
	}
	if !strings.Contains(string(raw["window"]), "800") {
		t.Fatalf("expected concurrent key to survive, got %s", data)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSaveHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	other, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := other.lock.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer func() { _ = other.lock.Unlock() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx); err == nil {
		t.Fatal("expected Save to fail while another writer holds the lock")
	}
}
