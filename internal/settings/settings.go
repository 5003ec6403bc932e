// Package settings persists small user preferences between runs: the last
// directory used, the preferred OCR window and the last conversion kind.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Settings is the persisted preference set. Keys written by other tools are
// kept in Extra and written back untouched.
type Settings struct {
	LastDir        string
	OCRConcurrency int
	TransformKind  string
	Extra          map[string]json.RawMessage
}

const (
	keyLastDir        = "last_dir"
	keyOCRConcurrency = "ocr_concurrency"
	keyTransformKind  = "transform_kind"
)

// MarshalJSON flattens Extra alongside the known keys.
func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.LastDir != "" {
		out[keyLastDir] = s.LastDir
	}
	if s.OCRConcurrency > 0 {
		out[keyOCRConcurrency] = s.OCRConcurrency
	}
	if s.TransformKind != "" {
		out[keyTransformKind] = s.TransformKind
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys from the rest.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var decoded Settings
	if v, ok := raw[keyLastDir]; ok {
		if err := json.Unmarshal(v, &decoded.LastDir); err != nil {
			return fmt.Errorf("%s: %w", keyLastDir, err)
		}
		delete(raw, keyLastDir)
	}
	if v, ok := raw[keyOCRConcurrency]; ok {
		if err := json.Unmarshal(v, &decoded.OCRConcurrency); err != nil {
			return fmt.Errorf("%s: %w", keyOCRConcurrency, err)
		}
		delete(raw, keyOCRConcurrency)
	}
	if v, ok := raw[keyTransformKind]; ok {
		if err := json.Unmarshal(v, &decoded.TransformKind); err != nil {
			return fmt.Errorf("%s: %w", keyTransformKind, err)
		}
		delete(raw, keyTransformKind)
	}
	if len(raw) > 0 {
		decoded.Extra = raw
	}
	*s = decoded
	return nil
}

// merge overlays the set fields of s onto base.
func (s Settings) merge(base Settings) Settings {
	out := base
	out.Extra = maps.Clone(base.Extra)
	if s.LastDir != "" {
		out.LastDir = s.LastDir
	}
	if s.OCRConcurrency > 0 {
		out.OCRConcurrency = s.OCRConcurrency
	}
	if s.TransformKind != "" {
		out.TransformKind = s.TransformKind
	}
	if len(s.Extra) > 0 && out.Extra == nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
	}
	maps.Copy(out.Extra, s.Extra)
	return out
}

// lockRetry is how often Save polls for the file lock.
const lockRetry = 50 * time.Millisecond

// Store reads and writes one settings file. The in-memory copy is safe for
// concurrent use; writers in other processes are serialised by a lock file
// next to the settings file.
type Store struct {
	path string
	lock *flock.Flock

	mu      sync.Mutex
	current Settings
}

// Open loads the settings at path. A missing file yields empty settings.
func Open(path string) (*Store, error) {
	s := &Store{path: path, lock: flock.New(path + ".lock")}
	loaded, err := s.read()
	if err != nil {
		return nil, err
	}
	s.current = loaded
	return s, nil
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Current returns a copy of the in-memory settings.
func (s *Store) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.current
	out.Extra = maps.Clone(s.current.Extra)
	return out
}

// Update applies fn to the in-memory settings. Nothing is written until Save.
func (s *Store) Update(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.current)
}

// Save merges the in-memory settings onto the on-disk copy and writes the
// result atomically while holding the file lock.
func (s *Store) Save(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure settings directory: %w", err)
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	if !locked {
		return errors.New("lock settings: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()

	onDisk, err := s.read()
	if err != nil {
		return err
	}
	merged := s.Current().merge(onDisk)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace settings: %w", err)
	}

	s.mu.Lock()
	s.current = merged
	s.mu.Unlock()
	return nil
}

func (s *Store) read() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Settings{}, nil
	}
	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return Settings{}, fmt.Errorf("decode settings %s: %w", s.path, err)
	}
	return loaded, nil
}
