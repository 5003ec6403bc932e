package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// OCR contains configuration for text recognition.
type OCR struct {
	Engine                string   `toml:"engine"`
	APIKey                string   `toml:"api_key"`
	SecretKey             string   `toml:"secret_key"`
	CredentialsFile       string   `toml:"credentials_file"`
	TokenURL              string   `toml:"token_url"`
	Endpoint              string   `toml:"endpoint"`
	Concurrency           int      `toml:"concurrency"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
	RequestsPerSecond     float64  `toml:"requests_per_second"`
	Languages             []string `toml:"languages"`
}

// Transform contains configuration for document conversion.
type Transform struct {
	QueueCapacity  int    `toml:"queue_capacity"`
	DPI            int    `toml:"dpi"`
	ImageFormat    string `toml:"image_format"`
	PdftoppmBinary string `toml:"pdftoppm_binary"`
	SofficeBinary  string `toml:"soffice_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cache contains configuration for the optional OCR result cache.
type Cache struct {
	Enabled  bool   `toml:"enabled"`
	RedisURL string `toml:"redis_url"`
	TTLHours int    `toml:"ttl_hours"`
}

// History contains configuration for the persisted job history.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Loop contains configuration for the background worker loop.
type Loop struct {
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
	ExecutorWorkers        int `toml:"executor_workers"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for doctools.
//
// Configuration sections by subsystem:
//   - Paths: output, state, and log directories
//   - OCR: recognition engine, credentials, and request pacing
//   - Transform: conversion queue capacity, rendering, and external binaries
//   - Cache: optional redis cache for recognition results
//   - History: sqlite job history
//   - Loop: background worker shutdown and executor sizing
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	OCR       OCR       `toml:"ocr"`
	Transform Transform `toml:"transform"`
	Cache     Cache     `toml:"cache"`
	History   History   `toml:"history"`
	Loop      Loop      `toml:"loop"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("doctools.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories. OutputDir is
// created lazily by the converters since each job may pick its own destination.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the sqlite job history location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// SettingsPath returns the persisted settings file location.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Paths.StateDir, "settings.json")
}

// RequestTimeout returns the per-request OCR timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.OCR.RequestTimeoutSeconds) * time.Second
}

// TransformTimeout returns the per-conversion timeout. Zero disables it.
func (c *Config) TransformTimeout() time.Duration {
	return time.Duration(c.Transform.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds how long the worker loop may take to wind down.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Loop.ShutdownTimeoutSeconds) * time.Second
}

// CacheTTL returns the lifetime of cached recognition results.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
