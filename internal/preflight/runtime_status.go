package preflight

import (
	"context"
	"strings"
	"time"

	"doctools/internal/config"
	"doctools/internal/recognition"
)

// CheckCacheFromConfig evaluates the recognition cache from config and, when
// enabled, a live ping.
func CheckCacheFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Result cache"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Cache.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.Cache.RedisURL) == "" {
		return Result{Name: name, Detail: "Missing redis URL"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	cache, err := recognition.NewRedisCache(pingCtx, cfg.Cache.RedisURL, cfg.CacheTTL())
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	_ = cache.Close()
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckEngineFromConfig evaluates the configured recognition engine.
func CheckEngineFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "OCR engine", Detail: "Unknown"}
	}
	switch cfg.OCR.Engine {
	case "tesseract":
		if _, err := recognition.NewTesseractEngine(cfg.OCR.Languages); err != nil {
			return Result{Name: "OCR engine", Detail: err.Error()}
		}
		return Result{Name: "OCR engine", Passed: true, Detail: "tesseract"}
	default:
		creds := CheckCredentials(cfg.OCR)
		if !creds.Passed {
			return creds
		}
		return CheckEndpoint(ctx, "OCR endpoint", cfg.OCR.TokenURL)
	}
}
