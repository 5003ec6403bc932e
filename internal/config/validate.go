package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Missing OCR credentials are
// not reported here; conversion commands run without them and the recognizer
// rejects them when it is constructed.
func (c *Config) Validate() error {
	if err := c.validateOCR(); err != nil {
		return err
	}
	if err := c.validateTransform(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateLoop(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateOCR() error {
	switch c.OCR.Engine {
	case "baidu", "tesseract":
	default:
		return fmt.Errorf("ocr.engine: unsupported value %q (use baidu or tesseract)", c.OCR.Engine)
	}
	if c.OCR.Concurrency < 1 {
		return errors.New("ocr.concurrency must be at least 1")
	}
	if c.OCR.RequestTimeoutSeconds < 0 {
		return errors.New("ocr.request_timeout_seconds must be non-negative")
	}
	if c.OCR.RequestsPerSecond < 0 {
		return errors.New("ocr.requests_per_second must be non-negative")
	}
	return nil
}

func (c *Config) validateTransform() error {
	if c.Transform.QueueCapacity < 1 {
		return errors.New("transform.queue_capacity must be at least 1")
	}
	if c.Transform.DPI < 36 || c.Transform.DPI > 1200 {
		return errors.New("transform.dpi must be between 36 and 1200")
	}
	switch c.Transform.ImageFormat {
	case "png", "jpeg":
	default:
		return fmt.Errorf("transform.image_format: unsupported value %q (use png or jpeg)", c.Transform.ImageFormat)
	}
	if c.Transform.TimeoutSeconds < 0 {
		return errors.New("transform.timeout_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Cache.RedisURL) == "" {
		return errors.New("cache.redis_url must be set when cache.enabled is true (or set DOCTOOLS_REDIS_URL)")
	}
	if c.Cache.TTLHours < 0 {
		return errors.New("cache.ttl_hours must be non-negative")
	}
	return nil
}

func (c *Config) validateLoop() error {
	if c.Loop.ShutdownTimeoutSeconds <= 0 {
		return errors.New("loop.shutdown_timeout_seconds must be positive")
	}
	if c.Loop.ExecutorWorkers < 1 {
		return errors.New("loop.executor_workers must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
