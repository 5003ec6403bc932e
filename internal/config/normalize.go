package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeOCR(); err != nil {
		return err
	}
	c.normalizeTransform()
	c.normalizeCache()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeOCR() error {
	c.OCR.Engine = strings.ToLower(strings.TrimSpace(c.OCR.Engine))
	if c.OCR.Engine == "" {
		c.OCR.Engine = defaultOCREngine
	}
	c.OCR.APIKey = strings.TrimSpace(c.OCR.APIKey)
	if c.OCR.APIKey == "" {
		c.OCR.APIKey = lookupFirstEnv("DOCTOOLS_OCR_API_KEY", "BAIDU_API_KEY")
	}
	c.OCR.SecretKey = strings.TrimSpace(c.OCR.SecretKey)
	if c.OCR.SecretKey == "" {
		c.OCR.SecretKey = lookupFirstEnv("DOCTOOLS_OCR_SECRET_KEY", "BAIDU_SECRET_KEY")
	}
	var err error
	if c.OCR.CredentialsFile, err = expandPath(strings.TrimSpace(c.OCR.CredentialsFile)); err != nil {
		return fmt.Errorf("ocr.credentials_file: %w", err)
	}
	c.OCR.TokenURL = strings.TrimSpace(c.OCR.TokenURL)
	if c.OCR.TokenURL == "" {
		c.OCR.TokenURL = defaultTokenURL
	}
	c.OCR.Endpoint = strings.TrimSpace(c.OCR.Endpoint)
	if c.OCR.Endpoint == "" {
		c.OCR.Endpoint = defaultOCREndpoint
	}
	langs := c.OCR.Languages[:0]
	for _, lang := range c.OCR.Languages {
		if lang = strings.TrimSpace(lang); lang != "" {
			langs = append(langs, lang)
		}
	}
	c.OCR.Languages = langs
	return nil
}

func (c *Config) normalizeTransform() {
	c.Transform.ImageFormat = strings.ToLower(strings.TrimSpace(c.Transform.ImageFormat))
	if c.Transform.ImageFormat == "" {
		c.Transform.ImageFormat = defaultImageFormat
	}
	c.Transform.PdftoppmBinary = strings.TrimSpace(c.Transform.PdftoppmBinary)
	if c.Transform.PdftoppmBinary == "" {
		c.Transform.PdftoppmBinary = defaultPdftoppmBinary
	}
	c.Transform.SofficeBinary = strings.TrimSpace(c.Transform.SofficeBinary)
	if c.Transform.SofficeBinary == "" {
		c.Transform.SofficeBinary = defaultSofficeBinary
	}
}

func (c *Config) normalizeCache() {
	c.Cache.RedisURL = strings.TrimSpace(c.Cache.RedisURL)
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = lookupFirstEnv("DOCTOOLS_REDIS_URL")
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func lookupFirstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
