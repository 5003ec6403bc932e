package recognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"doctools/internal/config"
	"doctools/internal/services"
)

// Credentials are the key pair exchanged for an access token.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Valid reports whether both keys are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

type credentialsFile struct {
	APIKey    string `json:"API_KEY"`
	SecretKey string `json:"SECRET_KEY"`
}

// LoadCredentials returns the keys configured in cfg, falling back to the
// legacy JSON credentials file ({"API_KEY": ..., "SECRET_KEY": ...}).
func LoadCredentials(cfg config.OCR) (Credentials, error) {
	creds := Credentials{APIKey: strings.TrimSpace(cfg.APIKey), SecretKey: strings.TrimSpace(cfg.SecretKey)}
	if creds.Valid() {
		return creds, nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		return Credentials{}, services.Wrap(services.ErrConfiguration, "recognition", "load credentials",
			"api_key and secret_key are not configured", nil)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, services.Wrap(services.ErrConfiguration, "recognition", "load credentials",
			fmt.Sprintf("no credentials configured and no credentials file at %s", path), nil)
	}
	if err != nil {
		return Credentials{}, services.Wrap(services.ErrConfiguration, "recognition", "load credentials", "read credentials file", err)
	}
	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Credentials{}, services.Wrap(services.ErrConfiguration, "recognition", "load credentials",
			fmt.Sprintf("parse %s", path), err)
	}
	if creds.APIKey == "" {
		creds.APIKey = strings.TrimSpace(file.APIKey)
	}
	if creds.SecretKey == "" {
		creds.SecretKey = strings.TrimSpace(file.SecretKey)
	}
	if !creds.Valid() {
		return Credentials{}, services.Wrap(services.ErrConfiguration, "recognition", "load credentials",
			fmt.Sprintf("%s must contain both API_KEY and SECRET_KEY", path), nil)
	}
	return creds, nil
}
