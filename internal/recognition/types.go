package recognition

import (
	"context"
	"path/filepath"
	"strings"
)

// Kind identifies how an input payload is sent to an engine.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindURL   Kind = "url"
)

// SupportedSuffixes lists the file extensions accepted for recognition.
var SupportedSuffixes = []string{".jpg", ".jpeg", ".png", ".bmp", ".pdf"}

// Input is one recognition request. Data holds the raw file bytes for image
// and pdf inputs; URL is used for remote inputs.
type Input struct {
	ID   string
	Kind Kind
	Data []byte
	URL  string
}

// Result is the text recognised for one input.
type Result struct {
	ID    string
	Text  string
	Lines []string
}

// Engine performs text recognition.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}

// IsSupported reports whether path carries a supported extension.
func IsSupported(path string) bool {
	_, ok := kindForPath(path)
	return ok
}

func kindForPath(path string) (Kind, bool) {
	suffix := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedSuffixes {
		if s != suffix {
			continue
		}
		if suffix == ".pdf" {
			return KindPDF, true
		}
		return KindImage, true
	}
	return "", false
}

func isURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
