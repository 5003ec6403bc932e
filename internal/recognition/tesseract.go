//go:build tesseract

package recognition

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"doctools/internal/services"
)

// TesseractEngine recognises images locally through libtesseract.
type TesseractEngine struct {
	languages []string
	newClient func() *gosseract.Client
}

// NewTesseractEngine constructs a local engine using the given trained data
// languages.
func NewTesseractEngine(languages []string) (Engine, error) {
	return &TesseractEngine{languages: languages, newClient: gosseract.NewClient}, nil
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize runs a fresh client per input; gosseract clients are not safe for
// concurrent use.
func (e *TesseractEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	if in.Kind != KindImage {
		return Result{}, services.Wrap(services.ErrValidation, "recognition", "tesseract",
			"only image inputs are supported by the local engine", nil)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	client := e.newClient()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return Result{}, services.Wrap(services.ErrConfiguration, "recognition", "tesseract", "set languages", err)
		}
	}
	if err := client.SetImageFromBytes(in.Data); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "recognition", "tesseract", "load image", err)
	}
	text, err := client.Text()
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "recognition", "tesseract", "recognize text", err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return Result{ID: in.ID, Text: strings.Join(lines, "\n"), Lines: lines}, nil
}
