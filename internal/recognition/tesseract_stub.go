//go:build !tesseract

package recognition

import "doctools/internal/services"

// NewTesseractEngine reports that this build has no local engine. Build with
// -tags tesseract to enable it.
func NewTesseractEngine([]string) (Engine, error) {
	return nil, services.Wrap(services.ErrConfiguration, "recognition", "tesseract",
		"this build does not include the tesseract engine (rebuild with -tags tesseract)", nil)
}
