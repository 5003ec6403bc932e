package transform

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"doctools/internal/services"
)

// Kind is a supported conversion.
type Kind int

const (
	PDF2IMG Kind = iota
	PDF2DOCX
	IMG2PDF
	DOCX2PDF
)

var kindNames = map[Kind]string{
	PDF2IMG:  "pdf2img",
	PDF2DOCX: "pdf2docx",
	IMG2PDF:  "img2pdf",
	DOCX2PDF: "docx2pdf",
}

// Kinds lists every conversion in declaration order.
func Kinds() []Kind {
	return []Kind{PDF2IMG, PDF2DOCX, IMG2PDF, DOCX2PDF}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts a conversion name ("pdf2img", "docx2pdf"...) or its
// legacy aliases ("pdf2word", "word2pdf").
func ParseKind(value string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "pdf2word":
		return PDF2DOCX, nil
	case "word2pdf", "doc2pdf":
		return DOCX2PDF, nil
	}
	for kind, name := range kindNames {
		if name == normalized {
			return kind, nil
		}
	}
	names := make([]string, 0, len(kindNames))
	for _, k := range Kinds() {
		names = append(names, k.String())
	}
	return 0, services.Wrap(services.ErrValidation, "transform", "parse kind",
		fmt.Sprintf("unknown conversion %q (want one of %s)", value, strings.Join(names, ", ")), nil)
}

// Suffixes returns the source extensions the conversion accepts.
func (k Kind) Suffixes() []string {
	switch k {
	case PDF2IMG, PDF2DOCX:
		return []string{".pdf"}
	case IMG2PDF:
		return []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}
	case DOCX2PDF:
		return []string{".doc", ".docx"}
	default:
		return nil
	}
}

// Accepts reports whether path has an extension the conversion accepts.
func (k Kind) Accepts(path string) bool {
	return slices.Contains(k.Suffixes(), strings.ToLower(filepath.Ext(path)))
}

// sourceNoun names the source type in user-facing messages.
func (k Kind) sourceNoun() string {
	switch k {
	case IMG2PDF:
		return "image"
	case DOCX2PDF:
		return "word"
	default:
		return "pdf"
	}
}
