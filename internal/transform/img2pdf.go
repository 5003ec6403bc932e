package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"doctools/internal/logging"
	"doctools/internal/services"
)

const (
	// maxPageSide is the largest page dimension PDF viewers accept, in points.
	maxPageSide = 14400
	jpegQuality = 90
)

// imagesToPDF writes every source image as one page of <dest>/output.pdf.
type imagesToPDF struct {
	logger *slog.Logger
}

func (c *imagesToPDF) Kind() Kind { return IMG2PDF }

func (c *imagesToPDF) Convert(ctx context.Context, sources []string, dest string) (Output, error) {
	if len(sources) == 0 {
		return Output{}, services.Wrap(services.ErrValidation, "transform", "img2pdf", "no images given", nil)
	}
	if err := ensureDir(dest); err != nil {
		return Output{}, err
	}
	logger := logging.WithContext(ctx, c.logger)

	pages := make([]pdfImage, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		page, err := loadPage(src)
		if err != nil {
			return Output{}, err
		}
		pages = append(pages, page)
		logger.Debug("image loaded", logging.String(logging.FieldItem, src))
	}

	var buf bytes.Buffer
	if err := writeImagePDF(&buf, pages); err != nil {
		return Output{}, services.Wrap(services.ErrExternalTool, "transform", "img2pdf", "encode pdf", err)
	}
	target := filepath.Join(dest, "output.pdf")
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return Output{}, services.Wrap(services.ErrExternalTool, "transform", "img2pdf", fmt.Sprintf("write %s", target), err)
	}
	logger.Info("img2pdf done", logging.String("dest", target), logging.Int("pages", len(pages)))
	return Output{Kind: IMG2PDF, Sources: append([]string(nil), sources...), Files: []string{target}}, nil
}

// loadPage decodes src, flattens any transparency onto white, and encodes
// the result as a baseline JPEG page.
func loadPage(src string) (pdfImage, error) {
	f, err := os.Open(src)
	if err != nil {
		return pdfImage{}, services.Wrap(services.ErrNotFound, "transform", "img2pdf", src, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return pdfImage{}, services.Wrap(services.ErrValidation, "transform", "img2pdf", fmt.Sprintf("decode %s", src), err)
	}

	flat := flatten(img)
	b := flat.Bounds()
	if b.Dx() > maxPageSide || b.Dy() > maxPageSide {
		flat = imaging.Fit(flat, maxPageSide, maxPageSide, imaging.Lanczos)
		b = flat.Bounds()
	}

	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, flat, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return pdfImage{}, services.Wrap(services.ErrExternalTool, "transform", "img2pdf", fmt.Sprintf("encode %s", src), err)
	}
	return pdfImage{Width: b.Dx(), Height: b.Dy(), JPEG: encoded.Bytes()}, nil
}

func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
