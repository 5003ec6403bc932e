package transform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"doctools/internal/config"
	"doctools/internal/logging"
	"doctools/internal/services"
)

// Output describes the files a conversion produced.
type Output struct {
	Kind    Kind
	Sources []string
	Files   []string
}

// Converter performs one kind of conversion.
type Converter interface {
	Kind() Kind
	Convert(ctx context.Context, sources []string, dest string) (Output, error)
}

// Options configures the converters.
type Options struct {
	DPI            int
	ImageFormat    string
	PdftoppmBinary string
	SofficeBinary  string
	Executor       Executor
	Logger         *slog.Logger
}

// OptionsFromConfig maps the transform config section onto Options.
func OptionsFromConfig(cfg config.Transform) Options {
	return Options{
		DPI:            cfg.DPI,
		ImageFormat:    cfg.ImageFormat,
		PdftoppmBinary: cfg.PdftoppmBinary,
		SofficeBinary:  cfg.SofficeBinary,
	}
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 100
	}
	if o.ImageFormat == "" {
		o.ImageFormat = "png"
	}
	if o.PdftoppmBinary == "" {
		o.PdftoppmBinary = "pdftoppm"
	}
	if o.SofficeBinary == "" {
		o.SofficeBinary = "soffice"
	}
	if o.Executor == nil {
		o.Executor = commandExecutor{}
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// NewConverters returns one converter per Kind.
func NewConverters(opts Options) map[Kind]Converter {
	opts = opts.withDefaults()
	logger := logging.NewComponentLogger(opts.Logger, "transform")
	return map[Kind]Converter{
		PDF2IMG:  &pdfToImages{opts: opts, logger: logger},
		PDF2DOCX: &officeConverter{kind: PDF2DOCX, opts: opts, logger: logger},
		DOCX2PDF: &officeConverter{kind: DOCX2PDF, opts: opts, logger: logger},
		IMG2PDF:  &imagesToPDF{logger: logger},
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "transform", "prepare destination", dir, err)
	}
	return nil
}

func singleSource(kind Kind, sources []string) (string, error) {
	if len(sources) != 1 {
		return "", services.Wrap(services.ErrValidation, "transform", kind.String(),
			fmt.Sprintf("expected exactly one source, got %d", len(sources)), nil)
	}
	return sources[0], nil
}

// pdfToImages renders every page with pdftoppm into <dest>/<stem>/page_<n>.<ext>.
type pdfToImages struct {
	opts   Options
	logger *slog.Logger
}

func (c *pdfToImages) Kind() Kind { return PDF2IMG }

var pdftoppmPage = regexp.MustCompile(`^page-0*(\d+)\.(png|jpg)$`)

func (c *pdfToImages) Convert(ctx context.Context, sources []string, dest string) (Output, error) {
	src, err := singleSource(PDF2IMG, sources)
	if err != nil {
		return Output{}, err
	}
	outDir := filepath.Join(dest, stem(src))
	if err := ensureDir(outDir); err != nil {
		return Output{}, err
	}

	format, ext := "-png", "png"
	if strings.EqualFold(c.opts.ImageFormat, "jpeg") {
		format, ext = "-jpeg", "jpg"
	}
	args := []string{"-r", strconv.Itoa(c.opts.DPI), format, src, filepath.Join(outDir, "page")}
	logger := logging.WithContext(ctx, c.logger)
	if err := c.opts.Executor.Run(ctx, c.opts.PdftoppmBinary, args, func(line string) {
		logger.Debug("pdftoppm output", logging.String("line", line))
	}); err != nil {
		return Output{}, toolError(ctx, "pdftoppm", src, err)
	}

	files, err := renamePages(outDir, ext)
	if err != nil {
		return Output{}, err
	}
	if len(files) == 0 {
		return Output{}, services.Wrap(services.ErrExternalTool, "transform", "pdf2img",
			fmt.Sprintf("pdftoppm produced no pages for %s", src), nil)
	}
	for i := range files {
		logger.Debug("page converted", logging.Int("page", i+1), logging.String(logging.FieldItem, src))
	}
	logger.Info("pdf2img done", logging.String("dest", outDir), logging.Int("pages", len(files)))
	return Output{Kind: PDF2IMG, Sources: []string{src}, Files: files}, nil
}

// renamePages turns pdftoppm's zero-padded page-01.png names into page_1.png
// and returns the renamed files in page order.
func renamePages(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transform", "pdf2img", "read output directory", err)
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, entry := range entries {
		m := pdftoppmPage.FindStringSubmatch(entry.Name())
		if m == nil || m[2] != ext {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		target := filepath.Join(dir, fmt.Sprintf("page_%d.%s", n, ext))
		if err := os.Rename(filepath.Join(dir, entry.Name()), target); err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "transform", "pdf2img", "rename page", err)
		}
		pages = append(pages, page{n: n, path: target})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })
	files := make([]string, len(pages))
	for i, p := range pages {
		files[i] = p.path
	}
	return files, nil
}

// officeConverter drives a headless LibreOffice for pdf2docx and docx2pdf.
type officeConverter struct {
	kind   Kind
	opts   Options
	logger *slog.Logger
}

func (c *officeConverter) Kind() Kind { return c.kind }

func (c *officeConverter) Convert(ctx context.Context, sources []string, dest string) (Output, error) {
	src, err := singleSource(c.kind, sources)
	if err != nil {
		return Output{}, err
	}
	if err := ensureDir(dest); err != nil {
		return Output{}, err
	}

	// Each run gets its own profile so parallel jobs do not contend for the
	// LibreOffice user installation lock.
	profile, err := os.MkdirTemp("", "doctools-soffice-"+uuid.NewString()[:8])
	if err != nil {
		return Output{}, services.Wrap(services.ErrConfiguration, "transform", c.kind.String(), "create office profile", err)
	}
	defer os.RemoveAll(profile)

	args := []string{"-env:UserInstallation=file://" + filepath.ToSlash(profile), "--headless"}
	target := ""
	switch c.kind {
	case PDF2DOCX:
		args = append(args, "--infilter=writer_pdf_import", "--convert-to", "docx")
		target = filepath.Join(dest, stem(src)+".docx")
	default:
		args = append(args, "--convert-to", "pdf")
		target = filepath.Join(dest, stem(src)+".pdf")
	}
	args = append(args, "--outdir", dest, src)

	logger := logging.WithContext(ctx, c.logger)
	start := time.Now()
	if err := c.opts.Executor.Run(ctx, c.opts.SofficeBinary, args, func(line string) {
		logger.Debug("soffice output", logging.String("line", line))
	}); err != nil {
		return Output{}, toolError(ctx, "soffice", src, err)
	}
	if _, err := os.Stat(target); err != nil {
		return Output{}, services.Wrap(services.ErrExternalTool, "transform", c.kind.String(),
			fmt.Sprintf("soffice reported success but %s is missing", target), nil)
	}
	logger.Info(c.kind.String()+" done",
		logging.String("dest", target),
		logging.Duration("elapsed", time.Since(start)),
	)
	return Output{Kind: c.kind, Sources: []string{src}, Files: []string{target}}, nil
}

func toolError(ctx context.Context, tool, src string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return services.Wrap(services.ErrTimeout, "transform", tool, fmt.Sprintf("converting %s timed out", src), err)
		}
		return ctxErr
	}
	return services.Wrap(services.ErrExternalTool, "transform", tool, fmt.Sprintf("convert %s", src), err)
}
