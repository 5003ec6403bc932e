package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Tool names as shown by `doctools deps`.
const (
	ToolPdftoppm  = "pdftoppm"
	ToolOffice    = "LibreOffice"
	ToolTesseract = "tesseract"
)

// versionProbeTimeout bounds a single version probe. LibreOffice starts a
// full office process for --version, so this is not tiny.
const versionProbeTimeout = 5 * time.Second

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// Requirement defines an external program a conversion or OCR engine
// shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// UsedBy lists the conversion kinds or engines that need the tool.
	UsedBy []string
	// VersionArgs, when set, are passed to Command to read its version.
	VersionArgs []string
	InstallHint string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	UsedBy      []string
	Available   bool
	Version     string
	Detail      string
	InstallHint string
}

// ToolConfig carries the configured commands the tool table depends on.
type ToolConfig struct {
	PdftoppmBinary string
	SofficeBinary  string
	OCREngine      string
}

// Requirements returns the external tools doctools uses. Tesseract is only
// required when it is the configured OCR engine.
func Requirements(cfg ToolConfig) []Requirement {
	pdftoppm := strings.TrimSpace(cfg.PdftoppmBinary)
	if pdftoppm == "" {
		pdftoppm = ToolPdftoppm
	}
	local := strings.EqualFold(strings.TrimSpace(cfg.OCREngine), "tesseract")
	tesseract := Requirement{
		Name:        ToolTesseract,
		Command:     "tesseract",
		Description: "Offline OCR fallback",
		Optional:    true,
		UsedBy:      []string{"ocr (tesseract engine)"},
		VersionArgs: []string{"--version"},
		InstallHint: "apt install tesseract-ocr | brew install tesseract",
	}
	if local {
		tesseract.Description = "Language data for the local OCR engine"
		tesseract.Optional = false
	}
	return []Requirement{
		{
			Name:        ToolPdftoppm,
			Command:     pdftoppm,
			Description: "Required for pdf2img",
			UsedBy:      []string{"pdf2img"},
			VersionArgs: []string{"-v"},
			InstallHint: "apt install poppler-utils | brew install poppler",
		},
		{
			Name:        ToolOffice,
			Command:     ResolveSofficePath(cfg.SofficeBinary),
			Description: "Required for pdf2docx and docx2pdf",
			UsedBy:      []string{"pdf2docx", "docx2pdf"},
			VersionArgs: []string{"--version"},
			InstallHint: "apt install libreoffice | brew install --cask libreoffice",
		},
		tesseract,
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
// A found binary with VersionArgs is probed for its version; a failing probe
// leaves Version empty but does not make the tool unavailable.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
			UsedBy:      req.UsedBy,
			InstallHint: req.InstallHint,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		if len(req.VersionArgs) > 0 {
			status.Version = probeVersion(ctx, path, req.VersionArgs)
		}
		results = append(results, status)
	}
	return results
}

// probeVersion runs path with args and extracts a dotted version number from
// the first output line that has one. pdftoppm prints its version on stderr
// and older poppler builds exit non-zero, so output is read regardless of the
// exit status.
func probeVersion(ctx context.Context, path string, args []string) string {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	_ = cmd.Run()
	return parseVersion(out.String())
}

func parseVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if match := versionPattern.FindString(line); match != "" {
			return match
		}
	}
	return ""
}
