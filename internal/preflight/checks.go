package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"doctools/internal/config"
	"doctools/internal/deps"
	"doctools/internal/recognition"
)

// CheckCredentials verifies that recognition keys resolve from config, the
// environment or the legacy credentials file.
func CheckCredentials(cfg config.OCR) Result {
	const name = "OCR credentials"

	creds, err := recognition.LoadCredentials(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if !creds.Valid() {
		return Result{Name: name, Detail: "API key or secret key missing"}
	}
	return Result{Name: name, Passed: true, Detail: "keys configured"}
}

// CheckEndpoint verifies that an HTTP endpoint answers. Any HTTP response
// counts as reachable; authentication is exercised by the first real request.
func CheckEndpoint(ctx context.Context, name, rawURL string) Result {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, target, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external converters and OCR tools for the
// given config, probing each found binary for its version.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, deps.Requirements(deps.ToolConfig{
		PdftoppmBinary: cfg.Transform.PdftoppmBinary,
		SofficeBinary:  cfg.Transform.SofficeBinary,
		OCREngine:      cfg.OCR.Engine,
	}))
}

// summarizeNetworkError produces a human-readable summary for reachability failures.
func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "reachability check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "reachability check timed out (endpoint unreachable)"
	}
	return err.Error()
}
