package deps

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// officeFallbacks are the names LibreOffice installs its launcher under.
var officeFallbacks = []string{"soffice", "libreoffice"}

// macOfficeBundle is where the LibreOffice app bundle keeps soffice.
const macOfficeBundle = "/Applications/LibreOffice.app/Contents/MacOS/soffice"

// ResolveSofficePath returns the office launcher to run. A configured command
// that resolves wins; otherwise the usual launcher names are tried on PATH and
// then the macOS bundle. The configured value is returned unchanged when
// nothing resolves so the status line names what was asked for.
func ResolveSofficePath(configured string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		if resolved, err := exec.LookPath(configured); err == nil {
			return resolved
		}
	}
	for _, name := range officeFallbacks {
		if name == configured {
			continue
		}
		if resolved, err := exec.LookPath(name); err == nil {
			return resolved
		}
	}
	if runtime.GOOS == "darwin" {
		if info, err := os.Stat(macOfficeBundle); err == nil && isExecutable(info) {
			return macOfficeBundle
		}
	}
	if configured == "" {
		return officeFallbacks[0]
	}
	return configured
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
