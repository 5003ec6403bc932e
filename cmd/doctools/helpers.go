package main

import (
	"os"
	"path/filepath"
	"strings"
)

// inputDir returns the directory a target lives in, or the target itself
// when it is a directory.
func inputDir(target string) (string, bool) {
	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		return target, true
	}
	return filepath.Dir(target), false
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, width int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if width <= 0 || len(runes) <= width {
		return value
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
