package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"doctools/internal/services"
)

// Process exit statuses.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

func main() {
	err := newRootCommand().Execute()
	os.Exit(exitCode(os.Stderr, err))
}

// exitCode prints err to w and maps it to the process status. Interrupts are
// not printed; invalid input and configuration exit with exitUsage so scripts
// can tell them from a conversion that failed.
func exitCode(w io.Writer, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled), errors.Is(err, services.ErrCancelled):
		return exitInterrupt
	}
	fmt.Fprintln(w, err)
	switch services.Kind(err) {
	case "validation", "configuration", "not_found":
		return exitUsage
	default:
		return exitFailure
	}
}
