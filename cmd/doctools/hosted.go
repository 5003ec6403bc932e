package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"doctools/internal/app"
	"doctools/internal/loop"
)

// runHosted submits work to the app loop and serves its completion on a host
// loop owned by the calling goroutine. done runs on the host; its error is
// the command result. An interrupt shuts the loop down, which cancels work
// in flight, and the cancelled completion is still delivered to done.
func runHosted[T any](ctx context.Context, a *app.App, work func(context.Context) (T, error), done func(T, error) error) error {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), a.Config().ShutdownTimeout())
	defer cancelShutdown()

	host := loop.NewHost(a.Loop(), a.Logger())

	var doneErr error
	future, err := loop.Submit(a.Loop(), work)
	if err != nil {
		return errors.Join(err, a.Close(shutdownCtx))
	}
	future.OnDone(host, func(value T, workErr error) {
		doneErr = done(value, workErr)
		host.RequestExit(shutdownCtx)
	})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			host.RequestExit(shutdownCtx)
		case <-future.Done():
		}
	}()

	// Run reports the loop shutdown error, which Close returns again.
	_ = host.Run()
	return errors.Join(doneErr, a.Close(shutdownCtx))
}
