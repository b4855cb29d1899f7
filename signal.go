package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context canceled by the first SIGINT/SIGTERM,
// so a transfer run stops after the submission in flight. A second signal
// exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after the current transfer",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-parent.Done():
			cancel()
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}
