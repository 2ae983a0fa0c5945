package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. This gives serve time to close websocket
// clients and wait for an in-flight refresh on first signal, while allowing
// the user to force-quit if something hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// Wait for second signal: force exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// lifecycleHandlers are the actions bound to the control signals of serve.
type lifecycleHandlers struct {
	Background func()
	Foreground func()
	Reload     func()
}

// handleLifecycleSignals dispatches SIGUSR1 (background), SIGUSR2
// (foreground), and SIGHUP (reload) until ctx is done.
func handleLifecycleSignals(ctx context.Context, h lifecycleHandlers, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			logger.Debug("lifecycle signal", slog.String("signal", sig.String()))
			dispatchLifecycle(sig, h)
		}
	}
}

func dispatchLifecycle(sig os.Signal, h lifecycleHandlers) {
	var fn func()

	switch sig {
	case syscall.SIGUSR1:
		fn = h.Background
	case syscall.SIGUSR2:
		fn = h.Foreground
	case syscall.SIGHUP:
		fn = h.Reload
	}

	if fn != nil {
		fn()
	}
}
