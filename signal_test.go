package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := shutdownContext(parent, logger)

	// Send SIGINT to ourselves.
	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("failed to send SIGINT: %v", err)
	}

	select {
	case <-ctx.Done():
		// Expected: context canceled on first signal.
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of SIGINT")
	}

	// Clean up: cancel parent to stop the goroutine.
	cancel()
}

func TestShutdownContext_ParentCancelStopsGoroutine(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := shutdownContext(parent, logger)

	// Cancelling the parent cancels the derived context.
	cancel()

	select {
	case <-ctx.Done():
		// Expected: context canceled when parent is canceled.
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of parent cancel")
	}
}

func TestDispatchLifecycle_RoutesSignals(t *testing.T) {
	t.Parallel()

	var got []string

	h := lifecycleHandlers{
		Background: func() { got = append(got, "background") },
		Foreground: func() { got = append(got, "foreground") },
		Reload:     func() { got = append(got, "reload") },
	}

	dispatchLifecycle(syscall.SIGUSR1, h)
	dispatchLifecycle(syscall.SIGUSR2, h)
	dispatchLifecycle(syscall.SIGHUP, h)
	dispatchLifecycle(syscall.SIGTERM, h)

	if len(got) != 3 || got[0] != "background" || got[1] != "foreground" || got[2] != "reload" {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
}

func TestDispatchLifecycle_NilHandlerIgnored(t *testing.T) {
	t.Parallel()

	dispatchLifecycle(syscall.SIGUSR1, lifecycleHandlers{})
}

func TestHandleLifecycleSignals_DeliversSIGUSR1(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	fired := make(chan struct{}, 1)
	done := make(chan struct{})

	// Trap SIGUSR1 up front so an early signal cannot kill the test process.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGUSR1)

	defer signal.Stop(guard)

	go func() {
		defer close(done)

		handleLifecycleSignals(ctx, lifecycleHandlers{
			Background: func() {
				select {
				case fired <- struct{}{}:
				default:
				}
			},
		}, logger)
	}()

	// Keep sending until the handler has registered and reacted.
	deadline := time.After(2 * time.Second)

	for {
		if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
			t.Fatalf("failed to send SIGUSR1: %v", err)
		}

		select {
		case <-fired:
			cancel()
			<-done

			return
		case <-deadline:
			t.Fatal("SIGUSR1 not dispatched within 2 seconds")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
