package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/authpipe/internal/config"
	"github.com/tonimelisma/authpipe/internal/credstore"
	"github.com/tonimelisma/authpipe/internal/feed"
	"github.com/tonimelisma/authpipe/internal/session"
)

// shutdownGrace bounds how long serve waits for the HTTP server to drain.
const shutdownGrace = 5 * time.Second

var flagListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the session alive and publish its state",
		Long: `Run the proactive refresh timer in the foreground and publish session
state changes over a websocket at /session, with Prometheus metrics at
/metrics.

Signals: SIGUSR1 moves the session to the background (timer paused),
SIGUSR2 brings it back to the foreground (refreshing if due), SIGHUP
reloads the config file.`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&flagListen, "listen", "", "address for the feed and metrics listener")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := resolvedCfg.RequireService(); err != nil {
		return err
	}

	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	lock, err := acquireServeLock(config.PIDFilePath(), resolvedCfg.Feed.Listen)
	if err != nil {
		return err
	}
	defer lock.Release()

	p, err := NewPipeline(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	state, err := p.Session.Restore(ctx)
	if err != nil {
		return err
	}

	logger.Info("serve starting", slog.String("state", state.String()), slog.String("listen", resolvedCfg.Feed.Listen))

	holder := config.NewHolder(resolvedCfg, resolvedCfg.ConfigPath)
	cli := cliOverrides(cmd)

	env, err := config.ReadEnvOverrides()
	if err != nil {
		return err
	}

	hub := feed.New(feed.Options{
		Buffer:         resolvedCfg.Feed.Buffer,
		WriteTimeout:   resolvedCfg.Feed.Write(),
		OriginPatterns: resolvedCfg.Feed.OriginPatterns,
	}, p.Session.Snapshot, logger)

	unsubscribe := p.Session.Subscribe(hub.Publish)
	defer unsubscribe()

	ln, err := net.Listen("tcp", resolvedCfg.Feed.Listen)
	if err != nil {
		return fmt.Errorf("serve: listening on %s: %w", resolvedCfg.Feed.Listen, err)
	}

	srv := &http.Server{
		Handler:           newServeMux(p, hub, holder),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: http: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if p.Store.FilePath != "" {
		g.Go(func() error {
			return credstore.Watch(gctx, p.Store.FilePath, credentialWatcher(gctx, p, logger), logger)
		})
	}

	g.Go(func() error {
		handleLifecycleSignals(gctx, lifecycleHandlers{
			Background: p.Session.Background,
			Foreground: func() {
				if err := p.Session.Foreground(gctx); err != nil {
					logger.Warn("foreground refresh failed", slog.String("error", err.Error()))
				}
			},
			Reload: func() { reloadConfig(holder, env, cli, logger) },
		}, logger)

		return nil
	})

	err = g.Wait()

	logger.Info("serve stopped")

	return err
}

// newServeMux routes the feed, metrics, and a plain JSON state endpoint.
func newServeMux(p *Pipeline, hub *feed.Hub, holder *config.Holder) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /session", hub)
	mux.Handle("GET /metrics", p.Metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthOutput{
			State:        p.Session.State(),
			LastRefresh:  optionalTime(p.Session.LastRefresh()),
			NextRefresh:  optionalTime(p.Session.NextRefresh()),
			Clients:      hub.Clients(),
			ConfigLoaded: holder.LoadedAt(),
		})
	})

	return mux
}

type healthOutput struct {
	State        session.State `json:"state"`
	LastRefresh  *time.Time    `json:"last_refresh,omitempty"`
	NextRefresh  *time.Time    `json:"next_refresh,omitempty"`
	Clients      int           `json:"feed_clients"`
	ConfigLoaded time.Time     `json:"config_loaded"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

// credentialWatcher reacts to another process changing the credential file.
// A removal is a logout. A new file while logged out restores the session;
// while active the next read simply picks up the new pair.
func credentialWatcher(ctx context.Context, p *Pipeline, logger *slog.Logger) func(present bool) {
	return func(present bool) {
		p.Store.Invalidate()

		if !present {
			logger.Info("credential file removed")

			if err := p.Session.Logout(ctx, "credential removed"); err != nil {
				logger.Warn("logout after removal failed", slog.String("error", err.Error()))
			}

			return
		}

		if p.Session.State() != session.StateLoggedOut {
			return
		}

		if _, err := p.Session.Restore(ctx); err != nil {
			logger.Warn("reloading credential failed", slog.String("error", err.Error()))
		}
	}
}

// reloadConfig re-resolves the config on SIGHUP. Only settings that can
// change in a running process take effect (the log level); the rest apply on
// the next start.
func reloadConfig(holder *config.Holder, env config.EnvOverrides, cli config.CLIOverrides, logger *slog.Logger) {
	cli.ConfigPath = holder.Path()

	next, err := config.Resolve(env, cli)
	if err != nil {
		logger.Warn("config reload failed, keeping current config", slog.String("error", err.Error()))
		return
	}

	prev := holder.Swap(next)
	logLevel.Set(effectiveLevel(next))

	logger.Info("config reloaded",
		slog.String("path", holder.Path()),
		slog.String("log_level", next.Logging.LogLevel),
		slog.String("previous_log_level", prev.Logging.LogLevel),
	)
}
