package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"

	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/handlers"
	"github.com/Cyvadra/tv-alert-relay/internal/routes"
	"github.com/Cyvadra/tv-alert-relay/internal/telegrambot"
	"github.com/Cyvadra/tv-alert-relay/internal/version"
)

// Serve runs the webhook server, the Telegram bot and the housekeeping jobs
// until ctx is cancelled or the process receives SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	// Background loops stop before the deferred wait returns.
	defer cancel()

	if path := a.Config.AccountsFile; path != "" {
		n, err := a.importAccountsFile(ctx, rt.accounts, path)
		if err != nil {
			return err
		}
		a.Logger.Info().Int("count", n).Str("path", path).Msg("accounts file imported")

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.WatchFile(ctx, path, 0, a.Logger, func() {
				if _, err := a.importAccountsFile(ctx, rt.accounts, path); err != nil {
					a.Logger.Error().Err(err).Str("path", path).Msg("failed to reload accounts file")
				}
			})
			if err != nil {
				a.Logger.Error().Err(err).Msg("accounts file watcher stopped")
			}
		}()
	}

	sched, err := a.newScheduler(ctx, rt)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if rt.bot != nil && a.Config.Telegram.Polling {
		telegrambot.NewCommands(rt.codes, rt.accounts, rt.dispatcher, a.Logger).Register(rt.bot)
		wg.Add(1)
		go func() {
			defer wg.Done()
			telegrambot.Run(ctx, rt.bot, a.Logger)
		}()
	}

	if a.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	h := handlers.NewHandler(rt.accounts, rt.alerts, rt.dispatcher, rt.codes, a.Logger)
	opts := routes.Options{Service: a.Config.App.Name, Version: version.Version}
	if a.Config.Metrics.Enabled {
		opts.Metrics = rt.metrics
		opts.MetricsPath = a.Config.Metrics.Path
	}
	routes.SetupRoutes(r, h, opts, a.Logger)

	srv := &http.Server{
		Addr:         a.Config.ListenAddr(),
		Handler:      r,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.Logger.Info().
		Str("addr", srv.Addr).
		Str("webhook", a.Config.App.PublicURL+"/api/v1/webhook/:accountId/:token").
		Msg("server started")
	a.notify(daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.Logger.Error().Err(err).Msg("server failed")
			return err
		}
	}

	a.notify(daemon.SdNotifyStopping)
	a.Logger.Info().Msg("shutting down")

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	a.Logger.Info().Msg("server stopped")
	return nil
}

func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.Logger.Warn().Err(err).Str("state", state).Msg("systemd notify failed")
		return
	}
	if sent {
		a.Logger.Debug().Str("state", state).Msg("systemd notified")
	}
}
