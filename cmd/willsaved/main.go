package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"willsave/internal/config"
	"willsave/internal/datastore"
	"willsave/internal/duolingo"
	"willsave/internal/events"
	"willsave/internal/handler"
	"willsave/internal/host"
	"willsave/internal/logger"
	"willsave/internal/middleware"
	"willsave/internal/router"
	"willsave/internal/service"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	log, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("will-save stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting will-save",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pick the host platform
	opts := host.Options{ResourceBase: cfg.Runtime.ResourceBase, TabID: cfg.Runtime.TabID}
	rt, err := host.Select(ctx, log, probes(cfg, opts, log)...)
	if err != nil {
		return err
	}
	defer rt.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize core
	access := datastore.NewAccess(datastore.New(rt, log), log)
	hub := events.NewHub(rt, promRegistry, log)
	api := duolingo.NewClient(&http.Client{Timeout: cfg.Duolingo.Timeout}, cfg.Duolingo.BaseURL, log)

	// Initialize services
	updater := service.NewCurrencyUpdater(access, api, cfg.Duolingo.MinCheckGap, promRegistry, log)
	defer updater.Wait()

	background := service.NewBackground(rt, access, hub, updater, cfg.Duolingo.NewTabSpacing, promRegistry, log)
	if err := background.Start(ctx); err != nil {
		return fmt.Errorf("failed to start background: %w", err)
	}

	feed := duolingo.NewFeed()
	watcher := duolingo.NewWatcher(feed, cfg.Watcher.PollInterval, promRegistry, log)
	background.WatchLessons(ctx, watcher)
	watcher.Begin(ctx)
	defer watcher.Wait()

	scheduler := service.NewRefreshScheduler(updater, cfg.Refresh.Interval, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	toll := service.NewToll(rt, access, hub, cfg.Duolingo.BaseURL+"/", log)
	blocker := service.NewBlocker(rt, access, hub, log)
	options := service.NewOptions(access, api, log)

	// Create router
	r := router.New(router.Config{
		Handler:         handler.New(rt, cfg.App.Version),
		CurrencyHandler: handler.NewCurrencyHandler(access, hub, scheduler, log),
		TollHandler:     handler.NewTollHandler(toll, log),
		BlockHandler:    handler.NewBlockHandler(blocker, log),
		SettingsHandler: handler.NewSettingsHandler(options, log),
		WatcherHandler:  handler.NewWatcherHandler(feed, watcher, log),
		AuthMiddleware:  middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeys: cfg.Auth.APIKeys}),
		Gatherer:        promRegistry,
		Logger:          log,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()), zap.String("platform", string(rt.Name())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}
	stop()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	log.Info("server stopped")
	return nil
}

// probes builds the capability probes in configured order.
func probes(cfg *config.Config, opts host.Options, log *zap.Logger) []host.Probe {
	var out []host.Probe
	for _, name := range cfg.Runtime.Probes {
		switch name {
		case "redis":
			out = append(out, host.RedisProbe(host.RedisConfig{
				Addr:      cfg.Runtime.RedisAddress(),
				Password:  cfg.Runtime.RedisPassword,
				DB:        cfg.Runtime.RedisDB,
				KeyPrefix: cfg.Runtime.RedisKeyPrefix,
			}, opts, log))
		case "local":
			out = append(out, host.LocalProbe(cfg.Runtime.ProfilePath, opts, log))
		default:
			log.Warn("unknown runtime probe", zap.String("probe", name))
		}
	}
	return out
}
