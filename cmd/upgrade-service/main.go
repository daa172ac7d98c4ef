// upgrade-service is the HTTP API server that upgrades a deployment to a
// release tag.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"upgrader/internal/access"
	"upgrader/internal/api"
	"upgrader/internal/archive"
	"upgrader/internal/bootstrap"
	"upgrader/internal/config"
	"upgrader/internal/dispatcher"
	"upgrader/internal/health"
	"upgrader/internal/history"
	"upgrader/internal/notify"
	"upgrader/internal/observability"
	"upgrader/internal/settings"
	"upgrader/internal/upgrade"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	if err := svcCfg.Validate(); err != nil {
		return err
	}
	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	archiveCfg := archive.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Assemble the pipeline: git, lease backend, optional container runner
	stack, err := bootstrap.Open(ctx, bootstrap.Options{
		DeployRoot:      svcCfg.DeployRoot,
		ToolRunner:      svcCfg.ToolRunner,
		VersionCacheTTL: svcCfg.VersionCacheTTL,
		Observer:        metrics,
	})
	if err != nil {
		return err
	}
	defer stack.Close()

	// Settings: installation state and db-version
	var settingsStore settings.Store = settings.Static{}
	var settingsFile *settings.File
	if svcCfg.SettingsFile != "" {
		settingsFile, err = settings.NewFile(svcCfg.SettingsFile)
		if err != nil {
			return err
		}
		settingsStore = settingsFile
	} else {
		slog.Warn("No SETTINGS_FILE configured - treating instance as not installed, upgrades are open")
	}

	// Run history
	var runs history.Store
	if svcCfg.HistoryPath != "" {
		runs, err = history.OpenBadger(history.BadgerConfig{
			Path:       svcCfg.HistoryPath,
			SyncWrites: true,
			Limit:      svcCfg.HistoryLimit,
			Logger:     slog.With("component", "badger"),
		})
		if err != nil {
			return err
		}
	} else {
		runs = history.NewMemory(svcCfg.HistoryLimit)
	}
	defer runs.Close()

	// Notifications: flash queue for the UI, webhooks when configured
	flash := notify.NewFlash(0)
	sinks := []notify.Sink{flash}
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)
	if len(svcCfg.WebhookURLs) > 0 {
		sinks = append(sinks, notify.NewWebhook(eventDispatcher, svcCfg.WebhookURLs, svcCfg.WebhookKey, svcCfg.EventSource))
		slog.Info("Webhook notifications enabled", "endpoints", len(svcCfg.WebhookURLs), "signed", svcCfg.WebhookKey != "")
	}

	// Readiness checks
	healthChecker := health.NewChecker()
	healthChecker.Add("repository", stack.Git)
	healthChecker.Add("lease", health.CheckFunc(stack.Lease.Ping))
	if stack.Docker != nil {
		healthChecker.Add("docker", stack.Docker)
	}

	// Transcript archive
	var archiver archive.Archiver
	if archiveCfg.Enabled() {
		store, err := archive.New(ctx, archiveCfg)
		if err != nil {
			return err
		}
		archiver = store
		healthChecker.AddOptional("archive", store)
		slog.Info("Transcript archive enabled", "endpoint", archiveCfg.Endpoint, "bucket", archiveCfg.Bucket)
	}

	upgrades := upgrade.NewService(upgrade.Deps{
		Pipeline:     stack.Pipeline,
		Source:       stack.Source,
		Guard:        access.NewGuard(settingsStore),
		Settings:     settingsStore,
		History:      runs,
		Sink:         notify.Multi(sinks...),
		Archive:      archiver,
		Metrics:      metrics,
		AppDBVersion: svcCfg.AppDBVersion,
	})

	router := api.NewRouter(api.RouterConfig{
		Upgrades:      upgrades,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Flash:         flash,
		Resolver: access.Resolver{
			APIKey:            svcCfg.APIKey,
			APIKeyRoles:       svcCfg.APIKeyRoles,
			TrustProxyHeaders: svcCfg.TrustProxyHeaders,
		},
		RateLimit: rate.Limit(svcCfg.UpgradeRateLimit),
		Burst:     svcCfg.UpgradeBurst,
	})

	if svcCfg.APIKey == "" && !svcCfg.TrustProxyHeaders {
		slog.Warn("No API_KEY_FILE or trusted proxy headers - installed instances will reject every caller")
	}

	// Create API server. Synchronous upgrades hold the request for the whole run.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: stack.Config.CommandTimeout*4 + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting API server", "port", svcCfg.Port, "deployRoot", svcCfg.DeployRoot)
		return serve(apiServer)
	})
	g.Go(func() error {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		return serve(metricsServer)
	})
	if settingsFile != nil {
		g.Go(func() error {
			if err := settingsFile.Watch(gctx); err != nil {
				slog.Warn("Settings file will not be reloaded", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		// Phase 1: Mark service as unhealthy for load balancer draining
		healthChecker.SetShuttingDown()
		if ctx.Err() != nil && svcCfg.ShutdownDrainWait > 0 {
			slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
			time.Sleep(svcCfg.ShutdownDrainWait)
		}

		// Phase 2: Stop accepting connections, finish in-flight requests
		slog.Info("Starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
		return nil
	})

	serveErr := g.Wait()
	if serveErr != nil {
		slog.Error("Server failed", "error", serveErr)
	}

	// Phase 3: Let running upgrades finish; their commands are not interrupted
	slog.Info("Waiting for running upgrades")
	upgradesCtx, upgradesCancel := context.WithTimeout(context.Background(), stack.Config.CommandTimeout)
	defer upgradesCancel()
	if err := upgrades.Close(upgradesCtx); err != nil {
		slog.Warn("Upgrades still running at shutdown", "error", err)
	}

	// Phase 4: Drain webhook dispatcher
	slog.Info("Draining webhook dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return serveErr
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
