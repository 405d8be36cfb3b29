package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"fare/internal/app"
	"fare/internal/clock"
	"fare/internal/config"
	"fare/internal/domain"
	"fare/internal/handler"
	"fare/internal/logger"
	"fare/internal/messaging"
	"fare/internal/metrics"
	"fare/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	zlog, err := logger.New(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			zlog.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			zlog.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	stores, err := app.OpenStores(ctx, cfg, nrApp, zlog)
	if err != nil {
		zlog.Fatal("failed to open stores", zap.Error(err))
	}
	defer stores.Close()

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = messaging.Connect(cfg.NATS.URL, collector, zlog)
		if err != nil {
			zlog.Warn("nats unavailable", zap.Error(err))
		} else {
			defer messaging.Close(nc)
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Wire dependencies.
	server, worker := wireServer(cfg, stores, nc, nrApp, collector, zlog)

	go worker.RunForever(runCtx)

	// Start server in goroutine.
	go func() {
		zlog.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down server")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	zlog.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server and the
// background sync worker.
func wireServer(
	cfg *config.Config,
	stores *app.Stores,
	nc *nats.Conn,
	nrApp *newrelic.Application,
	collector *metrics.Collector,
	zlog *zap.Logger,
) (*http.Server, *service.SyncWorker) {
	clk := clock.System{}

	// Location provider.
	var (
		provider service.LocationProvider
		push     *service.PushProvider
	)
	switch {
	case cfg.Tracking.Provider == "nats" && nc != nil:
		provider = messaging.NewLocationProvider(nc, cfg.NATS.LocationSubject, zlog)
	case cfg.Tracking.Provider == "nats":
		zlog.Warn("nats location provider configured without a connection, tracking unavailable")
	default:
		push = service.NewPushProvider()
		provider = push
	}

	// Sync notifications.
	var publisher service.EventPublisher
	if nc != nil {
		publisher = messaging.NewPublisher(nc, cfg.NATS.EventsSubject, collector)
	}

	// Initialize services.
	identity := service.NewDeviceIdentity(stores.Local, clk, zlog)
	notificationService := service.NewNotificationService(publisher, clk, zlog)
	fareService := service.NewFareService(stores.Local, domain.FareSettings{
		BaseFare:       cfg.Fare.BaseFare,
		BaseDistanceKm: cfg.Fare.BaseDistanceKm,
		RatePerKm:      cfg.Fare.RatePerKm,
		Currency:       cfg.Fare.Currency,
	}, zlog)
	trackingService := service.NewTrackingService(
		provider,
		stores.Positions,
		identity,
		collector,
		zlog,
		cfg.Tracking.MinMovementKm,
		service.DefaultProviderOptions(cfg.Tracking.ProviderTimeout),
	)
	historyService := service.NewHistoryService(
		stores.Local,
		stores.Remote,
		identity,
		stores.Locker,
		notificationService,
		collector,
		clk,
		zlog,
	)
	worker := service.NewSyncWorker(historyService, cfg.Sync.Interval, zlog)

	// Initialize handlers.
	deviceHandler := handler.NewDeviceHandler(identity)
	fareHandler := handler.NewFareHandler(fareService)
	trackingHandler := handler.NewTrackingHandler(trackingService, push, identity, clk)
	tripHandler := handler.NewTripHandler(historyService, fareService, trackingService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		DeviceHandler:   deviceHandler,
		FareHandler:     fareHandler,
		TrackingHandler: trackingHandler,
		TripHandler:     tripHandler,
		RedisClient:     stores.Redis,
		NewRelicApp:     nrApp,
		Metrics:         collector,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, worker
}
