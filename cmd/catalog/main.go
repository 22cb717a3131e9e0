// Package main запускает HTTP-сервер каталога маркетплейса и его фоновые процессы.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace-catalog/internal/cache"
	"github.com/mmeshcher/marketplace-catalog/internal/config"
	"github.com/mmeshcher/marketplace-catalog/internal/handler"
	"github.com/mmeshcher/marketplace-catalog/internal/messaging"
	"github.com/mmeshcher/marketplace-catalog/internal/middleware"
	"github.com/mmeshcher/marketplace-catalog/internal/notify"
	"github.com/mmeshcher/marketplace-catalog/internal/reconciler"
	"github.com/mmeshcher/marketplace-catalog/internal/repository"
	"github.com/mmeshcher/marketplace-catalog/internal/search"
	"github.com/mmeshcher/marketplace-catalog/internal/service"
	"github.com/mmeshcher/marketplace-catalog/internal/telemetry"
)

var version = "dev"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("application terminated with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(version)
	if err != nil {
		return err
	}
	defer shutdownMeter(context.Background())

	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.ServiceName))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("database initialization error: %w", err)
	}
	defer repo.Close()

	var (
		productCache service.Cache
		derived      search.DerivedInvalidator
	)
	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cache.ClientConfig{URL: cfg.RedisURL})
		if err != nil {
			return fmt.Errorf("redis initialization error: %w", err)
		}
		defer client.Close()
		c := cache.New(client, cfg.CacheTTL, logger, metrics)
		productCache, derived = c, c
	} else {
		logger.Warn("REDIS_URL is empty, catalog cache disabled")
	}

	index := search.WithDerivedInvalidation(repo, derived, logger)

	var (
		sink     search.Sink = search.NewDirectSink(index)
		consumer *messaging.Consumer
		notifier notify.Notifier
	)
	if len(cfg.KafkaBrokers) > 0 {
		searchProducer := messaging.NewProducer(cfg.KafkaBrokers, cfg.SearchTopic)
		defer searchProducer.Close()
		sink = search.NewKafkaSink(searchProducer)

		consumer = messaging.NewConsumer(cfg.KafkaBrokers, cfg.SearchTopic, cfg.SearchGroupID)
		defer consumer.Close()

		notifyProducer := messaging.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic)
		defer notifyProducer.Close()
		notifier = notify.NewKafkaNotifier(notifyProducer)
	}
	if notifier == nil && cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookClient(cfg.NotifyWebhookURL)
	}

	dispatcher := notify.NewDispatcher(notifier, 5*time.Second, logger)
	defer dispatcher.Wait()

	propagator := service.NewPropagator(productCache, repo, sink, 0, logger, metrics)

	svc := service.NewService(service.NewPostgresStore(repo), service.Options{
		Cache:          productCache,
		Propagator:     propagator,
		Notifier:       dispatcher,
		Metrics:        metrics,
		Logger:         logger,
		OrderTxTimeout: cfg.OrderTxTimeout,
	})

	rec := reconciler.New(repo, propagator, dispatcher, metrics, logger, reconciler.Config{
		BatchSize:  cfg.ReconcileBatchSize,
		RunTimeout: cfg.ReconcileRunTimeout,
	})
	scheduler := reconciler.NewScheduler(rec, cfg.ReconcileInterval, logger)
	rebuilder := search.NewRebuilder(repo, index, 0, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, handler.Ops{
		Reconciler: rec,
		Rebuilder:  rebuilder,
		Health:     repo,
		Metrics:    metricsHandler,
	}, logger, authMiddleware)

	server := &http.Server{
		Addr: cfg.RunAddress,
		Handler: otelhttp.NewHandler(h.SetupRouter(), telemetry.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return propagator.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return rebuilder.RunPeriodic(ctx, cfg.SearchRebuildInterval) })
	if consumer != nil {
		indexer := search.NewIndexer(consumer, index, logger)
		g.Go(func() error { return indexer.Run(ctx) })
	}

	g.Go(func() error {
		logger.Info("starting catalog server", zap.String("addr", cfg.RunAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
