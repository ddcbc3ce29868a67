package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/clicks/aggregator"
	"github.com/linkmesh/engine/internal/clicks/archive"
	"github.com/linkmesh/engine/internal/clicks/producer"
	"github.com/linkmesh/engine/internal/clicks/rollup"
	"github.com/linkmesh/engine/internal/common/config"
	"github.com/linkmesh/engine/internal/common/configtypes"
	"github.com/linkmesh/engine/internal/common/logger"
	"github.com/linkmesh/engine/internal/common/metricsserver"
	"github.com/linkmesh/engine/internal/shortener/store"
)

func main() {
	configPath := flag.String("c", "configs/click-aggregator.yaml", "path to configuration file")
	flag.Parse()

	// Create initial logger for startup
	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Click Aggregator", zap.String("config_path", *configPath))

	cfg, err := config.LoadAggregator(*configPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Reconfigure logger based on config settings
	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()
	appLogger := dynamicLogger.Logger

	ctx := context.Background()

	// Rollup store, plus the link store for denormalized click counts.
	// The memory driver exists for local runs; it cannot share state with
	// a gateway process, so denormalization is postgres-only.
	var rollupStore rollup.Store
	var linkStore store.Store
	switch cfg.Storage.Driver {
	case configtypes.StorageDriverPostgres:
		rollupStore, err = rollup.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to initialize rollup store", zap.Error(err))
		}
		linkStore, err = store.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to initialize link store", zap.Error(err))
		}
	case configtypes.StorageDriverMemory:
		rollupStore = rollup.NewMemoryStore()
	default:
		appLogger.Fatal("Unknown storage driver", zap.String("driver", cfg.Storage.Driver))
	}
	defer rollupStore.Close()
	if linkStore != nil {
		defer linkStore.Close()
	}
	appLogger.Info("Rollup store initialized", zap.String("driver", cfg.Storage.Driver))

	// Raw click archive (optional)
	var clickArchive *archive.Archive
	if cfg.ClickHouse.Enabled {
		clickArchive, err = archive.Connect(ctx,
			[]string{cfg.ClickHouse.Addr},
			cfg.ClickHouse.Database,
			cfg.ClickHouse.Username,
			cfg.ClickHouse.Password,
			archive.Options{},
			appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		appLogger.Info("Click archive initialized", zap.String("addr", cfg.ClickHouse.Addr))
	}

	// NATS JetStream
	natsConn, err := nats.Connect(cfg.NATS.URL,
		nats.Name("click-aggregator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		appLogger.Fatal("Failed to connect to NATS", zap.Error(err))
	}

	js, err := natsConn.JetStream()
	if err != nil {
		appLogger.Fatal("Failed to initialize JetStream", zap.Error(err))
	}

	// Provision the stream so the aggregator can start before any gateway.
	if err := producer.NewJetStreamSink(js, 0, appLogger).ProvisionStream(); err != nil {
		appLogger.Fatal("Failed to provision click stream", zap.Error(err))
	}

	agg := aggregator.New(rollupStore, linkStore, cfg.Aggregator.TopK, appLogger)

	var archiver aggregator.Archiver
	if clickArchive != nil {
		archiver = clickArchive
	}

	metricsCollector := aggregator.NewMetrics(cfg.Metrics.Namespace, appLogger)

	consumer := aggregator.NewConsumer(js, agg, archiver, metricsCollector, aggregator.ConsumerOptions{
		BatchSize:     cfg.Aggregator.BatchSize,
		FetchTimeout:  time.Duration(cfg.Aggregator.FetchTimeout),
		FlushInterval: time.Duration(cfg.Aggregator.FlushInterval),
	}, appLogger)

	// Start metrics server if enabled
	metricsServer, err := metricsserver.Start(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector.Handler(),
		appLogger,
	)
	if err != nil {
		appLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	runCtx, stop := context.WithCancel(ctx)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(runCtx)
	}()

	appLogger.Info("Click Aggregator started", zap.String("nats_url", cfg.NATS.URL))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	consumerExited := false
	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Info("Shutting down Click Aggregator...")
	case err := <-consumerDone:
		consumerExited = true
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Error("Consumer stopped, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the consumer; Run performs a final flush before returning.
	stop()
	if !consumerExited {
		select {
		case err := <-consumerDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Consumer shutdown error", zap.Error(err))
			}
		case <-shutdownCtx.Done():
			appLogger.Warn("Consumer did not stop within shutdown deadline")
		}
	}
	appLogger.Info("Consumer shutdown complete")

	// Shutdown metrics server
	if metricsServer != nil {
		appLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if clickArchive != nil {
		if err := clickArchive.Close(); err != nil {
			appLogger.Error("Click archive shutdown error", zap.Error(err))
		}
		appLogger.Info("Click archive shutdown complete")
	}

	if err := natsConn.Drain(); err != nil {
		appLogger.Error("NATS drain error", zap.Error(err))
	}

	appLogger.Info("Click Aggregator stopped")
}
