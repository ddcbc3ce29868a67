package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/internal/clicks/producer"
	"github.com/linkmesh/engine/internal/common/config"
	"github.com/linkmesh/engine/internal/common/configtypes"
	"github.com/linkmesh/engine/internal/common/logger"
	"github.com/linkmesh/engine/internal/common/metricsserver"
	"github.com/linkmesh/engine/internal/common/redis"
	"github.com/linkmesh/engine/internal/gateway/device"
	"github.com/linkmesh/engine/internal/gateway/metrics"
	"github.com/linkmesh/engine/internal/gateway/server"
	"github.com/linkmesh/engine/internal/gateway/tenant"
	"github.com/linkmesh/engine/internal/shortener/admin"
	"github.com/linkmesh/engine/internal/shortener/code"
	"github.com/linkmesh/engine/internal/shortener/creator"
	"github.com/linkmesh/engine/internal/shortener/linkcache"
	"github.com/linkmesh/engine/internal/shortener/resolver"
	"github.com/linkmesh/engine/internal/shortener/store"
)

func main() {
	configPath := flag.String("c", "configs/link-gateway.yaml", "path to configuration file")
	flag.Parse()

	// Create initial logger for startup
	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Link Gateway", zap.String("config_path", *configPath))

	cfg, err := config.LoadGateway(*configPath)
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

	// Link store
	linkStore, err := newLinkStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize link store", zap.Error(err))
	}
	defer linkStore.Close()
	appLogger.Info("Link store initialized", zap.String("driver", cfg.Storage.Driver))

	// Redis-backed read-through cache (optional)
	var redisClient *redis.Client
	var cache *linkcache.Cache
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()

		cache = linkcache.New(redisClient,
			time.Duration(cfg.Cache.TTL),
			time.Duration(cfg.Cache.NegativeTTL),
			appLogger)
		appLogger.Info("Link cache initialized", zap.String("redis_addr", cfg.Redis.Addr))
	}

	// Core shortener services
	deriver := code.NewDeriver(cfg.Shortener.CodeLength)
	linkCreator := creator.New(linkStore, deriver, cache,
		cfg.Shortener.CollisionMaxSalt,
		time.Duration(cfg.Shortener.DefaultLinkTTL),
		appLogger)
	linkResolver := resolver.New(linkStore, cache, deriver, appLogger)
	adminService := admin.New(linkStore, cache, appLogger)

	tenantResolver, err := tenant.NewResolver(cfg.Tenants.Hosts, cfg.Tenants.Default)
	if err != nil {
		appLogger.Fatal("Failed to build tenant host mapping", zap.Error(err))
	}

	deviceClassifier, err := device.NewClassifier(cfg.Device.BotRules)
	if err != nil {
		appLogger.Fatal("Failed to compile device bot rules", zap.Error(err))
	}

	metricsCollector := metrics.New(cfg.Metrics.Namespace, appLogger)

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

	// Click event pipeline (optional)
	var natsConn *nats.Conn
	var clickProducer *producer.Producer
	drainStop := make(chan struct{})
	if cfg.Clicks.Enabled {
		natsConn, err = nats.Connect(cfg.Clicks.NATS.URL,
			nats.Name("link-gateway"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			appLogger.Fatal("Failed to connect to NATS", zap.Error(err))
		}

		js, err := natsConn.JetStream()
		if err != nil {
			appLogger.Fatal("Failed to initialize JetStream", zap.Error(err))
		}

		sink := producer.NewJetStreamSink(js, cfg.Clicks.PartitionCount, appLogger)
		if err := sink.ProvisionStream(); err != nil {
			appLogger.Fatal("Failed to provision click stream", zap.Error(err))
		}

		var spool *producer.Spool
		if cfg.Clicks.SpoolDir != "" {
			spool, err = producer.NewSpool(cfg.Clicks.SpoolDir, cfg.Clicks.SpoolCompress, appLogger)
			if err != nil {
				appLogger.Fatal("Failed to initialize click spool", zap.Error(err))
			}
		}

		clickProducer = producer.New(sink, spool, metricsCollector, producer.Options{
			QueueSize:      cfg.Clicks.QueueSize,
			PublishRetries: cfg.Clicks.PublishRetries,
		}, appLogger)

		if spool != nil {
			// Republish anything left over from a previous run, then keep
			// draining on a cadence so spooled events eventually flow.
			if _, err := clickProducer.DrainSpool(ctx); err != nil {
				appLogger.Warn("Startup spool drain incomplete", zap.Error(err))
			}
			go runSpoolDrain(clickProducer, time.Duration(cfg.Clicks.DrainInterval), drainStop, appLogger)
		}

		appLogger.Info("Click producer initialized",
			zap.String("nats_url", cfg.Clicks.NATS.URL),
			zap.Int("partitions", cfg.Clicks.PartitionCount))
	}

	var clickEmitter server.ClickEmitter
	if clickProducer != nil {
		clickEmitter = clickProducer
	}

	// /ready only gates on the store: the cache and the click pipeline both
	// degrade gracefully when their backends are down.
	readyCheck := func(ctx context.Context) error {
		_, err := linkStore.GetByID(ctx, 0, 1)
		return err
	}

	srv := server.New(
		linkResolver,
		linkCreator,
		adminService,
		tenantResolver,
		deviceClassifier,
		clickEmitter,
		metricsCollector,
		server.Options{
			ClientIPHeaders: cfg.ClientIP.Headers,
			CountryHeader:   cfg.ClientIP.CountryHeader,
		},
		readyCheck,
		appLogger,
	)

	// Channel for server startup errors
	serverErrors := make(chan error, 1)

	httpLifecycle := &serverLifecycle{
		server:  newFastHTTPServer(srv.HandleRequest, time.Duration(cfg.Server.Timeout)),
		name:    "HTTP",
		address: cfg.Server.Listen,
		logger:  appLogger,
	}
	httpLifecycle.StartWithErrorChan(serverErrors)

	// Wait briefly for the server to start and check for immediate failures
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		appLogger.Fatal("Server failed to start", zap.Error(err))
	default:
	}

	appLogger.Info("Link Gateway started", zap.String("http_addr", cfg.Server.Listen))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Info("Shutting down Link Gateway...")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Error("Server startup failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		appLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// Shutdown public server before the click producer so in-flight
	// redirects can still enqueue their events.
	httpLifecycle.Shutdown(shutdownCtx)
	appLogger.Info("Public server shutdown complete")

	if clickProducer != nil {
		close(drainStop)
		if err := clickProducer.Close(); err != nil {
			appLogger.Error("Click producer shutdown error", zap.Error(err))
		}
		appLogger.Info("Click producer shutdown complete")
	}
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			appLogger.Error("NATS drain error", zap.Error(err))
		}
	}

	appLogger.Info("Link Gateway stopped")
}

func newLinkStore(ctx context.Context, cfg *configtypes.GatewayConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case configtypes.StorageDriverPostgres:
		return store.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN, logger)
	case configtypes.StorageDriverMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// runSpoolDrain periodically republishes spooled click events until stop
// is closed.
func runSpoolDrain(p *producer.Producer, interval time.Duration, stop <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			drainCtx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := p.DrainSpool(drainCtx); err != nil {
				logger.Warn("Periodic spool drain incomplete", zap.Error(err))
			}
			cancel()
		}
	}
}

const serverName = "LinkGateway/1.0"

func newFastHTTPServer(handler fasthttp.RequestHandler, timeout time.Duration) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                      handler,
		Name:                         serverName,
		ReadTimeout:                  timeout,
		WriteTimeout:                 timeout,
		IdleTimeout:                  timeout,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
	}
}

type serverLifecycle struct {
	server  *fasthttp.Server
	name    string
	address string
	logger  *zap.Logger
}

func (s *serverLifecycle) StartWithErrorChan(errChan chan<- error) {
	go func() {
		if err := s.server.ListenAndServe(s.address); err != nil {
			s.logger.Error("Server error", zap.String("name", s.name), zap.Error(err))
			if errChan != nil {
				errChan <- fmt.Errorf("%s server failed: %w", s.name, err)
			}
		}
	}()
	s.logger.Info("Server started", zap.String("name", s.name), zap.String("address", s.address))
}

func (s *serverLifecycle) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server", zap.String("name", s.name))
	err := s.server.ShutdownWithContext(ctx)
	if err != nil {
		s.logger.Error("Server shutdown error", zap.String("name", s.name), zap.Error(err))
	}
	return err
}
