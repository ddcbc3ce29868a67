// Package config loads and validates the YAML configuration for both
// services. Decoding is strict: unknown fields fail the load so typos
// surface at startup instead of silently falling back to defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/linkmesh/engine/internal/common/configtypes"
	"github.com/linkmesh/engine/internal/common/yamlutil"
	"github.com/linkmesh/engine/pkg/types"
)

const (
	DefaultCodeLength       = 10
	DefaultCollisionMaxSalt = 9
	DefaultCacheTTL         = time.Hour
	DefaultNegativeTTL      = 30 * time.Second
	DefaultPartitionCount   = 16
	DefaultQueueSize        = 4096
	DefaultPublishRetries   = 3
	DefaultDrainInterval    = time.Minute
	DefaultBatchSize        = 100
	DefaultFlushInterval    = time.Minute
	DefaultFetchTimeout     = 5 * time.Second
	DefaultTopK             = 10
	DefaultServerTimeout    = 10 * time.Second
	DefaultMetricsPath      = "/metrics"
	DefaultNamespace        = "linkmesh"
)

// LoadGateway reads, defaults and validates a link-gateway config file.
func LoadGateway(path string) (*configtypes.GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg configtypes.GatewayConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyGatewayDefaults(&cfg)
	if err := validateGateway(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadAggregator reads, defaults and validates a click-aggregator config file.
func LoadAggregator(path string) (*configtypes.AggregatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg configtypes.AggregatorConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyAggregatorDefaults(&cfg)
	if err := validateAggregator(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

func applyGatewayDefaults(cfg *configtypes.GatewayConfig) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout <= 0 {
		cfg.Server.Timeout = types.Duration(DefaultServerTimeout)
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = configtypes.StorageDriverPostgres
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = types.Duration(DefaultCacheTTL)
	}
	if cfg.Cache.NegativeTTL <= 0 {
		cfg.Cache.NegativeTTL = types.Duration(DefaultNegativeTTL)
	}
	if cfg.Shortener.CodeLength <= 0 {
		cfg.Shortener.CodeLength = DefaultCodeLength
	}
	if cfg.Shortener.CollisionMaxSalt <= 0 {
		cfg.Shortener.CollisionMaxSalt = DefaultCollisionMaxSalt
	}
	if cfg.Clicks.PartitionCount <= 0 {
		cfg.Clicks.PartitionCount = DefaultPartitionCount
	}
	if cfg.Clicks.QueueSize <= 0 {
		cfg.Clicks.QueueSize = DefaultQueueSize
	}
	if cfg.Clicks.PublishRetries <= 0 {
		cfg.Clicks.PublishRetries = DefaultPublishRetries
	}
	if cfg.Clicks.DrainInterval <= 0 {
		cfg.Clicks.DrainInterval = types.Duration(DefaultDrainInterval)
	}
	if len(cfg.ClientIP.Headers) == 0 {
		cfg.ClientIP.Headers = []string{"X-Forwarded-For", "X-Real-IP"}
	}
	applyLogDefaults(&cfg.Log)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyAggregatorDefaults(cfg *configtypes.AggregatorConfig) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = configtypes.StorageDriverPostgres
	}
	if cfg.Aggregator.BatchSize <= 0 {
		cfg.Aggregator.BatchSize = DefaultBatchSize
	}
	if cfg.Aggregator.FlushInterval <= 0 {
		cfg.Aggregator.FlushInterval = types.Duration(DefaultFlushInterval)
	}
	if cfg.Aggregator.FetchTimeout <= 0 {
		cfg.Aggregator.FetchTimeout = types.Duration(DefaultFetchTimeout)
	}
	if cfg.Aggregator.TopK <= 0 {
		cfg.Aggregator.TopK = DefaultTopK
	}
	applyLogDefaults(&cfg.Log)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLogDefaults(cfg *configtypes.LogConfig) {
	if cfg.Level == "" {
		cfg.Level = configtypes.LogLevelInfo
	}
	if !cfg.Console.Enabled && !cfg.File.Enabled {
		cfg.Console.Enabled = true
	}
	if cfg.Console.Format == "" {
		cfg.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.File.Format == "" {
		cfg.File.Format = configtypes.LogFormatJSON
	}
}

func applyMetricsDefaults(cfg *configtypes.MetricsConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultMetricsPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
}

func validateGateway(cfg *configtypes.GatewayConfig) error {
	if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if cfg.Tenants.Default < 0 {
		return fmt.Errorf("tenants.default must not be negative")
	}
	for host, id := range cfg.Tenants.Hosts {
		if id <= 0 {
			return fmt.Errorf("tenants.hosts[%s] maps to invalid tenant id %d", host, id)
		}
	}
	if cfg.Clicks.Enabled && cfg.Clicks.NATS.URL == "" {
		return fmt.Errorf("clicks.nats.url is required when clicks are enabled")
	}
	switch cfg.Clicks.SpoolCompress {
	case "", "none", "snappy", "lz4":
	default:
		return fmt.Errorf("clicks.spool_compression must be one of none, snappy, lz4")
	}
	return validateMetrics(&cfg.Metrics, cfg.Server.Listen)
}

func validateAggregator(cfg *configtypes.AggregatorConfig) error {
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if cfg.ClickHouse.Enabled && cfg.ClickHouse.Addr == "" {
		return fmt.Errorf("clickhouse.addr is required when the archive is enabled")
	}
	return validateMetrics(&cfg.Metrics, "")
}

func validateStorage(cfg *configtypes.StorageConfig) error {
	switch cfg.Driver {
	case configtypes.StorageDriverMemory:
		return nil
	case configtypes.StorageDriverPostgres:
		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q",
			configtypes.StorageDriverPostgres, configtypes.StorageDriverMemory, cfg.Driver)
	}
}

func validateMetrics(cfg *configtypes.MetricsConfig, serverListen string) error {
	if !cfg.Enabled {
		return nil
	}
	if err := configtypes.ValidateListenAddress(cfg.Listen); err != nil {
		return fmt.Errorf("metrics.listen: %w", err)
	}
	// Metrics must never share the serving port: exposition traffic is not
	// allowed to compete with the redirect hot path.
	if serverListen != "" {
		_, serverPort, err := configtypes.ParseListenAddress(serverListen)
		if err != nil {
			return err
		}
		_, metricsPort, err := configtypes.ParseListenAddress(cfg.Listen)
		if err != nil {
			return err
		}
		if serverPort == metricsPort {
			return fmt.Errorf("metrics.listen must use a different port than server.listen")
		}
	}
	return nil
}
