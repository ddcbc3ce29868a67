// Package configtypes declares the YAML configuration surface for both
// services. The loader in internal/common/config applies defaults and
// validation on top of these structs.
package configtypes

import (
	"github.com/linkmesh/engine/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Storage driver constants
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// GatewayConfig is the link-gateway application configuration.
type GatewayConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Shortener ShortenerConfig `yaml:"shortener"`
	Tenants   TenantsConfig   `yaml:"tenants"`
	Clicks    ClicksConfig    `yaml:"clicks"`
	ClientIP  ClientIPConfig  `yaml:"client_ip"`
	Device    DeviceConfig    `yaml:"device"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AggregatorConfig is the click-aggregator application configuration.
type AggregatorConfig struct {
	Storage    StorageConfig    `yaml:"storage"`
	NATS       NATSConfig       `yaml:"nats"`
	Aggregator RollupConfig     `yaml:"aggregator"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Listen  string         `yaml:"listen"`
	Timeout types.Duration `yaml:"timeout"`
}

// StorageConfig selects the link/rollup store backend. The memory driver
// exists for local runs and tests; production uses postgres.
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig tunes the read-through link cache.
type CacheConfig struct {
	TTL         types.Duration `yaml:"ttl"`          // default 1h
	NegativeTTL types.Duration `yaml:"negative_ttl"` // default 30s
}

// ShortenerConfig tunes code derivation and link defaults.
type ShortenerConfig struct {
	CodeLength       int            `yaml:"code_length"`        // default 10
	CollisionMaxSalt int            `yaml:"collision_max_salt"` // default 9
	DefaultLinkTTL   types.Duration `yaml:"default_link_ttl"`   // 0 = never expire
}

// TenantsConfig maps request hosts to tenant ids. Keys may be exact hosts,
// "*" wildcards or "~" regexps; Default applies when nothing matches
// (0 = reject unmapped hosts).
type TenantsConfig struct {
	Hosts   map[string]int64 `yaml:"hosts"`
	Default int64            `yaml:"default"`
}

// ClicksConfig configures the click-event producer on the gateway side.
type ClicksConfig struct {
	Enabled        bool           `yaml:"enabled"`
	PartitionCount int            `yaml:"partition_count"` // default 16
	QueueSize      int            `yaml:"queue_size"`      // default 4096
	PublishRetries int            `yaml:"publish_retries"` // default 3
	SpoolDir       string         `yaml:"spool_dir"`       // empty = overflow drops
	SpoolCompress  string         `yaml:"spool_compression"`
	DrainInterval  types.Duration `yaml:"drain_interval"` // default 1m
	NATS           NATSConfig     `yaml:"nats"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// RollupConfig tunes the aggregator's consume/flush loop.
type RollupConfig struct {
	BatchSize     int            `yaml:"event_batch_size"`     // default 100
	FlushInterval types.Duration `yaml:"event_flush_interval"` // default 1m
	FetchTimeout  types.Duration `yaml:"fetch_timeout"`        // default 5s
	TopK          int            `yaml:"top_k"`                // default 10
}

// ClickHouseConfig configures the raw click-event archive. Disabled by
// default; rollups alone satisfy the analytics read path.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ClientIPConfig lists forwarding headers consulted for the client address,
// in priority order.
type ClientIPConfig struct {
	Headers       []string `yaml:"headers"`
	CountryHeader string   `yaml:"country_header"` // e.g. CF-IPCountry
}

// DeviceConfig extends the built-in bot detection with operator rules.
type DeviceConfig struct {
	BotRules []string `yaml:"bot_rules"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}
