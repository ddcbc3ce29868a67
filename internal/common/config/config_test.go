package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkmesh/engine/internal/common/configtypes"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGatewayDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
storage:
  driver: memory
`)

	cfg, err := LoadGateway(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultCodeLength, cfg.Shortener.CodeLength)
	assert.Equal(t, DefaultCollisionMaxSalt, cfg.Shortener.CollisionMaxSalt)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.ToDuration())
	assert.Equal(t, 30*time.Second, cfg.Cache.NegativeTTL.ToDuration())
	assert.Equal(t, DefaultPartitionCount, cfg.Clicks.PartitionCount)
	assert.Equal(t, []string{"X-Forwarded-For", "X-Real-IP"}, cfg.ClientIP.Headers)
	assert.Equal(t, configtypes.LogLevelInfo, cfg.Log.Level)
	assert.True(t, cfg.Log.Console.Enabled, "console logging enabled when nothing else is")
	assert.Equal(t, "linkmesh", cfg.Metrics.Namespace)
}

func TestLoadGatewayFull(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  timeout: 5s
storage:
  driver: postgres
  postgres:
    dsn: postgres://links:secret@db:5432/links
redis:
  enabled: true
  addr: redis:6379
cache:
  ttl: 30m
  negative_ttl: 10s
shortener:
  code_length: 8
  collision_max_salt: 5
  default_link_ttl: 30d
tenants:
  hosts:
    links.acme.com: 1
    "*.shortens.dev": 2
  default: 7
clicks:
  enabled: true
  partition_count: 32
  spool_dir: /var/spool/linkmesh
  spool_compression: snappy
  nats:
    url: nats://broker:4222
client_ip:
  headers: [CF-Connecting-IP]
  country_header: CF-IPCountry
device:
  bot_rules: ["*internalmonitor*"]
log:
  level: debug
metrics:
  enabled: true
  listen: ":9100"
`)

	cfg, err := LoadGateway(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 8, cfg.Shortener.CodeLength)
	assert.Equal(t, 5, cfg.Shortener.CollisionMaxSalt)
	assert.Equal(t, 30*24*time.Hour, cfg.Shortener.DefaultLinkTTL.ToDuration())
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.ToDuration())
	assert.Equal(t, int64(7), cfg.Tenants.Default)
	assert.Equal(t, int64(2), cfg.Tenants.Hosts["*.shortens.dev"])
	assert.Equal(t, 32, cfg.Clicks.PartitionCount)
	assert.Equal(t, "snappy", cfg.Clicks.SpoolCompress)
	assert.Equal(t, "CF-IPCountry", cfg.ClientIP.CountryHeader)
}

func TestLoadGatewayRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
  tiemout: 5s
storage:
  driver: memory
`)

	_, err := LoadGateway(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field")
}

func TestLoadGatewayValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "postgres driver needs dsn",
			yaml: `
server:
  listen: ":8080"
storage:
  driver: postgres
`,
			wantErr: "storage.postgres.dsn",
		},
		{
			name: "unknown storage driver",
			yaml: `
server:
  listen: ":8080"
storage:
  driver: cassandra
`,
			wantErr: "storage.driver",
		},
		{
			name: "clicks need a broker",
			yaml: `
server:
  listen: ":8080"
storage:
  driver: memory
clicks:
  enabled: true
`,
			wantErr: "clicks.nats.url",
		},
		{
			name: "invalid spool compression",
			yaml: `
server:
  listen: ":8080"
storage:
  driver: memory
clicks:
  enabled: true
  spool_compression: zstd
  nats:
    url: nats://broker:4222
`,
			wantErr: "spool_compression",
		},
		{
			name: "tenant id must be positive",
			yaml: `
server:
  listen: ":8080"
storage:
  driver: memory
tenants:
  hosts:
    links.acme.com: 0
`,
			wantErr: "invalid tenant id",
		},
		{
			name: "metrics must not share the serving port",
			yaml: `
server:
  listen: ":8080"
storage:
  driver: memory
metrics:
  enabled: true
  listen: ":8080"
`,
			wantErr: "different port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGateway(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAggregatorDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
nats:
  url: nats://broker:4222
`)

	cfg, err := LoadAggregator(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBatchSize, cfg.Aggregator.BatchSize)
	assert.Equal(t, time.Minute, cfg.Aggregator.FlushInterval.ToDuration())
	assert.Equal(t, 5*time.Second, cfg.Aggregator.FetchTimeout.ToDuration())
	assert.Equal(t, DefaultTopK, cfg.Aggregator.TopK)
	assert.False(t, cfg.ClickHouse.Enabled)
}

func TestLoadAggregatorValidation(t *testing.T) {
	_, err := LoadAggregator(writeConfig(t, `
storage:
  driver: memory
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.url")

	_, err = LoadAggregator(writeConfig(t, `
storage:
  driver: memory
nats:
  url: nats://broker:4222
clickhouse:
  enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse.addr")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadGateway("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
