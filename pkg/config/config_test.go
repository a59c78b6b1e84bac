package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "pictor", cfg.S3.Bucket)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(DefaultMaxChunkSize), cfg.Upload.MaxChunkSize)
	assert.Equal(t, DefaultConcurrency, cfg.Gradient.Concurrency)
	assert.Equal(t, DefaultMaxRetries, cfg.Gradient.MaxRetries)
	assert.Equal(t, DefaultPollInterval, cfg.Gradient.PollInterval)
	assert.Equal(t, DefaultPromoteInterval, cfg.Gradient.PromoteInterval)
	assert.False(t, cfg.Gradient.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
server:
  port: 9090
  shutdown_timeout: 5s
s3:
  bucket: media
  endpoint: http://localhost:9000
  force_path_style: true
redis:
  addr: redis:6379
  db: 2
upload:
  max_chunk_size: 1048576
gradient:
  enabled: true
  concurrency: 4
  max_retries: 5
  poll_interval: 500ms
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is uppercased")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "media", cfg.S3.Bucket)
	assert.True(t, cfg.S3.ForcePathStyle)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, int64(1<<20), cfg.Upload.MaxChunkSize)
	assert.True(t, cfg.Gradient.Enabled)
	assert.Equal(t, 4, cfg.Gradient.Concurrency)
	assert.Equal(t, 5, cfg.Gradient.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Gradient.PollInterval)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_BareIntDurationIsMilliseconds(t *testing.T) {
	path := writeConfigFile(t, `
gradient:
  poll_interval: 250
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Gradient.PollInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
`)

	t.Setenv("PICTOR_SERVER_PORT", "7070")
	t.Setenv("PICTOR_REDIS_ADDR", "envhost:6380")
	t.Setenv("PICTOR_GRADIENT_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "envhost:6380", cfg.Redis.Addr)
	assert.True(t, cfg.Gradient.Enabled)
}

func TestLoad_ValidationFailure(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"port out of range", "server:\n  port: 70000\n"},
		{"negative redis db", "redis:\n  db: -1\n"},
		{"poll interval too short", "gradient:\n  poll_interval: 10ms\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed")
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestS3Config_StoreConfig(t *testing.T) {
	t.Parallel()

	c := S3Config{
		Endpoint:       "http://localhost:9000",
		Region:         "eu-west-1",
		AccessKey:      "ak",
		SecretKey:      "sk",
		Bucket:         "media",
		ForcePathStyle: true,
	}
	sc := c.StoreConfig()
	assert.Equal(t, c.Endpoint, sc.Endpoint)
	assert.Equal(t, c.Region, sc.Region)
	assert.Equal(t, c.Bucket, sc.Bucket)
	assert.True(t, sc.ForcePathStyle)
}
