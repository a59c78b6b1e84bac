package config

import (
	"strings"
	"time"
)

// Default values applied after file and environment loading. Zero values
// are replaced; explicit values are preserved.
const (
	DefaultPort            = 8080
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxChunkSize    = 10 << 20 // 10 MiB
	DefaultConcurrency     = 2
	DefaultMaxRetries      = 3
	DefaultPollInterval    = time.Second
	DefaultPromoteInterval = 5 * time.Second
)

// ApplyDefaults fills unspecified fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyS3Defaults(&cfg.S3)
	applyRedisDefaults(&cfg.Redis)
	applyUploadDefaults(&cfg.Upload)
	applyGradientDefaults(&cfg.Gradient)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyS3Defaults(cfg *S3Config) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "pictor"
	}
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
}

func applyGradientDefaults(cfg *GradientConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PromoteInterval == 0 {
		cfg.PromoteInterval = DefaultPromoteInterval
	}
}
