// Package config loads the Pictor server configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (PICTOR_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	objs3 "github.com/pictorhq/pictor/pkg/store/object/s3"
)

// Config is the static server configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the HTTP API server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// S3 configures the object store backend
	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	// Redis configures the metadata store backend
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`

	// Upload configures the chunked upload engine
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Gradient configures the asynchronous gradient worker
	Gradient GradientConfig `mapstructure:"gradient" yaml:"gradient"`

	// Auth configures sessions and the external identity provider
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// S3Config configures the object store backend.
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"         yaml:"endpoint"`
	Region         string `mapstructure:"region"           yaml:"region"`
	AccessKey      string `mapstructure:"access_key"       yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key"       yaml:"secret_key"`
	Bucket         string `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// StoreConfig converts to the object store's own config type.
func (c S3Config) StoreConfig() objs3.Config {
	return objs3.Config{
		Endpoint:       c.Endpoint,
		Region:         c.Region,
		AccessKey:      c.AccessKey,
		SecretKey:      c.SecretKey,
		Bucket:         c.Bucket,
		ForcePathStyle: c.ForcePathStyle,
	}
}

// RedisConfig configures the metadata store backend.
type RedisConfig struct {
	// Addr is the host:port of the redis server
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`

	// Password is optional
	Password string `mapstructure:"password" yaml:"password"`

	// DB selects the redis logical database
	DB int `mapstructure:"db" validate:"gte=0" yaml:"db"`
}

// UploadConfig configures the chunked upload engine.
type UploadConfig struct {
	// MaxChunkSize caps one chunk request body. Requests exceeding it fail
	// with 413 before the body is fully buffered.
	MaxChunkSize int64 `mapstructure:"max_chunk_size" validate:"required,gt=0" yaml:"max_chunk_size"`
}

// GradientConfig configures the gradient worker.
type GradientConfig struct {
	// Enabled is the master switch; when false, enqueue is a no-op
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Concurrency bounds parallel job processing
	Concurrency int `mapstructure:"concurrency" validate:"required,gte=1" yaml:"concurrency"`

	// MaxRetries bounds dispatch attempts per job
	MaxRetries int `mapstructure:"max_retries" validate:"required,gte=1" yaml:"max_retries"`

	// PollInterval is the queue blocking-pop timeout
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gte=100ms" yaml:"poll_interval"`

	// PromoteInterval is how often delayed jobs are promoted
	PromoteInterval time.Duration `mapstructure:"promote_interval" yaml:"promote_interval"`
}

// AuthConfig configures sessions and the identity provider.
type AuthConfig struct {
	// SessionSecret signs nothing today; it is reserved for cookie
	// hardening and must still be set in production deployments.
	SessionSecret string `mapstructure:"session_secret" yaml:"session_secret"`

	// ProviderURL is the external OAuth identity provider base URL
	ProviderURL string `mapstructure:"provider_url" yaml:"provider_url"`

	// ClientID and ClientSecret identify this deployment to the provider
	ClientID     string `mapstructure:"client_id"     yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled exposes /metrics on the API server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads configuration from the given file path (optional) and the
// environment, applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if found {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else {
		// No file; still honor environment variables bound through viper
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid value for %s (rule %q)", first.Namespace(), first.Tag())
		}
		return err
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PICTOR_ prefix and underscores.
	// Example: PICTOR_GRADIENT_ENABLED=true
	v.SetEnvPrefix("PICTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings so AutomaticEnv sees nested keys even when no
	// config file provides the shape.
	for _, key := range []string{
		"logging.level", "logging.format",
		"server.host", "server.port", "server.shutdown_timeout",
		"s3.endpoint", "s3.region", "s3.access_key", "s3.secret_key",
		"s3.bucket", "s3.force_path_style",
		"redis.addr", "redis.password", "redis.db",
		"upload.max_chunk_size",
		"gradient.enabled", "gradient.concurrency", "gradient.max_retries",
		"gradient.poll_interval", "gradient.promote_interval",
		"auth.session_secret", "auth.provider_url",
		"auth.client_id", "auth.client_secret",
		"metrics.enabled",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pictor")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is not an error; defaults and environment take over.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks parses durations from strings and from bare integers
// (interpreted as milliseconds, matching the *_MS environment convention).
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return time.Duration(0), nil
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Millisecond, nil
		case int64:
			return time.Duration(v) * time.Millisecond, nil
		case float64:
			return time.Duration(v) * time.Millisecond, nil
		default:
			return data, nil
		}
	}
}
