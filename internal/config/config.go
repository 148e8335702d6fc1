// Package config loads process settings from CDV_* environment variables
// and engine business rules from a CUE policy file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/cdv/internal/observability"
)

// Config holds process settings. Cobra flags override the fields they name.
type Config struct {
	DBDriver   string `env:"CDV_DB_DRIVER" envDefault:"sqlite"`
	DB         string `env:"CDV_DB" envDefault:"cdv.db"` // file path (sqlite) or DSN (postgres)
	PolicyFile string `env:"CDV_POLICY"`
	LogFormat  string `env:"CDV_LOG_FORMAT" envDefault:"text"`

	HTTP    HTTPConfig    `envPrefix:"CDV_HTTP_"`
	Redis   RedisConfig   `envPrefix:"CDV_REDIS_"`
	Archive ArchiveConfig `envPrefix:"CDV_ARCHIVE_"`
	OTel    OTelConfig    `envPrefix:"CDV_OTEL_"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	RateLimit       float64       `env:"RATE_LIMIT" envDefault:"5"` // public requests per second per client
	RateBurst       int           `env:"RATE_BURST" envDefault:"20"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// RedisConfig configures the cross-replica job lock. An empty Addr keeps
// locks in process.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// ArchiveConfig configures certificate archiving. An empty URL disables it.
type ArchiveConfig struct {
	URL        string `env:"URL"` // s3://bucket/prefix, gs://bucket/prefix or file:///dir
	AWSRegion  string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Endpoint string `env:"S3_ENDPOINT"` // S3-compatible endpoint (MinIO, LocalStack)
}

// OTelConfig configures OpenTelemetry export.
type OTelConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	Endpoint    string  `env:"ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"INSECURE" envDefault:"false"`
	SampleRate  float64 `env:"SAMPLE_RATE" envDefault:"1.0"`
	Environment string  `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads settings from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid CDV_DB_DRIVER %q (expected sqlite or postgres)", c.DBDriver)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid CDV_LOG_FORMAT %q (expected text or json)", c.LogFormat)
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateBurst <= 0 {
		return fmt.Errorf("CDV_HTTP_RATE_LIMIT and CDV_HTTP_RATE_BURST must be positive")
	}
	return nil
}

// Observability converts the OTel settings for observability.New.
func (c Config) Observability(version string) observability.Config {
	oc := observability.DefaultConfig()
	oc.Enabled = c.OTel.Enabled
	oc.OTLPEndpoint = c.OTel.Endpoint
	oc.Insecure = c.OTel.Insecure
	oc.SampleRate = c.OTel.SampleRate
	oc.Environment = c.OTel.Environment
	if version != "" {
		oc.ServiceVersion = version
	}
	return oc
}
