// Package config loads and validates the Publora configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the PUB_ prefix (e.g., PUB_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment
// variables in containerized deployments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Frontend  FrontendConfig  `mapstructure:"frontend"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	// Providers maps a social provider identifier ("x", "linkedin", ...) to
	// its app-level OAuth credentials. Providers without credentials are
	// still registered; their publish calls fail at the provider.
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig holds the OAuth app credentials for one social provider
type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// DSN builds the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the Redis connection configuration. Redis backs the job
// queue and, when configured, coordinates the concurrency limiter across
// processes. An empty Addr means the limiter degrades to process-local
// coordination and the worker cannot run.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BillingConfig holds the payment-provider configuration. An empty SecretKey
// means billing is not configured: every permission check is granted and the
// deployment is treated as an unmetered self-host.
type BillingConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// PriceTiers maps provider price IDs to internal tier names
	PriceTiers map[string]string `mapstructure:"price_tiers"`
}

// Configured reports whether a payment provider key is set
func (b *BillingConfig) Configured() bool {
	return b.SecretKey != ""
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	EncryptionKey string        `mapstructure:"encryption_key"`
}

// StorageConfig holds media storage configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Local          LocalStorageConfig `mapstructure:"local"`
	S3             S3StorageConfig    `mapstructure:"s3"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
	BaseURL  string `mapstructure:"base_url"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	CDNURL          string `mapstructure:"cdn_url"`
}

// QueueConfig holds worker pool configuration
type QueueConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StuckJobAge   time.Duration `mapstructure:"stuck_job_age"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// FrontendConfig holds URLs of the web frontend used in user-facing messages
type FrontendConfig struct {
	URL        string `mapstructure:"url"`
	BillingURL string `mapstructure:"billing_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	MetricsPort    int  `mapstructure:"metrics_port"`
}

// Load reads configuration from the given path (or default locations),
// environment variables, and built-in defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/publora")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("PUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not cooperate with Unmarshal for nested keys, so every
	// key must be bound explicitly.
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be injected
	// indirectly by infrastructure tooling.
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Billing.SecretKey = expandEnv(cfg.Billing.SecretKey)
	cfg.Billing.WebhookSecret = expandEnv(cfg.Billing.WebhookSecret)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Auth.EncryptionKey = expandEnv(cfg.Auth.EncryptionKey)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	for name, p := range cfg.Providers {
		p.ClientSecret = expandEnv(p.ClientSecret)
		cfg.Providers[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv resolves ${VAR} or $VAR references against the process environment.
// A literal value without a $ passes through unchanged.
func expandEnv(value string) string {
	if strings.Contains(value, "$") {
		return os.ExpandEnv(value)
	}
	return value
}

// bindEnvVars explicitly binds every configuration key to its PUB_-prefixed
// environment variable. viper.BindEnv only errors when called with zero keys;
// since every key here is non-empty the error is still checked for safety.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host", "server.port", "server.base_url",
		"server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode", "database.max_connections",
		"database.min_idle_connections",
		"redis.addr", "redis.password", "redis.db",
		"billing.secret_key", "billing.webhook_secret",
		"auth.jwt_secret", "auth.session_ttl", "auth.encryption_key",
		"storage.default_backend",
		"storage.local.base_path", "storage.local.base_url",
		"storage.s3.endpoint", "storage.s3.region", "storage.s3.bucket",
		"storage.s3.access_key_id", "storage.s3.secret_access_key", "storage.s3.cdn_url",
		"queue.concurrency", "queue.poll_interval", "queue.stuck_job_age",
		"queue.shutdown_grace",
		"frontend.url", "frontend.billing_url",
		"logging.format", "logging.level",
		"telemetry.metrics_enabled", "telemetry.metrics_port",
		"providers.x.client_id", "providers.x.client_secret",
		"providers.linkedin.client_id", "providers.linkedin.client_secret",
		"providers.mastodon.client_id", "providers.mastodon.client_secret",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "publora")
	v.SetDefault("database.user", "publora")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./uploads")
	v.SetDefault("storage.local.base_url", "http://localhost:3000/uploads")

	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.stuck_job_age", "1h")
	v.SetDefault("queue.shutdown_grace", "30s")

	v.SetDefault("frontend.url", "http://localhost:4200")
	v.SetDefault("frontend.billing_url", "http://localhost:4200/billing")

	v.SetDefault("auth.session_ttl", "24h")

	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.metrics_port", 9090)
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	switch c.Storage.DefaultBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("storage.default_backend must be 'local' or 's3', got %q", c.Storage.DefaultBackend)
	}
	if c.Storage.DefaultBackend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when the s3 backend is selected")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Billing.Configured() && c.Billing.WebhookSecret == "" {
		return fmt.Errorf("billing.webhook_secret is required when billing.secret_key is set")
	}
	return nil
}
