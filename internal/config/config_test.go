package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "publora",
		Password: "secret",
		Name:     "publora",
		SSLMode:  "require",
	}
	want := "host=localhost port=5432 user=publora password=secret dbname=publora sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

// chdir is a stand-in for testing.T.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	// point at an empty directory so no config file is picked up
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server.port default = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Queue.Concurrency != 5 {
		t.Errorf("queue.concurrency default = %d, want 5", cfg.Queue.Concurrency)
	}
	if cfg.Storage.DefaultBackend != "local" {
		t.Errorf("storage.default_backend default = %q, want local", cfg.Storage.DefaultBackend)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Errorf("auth.session_ttl default = %v, want 24h", cfg.Auth.SessionTTL)
	}
	if cfg.Billing.Configured() {
		t.Error("billing must be unconfigured by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PUB_SERVER_PORT", "8081")
	t.Setenv("PUB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("PUB_LOGGING_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("server.port = %d, want env override 8081", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis.addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadExpandsSecretReferences(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_PASSWORD_FROM_VAULT", "s3cr3t")
	t.Setenv("PUB_DATABASE_PASSWORD", "${DB_PASSWORD_FROM_VAULT}")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "s3cr3t" {
		t.Errorf("database.password = %q, want expanded secret", cfg.Database.Password)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 4000
billing:
  secret_key: sk_live_x
  webhook_secret: whsec_x
  price_tiers:
    price_123: PRO
providers:
  x:
    client_id: app-id
    client_secret: app-secret
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("server.port = %d, want 4000", cfg.Server.Port)
	}
	if !cfg.Billing.Configured() {
		t.Error("billing should be configured")
	}
	if cfg.Billing.PriceTiers["price_123"] != "PRO" {
		t.Errorf("price_tiers not loaded: %v", cfg.Billing.PriceTiers)
	}
	if cfg.Providers["x"].ClientID != "app-id" {
		t.Errorf("providers.x not loaded: %+v", cfg.Providers)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 3000},
			Database: DatabaseConfig{Host: "localhost", Name: "publora"},
			Storage:  StorageConfig{DefaultBackend: "local"},
			Queue:    QueueConfig{Concurrency: 5},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"unknown storage backend", func(c *Config) { c.Storage.DefaultBackend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.DefaultBackend = "s3" }},
		{"zero concurrency", func(c *Config) { c.Queue.Concurrency = 0 }},
		{"billing without webhook secret", func(c *Config) { c.Billing.SecretKey = "sk_x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}
