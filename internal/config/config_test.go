package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 5555 {
		t.Errorf("default port = %d, want 5555", cfg.Server.Port)
	}
	if cfg.Buckets.RecordsPrefix != "saltfish:records:" {
		t.Errorf("default records prefix = %q", cfg.Buckets.RecordsPrefix)
	}
	if cfg.Limits.MaxGenerateIDCount != 1000 {
		t.Errorf("default max_generate_id_count = %d, want 1000", cfg.Limits.MaxGenerateIDCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/saltfish.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  host: 127.0.0.1
  port: 9999
maria_db:
  host: db.internal
  db: saltfish_prod
redis:
  enabled: true
  key: prod:notifications
limits:
  max_generate_id_count: 50
`
	path := filepath.Join(t.TempDir(), "saltfish.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9999 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.MariaDB.Host != "db.internal" || cfg.MariaDB.DB != "saltfish_prod" {
		t.Errorf("maria_db = %+v", cfg.MariaDB)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Key != "prod:notifications" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Limits.MaxGenerateIDCount != 50 {
		t.Errorf("max_generate_id_count = %d, want 50", cfg.Limits.MaxGenerateIDCount)
	}
	// Unset fields keep defaults.
	if cfg.Buckets.Schemas != "saltfish:schemas" {
		t.Errorf("schemas bucket = %q", cfg.Buckets.Schemas)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")

	content := `
maria_db:
  password: ${TEST_DB_PASSWORD}
`
	path := filepath.Join(t.TempDir(), "saltfish.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MariaDB.Password != "s3cret" {
		t.Errorf("password = %q, want expanded env value", cfg.MariaDB.Password)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SALTFISH_PORT", "8081")
	t.Setenv("SALTFISH_LOG_LEVEL", "debug")
	t.Setenv("SALTFISH_REDIS_ENABLED", "true")
	t.Setenv("SALTFISH_MARIADB_USER", "saltfish")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis should be enabled")
	}
	if cfg.MariaDB.User != "saltfish" {
		t.Errorf("maria_db user = %q, want saltfish", cfg.MariaDB.User)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad kv backend", func(c *Config) { c.KV.Backend = "cassandra" }},
		{"bad metadata backend", func(c *Config) { c.Metadata.Backend = "postgres" }},
		{"empty bucket", func(c *Config) { c.Buckets.Schemas = "" }},
		{"colliding buckets", func(c *Config) { c.Buckets.Summarizers = c.Buckets.Schemas }},
		{"bad id limit", func(c *Config) { c.Limits.MaxGenerateIDCount = 0 }},
		{"bad random index", func(c *Config) { c.Limits.MaxRandomIndex = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRejectsRiakBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KV.Backend = "riak"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for riak backend")
	}
	if !strings.Contains(err.Error(), "not built in") {
		t.Errorf("error should explain riak is unavailable, got: %v", err)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 5555
	if got := cfg.Address(); got != "10.0.0.5:5555" {
		t.Errorf("Address() = %q", got)
	}
}
