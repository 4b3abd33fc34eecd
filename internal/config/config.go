// Package config provides configuration management for saltfish.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the saltfish configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Buckets    BucketsConfig    `yaml:"buckets"`
	KV         KVConfig         `yaml:"kv"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	MariaDB    MariaDBConfig    `yaml:"maria_db"`
	Redis      RedisConfig      `yaml:"redis"`
	Limits     LimitsConfig     `yaml:"limits"`
	Logging    LoggingConfig    `yaml:"logging"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
}

// BucketsConfig names the object store buckets.
type BucketsConfig struct {
	// RecordsPrefix is completed with the base64url dataset id.
	RecordsPrefix string `yaml:"records_prefix"`
	Schemas       string `yaml:"schemas"`
	Summarizers   string `yaml:"summarizers"`
}

// KVConfig selects and configures the object store backend.
type KVConfig struct {
	Backend string `yaml:"backend"` // badger, memory
	Path    string `yaml:"path"`    // badger database directory; empty = in-memory
	Workers int    `yaml:"workers"`
}

// MetadataConfig selects the metadata store backend.
type MetadataConfig struct {
	Backend string `yaml:"backend"` // mysql, memory
}

// MariaDBConfig represents the metadata store connection.
type MariaDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// RedisConfig represents the pub/sub endpoint.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Key     string `yaml:"key"`
}

// LimitsConfig carries the operation limits.
type LimitsConfig struct {
	MaxGenerateIDCount int   `yaml:"max_generate_id_count"`
	MaxRandomIndex     int64 `yaml:"max_random_index"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
	// File enables rotated file output; empty logs to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SummarizerConfig controls the streaming summarizer listener.
type SummarizerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5555,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Buckets: BucketsConfig{
			RecordsPrefix: "saltfish:records:",
			Schemas:       "saltfish:schemas",
			Summarizers:   "saltfish:summarizers",
		},
		KV: KVConfig{
			Backend: "badger",
			Path:    "saltfish-objects.db",
			Workers: 8,
		},
		Metadata: MetadataConfig{
			Backend: "mysql",
		},
		MariaDB: MariaDBConfig{
			Host: "localhost",
			Port: 3306,
			DB:   "saltfish",
			User: "root",
		},
		Redis: RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
			Key:     "saltfish:notifications",
		},
		Limits: LimitsConfig{
			MaxGenerateIDCount: 1000,
			MaxRandomIndex:     1_000_000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Summarizer: SummarizerConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the config file
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SALTFISH_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SALTFISH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SALTFISH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SALTFISH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SALTFISH_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("SALTFISH_KV_BACKEND"); v != "" {
		c.KV.Backend = v
	}
	if v := os.Getenv("SALTFISH_KV_PATH"); v != "" {
		c.KV.Path = v
	}

	if v := os.Getenv("SALTFISH_METADATA_BACKEND"); v != "" {
		c.Metadata.Backend = v
	}
	if v := os.Getenv("SALTFISH_MARIADB_HOST"); v != "" {
		c.MariaDB.Host = v
	}
	if v := os.Getenv("SALTFISH_MARIADB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MariaDB.Port = port
		}
	}
	if v := os.Getenv("SALTFISH_MARIADB_DB"); v != "" {
		c.MariaDB.DB = v
	}
	if v := os.Getenv("SALTFISH_MARIADB_USER"); v != "" {
		c.MariaDB.User = v
	}
	if v := os.Getenv("SALTFISH_MARIADB_PASSWORD"); v != "" {
		c.MariaDB.Password = v
	}

	if v := os.Getenv("SALTFISH_REDIS_ENABLED"); v != "" {
		c.Redis.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("SALTFISH_REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("SALTFISH_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("SALTFISH_REDIS_KEY"); v != "" {
		c.Redis.Key = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.KV.Backend {
	case "badger", "memory":
	case "riak":
		return fmt.Errorf("kv backend riak is not built in; use badger (embedded) or memory")
	default:
		return fmt.Errorf("invalid kv backend: %s", c.KV.Backend)
	}

	if c.Metadata.Backend != "mysql" && c.Metadata.Backend != "memory" {
		return fmt.Errorf("invalid metadata backend: %s", c.Metadata.Backend)
	}

	if c.Buckets.RecordsPrefix == "" || c.Buckets.Schemas == "" || c.Buckets.Summarizers == "" {
		return fmt.Errorf("bucket names must not be empty")
	}
	if c.Buckets.Schemas == c.Buckets.Summarizers {
		return fmt.Errorf("schemas and summarizers buckets must differ")
	}

	if c.Limits.MaxGenerateIDCount < 1 {
		return fmt.Errorf("invalid max_generate_id_count: %d", c.Limits.MaxGenerateIDCount)
	}
	if c.Limits.MaxRandomIndex < 1 {
		return fmt.Errorf("invalid max_random_index: %d", c.Limits.MaxRandomIndex)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
