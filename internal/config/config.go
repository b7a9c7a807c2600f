// Package config handles configuration loading and validation for filedepot.
//
// Configuration comes from a YAML file, then environment variables with
// the FILEDEPOT_ prefix override individual fields, so containerized
// deployments can run without a file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/filedepot/filedepot/pkg/bytesize"
)

// Chunk storage backends.
const (
	BackendDisk = "disk"
	BackendS3   = "s3"
)

// DatabaseConfig selects the metadata store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"FILEDEPOT_DB_DRIVER"` // "sqlite" or "pgx"
	DSN    string `yaml:"dsn" envconfig:"FILEDEPOT_DB_DSN"`
}

// S3Config holds credentials and addressing for the S3 chunk backend.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" envconfig:"FILEDEPOT_S3_ENDPOINT"` // Optional: MinIO or other S3-compatible stores
	Region    string `yaml:"region" envconfig:"FILEDEPOT_S3_REGION"`
	Bucket    string `yaml:"bucket" envconfig:"FILEDEPOT_S3_BUCKET"`
	AccessKey string `yaml:"access_key" envconfig:"FILEDEPOT_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"FILEDEPOT_S3_SECRET_KEY"`
	PathStyle bool   `yaml:"path_style" envconfig:"FILEDEPOT_S3_PATH_STYLE"`
}

// ChunksConfig selects where chunk payloads live.
type ChunksConfig struct {
	Backend string   `yaml:"backend" envconfig:"FILEDEPOT_CHUNK_BACKEND"` // "disk" or "s3"
	S3      S3Config `yaml:"s3"`
}

// BootstrapConfig creates the master account on first start. Ignored
// when the password is empty or a master account already exists.
type BootstrapConfig struct {
	Username   string        `yaml:"username" envconfig:"FILEDEPOT_BOOTSTRAP_USERNAME"`
	Password   string        `yaml:"password" envconfig:"FILEDEPOT_BOOTSTRAP_PASSWORD"`
	Allocation bytesize.Size `yaml:"allocation" envconfig:"FILEDEPOT_BOOTSTRAP_ALLOCATION"`
}

// LokiConfig ships structured logs to a Loki endpoint in addition to
// the console. Batch size and flush interval fall back to the writer's
// defaults when unset.
type LokiConfig struct {
	Enabled       bool     `yaml:"enabled" envconfig:"FILEDEPOT_LOKI_ENABLED"`
	URL           string   `yaml:"url" envconfig:"FILEDEPOT_LOKI_URL"`
	BatchSize     int      `yaml:"batch_size" envconfig:"FILEDEPOT_LOKI_BATCH_SIZE"`
	FlushInterval Duration `yaml:"flush_interval" envconfig:"FILEDEPOT_LOKI_FLUSH_INTERVAL"`
}

// Config is the full filedepot server configuration.
type Config struct {
	Listen   string `yaml:"listen" envconfig:"FILEDEPOT_LISTEN"`
	DataDir  string `yaml:"data_dir" envconfig:"FILEDEPOT_DATA_DIR"`
	LogLevel string `yaml:"log_level" envconfig:"FILEDEPOT_LOG_LEVEL"`

	Database DatabaseConfig `yaml:"database"`
	Chunks   ChunksConfig   `yaml:"chunks"`

	SessionTTL    Duration `yaml:"session_ttl" envconfig:"FILEDEPOT_SESSION_TTL"`       // Idle time before a login expires
	UploadExpiry  Duration `yaml:"upload_expiry" envconfig:"FILEDEPOT_UPLOAD_EXPIRY"`   // Age at which a Pending upload is reclaimed
	SweepInterval Duration `yaml:"sweep_interval" envconfig:"FILEDEPOT_SWEEP_INTERVAL"` // Janitor cadence

	DefaultAllocation bytesize.Size `yaml:"default_allocation" envconfig:"FILEDEPOT_DEFAULT_ALLOCATION"`

	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Loki      LokiConfig      `yaml:"loki"`
}

// Load reads the YAML file at path, overlays FILEDEPOT_* environment
// variables, then fills unset fields with defaults. An empty path skips
// the file and configures from environment and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/filedepot"
	}
	c.DataDir = expandHome(c.DataDir)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = filepath.Join(c.DataDir, "filedepot.db")
	}

	if c.Chunks.Backend == "" {
		c.Chunks.Backend = BackendDisk
	}
	if c.Chunks.S3.Region == "" {
		c.Chunks.S3.Region = "us-east-1"
	}
	// Custom endpoints are S3-compatible stores like MinIO, which want
	// path-style addressing.
	if c.Chunks.S3.Endpoint != "" {
		c.Chunks.S3.PathStyle = true
	}

	if c.SessionTTL == 0 {
		c.SessionTTL = Duration(24 * time.Hour)
	}
	if c.UploadExpiry == 0 {
		c.UploadExpiry = Duration(24 * time.Hour)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(10 * time.Minute)
	}

	if c.DefaultAllocation == 0 {
		c.DefaultAllocation = bytesize.Size(10 * bytesize.GB)
	}
	if c.Bootstrap.Username == "" {
		c.Bootstrap.Username = "master"
	}
	if c.Bootstrap.Allocation == 0 {
		c.Bootstrap.Allocation = bytesize.Size(100 * bytesize.GB)
	}
}

// ChunkDir returns the directory for the disk chunk backend.
func (c *Config) ChunkDir() string {
	return filepath.Join(c.DataDir, "chunks")
}

// DefaultAllocationGB returns the default per-user allocation in whole
// gigabytes, at least 1.
func (c *Config) DefaultAllocationGB() int {
	return gbFloor(c.DefaultAllocation)
}

// BootstrapAllocationGB returns the master account allocation in whole
// gigabytes, at least 1.
func (c *Config) BootstrapAllocationGB() int {
	return gbFloor(c.Bootstrap.Allocation)
}

func gbFloor(s bytesize.Size) int {
	gb := int(s.Bytes() / bytesize.GB)
	if gb < 1 {
		return 1
	}
	return gb
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite or pgx, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}
	switch c.Chunks.Backend {
	case BackendDisk:
	case BackendS3:
		if c.Chunks.S3.Bucket == "" {
			return fmt.Errorf("chunks.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("chunks.backend must be disk or s3, got %q", c.Chunks.Backend)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session_ttl must not be negative")
	}
	if c.UploadExpiry <= 0 {
		return fmt.Errorf("upload_expiry must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.DefaultAllocation <= 0 {
		return fmt.Errorf("default_allocation must be positive")
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
