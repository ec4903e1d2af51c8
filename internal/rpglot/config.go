package rpglot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v2"

	"github.com/vadv/rpglot/internal/storage"
)

const (
	defaultListenAddress  = "127.0.0.1:10090"
	defaultStorageDir     = "/var/lib/rpglot"
	defaultTickInterval   = 10 * time.Second
	defaultRotateInterval = time.Hour
)

// Config defines the agent's configuration. Values come from the optional
// YAML config file and may be overridden by command line flags.
type Config struct {
	ListenAddress string `yaml:"listen_address"` // address of the self-metrics listener
	StorageDir    string `yaml:"storage_dir"`    // root for wal.log and chunk files

	TickInterval   time.Duration `yaml:"tick_interval"`
	RotateInterval time.Duration `yaml:"rotate_interval"`

	// MaxTotalSize accepts human-readable sizes ("1GB", "512MB").
	MaxTotalSize     string `yaml:"max_total_size"`
	MaxRetentionDays int    `yaml:"max_retention_days"`

	// NoPostgres disables the PostgreSQL collectors (host-only mode).
	NoPostgres bool `yaml:"no_postgres"`
	// ConnString overrides the environment-derived connection string.
	ConnString string `yaml:"conninfo"`

	// StatementsCacheInterval throttles pg_stat_statements; 0 disables
	// caching.
	StatementsCacheInterval time.Duration `yaml:"statements_cache_interval"`

	// ForceCgroup enables cgroup collection outside containers; CgroupPath
	// overrides the default /sys/fs/cgroup.
	ForceCgroup bool   `yaml:"force_cgroup"`
	CgroupPath  string `yaml:"cgroup_path"`

	ProcPath string `yaml:"proc_path"`

	rotation storage.RotationConfig
}

// NewConfig reads a YAML config file. A missing file yields the zero config
// so flags and defaults still apply.
func NewConfig(path string) (*Config, error) {
	config := &Config{}
	if path == "" {
		return config, nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(content, config); err != nil {
		return nil, fmt.Errorf("parse config failed: %w", err)
	}
	return config, nil
}

// Validate checks values and fills defaults.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		c.ListenAddress = defaultListenAddress
	}
	if c.StorageDir == "" {
		c.StorageDir = defaultStorageDir
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.TickInterval < time.Second {
		return fmt.Errorf("tick_interval %s is below the 1s minimum", c.TickInterval)
	}
	if c.RotateInterval <= 0 {
		c.RotateInterval = defaultRotateInterval
	}
	if c.ProcPath == "" {
		c.ProcPath = "/proc"
	}
	if c.StatementsCacheInterval < 0 {
		return fmt.Errorf("statements_cache_interval must not be negative")
	}

	c.rotation = storage.DefaultRotationConfig()
	if c.MaxTotalSize != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(c.MaxTotalSize)); err != nil {
			return fmt.Errorf("invalid max_total_size %q: %w", c.MaxTotalSize, err)
		}
		c.rotation.MaxTotalSize = size.Bytes()
	}
	if c.MaxRetentionDays < 0 {
		return fmt.Errorf("max_retention_days must not be negative")
	}
	if c.MaxRetentionDays > 0 {
		c.rotation.MaxRetentionDays = c.MaxRetentionDays
	}

	return nil
}

// Rotation returns the validated rotation config.
func (c *Config) Rotation() storage.RotationConfig {
	return c.rotation
}
