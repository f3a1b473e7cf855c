// Package config loads server settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"wallandshadow.io/internal/maps/policy"
)

// EnvPrefix prefixes every environment override, e.g. WS_SERVER_ADDR.
const EnvPrefix = "WS_"

type Config struct {
	Server ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Log    LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Feed   FeedConfig    `yaml:"feed" envPrefix:"FEED_"`
	Backup BackupConfig  `yaml:"backup" envPrefix:"BACKUP_"`
	Policy policy.Policy `yaml:"policy"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" env:"ADDR"`
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	// ConsolidateEvery is how often dirty maps are consolidated; zero turns
	// background consolidation off.
	ConsolidateEvery time.Duration `yaml:"consolidate_every" env:"CONSOLIDATE_EVERY"`
	Journal          bool          `yaml:"journal" env:"JOURNAL"`
}

type FeedConfig struct {
	MaxQueue     int           `yaml:"max_queue" env:"MAX_QUEUE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	MapCacheTTL  time.Duration `yaml:"map_cache_ttl" env:"MAP_CACHE_TTL"`
}

// BackupConfig points the backup mirror at an S3-compatible bucket. Leaving
// Endpoint empty turns backups off.
type BackupConfig struct {
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	Workers         int    `yaml:"workers" env:"WORKERS"`
}

func (b BackupConfig) Enabled() bool { return b.Endpoint != "" }

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			DataDir:          "./data",
			ConsolidateEvery: time.Minute,
			Journal:          true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Feed: FeedConfig{
			MaxQueue:     64,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			MapCacheTTL:  30 * time.Second,
		},
		Backup: BackupConfig{
			Prefix:  "maps",
			Workers: 2,
		},
		Policy: policy.Default(),
	}
}

// Load applies, in order: defaults, the YAML file at path (skipped when path
// is empty or the file does not exist), and WS_* environment variables.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return c, err
		default:
			if err := yaml.Unmarshal(raw, &c); err != nil {
				return c, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	c.Normalize()
	return c, c.Validate()
}

func (c *Config) Normalize() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.DataDir = strings.TrimSpace(c.Server.DataDir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Feed.MaxQueue <= 0 {
		c.Feed.MaxQueue = 64
	}
	if c.Feed.MaxQueue > 1024 {
		c.Feed.MaxQueue = 1024
	}
	c.Backup.Endpoint = strings.TrimSpace(c.Backup.Endpoint)
	if c.Backup.Workers <= 0 {
		c.Backup.Workers = 1
	}
	if len(c.Policy.Levels) == 0 {
		c.Policy = policy.Default()
	}
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.DataDir == "" {
		return errors.New("server.data_dir is required")
	}
	if c.Server.ConsolidateEvery < 0 {
		return errors.New("server.consolidate_every must be >= 0")
	}
	if c.Backup.Enabled() && (c.Backup.Bucket == "" || c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "") {
		return errors.New("backup.bucket, backup.access_key_id and backup.secret_access_key are required when backup.endpoint is set")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Policy.Validate()
}
