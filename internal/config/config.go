// Package config defines the process-wide configuration. It is constructed
// once at startup (cmd/main.go loads it through viper) and passed by
// reference into each component; nothing mutates it afterwards.
package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Backends  []string        `mapstructure:"backends"`
	Retention RetentionConfig `mapstructure:"retention"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LoggingConfig struct {
	LogPath           string `mapstructure:"log_path"`
	EnableFileLogging bool   `mapstructure:"enable_file_logging"`
	MaxSizeMB         int    `mapstructure:"max_size_mb"`
	MaxBackups        int    `mapstructure:"max_backups"`
}

type AuthConfig struct {
	// APIKey is the static shared secret expected in X-API-Key. Empty
	// disables authentication.
	APIKey string `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	// DownloadPerMinute / FormatsPerMinute are per-route token refill rates.
	DownloadPerMinute int `mapstructure:"download_per_minute"`
	FormatsPerMinute  int `mapstructure:"formats_per_minute"`
}

type PathsConfig struct {
	// ArtifactDir is the local artifact directory the orchestrator writes to
	// and the retention engine sweeps.
	ArtifactDir string `mapstructure:"artifact_dir"`
	YtdlpPath   string `mapstructure:"ytdlp_path"`
	FfmpegPath  string `mapstructure:"ffmpeg_path"`
}

type RetentionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
}

type StorageConfig struct {
	Supabase SupabaseConfig `mapstructure:"supabase"`
	S3       S3Config       `mapstructure:"s3"`
}

type SupabaseConfig struct {
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
	Bucket string `mapstructure:"bucket"`
}

type S3Config struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Paths.ArtifactDir == "" {
		return errors.New("paths.artifact_dir is required")
	}
	if len(c.Backends) == 0 {
		return errors.New("at least one backend must be configured")
	}
	for _, b := range c.Backends {
		if b != "ytdlp" && b != "progressive" {
			return fmt.Errorf("unknown backend %q", b)
		}
	}
	if c.Retention.Enabled {
		if c.Retention.Interval <= 0 {
			return errors.New("retention.interval must be positive")
		}
		if c.Retention.MaxAge <= 0 && c.Retention.MaxBytes <= 0 {
			return errors.New("retention needs a max_age or max_bytes budget")
		}
	}
	return nil
}
