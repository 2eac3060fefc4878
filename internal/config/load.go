package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and the VIDFETCH_*
// environment, env taking precedence. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_grace", 30*time.Second)

	v.SetDefault("logging.log_path", "vidfetch.log")
	v.SetDefault("logging.enable_file_logging", false)
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("auth.api_key", "")

	v.SetDefault("rate_limit.download_per_minute", 10)
	v.SetDefault("rate_limit.formats_per_minute", 30)

	v.SetDefault("paths.artifact_dir", "downloads")
	v.SetDefault("paths.ytdlp_path", "yt-dlp")
	v.SetDefault("paths.ffmpeg_path", "ffmpeg")

	v.SetDefault("backends", []string{"ytdlp", "progressive"})

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.max_age", 24*time.Hour)
	v.SetDefault("retention.max_bytes", int64(10<<30))
	v.SetDefault("retention.safety_margin", 2*time.Minute)

	v.SetDefault("storage.supabase.url", "")
	v.SetDefault("storage.supabase.key", "")
	v.SetDefault("storage.supabase.bucket", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")

	v.SetEnvPrefix("VIDFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
