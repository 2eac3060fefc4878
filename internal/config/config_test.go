package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server defaults = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if len(cfg.Backends) != 2 || cfg.Backends[0] != "ytdlp" || cfg.Backends[1] != "progressive" {
		t.Errorf("backend defaults = %v", cfg.Backends)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Interval != time.Hour {
		t.Errorf("retention defaults = %+v", cfg.Retention)
	}
	if cfg.RateLimit.DownloadPerMinute != 10 || cfg.RateLimit.FormatsPerMinute != 30 {
		t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VIDFETCH_SERVER_PORT", "9999")
	t.Setenv("VIDFETCH_AUTH_API_KEY", "sekrit")
	t.Setenv("VIDFETCH_PATHS_ARTIFACT_DIR", "/tmp/artifacts")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "sekrit" {
		t.Errorf("api key = %q", cfg.Auth.APIKey)
	}
	if cfg.Paths.ArtifactDir != "/tmp/artifacts" {
		t.Errorf("artifact dir = %q", cfg.Paths.ArtifactDir)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vidfetch.yaml")
	content := []byte("server:\n  port: 7070\nbackends:\n  - ytdlp\nretention:\n  enabled: false\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0] != "ytdlp" {
		t.Errorf("backends = %v", cfg.Backends)
	}
	if cfg.Retention.Enabled {
		t.Error("retention should be disabled by the file")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cases := map[string]func(*Config){
		"bad port":            func(c *Config) { c.Server.Port = 0 },
		"no artifact dir":     func(c *Config) { c.Paths.ArtifactDir = "" },
		"no backends":         func(c *Config) { c.Backends = nil },
		"unknown backend":     func(c *Config) { c.Backends = []string{"aria2"} },
		"retention no budget": func(c *Config) { c.Retention.MaxAge = 0; c.Retention.MaxBytes = 0 },
		"retention bad tick":  func(c *Config) { c.Retention.Interval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
