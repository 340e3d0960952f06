package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file inside a temp dir and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "app:\n  name: \"TestApp\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Analysis.WindowSize != 50 {
		t.Errorf("window size = %d, want 50", cfg.Analysis.WindowSize)
	}
	if cfg.Stream.SubscribeStagger != 100*time.Millisecond {
		t.Errorf("stagger = %v, want 100ms", cfg.Stream.SubscribeStagger)
	}
	if cfg.Stream.CandleGranularity != 60 || cfg.Stream.CandleCount != 30 {
		t.Errorf("candle defaults = %d/%d", cfg.Stream.CandleGranularity, cfg.Stream.CandleCount)
	}
	if cfg.Classification.ReadyThreshold != 2.5 || cfg.Classification.QuickThreshold != 2.8 {
		t.Errorf("thresholds = %v/%v", cfg.Classification.ReadyThreshold, cfg.Classification.QuickThreshold)
	}
	if cfg.Classification.PublishPolicy != PolicyQuick {
		t.Errorf("publish policy = %s", cfg.Classification.PublishPolicy)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, `app:
  name: digitflow
stream:
  symbols: ["R_10", "BOOM500"]
  subscribe_stagger: 250ms
  reconnect:
    strategy: exponential
    delay: 1s
    max_delay: 30s
    multiplier: 1.5
analysis:
  window_size: 100
classification:
  publish_policy: gated
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Stream.Symbols) != 2 || cfg.Stream.Symbols[1] != "BOOM500" {
		t.Errorf("symbols = %v", cfg.Stream.Symbols)
	}
	if cfg.Stream.SubscribeStagger != 250*time.Millisecond {
		t.Errorf("stagger = %v", cfg.Stream.SubscribeStagger)
	}
	if cfg.Stream.Reconnect.Strategy != ReconnectExponential || cfg.Stream.Reconnect.Multiplier != 1.5 {
		t.Errorf("reconnect = %+v", cfg.Stream.Reconnect)
	}
	if cfg.Analysis.WindowSize != 100 {
		t.Errorf("window size = %d", cfg.Analysis.WindowSize)
	}
	if cfg.Classification.PublishPolicy != PolicyGated {
		t.Errorf("publish policy = %s", cfg.Classification.PublishPolicy)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DIGITFLOW_SYMBOLS", "R_25,JUMP_10")
	t.Setenv("DIGITFLOW_SINKS", "sqlite")
	t.Setenv("DIGITFLOW_SQLITE_PATH", "/tmp/x.db")

	cfg, err := LoadConfig(writeTempConfig(t, "app:\n  name: digitflow\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Stream.Symbols) != 2 || cfg.Stream.Symbols[0] != "R_25" {
		t.Errorf("symbols = %v", cfg.Stream.Symbols)
	}
	if !cfg.SinkEnabled(SinkSQLite) {
		t.Errorf("sqlite sink not enabled: %v", cfg.Publish.Sinks)
	}
	if cfg.Storage.SQLite.Path != "/tmp/x.db" {
		t.Errorf("sqlite path = %s", cfg.Storage.SQLite.Path)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"small window":       func(c *Config) { c.Analysis.WindowSize = 5 },
		"bad policy":         func(c *Config) { c.Classification.PublishPolicy = "sometimes" },
		"bad strategy":       func(c *Config) { c.Stream.Reconnect.Strategy = "random" },
		"unknown sink":       func(c *Config) { c.Publish.Sinks = []string{"firestore"} },
		"kafka no brokers":   func(c *Config) { c.Publish.Sinks = []string{SinkKafka} },
		"s3 without bucket":  func(c *Config) { c.Publish.Sinks = []string{SinkS3}; c.Storage.S3.Region = "eu-west-1" },
		"archive bad bucket": func(c *Config) { c.Archive.Enabled = true; c.Storage.S3.Bucket = "Bad_Bucket"; c.Storage.S3.Region = "eu-west-1" },
		"backoff ceiling": func(c *Config) {
			c.Stream.Reconnect.Strategy = ReconnectExponential
			c.Stream.Reconnect.MaxDelay = time.Millisecond
		},
	}

	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validateConfig(&cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	cfg := Default()
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte("app:\n  name: prod\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := resolveEnvSpecificPath(base, base); got != prod {
		t.Fatalf("resolved %s, want %s", got, prod)
	}
	if got := resolveEnvSpecificPath("other.yml", base); got != "other.yml" {
		t.Fatalf("explicit path rewritten to %s", got)
	}

	t.Setenv("APP_ENV", "staging")
	if got := resolveEnvSpecificPath(base, base); got != base {
		t.Fatalf("missing env file should fall back, got %s", got)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Fatalf("staging should be production-like")
	}
}
