package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRelayConfig(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "environment=dev\nlog_level=debug\nopenai_api_key=base-key\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	content := "listen_addr=127.0.0.1:9191\nstore_driver=memory\ndeepseek_api_key=ds-key\nallowed_origins=https://app.example.com, https://staging.example.com\nstream_max_duration=90s\nrelay_url=https://relay.example.com\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "relay.ini"), []byte(content), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}
	os.Setenv("CANDOR_DEEPSEEK_API_KEY", "env-key")
	t.Cleanup(func() { os.Unsetenv("CANDOR_DEEPSEEK_API_KEY") })

	cfg, err := LoadRelayConfig(tmp)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9191" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.OpenAIAPIKey != "base-key" {
		t.Fatalf("expected key from base config, got %s", cfg.OpenAIAPIKey)
	}
	if cfg.DeepSeekAPIKey != "env-key" {
		t.Fatalf("env override not applied, got %s", cfg.DeepSeekAPIKey)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("unexpected store driver %s", cfg.StoreDriver)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins %#v", cfg.AllowedOrigins)
	}
	if cfg.StreamMaxDuration != 90*time.Second {
		t.Fatalf("unexpected stream max duration %s", cfg.StreamMaxDuration)
	}
	if cfg.RelayURL != "https://relay.example.com" {
		t.Fatalf("unexpected relay url %s", cfg.RelayURL)
	}
}

func TestLoadRelayConfigDefaults(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "relay.ini"), []byte(""), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}

	cfg, err := LoadRelayConfig(tmp)
	if err != nil {
		t.Fatalf("LoadRelayConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.ListenAddr != "127.0.0.1:8090" {
		t.Fatalf("expected default listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.StoreDriver != "sqlite" {
		t.Fatalf("expected default store driver sqlite, got %s", cfg.StoreDriver)
	}
	if cfg.StoreDSN != DefaultStorePath() {
		t.Fatalf("expected default store path %s, got %s", DefaultStorePath(), cfg.StoreDSN)
	}
	if cfg.StreamMaxDuration != 0 {
		t.Fatalf("expected unbounded stream duration, got %s", cfg.StreamMaxDuration)
	}
}

func TestLoadRelayConfigInvalidDriver(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "relay.ini"), []byte("store_driver=oracle\n"), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}

	if _, err := LoadRelayConfig(tmp); err == nil {
		t.Fatalf("expected error for invalid store driver")
	}
}

func TestLoadRelayConfigInvalidDuration(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "relay.ini"), []byte("stream_max_duration=soon\n"), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}

	if _, err := LoadRelayConfig(tmp); err == nil {
		t.Fatalf("expected error for invalid stream_max_duration")
	}
}
