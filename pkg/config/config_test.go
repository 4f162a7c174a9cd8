package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKLINK_HOME", dir)
	t.Setenv("TASKLINK_CONFIG", "")
	for _, key := range []string{"REDIS_URL", "TELEGRAM_TOKEN", "TASKLINK_TRANSPORT", "TASKLINK_OWNER", "TASKLINK_METRICS", "TASKLINK_VERIFY_TOKEN"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := setHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Parser.Marker != ". " {
		t.Errorf("Expected marker '. ', got %q", cfg.Parser.Marker)
	}
	if cfg.Parser.Timezone != "Asia/Colombo" || cfg.Parser.Locale != "en" {
		t.Errorf("unexpected parser defaults: %+v", cfg.Parser)
	}
	if cfg.Parser.LookbackMonths != 2 || cfg.Parser.LookaheadMonths != 4 {
		t.Errorf("unexpected window defaults: %+v", cfg.Parser)
	}
	if cfg.Parser.DefaultWorkspace != "Personal" {
		t.Errorf("Expected default workspace Personal, got %s", cfg.Parser.DefaultWorkspace)
	}
	if cfg.Links.Backend != BackendFile || cfg.Links.Path != filepath.Join(dir, "links.json") {
		t.Errorf("unexpected links defaults: %+v", cfg.Links)
	}
	if cfg.Transport.DedupeWindow != 10 || cfg.Transport.WebhookPath != "/webhook" || cfg.Transport.WebhookAddr != ":8080" {
		t.Errorf("unexpected transport defaults: %+v", cfg.Transport)
	}
	if cfg.Store.Timeout != 30*time.Second {
		t.Errorf("Expected 30s store timeout, got %v", cfg.Store.Timeout)
	}
	if cfg.Reconnect.Initial != time.Second || cfg.Reconnect.Max != 30*time.Second {
		t.Errorf("unexpected reconnect defaults: %+v", cfg.Reconnect)
	}
}

func TestLoadFile(t *testing.T) {
	dir := setHome(t)
	yml := `
parser:
  marker: "todo "
  timezone: Europe/London
  locale: en-GB
links:
  backend: sqlite
store:
  default_list: Inbox
  timeout: 5s
transport:
  kind: telegram
  owner: "42"
  telegram_token: abc
reconnect:
  initial: 2s
  max: 1m
metrics:
  enabled: true
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Parser.Marker != "todo " || cfg.Parser.Timezone != "Europe/London" || cfg.Parser.Locale != "en-GB" {
		t.Errorf("unexpected parser config: %+v", cfg.Parser)
	}
	if cfg.Links.Path != filepath.Join(dir, "links.db") {
		t.Errorf("Expected sqlite default path, got %s", cfg.Links.Path)
	}
	if cfg.Store.DefaultList != "Inbox" || cfg.Store.Timeout != 5*time.Second {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Reconnect.Initial != 2*time.Second || cfg.Reconnect.Max != time.Minute {
		t.Errorf("unexpected reconnect config: %+v", cfg.Reconnect)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := setHome(t)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("parser: [nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestEnvOverrides(t *testing.T) {
	setHome(t)
	t.Setenv("TASKLINK_TRANSPORT", "socket")
	t.Setenv("TASKLINK_SOCKET_URL", "ws://localhost:3000/ws")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("TASKLINK_METRICS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport.Kind != TransportSocket || cfg.Transport.SocketURL != "ws://localhost:3000/ws" {
		t.Errorf("unexpected transport: %+v", cfg.Transport)
	}
	if cfg.Links.RedisURL != "redis://cache:6379/1" {
		t.Errorf("Expected redis url from env, got %s", cfg.Links.RedisURL)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled from env")
	}

	t.Setenv("TASKLINK_METRICS", "maybe")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid TASKLINK_METRICS")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := setHome(t)
	cfg := Default()
	cfg.Store.DefaultList = "Inbox"
	cfg.Transport.Owner = "94771234567"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Store.DefaultList != "Inbox" || loaded.Transport.Owner != "94771234567" {
		t.Errorf("Expected saved values, got %+v / %+v", loaded.Store, loaded.Transport)
	}
	if loaded.Store.Timeout != 30*time.Second {
		t.Errorf("Expected durations to survive a round trip, got %v", loaded.Store.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"webhook with owner", func(c *Config) { c.Transport.Owner = "1" }, false},
		{"webhook without owner", func(c *Config) {}, true},
		{"socket without url", func(c *Config) { c.Transport.Kind = TransportSocket }, true},
		{"telegram without token", func(c *Config) { c.Transport.Kind = TransportTelegram; c.Transport.Owner = "1" }, true},
		{"unknown backend", func(c *Config) { c.Transport.Owner = "1"; c.Links.Backend = "etcd" }, true},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "pigeon" }, true},
		{"backoff inverted", func(c *Config) { c.Transport.Owner = "1"; c.Reconnect.Max = time.Millisecond }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setHome(t)
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
