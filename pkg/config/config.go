// Package config loads the tasklink YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/tasklink/pkg/logging"
	"github.com/harrisonrobin/tasklink/pkg/metrics"
)

const (
	xdgAppName = "tasklink"
	configFile = "config.yaml"
)

// Links backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Transport kinds.
const (
	TransportSocket   = "socket"
	TransportWebhook  = "webhook"
	TransportTelegram = "telegram"
)

type Config struct {
	Log       logging.Config  `yaml:"log"`
	Parser    ParserConfig    `yaml:"parser"`
	Links     LinksConfig     `yaml:"links"`
	Store     StoreConfig     `yaml:"store"`
	Transport TransportConfig `yaml:"transport"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Metrics   metrics.Config  `yaml:"metrics"`
}

type ParserConfig struct {
	Marker           string `yaml:"marker"`
	Locale           string `yaml:"locale"`
	Timezone         string `yaml:"timezone"`
	LookbackMonths   int    `yaml:"lookback_months"`
	LookaheadMonths  int    `yaml:"lookahead_months"`
	DefaultWorkspace string `yaml:"default_workspace"`
}

type LinksConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

type StoreConfig struct {
	// DefaultList is the Google Tasks list used when no workspace applies.
	DefaultList string        `yaml:"default_list"`
	Timeout     time.Duration `yaml:"timeout"`
}

type TransportConfig struct {
	Kind  string `yaml:"kind"`
	Owner string `yaml:"owner"`

	SocketURL   string `yaml:"socket_url"`
	SocketToken string `yaml:"socket_token"`

	WebhookAddr  string `yaml:"webhook_addr"`
	WebhookPath  string `yaml:"webhook_path"`
	VerifyToken  string `yaml:"verify_token"`
	DedupeWindow int    `yaml:"dedupe_window"`

	TelegramToken string `yaml:"telegram_token"`
}

type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// GetConfigPath returns the config file location. TASKLINK_CONFIG
// overrides it.
func GetConfigPath() (string, error) {
	if p := os.Getenv("TASKLINK_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Dir is the tasklink configuration directory. TASKLINK_HOME overrides it.
func Dir() (string, error) {
	if dir := os.Getenv("TASKLINK_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load reads the config file, applies environment overrides and fills in
// defaults. A missing file is not an error.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes cfg to the config file with owner-only permissions.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"TASKLINK_LOG_LEVEL":     &c.Log.Level,
		"TASKLINK_MARKER":        &c.Parser.Marker,
		"TASKLINK_TIMEZONE":      &c.Parser.Timezone,
		"TASKLINK_LOCALE":        &c.Parser.Locale,
		"TASKLINK_LINKS_BACKEND": &c.Links.Backend,
		"TASKLINK_LINKS_PATH":    &c.Links.Path,
		"REDIS_URL":              &c.Links.RedisURL,
		"TASKLINK_TRANSPORT":     &c.Transport.Kind,
		"TASKLINK_OWNER":         &c.Transport.Owner,
		"TASKLINK_SOCKET_URL":    &c.Transport.SocketURL,
		"TASKLINK_SOCKET_TOKEN":  &c.Transport.SocketToken,
		"TASKLINK_VERIFY_TOKEN":  &c.Transport.VerifyToken,
		"TELEGRAM_TOKEN":         &c.Transport.TelegramToken,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("TASKLINK_METRICS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TASKLINK_METRICS '%s': %w", v, err)
		}
		c.Metrics.Enabled = enabled
	}
	return nil
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	def := logging.DefaultConfig()
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = def.MaxSize
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = def.MaxBackups
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = def.MaxAge
	}

	if c.Parser.Marker == "" {
		c.Parser.Marker = ". "
	}
	if c.Parser.Locale == "" {
		c.Parser.Locale = "en"
	}
	if c.Parser.Timezone == "" {
		c.Parser.Timezone = "Asia/Colombo"
	}
	if c.Parser.LookbackMonths <= 0 {
		c.Parser.LookbackMonths = 2
	}
	if c.Parser.LookaheadMonths <= 0 {
		c.Parser.LookaheadMonths = 4
	}
	if c.Parser.DefaultWorkspace == "" {
		c.Parser.DefaultWorkspace = "Personal"
	}

	if c.Links.Backend == "" {
		c.Links.Backend = BackendFile
	}
	if c.Links.Path == "" {
		if dir, err := Dir(); err == nil {
			name := "links.json"
			if c.Links.Backend == BackendSQLite {
				name = "links.db"
			}
			c.Links.Path = filepath.Join(dir, name)
		}
	}
	if c.Links.RedisKey == "" {
		c.Links.RedisKey = "tasklink:links"
	}

	if c.Store.Timeout <= 0 {
		c.Store.Timeout = 30 * time.Second
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportWebhook
	}
	if c.Transport.WebhookAddr == "" {
		c.Transport.WebhookAddr = ":8080"
	}
	if c.Transport.WebhookPath == "" {
		c.Transport.WebhookPath = "/webhook"
	}
	if c.Transport.DedupeWindow <= 0 {
		c.Transport.DedupeWindow = 10
	}

	if c.Reconnect.Initial <= 0 {
		c.Reconnect.Initial = time.Second
	}
	if c.Reconnect.Max <= 0 {
		c.Reconnect.Max = 30 * time.Second
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Links.Backend {
	case BackendFile, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown links backend '%s'", c.Links.Backend)
	}
	switch c.Transport.Kind {
	case TransportSocket:
		if c.Transport.SocketURL == "" {
			return errors.New("transport socket_url is required for the socket transport")
		}
	case TransportWebhook:
		if c.Transport.Owner == "" {
			return errors.New("transport owner is required for the webhook transport")
		}
	case TransportTelegram:
		if c.Transport.TelegramToken == "" {
			return errors.New("transport telegram_token is required for the telegram transport")
		}
		if c.Transport.Owner == "" {
			return errors.New("transport owner is required for the telegram transport")
		}
	default:
		return fmt.Errorf("unknown transport '%s'", c.Transport.Kind)
	}
	if c.Reconnect.Max < c.Reconnect.Initial {
		return errors.New("reconnect max must not be below initial")
	}
	return nil
}
