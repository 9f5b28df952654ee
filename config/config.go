package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Default option values.
const (
	DefaultName            = "default"
	DefaultBaseURL         = "https://chat.openai.com"
	DefaultModel           = "text-davinci-002-render-sha"
	DefaultSaveInterval    = time.Minute
	DefaultRequestTimeout  = 5 * time.Minute
	DefaultRefreshInterval = 500 * time.Millisecond
	DefaultRefreshMargin   = 2 * time.Minute
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultSweepInterval   = time.Minute
	DefaultLogLevel        = "info"
)

// Config holds the options of a client instance.
type Config struct {
	// --- Identity ---

	// Name identifies the instance. The snapshot file is named after it.
	Name string `json:"name" yaml:"name" toml:"name"`

	// --- Backend ---

	// BaseURL is the backend root, e.g. "https://chat.openai.com".
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`

	// Model is sent with every exchange.
	Model string `json:"model" yaml:"model" toml:"model"`

	// RequestTimeout bounds each HTTP call, including reading a stream.
	// 0 means no timeout.
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`

	// StrictStream fails an exchange when a streamed record does not
	// extend the previous one instead of emitting a best-effort delta.
	StrictStream bool `json:"strict_stream" yaml:"strict_stream" toml:"strict_stream"`

	// --- Session ---

	// RefreshInterval is how often the access token is re-checked.
	RefreshInterval Duration `json:"refresh_interval" yaml:"refresh_interval" toml:"refresh_interval"`

	// RefreshMargin refreshes the token this long before it expires.
	RefreshMargin Duration `json:"refresh_margin" yaml:"refresh_margin" toml:"refresh_margin"`

	// SecretFile, when set, is watched for a rotated session secret.
	SecretFile string `json:"secret_file" yaml:"secret_file" toml:"secret_file"`

	// --- Conversations ---

	// IdleTimeout drops threads untouched for longer than this.
	IdleTimeout Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`

	// SweepInterval is how often idle threads are dropped.
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval" toml:"sweep_interval"`

	// --- Persistence ---

	// ConfigsDir holds snapshot files. Empty disables persistence.
	ConfigsDir string `json:"configs_dir" yaml:"configs_dir" toml:"configs_dir"`

	// SaveInterval is how often a snapshot is written. 0 saves only on close.
	SaveInterval Duration `json:"save_interval" yaml:"save_interval" toml:"save_interval"`

	// SnapshotPassphrase encrypts the snapshot when non-empty.
	SnapshotPassphrase string `json:"snapshot_passphrase" yaml:"snapshot_passphrase" toml:"snapshot_passphrase"`

	// --- Logging ---

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Default returns a Config with every option at its default.
func Default() Config {
	return Config{
		Name:            DefaultName,
		BaseURL:         DefaultBaseURL,
		Model:           DefaultModel,
		RequestTimeout:  Duration(DefaultRequestTimeout),
		RefreshInterval: Duration(DefaultRefreshInterval),
		RefreshMargin:   Duration(DefaultRefreshMargin),
		IdleTimeout:     Duration(DefaultIdleTimeout),
		SweepInterval:   Duration(DefaultSweepInterval),
		ConfigsDir:      DefaultConfigsDir(),
		SaveInterval:    Duration(DefaultSaveInterval),
		LogLevel:        DefaultLogLevel,
	}
}

// DefaultConfigsDir returns the per-user directory for snapshot files,
// falling back to ./configs.
func DefaultConfigsDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "configs"
	}
	return filepath.Join(dir, "gptkit")
}

// LoadFile reads path over the defaults. The format is chosen by
// extension.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv overrides fields from GPTKIT_ environment variables.
// Unparseable values are ignored.
//
// Supported variables:
//   - GPTKIT_NAME
//   - GPTKIT_BASE_URL
//   - GPTKIT_MODEL
//   - GPTKIT_REQUEST_TIMEOUT (e.g. "2m")
//   - GPTKIT_STRICT_STREAM (bool)
//   - GPTKIT_SECRET_FILE
//   - GPTKIT_CONFIGS_DIR
//   - GPTKIT_SAVE_INTERVAL
//   - GPTKIT_SNAPSHOT_PASSPHRASE
//   - GPTKIT_LOG_LEVEL
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("GPTKIT_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("GPTKIT_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("GPTKIT_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("GPTKIT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = Duration(d)
		}
	}
	if v := os.Getenv("GPTKIT_STRICT_STREAM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.StrictStream = b
		}
	}
	if v := os.Getenv("GPTKIT_SECRET_FILE"); v != "" {
		c.SecretFile = v
	}
	if v := os.Getenv("GPTKIT_CONFIGS_DIR"); v != "" {
		c.ConfigsDir = v
	}
	if v := os.Getenv("GPTKIT_SAVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SaveInterval = Duration(d)
		}
	}
	if v := os.Getenv("GPTKIT_SNAPSHOT_PASSPHRASE"); v != "" {
		c.SnapshotPassphrase = v
	}
	if v := os.Getenv("GPTKIT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// FromEnv creates a Config from defaults and the environment.
func FromEnv() Config {
	cfg := Default()
	cfg.LoadFromEnv()
	return cfg
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
		return fmt.Errorf("name must be a plain file name, got %q", c.Name)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be > 0, got %v", c.RefreshInterval)
	}
	for name, d := range map[string]Duration{
		"request_timeout": c.RequestTimeout,
		"refresh_margin":  c.RefreshMargin,
		"idle_timeout":    c.IdleTimeout,
		"sweep_interval":  c.SweepInterval,
		"save_interval":   c.SaveInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0, got %v", name, d)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// WithBaseURL returns a copy of the config with the given backend root.
func (c Config) WithBaseURL(baseURL string) Config {
	c.BaseURL = baseURL
	return c
}

// WithName returns a copy of the config with the given instance name.
func (c Config) WithName(name string) Config {
	c.Name = name
	return c
}
