package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "ALETHEIA"

// DefaultPath is where the settings file lives unless ALETHEIA_CONFIG says otherwise.
const DefaultPath = "~/.aletheia/config.yaml"

// Config holds the settings of the data cache. Values are layered: defaults, then the
// YAML settings file, then environment variables prefixed with ALETHEIA_.
type Config struct {
	CacheDir    string            `yaml:"cache_dir" envconfig:"CACHE_DIR"`
	BaseURL     string            `yaml:"base_url" envconfig:"BASE_URL"`
	Version     string            `yaml:"version" envconfig:"VERSION"`
	VersionDev  string            `yaml:"version_dev" envconfig:"VERSION_DEV"`
	EnvOverride string            `yaml:"env_override" envconfig:"ENV_OVERRIDE"`
	Algorithm   string            `yaml:"algorithm" envconfig:"ALGORITHM"`
	Registry    map[string]string `yaml:"registry,omitempty" ignored:"true"`
	URLs        map[string]string `yaml:"urls,omitempty" ignored:"true"`

	RegistryFile string `yaml:"registry_file,omitempty" envconfig:"REGISTRY_FILE"`

	MaxParallel       int           `yaml:"max_parallel" envconfig:"MAX_PARALLEL"`
	DBPath            string        `yaml:"db_path" envconfig:"DB_PATH"`
	DiscordWebhookURL string        `yaml:"discord_webhook_url,omitempty" envconfig:"DISCORD_WEBHOOK_URL"`
	KeepTempFor       time.Duration `yaml:"keep_temp_for" envconfig:"KEEP_TEMP_FOR"`
	KeepHistoryFor    time.Duration `yaml:"keep_history_for" envconfig:"KEEP_HISTORY_FOR"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" envconfig:"CLEANUP_INTERVAL"`

	HTTP struct {
		Timeout   time.Duration `yaml:"timeout" split_words:"true"`
		ChunkSize int           `yaml:"chunk_size" split_words:"true"`
	} `yaml:"http"`

	FTP struct {
		Timeout  time.Duration `yaml:"timeout" split_words:"true"`
		Username string        `yaml:"username,omitempty" split_words:"true"`
		Password string        `yaml:"password,omitempty" split_words:"true"`
	} `yaml:"ftp"`

	Logging struct {
		Level      string `yaml:"level" split_words:"true"`
		File       string `yaml:"file,omitempty" split_words:"true"`
		MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB"`
		MaxBackups int    `yaml:"max_backups" split_words:"true"`
		Compress   bool   `yaml:"compress" split_words:"true"`
	} `yaml:"logging"`

	Telemetry struct {
		Enabled      bool   `yaml:"enabled" split_words:"true"`
		OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" envconfig:"OTLP_ENDPOINT"`
	} `yaml:"telemetry"`

	Web struct {
		BindAddress     string        `yaml:"bind_address" split_words:"true"`
		ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
		WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
		IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
		Username        string        `yaml:"username,omitempty" split_words:"true"`
		Password        string        `yaml:"password,omitempty" split_words:"true"`
	} `yaml:"web"`

	// Path is the settings file the values were read from.
	Path string `yaml:"-" ignored:"true"`

	// Warnings collects non-fatal problems found while loading, such as a malformed
	// settings file. They are reported once a logger exists.
	Warnings []error `yaml:"-" ignored:"true"`
}

// Default returns the built-in settings.
func Default() *Config {
	cfg := &Config{
		CacheDir:        "~/.aletheia/data",
		EnvOverride:     "ALETHEIA_DATA_DIR",
		VersionDev:      "main",
		Algorithm:       "sha256",
		MaxParallel:     4,
		DBPath:          "~/.aletheia/fetches.db",
		KeepTempFor:     24 * time.Hour,
		KeepHistoryFor:  30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}

	cfg.HTTP.Timeout = 60 * time.Second
	cfg.HTTP.ChunkSize = 1024
	cfg.FTP.Timeout = 30 * time.Second
	cfg.Logging.Level = "INFO"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 3
	cfg.Telemetry.Enabled = true
	cfg.Web.BindAddress = "127.0.0.1:9092"
	cfg.Web.ReadTimeout = 30 * time.Second
	cfg.Web.WriteTimeout = 5 * time.Minute
	cfg.Web.IdleTimeout = 5 * time.Second
	cfg.Web.ShutdownTimeout = 30 * time.Second

	return cfg
}

// LoadConfig reads the settings file named by ALETHEIA_CONFIG (or DefaultPath) and
// applies environment variables on top.
func LoadConfig() (*Config, error) {
	path := os.Getenv(EnvPrefix + "_CONFIG")
	if path == "" {
		path = DefaultPath
	}

	return LoadFrom(path)
}

// LoadFrom is LoadConfig with an explicit settings file path. A missing file is not an
// error; a malformed one is recorded in Warnings and ignored.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}

	cfg.Path = expanded

	if err := cfg.readFile(expanded); err != nil {
		cfg.Warnings = append(cfg.Warnings, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	// Decode into a copy so a half-parsed document never leaks into the defaults.
	next := *c
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("ignoring malformed settings file %s: %w", path, err)
	}

	*c = next

	return nil
}

// SaveConfig writes the settings as YAML to path, creating parent directories.
func SaveConfig(path string, cfg *Config) error {
	expanded, err := ExpandHome(path)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
