package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Overlap policies for scheduler ticks.
const (
	OverlapSkip  = "skip"
	OverlapAllow = "allow"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address           string   `yaml:"address"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// ProbeConfig tunes outbound reachability probes.
type ProbeConfig struct {
	Timeout      Duration `yaml:"timeout"`
	MaxRedirects int      `yaml:"max_redirects"`
	UserAgent    string   `yaml:"user_agent"`
}

// SchedulerConfig controls the periodic re-check of default endpoints.
type SchedulerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Interval     Duration `yaml:"interval"`
	Concurrency  int      `yaml:"concurrency"`
	Overlap      string   `yaml:"overlap"`
	Retries      int      `yaml:"retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	RunOnStart   bool     `yaml:"run_on_start"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ArchiveConfig points at an S3-compatible bucket for history exports.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LogConfig controls the zap logger and its rotating file sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// SeedConfig toggles insertion of the default categories and applications.
type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Probe     ProbeConfig     `yaml:"probe"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
	Seed      SeedConfig      `yaml:"seed"`
}

// DefaultJWTSecret is used when no secret is configured. serve warns about it.
const DefaultJWTSecret = "dev-secret"

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadHeaderTimeout: Duration{5 * time.Second},
			ShutdownTimeout:   Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "reachprobe.db",
		},
		Probe: ProbeConfig{
			Timeout:      Duration{8 * time.Second},
			MaxRedirects: 10,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Interval:     Duration{15 * time.Minute},
			Concurrency:  8,
			Overlap:      OverlapSkip,
			RetryBackoff: Duration{2 * time.Second},
			RunOnStart:   true,
		},
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  Duration{7 * 24 * time.Hour},
		},
		Alerts: AlertsConfig{
			Webhook: WebhookConfig{Cooldown: Duration{5 * time.Minute}},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Seed: SeedConfig{Enabled: true},
	}
}

// Load reads, parses, and validates the config file at path.
// Keys missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist. Used when the --config flag was left at its default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return finish(Default())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	applyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("REACHPROBE_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := getenv("REACHPROBE_DATABASE_URL"); v != "" {
		cfg.Storage.Driver = DriverPostgres
		cfg.Storage.DSN = v
	}
	if v := getenv("REACHPROBE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := getenv("REACHPROBE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Address == "" {
		add("server.address is required")
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			add("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			add("storage.dsn is required for the postgres driver")
		}
	default:
		add("storage.driver: invalid driver %q (must be sqlite or postgres)", c.Storage.Driver)
	}

	if c.Probe.Timeout.Duration <= 0 {
		add("probe.timeout must be positive")
	}
	if c.Probe.MaxRedirects < 0 {
		add("probe.max_redirects must not be negative")
	}

	if c.Scheduler.Interval.Duration <= 0 {
		add("scheduler.interval must be positive")
	}
	if c.Scheduler.Concurrency < 1 {
		add("scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.Overlap != OverlapSkip && c.Scheduler.Overlap != OverlapAllow {
		add("scheduler.overlap: invalid policy %q (must be skip or allow)", c.Scheduler.Overlap)
	}
	if c.Scheduler.Retries < 0 {
		add("scheduler.retries must not be negative")
	}

	if c.Auth.JWTSecret == "" {
		add("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		add("auth.token_ttl must be positive")
	}

	if c.Archive.Endpoint != "" && c.Archive.Bucket == "" {
		add("archive.bucket is required when archive.endpoint is set")
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level: invalid level %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format: invalid format %q (must be json or console)", c.Log.Format)
	}

	return errs
}
