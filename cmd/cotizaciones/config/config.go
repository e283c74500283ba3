package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COTIZACIONES_"

// Config holds the cotizaciones service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	BasePath     string `toml:"base_path"`
	StaffToken   string `toml:"staff_token"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	// ShutdownTimeout is in seconds.
	ShutdownTimeout int `toml:"shutdown_timeout"`
}

// DatabaseConfig holds the tracker database settings.
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// SnapshotConfig holds rasterizer and archive settings.
type SnapshotConfig struct {
	Engine      string   `toml:"engine"`
	BrowserPath string   `toml:"browser_path"`
	RemoteURL   string   `toml:"remote_url"`
	Headless    bool     `toml:"headless"`
	NoSandbox   bool     `toml:"no_sandbox"`
	Stealth     bool     `toml:"stealth"`
	Args        []string `toml:"args"`
	// Timeout is in seconds.
	Timeout       int    `toml:"timeout"`
	Archive       bool   `toml:"archive"`
	ArtifactDir   string `toml:"artifact_dir"`
	ArchivePrefix string `toml:"archive_prefix"`
	BaseURL       string `toml:"base_url"`
	Sanitize      bool   `toml:"sanitize"`
	// RetentionHours removes records and artifacts older than this;
	// zero keeps them forever.
	RetentionHours int `toml:"retention_hours"`
	// WebhookURL receives a notification per completed download.
	WebhookURL         string `toml:"webhook_url"`
	WebhookToken       string `toml:"webhook_token"`
	WebhookIncludeData bool   `toml:"webhook_include_data"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Engine names.
const (
	EngineChromium = "chromium"
	EngineRod      = "rod"
)

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            "8080",
			BasePath:        "/snapshots",
			MaxBodyBytes:    8 << 20,
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			DSN: "file:cotizaciones.db?cache=shared",
		},
		Snapshot: SnapshotConfig{
			Engine:        EngineChromium,
			Headless:      true,
			Timeout:       30,
			Archive:       true,
			ArtifactDir:   "./artifacts",
			ArchivePrefix: "cotizaciones",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load starts from Defaults, decodes the optional TOML file at path and
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from COTIZACIONES_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	get := func(name string) (string, bool) {
		value, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	strs := map[string]*string{
		"HOST":           &c.Server.Host,
		"PORT":           &c.Server.Port,
		"BASE_PATH":      &c.Server.BasePath,
		"STAFF_TOKEN":    &c.Server.StaffToken,
		"DATABASE_DSN":   &c.Database.DSN,
		"ENGINE":         &c.Snapshot.Engine,
		"BROWSER_PATH":   &c.Snapshot.BrowserPath,
		"REMOTE_URL":     &c.Snapshot.RemoteURL,
		"ARTIFACT_DIR":   &c.Snapshot.ArtifactDir,
		"ARCHIVE_PREFIX": &c.Snapshot.ArchivePrefix,
		"BASE_URL":       &c.Snapshot.BaseURL,
		"WEBHOOK_URL":    &c.Snapshot.WebhookURL,
		"WEBHOOK_TOKEN":  &c.Snapshot.WebhookToken,
		"LOG_LEVEL":      &c.Log.Level,
	}
	for name, target := range strs {
		if value, ok := get(name); ok {
			*target = value
		}
	}

	bools := map[string]*bool{
		"HEADLESS":             &c.Snapshot.Headless,
		"NO_SANDBOX":           &c.Snapshot.NoSandbox,
		"STEALTH":              &c.Snapshot.Stealth,
		"ARCHIVE":              &c.Snapshot.Archive,
		"SANITIZE":             &c.Snapshot.Sanitize,
		"WEBHOOK_INCLUDE_DATA": &c.Snapshot.WebhookIncludeData,
	}
	for name, target := range bools {
		value, ok := get(name)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*target = parsed
	}

	ints := map[string]*int{
		"TIMEOUT":          &c.Snapshot.Timeout,
		"SHUTDOWN_TIMEOUT": &c.Server.ShutdownTimeout,
		"RETENTION_HOURS":  &c.Snapshot.RetentionHours,
	}
	for name, target := range ints {
		value, ok := get(name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*target = parsed
	}

	if value, ok := get("MAX_BODY_BYTES"); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		c.Server.MaxBodyBytes = parsed
	}
	if value, ok := get("BROWSER_ARGS"); ok {
		c.Snapshot.Args = splitCSV(value)
	}
	return nil
}

// Validate checks values that would otherwise fail at startup.
func (c Config) Validate() error {
	switch strings.ToLower(c.Snapshot.Engine) {
	case EngineChromium, EngineRod:
	default:
		return fmt.Errorf("snapshot engine %q: must be %s or %s", c.Snapshot.Engine, EngineChromium, EngineRod)
	}
	if c.Snapshot.Timeout < 0 {
		return fmt.Errorf("snapshot timeout must not be negative")
	}
	if c.Snapshot.RetentionHours < 0 {
		return fmt.Errorf("snapshot retention_hours must not be negative")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Snapshot.Archive && c.Snapshot.ArtifactDir == "" {
		return fmt.Errorf("snapshot artifact_dir is required when archive is enabled")
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// RasterTimeout returns the per-snapshot timeout.
func (s SnapshotConfig) RasterTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Retention returns how long snapshots are kept.
func (s SnapshotConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

// ShutdownWait returns the graceful shutdown budget.
func (s ServerConfig) ShutdownWait() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.ShutdownTimeout) * time.Second
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
