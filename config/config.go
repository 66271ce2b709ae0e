// Package config loads toolpilot.yaml.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/toolpilot/calllog"
	tpotel "github.com/petal-labs/toolpilot/otel"
	"github.com/petal-labs/toolpilot/webhook"
)

const (
	projectConfigName = "toolpilot.yaml"
	homeConfigDir     = ".toolpilot"
	homeConfigName    = "config.yaml"
)

// EnvSQLitePath overrides storage.sqlite_path when set.
const EnvSQLitePath = "TOOLPILOT_SQLITE_PATH"

// Config is the full toolpilot.yaml shape.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	CORSOrigin   string        `yaml:"cors_origin"`
	MaxBody      int64         `yaml:"max_body"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StorageConfig configures the call log.
type StorageConfig struct {
	// SQLitePath is a file path or DSN. Empty means ~/.toolpilot/toolpilot.db.
	SQLitePath    string          `yaml:"sqlite_path"`
	Retention     RetentionConfig `yaml:"retention"`
	PruneSchedule string          `yaml:"prune_schedule"`
}

// RetentionConfig bounds the call log.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	MaxCount int           `yaml:"max_count"`
}

// Policy converts the config into a calllog retention.
func (r RetentionConfig) Policy() calllog.Retention {
	return calllog.Retention{MaxAge: r.MaxAge, MaxCount: r.MaxCount}
}

// ResolveSQLitePath returns the configured path or the default location.
func (s StorageConfig) ResolveSQLitePath() (string, error) {
	if p := strings.TrimSpace(s.SQLitePath); p != "" {
		return p, nil
	}
	return calllog.DefaultSQLitePath()
}

// AuthConfig lists accepted credentials. Empty lists accept any presented
// credential.
type AuthConfig struct {
	APIKeys      []string `yaml:"api_keys"`
	BearerTokens []string `yaml:"bearer_tokens"`
}

// WebhookConfig declares a hook that is registered at server start.
type WebhookConfig struct {
	URL     string `yaml:"url"`
	Tool    string `yaml:"tool,omitempty"`
	Secret  string `yaml:"secret,omitempty"`
	Retries int    `yaml:"retries,omitempty"`
}

// Hook converts the declaration into a webhook.Hook.
func (w WebhookConfig) Hook() webhook.Hook {
	return webhook.Hook{URL: w.URL, Tool: w.Tool, Secret: w.Secret, Retries: w.Retries}
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	Tracing tpotel.TracingConfig `yaml:"tracing"`
	Metrics tpotel.MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			CORSOrigin:   "*",
			MaxBody:      1 << 20,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			PruneSchedule: calllog.DefaultPruneSchedule,
		},
		Telemetry: TelemetryConfig{
			Tracing: tpotel.TracingConfig{SampleRate: 1},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports every problem in c.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBody <= 0 {
		errs = append(errs, errors.New("server.max_body must be positive"))
	}
	if c.Storage.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("storage.retention.max_age must not be negative"))
	}
	if c.Storage.Retention.MaxCount < 0 {
		errs = append(errs, errors.New("storage.retention.max_count must not be negative"))
	}
	if _, err := calllog.ParseSchedule(c.Storage.PruneSchedule); err != nil {
		errs = append(errs, fmt.Errorf("storage.prune_schedule: %w", err))
	}
	for i, w := range c.Webhooks {
		if _, err := w.Hook().Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("webhooks[%d]: %w", i, err))
		}
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate %v must be within [0, 1]", r))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Discover resolves the config location with first-match semantics:
// explicitPath, ./toolpilot.yaml, ~/.toolpilot/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads path over Default, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if clean := strings.TrimSpace(path); clean != "" {
		// #nosec G304 -- path resolved from explicit local config discovery.
		data, err := os.ReadFile(clean)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", clean, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", clean, err)
		}
	}

	if p := strings.TrimSpace(os.Getenv(EnvSQLitePath)); p != "" {
		cfg.Storage.SQLitePath = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDiscovered discovers and loads the config. It returns the path that
// was loaded, or "" when defaults were used.
func LoadDiscovered(explicitPath string) (Config, string, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	if !found {
		path = ""
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}
