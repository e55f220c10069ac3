// Package config provides configuration loading for devloop.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is devloop's full configuration tree.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Provider ProviderConfig `koanf:"provider"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig configures the HTTP approval surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "mysql".
	Driver string `koanf:"driver"`

	// DSN is the database path for sqlite or the connection string for
	// mysql. Ignored for memory.
	DSN string `koanf:"dsn"`
}

// ProviderConfig selects the LLM backend for runs.
type ProviderConfig struct {
	// Name is one of "anthropic", "openai", "google", "groq", "mock".
	Name string `koanf:"name"`

	// Model is the provider's model identifier; empty picks the adapter's
	// default.
	Model string `koanf:"model"`

	// APIKey may reference an environment variable with the ${VAR} form.
	APIKey string `koanf:"api_key"`
}

// WorkflowConfig tunes pipeline execution.
type WorkflowConfig struct {
	// GateAttempts caps feedback rounds per approval gate.
	GateAttempts int `koanf:"gate_attempts"`

	// MaxSteps caps total node executions per run.
	MaxSteps int `koanf:"max_steps"`

	// Retries is the per-node retry budget for transient LLM failures.
	Retries int `koanf:"retries"`

	// NodeTimeout bounds a single node execution.
	NodeTimeout time.Duration `koanf:"node_timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `koanf:"level"`

	// Development switches to zap's development encoder.
	Development bool `koanf:"development"`
}

// Load reads configuration from an optional YAML file, then overrides with
// DEVLOOP_* environment variables.
//
// Precedence (highest first): environment, YAML file, defaults. Environment
// variables map section and field with underscores:
//
//	DEVLOOP_SERVER_PORT       -> server.port
//	DEVLOOP_STORE_DRIVER      -> store.driver
//	DEVLOOP_PROVIDER_API_KEY  -> provider.api_key
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("DEVLOOP_", ".", func(s string) string {
		// DEVLOOP_SERVER_PORT -> server.port; the first underscore splits
		// section from field, later underscores stay in the field name.
		trimmed := strings.ToLower(strings.TrimPrefix(s, "DEVLOOP_"))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return trimmed
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Provider.APIKey = expandEnvRef(cfg.Provider.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store driver %q requires a DSN", c.Store.Driver)
	}

	switch c.Provider.Name {
	case "anthropic", "openai", "google", "groq", "mock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Name != "mock" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider %q requires an API key", c.Provider.Name)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "./devloop.db"
	}

	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}

	if cfg.Workflow.GateAttempts == 0 {
		cfg.Workflow.GateAttempts = 3
	}
	if cfg.Workflow.MaxSteps == 0 {
		cfg.Workflow.MaxSteps = 100
	}
	if cfg.Workflow.Retries == 0 {
		cfg.Workflow.Retries = 2
	}
	if cfg.Workflow.NodeTimeout == 0 {
		cfg.Workflow.NodeTimeout = 3 * time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// expandEnvRef resolves ${VAR} references so API keys can live in the
// environment while the YAML stays committable.
func expandEnvRef(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}
