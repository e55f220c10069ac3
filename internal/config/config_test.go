package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// The mock provider needs no API key, so defaults alone validate.
	t.Setenv("DEVLOOP_PROVIDER_NAME", "mock")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./devloop.db", cfg.Store.DSN)
	assert.Equal(t, 3, cfg.Workflow.GateAttempts)
	assert.Equal(t, 100, cfg.Workflow.MaxSteps)
	assert.Equal(t, 2, cfg.Workflow.Retries)
	assert.Equal(t, 3*time.Minute, cfg.Workflow.NodeTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devloop.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 9090
store:
  driver: memory
provider:
  name: mock
workflow:
  gate_attempts: 5
log:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Workflow.GateAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devloop.yaml")
	content := `
server:
  port: 9090
provider:
  name: mock
store:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("DEVLOOP_SERVER_PORT", "7070")
	t.Setenv("DEVLOOP_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_APIKeyFromEnvRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devloop.yaml")
	content := `
provider:
  name: anthropic
  api_key: ${TEST_ANTHROPIC_KEY}
store:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", cfg.Provider.APIKey)
}

func TestLoad_MultiWordEnvKeys(t *testing.T) {
	t.Setenv("DEVLOOP_PROVIDER_NAME", "mock")
	t.Setenv("DEVLOOP_PROVIDER_API_KEY", "unused-for-mock")
	t.Setenv("DEVLOOP_WORKFLOW_GATE_ATTEMPTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "unused-for-mock", cfg.Provider.APIKey)
	assert.Equal(t, 7, cfg.Workflow.GateAttempts)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		cfg.Provider.Name = "mock"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}, wantErr: ""},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "unknown store driver"},
		{name: "missing DSN", mutate: func(c *Config) { c.Store.Driver = "mysql"; c.Store.DSN = "" }, wantErr: "requires a DSN"},
		{name: "unknown provider", mutate: func(c *Config) { c.Provider.Name = "cohere" }, wantErr: "unknown provider"},
		{name: "missing API key", mutate: func(c *Config) { c.Provider.Name = "openai" }, wantErr: "requires an API key"},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "unknown log level"},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
