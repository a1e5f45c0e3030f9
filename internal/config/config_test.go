package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultTimeout())
	assert.False(t, cfg.Simulation.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
engine:
  max_parallel: 4
  default_timeout_ms: 5000
simulation:
  enabled: true
  failure_rate: 0.25
  latency_ms: 50
scheduler:
  refresh_interval: 30s
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, 5*time.Second, cfg.Engine.DefaultTimeout())
	assert.True(t, cfg.Simulation.Enabled)
	assert.Equal(t, 0.25, cfg.Simulation.FailureRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Simulation.Latency())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RefreshInterval)
	// не заданные в файле значения остаются по умолчанию
	assert.Equal(t, "APIFLOW_VAR_", cfg.Engine.VarPrefix)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFile_UnknownField(t *testing.T) {
	path := writeFile(t, "engine:\n  max_paralel: 2\n")

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DB_URL":               "postgres://db/apiflow",
		"API_PORT":             "7000",
		"LOG_LEVEL":            "DEBUG",
		"APIFLOW_SIMULATION":   "true",
		"APIFLOW_MAX_PARALLEL": "8",
		"CORS_ALLOWED_ORIGINS": "http://localhost:3000, https://editor.example.com",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, "postgres://db/apiflow", cfg.Database.URL)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.True(t, cfg.Simulation.Enabled)
	assert.Equal(t, 8, cfg.Engine.MaxParallel)
	assert.Equal(t, []string{"http://localhost:3000", "https://editor.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestApplyEnv_Invalid(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "API_PORT" {
			return "http", true
		}
		return "", false
	}

	err := Default().ApplyEnv(lookup)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"max parallel", func(c *Config) { c.Engine.MaxParallel = 0 }},
		{"timeout", func(c *Config) { c.Engine.DefaultTimeoutMs = -1 }},
		{"failure rate", func(c *Config) { c.Simulation.FailureRate = 1.5 }},
		{"latency", func(c *Config) { c.Simulation.LatencyMs = -10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APIFLOW_CONFIG", "")
	t.Setenv("API_PORT", "8181")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	t.Setenv("APIFLOW_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
