package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamcp/datamcp/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8081, cfg.MetricsPort)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "1.0.0", cfg.ServerVersion)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.LogFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("DEBUG", "true")
	t.Setenv("METRICS_PORT", "9091")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MCP_SERVER_NAME", "Test MCP")
	t.Setenv("MCP_SERVER_VERSION", "2.3.4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/tmp/server.log")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "Test MCP", cfg.ServerName)
	assert.Equal(t, "2.3.4", cfg.ServerVersion)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/server.log", cfg.LogFile)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "port out of range", key: "PORT", value: "70000"},
		{name: "zero port", key: "PORT", value: "0"},
		{name: "metrics port out of range", key: "METRICS_PORT", value: "-1"},
		{name: "unknown log level", key: "LOG_LEVEL", value: "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsPortCollision(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("METRICS_PORT", "9000")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestAddrs(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "0.0.0.0:8081", cfg.MetricsAddr())
}
