// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable of the server. Fields are populated from
// environment variables and fall back to the defaults in Default.
type Config struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	MetricsPort    int      `koanf:"metrics_port"`
	Debug          bool     `koanf:"debug"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	ServerName     string   `koanf:"mcp_server_name"`
	ServerVersion  string   `koanf:"mcp_server_version"`
	LogLevel       string   `koanf:"log_level"`
	LogFile        string   `koanf:"log_file"`
}

// Default returns the configuration used when no environment overrides are
// set.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		MetricsPort:    8081,
		AllowedOrigins: []string{"*"},
		ServerName:     "DataMCP Server",
		ServerVersion:  "1.0.0",
		LogLevel:       "info",
	}
}

// Addr returns the listen address for the main server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddr returns the listen address for the metrics server.
func (c Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

var knownKeys = map[string]bool{
	"port":               true,
	"host":               true,
	"debug":              true,
	"metrics_port":       true,
	"allowed_origins":    true,
	"mcp_server_name":    true,
	"mcp_server_version": true,
	"log_level":          true,
	"log_file":           true,
}

// Load reads configuration from the process environment, applying Default
// for anything unset.
func Load() (Config, error) {
	k := koanf.New(".")

	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		name := strings.ToLower(key)
		if !knownKeys[name] {
			return "", nil
		}
		if name == "allowed_origins" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return name, parts
		}
		return name, value
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics port are both %d", c.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}
