// Package config loads the raknetd server/client configuration, the way
// the teacher's core.loadConfig built a Config struct, but from a YAML
// file on disk instead of hardcoded defaults.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds raknetd's startup settings. The raknetd commands apply
// Host, Port, ProtocolVersion, MOTD, RateLimit and Metrics;
// MaxConnections and SilenceTimeout are loaded but no package reads them
// (conn uses its own SilenceTimeout constant).
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ProtocolVersion byte          `yaml:"protocol_version"`
	MaxConnections  int           `yaml:"max_connections"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`
	MOTD            string        `yaml:"motd"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RateLimitConfig configures the anti-flood token bucket guarding
// pre-connection (handshake-stage) datagrams.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	PacketsPerSecond  float64 `yaml:"packets_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration raknetd boots with when no file is
// given, mirroring the teacher's loadConfig defaults.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            19132,
		ProtocolVersion: 11,
		MaxConnections:  1000,
		SilenceTimeout:  10 * time.Second,
		MOTD:            "raknetd",
		RateLimit: RateLimitConfig{
			Enabled:          true,
			PacketsPerSecond: 20,
			Burst:            40,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9100",
		},
	}
}

// Load reads and parses a YAML config file, applying Default() for any
// field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
