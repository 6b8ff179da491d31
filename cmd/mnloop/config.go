package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HostConfig describes one side of the point-to-point link mnloop drives.
type HostConfig struct {
	MAC  string `yaml:"mac"`
	IPv4 string `yaml:"ipv4"`
	Port uint16 `yaml:"port"`
}

// Config is mnloop's full driver configuration. The zero value is not
// runnable on its own (empty addresses fail to parse); DefaultConfig fills
// it with the demo's standing defaults.
type Config struct {
	HostA HostConfig `yaml:"host_a"`
	HostB HostConfig `yaml:"host_b"`

	StreamCapacity   uint64 `yaml:"stream_capacity"`
	InitialRTOMillis uint64 `yaml:"initial_rto_millis"`
	TickMillis       uint64 `yaml:"tick_millis"`
	MetricsAddr      string `yaml:"metrics_addr"`

	Zone map[string]string `yaml:"zone"`
}

// DefaultConfig returns the configuration mnloop runs with when no
// -config file is given.
func DefaultConfig() Config {
	return Config{
		HostA: HostConfig{MAC: "02:00:00:00:00:01", IPv4: "169.254.0.1", Port: 9000},
		HostB: HostConfig{MAC: "02:00:00:00:00:02", IPv4: "169.254.0.2", Port: 53},

		StreamCapacity:   64000,
		InitialRTOMillis: 1000,
		TickMillis:       100,
		MetricsAddr:      ":9101",

		Zone: map[string]string{
			"mnloop.test.": "169.254.0.2",
		},
	}
}

// LoadConfig reads and merges a YAML config file over DefaultConfig. An
// empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("mnloop: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("mnloop: parse config %s: %w", path, err)
	}
	return cfg, nil
}
