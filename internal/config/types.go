package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete vessel configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Ports    PortsConfig    `yaml:"ports"`
	Journal  JournalConfig  `yaml:"journal"`
	API      APIConfig      `yaml:"api,omitempty"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ProtocolConfig tunes the framed channel between host and presentation process.
type ProtocolConfig struct {
	// PulseInterval is how often the host proves it is alive.
	PulseInterval time.Duration `yaml:"pulse_interval"`
	// SelfDestruct is how long the presentation process survives without a pulse.
	SelfDestruct time.Duration `yaml:"self_destruct"`
	// SafeMode validates every outgoing DTO against its JSON schema.
	SafeMode bool `yaml:"safe_mode"`
}

// PluginsConfig defines where plugins come from and how they run.
type PluginsConfig struct {
	Roots   []string      `yaml:"roots"`
	Timeout time.Duration `yaml:"timeout"`
	Targets []string      `yaml:"targets"`
}

// PortsConfig controls the port allocator.
type PortsConfig struct {
	Base      int    `yaml:"base"`
	Range     int    `yaml:"range"`
	ClaimsDir string `yaml:"claims_dir"`
}

// JournalConfig defines result journal storage settings.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the local status API.
// The API binds to 127.0.0.1 on the session's claimed port.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PipelineConfig tunes the publish loop.
type PipelineConfig struct {
	ValidationThreshold float64 `yaml:"validation_threshold"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "vessel",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Protocol: ProtocolConfig{
			PulseInterval: 5 * time.Second,
			SelfDestruct:  15 * time.Second,
		},
		Plugins: PluginsConfig{
			Roots:   []string{"./plugins"},
			Timeout: 60 * time.Second,
			Targets: []string{"default"},
		},
		Ports: PortsConfig{
			Base:      9001,
			Range:     100,
			ClaimsDir: filepath.Join(os.TempDir(), "vessel-ports"),
		},
		Journal: JournalConfig{
			Path: "./data/vessel.db",
		},
		Pipeline: PipelineConfig{
			ValidationThreshold: 2,
		},
	}
}
