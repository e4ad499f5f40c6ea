package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// An empty path yields Defaults().
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		return cfg, validate(cfg)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Plugin roots are relative to the config file, not the working directory.
	baseDir := filepath.Dir(absPath)
	for i, root := range cfg.Plugins.Roots {
		if !filepath.IsAbs(root) {
			cfg.Plugins.Roots[i] = filepath.Join(baseDir, root)
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Protocol.PulseInterval == 0 {
		cfg.Protocol.PulseInterval = defaults.Protocol.PulseInterval
	}
	if cfg.Protocol.SelfDestruct == 0 {
		cfg.Protocol.SelfDestruct = defaults.Protocol.SelfDestruct
	}

	if len(cfg.Plugins.Roots) == 0 {
		cfg.Plugins.Roots = defaults.Plugins.Roots
	}
	if cfg.Plugins.Timeout == 0 {
		cfg.Plugins.Timeout = defaults.Plugins.Timeout
	}
	if len(cfg.Plugins.Targets) == 0 {
		cfg.Plugins.Targets = defaults.Plugins.Targets
	}

	if cfg.Ports.Base == 0 {
		cfg.Ports.Base = defaults.Ports.Base
	}
	if cfg.Ports.Range == 0 {
		cfg.Ports.Range = defaults.Ports.Range
	}
	if cfg.Ports.ClaimsDir == "" {
		cfg.Ports.ClaimsDir = defaults.Ports.ClaimsDir
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}

	if cfg.Pipeline.ValidationThreshold == 0 {
		cfg.Pipeline.ValidationThreshold = defaults.Pipeline.ValidationThreshold
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with the environment value, leaving unknown
// placeholders in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Protocol.PulseInterval <= 0 {
		return fmt.Errorf("protocol.pulse_interval must be positive")
	}
	// A remote that dies between two pulses would make every session flap.
	if cfg.Protocol.SelfDestruct <= cfg.Protocol.PulseInterval {
		return fmt.Errorf("protocol.self_destruct (%s) must exceed protocol.pulse_interval (%s)",
			cfg.Protocol.SelfDestruct, cfg.Protocol.PulseInterval)
	}

	for i, root := range cfg.Plugins.Roots {
		if root == "" {
			return fmt.Errorf("plugins.roots[%d] is empty", i)
		}
		if envVarPattern.MatchString(root) {
			matches := envVarPattern.FindStringSubmatch(root)
			return fmt.Errorf("plugins.roots[%d]: environment variable ${%s} is not set", i, matches[1])
		}
	}
	if cfg.Plugins.Timeout <= 0 {
		return fmt.Errorf("plugins.timeout must be positive")
	}

	if cfg.Ports.Base <= 0 || cfg.Ports.Base > 65535 {
		return fmt.Errorf("ports.base must be a valid TCP port (got %d)", cfg.Ports.Base)
	}
	if cfg.Ports.Range <= 0 || cfg.Ports.Base+cfg.Ports.Range > 65536 {
		return fmt.Errorf("ports.range %d overflows the port space from %d", cfg.Ports.Range, cfg.Ports.Base)
	}

	if envVarPattern.MatchString(cfg.Journal.Path) {
		matches := envVarPattern.FindStringSubmatch(cfg.Journal.Path)
		return fmt.Errorf("journal.path: environment variable ${%s} is not set", matches[1])
	}

	if cfg.Pipeline.ValidationThreshold < 1 {
		return fmt.Errorf("pipeline.validation_threshold must be at least 1 (got %v)", cfg.Pipeline.ValidationThreshold)
	}

	return nil
}
