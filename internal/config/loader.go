package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates, strips
// comments and trailing commas, unmarshals it into Config, and applies
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates first; they live inside strings
	// the JSONC pass must not touch.
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 17680
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(SextantPath(), "journal.db")
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = SextantPath()
	}

	// A bare config still yields a runnable daemon: one simulated executor.
	if len(cfg.Executors.Instances) == 0 {
		cfg.Executors.Instances = map[string]ExecutorConfig{
			"main": {Strategy: StrategyConfig{Driver: "sim"}},
		}
	}
	if cfg.Executors.Default == "" {
		names := make([]string, 0, len(cfg.Executors.Instances))
		for name := range cfg.Executors.Instances {
			names = append(names, name)
		}
		sort.Strings(names)
		cfg.Executors.Default = names[0]
	}
	for name, inst := range cfg.Executors.Instances {
		if inst.Strategy.Driver == "" {
			inst.Strategy.Driver = "sim"
			cfg.Executors.Instances[name] = inst
		}
	}
}
