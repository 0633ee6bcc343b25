// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package config carries the two configuration layers logcored reads at
// startup: a YAML ModuleConfig for ambient daemon settings (log level,
// health port, queue tuning), and a line-oriented legacy directive file
// (directives.go) tokenizing the listener/ruleset directive table.
// Grounded on pkg/config/config.go's Load/Validate/ApplyEnvOverrides
// shape, restructured from the telemetry agent's signal toggles to the
// ingestion daemon's listener/queue knobs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ModuleConfig is the ambient daemon configuration: settings that apply
// regardless of which listeners and rulesets the directive file defines.
type ModuleConfig struct {
	LogLevel      string `yaml:"log_level" env:"LOGCORE_LOG_LEVEL"`
	HealthAddr    string `yaml:"health_addr" env:"LOGCORE_HEALTH_ADDR"`
	DirectiveFile string `yaml:"directive_file" env:"LOGCORE_DIRECTIVE_FILE"`
	ConfigDir     string `yaml:"config_dir" env:"LOGCORE_CONFIG_DIR"`

	QueueBatchSize     int           `yaml:"queue_batch_size"`
	QueueFlushInterval time.Duration `yaml:"queue_flush_interval"`
	QueueChannelSize   int           `yaml:"queue_channel_size"`

	AcceptWarnInterval time.Duration `yaml:"accept_warn_interval"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`

	// Output selects the Action that the rule of the daemon's "default"
	// ruleset forwards ingested messages to. The legacy directive table has no
	// action/rule syntax of its own (spec.md §6) -- the original's
	// actions are configured through a separate RainerScript surface --
	// so this ambient setting is this module's equivalent entry point.
	Output OutputConfig `yaml:"output"`
}

// OutputConfig selects and configures one pkg/action.Action.
type OutputConfig struct {
	Type string `yaml:"type"` // "stdout", "tcp_forward", or "otlp"

	// stdout
	Format string `yaml:"format"` // "text" or "json"

	// tcp_forward
	Address string `yaml:"address"`

	// otlp
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads and parses a YAML module config file, applying defaults for
// anything the file omits.
func Load(path string) (*ModuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a ModuleConfig with sensible defaults.
func DefaultConfig() *ModuleConfig {
	return &ModuleConfig{
		LogLevel:           "info",
		HealthAddr:         ":8686",
		DirectiveFile:      "/etc/logcored/logcored.conf",
		QueueBatchSize:     256,
		QueueFlushInterval: 2 * time.Second,
		QueueChannelSize:   4096,
		AcceptWarnInterval: time.Second,
		ShutdownTimeout:    10 * time.Second,
		Output:             OutputConfig{Type: "stdout", Format: "text"},
	}
}

// ApplyEnvOverrides reads LOGCORE_* environment variables and applies
// them, overriding YAML values.
func (c *ModuleConfig) ApplyEnvOverrides() {
	overrides := map[string]func(string){
		"LOGCORE_LOG_LEVEL":      func(v string) { c.LogLevel = v },
		"LOGCORE_HEALTH_ADDR":    func(v string) { c.HealthAddr = v },
		"LOGCORE_DIRECTIVE_FILE": func(v string) { c.DirectiveFile = v },
		"LOGCORE_CONFIG_DIR":     func(v string) { c.ConfigDir = v },
	}
	for envKey, setter := range overrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}
}

// Validate checks the module configuration for errors.
func (c *ModuleConfig) Validate() error {
	if strings.TrimSpace(c.DirectiveFile) == "" {
		return fmt.Errorf("directive_file is required")
	}
	if c.QueueBatchSize <= 0 {
		return fmt.Errorf("queue_batch_size must be positive")
	}
	if c.QueueChannelSize <= 0 {
		return fmt.Errorf("queue_channel_size must be positive")
	}
	if c.QueueFlushInterval <= 0 {
		return fmt.Errorf("queue_flush_interval must be positive")
	}
	switch c.Output.Type {
	case "stdout":
	case "tcp_forward":
		if c.Output.Address == "" {
			return fmt.Errorf("output.address is required when output.type is tcp_forward")
		}
	case "otlp":
		if c.Output.Endpoint == "" {
			return fmt.Errorf("output.endpoint is required when output.type is otlp")
		}
	default:
		return fmt.Errorf("output.type must be stdout, tcp_forward, or otlp, got %q", c.Output.Type)
	}
	return nil
}
