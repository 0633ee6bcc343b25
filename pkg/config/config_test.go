// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsEmptyDirectiveFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DirectiveFile = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty directive_file")
	}
}

func TestValidateRejectsNonPositiveQueueSizes(t *testing.T) {
	cases := []func(*ModuleConfig){
		func(c *ModuleConfig) { c.QueueBatchSize = 0 },
		func(c *ModuleConfig) { c.QueueChannelSize = -1 },
		func(c *ModuleConfig) { c.QueueFlushInterval = 0 },
	}
	for _, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected validation error for mutated config %+v", cfg)
		}
	}
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logcored.yaml")
	contents := "log_level: debug\nhealth_addr: :9999\ndirective_file: /tmp/logcored.conf\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level=debug, got %q", cfg.LogLevel)
	}
	if cfg.HealthAddr != ":9999" {
		t.Errorf("expected health_addr=:9999, got %q", cfg.HealthAddr)
	}
	if cfg.QueueBatchSize != 256 {
		t.Errorf("expected default queue_batch_size to survive partial override, got %d", cfg.QueueBatchSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOGCORE_LOG_LEVEL", "warn")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.LogLevel != "warn" {
		t.Errorf("expected env override to set log_level=warn, got %q", cfg.LogLevel)
	}
}

func TestDefaultConfigTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ShutdownTimeout < time.Second {
		t.Error("expected a non-trivial default shutdown timeout")
	}
}
