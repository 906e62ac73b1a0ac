// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/storage"
	"github.com/bureau-foundation/aura/lib/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aura.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Storage.Backend != storage.BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Recovery.Cooldown != 24*time.Hour {
		t.Errorf("expected 24h cooldown, got %s", cfg.Recovery.Cooldown)
	}

	service := cfg.AntiEntropy.Service()
	if service.Bloom.FalsePositiveRate != 0.01 || service.Bloom.ExpectedItems != 1024 {
		t.Errorf("bloom = %+v", service.Bloom)
	}
	if service.BatchSize != 128 || service.MaxRounds != 10 || service.RetryAttempts != 3 {
		t.Errorf("anti-entropy = %+v", service)
	}
	if err := service.Validate(); err != nil {
		t.Errorf("anti-entropy config invalid: %v", err)
	}
	if cfg.Timeouts.Resolve() != protocol.DefaultTimeouts() {
		t.Error("default preset does not resolve to the default timeouts")
	}
}

func TestLoad_RequiresAuraConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when AURA_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "AURA_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithAuraConfig(t *testing.T) {
	path := writeConfig(t, `
environment: staging
storage:
  backend: sqlite
  path: /var/lib/aura/aura.db
anti_entropy:
  min_sync_interval: 2s
  batch_size: 64
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Storage.Backend != storage.BackendSQLite || cfg.Storage.Path != "/var/lib/aura/aura.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	service := cfg.AntiEntropy.Service()
	if service.MinSyncInterval != 2*time.Second || service.BatchSize != 64 {
		t.Errorf("anti-entropy = %+v", service)
	}
	// Unset fields keep their defaults.
	if service.MaxRounds != 10 {
		t.Errorf("max_rounds = %d", service.MaxRounds)
	}
}

func TestLoadFile_SessionRuntime(t *testing.T) {
	path := writeConfig(t, `
session_runtime:
  max_concurrent_sessions: 8
  default_timeout_seconds: 45
  default_ttl_epochs: 4
  enable_persistence: true
  cleanup_interval_seconds: 10
  transport:
    connection_timeout_ms: 1000
    message_timeout_ms: 250
    max_retries: 5
    enable_compression: true
  security:
    protocol_timeout_seconds: 60
    enable_verification: true
    max_participants: 7
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	runtime := cfg.SessionRuntime.Runtime()
	if runtime.MaxConcurrentSessions != 8 || runtime.DefaultTTLEpochs != 4 || !runtime.EnablePersistence {
		t.Errorf("runtime = %+v", runtime)
	}
	if runtime.CleanupInterval != 10*time.Second || runtime.MaxParticipants != 7 {
		t.Errorf("runtime = %+v", runtime)
	}
	if cfg.SessionRuntime.DefaultTimeout() != 45*time.Second {
		t.Errorf("default timeout = %s", cfg.SessionRuntime.DefaultTimeout())
	}
	retry := cfg.SessionRuntime.Retry()
	if retry.MaxRetries != 5 || retry.MessageTimeout != 250*time.Millisecond {
		t.Errorf("retry = %+v", retry)
	}
	if cfg.SessionRuntime.Compression() != transport.EncodingZstd {
		t.Errorf("compression = %q", cfg.SessionRuntime.Compression())
	}
}

func TestTimeoutsResolve(t *testing.T) {
	disabled := false
	tests := []struct {
		name   string
		config TimeoutsConfig
		check  func(protocol.TimeoutConfig) bool
	}{
		{"Testing", TimeoutsConfig{Preset: PresetTesting}, func(c protocol.TimeoutConfig) bool {
			return c == protocol.TestingTimeouts()
		}},
		{"Production", TimeoutsConfig{Preset: PresetProduction}, func(c protocol.TimeoutConfig) bool {
			return c == protocol.ProductionTimeouts()
		}},
		{"Override", TimeoutsConfig{Preset: PresetTesting, DKD: time.Minute}, func(c protocol.TimeoutConfig) bool {
			return c.DKD == time.Minute && c.FROST == protocol.TestingTimeouts().FROST
		}},
		{"AdaptiveOff", TimeoutsConfig{Preset: PresetDefault, Adaptive: &disabled}, func(c protocol.TimeoutConfig) bool {
			return !c.Adaptive
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if resolved := test.config.Resolve(); !test.check(resolved) {
				t.Errorf("resolved = %+v", resolved)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Run("development section", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, `
environment: development
logging:
  level: info
development:
  logging:
    level: debug
  anti_entropy:
    min_sync_interval: 100ms
  timeouts:
    preset: testing
`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("level = %s", cfg.Logging.Level)
		}
		if cfg.AntiEntropy.MinSyncInterval != 100*time.Millisecond {
			t.Errorf("min_sync_interval = %s", cfg.AntiEntropy.MinSyncInterval)
		}
		// A partial section leaves the rest of the base in place.
		if cfg.AntiEntropy.BatchSize != 128 {
			t.Errorf("batch_size = %d", cfg.AntiEntropy.BatchSize)
		}
		if cfg.Timeouts.Resolve() != protocol.TestingTimeouts() {
			t.Error("timeouts preset not overridden")
		}
	})

	t.Run("production defaults", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Timeouts.Preset != PresetProduction {
			t.Errorf("preset = %s", cfg.Timeouts.Preset)
		}
	})

	t.Run("other environment ignored", func(t *testing.T) {
		cfg, err := LoadFile(writeConfig(t, `
environment: staging
production:
  storage:
    backend: badger
    path: /srv/aura
`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Storage.Backend != storage.BackendMemory {
			t.Errorf("backend = %s", cfg.Storage.Backend)
		}
	})
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/aura")
	t.Setenv("AURA_DATA", "")
	tests := []struct {
		path string
		want string
	}{
		{"${HOME}/aura.db", "/home/aura/aura.db"},
		{"${AURA_DATA:-/srv/aura}/aura.db", "/srv/aura/aura.db"},
		{"/plain/aura.db", "/plain/aura.db"},
	}
	for _, test := range tests {
		cfg, err := LoadFile(writeConfig(t, "storage:\n  backend: sqlite\n  path: "+test.path+"\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Storage.Path != test.want {
			t.Errorf("%s expanded to %s, want %s", test.path, cfg.Storage.Path, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "qa" }, "environment"},
		{"backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"backend path", func(c *Config) { c.Storage.Backend = storage.BackendBadger }, "storage.path"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bloom rate", func(c *Config) { c.AntiEntropy.BloomFalsePositiveRate = 1 }, "anti_entropy.bloom_false_positive_rate"},
		{"batch size", func(c *Config) { c.AntiEntropy.BatchSize = 0 }, "anti_entropy.batch_size"},
		{"sessions", func(c *Config) { c.SessionRuntime.MaxConcurrentSessions = 0 }, "session_runtime.max_concurrent_sessions"},
		{"message timeout", func(c *Config) { c.SessionRuntime.Transport.MessageTimeoutMS = 0 }, "session_runtime.transport.message_timeout_ms"},
		{"max participants", func(c *Config) { c.SessionRuntime.Security.MaxParticipants = 1 }, "max_participants"},
		{"preset", func(c *Config) { c.Timeouts.Preset = "fast" }, "timeouts.preset"},
		{"cooldown", func(c *Config) { c.Recovery.Cooldown = time.Minute }, "recovery.cooldown"},
		{"leakage", func(c *Config) { c.Leakage.External = c.Leakage.InGroup + 1 }, "leakage"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not name %s", err, test.want)
			}
		})
	}

	t.Run("reports every failure", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "loud"
		cfg.AntiEntropy.MaxRounds = 0
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "logging.level") || !strings.Contains(err.Error(), "anti_entropy.max_rounds") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestLoadFile_RejectsInvalid(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "anti_entropy:\n  max_rounds: -1\n"))
	if err == nil {
		t.Fatal("invalid file accepted")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestSlogLevel(t *testing.T) {
	for level, want := range map[string]string{"debug": "DEBUG", "warn": "WARN", "bogus": "INFO"} {
		if got := (LoggingConfig{Level: level}).SlogLevel().String(); got != want {
			t.Errorf("%s: got %s, want %s", level, got, want)
		}
	}
}
