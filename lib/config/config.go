// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/aura/lib/antientropy"
	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/recovery"
	"github.com/bureau-foundation/aura/lib/storage"
	"github.com/bureau-foundation/aura/lib/transport"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "AURA_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Timeout presets accepted in timeouts.preset.
const (
	PresetTesting    = "testing"
	PresetDefault    = "default"
	PresetProduction = "production"
)

// Config is the master configuration of an Aura node.
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development staging production"`

	Storage        StorageConfig          `yaml:"storage"`
	Logging        LoggingConfig          `yaml:"logging"`
	AntiEntropy    AntiEntropyConfig      `yaml:"anti_entropy"`
	SessionRuntime SessionRuntimeConfig   `yaml:"session_runtime"`
	Timeouts       TimeoutsConfig         `yaml:"timeouts"`
	Leakage        effects.LeakageBudgets `yaml:"leakage"`
	Recovery       RecoveryConfig         `yaml:"recovery"`

	// Per-environment overrides, applied after the base config is
	// loaded. Partial sections are expected, so they skip validation.
	Development *ConfigOverrides `yaml:"development,omitempty" validate:"-"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty" validate:"-"`
	Production  *ConfigOverrides `yaml:"production,omitempty" validate:"-"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Zero values leave the base value in place.
type ConfigOverrides struct {
	Storage     *StorageConfig     `yaml:"storage,omitempty"`
	Logging     *LoggingConfig     `yaml:"logging,omitempty"`
	AntiEntropy *AntiEntropyConfig `yaml:"anti_entropy,omitempty"`
	Timeouts    *TimeoutsConfig    `yaml:"timeouts,omitempty"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory sqlite badger"`

	// Path is the database file (sqlite) or directory (badger). It is
	// ignored for memory.
	Path string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// SlogLevel converts Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// AntiEntropyConfig tunes op log synchronization.
type AntiEntropyConfig struct {
	MinSyncInterval        time.Duration `yaml:"min_sync_interval" validate:"gte=0"`
	BloomFalsePositiveRate float64       `yaml:"bloom_false_positive_rate" validate:"gt=0,lt=1"`
	ExpectedOperations     uint          `yaml:"expected_operations" validate:"gt=0"`
	BatchSize              int           `yaml:"batch_size" validate:"gt=0"`
	MaxRounds              int           `yaml:"max_rounds" validate:"gt=0"`
	RetryAttempts          uint64        `yaml:"retry_attempts"`
	RetryInitialDelay      time.Duration `yaml:"retry_initial_delay" validate:"gt=0"`
	Workers                int           `yaml:"workers" validate:"gte=0"`
}

// Service returns the anti-entropy service configuration.
func (c AntiEntropyConfig) Service() antientropy.Config {
	return antientropy.Config{
		MinSyncInterval: c.MinSyncInterval,
		Bloom: bloom.Config{
			FalsePositiveRate: c.BloomFalsePositiveRate,
			ExpectedItems:     c.ExpectedOperations,
		},
		BatchSize:         c.BatchSize,
		MaxRounds:         c.MaxRounds,
		RetryAttempts:     c.RetryAttempts,
		RetryInitialDelay: c.RetryInitialDelay,
		Workers:           c.Workers,
	}
}

// SessionRuntimeConfig bounds the protocol session runtime and the
// transport and security settings its sessions run with.
type SessionRuntimeConfig struct {
	MaxConcurrentSessions  int    `yaml:"max_concurrent_sessions" validate:"gt=0"`
	DefaultTimeoutSeconds  uint64 `yaml:"default_timeout_seconds" validate:"gt=0"`
	DefaultTTLEpochs       uint64 `yaml:"default_ttl_epochs" validate:"gt=0"`
	EnablePersistence      bool   `yaml:"enable_persistence"`
	CleanupIntervalSeconds uint64 `yaml:"cleanup_interval_seconds" validate:"gt=0"`

	Transport SessionTransportConfig `yaml:"transport"`
	Security  SessionSecurityConfig  `yaml:"security"`
}

// SessionTransportConfig configures envelope delivery.
type SessionTransportConfig struct {
	ConnectionTimeoutMS uint64 `yaml:"connection_timeout_ms" validate:"gt=0"`
	MessageTimeoutMS    uint64 `yaml:"message_timeout_ms" validate:"gt=0"`
	MaxRetries          uint64 `yaml:"max_retries"`
	EnableCompression   bool   `yaml:"enable_compression"`
}

// SessionSecurityConfig configures protocol safety limits.
type SessionSecurityConfig struct {
	ProtocolTimeoutSeconds uint64 `yaml:"protocol_timeout_seconds" validate:"gt=0"`
	EnableVerification     bool   `yaml:"enable_verification"`
	// MaxParticipants is unbounded when zero.
	MaxParticipants int `yaml:"max_participants" validate:"gte=0"`
}

// Runtime returns the protocol session runtime configuration.
func (c SessionRuntimeConfig) Runtime() protocol.SessionRuntimeConfig {
	return protocol.SessionRuntimeConfig{
		MaxConcurrentSessions: c.MaxConcurrentSessions,
		DefaultTTLEpochs:      c.DefaultTTLEpochs,
		EnablePersistence:     c.EnablePersistence,
		CleanupInterval:       time.Duration(c.CleanupIntervalSeconds) * time.Second,
		MaxParticipants:       c.Security.MaxParticipants,
	}
}

// DefaultTimeout is the overall budget of one session.
func (c SessionRuntimeConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// Retry returns the transport retry configuration.
func (c SessionRuntimeConfig) Retry() transport.RetryConfig {
	retry := transport.DefaultRetryConfig()
	retry.MaxRetries = c.Transport.MaxRetries
	retry.MessageTimeout = time.Duration(c.Transport.MessageTimeoutMS) * time.Millisecond
	return retry
}

// Compression returns the payload encoding, or "" when compression is
// disabled.
func (c SessionRuntimeConfig) Compression() transport.Encoding {
	if !c.Transport.EnableCompression {
		return ""
	}
	return transport.EncodingZstd
}

// TimeoutsConfig starts from a preset; any duration set here replaces
// the preset's value.
type TimeoutsConfig struct {
	Preset    string        `yaml:"preset" validate:"oneof=testing default production"`
	Default   time.Duration `yaml:"default" validate:"gte=0"`
	DKD       time.Duration `yaml:"dkd" validate:"gte=0"`
	FROST     time.Duration `yaml:"frost" validate:"gte=0"`
	Resharing time.Duration `yaml:"resharing" validate:"gte=0"`
	Recovery  time.Duration `yaml:"recovery" validate:"gte=0"`
	Network   time.Duration `yaml:"network" validate:"gte=0"`
	Byzantine time.Duration `yaml:"byzantine" validate:"gte=0"`
	// Adaptive overrides the preset when set.
	Adaptive *bool `yaml:"adaptive,omitempty"`
}

// Resolve returns the effective timeouts.
func (c TimeoutsConfig) Resolve() protocol.TimeoutConfig {
	var resolved protocol.TimeoutConfig
	switch c.Preset {
	case PresetTesting:
		resolved = protocol.TestingTimeouts()
	case PresetProduction:
		resolved = protocol.ProductionTimeouts()
	default:
		resolved = protocol.DefaultTimeouts()
	}
	override := func(target *time.Duration, value time.Duration) {
		if value > 0 {
			*target = value
		}
	}
	override(&resolved.Default, c.Default)
	override(&resolved.DKD, c.DKD)
	override(&resolved.FROST, c.FROST)
	override(&resolved.Resharing, c.Resharing)
	override(&resolved.Recovery, c.Recovery)
	override(&resolved.Network, c.Network)
	override(&resolved.Byzantine, c.Byzantine)
	if c.Adaptive != nil {
		resolved.Adaptive = *c.Adaptive
	}
	return resolved
}

// RecoveryConfig configures guardian recovery.
type RecoveryConfig struct {
	Cooldown time.Duration `yaml:"cooldown" validate:"gt=0"`
}

// Default returns the default configuration. Loading starts from these
// values, so a config file only names what it changes.
func Default() *Config {
	antiEntropy := antientropy.DefaultConfig()
	runtime := protocol.DefaultSessionRuntimeConfig()
	return &Config{
		Environment: Development,
		Storage:     StorageConfig{Backend: storage.BackendMemory},
		Logging:     LoggingConfig{Level: "info"},
		AntiEntropy: AntiEntropyConfig{
			MinSyncInterval:        antiEntropy.MinSyncInterval,
			BloomFalsePositiveRate: antiEntropy.Bloom.FalsePositiveRate,
			ExpectedOperations:     antiEntropy.Bloom.ExpectedItems,
			BatchSize:              antiEntropy.BatchSize,
			MaxRounds:              antiEntropy.MaxRounds,
			RetryAttempts:          antiEntropy.RetryAttempts,
			RetryInitialDelay:      antiEntropy.RetryInitialDelay,
		},
		SessionRuntime: SessionRuntimeConfig{
			MaxConcurrentSessions:  runtime.MaxConcurrentSessions,
			DefaultTimeoutSeconds:  30,
			DefaultTTLEpochs:       runtime.DefaultTTLEpochs,
			CleanupIntervalSeconds: uint64(runtime.CleanupInterval / time.Second),
			Transport: SessionTransportConfig{
				ConnectionTimeoutMS: 5000,
				MessageTimeoutMS:    uint64(transport.DefaultRetryConfig().MessageTimeout / time.Millisecond),
				MaxRetries:          transport.DefaultRetryConfig().MaxRetries,
			},
			Security: SessionSecurityConfig{
				ProtocolTimeoutSeconds: 300,
				EnableVerification:     true,
			},
		},
		Timeouts: TimeoutsConfig{Preset: PresetDefault},
		Leakage:  effects.DefaultLeakageBudgets(),
		Recovery: RecoveryConfig{Cooldown: recovery.DefaultCooldown},
	}
}

// Load loads configuration from the file named by AURA_CONFIG. There is
// no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your aura.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults, applies the
// environment overrides, expands path variables and validates.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: minute-scale timeouts, no debug logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging:  &LoggingConfig{Level: "info"},
				Timeouts: &TimeoutsConfig{Preset: PresetProduction},
			}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Storage != nil {
		if overrides.Storage.Backend != "" {
			c.Storage.Backend = overrides.Storage.Backend
		}
		if overrides.Storage.Path != "" {
			c.Storage.Path = overrides.Storage.Path
		}
	}
	if overrides.Logging != nil && overrides.Logging.Level != "" {
		c.Logging.Level = overrides.Logging.Level
	}
	if overrides.AntiEntropy != nil {
		applyAntiEntropy(&c.AntiEntropy, *overrides.AntiEntropy)
	}
	if overrides.Timeouts != nil {
		applyTimeouts(&c.Timeouts, *overrides.Timeouts)
	}
}

func applyAntiEntropy(base *AntiEntropyConfig, override AntiEntropyConfig) {
	if override.MinSyncInterval != 0 {
		base.MinSyncInterval = override.MinSyncInterval
	}
	if override.BloomFalsePositiveRate != 0 {
		base.BloomFalsePositiveRate = override.BloomFalsePositiveRate
	}
	if override.ExpectedOperations != 0 {
		base.ExpectedOperations = override.ExpectedOperations
	}
	if override.BatchSize != 0 {
		base.BatchSize = override.BatchSize
	}
	if override.MaxRounds != 0 {
		base.MaxRounds = override.MaxRounds
	}
	if override.RetryAttempts != 0 {
		base.RetryAttempts = override.RetryAttempts
	}
	if override.RetryInitialDelay != 0 {
		base.RetryInitialDelay = override.RetryInitialDelay
	}
	if override.Workers != 0 {
		base.Workers = override.Workers
	}
}

func applyTimeouts(base *TimeoutsConfig, override TimeoutsConfig) {
	if override.Preset != "" {
		base.Preset = override.Preset
	}
	for _, field := range []struct {
		target *time.Duration
		value  time.Duration
	}{
		{&base.Default, override.Default},
		{&base.DKD, override.DKD},
		{&base.FROST, override.FROST},
		{&base.Resharing, override.Resharing},
		{&base.Recovery, override.Recovery},
		{&base.Network, override.Network},
		{&base.Byzantine, override.Byzantine},
	} {
		if field.value != 0 {
			*field.target = field.value
		}
	}
	if override.Adaptive != nil {
		base.Adaptive = override.Adaptive
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Storage.Path = expandVars(c.Storage.Path, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules. Every
// failure is reported, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error
	if err := validate.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return err
		}
		for _, fieldError := range fieldErrors {
			_, field, _ := strings.Cut(fieldError.Namespace(), ".")
			result = multierror.Append(result, fmt.Errorf("%s: failed %s=%s (value %v)",
				field, fieldError.Tag(), fieldError.Param(), fieldError.Value()))
		}
	}

	if c.Storage.Backend != storage.BackendMemory && c.Storage.Path == "" {
		result = multierror.Append(result, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
	}
	if c.Recovery.Cooldown > 0 && c.Recovery.Cooldown < recovery.MinRecoveryDelay {
		result = multierror.Append(result, fmt.Errorf("recovery.cooldown %s is below the %s recovery delay floor",
			c.Recovery.Cooldown, recovery.MinRecoveryDelay))
	}
	security := c.SessionRuntime.Security
	if security.MaxParticipants > 0 && security.MaxParticipants < 2 {
		result = multierror.Append(result, fmt.Errorf("session_runtime.security.max_participants must allow at least 2"))
	}
	if c.Leakage.External > c.Leakage.Neighbor || c.Leakage.Neighbor > c.Leakage.InGroup {
		result = multierror.Append(result, fmt.Errorf("leakage budgets must not shrink toward closer observers: external %d, neighbor %d, in_group %d",
			c.Leakage.External, c.Leakage.Neighbor, c.Leakage.InGroup))
	}
	return result.ErrorOrNil()
}

// OpenStorage opens the configured backend.
func (c *Config) OpenStorage(logger *slog.Logger) (storage.Store, error) {
	return storage.Open(c.Storage.Backend, c.Storage.Path, logger)
}
