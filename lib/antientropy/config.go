// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package antientropy

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/aura/lib/bloom"
)

// Config tunes the service.
type Config struct {
	// MinSyncInterval is the shortest gap between two sessions with the
	// same peer.
	MinSyncInterval time.Duration `yaml:"min_sync_interval"`

	Bloom bloom.Config `yaml:"bloom"`

	// BatchSize is the number of ops per pushed batch message.
	BatchSize int `yaml:"batch_size"`

	// MaxRounds bounds the rounds of one session.
	MaxRounds int `yaml:"max_rounds"`

	// RetryAttempts is how many times a failed peer call is retried
	// when the failure is transient.
	RetryAttempts     uint64        `yaml:"retry_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`

	// Workers bounds SyncAll's concurrency. Zero means one worker per
	// peer.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MinSyncInterval:   5 * time.Second,
		Bloom:             bloom.DefaultConfig(),
		BatchSize:         128,
		MaxRounds:         10,
		RetryAttempts:     3,
		RetryInitialDelay: 100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Bloom.Validate(); err != nil {
		return fmt.Errorf("antientropy: %w", err)
	}
	switch {
	case c.MinSyncInterval < 0:
		return fmt.Errorf("antientropy: negative min sync interval %s", c.MinSyncInterval)
	case c.BatchSize <= 0:
		return fmt.Errorf("antientropy: batch size must be positive")
	case c.MaxRounds <= 0:
		return fmt.Errorf("antientropy: max rounds must be positive")
	case c.RetryInitialDelay <= 0:
		return fmt.Errorf("antientropy: retry initial delay must be positive")
	}
	return nil
}
