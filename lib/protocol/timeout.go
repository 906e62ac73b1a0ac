// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Operation names the kind of run a timeout applies to.
type Operation uint8

const (
	OperationDefault Operation = iota
	OperationDKD
	OperationFROST
	OperationResharing
	OperationRecovery
	OperationNetwork
	OperationByzantine
)

func (o Operation) String() string {
	switch o {
	case OperationDKD:
		return "dkd"
	case OperationFROST:
		return "frost"
	case OperationResharing:
		return "resharing"
	case OperationRecovery:
		return "recovery"
	case OperationNetwork:
		return "network"
	case OperationByzantine:
		return "byzantine"
	default:
		return "default"
	}
}

// TimeoutConfig holds one timeout per operation kind.
type TimeoutConfig struct {
	Default   time.Duration `yaml:"default" validate:"gt=0"`
	DKD       time.Duration `yaml:"dkd" validate:"gt=0"`
	FROST     time.Duration `yaml:"frost" validate:"gt=0"`
	Resharing time.Duration `yaml:"resharing" validate:"gt=0"`
	Recovery  time.Duration `yaml:"recovery" validate:"gt=0"`
	Network   time.Duration `yaml:"network" validate:"gt=0"`
	Byzantine time.Duration `yaml:"byzantine" validate:"gt=0"`
	// Adaptive widens every timeout by three times the p95 of recorded
	// round trips.
	Adaptive bool `yaml:"adaptive"`
}

// TestingTimeouts is the preset for tests: a few seconds each.
func TestingTimeouts() TimeoutConfig {
	return TimeoutConfig{
		Default:   5 * time.Second,
		DKD:       5 * time.Second,
		FROST:     5 * time.Second,
		Resharing: 10 * time.Second,
		Recovery:  10 * time.Second,
		Network:   2 * time.Second,
		Byzantine: 3 * time.Second,
	}
}

// DefaultTimeouts is the general-purpose preset.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		Default:   30 * time.Second,
		DKD:       60 * time.Second,
		FROST:     30 * time.Second,
		Resharing: 120 * time.Second,
		Recovery:  300 * time.Second,
		Network:   10 * time.Second,
		Byzantine: 20 * time.Second,
		Adaptive:  true,
	}
}

// ProductionTimeouts is the preset for deployments over slow links:
// minutes each.
func ProductionTimeouts() TimeoutConfig {
	return TimeoutConfig{
		Default:   2 * time.Minute,
		DKD:       5 * time.Minute,
		FROST:     3 * time.Minute,
		Resharing: 10 * time.Minute,
		Recovery:  30 * time.Minute,
		Network:   time.Minute,
		Byzantine: 2 * time.Minute,
		Adaptive:  true,
	}
}

// For returns the configured timeout of operation.
func (c TimeoutConfig) For(operation Operation) time.Duration {
	switch operation {
	case OperationDKD:
		return c.DKD
	case OperationFROST:
		return c.FROST
	case OperationResharing:
		return c.Resharing
	case OperationRecovery:
		return c.Recovery
	case OperationNetwork:
		return c.Network
	case OperationByzantine:
		return c.Byzantine
	default:
		return c.Default
	}
}

// rttWindow is how many round trips the adaptive estimate keeps.
const rttWindow = 256

// TimeoutManager bounds protocol runs. It is safe for concurrent use.
type TimeoutManager struct {
	config TimeoutConfig
	clock  clock.Clock
	logger *slog.Logger

	mu   sync.Mutex
	rtts []float64
}

// NewTimeoutManager returns a manager reading time from source.
func NewTimeoutManager(config TimeoutConfig, source clock.Clock, logger *slog.Logger) *TimeoutManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TimeoutManager{config: config, clock: source, logger: logger}
}

// RecordRTT adds an observed round trip to the adaptive estimate.
func (m *TimeoutManager) RecordRTT(rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtts = append(m.rtts, float64(rtt))
	if len(m.rtts) > rttWindow {
		m.rtts = m.rtts[len(m.rtts)-rttWindow:]
	}
}

// P95 returns the 95th percentile of recorded round trips, zero when
// none are recorded.
func (m *TimeoutManager) P95() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rtts) == 0 {
		return 0
	}
	value, err := stats.Percentile(stats.Float64Data(m.rtts), 95)
	if err != nil {
		return 0
	}
	return time.Duration(value)
}

// Timeout returns the effective timeout of operation.
func (m *TimeoutManager) Timeout(operation Operation) time.Duration {
	base := m.config.For(operation)
	if !m.config.Adaptive {
		return base
	}
	return base + 3*m.P95()
}

// Run calls fn under the timeout of operation. When the timeout fires
// the result is a protocol Error of KindTimeout wrapping an
// effects.TimeoutError. With adaptive timeouts on, the duration of a
// successful run is recorded as a round trip.
func (m *TimeoutManager) Run(ctx context.Context, session ids.SessionID, operation Operation, fn func(context.Context) error) error {
	started := m.clock.Now()
	timeout := m.Timeout(operation)
	err := effects.WithTimeout(ctx, m.clock, operation.String(), timeout, fn)
	if err == nil {
		if m.config.Adaptive {
			m.RecordRTT(m.clock.Now().Sub(started))
		}
		return nil
	}
	if errors.Is(err, effects.ErrTimeout) {
		m.logger.Warn("protocol run timed out",
			"session_id", ids.Short(session),
			"operation", operation.String(),
			"timeout", timeout,
		)
		if _, classified := KindOf(err); !classified {
			return &Error{Kind: KindTimeout, Session: session, Err: err}
		}
	}
	return err
}

// RunSession is Run bound to a runtime session: a timeout fails the
// session with reason TimedOut, and a fatal protocol error fails it
// with the error text.
func (m *TimeoutManager) RunSession(ctx context.Context, runtime *SessionRuntime, session ids.SessionID, operation Operation, fn func(context.Context) error) error {
	err := m.Run(ctx, session, operation, fn)
	if err == nil {
		return nil
	}
	var reason string
	switch kind, ok := KindOf(err); {
	case ok && kind == KindTimeout:
		reason = ReasonTimedOut
	case ok && kind.Fatal():
		reason = err.Error()
	default:
		return err
	}
	if failErr := runtime.Fail(ctx, session, reason); failErr != nil {
		return fmt.Errorf("%w (failing session: %w)", err, failErr)
	}
	return err
}
