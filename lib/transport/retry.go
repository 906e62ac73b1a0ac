// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
)

// RetryConfig bounds send retries.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// InitialDelay is the first backoff; each retry doubles it.
	InitialDelay time.Duration

	// MessageTimeout bounds each attempt. Zero disables it.
	MessageTimeout time.Duration

	// Clock measures MessageTimeout. Nil uses the real clock.
	Clock clock.Clock
}

// DefaultRetryConfig returns 3 retries from 100ms with a 5s attempt
// timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MessageTimeout: 5 * time.Second}
}

var _ effects.TransportEffects = (*RetryingSender)(nil)

// RetryingSender retries transient send failures. Receive passes
// through unchanged.
type RetryingSender struct {
	next   effects.TransportEffects
	config RetryConfig
	logger *slog.Logger
}

// NewRetryingSender wraps next.
func NewRetryingSender(next effects.TransportEffects, config RetryConfig, logger *slog.Logger) *RetryingSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &RetryingSender{next: next, config: config, logger: logger}
}

// IsTransient reports whether a send error may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, effects.ErrTimeout)
}

// Send attempts delivery until it succeeds, fails permanently, or the
// retries run out. The returned error is the last attempt's.
func (s *RetryingSender) Send(ctx context.Context, envelope effects.TransportEnvelope) error {
	backoff := retry.WithMaxRetries(s.config.MaxRetries, retry.NewExponential(s.config.InitialDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := effects.WithTimeout(ctx, s.config.Clock, "transport.send", s.config.MessageTimeout, func(ctx context.Context) error {
			return s.next.Send(ctx, envelope)
		})
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			s.logger.Warn("transport send failed, retrying",
				"destination", ids.Short(envelope.Destination),
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("transport: send after %d attempts: %w", attempt, err)
	}
	return nil
}

func (s *RetryingSender) Receive(ctx context.Context) (effects.TransportEnvelope, error) {
	return s.next.Receive(ctx)
}
