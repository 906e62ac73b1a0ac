// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/aura/lib/clock"
)

var (
	// ErrTimeout is wrapped by every TimeoutError.
	ErrTimeout = errors.New("effects: operation timed out")

	// ErrNotFound is returned by storage reads of absent keys.
	ErrNotFound = errors.New("effects: not found")

	// ErrInsufficientBudget is returned when a flow-budget charge
	// exceeds the remaining budget.
	ErrInsufficientBudget = errors.New("effects: insufficient flow budget")

	// ErrLeakageBudgetExceeded is returned when recording an event would
	// exceed an observer class budget.
	ErrLeakageBudgetExceeded = errors.New("effects: leakage budget exceeded")

	// ErrInvalidReceipt is returned for receipts that fail signature,
	// epoch or replay checks.
	ErrInvalidReceipt = errors.New("effects: invalid receipt")
)

// TimeoutError reports a blocking operation that did not finish in
// time.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("effects: %s timed out after %s", e.Operation, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// WithTimeout runs fn under a deadline of after, measured on source,
// and converts the deadline firing into a TimeoutError. With a fake
// clock the deadline fires only when the clock is advanced past it. A
// non-positive after runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, source clock.Clock, operation string, after time.Duration, fn func(context.Context) error) error {
	if after <= 0 {
		return fn(ctx)
	}
	timeout := &TimeoutError{Operation: operation, After: after}
	bounded, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)
	expired := source.After(after)
	go func() {
		select {
		case <-bounded.Done():
		case <-expired:
			cancel(timeout)
		}
	}()
	err := fn(bounded)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(bounded), ErrTimeout) {
		return timeout
	}
	return err
}
