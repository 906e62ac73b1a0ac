// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"time"

	"github.com/bureau-foundation/aura/lib/effects"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout, or fails the
// test with what as the description of the wait.
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed without a value", what)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: timed out after %v", what, timeout)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close or deliver within timeout.
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: timed out after %v waiting for close", what, timeout)
	}
}

// RequireEnvelope receives one envelope from transport within timeout.
// A receive error, including the timeout, fails the test.
func RequireEnvelope(t TB, transport effects.TransportEffects, timeout time.Duration) effects.TransportEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	envelope, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving envelope: %v", err)
	}
	return envelope
}
