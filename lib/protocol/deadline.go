// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/ids"
)

// DeadlineTracker splits one run's deadline into per-phase deadlines.
// A phase deadline never extends past the overall deadline.
type DeadlineTracker struct {
	clock   clock.Clock
	session ids.SessionID
	overall time.Time

	mu     sync.Mutex
	phases map[string]time.Time
}

// NewDeadlineTracker starts tracking a run that must finish within
// budget of now.
func NewDeadlineTracker(source clock.Clock, session ids.SessionID, budget time.Duration) *DeadlineTracker {
	return &DeadlineTracker{
		clock:   source,
		session: session,
		overall: source.Now().Add(budget),
		phases:  make(map[string]time.Time),
	}
}

// Overall is the run's deadline.
func (d *DeadlineTracker) Overall() time.Time { return d.overall }

// Remaining is the time left before the overall deadline.
func (d *DeadlineTracker) Remaining() time.Duration {
	return max(d.overall.Sub(d.clock.Now()), 0)
}

// Begin starts phase name with the given budget and returns its
// deadline, clamped to the overall deadline.
func (d *DeadlineTracker) Begin(name string, budget time.Duration) time.Time {
	deadline := d.clock.Now().Add(budget)
	if deadline.After(d.overall) {
		deadline = d.overall
	}
	d.mu.Lock()
	d.phases[name] = deadline
	d.mu.Unlock()
	return deadline
}

// Check returns a KindDeadline error when phase name, or the run as a
// whole, is past its deadline.
func (d *DeadlineTracker) Check(name string) error {
	now := d.clock.Now()
	if !now.Before(d.overall) {
		return Errorf(KindDeadline, d.session, "run deadline %s passed", d.overall.Format(time.RFC3339Nano))
	}
	d.mu.Lock()
	deadline, ok := d.phases[name]
	d.mu.Unlock()
	if ok && !now.Before(deadline) {
		return Errorf(KindDeadline, d.session, "phase %s deadline %s passed", name, deadline.Format(time.RFC3339Nano))
	}
	return nil
}

// Phase begins phase name and returns a context that ends at its
// deadline. The deadline is measured on the tracker's clock, so with a
// fake clock the context ends when the clock is advanced past it.
func (d *DeadlineTracker) Phase(ctx context.Context, name string, budget time.Duration) (context.Context, context.CancelFunc) {
	deadline := d.Begin(name, budget)
	phaseCtx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-phaseCtx.Done():
		case <-d.clock.After(deadline.Sub(d.clock.Now())):
			cancel(Errorf(KindDeadline, d.session, "phase %s deadline passed", name))
		}
	}()
	return phaseCtx, func() { cancel(context.Canceled) }
}

// Cause converts the end of a phase context into its deadline error
// when that is why it ended.
func Cause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
