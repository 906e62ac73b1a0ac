// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
)

const (
	// MinRecoveryDelay is the floor applied to every guardian's delay,
	// whatever its parameters say.
	MinRecoveryDelay = time.Hour
	// MaxRecoveryDelay is the longest delay a parameter update may set.
	MaxRecoveryDelay = 30 * 24 * time.Hour
	// DefaultCooldown separates one completed recovery from the next
	// request.
	DefaultCooldown = 24 * time.Hour
)

var (
	// ErrPermissionDenied is wrapped by every PermissionDeniedError.
	ErrPermissionDenied = errors.New("recovery: permission denied")
	// ErrInvalidDelay is returned for a recovery delay outside
	// [MinRecoveryDelay, MaxRecoveryDelay].
	ErrInvalidDelay = errors.New("recovery: recovery delay out of range")
	// ErrNoBinding is returned when a guardian has no binding for the
	// account.
	ErrNoBinding = errors.New("recovery: guardian has no binding")
	// ErrAlreadyCompleted is returned when completing a request that
	// already has evidence.
	ErrAlreadyCompleted = errors.New("recovery: request already completed")
)

// PermissionDeniedError is a refusal to request or approve a recovery.
type PermissionDeniedError struct {
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return "recovery: permission denied: " + e.Reason
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

func denied(format string, args ...any) error {
	return &PermissionDeniedError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateDelay checks a recovery delay against the accepted range.
func ValidateDelay(delay time.Duration) error {
	if delay < MinRecoveryDelay || delay > MaxRecoveryDelay {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDelay, delay, MinRecoveryDelay, MaxRecoveryDelay)
	}
	return nil
}

// Binding returns the newest binding of guardian in snapshot.
func Binding(snapshot journal.ContextSnapshot, guardian ids.AuthorityID) (journal.GuardianBinding, bool) {
	entry, ok := snapshot.Latest(journal.FactGuardianBinding, guardian.String())
	if !ok {
		return journal.GuardianBinding{}, false
	}
	var binding journal.GuardianBinding
	if err := entry.Fact.Decode(&binding); err != nil {
		return journal.GuardianBinding{}, false
	}
	return binding, true
}

// Evaluate decides whether guardian may approve request at now. It
// reads only snapshot, so every guardian holding the same snapshot
// reaches the same decision. A nil result means approval is allowed;
// a guardian may still decline.
func Evaluate(snapshot journal.ContextSnapshot, guardian ids.AuthorityID, request journal.RecoveryRequest, now time.Time) error {
	binding, ok := Binding(snapshot, guardian)
	if !ok || binding.Account != request.Account {
		return denied("guardian %s is not bound to account %s", ids.Short(guardian), ids.Short(request.Account))
	}
	if binding.Expired(now) {
		return denied("guardian binding expired at %s", time.UnixMilli(binding.ExpiresAt).UTC().Format(time.RFC3339))
	}
	delay := max(binding.Parameters.RecoveryDelay, MinRecoveryDelay)
	ready := time.UnixMilli(request.RequestedAt).Add(delay)
	if now.Before(ready) {
		return denied("recovery delay of %s has not elapsed, %s remaining", delay, ready.Sub(now))
	}
	if binding.Parameters.NotificationRequired {
		entry, ok := snapshot.Latest(journal.FactGuardianNotification, guardian.String())
		var notification journal.GuardianNotification
		if !ok || entry.Fact.Decode(&notification) != nil || notification.Account != request.Account {
			return denied("guardian %s requires notification before approving", ids.Short(guardian))
		}
	}
	return nil
}
