// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/aura/lib/ids"
)

// Kind classifies a protocol failure.
type Kind uint8

const (
	KindTimeout Kind = iota + 1
	KindThresholdNotMet
	KindByzantine
	KindSignatureInvalid
	KindDeadline
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindThresholdNotMet:
		return "threshold not met"
	case KindByzantine:
		return "byzantine"
	case KindSignatureInvalid:
		return "signature invalid"
	case KindDeadline:
		return "deadline exceeded"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Fatal reports whether a failure of this kind aborts the session
// rather than leaving it retryable.
func (k Kind) Fatal() bool {
	return k == KindByzantine || k == KindSignatureInvalid
}

// Error is a classified protocol failure.
type Error struct {
	Kind    Kind
	Session ids.SessionID
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol: session %s: %s", ids.Short(e.Session), e.Kind)
	}
	return fmt.Sprintf("protocol: session %s: %s: %v", ids.Short(e.Session), e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error whose cause is formatted from format and args.
// A %w verb keeps the wrapped error matchable.
func Errorf(kind Kind, session ids.SessionID, format string, args ...any) *Error {
	return &Error{Kind: kind, Session: session, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of the first Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var protocolError *Error
	if errors.As(err, &protocolError) {
		return protocolError.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries a protocol Error of kind.
func IsKind(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}
