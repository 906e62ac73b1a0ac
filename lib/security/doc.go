// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package security audits persisted state for integrity failures.
//
// [Validate] walks the stored commitment-tree op log, the bootstrap
// metadata records and the sealed FROST key shares, and returns a
// [Report] of [Issue] values. Integrity failures (a broken op index, a
// share that no longer matches its verifying share, a recomputed root
// that differs from the expected one) are [SeverityCritical] issues of
// kind [KindCriticalSecurityViolation].
//
// A [Gate] holds the latest report per component. A component with an
// outstanding critical issue refuses to serve until an operator clears
// it.
package security
