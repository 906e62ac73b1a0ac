// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers Aura binaries use for
// the raw output that happens outside the structured logger: reporting
// a fatal error before the logger exists, and exiting with a code the
// error chooses.
package process
