// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap defines the metadata a device records when it is
// first provisioned into an account: which device it is, which account
// it joined, the threshold configuration it was given, and the group
// verifying key the account signs under.
//
// Metadata is stored as JSON under "bootstrap/<device_hex>" with
// version "phase-0". [Read] validates what it loads, so a device never
// starts from metadata that names another device or an unknown
// version; security validation reports such records as critical.
//
// Storage operations:
//
//   - [Write] validates and stores metadata
//   - [Read] loads and validates metadata for one device
//   - [List] enumerates provisioned devices
//
// [WriteFile] and [ReadFile] move the same JSON to and from disk with
// 0600 permissions for out-of-band provisioning.
package bootstrap
