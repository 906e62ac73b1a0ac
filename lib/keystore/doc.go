// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore persists FROST key shares under
// "frost_keys/<device_hex>".
//
// Shares are sealed with age to an X25519 identity before they reach
// storage, so a storage backend never sees key material in the clear.
// The identity's private key lives in a [Locked] buffer: memory mapped
// outside the Go heap, locked against swap where the process is allowed
// to, excluded from core dumps, and zeroed on Close.
//
// A sealed record names the device it belongs to. [Keystore.Load]
// rejects a record stored under another device's key, a record that
// fails to unseal, and a share whose secret does not match its
// verifying share; all three wrap [frost.ErrCorruptShare] so security
// validation can report them uniformly.
package keystore
