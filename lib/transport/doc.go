// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport moves [effects.TransportEnvelope] values between
// authorities.
//
// [Network] is an in-process network: each member gets an [Endpoint]
// implementing [effects.TransportEffects] with an unbounded FIFO inbox,
// so envelopes from one sender reach a receiver in the order they were
// sent. Links can be partitioned to exercise failure paths.
//
// Two wrappers add behavior to any TransportEffects:
//
//   - [RetryingSender] retries transient send failures with bounded
//     exponential backoff and a per-attempt timeout.
//   - [Compressor] compresses payloads above a size threshold with zstd
//     or LZ4 and records the encoding in envelope metadata.
package transport
