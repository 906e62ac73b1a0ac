// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bloom wraps a Bloom filter with the parameters it was built
// from, so two filters can be checked for compatibility before a union
// and a decoded filter remembers its false-positive rate.
//
// Anti-entropy digests are Bloom filters over op content ids. A false
// positive makes a replica believe it already holds an op; the next
// sync round picks it up once the filters differ again.
package bloom
