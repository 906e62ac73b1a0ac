// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Prefix is the storage prefix of every sealed share.
const Prefix = "frost_keys/"

// ErrNoShare is returned by Load for a device with no stored share.
var ErrNoShare = errors.New("keystore: no share stored")

type record struct {
	Device ids.DeviceID   `cbor:"1,keyasint"`
	Share  frost.KeyShare `cbor:"2,keyasint"`
}

// Keystore seals shares into a storage backend.
type Keystore struct {
	storage  effects.StorageEffects
	identity *Identity
	logger   *slog.Logger
}

// New returns a keystore sealing to identity. The keystore borrows the
// identity; the caller closes it.
func New(storage effects.StorageEffects, identity *Identity, logger *slog.Logger) *Keystore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Keystore{storage: storage, identity: identity, logger: logger}
}

// Key returns the storage key for device.
func Key(device ids.DeviceID) string { return Prefix + device.String() }

// Store seals share for device, replacing any previous share.
func (k *Keystore) Store(ctx context.Context, device ids.DeviceID, share frost.KeyShare) error {
	if err := share.Validate(); err != nil {
		return fmt.Errorf("keystore: refusing to store share for %s: %w", ids.Short(device), err)
	}
	plaintext, err := codec.Marshal(record{Device: device, Share: share})
	if err != nil {
		return fmt.Errorf("keystore: encoding share: %w", err)
	}
	sealed, err := k.identity.seal(plaintext)
	clear(plaintext)
	if err != nil {
		return err
	}
	if err := k.storage.Put(ctx, Key(device), sealed); err != nil {
		return fmt.Errorf("keystore: writing share: %w", err)
	}
	k.logger.Info("key share stored", "device", ids.Short(device), "identifier", uint16(share.Identifier))
	return nil
}

// Load unseals and validates the share of device.
func (k *Keystore) Load(ctx context.Context, device ids.DeviceID) (frost.KeyShare, error) {
	sealed, err := k.storage.Get(ctx, Key(device))
	if errors.Is(err, effects.ErrNotFound) {
		return frost.KeyShare{}, fmt.Errorf("%w for %s", ErrNoShare, ids.Short(device))
	}
	if err != nil {
		return frost.KeyShare{}, fmt.Errorf("keystore: reading share: %w", err)
	}
	plaintext, err := k.identity.unseal(sealed)
	if err != nil {
		return frost.KeyShare{}, fmt.Errorf("%w: %w", frost.ErrCorruptShare, err)
	}
	defer clear(plaintext)

	var stored record
	if err := codec.Unmarshal(plaintext, &stored); err != nil {
		return frost.KeyShare{}, fmt.Errorf("%w: decoding: %w", frost.ErrCorruptShare, err)
	}
	if stored.Device != device {
		return frost.KeyShare{}, fmt.Errorf("%w: record for %s stored under %s",
			frost.ErrCorruptShare, ids.Short(stored.Device), ids.Short(device))
	}
	if err := stored.Share.Validate(); err != nil {
		return frost.KeyShare{}, fmt.Errorf("keystore: share for %s: %w", ids.Short(device), err)
	}
	return stored.Share, nil
}

// Delete removes the share of device.
func (k *Keystore) Delete(ctx context.Context, device ids.DeviceID) error {
	if err := k.storage.Delete(ctx, Key(device)); err != nil {
		return fmt.Errorf("keystore: deleting share: %w", err)
	}
	return nil
}

// Devices lists devices with a stored share.
func (k *Keystore) Devices(ctx context.Context) ([]ids.DeviceID, error) {
	keys, err := k.storage.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("keystore: listing shares: %w", err)
	}
	devices := make([]ids.DeviceID, 0, len(keys))
	for _, key := range keys {
		device, err := ids.Parse[ids.DeviceID](strings.TrimPrefix(key, Prefix))
		if err != nil {
			return nil, fmt.Errorf("keystore: malformed key %q: %w", key, err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}
