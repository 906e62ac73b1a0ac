// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Version is the only metadata version this package writes or accepts.
const Version = "phase-0"

// Prefix is the storage prefix of every metadata record.
const Prefix = "bootstrap/"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("bootstrap: invalid metadata")

// Metadata describes how a device was provisioned.
type Metadata struct {
	DeviceID  ids.DeviceID    `json:"device_id"`
	Version   string          `json:"version"`
	Account   ids.AccountID   `json:"account"`
	Authority ids.AuthorityID `json:"authority"`

	// Threshold and Participants describe the signing group the device
	// joined.
	Threshold    uint16 `json:"threshold"`
	Participants uint16 `json:"participants"`

	// GroupKey is the hex-encoded group verifying key.
	GroupKey string `json:"group_key"`

	// CreatedAt is Unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}

// Validate checks that the metadata is complete and self-consistent.
func (m *Metadata) Validate() error {
	if m.Version != Version {
		return fmt.Errorf("%w: version %q, want %q", ErrInvalid, m.Version, Version)
	}
	if m.DeviceID.IsZero() {
		return fmt.Errorf("%w: device_id is required", ErrInvalid)
	}
	if m.Account.IsZero() {
		return fmt.Errorf("%w: account is required", ErrInvalid)
	}
	if m.Threshold == 0 || m.Threshold > m.Participants {
		return fmt.Errorf("%w: threshold %d of %d participants", ErrInvalid, m.Threshold, m.Participants)
	}
	if m.GroupKey == "" {
		return fmt.Errorf("%w: group_key is required", ErrInvalid)
	}
	if _, err := hex.DecodeString(m.GroupKey); err != nil {
		return fmt.Errorf("%w: group_key: %w", ErrInvalid, err)
	}
	if m.CreatedAt <= 0 {
		return fmt.Errorf("%w: created_at is required", ErrInvalid)
	}
	return nil
}

// Key returns the storage key for device.
func Key(device ids.DeviceID) string { return Prefix + device.String() }

// Write validates metadata and stores it under its device's key.
func Write(ctx context.Context, storage effects.StorageEffects, metadata *Metadata) error {
	if err := metadata.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("bootstrap: encoding metadata: %w", err)
	}
	if err := storage.Put(ctx, Key(metadata.DeviceID), data); err != nil {
		return fmt.Errorf("bootstrap: writing metadata: %w", err)
	}
	return nil
}

// Read loads and validates the metadata of device. A record whose
// device_id does not match its key is invalid.
func Read(ctx context.Context, storage effects.StorageEffects, device ids.DeviceID) (*Metadata, error) {
	data, err := storage.Get(ctx, Key(device))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reading metadata for %s: %w", ids.Short(device), err)
	}
	metadata, err := parse(data)
	if err != nil {
		return nil, err
	}
	if metadata.DeviceID != device {
		return nil, fmt.Errorf("%w: record for %s stored under %s",
			ErrInvalid, ids.Short(metadata.DeviceID), ids.Short(device))
	}
	return metadata, nil
}

// List returns the devices with stored metadata.
func List(ctx context.Context, storage effects.StorageEffects) ([]ids.DeviceID, error) {
	keys, err := storage.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: listing metadata: %w", err)
	}
	devices := make([]ids.DeviceID, 0, len(keys))
	for _, key := range keys {
		device, err := ids.Parse[ids.DeviceID](strings.TrimPrefix(key, Prefix))
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrInvalid, key, err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// WriteFile writes metadata as indented JSON with 0600 permissions.
func WriteFile(path string, metadata *Metadata) error {
	if err := metadata.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("bootstrap: encoding metadata: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("bootstrap: writing %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and validates metadata from path.
func ReadFile(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reading %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Metadata, error) {
	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	return &metadata, nil
}
