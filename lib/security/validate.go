// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/aura/lib/bootstrap"
	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/keystore"
	"github.com/bureau-foundation/aura/lib/tree"
	"github.com/bureau-foundation/aura/lib/treestore"
)

// Inputs names what Validate audits. Storage is required; every other
// field enables one more check.
type Inputs struct {
	Storage effects.StorageEffects

	// Base is the state the stored op log reduces over. ExpectedRoot,
	// when also set, must equal the recomputed root.
	Base         *tree.State
	ExpectedRoot *hash.Digest

	// Keystore enables the share checks. Public, when set, is the group
	// the shares and bootstrap records must belong to.
	Keystore *keystore.Keystore
	Public   *frost.PublicKeyPackage

	Logger *slog.Logger
}

// Validate audits inputs. Integrity failures are reported as issues;
// the error is non-nil only when the audit itself could not run.
func Validate(ctx context.Context, inputs Inputs) (Report, error) {
	logger := inputs.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var report Report

	ops, err := checkOpLog(ctx, inputs.Storage, &report)
	if err != nil {
		return Report{}, err
	}
	if inputs.Base != nil {
		checkRoot(*inputs.Base, inputs.ExpectedRoot, ops, &report)
	}
	if err := checkBootstrap(ctx, inputs.Storage, inputs.Public, &report); err != nil {
		return Report{}, err
	}
	if inputs.Keystore != nil {
		if err := checkShares(ctx, inputs.Keystore, inputs.Public, &report); err != nil {
			return Report{}, err
		}
	}

	for _, issue := range report.Critical("") {
		logger.Error("security violation",
			"component", issue.Component,
			"subject", issue.Subject,
			"message", issue.Message,
		)
	}
	logger.Info("security validation finished",
		"critical", report.Count(SeverityCritical),
		"warnings", report.Count(SeverityWarning),
		"ops", len(ops),
	)
	return report, nil
}

// checkOpLog verifies the tree op index and returns the ops that passed.
func checkOpLog(ctx context.Context, storage effects.StorageEffects, report *Report) ([]tree.AttestedOp, error) {
	data, err := storage.Get(ctx, treestore.IndexKey)
	if errors.Is(err, effects.ErrNotFound) {
		report.add(Info(ComponentOpLog, "", "no op log stored"))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("security: reading op index: %w", err)
	}
	var index []hash.Digest
	if err := codec.Unmarshal(data, &index); err != nil {
		report.add(Critical(ComponentOpLog, treestore.IndexKey, fmt.Sprintf("undecodable index: %v", err)))
		return nil, nil
	}

	indexed := make(map[string]struct{}, len(index))
	var ops []tree.AttestedOp
	for _, id := range index {
		key := treestore.OpKey(id)
		if _, duplicate := indexed[key]; duplicate {
			report.add(Critical(ComponentOpLog, id.Short(), "op listed twice in index"))
			continue
		}
		indexed[key] = struct{}{}

		data, err := storage.Get(ctx, key)
		if errors.Is(err, effects.ErrNotFound) {
			report.add(Critical(ComponentOpLog, id.Short(), "indexed op is missing"))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("security: reading op %s: %w", id.Short(), err)
		}
		var op tree.AttestedOp
		if err := codec.Unmarshal(data, &op); err != nil {
			report.add(Critical(ComponentOpLog, id.Short(), fmt.Sprintf("undecodable op: %v", err)))
			continue
		}
		actual, err := op.ContentID()
		if err != nil || actual != id {
			report.add(Critical(ComponentOpLog, id.Short(), fmt.Sprintf("content hash mismatch, stored op hashes to %s", actual.Short())))
			continue
		}
		ops = append(ops, op)
	}

	keys, err := storage.List(ctx, treestore.OpsPrefix)
	if err != nil {
		return nil, fmt.Errorf("security: listing ops: %w", err)
	}
	for _, key := range keys {
		if _, ok := indexed[key]; !ok {
			report.add(Warning(ComponentOpLog, key, "op record is not in the index"))
		}
	}
	return ops, nil
}

func checkRoot(base tree.State, expected *hash.Digest, ops []tree.AttestedOp, report *Report) {
	result, err := tree.Reduce(base, ops, tree.SignatureVerifier{})
	if err != nil {
		report.add(Critical(ComponentTree, "", fmt.Sprintf("reduction failed: %v", err)))
		return
	}
	for _, rejection := range result.Rejected {
		report.add(Warning(ComponentTree, rejection.ID.Short(), rejection.Err.Error()))
	}
	root := result.State.RootCommitment()
	if expected != nil && root != *expected {
		report.add(Critical(ComponentTree, "", fmt.Sprintf("recomputed root %s, expected %s", root.Short(), expected.Short())))
		return
	}
	report.add(Info(ComponentTree, "", fmt.Sprintf("root %s at epoch %d", root.Short(), uint64(result.State.Epoch()))))
}

func checkBootstrap(ctx context.Context, storage effects.StorageEffects, public *frost.PublicKeyPackage, report *Report) error {
	devices, err := bootstrap.List(ctx, storage)
	if errors.Is(err, bootstrap.ErrInvalid) {
		report.add(Critical(ComponentBootstrap, "", err.Error()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	for _, device := range devices {
		metadata, err := bootstrap.Read(ctx, storage, device)
		if errors.Is(err, bootstrap.ErrInvalid) {
			report.add(Critical(ComponentBootstrap, ids.Short(device), err.Error()))
			continue
		}
		if err != nil {
			return fmt.Errorf("security: %w", err)
		}
		if public != nil && metadata.GroupKey != hex.EncodeToString(public.GroupKey) {
			report.add(Critical(ComponentBootstrap, ids.Short(device), "group key does not match the signing group"))
		}
	}
	return nil
}

func checkShares(ctx context.Context, store *keystore.Keystore, public *frost.PublicKeyPackage, report *Report) error {
	devices, err := store.Devices(ctx)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	for _, device := range devices {
		subject := ids.Short(device)
		share, err := store.Load(ctx, device)
		if errors.Is(err, frost.ErrCorruptShare) {
			report.add(Critical(ComponentKeystore, subject, err.Error()))
			continue
		}
		if err != nil {
			return fmt.Errorf("security: %w", err)
		}
		if public == nil {
			continue
		}
		verifying, ok := public.Share(share.Identifier)
		switch {
		case !ok:
			report.add(Critical(ComponentKeystore, subject, fmt.Sprintf("identifier %d is not in the signing group", share.Identifier)))
		case !bytes.Equal(verifying, share.VerifyingShare):
			report.add(Critical(ComponentKeystore, subject, "verifying share does not match the signing group"))
		case !bytes.Equal(share.GroupKey, public.GroupKey):
			report.add(Critical(ComponentKeystore, subject, "share belongs to another group key"))
		}
	}
	return nil
}
