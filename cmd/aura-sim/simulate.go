// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/aura/lib/antientropy"
	"github.com/bureau-foundation/aura/lib/bootstrap"
	"github.com/bureau-foundation/aura/lib/config"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/keystore"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/dkd"
	"github.com/bureau-foundation/aura/lib/protocol/protocoltest"
	"github.com/bureau-foundation/aura/lib/protocol/recovery"
	"github.com/bureau-foundation/aura/lib/security"
	"github.com/bureau-foundation/aura/lib/storage"
	"github.com/bureau-foundation/aura/lib/transport"
	"github.com/bureau-foundation/aura/lib/tree"
	"github.com/bureau-foundation/aura/lib/treestore"
	"github.com/bureau-foundation/aura/lib/version"
)

// scenario holds the command-line shape of one run.
type scenario struct {
	Seed       uint64
	Devices    int
	Threshold  uint16
	Operations int
}

// The account owner is device 0; every other device is a guardian, so
// the threshold must fit within the guardians.
func (s scenario) validate() error {
	if s.Devices < 3 {
		return fmt.Errorf("--devices must be at least 3, got %d", s.Devices)
	}
	if s.Threshold < 2 || int(s.Threshold) > s.Devices-1 {
		return fmt.Errorf("--threshold must be between 2 and %d, got %d", s.Devices-1, s.Threshold)
	}
	if s.Operations < 0 {
		return fmt.Errorf("--ops must not be negative, got %d", s.Operations)
	}
	return nil
}

func (s scenario) derive(label string, index uint64) [32]byte {
	material := binary.BigEndian.AppendUint64(nil, s.Seed)
	material = binary.BigEndian.AppendUint64(material, index)
	return hash.Derive32("aura-sim "+label, material)
}

func (s scenario) seeds() [][]byte {
	seeds := make([][]byte, s.Devices)
	for index := range seeds {
		seed := s.derive("device seed", uint64(index))
		seeds[index] = seed[:]
	}
	return seeds
}

// Summary is the JSON document aura-sim prints.
type Summary struct {
	Version   version.Summary `json:"version"`
	Seed      uint64          `json:"seed"`
	Threshold uint16          `json:"threshold"`
	Storage   string          `json:"storage"`
	Devices   []DeviceSummary `json:"devices"`
	DKD       DKDSummary      `json:"dkd"`
	Tree      TreeSummary     `json:"tree"`
	Sync      SyncSummary     `json:"sync"`
	Recovery  RecoverySummary `json:"recovery"`
	Security  SecuritySummary `json:"security"`
}

type DeviceSummary struct {
	Authority string `json:"authority"`
	Device    string `json:"device"`
	// FlowEpoch is the device's flow-budget epoch after sync. It
	// follows the device's tree epoch.
	FlowEpoch uint64 `json:"flow_epoch"`
}

type DKDSummary struct {
	Context      string `json:"context"`
	Key          string `json:"key"`
	Contributors int    `json:"contributors"`
	Agreed       bool   `json:"agreed"`
}

type TreeSummary struct {
	Genesis    string `json:"genesis_root"`
	Root       string `json:"root"`
	Epoch      uint64 `json:"epoch"`
	Leaves     uint32 `json:"leaves"`
	Operations int    `json:"operations"`
}

type SyncSummary struct {
	Sessions         int                `json:"sessions"`
	Completed        uint64             `json:"completed"`
	Failed           uint64             `json:"failed"`
	OperationsSynced uint64             `json:"operations_synced"`
	Converged        bool               `json:"converged"`
	Metrics          map[string]float64 `json:"metrics"`
}

type RecoverySummary struct {
	Account    string   `json:"account"`
	EvidenceID string   `json:"evidence_id"`
	Guardians  []uint16 `json:"guardians"`
	Approvals  int      `json:"approvals"`
}

type SecuritySummary struct {
	Critical int              `json:"critical"`
	Warnings int              `json:"warnings"`
	Issues   []security.Issue `json:"issues,omitempty"`
}

// simulate runs the whole scenario. Any failed step aborts the run;
// divergence after sync is reported rather than returned.
func simulate(ctx context.Context, cfg *config.Config, options scenario, logger *slog.Logger) (*Summary, error) {
	group, stores, err := buildGroup(cfg, options, logger)
	defer closeStores(stores, logger)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Version:   version.Describe(),
		Seed:      options.Seed,
		Threshold: options.Threshold,
		Storage:   cfg.Storage.Backend,
	}
	for _, system := range group.Systems {
		summary.Devices = append(summary.Devices, DeviceSummary{
			Authority: system.Authority.String(),
			Device:    system.Device.String(),
		})
	}

	timeouts := protocol.NewTimeoutManager(cfg.Timeouts.Resolve(), group.Clock, logger)
	derived, err := deriveGroupKey(ctx, group, timeouts, options, summary)
	if err != nil {
		return nil, err
	}

	genesis, ops, err := growTree(group, derived.Point, options)
	if err != nil {
		return nil, err
	}
	summary.Tree.Genesis = genesis.RootCommitment().String()
	summary.Tree.Operations = len(ops)

	root, err := reconcile(ctx, cfg, group, genesis, ops, logger, summary)
	if err != nil {
		return nil, err
	}

	account := ids.AccountID(options.derive("account", 0))
	shares, public, err := recoverAccount(ctx, cfg, group, account, options, logger, summary)
	if err != nil {
		return nil, err
	}

	if err := audit(ctx, group, account, genesis, root, shares, public, options, logger, summary); err != nil {
		return summary, err
	}
	logger.Info("simulation finished",
		"devices", options.Devices,
		"root", root.Short(),
		"converged", summary.Sync.Converged,
		"evidence", summary.Recovery.EvidenceID,
	)
	return summary, nil
}

// buildGroup opens one store per device and joins every device to the
// simulated network. Endpoints retry transient send failures and
// compress payloads when the session runtime asks for it.
func buildGroup(cfg *config.Config, options scenario, logger *slog.Logger) (*protocoltest.Group, []storage.Store, error) {
	var stores []storage.Store
	openStorage := func(index int) (effects.StorageEffects, error) {
		path := cfg.Storage.Path
		switch cfg.Storage.Backend {
		case storage.BackendSQLite:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
			path = filepath.Join(path, fmt.Sprintf("device-%d.db", index))
		case storage.BackendBadger:
			path = filepath.Join(path, fmt.Sprintf("device-%d", index))
		}
		store, err := storage.Open(cfg.Storage.Backend, path, logger)
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
		return store, nil
	}

	retry := cfg.SessionRuntime.Retry()
	encoding := cfg.SessionRuntime.Compression()
	wrap := func(endpoint effects.TransportEffects) (effects.TransportEffects, error) {
		var next effects.TransportEffects = transport.NewRetryingSender(endpoint, retry, logger)
		if encoding == "" {
			return next, nil
		}
		return transport.NewCompressor(next, encoding, transport.DefaultCompressionThreshold)
	}

	group, err := protocoltest.Build(protocoltest.Options{
		Logger:    logger,
		Storage:   openStorage,
		Transport: wrap,
	}, options.seeds()...)
	return group, stores, err
}

func closeStores(stores []storage.Store, logger *slog.Logger) {
	for _, store := range stores {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}
}

// deriveGroupKey runs DKD across every device.
func deriveGroupKey(ctx context.Context, group *protocoltest.Group, timeouts *protocol.TimeoutManager, options scenario, summary *Summary) (dkd.Result, error) {
	session, err := ids.Random[ids.SessionID](group.Systems[0].Random)
	if err != nil {
		return dkd.Result{}, err
	}
	phase := timeouts.Timeout(protocol.OperationDKD)
	config := dkd.Config{
		App:           "aura-sim",
		Context:       "group-key",
		Threshold:     options.Threshold,
		CommitTimeout: phase,
		RevealTimeout: phase,
	}

	results, errs := protocoltest.Collect(ctx, protocoltest.All(len(group.Systems)), func(ctx context.Context, index int) (dkd.Result, error) {
		var result dkd.Result
		err := timeouts.Run(ctx, session, protocol.OperationDKD, func(ctx context.Context) error {
			var err error
			result, err = dkd.Run(ctx, group.Context(index, session, options.Threshold), config)
			return err
		})
		return result, err
	})
	var failures *multierror.Error
	for index, err := range errs {
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("device %d: %w", index, err))
		}
	}
	if err := failures.ErrorOrNil(); err != nil {
		return dkd.Result{}, fmt.Errorf("dkd: %w", err)
	}

	agreed := true
	for _, result := range results[1:] {
		agreed = agreed && result.Key == results[0].Key
	}
	summary.DKD = DKDSummary{
		Context:      results[0].Context.String(),
		Key:          hex.EncodeToString(results[0].Key[:]),
		Contributors: len(results[0].Contributors),
		Agreed:       agreed,
	}
	return results[0], nil
}

// growTree builds the founding tree over every device and a chain of
// ops enrolling new devices, each signed by device 0's leaf key.
func growTree(group *protocoltest.Group, groupKey []byte, options scenario) (tree.State, []tree.AttestedOp, error) {
	leaves := make([]tree.Leaf, len(group.Systems))
	for index, system := range group.Systems {
		leaves[index] = tree.Leaf{
			ID:         [32]byte(system.Device),
			Role:       tree.RoleDevice,
			SigningKey: system.Crypto.PublicKey(),
		}
	}
	genesis, err := tree.Genesis(leaves, groupKey)
	if err != nil {
		return tree.State{}, nil, fmt.Errorf("genesis: %w", err)
	}
	signer := group.Systems[0]
	signerLeaf, ok := genesis.FindLeaf([32]byte(signer.Device))
	if !ok {
		return tree.State{}, nil, fmt.Errorf("genesis: device 0 has no leaf")
	}

	state := genesis
	ops := make([]tree.AttestedOp, 0, options.Operations)
	for index := range options.Operations {
		seed := options.derive("enrolled key", uint64(index))
		key := ed25519.NewKeyFromSeed(seed[:])
		leaf := tree.Leaf{
			ID:         options.derive("enrolled device", uint64(index)),
			Role:       tree.RoleDevice,
			SigningKey: key.Public().(ed25519.PublicKey),
		}
		op, err := tree.NewOp(state, tree.AddLeaf{Leaf: leaf})
		if err != nil {
			return tree.State{}, nil, fmt.Errorf("op %d: %w", index, err)
		}
		if state, err = tree.Apply(state, op); err != nil {
			return tree.State{}, nil, fmt.Errorf("applying op %d: %w", index, err)
		}
		message, err := op.SigningBytes()
		if err != nil {
			return tree.State{}, nil, err
		}
		signature, err := signer.Crypto.Sign(message)
		if err != nil {
			return tree.State{}, nil, err
		}
		ops = append(ops, tree.AttestedOp{
			Op:          op,
			SignerNode:  signerLeaf.Node(),
			SignerCount: 1,
			Signature:   signature,
		})
	}
	return genesis, ops, nil
}

// reconcile deals op j to device j mod n, then lets every device run
// one anti-entropy pass against all of its peers in turn.
func reconcile(ctx context.Context, cfg *config.Config, group *protocoltest.Group, genesis tree.State, ops []tree.AttestedOp, logger *slog.Logger, summary *Summary) (hash.Digest, error) {
	network := antientropy.NewNetwork(logger)
	registry := prometheus.NewRegistry()
	metrics := antientropy.NewMetrics(registry)
	serviceConfig := cfg.AntiEntropy.Service()

	stores := make([]*treestore.Store, len(group.Systems))
	services := make([]*antientropy.Service, len(group.Systems))
	for index, system := range group.Systems {
		store, err := treestore.New(system.Storage, genesis, treestore.Options{
			Verifier: tree.SignatureVerifier{},
			Logger:   logger,
			Flow:     system.Flow,
		})
		if err != nil {
			return hash.Digest{}, fmt.Errorf("device %d tree store: %w", index, err)
		}
		var held []tree.AttestedOp
		for position, op := range ops {
			if position%len(group.Systems) == index {
				held = append(held, op)
			}
		}
		if _, err := store.Merge(ctx, held); err != nil {
			return hash.Digest{}, fmt.Errorf("device %d seeding ops: %w", index, err)
		}
		system.Sync = network.Join(system.Authority, store, system.Random, antientropy.ReplicaConfig{
			Bloom:     serviceConfig.Bloom,
			BatchSize: serviceConfig.BatchSize,
		})
		service, err := antientropy.New(system, serviceConfig, antientropy.Options{
			Metrics: metrics,
			Logger:  logger.With("device", index),
		})
		if err != nil {
			return hash.Digest{}, fmt.Errorf("device %d sync service: %w", index, err)
		}
		stores[index], services[index] = store, service
	}

	for index, service := range services {
		sessions, err := service.SyncAll(ctx)
		if err != nil {
			return hash.Digest{}, fmt.Errorf("device %d sync: %w", index, err)
		}
		summary.Sync.Sessions += len(sessions)
		stats := service.Stats()
		summary.Sync.Completed += stats.SessionsCompleted
		summary.Sync.Failed += stats.SessionsFailed
		summary.Sync.OperationsSynced += stats.OperationsSynced
	}

	var root hash.Digest
	summary.Sync.Converged = true
	for index, store := range stores {
		state, err := store.State(ctx)
		if err != nil {
			return hash.Digest{}, fmt.Errorf("device %d state: %w", index, err)
		}
		summary.Devices[index].FlowEpoch = uint64(group.Systems[index].Flow.Epoch())
		commitment := state.RootCommitment()
		if index == 0 {
			root = commitment
			summary.Tree.Root = commitment.String()
			summary.Tree.Epoch = uint64(state.Epoch())
			summary.Tree.Leaves = state.NumLeaves()
			continue
		}
		if commitment != root {
			summary.Sync.Converged = false
			logger.Warn("device diverged after sync", "device", index, "root", commitment.Short(), "want", root.Short())
		}
	}

	families, err := registry.Gather()
	if err != nil {
		return hash.Digest{}, fmt.Errorf("gathering metrics: %w", err)
	}
	summary.Sync.Metrics = make(map[string]float64, len(families))
	for _, family := range families {
		var total float64
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		summary.Sync.Metrics[family.GetName()] = total
	}
	return root, nil
}

// recoverAccount binds devices 1..n-1 as guardians of an account owned
// by device 0 and runs one recovery through to evidence.
func recoverAccount(ctx context.Context, cfg *config.Config, group *protocoltest.Group, account ids.AccountID, options scenario, logger *slog.Logger, summary *Summary) ([]frost.KeyShare, frost.PublicKeyPackage, error) {
	owner := group.Systems[0]
	shares, public, err := frost.GenerateWithDealer(options.Threshold, uint16(len(group.Systems)-1), owner.Random)
	if err != nil {
		return nil, frost.PublicKeyPackage{}, fmt.Errorf("guardian shares: %w", err)
	}

	executor := protocol.NewExecutor(owner, protocol.ExecutorOptions{Logger: logger})
	recovery.Grants(executor)
	accountSide := recovery.NewAccount(executor, recovery.Config{
		Account:   account,
		Guardians: public,
		Cooldown:  cfg.Recovery.Cooldown,
	}, logger)

	parameters := journal.GuardianParameters{RecoveryDelay: recovery.MinRecoveryDelay}
	guardians := make([]*recovery.Guardian, 0, len(shares))
	for index, share := range shares {
		// Guardians read and write the account context through the
		// owner's journal.
		replica := *group.Systems[index+1]
		replica.Journal = owner.Journal
		guardianExecutor := protocol.NewExecutor(&replica, protocol.ExecutorOptions{Logger: logger})
		recovery.Grants(guardianExecutor)
		guardian := recovery.NewGuardian(guardianExecutor, account, share, logger)
		if err := accountSide.BindGuardian(ctx, journal.GuardianBinding{
			Guardian:        guardian.Authority(),
			Parameters:      parameters,
			ShareIdentifier: uint16(share.Identifier),
		}); err != nil {
			return nil, frost.PublicKeyPackage{}, fmt.Errorf("binding guardian %d: %w", index+1, err)
		}
		guardians = append(guardians, guardian)
	}

	replacement := options.derive("replacement device", 0)
	request, err := accountSide.Request(ctx, replacement[:])
	if err != nil {
		return nil, frost.PublicKeyPackage{}, fmt.Errorf("recovery request: %w", err)
	}
	group.Clock.Advance(parameters.RecoveryDelay)

	approvers := guardians[:options.Threshold]
	for _, guardian := range approvers {
		if _, err := guardian.Approve(ctx, request); err != nil {
			return nil, frost.PublicKeyPackage{}, fmt.Errorf("approval by %s: %w", ids.Short(guardian.Authority()), err)
		}
	}
	approvals, err := accountSide.Approvals(ctx, request)
	if err != nil {
		return nil, frost.PublicKeyPackage{}, err
	}
	signatureShares := make([]frost.SignatureShare, 0, len(approvers))
	for _, guardian := range approvers {
		share, err := guardian.SignShare(ctx, request)
		if err != nil {
			return nil, frost.PublicKeyPackage{}, fmt.Errorf("signature share from %s: %w", ids.Short(guardian.Authority()), err)
		}
		signatureShares = append(signatureShares, share)
	}
	evidence, err := accountSide.Complete(ctx, request, signatureShares)
	if err != nil {
		return nil, frost.PublicKeyPackage{}, fmt.Errorf("completing recovery: %w", err)
	}

	summary.Recovery = RecoverySummary{
		Account:    account.String(),
		EvidenceID: evidence.ID,
		Approvals:  approvals,
	}
	for _, identifier := range evidence.Guardians {
		summary.Recovery.Guardians = append(summary.Recovery.Guardians, uint16(identifier))
	}
	return shares, public, nil
}

// audit seals each guardian's share into its device keystore, records
// bootstrap metadata, and validates every device. A critical issue in
// any component fails the run.
func audit(ctx context.Context, group *protocoltest.Group, account ids.AccountID, genesis tree.State, root hash.Digest, shares []frost.KeyShare, public frost.PublicKeyPackage, options scenario, logger *slog.Logger, summary *Summary) error {
	identity, err := keystore.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("keystore identity: %w", err)
	}
	defer identity.Close()

	gate := security.NewGate()
	for index, system := range group.Systems {
		keys := keystore.New(system.Storage, identity, logger)
		if index > 0 {
			if err := keys.Store(ctx, system.Device, shares[index-1]); err != nil {
				return fmt.Errorf("device %d keystore: %w", index, err)
			}
			if err := bootstrap.Write(ctx, system.Storage, &bootstrap.Metadata{
				DeviceID:     system.Device,
				Version:      bootstrap.Version,
				Account:      account,
				Authority:    system.Authority,
				Threshold:    options.Threshold,
				Participants: uint16(len(shares)),
				GroupKey:     hex.EncodeToString(public.GroupKey),
				CreatedAt:    system.Time.Now().UnixMilli(),
			}); err != nil {
				return fmt.Errorf("device %d bootstrap: %w", index, err)
			}
		}

		report, err := security.Validate(ctx, security.Inputs{
			Storage:      system.Storage,
			Base:         &genesis,
			ExpectedRoot: &root,
			Keystore:     keys,
			Public:       &public,
			Logger:       logger.With("device", index),
		})
		if err != nil {
			return fmt.Errorf("device %d validation: %w", index, err)
		}
		gate.Record(report)
		summary.Security.Critical += report.Count(security.SeverityCritical)
		summary.Security.Warnings += report.Count(security.SeverityWarning)
		for _, issue := range report.Issues {
			if issue.Severity != security.SeverityInfo {
				summary.Security.Issues = append(summary.Security.Issues, issue)
			}
		}
	}

	var refused *multierror.Error
	for _, component := range []string{security.ComponentOpLog, security.ComponentTree, security.ComponentKeystore, security.ComponentBootstrap} {
		if err := gate.Refuse(component); err != nil {
			refused = multierror.Append(refused, err)
		}
	}
	return refused.ErrorOrNil()
}
