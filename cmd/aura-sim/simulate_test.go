// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/aura/lib/config"
	"github.com/bureau-foundation/aura/lib/storage"
)

func runScenario(t *testing.T, cfg *config.Config, options scenario) *Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	summary, err := simulate(ctx, cfg, options, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	return summary
}

func TestSimulate(t *testing.T) {
	options := scenario{Seed: 7, Devices: 4, Threshold: 2, Operations: 5}
	summary := runScenario(t, config.Default(), options)

	if len(summary.Devices) != 4 {
		t.Fatalf("devices = %d", len(summary.Devices))
	}
	if !summary.DKD.Agreed || summary.DKD.Contributors != 4 {
		t.Errorf("dkd = %+v", summary.DKD)
	}
	if !summary.Sync.Converged {
		t.Error("devices did not converge")
	}
	if summary.Tree.Leaves != 9 || summary.Tree.Epoch != 5 {
		t.Errorf("tree = %+v", summary.Tree)
	}
	for index, device := range summary.Devices {
		if device.FlowEpoch != summary.Tree.Epoch {
			t.Errorf("device %d flow epoch %d, tree epoch %d", index, device.FlowEpoch, summary.Tree.Epoch)
		}
	}
	if summary.Tree.Root == summary.Tree.Genesis {
		t.Error("root did not advance past genesis")
	}
	if summary.Sync.Sessions != 12 || summary.Sync.Completed != 12 || summary.Sync.Failed != 0 {
		t.Errorf("sync = %+v", summary.Sync)
	}
	if summary.Sync.Metrics["aura_sync_sessions_total"] != 12 {
		t.Errorf("sessions metric = %v", summary.Sync.Metrics["aura_sync_sessions_total"])
	}
	if summary.Recovery.Approvals != 2 || len(summary.Recovery.Guardians) != 2 {
		t.Errorf("recovery = %+v", summary.Recovery)
	}
	if !strings.HasPrefix(summary.Recovery.EvidenceID, summary.Recovery.Account+":") {
		t.Errorf("evidence id %q does not name account %s", summary.Recovery.EvidenceID, summary.Recovery.Account)
	}
	if summary.Security.Critical != 0 || summary.Security.Warnings != 0 {
		t.Errorf("security issues: %+v", summary.Security.Issues)
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	options := scenario{Seed: 42, Devices: 3, Threshold: 2, Operations: 3}
	first := runScenario(t, config.Default(), options)
	second := runScenario(t, config.Default(), options)

	if first.DKD.Key != second.DKD.Key {
		t.Error("derived keys differ between runs")
	}
	if first.Tree.Root != second.Tree.Root {
		t.Error("tree roots differ between runs")
	}
	if first.Recovery.EvidenceID != second.Recovery.EvidenceID {
		t.Errorf("evidence %q vs %q", first.Recovery.EvidenceID, second.Recovery.EvidenceID)
	}

	other := runScenario(t, config.Default(), scenario{Seed: 43, Devices: 3, Threshold: 2, Operations: 3})
	if other.DKD.Key == first.DKD.Key || other.Devices[0].Authority == first.Devices[0].Authority {
		t.Error("a different seed produced the same identities")
	}
}

func TestSimulateSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = storage.BackendSQLite
	cfg.Storage.Path = t.TempDir()
	summary := runScenario(t, cfg, scenario{Seed: 3, Devices: 3, Threshold: 2, Operations: 2})
	if !summary.Sync.Converged || summary.Security.Critical != 0 {
		t.Errorf("sync = %+v, security = %+v", summary.Sync, summary.Security)
	}
}

func TestScenarioValidate(t *testing.T) {
	tests := []struct {
		name    string
		options scenario
		wantErr string
	}{
		{"Valid", scenario{Devices: 3, Threshold: 2}, ""},
		{"TooFewDevices", scenario{Devices: 2, Threshold: 2}, "--devices"},
		{"ThresholdOfOne", scenario{Devices: 4, Threshold: 1}, "--threshold"},
		{"ThresholdAboveGuardians", scenario{Devices: 4, Threshold: 4}, "--threshold"},
		{"NegativeOps", scenario{Devices: 3, Threshold: 2, Operations: -1}, "--ops"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.options.validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, test.wantErr)
			}
		})
	}
}
