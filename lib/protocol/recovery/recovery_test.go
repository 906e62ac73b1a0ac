// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/protocoltest"
)

var account = ids.Fill[ids.AccountID](0xac)

type ceremony struct {
	group     *protocoltest.Group
	account   *Account
	guardians []*Guardian
}

// newCeremony binds three guardians, 2-of-3, to the account owned by
// participant 0. Guardians write to the owner's journal, standing in
// for their replica of the account context.
func newCeremony(t *testing.T, parameters journal.GuardianParameters) ceremony {
	t.Helper()
	group := protocoltest.NewGroup(t, protocoltest.Seeds(4)...)
	shares, public, err := frost.GenerateWithDealer(2, 3, rand.NewChaCha8([32]byte{17}))
	if err != nil {
		t.Fatal(err)
	}
	owner := protocol.NewExecutor(group.Systems[0], protocol.ExecutorOptions{})
	Grants(owner)
	c := ceremony{group: group, account: NewAccount(owner, Config{Account: account, Guardians: public}, nil)}
	for index := 1; index <= 3; index++ {
		replica := *group.Systems[index]
		replica.Journal = group.Systems[0].Journal
		executor := protocol.NewExecutor(&replica, protocol.ExecutorOptions{})
		Grants(executor)
		guardian := NewGuardian(executor, account, shares[index-1], nil)
		c.guardians = append(c.guardians, guardian)
		if err := c.account.BindGuardian(context.Background(), journal.GuardianBinding{
			Guardian:        guardian.Authority(),
			Parameters:      parameters,
			ShareIdentifier: uint16(index),
		}); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func (c ceremony) approvalCount(t *testing.T) int {
	t.Helper()
	snapshot, err := c.group.Systems[0].Journal.Snapshot(context.Background(), c.account.Context())
	if err != nil {
		t.Fatal(err)
	}
	return len(snapshot.OfType(journal.FactGuardianApproval))
}

func TestRecoveryHappyPathAndCooldown(t *testing.T) {
	ctx := context.Background()
	c := newCeremony(t, journal.GuardianParameters{RecoveryDelay: time.Hour})

	request, err := c.account.Request(ctx, []byte("new device key"))
	if err != nil {
		t.Fatal(err)
	}
	var refusal *PermissionDeniedError
	if _, err := c.guardians[0].Approve(ctx, request); !errors.As(err, &refusal) {
		t.Fatalf("approval before the delay: err = %v", err)
	}

	c.group.Clock.Advance(time.Hour)
	for _, guardian := range c.guardians[:2] {
		if _, err := guardian.Approve(ctx, request); err != nil {
			t.Fatalf("approval after the delay: %v", err)
		}
	}
	var shares []frost.SignatureShare
	for _, guardian := range c.guardians[:2] {
		share, err := guardian.SignShare(ctx, request)
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, share)
	}
	evidence, err := c.account.Complete(ctx, request, shares)
	if err != nil {
		t.Fatal(err)
	}
	if len(evidence.KeyMaterial) != 32 || bytes.Equal(evidence.KeyMaterial, make([]byte, 32)) {
		t.Errorf("key material = %x", evidence.KeyMaterial)
	}
	latest, found, err := c.account.LatestEvidence(ctx)
	if err != nil || !found {
		t.Fatalf("latest evidence: found %v, err %v", found, err)
	}
	wantID := fmt.Sprintf("%s:%d", account, protocoltest.Epoch.Add(time.Hour).Unix())
	if latest.EvidenceID != wantID || evidence.ID != wantID {
		t.Errorf("evidence id = %q / %q, want %q", latest.EvidenceID, evidence.ID, wantID)
	}
	if len(latest.Guardians) != 2 {
		t.Errorf("evidence guardians = %v", latest.Guardians)
	}
	if latest.Request != request.ID() {
		t.Errorf("evidence names request %s, want %s", latest.Request.Short(), request.ID().Short())
	}

	// The same request cannot be completed twice.
	if _, err := c.account.Complete(ctx, request, shares); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second completion: err = %v", err)
	}
	snapshot, err := c.group.Systems[0].Journal.Snapshot(ctx, c.account.Context())
	if err != nil {
		t.Fatal(err)
	}
	if completions := len(snapshot.OfType(journal.FactRecoveryCompleted)); completions != 1 {
		t.Errorf("%d completion facts, want 1", completions)
	}

	// A second request inside the cooldown is refused and changes
	// nothing.
	before := c.approvalCount(t)
	_, err = c.account.Request(ctx, []byte("new device key"))
	if !errors.As(err, &refusal) || !strings.Contains(refusal.Reason, "cooldown") {
		t.Fatalf("request during cooldown: err = %v", err)
	}
	if after := c.approvalCount(t); after != before {
		t.Errorf("approvals changed from %d to %d", before, after)
	}

	c.group.Clock.Advance(DefaultCooldown)
	if _, err := c.account.Request(ctx, []byte("new device key")); err != nil {
		t.Errorf("request after cooldown: %v", err)
	}
}

func TestLateApproverNotSelected(t *testing.T) {
	ctx := context.Background()
	c := newCeremony(t, journal.GuardianParameters{RecoveryDelay: time.Hour})
	request, err := c.account.Request(ctx, []byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	c.group.Clock.Advance(time.Hour)

	if _, err := c.guardians[2].Approve(ctx, request); err != nil {
		t.Fatal(err)
	}
	if _, err := c.guardians[2].SignShare(ctx, request); !errors.Is(err, frost.ErrThreshold) {
		t.Fatalf("share before threshold approvals: err = %v", err)
	}
	if _, err := c.account.Complete(ctx, request, nil); !errors.Is(err, frost.ErrThreshold) {
		t.Fatalf("complete before threshold approvals: err = %v", err)
	}
	for _, guardian := range c.guardians[:2] {
		if _, err := guardian.Approve(ctx, request); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.guardians[1].SignShare(ctx, request); !errors.Is(err, ErrNotSelected) {
		t.Fatalf("third approver: err = %v", err)
	}
	count, err := c.account.Approvals(ctx, request)
	if err != nil || count != 3 {
		t.Errorf("approvals = %d, %v", count, err)
	}
}

func TestUpdateParameters(t *testing.T) {
	ctx := context.Background()
	c := newCeremony(t, journal.GuardianParameters{RecoveryDelay: time.Hour})
	guardian := c.guardians[0].Authority()

	for _, delay := range []time.Duration{time.Minute, 31 * 24 * time.Hour} {
		err := c.account.UpdateParameters(ctx, guardian, journal.GuardianParameters{RecoveryDelay: delay})
		if !errors.Is(err, ErrInvalidDelay) {
			t.Errorf("delay %s: err = %v", delay, err)
		}
	}
	if err := c.account.UpdateParameters(ctx, ids.Fill[ids.AuthorityID](0xee), journal.GuardianParameters{RecoveryDelay: 2 * time.Hour}); !errors.Is(err, ErrNoBinding) {
		t.Errorf("unknown guardian: err = %v", err)
	}
	if err := c.account.UpdateParameters(ctx, guardian, journal.GuardianParameters{RecoveryDelay: 48 * time.Hour, NotificationRequired: true}); err != nil {
		t.Fatal(err)
	}
	snapshot, err := c.group.Systems[0].Journal.Snapshot(ctx, c.account.Context())
	if err != nil {
		t.Fatal(err)
	}
	binding, ok := Binding(snapshot, guardian)
	if !ok || binding.Parameters.RecoveryDelay != 48*time.Hour || !binding.Parameters.NotificationRequired || binding.ShareIdentifier != 1 {
		t.Errorf("binding after update = %+v", binding)
	}
}

func TestEvaluate(t *testing.T) {
	guardian := ids.Fill[ids.AuthorityID](0x61)
	requestedAt := protocoltest.Epoch
	request := journal.RecoveryRequest{Account: account, RequestedAt: requestedAt.UnixMilli()}

	build := func(t *testing.T, binding *journal.GuardianBinding, notified bool) journal.ContextSnapshot {
		t.Helper()
		facts := journal.New()
		contextID := AccountContext(account)
		if binding != nil {
			facts.Append(journal.NewEntry(contextID, guardian, requestedAt,
				journal.MustFact(journal.FactGuardianBinding, guardian.String(), *binding)))
		}
		if notified {
			facts.Append(journal.NewEntry(contextID, guardian, requestedAt,
				journal.MustFact(journal.FactGuardianNotification, guardian.String(), journal.GuardianNotification{Guardian: guardian, Account: account})))
		}
		facts.EnsureContext(contextID)
		snapshot, err := facts.Snapshot(contextID)
		if err != nil {
			t.Fatal(err)
		}
		return snapshot
	}
	binding := func(delay time.Duration, notify bool, expires time.Time) *journal.GuardianBinding {
		b := &journal.GuardianBinding{Guardian: guardian, Account: account, Parameters: journal.GuardianParameters{RecoveryDelay: delay, NotificationRequired: notify}}
		if !expires.IsZero() {
			b.ExpiresAt = expires.UnixMilli()
		}
		return b
	}

	tests := []struct {
		name     string
		binding  *journal.GuardianBinding
		notified bool
		elapsed  time.Duration
		allowed  bool
	}{
		{"NoBinding", nil, false, 2 * time.Hour, false},
		{"Expired", binding(time.Hour, false, requestedAt.Add(time.Hour)), false, 2 * time.Hour, false},
		{"DelayNotElapsed", binding(2*time.Hour, false, time.Time{}), false, time.Hour, false},
		{"DelayFloor", binding(10*time.Minute, false, time.Time{}), false, 30 * time.Minute, false},
		{"DelayFloorElapsed", binding(10*time.Minute, false, time.Time{}), false, time.Hour, true},
		{"NotificationMissing", binding(time.Hour, true, time.Time{}), false, time.Hour, false},
		{"NotificationPresent", binding(time.Hour, true, time.Time{}), true, time.Hour, true},
		{"Allowed", binding(time.Hour, false, time.Time{}), false, time.Hour, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := Evaluate(build(t, test.binding, test.notified), guardian, request, requestedAt.Add(test.elapsed))
			if test.allowed && err != nil {
				t.Fatalf("denied: %v", err)
			}
			if !test.allowed && !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("err = %v, want permission denied", err)
			}
		})
	}
}
