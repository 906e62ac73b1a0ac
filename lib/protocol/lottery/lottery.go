// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lottery arbitrates a contested operation between devices.
//
// Every contender derives a ticket from the hash of the last ledger
// event and its device id and publishes it. The greatest ticket wins.
// The participants then threshold-sign a grant naming the winner, and
// the grant is journaled as a lock_granted fact in the operation's lock
// context. The holder closes the critical section with Release. A grant
// lapses on its own after TicketTTL flow epochs.
package lottery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/signing"
)

// EventTicket is the ledger event type of a published ticket.
const EventTicket = "lottery.ticket"

// TicketTTL is how many flow epochs a grant stays valid.
const TicketTTL ids.Epoch = 10

// Guarded operation names of lock journal writes.
const (
	OperationGrant   = "lottery.grant"
	OperationRelease = "lottery.release"
)

const (
	writeAttempts     = 3
	writeInitialDelay = 10 * time.Millisecond
)

var (
	// ErrLockHeld is returned when contending for an operation whose
	// grant has not lapsed or been released.
	ErrLockHeld = errors.New("lottery: operation lock is held")
	// ErrNotHolder is returned when a device other than the winner
	// releases a lock.
	ErrNotHolder = errors.New("lottery: device does not hold the lock")
	// ErrNoLock is returned when releasing an operation with no live
	// grant.
	ErrNoLock = errors.New("lottery: no lock granted")
)

// Ticket is one contender's entry.
type Ticket struct {
	Device ids.DeviceID `cbor:"1,keyasint"`
	Value  hash.Digest  `cbor:"2,keyasint"`
}

// Draw computes the ticket of device against the last event hash.
func Draw(lastEvent hash.Digest, device ids.DeviceID) Ticket {
	return Ticket{Device: device, Value: hash.Sum(lastEvent[:], device[:])}
}

// Winner returns the greatest ticket. Equal values, which only arise
// from a duplicated device, fall to the greater device id.
func Winner(tickets []Ticket) (Ticket, bool) {
	if len(tickets) == 0 {
		return Ticket{}, false
	}
	return slices.MaxFunc(tickets, func(a, b Ticket) int {
		if order := a.Value.Compare(b.Value); order != 0 {
			return order
		}
		return bytes.Compare(a.Device[:], b.Device[:])
	}), true
}

// LockContext returns the relational context that records grants for
// operation.
func LockContext(operation string) ids.ContextID {
	return ids.ContextID(hash.Keyed(hash.DomainContextID, []byte("lock"), []byte(operation)))
}

// GrantMessage is the message the group signs to grant a lock.
func GrantMessage(grant journal.LockGranted) []byte {
	epoch := fmt.Appendf(nil, "%d", grant.Epoch)
	digest := hash.Keyed(hash.DomainLockGrant, []byte(grant.Operation), grant.Winner[:], grant.Ticket[:], epoch)
	return digest[:]
}

// VerifyGrant checks the group signature on grant.
func VerifyGrant(grant journal.LockGranted, groupKey []byte) error {
	if err := frost.Verify(groupKey, GrantMessage(grant), grant.Signature); err != nil {
		return fmt.Errorf("lottery: grant for %s: %w", grant.Operation, err)
	}
	return nil
}

// Live reports whether grant is still in force at epoch.
func Live(grant journal.LockGranted, epoch ids.Epoch) bool {
	return epoch < grant.Epoch+TicketTTL
}

// Config is one participant's lottery material.
type Config struct {
	Share  frost.KeyShare
	Public frost.PublicKeyPackage
	// Devices maps each participant authority to its registered device.
	// A ticket is only accepted for the device registered to the
	// authority that published it.
	Devices map[ids.AuthorityID]ids.DeviceID
	// Timeout bounds ticket collection and each signing run. Zero
	// means 30 seconds.
	Timeout time.Duration
}

// Lottery runs lock contention for one device. Its executor needs
// CapLockRequest and allow decisions for OperationGrant and
// OperationRelease; Grants sets both up.
type Lottery struct {
	executor *protocol.Executor
	config   Config
	logger   *slog.Logger
}

// New returns a lottery over executor.
func New(executor *protocol.Executor, config Config, logger *slog.Logger) *Lottery {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.Devices = maps.Clone(config.Devices)
	return &Lottery{executor: executor, config: config, logger: logger}
}

// Grants gives executor the capability and decisions a Lottery needs.
func Grants(executor *protocol.Executor) {
	executor.Grant(guard.CapLockRequest)
	executor.Authorize(OperationGrant, guard.DecisionAllow)
	executor.Authorize(OperationRelease, guard.DecisionAllow)
}

// Held returns the live grant for operation, if any.
func (l *Lottery) Held(ctx context.Context, operation string) (journal.LockGranted, bool, error) {
	system := l.executor.System()
	snapshot, err := system.Journal.Snapshot(ctx, LockContext(operation))
	if errors.Is(err, journal.ErrUnknownContext) {
		return journal.LockGranted{}, false, nil
	}
	if err != nil {
		return journal.LockGranted{}, false, err
	}
	entry, ok := snapshot.Latest(journal.FactLockGranted, operation)
	if !ok {
		return journal.LockGranted{}, false, nil
	}
	var grant journal.LockGranted
	if err := entry.Fact.Decode(&grant); err != nil {
		return journal.LockGranted{}, false, err
	}
	for _, released := range snapshot.OfType(journal.FactLockReleased) {
		if released.Sequence > entry.Sequence && released.Fact.Key == operation {
			return journal.LockGranted{}, false, nil
		}
	}
	if !Live(grant, system.Flow.Epoch()) {
		return journal.LockGranted{}, false, nil
	}
	return grant, true, nil
}

// Contend enters this device into the lottery for operation. Every
// session participant must contend with the same lastEvent; the call
// returns the signed grant once it is journaled, whoever won.
func (l *Lottery) Contend(ctx context.Context, session *protocol.Context, operation string, lastEvent hash.Digest) (journal.LockGranted, error) {
	if _, held, err := l.Held(ctx, operation); err != nil {
		return journal.LockGranted{}, err
	} else if held {
		return journal.LockGranted{}, ErrLockHeld
	}
	if registered, ok := l.config.Devices[session.Authority()]; !ok || registered != session.Device() {
		return journal.LockGranted{}, fmt.Errorf("lottery: device %s is not registered to authority %s",
			ids.Short(session.Device()), ids.Short(session.Authority()))
	}

	tracker := protocol.NewDeadlineTracker(session.System.Time.Clock(), session.Session, l.config.Timeout)
	ticket := Draw(lastEvent, session.Device())
	tickets, err := l.collect(ctx, tracker, session, lastEvent, ticket)
	if err != nil {
		return journal.LockGranted{}, err
	}
	winner, _ := Winner(tickets)

	grant := journal.LockGranted{
		Operation: operation,
		Winner:    winner.Device,
		Ticket:    winner.Value,
		Epoch:     session.System.Flow.Epoch(),
	}
	signed, err := signing.Run(ctx, session, signing.Config{
		Share:   l.config.Share,
		Public:  l.config.Public,
		Timeout: l.config.Timeout,
	}, GrantMessage(grant))
	if err != nil {
		return journal.LockGranted{}, err
	}
	grant.Signature = signed.Signature

	fact, err := journal.NewFact(journal.FactLockGranted, operation, grant)
	if err != nil {
		return journal.LockGranted{}, err
	}
	if err := l.write(ctx, operation, OperationGrant, fact); err != nil {
		return journal.LockGranted{}, err
	}
	l.logger.Info("operation lock granted",
		"operation", operation,
		"winner", ids.Short(winner.Device),
		"won", winner.Device == session.Device(),
		"contenders", len(tickets),
	)
	return grant, nil
}

// collect publishes ticket and gathers one ticket per participant. A
// ticket that names a device other than the one registered to its
// author, does not match lastEvent, or repeats an author is Byzantine.
func (l *Lottery) collect(ctx context.Context, tracker *protocol.DeadlineTracker, session *protocol.Context, lastEvent hash.Digest, ticket Ticket) ([]Ticket, error) {
	ctx, cancel := tracker.Phase(ctx, "tickets", l.config.Timeout)
	defer cancel()
	if _, err := session.Publish(ctx, EventTicket, ticket); err != nil {
		return nil, err
	}
	contenders := len(session.Participants)
	events, err := session.AwaitThreshold(ctx, EventTicket, contenders)
	if err != nil {
		return nil, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
			"%d of %d tickets: %w", len(events), contenders, protocol.Cause(ctx))
	}
	if author, ok := duplicateAuthor(session); ok {
		return nil, protocol.Errorf(protocol.KindByzantine, session.Session,
			"%s published more than one ticket", ids.Short(author))
	}
	tickets := make([]Ticket, 0, len(events))
	for _, event := range events {
		var remote Ticket
		if err := event.Decode(&remote); err != nil {
			return nil, protocol.Errorf(protocol.KindByzantine, session.Session, "ticket from %s: %w", ids.Short(event.Author), err)
		}
		registered, ok := l.config.Devices[event.Author]
		if !ok || remote.Device != registered {
			return nil, protocol.Errorf(protocol.KindByzantine, session.Session,
				"ticket from %s names unregistered device %s", ids.Short(event.Author), ids.Short(remote.Device))
		}
		if remote != Draw(lastEvent, registered) {
			return nil, protocol.Errorf(protocol.KindByzantine, session.Session,
				"ticket from %s does not match its device", ids.Short(event.Author))
		}
		tickets = append(tickets, remote)
	}
	return tickets, nil
}

// duplicateAuthor reports an author with two tickets among the session
// events the context has read.
func duplicateAuthor(session *protocol.Context) (ids.AuthorityID, bool) {
	events := session.Ledger().Events(0)
	if cursor := session.Cursor(); uint64(len(events)) > cursor {
		events = events[:cursor]
	}
	seen := make(map[ids.AuthorityID]bool)
	for _, event := range events {
		if event.Session != session.Session || event.Type != EventTicket {
			continue
		}
		if seen[event.Author] {
			return event.Author, true
		}
		seen[event.Author] = true
	}
	return ids.AuthorityID{}, false
}

// Release closes the critical section. Only the winning device may
// release.
func (l *Lottery) Release(ctx context.Context, operation string) error {
	grant, held, err := l.Held(ctx, operation)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %s", ErrNoLock, operation)
	}
	device := l.executor.System().Device
	if grant.Winner != device {
		return fmt.Errorf("%w: %s is held by %s", ErrNotHolder, operation, ids.Short(grant.Winner))
	}
	fact, err := journal.NewFact(journal.FactLockReleased, operation, journal.LockReleased{Operation: operation, Holder: device})
	if err != nil {
		return err
	}
	if err := l.write(ctx, operation, OperationRelease, fact); err != nil {
		return err
	}
	l.logger.Info("operation lock released", "operation", operation)
	return nil
}

// write journals fact through the guard chain, retrying failures the
// chain did not cause.
func (l *Lottery) write(ctx context.Context, operation, guarded string, fact journal.Fact) error {
	system := l.executor.System()
	lockContext := LockContext(operation)
	entry := journal.NewEntry(lockContext, system.Authority, system.Time.Now(), fact)

	backoff := retry.WithMaxRetries(writeAttempts, retry.NewExponential(writeInitialDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := l.executor.Execute(ctx, guard.Request{
			Context:   lockContext,
			Peer:      system.Authority,
			Operation: guarded,
			Required:  guard.NewCapSet(guard.CapLockRequest),
		}, guard.AppendJournal{Entry: entry})
		if err == nil || errors.Is(err, guard.ErrDenied) || ctx.Err() != nil {
			return err
		}
		l.logger.Warn("lock journal write failed, retrying", "operation", operation, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("lottery: journaling %s: %w", fact.Type, err)
	}
	return nil
}
