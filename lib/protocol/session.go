// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
)

// SessionPrefix is the storage prefix of persisted session records.
const SessionPrefix = "sessions/"

var (
	ErrUnknownSession      = errors.New("protocol: unknown session")
	ErrNotCreator          = errors.New("protocol: only the session creator may end it early")
	ErrTooManySessions     = errors.New("protocol: concurrent session limit reached")
	ErrTooManyParticipants = errors.New("protocol: too many participants")
	ErrSessionClosed       = errors.New("protocol: session already ended")
)

// Status is a session lifecycle state.
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusActive
	StatusCompleted
	StatusFailed
	StatusExpired
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s >= StatusCompleted }

// ReasonTimedOut is the failure reason recorded when a run exceeds its
// timeout.
const ReasonTimedOut = "TimedOut"

// Session is one protocol execution.
type Session struct {
	ID           ids.SessionID     `cbor:"1,keyasint"`
	Protocol     string            `cbor:"2,keyasint"`
	Creator      ids.AuthorityID   `cbor:"3,keyasint"`
	Participants []ids.AuthorityID `cbor:"4,keyasint"`
	StartEpoch   ids.Epoch         `cbor:"5,keyasint"`
	TTLEpochs    uint64            `cbor:"6,keyasint"`
	Status       Status            `cbor:"7,keyasint"`
	Reason       string            `cbor:"8,keyasint,omitempty"`
}

// Context is the relational context session facts are journaled in.
func (s Session) Context() ids.ContextID { return SessionContext(s.ID) }

// ExpiresAt is the first epoch at which the session is expired.
func (s Session) ExpiresAt() ids.Epoch { return s.StartEpoch + ids.Epoch(s.TTLEpochs) }

func (s Session) clone() Session {
	s.Participants = slices.Clone(s.Participants)
	return s
}

// SessionContext derives the journal context of a session.
func SessionContext(session ids.SessionID) ids.ContextID {
	return ids.ContextID(hash.Keyed(hash.DomainContextID, []byte("session"), session[:]))
}

// SessionRuntimeConfig bounds a SessionRuntime.
type SessionRuntimeConfig struct {
	MaxConcurrentSessions int
	// DefaultTTLEpochs applies when Start is given a zero TTL.
	DefaultTTLEpochs uint64
	EnablePersistence bool
	// CleanupInterval is the expiry pass period of Run.
	CleanupInterval time.Duration
	// MaxParticipants is unbounded when zero.
	MaxParticipants int
}

// DefaultSessionRuntimeConfig allows 64 concurrent sessions with a TTL
// of 10 epochs, checked every 30 seconds.
func DefaultSessionRuntimeConfig() SessionRuntimeConfig {
	return SessionRuntimeConfig{
		MaxConcurrentSessions: 64,
		DefaultTTLEpochs:      10,
		CleanupInterval:       30 * time.Second,
	}
}

// SessionRuntime tracks sessions started by the local authority. It is
// safe for concurrent use.
type SessionRuntime struct {
	system *effects.System
	config SessionRuntimeConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[ids.SessionID]*Session
	epoch    func() ids.Epoch
}

// NewSessionRuntime returns a runtime whose epoch is the flow ledger's.
func NewSessionRuntime(system *effects.System, config SessionRuntimeConfig, logger *slog.Logger) (*SessionRuntime, error) {
	if config.MaxConcurrentSessions <= 0 {
		return nil, fmt.Errorf("protocol: max_concurrent_sessions must be positive, got %d", config.MaxConcurrentSessions)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultSessionRuntimeConfig().CleanupInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SessionRuntime{
		system:   system,
		config:   config,
		logger:   logger,
		sessions: make(map[ids.SessionID]*Session),
		epoch:    system.Flow.Epoch,
	}, nil
}

// SetEpochSource replaces the epoch source used for start epochs and
// expiry.
func (r *SessionRuntime) SetEpochSource(epoch func() ids.Epoch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch = epoch
}

func sessionKey(id ids.SessionID) string { return SessionPrefix + id.String() }

// Load restores persisted session records. It is a no-op when
// persistence is disabled.
func (r *SessionRuntime) Load(ctx context.Context) error {
	if !r.config.EnablePersistence {
		return nil
	}
	keys, err := r.system.Storage.List(ctx, SessionPrefix)
	if err != nil {
		return fmt.Errorf("protocol: listing sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		data, err := r.system.Storage.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("protocol: reading %s: %w", key, err)
		}
		var session Session
		if err := codec.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("protocol: decoding %s: %w", key, err)
		}
		if strings.TrimPrefix(key, SessionPrefix) != session.ID.String() {
			return fmt.Errorf("protocol: session record %s holds session %s", key, session.ID)
		}
		r.sessions[session.ID] = &session
	}
	r.logger.Info("sessions restored", "count", len(keys))
	return nil
}

// Start creates a session, journals its start, and activates it. A
// zero ttlEpochs uses the configured default. The local authority is
// the creator and is added to participants when absent.
func (r *SessionRuntime) Start(ctx context.Context, protocolName string, participants []ids.AuthorityID, ttlEpochs uint64) (Session, error) {
	creator := r.system.Authority
	if !slices.Contains(participants, creator) {
		participants = append(slices.Clone(participants), creator)
	}
	if r.config.MaxParticipants > 0 && len(participants) > r.config.MaxParticipants {
		return Session{}, fmt.Errorf("%w: %d of %d", ErrTooManyParticipants, len(participants), r.config.MaxParticipants)
	}
	if ttlEpochs == 0 {
		ttlEpochs = r.config.DefaultTTLEpochs
	}
	nonce := r.system.Random.Bytes(32)
	id := ids.SessionID(hash.Keyed(hash.DomainSessionID, creator[:], []byte(protocolName), nonce))

	r.mu.Lock()
	if active := r.activeLocked(); active >= r.config.MaxConcurrentSessions {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %d active", ErrTooManySessions, active)
	}
	session := &Session{
		ID:           id,
		Protocol:     protocolName,
		Creator:      creator,
		Participants: slices.Clone(participants),
		StartEpoch:   r.epoch(),
		TTLEpochs:    ttlEpochs,
		Status:       StatusCreated,
	}
	r.sessions[id] = session
	started := session.clone()
	r.mu.Unlock()

	fact, err := journal.NewFact(journal.FactSessionStarted, "", journal.SessionStarted{
		Session:      id,
		Protocol:     protocolName,
		Creator:      creator,
		Participants: started.Participants,
		StartEpoch:   started.StartEpoch,
		TTLEpochs:    ttlEpochs,
	})
	if err == nil {
		_, err = r.system.Journal.AppendFact(ctx, journal.NewEntry(started.Context(), creator, r.system.Time.Now(), fact))
	}
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return Session{}, fmt.Errorf("protocol: journaling session start: %w", err)
	}

	r.mu.Lock()
	session.Status = StatusActive
	active := session.clone()
	r.mu.Unlock()
	if err := r.persist(ctx, active); err != nil {
		return Session{}, err
	}
	r.logger.Info("session started",
		"session_id", ids.Short(id),
		"protocol", protocolName,
		"participants", len(participants),
		"start_epoch", active.StartEpoch,
		"ttl_epochs", ttlEpochs,
	)
	return active, nil
}

func (r *SessionRuntime) activeLocked() int {
	count := 0
	for _, session := range r.sessions {
		if !session.Status.Terminal() {
			count++
		}
	}
	return count
}

// Get returns a copy of a session.
func (r *SessionRuntime) Get(id ids.SessionID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return session.clone(), true
}

// Active lists non-terminal sessions ordered by id.
func (r *SessionRuntime) Active() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []Session
	for _, session := range r.sessions {
		if !session.Status.Terminal() {
			active = append(active, session.clone())
		}
	}
	slices.SortFunc(active, func(a, b Session) int { return ids.Compare(a.ID, b.ID) })
	return active
}

// Complete ends a session successfully. Only the creator may call it.
func (r *SessionRuntime) Complete(ctx context.Context, id ids.SessionID, caller ids.AuthorityID) error {
	return r.end(ctx, id, &caller, StatusCompleted, "")
}

// Cancel ends a session early. Only the creator may call it.
func (r *SessionRuntime) Cancel(ctx context.Context, id ids.SessionID, caller ids.AuthorityID, reason string) error {
	return r.end(ctx, id, &caller, StatusCancelled, reason)
}

// Fail marks a session failed. It is used by the engine itself (timeouts,
// protocol errors) and needs no caller check.
func (r *SessionRuntime) Fail(ctx context.Context, id ids.SessionID, reason string) error {
	return r.end(ctx, id, nil, StatusFailed, reason)
}

func (r *SessionRuntime) end(ctx context.Context, id ids.SessionID, caller *ids.AuthorityID, status Status, reason string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, ids.Short(id))
	}
	if session.Status.Terminal() {
		current := session.Status
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, ids.Short(id), current)
	}
	if caller != nil && *caller != session.Creator {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotCreator, ids.Short(*caller))
	}
	previous, previousReason := session.Status, session.Reason
	session.Status = status
	session.Reason = reason
	ended := session.clone()
	r.mu.Unlock()

	if err := r.journalEnd(ctx, ended); err != nil {
		r.restore(id, status, previous, previousReason)
		return err
	}
	if err := r.persist(ctx, ended); err != nil {
		return err
	}
	r.logger.Info("session ended",
		"session_id", ids.Short(id),
		"status", status.String(),
		"reason", reason,
	)
	return nil
}

// restore undoes a transition to ended whose fact was not journaled, so
// the session stays open and a later end can retry.
func (r *SessionRuntime) restore(id ids.SessionID, ended, status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok && session.Status == ended {
		session.Status = status
		session.Reason = reason
	}
}

func (r *SessionRuntime) journalEnd(ctx context.Context, session Session) error {
	fact, err := journal.NewFact(journal.FactSessionEnded, "", journal.SessionEnded{
		Session: session.ID,
		Status:  session.Status.String(),
		Reason:  session.Reason,
	})
	if err != nil {
		return err
	}
	entry := journal.NewEntry(session.Context(), r.system.Authority, r.system.Time.Now(), fact)
	if _, err := r.system.Journal.AppendFact(ctx, entry); err != nil {
		return fmt.Errorf("protocol: journaling session end: %w", err)
	}
	return nil
}

func (r *SessionRuntime) persist(ctx context.Context, session Session) error {
	if !r.config.EnablePersistence {
		return nil
	}
	data, err := codec.Marshal(session)
	if err != nil {
		return fmt.Errorf("protocol: encoding session: %w", err)
	}
	if err := r.system.Storage.Put(ctx, sessionKey(session.ID), data); err != nil {
		return fmt.Errorf("protocol: persisting session %s: %w", ids.Short(session.ID), err)
	}
	return nil
}

// ExpireSessions moves every active session whose TTL has passed to
// Expired and returns their ids.
func (r *SessionRuntime) ExpireSessions(ctx context.Context) ([]ids.SessionID, error) {
	r.mu.Lock()
	now := r.epoch()
	var expired []Session
	previous := make(map[ids.SessionID]Status)
	for _, session := range r.sessions {
		if !session.Status.Terminal() && now >= session.ExpiresAt() {
			previous[session.ID] = session.Status
			session.Status = StatusExpired
			expired = append(expired, session.clone())
		}
	}
	r.mu.Unlock()

	slices.SortFunc(expired, func(a, b Session) int { return ids.Compare(a.ID, b.ID) })
	identifiers := make([]ids.SessionID, 0, len(expired))
	var result *multierror.Error
	for _, session := range expired {
		identifiers = append(identifiers, session.ID)
		r.logger.Info("session expired",
			"session_id", ids.Short(session.ID),
			"epoch", now,
			"expires_at", session.ExpiresAt(),
		)
		if err := r.journalEnd(ctx, session); err != nil {
			r.restore(session.ID, StatusExpired, previous[session.ID], session.Reason)
			result = multierror.Append(result, err)
			continue
		}
		if err := r.persist(ctx, session); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return identifiers, result.ErrorOrNil()
}

// Run performs an expiry pass every cleanup interval until ctx ends.
func (r *SessionRuntime) Run(ctx context.Context) error {
	ticker := r.system.Time.Clock().NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ExpireSessions(ctx); err != nil {
				r.logger.Error("session expiry pass failed", "error", err)
			}
		}
	}
}
