// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package antientropy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/oplog"
	"github.com/bureau-foundation/aura/lib/transport"
	"github.com/bureau-foundation/aura/lib/tree"
)

var (
	// ErrRateLimitExceeded is wrapped by every RateLimitError.
	ErrRateLimitExceeded = errors.New("antientropy: rate limit exceeded")
	// ErrSessionActive is returned when a session with the peer is
	// already running.
	ErrSessionActive = errors.New("antientropy: session already active")
	// ErrNoSyncHandler is returned when the effect system has no
	// SyncEffects.
	ErrNoSyncHandler = errors.New("antientropy: effect system has no sync handler")
)

// RateLimitError reports a session refused because the previous one
// with the same peer was too recent.
type RateLimitError struct {
	Peer       ids.AuthorityID
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("antientropy: sync with %s rate limited, retry after %s", ids.Short(e.Peer), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// Phase is the progress of a session.
type Phase uint8

const (
	PhaseDigestExchange Phase = iota + 1
	PhaseDifferenceComputation
	PhaseOperationRequest
	PhaseOperationMerge
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseDigestExchange:
		return "digest_exchange"
	case PhaseDifferenceComputation:
		return "difference_computation"
	case PhaseOperationRequest:
		return "operation_request"
	case PhaseOperationMerge:
		return "operation_merge"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Session records one sync with one peer.
type Session struct {
	Peer       ids.AuthorityID
	StartEpoch ids.Epoch
	StartedAt  time.Time
	Phase      Phase
	Rounds     int
	// OpsPulled counts ops merged from the peer; OpsPushed counts ops
	// sent to it. OpsSynced is their sum.
	OpsPulled int
	OpsPushed int
	OpsSynced int
	LastError error
}

// Stats are cumulative service counters.
type Stats struct {
	SessionsStarted   uint64
	SessionsCompleted uint64
	SessionsFailed    uint64
	RateLimited       uint64
	OperationsSynced  uint64
	ActiveSessions    int
}

// Options carries the service's optional collaborators.
type Options struct {
	Metrics *Metrics
	Logger  *slog.Logger
}

// Service runs anti-entropy sessions for one authority.
type Service struct {
	system  *effects.System
	config  Config
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[ids.AuthorityID]*rate.Limiter
	active   map[ids.AuthorityID]*Session
	stats    Stats
}

// New returns a service over system.Sync.
func New(system *effects.System, config Config, options Options) (*Service, error) {
	if system.Sync == nil {
		return nil, ErrNoSyncHandler
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		system:   system,
		config:   config,
		metrics:  options.Metrics,
		logger:   logger,
		limiters: make(map[ids.AuthorityID]*rate.Limiter),
		active:   make(map[ids.AuthorityID]*Session),
	}, nil
}

// Stats returns a copy of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Active returns the running sessions ordered by peer.
func (s *Service) Active() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]Session, 0, len(s.active))
	for _, session := range s.active {
		sessions = append(sessions, *session)
	}
	slices.SortFunc(sessions, func(a, b Session) int { return ids.Compare(a.Peer, b.Peer) })
	return sessions
}

// admit applies the per-peer rate limit at now and registers the
// session as active.
func (s *Service) admit(peer ids.AuthorityID, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.active[peer]; running {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, ids.Short(peer))
	}
	limiter, ok := s.limiters[peer]
	if !ok {
		// Every(0) is rate.Inf, which never limits.
		limiter = rate.NewLimiter(rate.Every(s.config.MinSyncInterval), 1)
		s.limiters[peer] = limiter
	}
	if !limiter.AllowN(now, 1) {
		s.stats.RateLimited++
		wait := time.Duration((1 - limiter.TokensAt(now)) * float64(s.config.MinSyncInterval))
		return nil, &RateLimitError{Peer: peer, RetryAfter: wait}
	}
	session := &Session{
		Peer:       peer,
		StartEpoch: s.system.Flow.Epoch(),
		StartedAt:  now,
		Phase:      PhaseDigestExchange,
	}
	s.active[peer] = session
	s.stats.SessionsStarted++
	s.stats.ActiveSessions = len(s.active)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	return session, nil
}

func (s *Service) setPhase(session *Session, phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.Phase = phase
}

// finish records the outcome and retires the session.
func (s *Service) finish(session *Session, err error) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, session.Peer)
	s.stats.ActiveSessions = len(s.active)
	s.stats.OperationsSynced += uint64(session.OpsSynced)
	outcome := OutcomeCompleted
	if err != nil {
		session.Phase = PhaseFailed
		session.LastError = err
		s.stats.SessionsFailed++
		outcome = OutcomeFailed
	} else {
		session.Phase = PhaseCompleted
		s.stats.SessionsCompleted++
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
		s.metrics.Sessions.WithLabelValues(outcome).Inc()
		s.metrics.OpsSynced.Add(float64(session.OpsSynced))
		if err == nil {
			s.metrics.Rounds.Observe(float64(session.Rounds))
		}
	}
	return *session
}

// SyncWithPeer runs one session with peer. A rate-limited call returns
// a *RateLimitError and no session runs; every other failure is
// returned together with the failed session.
func (s *Service) SyncWithPeer(ctx context.Context, peer ids.AuthorityID) (Session, error) {
	session, err := s.admit(peer, s.system.Time.Now())
	if err != nil {
		var limited *RateLimitError
		if errors.As(err, &limited) {
			s.logger.Info("sync rate limited", "peer", ids.Short(peer), "retry_after", limited.RetryAfter)
			if s.metrics != nil {
				s.metrics.Sessions.WithLabelValues(OutcomeRateLimited).Inc()
			}
		}
		return Session{Peer: peer, Phase: PhaseFailed, LastError: err}, err
	}

	for session.Rounds < s.config.MaxRounds {
		moved, err := s.round(ctx, session)
		if err != nil {
			result := s.finish(session, err)
			s.logger.Warn("sync session failed",
				"peer", ids.Short(peer),
				"phase", session.Phase.String(),
				"rounds", result.Rounds,
				"error", err,
			)
			return result, err
		}
		s.mu.Lock()
		session.Rounds++
		s.mu.Unlock()
		if moved == 0 {
			break
		}
	}
	result := s.finish(session, nil)
	s.logger.Info("sync session completed",
		"peer", ids.Short(peer),
		"rounds", result.Rounds,
		"ops_synced", result.OpsSynced,
		"ops_pulled", result.OpsPulled,
		"ops_pushed", result.OpsPushed,
	)
	return result, nil
}

// round runs one exchange and returns how many ops moved either way.
func (s *Service) round(ctx context.Context, session *Session) (int, error) {
	handler := s.system.Sync
	peer := session.Peer

	s.setPhase(session, PhaseDigestExchange)
	local, err := handler.LocalDigest(ctx)
	if err != nil {
		return 0, fmt.Errorf("antientropy: local digest: %w", err)
	}
	var remote oplog.Digest
	if err := s.retry(ctx, "exchange_digest", peer, func(ctx context.Context) error {
		remote, err = handler.ExchangeDigest(ctx, peer, local)
		return err
	}); err != nil {
		return 0, fmt.Errorf("antientropy: digest exchange: %w", err)
	}

	s.setPhase(session, PhaseDifferenceComputation)
	want := local.MissingFrom(remote)
	give := remote.MissingFrom(local)

	s.setPhase(session, PhaseOperationRequest)
	var pulled []tree.AttestedOp
	if len(want) > 0 {
		var batches []oplog.BatchMessage
		if err := s.retry(ctx, "request_ops", peer, func(ctx context.Context) error {
			batches, err = handler.RequestOps(ctx, peer, want)
			return err
		}); err != nil {
			return 0, fmt.Errorf("antientropy: requesting %d ops: %w", len(want), err)
		}
		if pulled, err = Assemble(batches); err != nil {
			return 0, err
		}
	}

	s.setPhase(session, PhaseOperationMerge)
	merged := 0
	if len(pulled) > 0 {
		if merged, err = handler.MergeOps(ctx, pulled); err != nil {
			return 0, fmt.Errorf("antientropy: merging: %w", err)
		}
	}
	pushed := 0
	if len(give) > 0 {
		ops, err := handler.LocalOps(ctx, give)
		if err != nil {
			return 0, fmt.Errorf("antientropy: reading ops to push: %w", err)
		}
		batches := oplog.Batches(oplog.BatchID(s.system.Random.UUID()), ops, s.config.BatchSize)
		if err := s.retry(ctx, "push_ops", peer, func(ctx context.Context) error {
			return handler.PushOps(ctx, peer, batches)
		}); err != nil {
			return 0, fmt.Errorf("antientropy: pushing %d ops: %w", len(ops), err)
		}
		pushed = len(ops)
	}

	s.mu.Lock()
	session.OpsPulled += merged
	session.OpsPushed += pushed
	session.OpsSynced += merged + pushed
	s.mu.Unlock()
	return merged + pushed, nil
}

// retry calls fn until it succeeds, fails with a non-transient error,
// or the attempts run out.
func (s *Service) retry(ctx context.Context, call string, peer ids.AuthorityID, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(s.config.RetryAttempts, retry.NewExponential(s.config.RetryInitialDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !transport.IsTransient(err) {
			return err
		}
		s.logger.Warn("sync call failed, retrying", "call", call, "peer", ids.Short(peer), "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

// SyncAll runs a session with every connected peer on a worker pool.
// Sessions are returned in peer order; failures, rate limits included,
// are joined into one error.
func (s *Service) SyncAll(ctx context.Context) ([]Session, error) {
	peers, err := s.system.Sync.ConnectedPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("antientropy: listing peers: %w", err)
	}
	if len(peers) == 0 {
		return nil, nil
	}
	workers := s.config.Workers
	if workers <= 0 || workers > len(peers) {
		workers = len(peers)
	}
	sessions := make([]Session, len(peers))
	errs := make([]error, len(peers))
	pool := workerpool.New(workers)
	for index, peer := range peers {
		pool.Submit(func() {
			sessions[index], errs[index] = s.SyncWithPeer(ctx, peer)
		})
	}
	pool.StopWait()

	var result *multierror.Error
	for index, err := range errs {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("peer %s: %w", ids.Short(peers[index]), err))
		}
	}
	return sessions, result.ErrorOrNil()
}
