// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ef-ds/deque"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
)

var (
	// ErrUnknownDestination is returned for an envelope addressed to an
	// authority that never joined the network. It is not retried.
	ErrUnknownDestination = errors.New("transport: unknown destination")

	// ErrUnreachable is returned while a link is partitioned or the
	// destination has left. It is transient.
	ErrUnreachable = errors.New("transport: destination unreachable")

	// ErrClosed is returned by an endpoint after Close.
	ErrClosed = errors.New("transport: endpoint closed")
)

type link struct {
	from, to ids.AuthorityID
}

// Network connects endpoints in one process.
type Network struct {
	logger *slog.Logger

	mu          sync.Mutex
	endpoints   map[ids.AuthorityID]*Endpoint
	partitioned map[link]bool
	delivered   uint64
}

// NewNetwork returns an empty network.
func NewNetwork(logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Network{
		logger:      logger,
		endpoints:   make(map[ids.AuthorityID]*Endpoint),
		partitioned: make(map[link]bool),
	}
}

// Join returns the endpoint for authority, creating it on first call.
func (n *Network) Join(authority ids.AuthorityID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if endpoint, ok := n.endpoints[authority]; ok && !endpoint.isClosed() {
		return endpoint
	}
	endpoint := &Endpoint{network: n, authority: authority, notify: make(chan struct{}, 1)}
	n.endpoints[authority] = endpoint
	return endpoint
}

// Members lists joined authorities in byte order.
func (n *Network) Members() []ids.AuthorityID {
	n.mu.Lock()
	defer n.mu.Unlock()
	members := make([]ids.AuthorityID, 0, len(n.endpoints))
	for authority, endpoint := range n.endpoints {
		if !endpoint.isClosed() {
			members = append(members, authority)
		}
	}
	slices.SortFunc(members, ids.Compare[ids.AuthorityID])
	return members
}

// Partition drops traffic in both directions between a and b until
// Heal.
func (n *Network) Partition(a, b ids.AuthorityID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[link{a, b}] = true
	n.partitioned[link{b, a}] = true
	n.logger.Info("network partitioned", "a", ids.Short(a), "b", ids.Short(b))
}

// Heal restores a partitioned link.
func (n *Network) Heal(a, b ids.AuthorityID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, link{a, b})
	delete(n.partitioned, link{b, a})
}

// Delivered counts envelopes handed to an inbox.
func (n *Network) Delivered() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered
}

func (n *Network) deliver(envelope effects.TransportEnvelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	destination, ok := n.endpoints[envelope.Destination]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, ids.Short(envelope.Destination))
	}
	if n.partitioned[link{envelope.Source, envelope.Destination}] || destination.isClosed() {
		return fmt.Errorf("%w: %s", ErrUnreachable, ids.Short(envelope.Destination))
	}
	destination.push(envelope.Clone())
	n.delivered++
	return nil
}

var _ effects.TransportEffects = (*Endpoint)(nil)

// Endpoint is one authority's attachment to a Network.
type Endpoint struct {
	network   *Network
	authority ids.AuthorityID

	mu     sync.Mutex
	inbox  deque.Deque
	closed bool
	notify chan struct{}
}

// Authority returns the endpoint's address.
func (e *Endpoint) Authority() ids.AuthorityID { return e.authority }

// Send delivers envelope to its destination's inbox. A zero Source is
// filled with this endpoint's authority.
func (e *Endpoint) Send(ctx context.Context, envelope effects.TransportEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.isClosed() {
		return ErrClosed
	}
	if envelope.Source.IsZero() {
		envelope.Source = e.authority
	}
	return e.network.deliver(envelope)
}

// Receive returns the oldest envelope in the inbox, waiting until one
// arrives, the endpoint closes, or ctx is done. One goroutine receives
// per endpoint.
func (e *Endpoint) Receive(ctx context.Context) (effects.TransportEnvelope, error) {
	for {
		e.mu.Lock()
		if value, ok := e.inbox.PopFront(); ok {
			e.mu.Unlock()
			return value.(effects.TransportEnvelope), nil
		}
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return effects.TransportEnvelope{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return effects.TransportEnvelope{}, ctx.Err()
		case <-e.notify:
		}
	}
}

// Pending returns the inbox length.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inbox.Len()
}

// Close detaches the endpoint. Queued envelopes can still be received;
// after that Receive returns ErrClosed.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wake()
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) push(envelope effects.TransportEnvelope) {
	e.mu.Lock()
	e.inbox.PushBack(envelope)
	e.mu.Unlock()
	e.wake()
}

func (e *Endpoint) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}
