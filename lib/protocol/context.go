// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ef-ds/deque"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
)

// ContextConfig configures NewContext.
type ContextConfig struct {
	Session      ids.SessionID
	Participants []ids.AuthorityID
	// Threshold is zero for protocols without one.
	Threshold uint16
	Logger    *slog.Logger
}

// Context is one participant's handle on a protocol session. A Context
// is used by a single goroutine.
type Context struct {
	Session      ids.SessionID
	Participants []ids.AuthorityID
	Threshold    uint16
	System       *effects.System

	ledger  *Ledger
	logger  *slog.Logger
	pending deque.Deque
	cursor  uint64
}

// NewContext binds system to a session on ledger. The read index
// starts at the beginning of the ledger, so events published before
// the context existed are still seen.
func NewContext(system *effects.System, ledger *Ledger, config ContextConfig) *Context {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Context{
		Session:      config.Session,
		Participants: slices.Clone(config.Participants),
		Threshold:    config.Threshold,
		System:       system,
		ledger:       ledger,
		logger: logger.With(
			"session_id", ids.Short(config.Session),
			"authority", ids.Short(system.Authority),
		),
	}
}

// Authority is the local authority.
func (c *Context) Authority() ids.AuthorityID { return c.System.Authority }

// Device is the local device.
func (c *Context) Device() ids.DeviceID { return c.System.Device }

// Logger returns the context's logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Ledger returns the shared ledger.
func (c *Context) Ledger() *Ledger { return c.ledger }

// Cursor is the read index into the ledger.
func (c *Context) Cursor() uint64 { return c.cursor }

// Pending is the number of read but unconsumed events.
func (c *Context) Pending() int { return c.pending.Len() }

// Now reads the effect system's clock.
func (c *Context) Now() time.Time { return c.System.Time.Now() }

// Sign signs message with the local device key.
func (c *Context) Sign(message []byte) ([]byte, error) { return c.System.Crypto.Sign(message) }

// IsParticipant reports whether authority takes part in the session.
func (c *Context) IsParticipant(authority ids.AuthorityID) bool {
	return slices.Contains(c.Participants, authority)
}

// Publish appends an event authored by the local authority.
func (c *Context) Publish(ctx context.Context, eventType string, payload any) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("protocol: encoding %s payload: %w", eventType, err)
	}
	return c.ledger.Append(Event{
		Session: c.Session,
		Author:  c.System.Authority,
		Type:    eventType,
		Payload: data,
	}), nil
}

// AwaitEvent returns the first unconsumed session event of eventType
// accepted by match. A nil match accepts any event of the type.
func (c *Context) AwaitEvent(ctx context.Context, eventType string, match func(Event) bool) (Event, error) {
	for {
		if event, ok := c.takePending(eventType, match); ok {
			return event, nil
		}
		events, err := c.ledger.Wait(ctx, c.cursor)
		if err != nil {
			return Event{}, fmt.Errorf("protocol: awaiting %s: %w", eventType, err)
		}
		c.cursor += uint64(len(events))
		for _, event := range events {
			c.enqueue(event)
		}
	}
}

// AwaitThreshold collects events of eventType from count distinct
// participants. When ctx ends first it returns what it collected along
// with the error, so callers can proceed with a quorum smaller than
// the full set.
func (c *Context) AwaitThreshold(ctx context.Context, eventType string, count int) ([]Event, error) {
	seen := make(map[ids.AuthorityID]bool, count)
	collected := make([]Event, 0, count)
	for len(collected) < count {
		event, err := c.AwaitEvent(ctx, eventType, func(event Event) bool { return !seen[event.Author] })
		if err != nil {
			return collected, err
		}
		seen[event.Author] = true
		collected = append(collected, event)
	}
	return collected, nil
}

func (c *Context) enqueue(event Event) {
	if event.Session != c.Session {
		return
	}
	if !c.IsParticipant(event.Author) {
		c.logger.Warn("dropping event from non-participant",
			"event_type", event.Type,
			"author", ids.Short(event.Author),
			"sequence", event.Sequence,
		)
		return
	}
	c.pending.PushBack(event)
}

// takePending removes and returns the first matching pending event,
// keeping the others in arrival order.
func (c *Context) takePending(eventType string, match func(Event) bool) (Event, bool) {
	var found Event
	var ok bool
	for range c.pending.Len() {
		value, _ := c.pending.PopFront()
		event := value.(Event)
		if !ok && event.Type == eventType && (match == nil || match(event)) {
			found, ok = event, true
			continue
		}
		c.pending.PushBack(event)
	}
	return found, ok
}
