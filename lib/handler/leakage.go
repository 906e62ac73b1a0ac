// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
)

var _ effects.LeakageEffects = (*LeakageRecorder)(nil)

// LeakageRecorder keeps leakage events in storage under
// "leakage/<context_hex>", one JSON object per line, and refuses events
// that would push an observer class past its budget.
type LeakageRecorder struct {
	storage effects.StorageEffects
	budgets effects.LeakageBudgets
	logger  *slog.Logger

	// mu serializes read-modify-write of a context's history.
	mu sync.Mutex
}

// NewLeakageRecorder returns a recorder over storage.
func NewLeakageRecorder(storage effects.StorageEffects, budgets effects.LeakageBudgets, logger *slog.Logger) *LeakageRecorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LeakageRecorder{storage: storage, budgets: budgets, logger: logger}
}

func leakageKey(context ids.ContextID) string {
	return "leakage/" + context.String()
}

// RecordLeakage appends event to its context history. It returns
// effects.ErrLeakageBudgetExceeded, and records nothing, when the
// observer class would exceed its budget.
func (r *LeakageRecorder) RecordLeakage(ctx context.Context, event effects.LeakageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, history, err := r.read(ctx, event.Context)
	if err != nil {
		return err
	}
	spent := spentBy(history, event.Observer)
	budget := r.budgets.For(event.Observer)
	if spent+event.Bits > budget || spent+event.Bits < spent {
		r.logger.Warn("leakage budget exceeded",
			"context", ids.Short(event.Context),
			"observer", event.Observer.String(),
			"spent", spent,
			"bits", event.Bits,
			"budget", budget,
		)
		return fmt.Errorf("handler: %s observer: %w", event.Observer, effects.ErrLeakageBudgetExceeded)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("handler: encoding leakage event: %w", err)
	}
	updated := append(existing, line...)
	updated = append(updated, '\n')
	if err := r.storage.Put(ctx, leakageKey(event.Context), updated); err != nil {
		return fmt.Errorf("handler: writing leakage history: %w", err)
	}
	return nil
}

func (r *LeakageRecorder) LeakageRemaining(ctx context.Context, context ids.ContextID, observer effects.ObserverClass) (uint64, error) {
	history, err := r.LeakageHistory(ctx, context)
	if err != nil {
		return 0, err
	}
	spent := spentBy(history, observer)
	budget := r.budgets.For(observer)
	if spent >= budget {
		return 0, nil
	}
	return budget - spent, nil
}

// LeakageHistory returns the recorded events for context in the order
// they were recorded.
func (r *LeakageRecorder) LeakageHistory(ctx context.Context, context ids.ContextID) ([]effects.LeakageEvent, error) {
	_, events, err := r.read(ctx, context)
	return events, err
}

// read returns the stored history bytes and their decoded events.
func (r *LeakageRecorder) read(ctx context.Context, context ids.ContextID) ([]byte, []effects.LeakageEvent, error) {
	data, err := r.storage.Get(ctx, leakageKey(context))
	if errors.Is(err, effects.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("handler: reading leakage history: %w", err)
	}
	var events []effects.LeakageEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event effects.LeakageEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, nil, fmt.Errorf("handler: decoding leakage event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("handler: scanning leakage history: %w", err)
	}
	return data, events, nil
}

func spentBy(history []effects.LeakageEvent, observer effects.ObserverClass) uint64 {
	var spent uint64
	for _, event := range history {
		if event.Observer == observer {
			spent += event.Bits
		}
	}
	return spent
}
