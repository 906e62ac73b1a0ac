// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Initializer is one named startup step.
type Initializer struct {
	Name string
	Run  func(context.Context) error
}

// Initialize runs every initializer concurrently and waits for all of
// them. The first failure cancels the context the others observe; the
// returned error lists every failure by name.
func Initialize(ctx context.Context, logger *slog.Logger, initializers ...Initializer) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	group, groupContext := errgroup.WithContext(ctx)
	for _, initializer := range initializers {
		group.Go(func() error {
			start := time.Now()
			if err := initializer.Run(groupContext); err != nil {
				logger.Error("initializer failed", "name", initializer.Name, "error", err)
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", initializer.Name, err))
				mu.Unlock()
				return err
			}
			logger.Debug("initializer finished", "name", initializer.Name, "duration", time.Since(start))
			return nil
		})
	}
	group.Wait()
	return result.ErrorOrNil()
}
