// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/mediasync/internal/logging"
)

// GarbageCollector reclaims space in the local store.
//
// Satisfied by *store.Store.
type GarbageCollector interface {
	CollectGarbage(discardRatio float64) error
}

// DefaultDiscardRatio is the share of stale data a value log file needs
// before badger rewrites it.
const DefaultDiscardRatio = 0.5

// StoreGCService runs value log GC on a fixed interval.
type StoreGCService struct {
	gc       GarbageCollector
	interval time.Duration
	ratio    float64
	name     string
}

// NewStoreGCService creates the service. A non-positive interval means 10
// minutes.
func NewStoreGCService(gc GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		gc:       gc,
		interval: interval,
		ratio:    DefaultDiscardRatio,
		name:     "store-gc",
	}
}

// Serve implements suture.Service. GC failures are logged and retried on
// the next tick; they do not restart the service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.gc.CollectGarbage(s.ratio); err != nil {
				logging.Warn().Err(err).Msg("Store garbage collection failed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *StoreGCService) String() string {
	return s.name
}
