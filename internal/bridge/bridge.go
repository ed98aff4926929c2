// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package bridge connects the local library, which produces operations,
// to the sync engine, which transports them.
//
// The library depends only on the Broadcaster interface; the engine attaches
// itself as the Sink. Remote operations are applied inside ApplyRemote,
// which marks the context passed to the applier. Broadcast drops operations
// carrying that mark, so applying a remote operation never sends it back to
// the server.
//
// Suppression keys off the context mark (IsRemote), not off Applying. A
// local mutation running on another goroutine during a remote apply is still
// broadcast. Applying is a process-wide diagnostic for logs and tests.
//
//	err := b.ApplyRemote(ctx, func(ctx context.Context) error {
//	    _, err := applier.Apply(ctx, lib, op)
//	    return err
//	})
package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/metrics"
	"github.com/tomtom215/mediasync/internal/models"
)

// Broadcaster is the narrow interface local mutation entry points use.
type Broadcaster interface {
	Broadcast(ctx context.Context, op models.Operation)
}

// Sink receives broadcast operations. The sync engine implements it.
type Sink interface {
	Enqueue(ctx context.Context, op models.Operation) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, op models.Operation) error

func (f SinkFunc) Enqueue(ctx context.Context, op models.Operation) error {
	return f(ctx, op)
}

type remoteKey struct{}

// IsRemote reports whether ctx belongs to a remote apply.
func IsRemote(ctx context.Context) bool {
	v, _ := ctx.Value(remoteKey{}).(bool)
	return v
}

// Bridge is the single choke point between library and engine.
type Bridge struct {
	mu   sync.RWMutex
	sink Sink

	applying   atomic.Int32
	suppressed atomic.Int64
	forwarded  atomic.Int64
}

func New() *Bridge {
	return &Bridge{}
}

// Attach sets the sink, replacing any previous one.
func (b *Bridge) Attach(sink Sink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// Detach removes the sink. Later broadcasts only change local state.
func (b *Bridge) Detach() {
	b.Attach(nil)
}

// Broadcast forwards op to the sink unless ctx is a remote apply.
// Sink errors are logged; local mutations never fail because sync did.
func (b *Bridge) Broadcast(ctx context.Context, op models.Operation) {
	if IsRemote(ctx) {
		b.suppressed.Add(1)
		metrics.OperationsSuppressed.Inc()
		return
	}

	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink == nil {
		return
	}

	b.forwarded.Add(1)
	if err := sink.Enqueue(ctx, op); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("collection", string(op.Collection)).
			Str("action", string(op.Action)).
			Msg("Failed to enqueue local operation")
	}
}

// ApplyRemote runs fn with a context marked as a remote apply. The guard
// is released when fn returns or panics.
func (b *Bridge) ApplyRemote(ctx context.Context, fn func(ctx context.Context) error) error {
	b.applying.Add(1)
	defer b.applying.Add(-1)
	return fn(context.WithValue(ctx, remoteKey{}, true))
}

// Applying reports whether a remote apply is in progress anywhere in the
// process. Broadcast does not consult it; see IsRemote.
func (b *Bridge) Applying() bool {
	return b.applying.Load() > 0
}

// Suppressed returns how many broadcasts were dropped by the guard.
func (b *Bridge) Suppressed() int64 {
	return b.suppressed.Load()
}

// Forwarded returns how many broadcasts reached a sink.
func (b *Bridge) Forwarded() int64 {
	return b.forwarded.Load()
}
