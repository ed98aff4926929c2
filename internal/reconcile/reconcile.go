// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package reconcile merges the local library with the server's snapshot.
//
// A run, in order:
//
//  1. captures the local baseline before touching anything
//  2. fetches the server snapshot; on failure the run continues with an
//     empty snapshot and the destructive step 3 is skipped
//  3. makes local state equal to the server snapshot with the pending queue
//     projected on top of it, applied under the bridge's remote guard
//  4. pushes, as one batch, every baseline entity the projected snapshot lacks
//  5. flushes the pending queue and drains it only on confirmed success
//
// Projecting the pending queue keeps offline edits: an entity deleted while
// offline is not restored from the server copy, and one added while offline
// is not deleted as local-only before its queued add reaches the server.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/mediasync/internal/applier"
	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/metrics"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/wal"
)

// Server is the part of the REST client a run needs.
type Server interface {
	Snapshot(ctx context.Context) (*models.Snapshot, error)
	PushBatch(ctx context.Context, ops []models.Operation) error
}

// Local is the library being reconciled.
type Local interface {
	applier.Replica
	Capture() *models.Snapshot
}

// Guard marks remote applies so the library does not re-broadcast them.
type Guard interface {
	ApplyRemote(ctx context.Context, fn func(ctx context.Context) error) error
}

// Queue is the persisted pending-operation queue.
type Queue interface {
	Append(ctx context.Context, op models.Operation) (string, error)
	Pending(ctx context.Context) ([]wal.Entry, error)
	Drain(ctx context.Context, ids []string) error
}

// Result summarizes a run.
type Result struct {
	SnapshotErr error
	Applied     int
	Removed     int
	Pushed      int
	Flushed     int
	Duration    time.Duration
}

// Reconciler runs reconciliations. It holds no state between runs.
type Reconciler struct {
	server   Server
	local    Local
	guard    Guard
	queue    Queue
	deviceID string
}

func New(server Server, local Local, guard Guard, queue Queue, deviceID string) *Reconciler {
	return &Reconciler{server: server, local: local, guard: guard, queue: queue, deviceID: deviceID}
}

// Run fetches the server snapshot and reconciles against it. The returned
// error reports a failed push or flush; the data concerned stays queued.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	baseline := r.local.Capture()

	server, err := r.server.Snapshot(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Snapshot fetch failed, pushing local state only")
		return r.reconcile(ctx, baseline, nil, err)
	}
	return r.reconcile(ctx, baseline, server, nil)
}

// RunWith reconciles against a snapshot that arrived over the socket.
func (r *Reconciler) RunWith(ctx context.Context, server *models.Snapshot) (Result, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	return r.reconcile(ctx, r.local.Capture(), server, nil)
}

func (r *Reconciler) reconcile(ctx context.Context, baseline, server *models.Snapshot, fetchErr error) (res Result, err error) {
	start := time.Now()
	res.SnapshotErr = fetchErr
	defer func() {
		res.Duration = time.Since(start)
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "push_failed"
		case fetchErr != nil:
			outcome = "snapshot_failed"
		}
		metrics.RecordReconcile(res.Duration, res.Pushed, outcome)
	}()

	target := models.NewSnapshot()
	if server != nil {
		target = server.Clone()
		target.Normalize()
	}
	if err := r.project(ctx, target); err != nil {
		return res, err
	}

	if server != nil {
		if err := r.applyTarget(ctx, target, &res); err != nil {
			return res, err
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	missing := baseline.Missing(target, r.deviceID)
	if len(missing) > 0 {
		if err := r.server.PushBatch(ctx, missing); err != nil {
			r.requeue(ctx, missing)
			if server != nil {
				r.restore(ctx, missing)
			}
			return res, fmt.Errorf("push local-only entities: %w", err)
		}
		res.Pushed = len(missing)
	}

	flushed, err := r.Flush(ctx)
	res.Flushed = flushed
	if err != nil {
		return res, err
	}

	logging.Ctx(ctx).Info().
		Bool("snapshot", server != nil).
		Int("applied", res.Applied).
		Int("removed", res.Removed).
		Int("pushed", res.Pushed).
		Int("flushed", res.Flushed).
		Msg("Reconciliation complete")
	return res, nil
}

// project applies the pending queue to target.
func (r *Reconciler) project(ctx context.Context, target *models.Snapshot) error {
	entries, err := r.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("read pending queue: %w", err)
	}
	replica := applier.NewSnapshotReplica(target)
	for _, e := range entries {
		if _, err := applier.Apply(ctx, replica, e.Operation); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("entry", e.ID).Msg("Pending operation does not apply to snapshot")
		}
	}
	return nil
}

// applyTarget makes local state equal to target under the remote guard.
func (r *Reconciler) applyTarget(ctx context.Context, target *models.Snapshot, res *Result) error {
	return r.guard.ApplyRemote(ctx, func(ctx context.Context) error {
		for _, op := range upserts(target, r.deviceID) {
			changed, err := applier.Apply(ctx, r.local, op)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Failed to apply server entity")
				continue
			}
			if changed {
				res.Applied++
			}
		}
		// Computed after the upserts so it sees their effect.
		for _, op := range removals(r.local.Capture(), target, r.deviceID) {
			changed, err := applier.Apply(ctx, r.local, op)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Failed to remove local-only entity")
				continue
			}
			if changed {
				res.Removed++
			}
		}
		return ctx.Err()
	})
}

// Flush pushes the pending queue as one batch and drains exactly the
// pushed entries on success.
func (r *Reconciler) Flush(ctx context.Context) (int, error) {
	entries, err := r.queue.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read pending queue: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := r.server.PushBatch(ctx, wal.Operations(entries)); err != nil {
		return 0, fmt.Errorf("flush pending queue: %w", err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := r.queue.Drain(ctx, ids); err != nil {
		// The server has them; a later flush resends and the server
		// applies idempotently.
		return 0, fmt.Errorf("drain pending queue: %w", err)
	}
	return len(entries), nil
}

// restore re-applies local-only entities that step 3 removed but the
// server never received.
func (r *Reconciler) restore(ctx context.Context, ops []models.Operation) {
	err := r.guard.ApplyRemote(context.WithoutCancel(ctx), func(ctx context.Context) error {
		for _, op := range ops {
			if _, err := applier.Apply(ctx, r.local, op); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Failed to restore local-only entity")
			}
		}
		return nil
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to restore local-only entities")
	}
}

// requeue persists operations whose push failed.
func (r *Reconciler) requeue(ctx context.Context, ops []models.Operation) {
	for _, op := range ops {
		if _, err := r.queue.Append(context.WithoutCancel(ctx), op); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("op", op.Key().String()).Msg("Failed to queue unpushed entity")
		}
	}
}
