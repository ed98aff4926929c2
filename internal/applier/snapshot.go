// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package applier

import (
	"context"

	"github.com/tomtom215/mediasync/internal/models"
)

// SnapshotReplica applies operations to an in-memory snapshot. The
// reconciler uses it to project queued operations onto a server snapshot.
type SnapshotReplica struct {
	S *models.Snapshot
}

// NewSnapshotReplica wraps s, allocating its maps if needed.
func NewSnapshotReplica(s *models.Snapshot) *SnapshotReplica {
	s.Normalize()
	return &SnapshotReplica{S: s}
}

func (r *SnapshotReplica) AddAddon(_ context.Context, a models.Addon) (bool, error) {
	return r.S.AddAddon(a), nil
}

func (r *SnapshotReplica) UpdateAddon(_ context.Context, a models.Addon) (bool, error) {
	return r.S.PutAddon(a), nil
}

func (r *SnapshotReplica) RemoveAddon(_ context.Context, id string) (bool, error) {
	return r.S.RemoveAddon(id), nil
}

func (r *SnapshotReplica) UpsertProgress(_ context.Context, profileID string, p models.WatchProgress) (bool, error) {
	return r.S.PutProgress(profileID, p), nil
}

func (r *SnapshotReplica) RemoveProgress(_ context.Context, profileID, itemID string) (bool, error) {
	return r.S.RemoveProgress(profileID, itemID), nil
}

func (r *SnapshotReplica) ClearHistory(_ context.Context, profileID string) (bool, error) {
	return r.S.ClearHistory(profileID), nil
}

func (r *SnapshotReplica) AddListItem(_ context.Context, profileID string, item models.ListItem) (bool, error) {
	return r.S.PutListItem(profileID, item), nil
}

func (r *SnapshotReplica) RemoveListItem(_ context.Context, profileID, itemID string) (bool, error) {
	return r.S.RemoveListItem(profileID, itemID), nil
}

func (r *SnapshotReplica) SetHidden(_ context.Context, profileID, itemID string, hidden bool) (bool, error) {
	return r.S.SetHidden(profileID, itemID, hidden), nil
}

func (r *SnapshotReplica) UpsertProfile(_ context.Context, p models.Profile) (bool, error) {
	return r.S.PutProfile(p), nil
}

func (r *SnapshotReplica) RemoveProfile(_ context.Context, id string) (bool, error) {
	return r.S.RemoveProfile(id), nil
}
