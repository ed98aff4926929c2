// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package library

import (
	"context"

	"github.com/tomtom215/mediasync/internal/models"
)

// Mutations with an explicit profile id. These satisfy applier.Replica and
// are also the entry points for local changes.

func (l *Library) AddAddon(ctx context.Context, a models.Addon) (bool, error) {
	return l.mutate(ctx, keyAddons,
		func(s *models.Snapshot) bool { return s.AddAddon(a) },
		func(dev string) models.Operation { return models.AddonAdded(dev, a) })
}

func (l *Library) UpdateAddon(ctx context.Context, a models.Addon) (bool, error) {
	return l.mutate(ctx, keyAddons,
		func(s *models.Snapshot) bool { return s.PutAddon(a) },
		func(dev string) models.Operation { return models.AddonUpdated(dev, a) })
}

func (l *Library) RemoveAddon(ctx context.Context, addonID string) (bool, error) {
	return l.mutate(ctx, keyAddons,
		func(s *models.Snapshot) bool { return s.RemoveAddon(addonID) },
		func(dev string) models.Operation { return models.AddonRemoved(dev, addonID) })
}

func (l *Library) UpsertProgress(ctx context.Context, profileID string, p models.WatchProgress) (bool, error) {
	return l.mutate(ctx, keyWatchHistory,
		func(s *models.Snapshot) bool { return s.PutProgress(profileID, p) },
		func(dev string) models.Operation { return models.ProgressUpserted(dev, profileID, p) })
}

func (l *Library) RemoveProgress(ctx context.Context, profileID, itemID string) (bool, error) {
	return l.mutate(ctx, keyWatchHistory,
		func(s *models.Snapshot) bool { return s.RemoveProgress(profileID, itemID) },
		func(dev string) models.Operation { return models.ProgressRemoved(dev, profileID, itemID) })
}

func (l *Library) ClearHistory(ctx context.Context, profileID string) (bool, error) {
	return l.mutate(ctx, keyWatchHistory,
		func(s *models.Snapshot) bool { return s.ClearHistory(profileID) },
		func(dev string) models.Operation { return models.HistoryCleared(dev, profileID) })
}

func (l *Library) AddListItem(ctx context.Context, profileID string, item models.ListItem) (bool, error) {
	return l.mutate(ctx, keyMyList,
		func(s *models.Snapshot) bool { return s.PutListItem(profileID, item) },
		func(dev string) models.Operation { return models.ListItemAdded(dev, profileID, item) })
}

func (l *Library) RemoveListItem(ctx context.Context, profileID, itemID string) (bool, error) {
	return l.mutate(ctx, keyMyList,
		func(s *models.Snapshot) bool { return s.RemoveListItem(profileID, itemID) },
		func(dev string) models.Operation { return models.ListItemRemoved(dev, profileID, itemID) })
}

func (l *Library) SetHidden(ctx context.Context, profileID, itemID string, hidden bool) (bool, error) {
	return l.mutate(ctx, keyHidden,
		func(s *models.Snapshot) bool { return s.SetHidden(profileID, itemID, hidden) },
		func(dev string) models.Operation { return models.HiddenSet(dev, profileID, itemID, hidden) })
}

func (l *Library) UpsertProfile(ctx context.Context, p models.Profile) (bool, error) {
	return l.mutate(ctx, keyProfiles,
		func(s *models.Snapshot) bool { return s.PutProfile(p) },
		func(dev string) models.Operation { return models.ProfileUpserted(dev, p) })
}

// RemoveProfile deletes a profile together with its scoped collections.
func (l *Library) RemoveProfile(ctx context.Context, profileID string) (bool, error) {
	l.mu.Lock()
	if !l.state.RemoveProfile(profileID) {
		l.mu.Unlock()
		return false, nil
	}
	keys := []string{keyProfiles, keyWatchHistory, keyMyList, keyHidden}
	if err := l.persistLocked(keys...); err != nil {
		l.reloadLocked(keys...)
		l.mu.Unlock()
		return false, err
	}
	deviceID := l.deviceID
	l.mu.Unlock()

	if l.bc != nil {
		l.bc.Broadcast(ctx, models.ProfileRemoved(deviceID, profileID))
	}
	return true, nil
}
