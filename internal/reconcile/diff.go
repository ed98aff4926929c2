// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package reconcile

import (
	"sort"

	"github.com/tomtom215/mediasync/internal/models"
)

// upserts returns operations that create or overwrite every entity of
// target. Profiles come first so scoped data lands under an existing owner.
func upserts(target *models.Snapshot, deviceID string) []models.Operation {
	var ops []models.Operation
	for _, p := range target.Profiles {
		ops = append(ops, models.ProfileUpserted(deviceID, p))
	}
	for _, a := range target.Addons {
		ops = append(ops, models.AddonUpdated(deviceID, a))
	}
	for _, profileID := range keys(target.WatchHistory) {
		for _, p := range target.WatchHistory[profileID] {
			ops = append(ops, models.ProgressUpserted(deviceID, profileID, p))
		}
	}
	for _, profileID := range keys(target.MyList) {
		for _, it := range target.MyList[profileID] {
			ops = append(ops, models.ListItemAdded(deviceID, profileID, it))
		}
	}
	for _, profileID := range keys(target.ContinueWatchingHidden) {
		for _, itemID := range target.ContinueWatchingHidden[profileID] {
			ops = append(ops, models.HiddenSet(deviceID, profileID, itemID, true))
		}
	}
	return ops
}

// removals returns operations deleting every entity of local that target
// lacks. Profiles go last, and a profile is kept while target still holds
// data scoped to it, since removing a profile removes that data too.
func removals(local, target *models.Snapshot, deviceID string) []models.Operation {
	var ops []models.Operation
	for _, profileID := range keys(local.ContinueWatchingHidden) {
		for _, itemID := range local.ContinueWatchingHidden[profileID] {
			if !target.Hidden(profileID, itemID) {
				ops = append(ops, models.HiddenSet(deviceID, profileID, itemID, false))
			}
		}
	}
	for _, profileID := range keys(local.MyList) {
		for _, it := range local.MyList[profileID] {
			if _, ok := target.ListItem(profileID, it.ID); !ok {
				ops = append(ops, models.ListItemRemoved(deviceID, profileID, it.ID))
			}
		}
	}
	for _, profileID := range keys(local.WatchHistory) {
		for _, p := range local.WatchHistory[profileID] {
			if _, ok := target.Progress(profileID, p.ItemID); !ok {
				ops = append(ops, models.ProgressRemoved(deviceID, profileID, p.ItemID))
			}
		}
	}
	for _, a := range local.Addons {
		if _, ok := target.Addon(a.ID); !ok {
			ops = append(ops, models.AddonRemoved(deviceID, a.ID))
		}
	}
	for _, p := range local.Profiles {
		if _, ok := target.Profile(p.ID); ok || holdsScopedData(target, p.ID) {
			continue
		}
		ops = append(ops, models.ProfileRemoved(deviceID, p.ID))
	}
	return ops
}

func holdsScopedData(s *models.Snapshot, profileID string) bool {
	return len(s.WatchHistory[profileID]) > 0 ||
		len(s.MyList[profileID]) > 0 ||
		len(s.ContinueWatchingHidden[profileID]) > 0
}

func keys[V any](m map[string][]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
