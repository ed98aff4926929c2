// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package models

import "sort"

// Snapshot is a complete library state. Snapshots are never partial:
// a collection absent from a snapshot means the collection is empty.
type Snapshot struct {
	Addons                 []Addon                    `json:"addons"`
	WatchHistory           map[string][]WatchProgress `json:"watchHistory"`
	MyList                 map[string][]ListItem      `json:"myList"`
	ContinueWatchingHidden map[string][]string        `json:"continueWatchingHidden"`
	Profiles               []Profile                  `json:"profiles"`
	Timestamp              int64                      `json:"timestamp"`
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.Normalize()
	return s
}

// Normalize allocates nil maps so that decoded snapshots can be mutated.
func (s *Snapshot) Normalize() {
	if s.WatchHistory == nil {
		s.WatchHistory = make(map[string][]WatchProgress)
	}
	if s.MyList == nil {
		s.MyList = make(map[string][]ListItem)
	}
	if s.ContinueWatchingHidden == nil {
		s.ContinueWatchingHidden = make(map[string][]string)
	}
}

// IsEmpty reports whether the snapshot holds no entities at all.
func (s *Snapshot) IsEmpty() bool {
	if len(s.Addons) > 0 || len(s.Profiles) > 0 {
		return false
	}
	for _, v := range s.WatchHistory {
		if len(v) > 0 {
			return false
		}
	}
	for _, v := range s.MyList {
		if len(v) > 0 {
			return false
		}
	}
	for _, v := range s.ContinueWatchingHidden {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Addons:                 append([]Addon(nil), s.Addons...),
		Profiles:               append([]Profile(nil), s.Profiles...),
		WatchHistory:           make(map[string][]WatchProgress, len(s.WatchHistory)),
		MyList:                 make(map[string][]ListItem, len(s.MyList)),
		ContinueWatchingHidden: make(map[string][]string, len(s.ContinueWatchingHidden)),
		Timestamp:              s.Timestamp,
	}
	for k, v := range s.WatchHistory {
		c.WatchHistory[k] = append([]WatchProgress(nil), v...)
	}
	for k, v := range s.MyList {
		c.MyList[k] = append([]ListItem(nil), v...)
	}
	for k, v := range s.ContinueWatchingHidden {
		c.ContinueWatchingHidden[k] = append([]string(nil), v...)
	}
	return c
}

// Lookups

func (s *Snapshot) Addon(id string) (Addon, bool) {
	for _, a := range s.Addons {
		if a.ID == id {
			return a, true
		}
	}
	return Addon{}, false
}

func (s *Snapshot) Profile(id string) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

func (s *Snapshot) Progress(profileID, itemID string) (WatchProgress, bool) {
	for _, p := range s.WatchHistory[profileID] {
		if p.ItemID == itemID {
			return p, true
		}
	}
	return WatchProgress{}, false
}

func (s *Snapshot) ListItem(profileID, itemID string) (ListItem, bool) {
	for _, it := range s.MyList[profileID] {
		if it.ID == itemID {
			return it, true
		}
	}
	return ListItem{}, false
}

func (s *Snapshot) Hidden(profileID, itemID string) bool {
	for _, id := range s.ContinueWatchingHidden[profileID] {
		if id == itemID {
			return true
		}
	}
	return false
}

// Mutations. Every mutation is idempotent; the boolean result reports
// whether the snapshot actually changed.

// AddAddon inserts a unless an add-on with the same id exists.
func (s *Snapshot) AddAddon(a Addon) bool {
	if _, ok := s.Addon(a.ID); ok {
		return false
	}
	s.Addons = append(s.Addons, a)
	return true
}

// PutAddon inserts or overwrites a.
func (s *Snapshot) PutAddon(a Addon) bool {
	for i := range s.Addons {
		if s.Addons[i].ID == a.ID {
			if s.Addons[i] == a {
				return false
			}
			s.Addons[i] = a
			return true
		}
	}
	s.Addons = append(s.Addons, a)
	return true
}

func (s *Snapshot) RemoveAddon(id string) bool {
	for i := range s.Addons {
		if s.Addons[i].ID == id {
			s.Addons = append(s.Addons[:i:i], s.Addons[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Snapshot) PutProgress(profileID string, p WatchProgress) bool {
	s.Normalize()
	list := s.WatchHistory[profileID]
	for i := range list {
		if list[i].ItemID == p.ItemID {
			if list[i] == p {
				return false
			}
			list[i] = p
			return true
		}
	}
	s.WatchHistory[profileID] = append(list, p)
	return true
}

func (s *Snapshot) RemoveProgress(profileID, itemID string) bool {
	list := s.WatchHistory[profileID]
	for i := range list {
		if list[i].ItemID == itemID {
			s.WatchHistory[profileID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Snapshot) ClearHistory(profileID string) bool {
	if len(s.WatchHistory[profileID]) == 0 {
		return false
	}
	delete(s.WatchHistory, profileID)
	return true
}

func (s *Snapshot) PutListItem(profileID string, item ListItem) bool {
	s.Normalize()
	list := s.MyList[profileID]
	for i := range list {
		if list[i].ID == item.ID {
			if list[i] == item {
				return false
			}
			list[i] = item
			return true
		}
	}
	s.MyList[profileID] = append(list, item)
	return true
}

func (s *Snapshot) RemoveListItem(profileID, itemID string) bool {
	list := s.MyList[profileID]
	for i := range list {
		if list[i].ID == itemID {
			s.MyList[profileID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Snapshot) SetHidden(profileID, itemID string, hidden bool) bool {
	s.Normalize()
	list := s.ContinueWatchingHidden[profileID]
	for i, id := range list {
		if id == itemID {
			if hidden {
				return false
			}
			s.ContinueWatchingHidden[profileID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	if !hidden {
		return false
	}
	s.ContinueWatchingHidden[profileID] = append(list, itemID)
	return true
}

func (s *Snapshot) PutProfile(p Profile) bool {
	for i := range s.Profiles {
		if s.Profiles[i].ID == p.ID {
			if s.Profiles[i] == p {
				return false
			}
			s.Profiles[i] = p
			return true
		}
	}
	s.Profiles = append(s.Profiles, p)
	return true
}

// RemoveProfile deletes the profile and every collection scoped to it.
func (s *Snapshot) RemoveProfile(id string) bool {
	changed := false
	for i := range s.Profiles {
		if s.Profiles[i].ID == id {
			s.Profiles = append(s.Profiles[:i:i], s.Profiles[i+1:]...)
			changed = true
			break
		}
	}
	if deleteKey(s.WatchHistory, id) {
		changed = true
	}
	if deleteKey(s.MyList, id) {
		changed = true
	}
	if deleteKey(s.ContinueWatchingHidden, id) {
		changed = true
	}
	return changed
}

func deleteKey[V any](m map[string][]V, key string) bool {
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	return true
}

// Missing returns, as operations attributed to deviceID, every entity of s
// that is absent from other. Entities present in both are never reported,
// whatever their field values. Profiles come first so that profile-scoped
// entries are applied after their owner exists.
func (s *Snapshot) Missing(other *Snapshot, deviceID string) []Operation {
	var ops []Operation

	for _, p := range s.Profiles {
		if _, ok := other.Profile(p.ID); !ok {
			ops = append(ops, ProfileUpserted(deviceID, p))
		}
	}
	for _, a := range s.Addons {
		if _, ok := other.Addon(a.ID); !ok {
			ops = append(ops, AddonAdded(deviceID, a))
		}
	}
	for _, profileID := range sortedKeys(s.WatchHistory) {
		for _, p := range s.WatchHistory[profileID] {
			if _, ok := other.Progress(profileID, p.ItemID); !ok {
				ops = append(ops, ProgressUpserted(deviceID, profileID, p))
			}
		}
	}
	for _, profileID := range sortedKeys(s.MyList) {
		for _, it := range s.MyList[profileID] {
			if _, ok := other.ListItem(profileID, it.ID); !ok {
				ops = append(ops, ListItemAdded(deviceID, profileID, it))
			}
		}
	}
	for _, profileID := range sortedKeys(s.ContinueWatchingHidden) {
		for _, itemID := range s.ContinueWatchingHidden[profileID] {
			if !other.Hidden(profileID, itemID) {
				ops = append(ops, HiddenSet(deviceID, profileID, itemID, true))
			}
		}
	}
	return ops
}

func sortedKeys[V any](m map[string][]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
