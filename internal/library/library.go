// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package library holds the five local replicas: add-ons, watch history,
// saved list, hidden continue-watching items and profiles.
//
// Each collection is persisted under its own store key. Every mutation
// that changes state is broadcast as an Operation through the bridge; the
// bridge drops it when the mutation is itself the application of a remote
// operation. Reads are served from memory.
package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/mediasync/internal/bridge"
	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/store"
)

// KeyPrefix prefixes every library key in the store.
const KeyPrefix = "lib:"

const (
	keyAddons        = KeyPrefix + "addons"
	keyWatchHistory  = KeyPrefix + "watch_history"
	keyMyList        = KeyPrefix + "my_list"
	keyHidden        = KeyPrefix + "continue_watching"
	keyProfiles      = KeyPrefix + "profiles"
	keyActiveProfile = "ui:active_profile"
)

// ErrNoActiveProfile is returned by active-profile helpers when no profile is selected.
var ErrNoActiveProfile = errors.New("no active profile")

// Library is the local replica set.
type Library struct {
	st *store.Store
	bc bridge.Broadcaster

	mu       sync.RWMutex
	state    *models.Snapshot
	deviceID string

	// activeMu serializes WithProfile redirections.
	activeMu sync.Mutex
	active   string
}

// Open loads the library from st.
func Open(st *store.Store, bc bridge.Broadcaster, deviceID string) (*Library, error) {
	l := &Library{st: st, bc: bc, deviceID: deviceID, state: models.NewSnapshot()}

	loads := []struct {
		key string
		dst interface{}
	}{
		{keyAddons, &l.state.Addons},
		{keyWatchHistory, &l.state.WatchHistory},
		{keyMyList, &l.state.MyList},
		{keyHidden, &l.state.ContinueWatchingHidden},
		{keyProfiles, &l.state.Profiles},
	}
	for _, ld := range loads {
		if err := st.GetJSON(ld.key, ld.dst); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load %s: %w", ld.key, err)
		}
	}
	l.state.Normalize()

	if v, err := st.Get(keyActiveProfile); err == nil {
		l.active = string(v)
	}
	return l, nil
}

// SetDeviceID changes the device id stamped on broadcast operations.
func (l *Library) SetDeviceID(id string) {
	l.mu.Lock()
	l.deviceID = id
	l.mu.Unlock()
}

// Capture returns a deep copy of the whole library.
func (l *Library) Capture() *models.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// mutate runs fn against the in-memory state, persists the collection at
// key when fn reports a change, and broadcasts the operation built by op.
// A failed write restores the collection from the store.
func (l *Library) mutate(ctx context.Context, key string, fn func(s *models.Snapshot) bool, op func(deviceID string) models.Operation) (bool, error) {
	l.mu.Lock()
	if !fn(l.state) {
		l.mu.Unlock()
		return false, nil
	}
	if err := l.persistLocked(key); err != nil {
		l.reloadLocked(key)
		l.mu.Unlock()
		return false, err
	}
	deviceID := l.deviceID
	l.mu.Unlock()

	if l.bc != nil {
		l.bc.Broadcast(ctx, op(deviceID))
	}
	return true, nil
}

func (l *Library) field(key string) interface{} {
	switch key {
	case keyAddons:
		return &l.state.Addons
	case keyWatchHistory:
		return &l.state.WatchHistory
	case keyMyList:
		return &l.state.MyList
	case keyHidden:
		return &l.state.ContinueWatchingHidden
	case keyProfiles:
		return &l.state.Profiles
	}
	panic("library: unknown key " + key)
}

func (l *Library) persistLocked(keys ...string) error {
	for _, key := range keys {
		if err := l.st.SetJSON(key, l.field(key)); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	return nil
}

func (l *Library) reloadLocked(keys ...string) {
	for _, key := range keys {
		// Decoding into a populated map merges; start from empty.
		switch key {
		case keyAddons:
			l.state.Addons = nil
		case keyWatchHistory:
			l.state.WatchHistory = nil
		case keyMyList:
			l.state.MyList = nil
		case keyHidden:
			l.state.ContinueWatchingHidden = nil
		case keyProfiles:
			l.state.Profiles = nil
		}
		if err := l.st.GetJSON(key, l.field(key)); err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Error().Err(err).Str("key", key).Msg("Failed to reload library collection")
		}
	}
	l.state.Normalize()
}

// Reads

func (l *Library) Addons() []models.Addon {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Addon(nil), l.state.Addons...)
}

func (l *Library) Profiles() []models.Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Profile(nil), l.state.Profiles...)
}

func (l *Library) History(profileID string) []models.WatchProgress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.WatchProgress(nil), l.state.WatchHistory[profileID]...)
}

func (l *Library) List(profileID string) []models.ListItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.ListItem(nil), l.state.MyList[profileID]...)
}

func (l *Library) Hidden(profileID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.state.ContinueWatchingHidden[profileID]...)
}

// ContinueWatching returns the unfinished, not hidden progress records of a
// profile.
func (l *Library) ContinueWatching(profileID string) []models.WatchProgress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.WatchProgress
	for _, p := range l.state.WatchHistory[profileID] {
		if p.Finished() || l.state.Hidden(profileID, p.ItemID) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Watch calls fn with the store key of every persisted library change until
// ctx is cancelled.
func (l *Library) Watch(ctx context.Context, fn func(key string)) error {
	return l.st.Subscribe(ctx, KeyPrefix, func(key string, _ []byte) {
		fn(key)
	})
}
