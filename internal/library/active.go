// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package library

import (
	"context"

	"github.com/tomtom215/mediasync/internal/models"
)

// ActiveProfile returns the profile selected in the UI, or "".
func (l *Library) ActiveProfile() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// SetActiveProfile selects a profile and persists the choice.
// The selection is device-local and never synced.
func (l *Library) SetActiveProfile(profileID string) error {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	return l.setActive(profileID)
}

func (l *Library) setActive(profileID string) error {
	l.mu.Lock()
	l.active = profileID
	l.mu.Unlock()
	return l.st.Set(keyActiveProfile, []byte(profileID))
}

// WithProfile runs fn with the active profile temporarily set to
// profileID. The previous selection is restored when fn returns, fails or
// panics. Concurrent WithProfile calls are serialized.
func (l *Library) WithProfile(profileID string, fn func() error) error {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()

	l.mu.Lock()
	prev := l.active
	l.active = profileID
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.active = prev
		l.mu.Unlock()
	}()
	return fn()
}

func (l *Library) activeOrErr() (string, error) {
	p := l.ActiveProfile()
	if p == "" {
		return "", ErrNoActiveProfile
	}
	return p, nil
}

// Active-profile conveniences used by UI callers.

func (l *Library) SaveProgress(ctx context.Context, p models.WatchProgress) (bool, error) {
	profileID, err := l.activeOrErr()
	if err != nil {
		return false, err
	}
	return l.UpsertProgress(ctx, profileID, p)
}

func (l *Library) AddToList(ctx context.Context, item models.ListItem) (bool, error) {
	profileID, err := l.activeOrErr()
	if err != nil {
		return false, err
	}
	return l.AddListItem(ctx, profileID, item)
}

func (l *Library) RemoveFromList(ctx context.Context, itemID string) (bool, error) {
	profileID, err := l.activeOrErr()
	if err != nil {
		return false, err
	}
	return l.RemoveListItem(ctx, profileID, itemID)
}

func (l *Library) HideFromContinueWatching(ctx context.Context, itemID string) (bool, error) {
	profileID, err := l.activeOrErr()
	if err != nil {
		return false, err
	}
	return l.SetHidden(ctx, profileID, itemID, true)
}
