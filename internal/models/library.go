// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package models

// Addon is an installed add-on. ID is the manifest id and is unique per library.
type Addon struct {
	ID          string `json:"id" validate:"required"`
	ManifestURL string `json:"manifestUrl" validate:"required,url"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Enabled     bool   `json:"enabled"`
	InstalledAt int64  `json:"installedAt"`
}

// WatchProgress is one watch-history record owned by a profile.
type WatchProgress struct {
	ItemID     string `json:"itemId" validate:"required"`
	Type       string `json:"type" validate:"omitempty,oneof=movie series episode"`
	Title      string `json:"title,omitempty"`
	Poster     string `json:"poster,omitempty"`
	Season     int    `json:"season,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	PositionMs int64  `json:"positionMs"`
	DurationMs int64  `json:"durationMs"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Finished reports whether playback reached the last 5% of the item.
func (p WatchProgress) Finished() bool {
	return p.DurationMs > 0 && p.PositionMs*20 >= p.DurationMs*19
}

// ListItem is an entry of a profile's saved list.
type ListItem struct {
	ID      string `json:"id" validate:"required"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Poster  string `json:"poster,omitempty"`
	AddedAt int64  `json:"addedAt"`
}

// Profile is a viewer profile. Profile-scoped collections are keyed by Profile.ID.
type Profile struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Avatar    string `json:"avatar,omitempty"`
	IsKids    bool   `json:"isKids"`
	CreatedAt int64  `json:"createdAt"`
}
