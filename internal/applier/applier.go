// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package applier turns an Operation into the equivalent mutation of a
// library replica.
//
// Apply is a dispatch table keyed by (collection, action). Every handler is
// idempotent: replaying an operation with the same payload reports no change
// and no error. Profile-scoped handlers pass the payload's profile id to the
// replica explicitly and never consult an active profile.
package applier

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/mediasync/internal/metrics"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/validation"
)

// ErrUnknownOperation is returned for (collection, action) pairs without a handler.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrInvalidPayload is returned when a payload does not decode or validate.
var ErrInvalidPayload = errors.New("invalid operation payload")

// Replica is the mutation surface of one library. Every method reports
// whether state changed.
type Replica interface {
	AddAddon(ctx context.Context, a models.Addon) (bool, error)
	UpdateAddon(ctx context.Context, a models.Addon) (bool, error)
	RemoveAddon(ctx context.Context, addonID string) (bool, error)

	UpsertProgress(ctx context.Context, profileID string, p models.WatchProgress) (bool, error)
	RemoveProgress(ctx context.Context, profileID, itemID string) (bool, error)
	ClearHistory(ctx context.Context, profileID string) (bool, error)

	AddListItem(ctx context.Context, profileID string, item models.ListItem) (bool, error)
	RemoveListItem(ctx context.Context, profileID, itemID string) (bool, error)

	SetHidden(ctx context.Context, profileID, itemID string, hidden bool) (bool, error)

	UpsertProfile(ctx context.Context, p models.Profile) (bool, error)
	RemoveProfile(ctx context.Context, profileID string) (bool, error)
}

type handler func(ctx context.Context, r Replica, op models.Operation) (bool, error)

var handlers = map[models.OperationKey]handler{
	{Collection: models.CollectionAddons, Action: models.ActionAdd}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		a, err := decode[models.Addon](op)
		if err != nil {
			return false, err
		}
		return r.AddAddon(ctx, a)
	},
	{Collection: models.CollectionAddons, Action: models.ActionUpdate}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		a, err := decode[models.Addon](op)
		if err != nil {
			return false, err
		}
		return r.UpdateAddon(ctx, a)
	},
	{Collection: models.CollectionAddons, Action: models.ActionRemove}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.AddonRef](op)
		if err != nil {
			return false, err
		}
		return r.RemoveAddon(ctx, p.AddonID)
	},

	{Collection: models.CollectionWatchHistory, Action: models.ActionUpsert}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ProgressPayload](op)
		if err != nil {
			return false, err
		}
		return r.UpsertProgress(ctx, p.ProfileID, p.Progress)
	},
	{Collection: models.CollectionWatchHistory, Action: models.ActionRemove}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ItemRef](op)
		if err != nil {
			return false, err
		}
		return r.RemoveProgress(ctx, p.ProfileID, p.ItemID)
	},
	{Collection: models.CollectionWatchHistory, Action: models.ActionClear}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ProfileRef](op)
		if err != nil {
			return false, err
		}
		return r.ClearHistory(ctx, p.ProfileID)
	},

	{Collection: models.CollectionMyList, Action: models.ActionAdd}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ListItemPayload](op)
		if err != nil {
			return false, err
		}
		return r.AddListItem(ctx, p.ProfileID, p.Item)
	},
	{Collection: models.CollectionMyList, Action: models.ActionRemove}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ItemRef](op)
		if err != nil {
			return false, err
		}
		return r.RemoveListItem(ctx, p.ProfileID, p.ItemID)
	},

	{Collection: models.CollectionContinueWatching, Action: models.ActionHide}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ItemRef](op)
		if err != nil {
			return false, err
		}
		return r.SetHidden(ctx, p.ProfileID, p.ItemID, true)
	},
	{Collection: models.CollectionContinueWatching, Action: models.ActionUnhide}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ItemRef](op)
		if err != nil {
			return false, err
		}
		return r.SetHidden(ctx, p.ProfileID, p.ItemID, false)
	},

	{Collection: models.CollectionProfiles, Action: models.ActionUpsert}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.Profile](op)
		if err != nil {
			return false, err
		}
		return r.UpsertProfile(ctx, p)
	},
	{Collection: models.CollectionProfiles, Action: models.ActionRemove}: func(ctx context.Context, r Replica, op models.Operation) (bool, error) {
		p, err := decode[models.ProfileRef](op)
		if err != nil {
			return false, err
		}
		return r.RemoveProfile(ctx, p.ProfileID)
	},
}

func decode[T any](op models.Operation) (T, error) {
	var v T
	if err := op.DecodePayload(&v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := validation.ValidateStruct(&v); err != nil {
		return v, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, op.Key(), err)
	}
	return v, nil
}

// Apply performs op against r and reports whether r changed.
func Apply(ctx context.Context, r Replica, op models.Operation) (bool, error) {
	h, ok := handlers[op.Key()]
	if !ok {
		metrics.RecordApplied(string(op.Collection), false, ErrUnknownOperation)
		return false, fmt.Errorf("%w: %s", ErrUnknownOperation, op.Key())
	}
	changed, err := h(ctx, r, op)
	metrics.RecordApplied(string(op.Collection), changed, err)
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", op.Key(), err)
	}
	return changed, nil
}
