// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Collection names a synchronized library collection.
type Collection string

const (
	CollectionAddons           Collection = "addons"
	CollectionWatchHistory     Collection = "watch_history"
	CollectionMyList           Collection = "my_list"
	CollectionContinueWatching Collection = "continue_watching"
	CollectionProfiles         Collection = "profiles"
)

// Action names a mutation within a collection.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
	ActionUpsert Action = "upsert"
	ActionClear  Action = "clear"
	ActionHide   Action = "hide"
	ActionUnhide Action = "unhide"
)

// OperationKey identifies an operation variant.
type OperationKey struct {
	Collection Collection
	Action     Action
}

func (k OperationKey) String() string {
	return string(k.Collection) + "/" + string(k.Action)
}

// operationVariants lists every (collection, action) pair understood on the wire.
var operationVariants = map[OperationKey]struct{}{
	{CollectionAddons, ActionAdd}:              {},
	{CollectionAddons, ActionUpdate}:           {},
	{CollectionAddons, ActionRemove}:           {},
	{CollectionWatchHistory, ActionUpsert}:     {},
	{CollectionWatchHistory, ActionRemove}:     {},
	{CollectionWatchHistory, ActionClear}:      {},
	{CollectionMyList, ActionAdd}:              {},
	{CollectionMyList, ActionRemove}:           {},
	{CollectionContinueWatching, ActionHide}:   {},
	{CollectionContinueWatching, ActionUnhide}: {},
	{CollectionProfiles, ActionUpsert}:         {},
	{CollectionProfiles, ActionRemove}:         {},
}

// ErrUnknownVariant is returned for (collection, action) pairs outside operationVariants.
var ErrUnknownVariant = errors.New("unknown operation variant")

// Operation is a single immutable library mutation.
type Operation struct {
	ID         string          `json:"id,omitempty"`
	Collection Collection      `json:"collection"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"`
	DeviceID   string          `json:"deviceId"`
}

// Key returns the variant key used for dispatch.
func (o Operation) Key() OperationKey {
	return OperationKey{Collection: o.Collection, Action: o.Action}
}

// Validate checks the variant and the mandatory envelope fields.
func (o Operation) Validate() error {
	if _, ok := operationVariants[o.Key()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, o.Key())
	}
	if o.DeviceID == "" {
		return errors.New("operation has no device id")
	}
	if len(o.Payload) == 0 {
		return fmt.Errorf("operation %s has no payload", o.Key())
	}
	return nil
}

// DecodePayload unmarshals the payload into v.
func (o Operation) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(o.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", o.Key(), err)
	}
	return nil
}

// nowMillis is swapped in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// NewOperation builds an operation stamped with the current time and a fresh id.
func NewOperation(deviceID string, collection Collection, action Action, payload interface{}) (Operation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("marshal %s/%s payload: %w", collection, action, err)
	}
	op := Operation{
		ID:         uuid.NewString(),
		Collection: collection,
		Action:     action,
		Payload:    data,
		Timestamp:  nowMillis(),
		DeviceID:   deviceID,
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// mustOperation is used by the typed constructors whose payloads are plain
// structs; marshaling them cannot fail.
func mustOperation(deviceID string, collection Collection, action Action, payload interface{}) Operation {
	op, err := NewOperation(deviceID, collection, action, payload)
	if err != nil {
		panic(err)
	}
	return op
}

// Payload shapes. Full-record payloads (addons/add, addons/update,
// profiles/upsert) carry the record itself.

// AddonRef is the payload of addons/remove.
type AddonRef struct {
	AddonID string `json:"addonId" validate:"required"`
}

// ProgressPayload is the payload of watch_history/upsert.
type ProgressPayload struct {
	ProfileID string        `json:"profileId" validate:"required"`
	Progress  WatchProgress `json:"progress"`
}

// ListItemPayload is the payload of my_list/add.
type ListItemPayload struct {
	ProfileID string   `json:"profileId" validate:"required"`
	Item      ListItem `json:"item"`
}

// ItemRef addresses one item of a profile-scoped collection
// (watch_history/remove, my_list/remove, continue_watching/hide|unhide).
type ItemRef struct {
	ProfileID string `json:"profileId" validate:"required"`
	ItemID    string `json:"itemId" validate:"required"`
}

// ProfileRef is the payload of watch_history/clear and profiles/remove.
type ProfileRef struct {
	ProfileID string `json:"profileId" validate:"required"`
}

func AddonAdded(deviceID string, a Addon) Operation {
	return mustOperation(deviceID, CollectionAddons, ActionAdd, a)
}

func AddonUpdated(deviceID string, a Addon) Operation {
	return mustOperation(deviceID, CollectionAddons, ActionUpdate, a)
}

func AddonRemoved(deviceID, addonID string) Operation {
	return mustOperation(deviceID, CollectionAddons, ActionRemove, AddonRef{AddonID: addonID})
}

func ProgressUpserted(deviceID, profileID string, p WatchProgress) Operation {
	return mustOperation(deviceID, CollectionWatchHistory, ActionUpsert, ProgressPayload{ProfileID: profileID, Progress: p})
}

func ProgressRemoved(deviceID, profileID, itemID string) Operation {
	return mustOperation(deviceID, CollectionWatchHistory, ActionRemove, ItemRef{ProfileID: profileID, ItemID: itemID})
}

func HistoryCleared(deviceID, profileID string) Operation {
	return mustOperation(deviceID, CollectionWatchHistory, ActionClear, ProfileRef{ProfileID: profileID})
}

func ListItemAdded(deviceID, profileID string, item ListItem) Operation {
	return mustOperation(deviceID, CollectionMyList, ActionAdd, ListItemPayload{ProfileID: profileID, Item: item})
}

func ListItemRemoved(deviceID, profileID, itemID string) Operation {
	return mustOperation(deviceID, CollectionMyList, ActionRemove, ItemRef{ProfileID: profileID, ItemID: itemID})
}

// HiddenSet builds continue_watching/hide or continue_watching/unhide.
func HiddenSet(deviceID, profileID, itemID string, hidden bool) Operation {
	action := ActionHide
	if !hidden {
		action = ActionUnhide
	}
	return mustOperation(deviceID, CollectionContinueWatching, action, ItemRef{ProfileID: profileID, ItemID: itemID})
}

func ProfileUpserted(deviceID string, p Profile) Operation {
	return mustOperation(deviceID, CollectionProfiles, ActionUpsert, p)
}

func ProfileRemoved(deviceID, profileID string) Operation {
	return mustOperation(deviceID, CollectionProfiles, ActionRemove, ProfileRef{ProfileID: profileID})
}
