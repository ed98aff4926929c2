// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package models

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func fixedClock(t *testing.T, ms int64) {
	t.Helper()
	prev := nowMillis
	nowMillis = func() int64 { return ms }
	t.Cleanup(func() { nowMillis = prev })
}

func TestNewOperationStampsEnvelope(t *testing.T) {
	fixedClock(t, 1700000000000)

	op := AddonAdded("dev-1", Addon{ID: "org.cinemeta", ManifestURL: "https://example.com/manifest.json"})

	if op.ID == "" {
		t.Error("operation id should be generated")
	}
	if op.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", op.Timestamp)
	}
	if op.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q", op.DeviceID)
	}
	if op.Key().String() != "addons/add" {
		t.Errorf("Key = %s", op.Key())
	}

	var a Addon
	if err := op.DecodePayload(&a); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if a.ID != "org.cinemeta" {
		t.Errorf("payload id = %q", a.ID)
	}
}

func TestOperationValidate(t *testing.T) {
	good := ProfileRemoved("dev-1", "p1")
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	unknown := good
	unknown.Action = ActionHide
	if err := unknown.Validate(); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("profiles/hide: err = %v, want ErrUnknownVariant", err)
	}

	anonymous := good
	anonymous.DeviceID = ""
	if err := anonymous.Validate(); err == nil {
		t.Error("operation without device id should not validate")
	}

	empty := good
	empty.Payload = nil
	if err := empty.Validate(); err == nil {
		t.Error("operation without payload should not validate")
	}
}

func TestHiddenSetAction(t *testing.T) {
	if op := HiddenSet("d", "p", "i", true); op.Action != ActionHide {
		t.Errorf("hide action = %s", op.Action)
	}
	if op := HiddenSet("d", "p", "i", false); op.Action != ActionUnhide {
		t.Errorf("unhide action = %s", op.Action)
	}
}

func TestOperationWireFormat(t *testing.T) {
	fixedClock(t, 42)
	op := ListItemAdded("dev-9", "p1", ListItem{ID: "tt0111161", Type: "movie", Name: "The Shawshank Redemption"})

	data, err := json.Marshal(Message{Type: MessageSyncOperation, Operation: &op})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != "sync_operation" {
		t.Errorf("type = %v", raw["type"])
	}
	inner, ok := raw["operation"].(map[string]interface{})
	if !ok {
		t.Fatalf("operation missing: %s", data)
	}
	if inner["collection"] != "my_list" || inner["action"] != "add" || inner["deviceId"] != "dev-9" {
		t.Errorf("unexpected envelope %v", inner)
	}
	payload := inner["payload"].(map[string]interface{})
	if payload["profileId"] != "p1" {
		t.Errorf("payload.profileId = %v", payload["profileId"])
	}
}

func TestSnapshotMutationsAreIdempotent(t *testing.T) {
	s := NewSnapshot()
	a := Addon{ID: "a1", ManifestURL: "https://a/manifest.json", Name: "A"}

	if !s.AddAddon(a) {
		t.Fatal("first AddAddon should change the snapshot")
	}
	if s.AddAddon(a) {
		t.Error("second AddAddon should be a no-op")
	}
	if len(s.Addons) != 1 {
		t.Errorf("len(Addons) = %d, want 1", len(s.Addons))
	}

	renamed := a
	renamed.Name = "A2"
	if s.AddAddon(renamed) {
		t.Error("AddAddon must not overwrite an existing add-on")
	}
	if !s.PutAddon(renamed) {
		t.Error("PutAddon should overwrite")
	}
	if got, _ := s.Addon("a1"); got.Name != "A2" {
		t.Errorf("Name = %q, want A2", got.Name)
	}

	if !s.SetHidden("p1", "i1", true) || s.SetHidden("p1", "i1", true) {
		t.Error("SetHidden(true) should change once")
	}
	if !s.SetHidden("p1", "i1", false) || s.SetHidden("p1", "i1", false) {
		t.Error("SetHidden(false) should change once")
	}

	p := WatchProgress{ItemID: "i1", PositionMs: 10, DurationMs: 100}
	if !s.PutProgress("p1", p) || s.PutProgress("p1", p) {
		t.Error("PutProgress should change once for identical records")
	}
	if !s.RemoveProgress("p1", "i1") || s.RemoveProgress("p1", "i1") {
		t.Error("RemoveProgress should change once")
	}
}

func TestSnapshotRemoveProfileDropsScopedCollections(t *testing.T) {
	s := NewSnapshot()
	s.PutProfile(Profile{ID: "p1", Name: "Kid"})
	s.PutProgress("p1", WatchProgress{ItemID: "i1"})
	s.PutListItem("p1", ListItem{ID: "l1"})
	s.SetHidden("p1", "h1", true)

	if !s.RemoveProfile("p1") {
		t.Fatal("RemoveProfile should report a change")
	}
	if !s.IsEmpty() {
		t.Errorf("snapshot should be empty, got %+v", s)
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := NewSnapshot()
	s.PutListItem("p1", ListItem{ID: "l1"})
	s.AddAddon(Addon{ID: "a1"})

	c := s.Clone()
	c.PutListItem("p1", ListItem{ID: "l2"})
	c.RemoveAddon("a1")

	if len(s.MyList["p1"]) != 1 {
		t.Errorf("original list mutated: %v", s.MyList["p1"])
	}
	if len(s.Addons) != 1 {
		t.Errorf("original addons mutated: %v", s.Addons)
	}
}

func TestSnapshotMissing(t *testing.T) {
	local := NewSnapshot()
	local.PutProfile(Profile{ID: "p1", Name: "Me"})
	local.AddAddon(Addon{ID: "shared"})
	local.AddAddon(Addon{ID: "local-only"})
	local.PutProgress("p1", WatchProgress{ItemID: "i1", PositionMs: 5})
	local.SetHidden("p1", "h1", true)

	server := NewSnapshot()
	server.PutProfile(Profile{ID: "p1", Name: "Renamed"})
	server.AddAddon(Addon{ID: "shared", Name: "different fields"})

	ops := local.Missing(server, "dev-1")

	var keys []string
	for _, op := range ops {
		keys = append(keys, op.Key().String())
		if op.DeviceID != "dev-1" {
			t.Errorf("op %s attributed to %q", op.Key(), op.DeviceID)
		}
	}
	want := []string{"addons/add", "watch_history/upsert", "continue_watching/hide"}
	if len(keys) != len(want) {
		t.Fatalf("Missing = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Missing[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestConnectionStateText(t *testing.T) {
	for _, s := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateAuthenticated, StateError} {
		text, _ := s.MarshalText()
		var back ConnectionState
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("round trip of %s gave %s (%v)", s, back, err)
		}
	}
	if got := ConnectionState(99).String(); got != "ConnectionState(99)" {
		t.Errorf("unknown state String() = %q", got)
	}
}

func TestWatchProgressFinished(t *testing.T) {
	if (WatchProgress{PositionMs: 94, DurationMs: 100}).Finished() {
		t.Error("94% should not be finished")
	}
	if !(WatchProgress{PositionMs: 95, DurationMs: 100}).Finished() {
		t.Error("95% should be finished")
	}
	if (WatchProgress{PositionMs: 10}).Finished() {
		t.Error("unknown duration should not be finished")
	}
}
