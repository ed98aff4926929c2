// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package library

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/mediasync/internal/applier"
	"github.com/tomtom215/mediasync/internal/bridge"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/store"
)

var _ applier.Replica = (*Library)(nil)

type countingSink struct {
	ops []models.Operation
}

func (s *countingSink) Enqueue(_ context.Context, op models.Operation) error {
	s.ops = append(s.ops, op)
	return nil
}

func newTestLibrary(t *testing.T) (*Library, *bridge.Bridge, *countingSink) {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bridge.New()
	sink := &countingSink{}
	b.Attach(sink)

	lib, err := Open(st, b, "local-device")
	if err != nil {
		t.Fatal(err)
	}
	return lib, b, sink
}

func addon(id string) models.Addon {
	return models.Addon{ID: id, ManifestURL: "https://addons.example/" + id + "/manifest.json", Name: id}
}

func TestLocalMutationBroadcastsOnlyOnChange(t *testing.T) {
	lib, _, sink := newTestLibrary(t)
	ctx := context.Background()

	if changed, err := lib.AddAddon(ctx, addon("a")); err != nil || !changed {
		t.Fatalf("AddAddon = %v, %v", changed, err)
	}
	if changed, _ := lib.AddAddon(ctx, addon("a")); changed {
		t.Error("duplicate AddAddon reported a change")
	}

	if len(sink.ops) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(sink.ops))
	}
	op := sink.ops[0]
	if op.Key().String() != "addons/add" || op.DeviceID != "local-device" {
		t.Errorf("broadcast op = %s from %s", op.Key(), op.DeviceID)
	}
}

func TestRemoteOperationsProduceNoBroadcasts(t *testing.T) {
	lib, b, sink := newTestLibrary(t)

	for i := 0; i < 1000; i++ {
		var op models.Operation
		switch i % 4 {
		case 0:
			op = models.AddonAdded("remote", addon(fmt.Sprintf("a%d", i)))
		case 1:
			op = models.ProgressUpserted("remote", "p1", models.WatchProgress{ItemID: fmt.Sprintf("i%d", i), PositionMs: int64(i)})
		case 2:
			op = models.ListItemAdded("remote", "p1", models.ListItem{ID: fmt.Sprintf("l%d", i)})
		case 3:
			op = models.HiddenSet("remote", "p1", fmt.Sprintf("h%d", i), true)
		}
		err := b.ApplyRemote(context.Background(), func(ctx context.Context) error {
			_, err := applier.Apply(ctx, lib, op)
			return err
		})
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	if len(sink.ops) != 0 {
		t.Errorf("1000 remote operations produced %d broadcasts", len(sink.ops))
	}
	if got := len(lib.Addons()); got != 250 {
		t.Errorf("addons = %d, want 250", got)
	}
}

func TestLibrarySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.Open(store.Options{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	lib, err := Open(st, nil, "dev")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = lib.UpsertProfile(ctx, models.Profile{ID: "p1", Name: "Me"})
	_, _ = lib.AddListItem(ctx, "p1", models.ListItem{ID: "tt1", Name: "Film"})
	_ = lib.SetActiveProfile("p1")
	_ = st.Close()

	st, err = store.Open(store.Options{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	lib, err = Open(st, nil, "dev")
	if err != nil {
		t.Fatal(err)
	}
	if got := lib.List("p1"); len(got) != 1 || got[0].ID != "tt1" {
		t.Errorf("List(p1) after reopen = %v", got)
	}
	if lib.ActiveProfile() != "p1" {
		t.Errorf("ActiveProfile = %q", lib.ActiveProfile())
	}
}

func TestCaptureIsImmutable(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()
	_, _ = lib.AddAddon(ctx, addon("a"))

	snap := lib.Capture()
	_, _ = lib.RemoveAddon(ctx, "a")

	if len(snap.Addons) != 1 {
		t.Errorf("captured snapshot changed after mutation: %v", snap.Addons)
	}
}

func TestRemoveProfileDropsScopedData(t *testing.T) {
	lib, _, sink := newTestLibrary(t)
	ctx := context.Background()
	_, _ = lib.UpsertProfile(ctx, models.Profile{ID: "p1", Name: "Me"})
	_, _ = lib.UpsertProgress(ctx, "p1", models.WatchProgress{ItemID: "tt1"})
	sink.ops = nil

	if changed, err := lib.RemoveProfile(ctx, "p1"); err != nil || !changed {
		t.Fatalf("RemoveProfile = %v, %v", changed, err)
	}
	if len(lib.History("p1")) != 0 {
		t.Error("history of removed profile should be gone")
	}
	if len(sink.ops) != 1 || sink.ops[0].Key().String() != "profiles/remove" {
		t.Errorf("broadcasts = %v", sink.ops)
	}
}

func TestWithProfileRestoresActiveProfile(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	_ = lib.SetActiveProfile("main")

	boom := errors.New("boom")
	err := lib.WithProfile("kids", func() error {
		if lib.ActiveProfile() != "kids" {
			t.Errorf("ActiveProfile inside = %q", lib.ActiveProfile())
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if lib.ActiveProfile() != "main" {
		t.Errorf("ActiveProfile after error = %q, want main", lib.ActiveProfile())
	}

	func() {
		defer func() { _ = recover() }()
		_ = lib.WithProfile("kids", func() error { panic("handler bug") })
	}()
	if lib.ActiveProfile() != "main" {
		t.Errorf("ActiveProfile after panic = %q, want main", lib.ActiveProfile())
	}
}

func TestActiveProfileHelpers(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()

	if _, err := lib.AddToList(ctx, models.ListItem{ID: "x"}); !errors.Is(err, ErrNoActiveProfile) {
		t.Errorf("AddToList without profile err = %v", err)
	}

	_ = lib.SetActiveProfile("p1")
	_, _ = lib.SaveProgress(ctx, models.WatchProgress{ItemID: "tt1", PositionMs: 10, DurationMs: 100})
	_, _ = lib.SaveProgress(ctx, models.WatchProgress{ItemID: "tt2", PositionMs: 99, DurationMs: 100})
	_, _ = lib.SaveProgress(ctx, models.WatchProgress{ItemID: "tt3", PositionMs: 10, DurationMs: 100})
	_, _ = lib.HideFromContinueWatching(ctx, "tt3")

	cw := lib.ContinueWatching("p1")
	if len(cw) != 1 || cw[0].ItemID != "tt1" {
		t.Errorf("ContinueWatching = %v, want only tt1", cw)
	}
}

func TestWatchReportsPersistedChanges(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keys := make(chan string, 16)
	go func() { _ = lib.Watch(ctx, func(key string) { keys <- key }) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case key := <-keys:
			if key != keyAddons {
				t.Fatalf("key = %q", key)
			}
			return
		case <-tick.C:
			_, _ = lib.AddAddon(context.Background(), addon(fmt.Sprintf("w%d", i)))
		case <-deadline:
			t.Fatal("no change reported")
		}
	}
}
