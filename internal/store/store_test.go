// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/mediasync/internal/models"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := openMem(t)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := s.Set("k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after close err = %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	s := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, "lib:", func(key string, _ []byte) {
			got <- key
		})
	}()

	// Subscribe registers asynchronously; keep writing until the first
	// event arrives.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for received := false; !received; {
		select {
		case key := <-got:
			if key != "lib:addons" {
				t.Fatalf("unexpected key %q", key)
			}
			received = true
		case <-tick.C:
			_ = s.Set("other", []byte("x"))
			_ = s.Set("lib:addons", []byte("[]"))
		case <-deadline:
			t.Fatal("no subscription event")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openMem(t)

	sess, err := s.LoadSession()
	if err != nil || sess.Registered() {
		t.Fatalf("fresh session = %+v, %v", sess, err)
	}

	want := Session{
		ServerURL: "http://sync.local",
		Token:     "tok",
		DeviceID:  "dev-1",
		Approval:  models.ApprovalPending,
	}
	if err := s.SaveSession(want); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadSession()
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "tok" || got.Approval != models.ApprovalPending || !got.Registered() {
		t.Errorf("LoadSession = %+v", got)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadSession(); got.Registered() {
		t.Error("session should be cleared")
	}
}

func TestEnsureDeviceIsStableAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Options{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.EnsureDevice()
	if err != nil || first == "" {
		t.Fatalf("EnsureDevice = %q, %v", first, err)
	}
	again, _ := s.EnsureDevice()
	if again != first {
		t.Errorf("EnsureDevice changed within a run: %q -> %q", first, again)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(Options{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	restarted, _ := s2.EnsureDevice()
	if restarted != first {
		t.Errorf("device id after restart = %q, want %q", restarted, first)
	}
}

func TestCollectGarbage(t *testing.T) {
	s, err := Open(Options{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i := 0; i < 50; i++ {
		if err := s.Set("k", []byte("value")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CollectGarbage(0.5); err != nil {
		t.Errorf("CollectGarbage() = %v", err)
	}

	mem := openMem(t)
	if err := mem.CollectGarbage(0.5); err != nil {
		t.Errorf("in-memory CollectGarbage() = %v", err)
	}
}
