// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package status

import (
	"context"
	"testing"
	"time"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc, <-chan error) {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	t.Cleanup(cancel)
	return h, cancel, done
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(5 * time.Second):
		t.Fatalf("client %d received nothing", c.id)
		return Message{}, false
	}
}

func TestHubBroadcast(t *testing.T) {
	h, _, _ := runHub(t)

	a, b := NewClient(h, nil), NewClient(h, nil)
	if !h.Register(a) || !h.Register(b) {
		t.Fatal("Register() refused on a running hub")
	}

	h.Broadcast(MessageTypeLibrary, LibraryChange{Collection: "addons"})
	for _, c := range []*Client{a, b} {
		msg, ok := receive(t, c)
		if !ok || msg.Type != MessageTypeLibrary {
			t.Errorf("client %d got %+v (open=%v)", c.id, msg, ok)
		}
	}
	if n := h.ClientCount(); n != 2 {
		t.Errorf("ClientCount() = %d", n)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h, _, _ := runHub(t)

	slow := NewClient(h, nil)
	h.Register(slow)
	for i := 0; i < cap(slow.send)+1; i++ {
		h.Broadcast(MessageTypeStatus, i)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The buffer drains, then the channel reports closed.
	for range slow.send {
	}
}

func TestHubShutdown(t *testing.T) {
	h, cancel, done := runHub(t)

	c := NewClient(h, nil)
	h.Register(c)
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("Serve() = %v", err)
	}
	if _, ok := receive(t, c); ok {
		t.Error("client channel still open after shutdown")
	}
	if h.Register(NewClient(h, nil)) {
		t.Error("Register() accepted a client after shutdown")
	}
}
