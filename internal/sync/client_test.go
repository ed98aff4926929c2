// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/validation"
)

func newTestClient(base string) *Client {
	return NewClient(ClientConfig{
		BaseURL:         base,
		Timeout:         2 * time.Second,
		RateLimit:       1000,
		RateBurst:       1000,
		BreakerFailures: 100,
		BreakerTimeout:  time.Second,
	})
}

func TestClientAuthorizationHeader(t *testing.T) {
	var snapshotAuth, registerAuth, statusAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sync/snapshot":
			snapshotAuth.Store(r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, models.NewSnapshot())
		case "/api/auth/register":
			registerAuth.Store(r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, models.RegisterResponse{Token: "t", DeviceID: "d", Status: models.ApprovalPending})
		case "/api/auth/status":
			statusAuth.Store(r.Header.Get("Authorization"))
			checkStringEqual(t, "device_id", r.URL.Query().Get("device_id"), "dev 1")
			writeJSON(w, http.StatusOK, models.StatusResponse{DeviceID: "dev 1", Status: models.ApprovalPending})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL + "/")
	c.SetToken("secret")
	ctx := context.Background()

	if _, err := c.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if _, err := c.Register(ctx, models.RegisterRequest{DeviceName: "tv", Platform: "linux"}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if _, err := c.Status(ctx, "dev 1"); err != nil {
		t.Fatalf("Status() failed: %v", err)
	}

	checkStringEqual(t, "snapshot Authorization", snapshotAuth.Load().(string), "Bearer secret")
	checkStringEqual(t, "register Authorization", registerAuth.Load().(string), "")
	checkStringEqual(t, "status Authorization", statusAuth.Load().(string), "")
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
		temporary    bool
	}{
		{"unauthorized", http.StatusUnauthorized, true, false},
		{"forbidden", http.StatusForbidden, true, false},
		{"bad request", http.StatusBadRequest, false, false},
		{"server error", http.StatusInternalServerError, false, true},
		{"throttled", http.StatusTooManyRequests, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL)
			c.SetToken("t")
			_, err := c.Devices(context.Background())

			var he *HTTPError
			if !errors.As(err, &he) {
				t.Fatalf("err = %v, want *HTTPError", err)
			}
			checkIntEqual(t, "StatusCode", he.StatusCode, tt.status)
			checkStringEqual(t, "Body", he.Body, "nope")
			checkTrue(t, "ErrUnauthorized match", errors.Is(err, ErrUnauthorized) == tt.unauthorized)
			checkTrue(t, "Temporary", he.Temporary() == tt.temporary)
		})
	}
}

func TestClientRequiresTokenAndURL(t *testing.T) {
	c := newTestClient("")
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no base url: err = %v", err)
	}
	c.SetBaseURL("http://127.0.0.1:1")
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("no token: err = %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	c.SetToken("t")

	start := time.Now()
	_, err := c.Info(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %v despite 50ms timeout", elapsed)
	}
}

func TestClientRejectsInvalidRegisterResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "maybe"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Register(context.Background(), models.RegisterRequest{DeviceName: "tv", Platform: "linux"})
	var ve *validation.Error
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestClientPushBatch(t *testing.T) {
	var calls atomic.Int32
	var got models.PushBatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		checkStringEqual(t, "method", r.Method, http.MethodPost)
		checkStringEqual(t, "path", r.URL.Path, "/api/sync/push-batch")
		_ = decodeBody(r, &got)
		writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetToken("t")
	ctx := context.Background()

	if err := c.PushBatch(ctx, nil); err != nil {
		t.Fatalf("empty PushBatch() failed: %v", err)
	}
	checkIntEqual(t, "calls after empty batch", int(calls.Load()), 0)

	ops := []models.Operation{
		models.AddonRemoved("dev", "a"),
		models.ProfileRemoved("dev", "p"),
	}
	if err := c.PushBatch(ctx, ops); err != nil {
		t.Fatalf("PushBatch() failed: %v", err)
	}
	checkIntEqual(t, "calls", int(calls.Load()), 1)
	checkIntEqual(t, "operations", len(got.Operations), 2)
}

func TestClientUnconfirmedPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.OKResponse{OK: false})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetToken("t")
	if err := c.Push(context.Background(), models.AddonRemoved("dev", "a")); err == nil {
		t.Error("expected error when server does not confirm")
	}
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, BreakerFailures: 2, BreakerTimeout: time.Minute})
	c.SetToken("t")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = c.Info(ctx)
	}
	_, err := c.Info(ctx)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("third call err = %v, want open circuit", err)
	}
	checkIntEqual(t, "server calls", int(calls.Load()), 2)
}

func TestClientBreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, BreakerFailures: 1, BreakerTimeout: time.Minute})
	c.SetToken("t")
	for i := 0; i < 3; i++ {
		_, err := c.Info(context.Background())
		if errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("call %d: breaker opened on 404", i)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New("dial tcp: refused"), KindTransport},
		{&HTTPError{StatusCode: 401}, KindAuthentication},
		{&AuthError{Message: "expired"}, KindAuthentication},
		{ErrDeviceRejected, KindApproval},
		{&Error{Kind: KindPush, Err: errors.New("503")}, KindPush},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	wrapped := classify(KindReconciliation, errors.New("boom"))
	checkStringEqual(t, "message", wrapped.Error(), "reconciliation error: boom")
	if classify(KindPush, wrapped) != wrapped {
		t.Error("classify must keep an existing classification")
	}
}
