// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/mediasync/internal/applier"
	"github.com/tomtom215/mediasync/internal/models"
)

// mockConn is one accepted socket. Writes are serialized.
type mockConn struct {
	mu   stdsync.Mutex
	conn *websocket.Conn
}

func (c *mockConn) send(msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// mockSyncServer simulates the coordination server: REST endpoints plus the
// /ws/sync socket, backed by an in-memory snapshot.
type mockSyncServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu            stdsync.Mutex
	state         *models.Snapshot
	token         string
	assignedID    string
	approval      models.ApprovalStatus
	pollStatus    models.ApprovalStatus
	registerFails int
	registers     []models.RegisterRequest
	batches       [][]models.Operation
	conns         []*mockConn
	silent        bool
	rejectAuth    bool
	noSnapshot    bool

	received chan models.Message
}

func newMockSyncServer(t *testing.T) *mockSyncServer {
	t.Helper()
	m := &mockSyncServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		state:      models.NewSnapshot(),
		token:      "token-1",
		approval:   models.ApprovalApproved,
		pollStatus: models.ApprovalApproved,
		received:   make(chan models.Message, 1024),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.ServerInfo{Version: "1.2.0", Name: "mock", Uptime: 42})
	}))
	mux.HandleFunc("POST /api/auth/register", m.handleRegister)
	mux.HandleFunc("GET /api/auth/status", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		status := m.pollStatus
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, models.StatusResponse{DeviceID: r.URL.Query().Get("device_id"), Status: status})
	})
	mux.HandleFunc("GET /api/sync/snapshot", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		snap := m.state.Clone()
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, snap)
	}))
	mux.HandleFunc("POST /api/sync/push-batch", m.authed(func(w http.ResponseWriter, r *http.Request) {
		var req models.PushBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.batches = append(m.batches, req.Operations)
		m.mu.Unlock()
		for _, op := range req.Operations {
			m.apply(op)
		}
		writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
	}))
	mux.HandleFunc("GET /api/devices", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.DevicesResponse{Devices: []models.Device{{ID: "dev-1", DisplayName: "Living room", Platform: "linux"}}})
	}))
	mux.HandleFunc("DELETE /api/devices/{id}", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
	}))
	mux.HandleFunc("/ws/sync", m.handleSocket)

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.close)
	return m
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (m *mockSyncServer) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		want := "Bearer " + m.token
		m.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (m *mockSyncServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.registers = append(m.registers, req)
	if m.registerFails > 0 {
		m.registerFails--
		m.mu.Unlock()
		http.Error(w, "starting up", http.StatusServiceUnavailable)
		return
	}
	id := m.assignedID
	if id == "" {
		id = req.ExistingDeviceID
	}
	resp := models.RegisterResponse{Token: m.token, DeviceID: id, Status: m.approval}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (m *mockSyncServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	mc := &mockConn{conn: conn}
	m.mu.Lock()
	m.conns = append(m.conns, mc)
	m.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case m.received <- msg:
		default:
		}
		m.handleFrame(mc, msg)
	}
}

func (m *mockSyncServer) handleFrame(mc *mockConn, msg models.Message) {
	m.mu.Lock()
	token, reject, silent, deviceID := m.token, m.rejectAuth, m.silent, m.assignedID
	noSnapshot := m.noSnapshot
	m.mu.Unlock()

	switch msg.Type {
	case models.MessageAuth:
		if reject || msg.Token != token {
			_ = mc.send(models.Message{Type: models.MessageAuthError, Message: "invalid token"})
			return
		}
		_ = mc.send(models.Message{Type: models.MessageAuthOK, DeviceID: deviceID})
	case models.MessageSyncOperation:
		if msg.Operation != nil {
			m.apply(*msg.Operation)
			m.broadcast(models.Message{Type: models.MessageSyncOperation, Operation: msg.Operation})
		}
	case models.MessageRequestSnapshot:
		if noSnapshot {
			return
		}
		m.mu.Lock()
		snap := m.state.Clone()
		m.mu.Unlock()
		_ = mc.send(models.Message{Type: models.MessageSyncSnapshot, Snapshot: snap})
	case models.MessagePing:
		if !silent {
			_ = mc.send(models.Message{Type: models.MessagePong})
		}
	}
}

func (m *mockSyncServer) apply(op models.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = applier.Apply(context.Background(), applier.NewSnapshotReplica(m.state), op)
}

// broadcast relays msg to every socket, the sender included.
func (m *mockSyncServer) broadcast(msg models.Message) {
	m.mu.Lock()
	conns := append([]*mockConn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.send(msg)
	}
}

func (m *mockSyncServer) set(fn func(m *mockSyncServer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *mockSyncServer) snapshot() *models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// expect waits for the next socket frame of type typ, skipping others.
func (m *mockSyncServer) expect(t *testing.T, typ models.MessageType) models.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-m.received:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("server did not receive %s", typ)
			return models.Message{}
		}
	}
}

func (m *mockSyncServer) close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
	m.server.Close()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func checkStringEqual(t *testing.T, fieldName, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", fieldName, want, got)
	}
}

func checkIntEqual(t *testing.T, fieldName string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", fieldName, want, got)
	}
}

func checkTrue(t *testing.T, what string, cond bool) {
	t.Helper()
	if !cond {
		t.Errorf("expected %s", what)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// newStatusServer serves every request with h.
func newStatusServer(t *testing.T, h func(w http.ResponseWriter)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { h(w) }))
	t.Cleanup(srv.Close)
	return srv.URL
}
