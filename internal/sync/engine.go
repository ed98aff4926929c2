// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

/*
engine.go - Sync Engine

The engine owns the persisted session (server URL, token, device id,
approval status) and the pending queue, and drives the workflow:

	register -> (pending: poll approval) -> reconcile -> open socket

Workflow steps, reconciliations and inbound operations are serialized by one
work lock, so live operations are never applied to a library that has not
been reconciled. The socket's read goroutine hands inbound frames to a
single worker through the inbox and never takes the lock itself.
*/

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/mediasync/internal/applier"
	"github.com/tomtom215/mediasync/internal/bridge"
	"github.com/tomtom215/mediasync/internal/config"
	"github.com/tomtom215/mediasync/internal/library"
	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/reconcile"
	"github.com/tomtom215/mediasync/internal/store"
	"github.com/tomtom215/mediasync/internal/wal"
)

const inboxSize = 256

// EngineOptions wires the engine to its collaborators.
type EngineOptions struct {
	Server config.ServerConfig
	Sync   config.SyncConfig

	Store   *store.Store
	Queue   *wal.Queue
	Library *library.Library
	Bridge  *bridge.Bridge

	// Client overrides the REST client built from Server and Sync.
	Client *Client
}

// Status is the engine state exposed to the UI.
type Status struct {
	State     models.ConnectionState `json:"state"`
	Error     string                 `json:"error,omitempty"`
	DeviceID  string                 `json:"deviceId"`
	ServerURL string                 `json:"serverUrl,omitempty"`
	Approval  models.ApprovalStatus  `json:"approval,omitempty"`
	Pending   int                    `json:"pending"`
}

type inbound struct {
	op   *models.Operation
	snap *models.Snapshot
}

// Engine orchestrates device registration, reconciliation and the live
// socket. It implements bridge.Sink.
type Engine struct {
	cfg    config.SyncConfig
	st     *store.Store
	queue  *wal.Queue
	lib    *library.Library
	bridge *bridge.Bridge
	client *Client

	// work serializes workflow steps, reconciliations and inbound applies.
	work  chan struct{}
	inbox chan inbound
	wg    stdsync.WaitGroup

	mu         stdsync.RWMutex
	session    store.Session
	password   string
	platform   string
	deviceID   string
	conn       *Connection
	state      models.ConnectionState
	lastErr    error
	listeners  map[int]func(models.ConnectionState)
	nextID     int
	runCtx     context.Context
	cancel     context.CancelFunc
	pollCancel context.CancelFunc

	// phaseCancel aborts the workflow step holding the work lock; gen
	// counts preemptions so a step that starts after one is canceled.
	phaseCancel context.CancelFunc
	gen         uint64

	now func() time.Time
}

// NewEngine loads the persisted session and device identity. Configured
// server settings seed the session only when none is persisted.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil || opts.Queue == nil || opts.Library == nil || opts.Bridge == nil {
		return nil, errors.New("sync engine requires store, queue, library and bridge")
	}

	deviceID, err := opts.Store.EnsureDevice()
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}
	sess, err := opts.Store.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.DeviceID != "" {
		deviceID = sess.DeviceID
	}
	if sess.ServerURL == "" && opts.Server.URL != "" {
		sess = store.Session{
			ServerURL:  opts.Server.URL,
			DeviceName: opts.Server.DeviceName,
			Platform:   opts.Server.Platform,
		}
	}
	if sess.DeviceName == "" {
		sess.DeviceName = opts.Server.DeviceName
	}
	if sess.Platform == "" {
		sess.Platform = opts.Server.Platform
	}

	client := opts.Client
	if client == nil {
		client = NewClient(ClientConfig{
			BaseURL:         sess.ServerURL,
			Timeout:         opts.Sync.RequestTimeout,
			RateLimit:       opts.Sync.RateLimit,
			RateBurst:       opts.Sync.RateBurst,
			BreakerFailures: opts.Sync.BreakerFailures,
			BreakerTimeout:  opts.Sync.BreakerTimeout,
		})
	} else if sess.ServerURL != "" {
		client.SetBaseURL(sess.ServerURL)
	}
	client.SetToken(sess.Token)
	opts.Library.SetDeviceID(deviceID)

	e := &Engine{
		cfg:       opts.Sync,
		st:        opts.Store,
		queue:     opts.Queue,
		lib:       opts.Library,
		bridge:    opts.Bridge,
		client:    client,
		work:      make(chan struct{}, 1),
		inbox:     make(chan inbound, inboxSize),
		session:   sess,
		password:  opts.Server.Password,
		platform:  opts.Server.Platform,
		deviceID:  deviceID,
		listeners: make(map[int]func(models.ConnectionState)),
		now:       time.Now,
	}
	if sess.Approval == models.ApprovalRejected {
		e.lastErr = &Error{Kind: KindApproval, Err: ErrDeviceRejected}
		e.state = models.StateError
	}
	return e, nil
}

// Serve runs the engine until ctx is done. It satisfies suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return ctx.Err()
}

func (e *Engine) String() string { return "sync-engine" }

// Start attaches the engine to the bridge and resumes the workflow from
// the persisted approval status. It returns without waiting for network
// activity.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return nil
	}
	e.runCtx, e.cancel = context.WithCancel(ctx)
	runCtx := e.runCtx
	e.mu.Unlock()

	e.bridge.Attach(e)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.worker(runCtx)
	}()
	e.startAdvance()

	logging.Info().Str("device_id", e.DeviceID()).Msg("Sync engine started")
	return nil
}

// Stop closes the socket, cancels polling and waits for the engine's
// goroutines. Local mutations made after Stop are not queued.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, conn := e.cancel, e.conn
	e.cancel, e.conn = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}

	e.bridge.Detach()
	cancel()
	if conn != nil {
		conn.Disconnect()
	}
	e.wg.Wait()
	logging.Info().Msg("Sync engine stopped")
}

// Enqueue sends a local operation live when the socket is authenticated.
// Otherwise it is persisted to the pending queue, and held in the socket's
// outbox when one exists, until the next confirmed batch flush. An
// operation the server already received is never queued: replaying it
// later would undo newer changes from other devices.
func (e *Engine) Enqueue(ctx context.Context, op models.Operation) error {
	if conn := e.connection(); conn != nil {
		sent, err := conn.SendOperation(op)
		if err != nil {
			return classify(KindPush, fmt.Errorf("send operation: %w", err))
		}
		if sent {
			return nil
		}
	}
	if _, err := e.queue.Append(ctx, op); err != nil {
		return classify(KindPush, fmt.Errorf("queue operation: %w", err))
	}
	return nil
}

// Configure replaces the server credentials and drops the current socket.
// A registration still retrying against the previous server is canceled.
// It returns once the settings are saved; registration against the new
// server runs in the background and reports through State and Status.
func (e *Engine) Configure(ctx context.Context, serverURL, deviceName, password string) error {
	if _, err := WebSocketURL(serverURL); err != nil {
		return err
	}
	if deviceName == "" {
		return errors.New("device name is required")
	}
	e.preempt()
	if err := e.lock(ctx); err != nil {
		return err
	}

	e.stopPoller()
	e.closeConnection()

	e.mu.Lock()
	e.session = store.Session{
		ServerURL:  serverURL,
		DeviceName: deviceName,
		Platform:   e.platform,
		DeviceID:   e.deviceID,
	}
	e.password = password
	e.lastErr = nil
	sess := e.session
	e.mu.Unlock()

	if err := e.st.SaveSession(sess); err != nil {
		e.unlock()
		return fmt.Errorf("save session: %w", err)
	}
	e.client.SetBaseURL(serverURL)
	e.client.SetToken("")
	e.setState(models.StateDisconnected)
	logging.Ctx(ctx).Info().Str("server", serverURL).Str("device_name", deviceName).Msg("Sync server configured")

	e.unlock()
	e.startAdvance()
	return nil
}

// SyncNow re-runs reconciliation and reopens the socket. Before approval
// it restarts the workflow in the background instead, canceling a
// registration that is still retrying.
func (e *Engine) SyncNow(ctx context.Context) error {
	if e.running() == nil {
		return ErrEngineStopped
	}
	e.preempt()

	sess := e.Session()
	if !sess.Registered() || sess.Approval != models.ApprovalApproved {
		e.startAdvance()
		return nil
	}
	gen := e.generation()
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()
	ctx, done := e.beginPhase(ctx, gen)
	defer done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.connect(ctx)
}

// State returns the connection state shown to the user.
func (e *Engine) State() models.ConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastError returns the human-readable last failure, or "".
func (e *Engine) LastError() string {
	if err := e.lastError(); err != nil {
		return err.Error()
	}
	return ""
}

func (e *Engine) lastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// DeviceID returns the id this installation syncs under.
func (e *Engine) DeviceID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deviceID
}

// Session returns a copy of the persisted session.
func (e *Engine) Session() store.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Status summarizes the engine for the UI.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Status{
		State:     e.state,
		DeviceID:  e.deviceID,
		ServerURL: e.session.ServerURL,
		Approval:  e.session.Approval,
		Pending:   e.queue.Len(),
	}
	if e.lastErr != nil {
		s.Error = e.lastErr.Error()
	}
	return s
}

// OnStateChange registers fn for state changes and returns a function
// that unregisters it.
func (e *Engine) OnStateChange(fn func(models.ConnectionState)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Devices lists the devices registered with the server.
func (e *Engine) Devices(ctx context.Context) ([]models.Device, error) {
	devices, err := e.client.Devices(ctx)
	return devices, classify(KindOf(err), err)
}

// RemoveDevice deletes a device registration on the server.
func (e *Engine) RemoveDevice(ctx context.Context, id string) error {
	err := e.client.RemoveDevice(ctx, id)
	return classify(KindOf(err), err)
}

// ServerInfo returns the server's name, version and uptime.
func (e *Engine) ServerInfo(ctx context.Context) (*models.ServerInfo, error) {
	info, err := e.client.Info(ctx)
	return info, classify(KindOf(err), err)
}

// advance moves the workflow one stage forward from the persisted session.
// The caller holds the work lock.
func (e *Engine) advance(ctx context.Context) {
	sess := e.Session()
	switch {
	case sess.ServerURL == "":
		logging.Ctx(ctx).Info().Msg("No sync server configured, staying offline")
		e.setState(models.StateDisconnected)
		return
	case sess.Approval == models.ApprovalRejected:
		e.fail(&Error{Kind: KindApproval, Err: ErrDeviceRejected})
		return
	}

	if !sess.Registered() || tokenExpired(sess, e.now()) {
		if err := e.register(ctx); err != nil {
			if ctx.Err() != nil {
				logging.Ctx(ctx).Debug().Msg("Registration canceled")
				return
			}
			e.fail(err)
			return
		}
		sess = e.Session()
	}

	switch sess.Approval {
	case models.ApprovalApproved:
		if err := e.connect(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Reconciliation incomplete, socket opened anyway")
		}
	case models.ApprovalRejected:
		e.fail(&Error{Kind: KindApproval, Err: ErrDeviceRejected})
	default:
		e.startPoller(sess.DeviceID)
	}
}

// register obtains a token, keeping the device id, and persists the result.
func (e *Engine) register(ctx context.Context) error {
	e.mu.RLock()
	sess, password, deviceID := e.session, e.password, e.deviceID
	e.mu.RUnlock()

	req := models.RegisterRequest{
		DeviceName:       sess.DeviceName,
		Platform:         sess.Platform,
		Password:         password,
		ExistingDeviceID: deviceID,
	}
	resp, err := Register(ctx, e.client, req, newReconnectBackOff(e.cfg.BackoffInitial, e.cfg.BackoffMax))
	if resp != nil {
		if perr := e.adoptRegistration(resp); perr != nil {
			return perr
		}
	}
	switch {
	case errors.Is(err, ErrDeviceRejected):
		return &Error{Kind: KindApproval, Err: err}
	case errors.Is(err, ErrUnauthorized):
		return &Error{Kind: KindAuthentication, Err: fmt.Errorf("registration refused: %w", err)}
	case err != nil:
		return classify(KindTransport, fmt.Errorf("registration failed: %w", err))
	}
	logging.Ctx(ctx).Info().Str("device_id", resp.DeviceID).Str("status", string(resp.Status)).Msg("Device registered")
	return nil
}

func (e *Engine) adoptRegistration(resp *models.RegisterResponse) error {
	e.mu.Lock()
	e.session.Token = resp.Token
	e.session.DeviceID = resp.DeviceID
	e.session.Approval = resp.Status
	e.session.ExpiresAt = resp.ExpiresAt
	e.deviceID = resp.DeviceID
	sess := e.session
	e.mu.Unlock()

	e.client.SetToken(resp.Token)
	e.lib.SetDeviceID(resp.DeviceID)
	if err := e.st.SaveSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// connect reconciles and replaces the socket. The returned error reports
// an incomplete reconciliation; the socket is opened regardless. The caller
// holds the work lock.
func (e *Engine) connect(ctx context.Context) error {
	res, rerr := reconcile.New(e.client, e.lib, e.bridge, e.queue, e.DeviceID()).Run(ctx)
	if res.SnapshotErr != nil {
		logging.Ctx(ctx).Warn().Err(res.SnapshotErr).Msg("Snapshot unavailable, relying on live updates")
	}
	if rerr != nil {
		rerr = classify(KindPush, rerr)
		e.recordError(rerr)
	}

	e.closeConnection()

	runCtx := e.running()
	if runCtx == nil {
		return rerr
	}
	sess := e.Session()
	conn := NewConnection(ConnectionOptions{
		Credentials:      Credentials{ServerURL: sess.ServerURL, Token: sess.Token, DeviceID: sess.DeviceID},
		PingInterval:     e.cfg.PingInterval,
		PongTimeout:      e.cfg.PongTimeout,
		HandshakeTimeout: e.cfg.HandshakeTimeout,
		BackoffInitial:   e.cfg.BackoffInitial,
		BackoffMax:       e.cfg.BackoffMax,
		OnOperation:      e.deliver,
		OnSnapshot:       e.deliverSnapshot,
		OnAuthenticated:  func(string) { e.recordError(nil) },
		OnStateChange:    e.setState,
		OnError:          func(err error) { e.recordError(classify(KindTransport, err)) },
		Reauthenticate:   e.reauthenticate,
	})
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	if err := conn.Connect(runCtx); err != nil {
		e.fail(classify(KindTransport, err))
		return err
	}
	return rerr
}

// reauthenticate runs on the socket loop after auth_error.
func (e *Engine) reauthenticate(ctx context.Context) (*Credentials, error) {
	gen := e.generation()
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	ctx, done := e.beginPhase(ctx, gen)
	defer done()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().Msg("Socket token rejected, re-registering")
	e.mu.Lock()
	e.session.Token = ""
	e.session.ExpiresAt = nil
	e.mu.Unlock()

	if err := e.register(ctx); err != nil {
		if KindOf(err) == KindTransport {
			return nil, err
		}
		e.fail(err)
		return nil, nil
	}

	sess := e.Session()
	switch sess.Approval {
	case models.ApprovalApproved:
		return &Credentials{ServerURL: sess.ServerURL, Token: sess.Token, DeviceID: sess.DeviceID}, nil
	case models.ApprovalRejected:
		e.fail(&Error{Kind: KindApproval, Err: ErrDeviceRejected})
	default:
		e.startPoller(sess.DeviceID)
	}
	return nil, nil
}

// startAdvance runs advance under the work lock on its own goroutine. The
// step is abandoned if Configure or SyncNow preempts it.
func (e *Engine) startAdvance() {
	runCtx := e.running()
	if runCtx == nil {
		return
	}
	gen := e.generation()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.lock(runCtx); err != nil {
			return
		}
		defer e.unlock()
		ctx, done := e.beginPhase(runCtx, gen)
		defer done()
		if ctx.Err() != nil {
			return
		}
		e.advance(ctx)
	}()
}

// preempt cancels the workflow step holding the work lock, and any step
// that has not yet taken it.
func (e *Engine) preempt() {
	e.mu.Lock()
	e.gen++
	cancel := e.phaseCancel
	e.phaseCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gen
}

// beginPhase derives the context for a step started at generation gen.
// The caller holds the work lock.
func (e *Engine) beginPhase(parent context.Context, gen uint64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	if e.gen != gen {
		cancel()
	} else {
		e.phaseCancel = cancel
	}
	e.mu.Unlock()
	return ctx, func() {
		e.mu.Lock()
		e.phaseCancel = nil
		e.mu.Unlock()
		cancel()
	}
}

// startPoller starts the approval poll phase, replacing any earlier one.
func (e *Engine) startPoller(deviceID string) {
	runCtx := e.running()
	if runCtx == nil {
		return
	}
	e.stopPoller()
	ctx, cancel := context.WithCancel(runCtx)
	e.mu.Lock()
	e.pollCancel = cancel
	e.mu.Unlock()
	e.setState(models.StateDisconnected)

	interval := e.cfg.ApprovalPollInterval
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := NewApprovalPoller(e.client, deviceID, interval).Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if lerr := e.lock(ctx); lerr != nil {
			return
		}
		defer e.unlock()
		if ctx.Err() != nil {
			return
		}

		status := models.ApprovalApproved
		if errors.Is(err, ErrDeviceRejected) {
			status = models.ApprovalRejected
		}
		e.mu.Lock()
		e.session.Approval = status
		sess := e.session
		e.mu.Unlock()
		if serr := e.st.SaveSession(sess); serr != nil {
			logging.Error().Err(serr).Msg("Failed to persist approval status")
		}

		if status == models.ApprovalRejected {
			e.fail(&Error{Kind: KindApproval, Err: ErrDeviceRejected})
			return
		}
		if cerr := e.connect(runCtx); cerr != nil {
			logging.Warn().Err(cerr).Msg("Reconciliation incomplete, socket opened anyway")
		}
	}()
}

func (e *Engine) stopPoller() {
	e.mu.Lock()
	cancel := e.pollCancel
	e.pollCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) closeConnection() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// deliver and deliverSnapshot run on the socket's read goroutine.
func (e *Engine) deliver(ctx context.Context, op models.Operation) {
	select {
	case e.inbox <- inbound{op: &op}:
	case <-ctx.Done():
	}
}

func (e *Engine) deliverSnapshot(ctx context.Context, snap *models.Snapshot) {
	select {
	case e.inbox <- inbound{snap: snap}:
	case <-ctx.Done():
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbox:
			if err := e.lock(ctx); err != nil {
				return
			}
			e.handleInbound(ctx, ev)
			e.unlock()
		}
	}
}

func (e *Engine) handleInbound(ctx context.Context, ev inbound) {
	if ev.snap != nil {
		if _, err := reconcile.New(e.client, e.lib, e.bridge, e.queue, e.DeviceID()).RunWith(ctx, ev.snap); err != nil {
			e.recordError(classify(KindPush, err))
		}
		return
	}

	op := *ev.op
	err := e.bridge.ApplyRemote(ctx, func(ctx context.Context) error {
		_, err := applier.Apply(ctx, e.lib, op)
		return err
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("op", op.Key().String()).Str("from", op.DeviceID).Msg("Failed to apply remote operation")
	}
}

func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.work <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) unlock() { <-e.work }

func (e *Engine) connection() *Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn
}

func (e *Engine) running() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cancel == nil {
		return nil
	}
	return e.runCtx
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) fail(err error) {
	logging.Warn().Err(err).Str("kind", KindOf(err).String()).Msg("Sync stopped")
	e.recordError(err)
	e.setState(models.StateError)
}

func (e *Engine) setState(s models.ConnectionState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	fns := make([]func(models.ConnectionState), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// tokenExpired reports whether the session token has expired, by the
// server-reported expiry or else the token's own exp claim. Tokens that
// are not JWTs never expire client-side.
func tokenExpired(sess store.Session, now time.Time) bool {
	if sess.ExpiresAt != nil && !sess.ExpiresAt.IsZero() {
		return !now.Before(*sess.ExpiresAt)
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(sess.Token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
