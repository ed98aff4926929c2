// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

/*
connection.go - Sync Socket Connection Manager

Owns one persistent socket to the coordination server at /ws/sync.

State machine:

	disconnected -> connecting -> connected -> authenticated
	      ^                                          |
	      +------------- (close, backoff) -----------+

error is entered when a dial fails. Entering connected sends auth. Entering
authenticated (auth_ok) resets the reconnect backoff, replays the in-memory
outbound list in FIFO order and sends one request_snapshot.

Each socket session runs under its own context; ending the session cancels
its keep-alive. The backoff wait between sessions is cancelled by Disconnect.
*/

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/metrics"
	"github.com/tomtom215/mediasync/internal/models"
)

const writeTimeout = 10 * time.Second

// Credentials identify this device to the socket endpoint.
type Credentials struct {
	ServerURL string
	Token     string
	DeviceID  string
}

// ConnectionOptions configures a Connection. Callbacks run on the socket's
// read goroutine and must not block for long.
type ConnectionOptions struct {
	Credentials

	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration

	OnOperation     func(ctx context.Context, op models.Operation)
	OnSnapshot      func(ctx context.Context, snap *models.Snapshot)
	OnAuthenticated func(deviceID string)
	OnStateChange   func(models.ConnectionState)
	OnError         func(error)

	// Reauthenticate is called after auth_error. Fresh credentials
	// reconnect immediately; nil credentials leave the connection
	// disconnected; an error falls back to the backoff path.
	Reauthenticate func(ctx context.Context) (*Credentials, error)
}

// Connection is the socket session manager. One exists per credential set.
type Connection struct {
	opts   ConnectionOptions
	dialer websocket.Dialer

	mu      stdsync.Mutex
	creds   Credentials
	state   models.ConnectionState
	conn    *websocket.Conn
	outbox  []models.Operation
	bo      *backoff.ExponentialBackOff
	stop    context.CancelFunc
	done    chan struct{}
	running bool

	writeMu     stdsync.Mutex
	intentional atomic.Bool
	kick        chan struct{}

	// onSchedule observes reconnect delays.
	onSchedule func(time.Duration)
}

func NewConnection(opts ConnectionOptions) *Connection {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	done := make(chan struct{})
	close(done)
	return &Connection{
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		creds:  opts.Credentials,
		bo:     newReconnectBackOff(opts.BackoffInitial, opts.BackoffMax),
		done:   done,
		kick:   make(chan struct{}, 1),
	}
}

// WebSocketURL derives the /ws/sync endpoint from the server's base URL.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/sync"
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

// Connect starts the session loop, which lives until Disconnect or until
// ctx is cancelled. It returns immediately; progress is reported through
// State and OnStateChange. Calling Connect on a running connection does
// nothing.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if _, err := WebSocketURL(c.creds.ServerURL); err != nil {
		return err
	}
	if c.creds.Token == "" {
		return ErrNotRegistered
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.done = make(chan struct{})
	c.running = true
	c.intentional.Store(false)

	go c.run(runCtx, c.done)
	return nil
}

// Disconnect closes the socket without scheduling a reconnect and waits
// for the session loop to exit. It must not be called from a callback.
func (c *Connection) Disconnect() {
	c.intentional.Store(true)

	c.mu.Lock()
	stop, done := c.stop, c.done
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	<-done
	c.setState(models.StateDisconnected)
}

// Done is closed when the session loop exits.
func (c *Connection) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// State returns the current connection state.
func (c *Connection) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DeviceID returns the device id used for echo suppression.
func (c *Connection) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.DeviceID
}

// UpdateCredentials replaces the credentials. A live socket is closed and
// the loop reconnects at once with the new ones.
func (c *Connection) UpdateCredentials(serverURL, token, deviceID string) {
	c.mu.Lock()
	c.creds = Credentials{ServerURL: serverURL, Token: token, DeviceID: deviceID}
	c.bo.Reset()
	conn := c.conn
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// SendOperation writes op when authenticated and otherwise appends it to
// the in-memory outbound list. It reports whether op went out live.
func (c *Connection) SendOperation(op models.Operation) (bool, error) {
	if err := op.Validate(); err != nil {
		return false, err
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	if state != models.StateAuthenticated || conn == nil {
		c.outbox = append(c.outbox, op)
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	if err := c.write(conn, models.Message{Type: models.MessageSyncOperation, Operation: &op}); err != nil {
		c.mu.Lock()
		c.outbox = append(c.outbox, op)
		c.mu.Unlock()
		logging.Warn().Err(err).Msg("[sync-ws] Send failed, operation kept for replay")
		return false, nil
	}
	metrics.OperationsSent.WithLabelValues(string(op.Collection)).Inc()
	return true, nil
}

// RequestSnapshot asks the server to send its full state.
func (c *Connection) RequestSnapshot() error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != models.StateAuthenticated || conn == nil {
		return ErrNotAuthenticated
	}
	return c.write(conn, models.Message{Type: models.MessageRequestSnapshot})
}

// Outbox returns the number of operations waiting for authentication.
func (c *Connection) Outbox() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.stop = nil
		c.mu.Unlock()
		close(done)
	}()

	for {
		err := c.session(ctx)
		if ctx.Err() != nil || c.intentional.Load() {
			c.setState(models.StateDisconnected)
			return
		}
		if err != nil && c.opts.OnError != nil {
			c.opts.OnError(err)
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.setState(models.StateDisconnected)
			if c.reauthenticate(ctx) {
				continue
			}
			if c.intentional.Load() || ctx.Err() != nil {
				return
			}
		} else if c.State() != models.StateError {
			logging.Info().Err(err).Msg("[sync-ws] Connection closed")
			c.setState(models.StateDisconnected)
		}

		if !c.wait(ctx) {
			c.setState(models.StateDisconnected)
			return
		}
	}
}

// reauthenticate handles auth_error. It returns true to reconnect at once.
// When it returns false with intentional set, the loop stays disconnected.
func (c *Connection) reauthenticate(ctx context.Context) bool {
	if c.opts.Reauthenticate == nil {
		c.intentional.Store(true)
		return false
	}
	creds, err := c.opts.Reauthenticate(ctx)
	switch {
	case err != nil:
		logging.Warn().Err(err).Msg("[sync-ws] Re-registration failed, backing off")
		return false
	case creds == nil:
		logging.Info().Msg("[sync-ws] No fresh credentials, staying disconnected")
		c.intentional.Store(true)
		return false
	default:
		c.mu.Lock()
		c.creds = *creds
		c.bo.Reset()
		c.mu.Unlock()
		return true
	}
}

// wait sleeps for the next backoff delay. It returns false when the
// connection is stopped.
func (c *Connection) wait(ctx context.Context) bool {
	c.mu.Lock()
	delay := c.bo.NextBackOff()
	c.mu.Unlock()

	metrics.RecordReconnect(delay)
	if c.onSchedule != nil {
		c.onSchedule(delay)
	}
	logging.Info().Dur("delay", delay).Msg("[sync-ws] Reconnect scheduled")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.kick:
		return true
	case <-ctx.Done():
		return false
	}
}

// session runs one socket from dial to close.
func (c *Connection) session(ctx context.Context) error {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	wsURL, err := WebSocketURL(creds.ServerURL)
	if err != nil {
		c.setState(models.StateError)
		return err
	}

	c.setState(models.StateConnecting)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.setState(models.StateError)
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(models.StateConnected)
	logging.Info().Str("url", wsURL).Msg("[sync-ws] Connected")

	if err := c.write(conn, models.Message{Type: models.MessageAuth, Token: creds.Token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	pongs := make(chan struct{}, 1)
	go c.keepAlive(sctx, cancel, conn, pongs)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handle(sctx, conn, creds, data, pongs); err != nil {
			return err
		}
	}
}

func (c *Connection) handle(ctx context.Context, conn *websocket.Conn, creds Credentials, data []byte, pongs chan<- struct{}) error {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn().Err(err).Msg("[sync-ws] Failed to parse message")
		return nil
	}

	switch msg.Type {
	case models.MessageAuthOK:
		c.authenticated(conn, msg.DeviceID)

	case models.MessageAuthError:
		return &AuthError{Message: msg.Message}

	case models.MessageSyncOperation:
		if msg.Operation == nil {
			return nil
		}
		if msg.Operation.DeviceID == creds.DeviceID {
			metrics.EchoDropped.Inc()
			return nil
		}
		if c.opts.OnOperation != nil {
			c.opts.OnOperation(ctx, *msg.Operation)
		}

	case models.MessageSyncSnapshot:
		if msg.Snapshot != nil && c.opts.OnSnapshot != nil {
			c.opts.OnSnapshot(ctx, msg.Snapshot)
		}

	case models.MessagePing:
		if err := c.write(conn, models.Message{Type: models.MessagePong}); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}

	case models.MessagePong:
		select {
		case pongs <- struct{}{}:
		default:
		}

	default:
		logging.Debug().Str("type", string(msg.Type)).Msg("[sync-ws] Unknown message type")
	}
	return nil
}

func (c *Connection) authenticated(conn *websocket.Conn, deviceID string) {
	c.mu.Lock()
	c.bo.Reset()
	pending := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	c.setState(models.StateAuthenticated)
	logging.Info().Str("device_id", deviceID).Int("replay", len(pending)).Msg("[sync-ws] Authenticated")

	for i, op := range pending {
		op := op
		if err := c.write(conn, models.Message{Type: models.MessageSyncOperation, Operation: &op}); err != nil {
			c.mu.Lock()
			c.outbox = append(pending[i:len(pending):len(pending)], c.outbox...)
			c.mu.Unlock()
			logging.Warn().Err(err).Msg("[sync-ws] Replay interrupted")
			return
		}
		metrics.OperationsSent.WithLabelValues(string(op.Collection)).Inc()
	}

	if err := c.write(conn, models.Message{Type: models.MessageRequestSnapshot}); err != nil {
		logging.Warn().Err(err).Msg("[sync-ws] Failed to request snapshot")
	}
	if c.opts.OnAuthenticated != nil {
		c.opts.OnAuthenticated(deviceID)
	}
}

// keepAlive sends ping every interval and force-closes the socket when no
// pong arrives within the pong timeout.
func (c *Connection) keepAlive(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, pongs <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drop a stale pong from an earlier round.
		select {
		case <-pongs:
		default:
		}
		if err := c.write(conn, models.Message{Type: models.MessagePing}); err != nil {
			logging.Info().Err(err).Msg("[sync-ws] Keep-alive failed")
			cancel()
			return
		}

		timeout := time.NewTimer(c.opts.PongTimeout)
		select {
		case <-ctx.Done():
			timeout.Stop()
			return
		case <-pongs:
			timeout.Stop()
		case <-timeout.C:
			metrics.PongTimeouts.Inc()
			logging.Warn().Dur("timeout", c.opts.PongTimeout).Msg("[sync-ws] No pong, closing socket")
			cancel()
			return
		}
	}
}

func (c *Connection) write(conn *websocket.Conn, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) setState(s models.ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	metrics.SetConnectionState(int(s))
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}
