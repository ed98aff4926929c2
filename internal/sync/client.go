// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	stdsync "sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/mediasync/internal/metrics"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/validation"
)

const maxErrorBody = 512

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RateLimit       float64
	RateBurst       int
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// HTTPClient replaces the default transport. Its Timeout is ignored;
	// every request carries its own deadline.
	HTTPClient *http.Client
}

// Client calls the coordination server's REST API. All calls except
// Register and Status carry the bearer token. Every request is bounded by
// the configured timeout, rate limited, and guarded by a circuit breaker.
type Client struct {
	mu      stdsync.RWMutex
	baseURL string
	token   string

	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cb:      newBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
	}
}

// SetBaseURL points the client at another server.
func (c *Client) SetBaseURL(base string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(base, "/")
	c.mu.Unlock()
}

func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Info returns the server's name, version and uptime.
func (c *Client) Info(ctx context.Context) (*models.ServerInfo, error) {
	var out models.ServerInfo
	if err := c.do(ctx, "info", http.MethodGet, "/api/info", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register requests a session token for this device.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}
	var out models.RegisterResponse
	if err := c.do(ctx, "register", http.MethodPost, "/api/auth/register", req, false, &out); err != nil {
		return nil, err
	}
	if err := validation.ValidateStruct(out); err != nil {
		return nil, fmt.Errorf("invalid register response: %w", err)
	}
	return &out, nil
}

// Status returns the approval status of a device. It needs no token.
func (c *Client) Status(ctx context.Context, deviceID string) (*models.StatusResponse, error) {
	path := "/api/auth/status?device_id=" + url.QueryEscape(deviceID)
	var out models.StatusResponse
	if err := c.do(ctx, "status", http.MethodGet, path, nil, false, &out); err != nil {
		return nil, err
	}
	if err := validation.ValidateStruct(out); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}
	return &out, nil
}

// Snapshot fetches the server's full state.
func (c *Client) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := models.NewSnapshot()
	if err := c.do(ctx, "snapshot", http.MethodGet, "/api/sync/snapshot", nil, true, snap); err != nil {
		return nil, err
	}
	snap.Normalize()
	return snap, nil
}

// Push sends one operation.
func (c *Client) Push(ctx context.Context, op models.Operation) error {
	return c.doOK(ctx, "push", http.MethodPost, "/api/sync/push", models.PushRequest{Operation: op})
}

// PushBatch sends operations in one call. An empty batch is not sent.
func (c *Client) PushBatch(ctx context.Context, ops []models.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return c.doOK(ctx, "push_batch", http.MethodPost, "/api/sync/push-batch", models.PushBatchRequest{Operations: ops})
}

// Devices lists the devices registered with the server.
func (c *Client) Devices(ctx context.Context) ([]models.Device, error) {
	var out models.DevicesResponse
	if err := c.do(ctx, "devices", http.MethodGet, "/api/devices", nil, true, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// RemoveDevice deletes a device registration.
func (c *Client) RemoveDevice(ctx context.Context, id string) error {
	return c.doOK(ctx, "remove_device", http.MethodDelete, "/api/devices/"+url.PathEscape(id), nil)
}

func (c *Client) doOK(ctx context.Context, endpoint, method, path string, body interface{}) error {
	var out models.OKResponse
	if err := c.do(ctx, endpoint, method, path, body, true, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("%s: server did not confirm", endpoint)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body interface{}, auth bool, out interface{}) error {
	c.mu.RLock()
	base, token := c.baseURL, c.token
	c.mu.RUnlock()

	if base == "" {
		return ErrNotConfigured
	}
	if auth && token == "" {
		return ErrNotRegistered
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, endpoint, method, base+path, payload, auth, token)
	})
	recordBreakerResult(err)
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, endpoint, method, target string, payload []byte, auth bool, token string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordRESTRequest(endpoint, "error", time.Since(start))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s request timed out after %s: %w", endpoint, c.timeout, err)
		}
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordRESTRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: text}
	}
	return data, nil
}
