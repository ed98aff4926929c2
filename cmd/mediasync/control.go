// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"

	"github.com/tomtom215/mediasync/internal/config"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/status"
	msync "github.com/tomtom215/mediasync/internal/sync"
)

// controlClient talks to the status API of a running instance.
type controlClient struct {
	base string
	http *http.Client
}

func newControlClient(addr string) *controlClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &controlClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// call performs one request and decodes the envelope's data into out.
func (c *controlClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is mediasync running? %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool             `json:"success"`
		Data    json.RawMessage  `json:"data"`
		Error   *status.APIError `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// runCommand executes one of the control commands against the running
// instance and prints the result to w.
func runCommand(opts docopt.Opts, cfg *config.Config, w io.Writer) error {
	addr, _ := opts.String("--addr")
	if addr == "" {
		addr = cfg.Status.Listen
	}
	c := newControlClient(addr)
	ctx := context.Background()

	switch {
	case flag(opts, "status"):
		var st msync.Status
		if err := c.call(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
			return err
		}
		printStatus(w, st)

	case flag(opts, "info"):
		var info models.ServerInfo
		if err := c.call(ctx, http.MethodGet, "/api/server", nil, &info); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s (up %s)\n", info.Name, info.Version, (time.Duration(info.Uptime) * time.Second).Truncate(time.Second))

	case flag(opts, "devices"):
		if id, _ := opts.String("--remove"); id != "" {
			if err := c.call(ctx, http.MethodDelete, "/api/devices/"+url.PathEscape(id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(w, "removed %s\n", id)
			return nil
		}
		var resp models.DevicesResponse
		if err := c.call(ctx, http.MethodGet, "/api/devices", nil, &resp); err != nil {
			return err
		}
		printDevices(w, resp.Devices)

	case flag(opts, "sync-now"):
		var st msync.Status
		if err := c.call(ctx, http.MethodPost, "/api/sync/now", nil, &st); err != nil {
			return err
		}
		printStatus(w, st)

	case flag(opts, "configure"):
		req := status.ConfigureRequest{DeviceName: cfg.Server.DeviceName}
		req.URL, _ = opts.String("--url")
		if name, _ := opts.String("--name"); name != "" {
			req.DeviceName = name
		}
		req.Password, _ = opts.String("--password")
		var st msync.Status
		if err := c.call(ctx, http.MethodPut, "/api/server", req, &st); err != nil {
			return err
		}
		printStatus(w, st)

	default:
		return fmt.Errorf("unknown command")
	}
	return nil
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func printStatus(w io.Writer, st msync.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "state:\t%s\n", st.State)
	fmt.Fprintf(tw, "device:\t%s\n", st.DeviceID)
	if st.ServerURL != "" {
		fmt.Fprintf(tw, "server:\t%s\n", st.ServerURL)
	}
	if st.Approval != "" {
		fmt.Fprintf(tw, "approval:\t%s\n", st.Approval)
	}
	fmt.Fprintf(tw, "pending:\t%d\n", st.Pending)
	if st.Error != "" {
		fmt.Fprintf(tw, "error:\t%s\n", st.Error)
	}
	_ = tw.Flush()
}

func printDevices(w io.Writer, devices []models.Device) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPLATFORM")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.DisplayName, d.Platform)
	}
	_ = tw.Flush()
}
