// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/models"
	"github.com/tomtom215/mediasync/internal/validation"
)

// Registrar is the part of the REST client registration needs.
type Registrar interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error)
}

// StatusChecker is the part of the REST client the approval poll needs.
type StatusChecker interface {
	Status(ctx context.Context, deviceID string) (*models.StatusResponse, error)
}

// Register registers the device, retrying transport failures with backoff
// until ctx is done. HTTP 4xx replies and invalid replies are returned
// without retry. A rejected status is returned as ErrDeviceRejected along
// with the response.
func Register(ctx context.Context, r Registrar, req models.RegisterRequest, bo backoff.BackOff) (*models.RegisterResponse, error) {
	var resp *models.RegisterResponse
	op := func() error {
		out, err := r.Register(ctx, req)
		if err != nil {
			if permanentRegisterError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}
	notify := func(err error, next time.Duration) {
		logging.Ctx(ctx).Warn().Err(err).Dur("retry_in", next).Msg("Registration failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	if resp.Status == models.ApprovalRejected {
		return resp, ErrDeviceRejected
	}
	return resp, nil
}

func permanentRegisterError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return !he.Temporary()
	}
	var ve *validation.Error
	return errors.As(err, &ve) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, context.Canceled)
}

// ApprovalPoller polls the status endpoint until an administrator approves
// or rejects the device. Failed polls are logged and the device stays
// pending.
type ApprovalPoller struct {
	client   StatusChecker
	deviceID string
	interval time.Duration
}

func NewApprovalPoller(client StatusChecker, deviceID string, interval time.Duration) *ApprovalPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ApprovalPoller{client: client, deviceID: deviceID, interval: interval}
}

// Run blocks until the device is approved (nil), rejected
// (ErrDeviceRejected) or ctx is done (ctx.Err()).
func (p *ApprovalPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logging.Ctx(ctx).Info().Str("device_id", p.deviceID).Dur("interval", p.interval).Msg("Waiting for device approval")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		resp, err := p.client.Status(ctx, p.deviceID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Ctx(ctx).Debug().Err(err).Msg("Approval poll failed")
			continue
		}
		switch resp.Status {
		case models.ApprovalApproved:
			logging.Ctx(ctx).Info().Str("device_id", p.deviceID).Msg("Device approved")
			return nil
		case models.ApprovalRejected:
			logging.Ctx(ctx).Warn().Str("device_id", p.deviceID).Msg("Device rejected")
			return ErrDeviceRejected
		}
	}
}
