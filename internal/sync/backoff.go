// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package sync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 30 * time.Second
)

// newReconnectBackOff returns a deterministic doubling backoff: initial,
// 2*initial, 4*initial, ... capped at max. It never gives up.
func newReconnectBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	if max < initial {
		max = defaultBackoffMax
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
