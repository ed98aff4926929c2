// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package models

import "fmt"

// ConnectionState is the lifecycle state of the sync socket. It is the only
// piece of sync state the UI observes directly.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateError
)

var connectionStateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateAuthenticated: "authenticated",
	StateError:         "error",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return connectionStateNames[s]
}

// MarshalText renders the state by name so status JSON stays readable.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for i, name := range connectionStateNames {
		if name == string(text) {
			*s = ConnectionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", string(text))
}

// ApprovalStatus is the admin approval state of a registered device.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid reports whether s is one of the three known statuses.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}
