// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package sync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches any *HTTPError carrying 401 or 403.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDeviceRejected is terminal: an administrator rejected this device.
	// The engine does not retry until new credentials are configured.
	ErrDeviceRejected = errors.New("device was rejected by the server administrator")

	ErrNotConfigured    = errors.New("no sync server configured")
	ErrNotRegistered    = errors.New("device is not registered")
	ErrNotAuthenticated = errors.New("sync socket is not authenticated")
	ErrEngineStopped    = errors.New("sync engine is stopped")
)

// ErrorKind classifies sync failures by how they are handled.
type ErrorKind int

const (
	// KindTransport failures are retried or queued, never fatal.
	KindTransport ErrorKind = iota
	// KindAuthentication triggers re-registration.
	KindAuthentication
	// KindApproval is terminal until the user acts.
	KindApproval
	// KindReconciliation covers a failed snapshot fetch; non-fatal.
	KindReconciliation
	// KindPush leaves operations in the pending queue.
	KindPush
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuthentication:
		return "authentication"
	case KindApproval:
		return "approval"
	case KindReconciliation:
		return "reconciliation"
	case KindPush:
		return "push"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a classified sync failure. Its message is what the UI shows.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of a classified error. Unclassified errors are
// transport errors, except for the authentication and approval sentinels.
func KindOf(err error) ErrorKind {
	var se *Error
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, ErrDeviceRejected):
		return KindApproval
	case errors.Is(err, ErrUnauthorized):
		return KindAuthentication
	default:
		return KindTransport
	}
}

// HTTPError is a non-2xx response from the coordination server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 and 403 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// AuthError is an auth_error frame received on the socket.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "socket authentication rejected"
	}
	return "socket authentication rejected: " + e.Message
}

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }
