// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/mediasync/internal/models"
)

const (
	keySession  = "session"
	keyDeviceID = "device:id"
)

// Session is the persisted sync session. It is written only by the sync
// engine and survives restarts so that the engine resumes the right
// workflow stage.
type Session struct {
	ServerURL  string                `json:"serverUrl"`
	Token      string                `json:"token,omitempty"`
	DeviceID   string                `json:"deviceId,omitempty"`
	DeviceName string                `json:"deviceName,omitempty"`
	Platform   string                `json:"platform,omitempty"`
	Approval   models.ApprovalStatus `json:"approval,omitempty"`
	ExpiresAt  *time.Time            `json:"expiresAt,omitempty"`
}

// Registered reports whether the session holds credentials.
func (s Session) Registered() bool {
	return s.Token != "" && s.DeviceID != ""
}

// LoadSession returns the persisted session, or the zero Session.
func (s *Store) LoadSession() (Session, error) {
	var sess Session
	err := s.GetJSON(keySession, &sess)
	if errors.Is(err, ErrNotFound) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// SaveSession replaces the persisted session.
func (s *Store) SaveSession(sess Session) error {
	return s.SetJSON(keySession, sess)
}

// ClearSession forgets credentials. The device id is kept.
func (s *Store) ClearSession() error {
	return s.Delete(keySession)
}

// EnsureDevice returns this installation's device id, generating and
// persisting a random one on first use.
func (s *Store) EnsureDevice() (string, error) {
	data, err := s.Get(keyDeviceID)
	if err == nil && len(data) > 0 {
		return string(data), nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id := uuid.NewString()
	if err := s.Set(keyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
