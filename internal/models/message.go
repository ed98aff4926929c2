// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package models

import "time"

// MessageType is the "type" field of a /ws/sync frame.
type MessageType string

const (
	MessageAuth            MessageType = "auth"
	MessageAuthOK          MessageType = "auth_ok"
	MessageAuthError       MessageType = "auth_error"
	MessageSyncOperation   MessageType = "sync_operation"
	MessageSyncSnapshot    MessageType = "sync_snapshot"
	MessageRequestSnapshot MessageType = "request_snapshot"
	MessagePing            MessageType = "ping"
	MessagePong            MessageType = "pong"
)

// Message is the JSON envelope of every /ws/sync text frame. Only the fields
// relevant to Type are populated.
type Message struct {
	Type      MessageType `json:"type"`
	Token     string      `json:"token,omitempty"`
	DeviceID  string      `json:"deviceId,omitempty"`
	Message   string      `json:"message,omitempty"`
	Operation *Operation  `json:"operation,omitempty"`
	Snapshot  *Snapshot   `json:"snapshot,omitempty"`
}

// Device is a client installation known to the server.
type Device struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Platform    string         `json:"platform"`
	LastSeenAt  time.Time      `json:"lastSeenAt"`
	Status      ApprovalStatus `json:"status,omitempty"`
}

// REST bodies of the coordination server.

type ServerInfo struct {
	Version string  `json:"version"`
	Name    string  `json:"name"`
	Uptime  float64 `json:"uptime"`
}

type RegisterRequest struct {
	DeviceName       string `json:"deviceName" validate:"required"`
	Platform         string `json:"platform" validate:"required"`
	Password         string `json:"password,omitempty"`
	ExistingDeviceID string `json:"existingDeviceId,omitempty"`
}

type RegisterResponse struct {
	Token     string         `json:"token" validate:"required"`
	DeviceID  string         `json:"deviceId" validate:"required"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Status    ApprovalStatus `json:"status" validate:"required,oneof=pending approved rejected"`
}

type StatusResponse struct {
	DeviceID string         `json:"deviceId"`
	Status   ApprovalStatus `json:"status" validate:"required,oneof=pending approved rejected"`
}

type PushRequest struct {
	Operation Operation `json:"operation"`
}

type PushBatchRequest struct {
	Operations []Operation `json:"operations"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type DevicesResponse struct {
	Devices []Device `json:"devices"`
}
