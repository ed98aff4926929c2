// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package status

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/models"
	msync "github.com/tomtom215/mediasync/internal/sync"
	"github.com/tomtom215/mediasync/internal/validation"
)

// Response is the envelope of every /api reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    Meta        `json:"meta"`
}

// APIError is the error half of Response.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Meta carries request tracing data.
type Meta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigureRequest is the body of PUT /api/server.
type ConfigureRequest struct {
	URL        string `json:"url" validate:"required,httpurl"`
	DeviceName string `json:"deviceName" validate:"required,max=64"`
	Password   string `json:"password"`
}

// Error codes.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeNotConfigured = "NOT_CONFIGURED"
	CodeEngineStopped = "ENGINE_STOPPED"
	CodeUpstream      = "UPSTREAM_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
)

const maxRequestBodySize = 64 * 1024

func respondJSON(w http.ResponseWriter, r *http.Request, status int, resp *Response) {
	resp.Meta = Meta{
		RequestID: chimiddleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondData(w http.ResponseWriter, r *http.Request, data interface{}) {
	respondJSON(w, r, http.StatusOK, &Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	respondJSON(w, r, status, &Response{
		Error: &APIError{Code: code, Message: message, Details: details},
	})
}

// respondErr maps engine and validation errors to HTTP replies.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		respondError(w, r, http.StatusBadRequest, CodeValidation, ve.Error(), ve.Fields)
	case errors.Is(err, msync.ErrEngineStopped):
		respondError(w, r, http.StatusServiceUnavailable, CodeEngineStopped, err.Error(), nil)
	case errors.Is(err, msync.ErrNotConfigured), errors.Is(err, msync.ErrNotRegistered):
		respondError(w, r, http.StatusConflict, CodeNotConfigured, err.Error(), nil)
	default:
		var se *msync.Error
		if errors.As(err, &se) {
			respondError(w, r, http.StatusBadGateway, CodeUpstream, err.Error(), map[string]string{"kind": se.Kind.String()})
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Status API request failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON body", nil)
		return false
	}
	if err := validation.ValidateStruct(v); err != nil {
		respondErr(w, r, err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, s.engine.Status())
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SyncNow(r.Context()); err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, s.engine.Status())
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.ServerInfo(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, info)
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req ConfigureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logging.Ctx(r.Context()).Info().
		Str("server_url", req.URL).
		Str("device_name", req.DeviceName).
		Str("password", logging.Redact(req.Password)).
		Msg("Sync server reconfigured from status API")

	// Registration runs in the background; its progress, approval and
	// rejection are reported through the returned status.
	if err := s.engine.Configure(r.Context(), req.URL, req.DeviceName, req.Password); err != nil {
		var ve *validation.Error
		var se *msync.Error
		if errors.As(err, &ve) || !errors.As(err, &se) {
			respondErr(w, r, err)
			return
		}
	}
	respondData(w, r, s.engine.Status())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.Devices(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, models.DevicesResponse{Devices: devices})
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, r, models.OKResponse{OK: true})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, s.lib.Capture())
}

func (s *Server) handleAddAddon(w http.ResponseWriter, r *http.Request) {
	var a models.Addon
	if !decodeJSON(w, r, &a) {
		return
	}
	if a.InstalledAt == 0 {
		a.InstalledAt = time.Now().UnixMilli()
	}
	changed, err := s.lib.AddAddon(r.Context(), a)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, &Response{Success: true, Data: map[string]bool{"changed": changed}})
}

func (s *Server) handleRemoveAddon(w http.ResponseWriter, r *http.Request) {
	changed, err := s.lib.RemoveAddon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !changed {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "addon not installed", nil)
		return
	}
	respondData(w, r, map[string]bool{"changed": true})
}

// handleFeed upgrades to the status feed. The first frame is the current
// status.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Status feed upgrade failed")
		return
	}
	c := NewClient(s.hub, conn)
	c.send <- Message{Type: MessageTypeStatus, Data: s.engine.Status()}
	if !s.hub.Register(c) {
		_ = conn.Close()
		return
	}
	c.Start()
}
