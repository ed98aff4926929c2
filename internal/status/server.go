// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package status serves the local HTTP API that UI processes use to show
// sync state and trigger actions, plus a websocket feed of state and
// library changes.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/status
//	POST   /api/sync/now
//	GET    /api/server
//	PUT    /api/server
//	GET    /api/devices
//	DELETE /api/devices/{id}
//	GET    /api/library
//	POST   /api/addons
//	DELETE /api/addons/{id}
//	GET    /ws/status
package status

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/mediasync/internal/config"
	"github.com/tomtom215/mediasync/internal/library"
	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/models"
	msync "github.com/tomtom215/mediasync/internal/sync"
)

// Engine is the part of the sync engine the API drives.
type Engine interface {
	Status() msync.Status
	SyncNow(ctx context.Context) error
	Configure(ctx context.Context, serverURL, deviceName, password string) error
	Devices(ctx context.Context) ([]models.Device, error)
	RemoveDevice(ctx context.Context, id string) error
	ServerInfo(ctx context.Context) (*models.ServerInfo, error)
	OnStateChange(fn func(models.ConnectionState)) func()
}

// Library is the part of the local library the API reads and edits.
type Library interface {
	Capture() *models.Snapshot
	AddAddon(ctx context.Context, a models.Addon) (bool, error)
	RemoveAddon(ctx context.Context, addonID string) (bool, error)
	Watch(ctx context.Context, fn func(key string)) error
}

// Server is the status API and the feed that pushes engine and library
// changes into its hub.
type Server struct {
	cfg      config.StatusConfig
	engine   Engine
	lib      Library
	hub      *Hub
	upgrader websocket.Upgrader
	handler  http.Handler
}

// NewServer builds the router. Run the hub and the server's feed (Serve)
// as services; serve HTTP with HTTPServer.
func NewServer(cfg config.StatusConfig, engine Engine, lib Library) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		lib:    lib,
		hub:    NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDWithLogging)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/status", s.handleFeed)

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 && s.cfg.RateWindow > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateWindow))
		}
		r.Get("/status", s.handleStatus)
		r.Post("/sync/now", s.handleSyncNow)
		r.Get("/server", s.handleServerInfo)
		r.Put("/server", s.handleConfigure)
		r.Get("/devices", s.handleDevices)
		r.Delete("/devices/{id}", s.handleRemoveDevice)
		r.Get("/library", s.handleLibrary)
		r.Post("/addons", s.handleAddAddon)
		r.Delete("/addons/{id}", s.handleRemoveAddon)
	})
	return r
}

// requestIDWithLogging tags each request with chi's request id and a
// logging correlation id.
func requestIDWithLogging(next http.Handler) http.Handler {
	return chimiddleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithCorrelationID(r.Context(), chimiddleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	}))
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the feed hub. It must be running for /ws/status clients to
// be accepted.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HTTPServer returns an http.Server listening on the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve forwards engine state changes and library writes to the hub until
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	unsubscribe := s.engine.OnStateChange(func(models.ConnectionState) {
		s.hub.Broadcast(MessageTypeStatus, s.engine.Status())
	})
	defer unsubscribe()

	err := s.lib.Watch(ctx, func(key string) {
		s.hub.Broadcast(MessageTypeLibrary, LibraryChange{
			Collection: strings.TrimPrefix(key, library.KeyPrefix),
		})
	})
	if err != nil {
		return fmt.Errorf("watch library: %w", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *Server) String() string { return "status-feed" }

// checkOrigin accepts requests without an Origin header (native UIs) and
// origins allowed by the CORS configuration.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if originMatches(allowed, origin) {
			return true
		}
	}
	return false
}

// originMatches supports the same single-wildcard patterns as go-chi/cors.
func originMatches(pattern, origin string) bool {
	if pattern == "*" || pattern == origin {
		return true
	}
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return false
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}
