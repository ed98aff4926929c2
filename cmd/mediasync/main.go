// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Command mediasync runs the library sync client and controls a running
// instance through its local status API.
//
// `mediasync run` opens the local store, starts the sync engine and the
// status API under a supervisor tree and blocks until SIGINT or SIGTERM.
// The other commands are thin clients of the status API of a running
// instance.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/tomtom215/mediasync/internal/bridge"
	"github.com/tomtom215/mediasync/internal/config"
	"github.com/tomtom215/mediasync/internal/library"
	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/status"
	"github.com/tomtom215/mediasync/internal/store"
	"github.com/tomtom215/mediasync/internal/supervisor"
	"github.com/tomtom215/mediasync/internal/supervisor/services"
	msync "github.com/tomtom215/mediasync/internal/sync"
	"github.com/tomtom215/mediasync/internal/wal"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const usage = `Mediasync: keep a media library in sync across devices.

Usage:
    mediasync run [--config=<path>]
    mediasync status [--config=<path>] [--addr=<addr>]
    mediasync info [--config=<path>] [--addr=<addr>]
    mediasync devices [--config=<path>] [--addr=<addr>] [--remove=<id>]
    mediasync sync-now [--config=<path>] [--addr=<addr>]
    mediasync configure --url=<url> [--name=<name>] [--password=<password>] [--config=<path>] [--addr=<addr>]
    mediasync -h | --help
    mediasync --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --config=<path>        YAML config file. Defaults to MEDIASYNC_CONFIG or the standard paths.
    --addr=<addr>          Status API address of the running instance. Defaults to status.listen.
    --remove=<id>          Remove this device registration instead of listing devices.
    --url=<url>            Sync server URL.
    --name=<name>          Device name shown to other devices.
    --password=<password>  Server password, if the server requires one.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if run, _ := opts.Bool("run"); run {
		if err := runDaemon(cfg); err != nil {
			logging.Fatal().Err(err).Msg("mediasync stopped with error")
		}
		return
	}

	if err := runCommand(opts, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runDaemon wires the local store, library, engine and status API and runs
// them until a shutdown signal arrives.
func runDaemon(cfg *config.Config) error {
	logging.Info().
		Str("version", Version).
		Str("server_url", cfg.Server.URL).
		Str("device_name", cfg.Server.DeviceName).
		Str("data_dir", cfg.Storage.Path).
		Msg("Starting mediasync")

	st, err := store.Open(store.Options{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	queue, err := wal.Open(st.DB())
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	br := bridge.New()
	deviceID, err := st.EnsureDevice()
	if err != nil {
		return err
	}
	lib, err := library.Open(st, br, deviceID)
	if err != nil {
		return err
	}

	engine, err := msync.NewEngine(msync.EngineOptions{
		Server:  cfg.Server,
		Sync:    cfg.Sync,
		Store:   st,
		Queue:   queue,
		Library: lib,
		Bridge:  br,
	})
	if err != nil {
		return err
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddDataService(services.NewStoreGCService(st, cfg.Storage.GCInterval))
	tree.AddSyncService(engine)

	if cfg.Status.Enabled {
		api := status.NewServer(cfg.Status, engine, lib)
		tree.AddAPIService(api.Hub())
		tree.AddAPIService(api)
		tree.AddAPIService(services.NewHTTPServerService("status-api", api.HTTPServer(), 5*time.Second))
		logging.Info().Str("addr", cfg.Status.Listen).Msg("Status API enabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := <-tree.ServeBackground(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	logging.Info().Msg("mediasync stopped")
	return runErr
}
