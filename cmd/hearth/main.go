// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

// Command hearth runs a personal home hub node: an authenticated HTTP
// and WebSocket API over local file storage, messaging and an optional
// cloudflared tunnel, all supervised by a suture tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hearthnode/hearth/internal/api"
	"github.com/hearthnode/hearth/internal/auth"
	"github.com/hearthnode/hearth/internal/config"
	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
	"github.com/hearthnode/hearth/internal/supervisor"
	"github.com/hearthnode/hearth/internal/tunnel"
	ws "github.com/hearthnode/hearth/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search hearth.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("hearth", api.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", api.Version).Msg("hearth starting")

	// A previous relocate records the active data directory in the
	// install marker; it wins over the configured default.
	dataDir := cfg.Storage.DataDir
	if marker, err := store.ReadInstallMarker(); err != nil {
		logging.Warn().Err(err).Msg("install marker unreadable, using configured data dir")
	} else if marker != "" {
		dataDir = marker
	}

	st, err := store.Open(store.Options{
		DataDir:             dataDir,
		BlobSubdir:          cfg.Storage.BlobSubdir,
		DBPath:              cfg.Database.Path,
		RelocateSafetyBytes: cfg.Storage.RelocateSafetyBytes,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing store")
		}
	}()
	logging.Info().Str("data_dir", dataDir).Msg("store opened")

	secret, err := st.SigningSecret()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load signing secret")
	}
	tokens, err := auth.NewTokenManager(secret, cfg.Security.SessionTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize token manager")
	}

	hub := ws.NewHub()
	tun := tunnel.NewManager(st, tunnel.Options{
		Binary:          cfg.Tunnel.Binary,
		QuickURLTimeout: cfg.Tunnel.QuickURLTimeout,
	})
	if err := tun.EnsureBinary(); err != nil {
		logging.Warn().Err(err).Msg("cloudflared not found, tunnel features unavailable until installed")
	}

	handler := api.NewHandler(st, cfg, tokens, hub, tun)
	router := handler.Router(auth.NewMiddleware(tokens))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(tunnel.NewWatchdog(tun, cfg.Tunnel.WatchdogInterval))
	tree.AddAPIService(supervisor.NewHTTPService(server, treeCfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("serving")
	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("supervisor exited")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
