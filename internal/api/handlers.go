// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

// Package api exposes the hub's HTTP and WebSocket surface.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct and constructor (this file)
//   - handlers_auth.go: registration and login
//   - handlers_node.go: health, info, status, members, fleet
//   - handlers_files.go: file list/upload/download/delete/visibility
//   - handlers_conversations.go: conversations and messages
//   - handlers_ws.go: the WebSocket upgrade endpoint
//   - handlers_tunnel.go: tunnel setup/start/stop/status
package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/hearthnode/hearth/internal/auth"
	"github.com/hearthnode/hearth/internal/config"
	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
	"github.com/hearthnode/hearth/internal/tunnel"
	ws "github.com/hearthnode/hearth/internal/websocket"
)

// Version is the reported node version, overridable at build time via
// -ldflags "-X github.com/hearthnode/hearth/internal/api.Version=...".
var Version = "dev"

// registrySecret gates the fleet register/deregister endpoints. It is
// injected at build time; without it those endpoints answer 503 with a
// descriptive error rather than failing silently.
var registrySecret string

// Handler carries the dependencies for all API handlers.
type Handler struct {
	store     *store.Store
	cfg       *config.Config
	tokens    *auth.TokenManager
	hub       *ws.Hub
	tunnel    *tunnel.Manager
	startTime time.Time
	validate  *validator.Validate
	authLimit *ipRateLimiter
}

// NewHandler creates the API handler with its dependencies.
func NewHandler(st *store.Store, cfg *config.Config, tokens *auth.TokenManager, hub *ws.Hub, tun *tunnel.Manager) *Handler {
	if registrySecret == "" && cfg.Security.RegistrySecret != "" {
		registrySecret = cfg.Security.RegistrySecret
	}
	return &Handler{
		store:     st,
		cfg:       cfg,
		tokens:    tokens,
		hub:       hub,
		tunnel:    tun,
		startTime: time.Now(),
		validate:  validator.New(),
		authLimit: newIPRateLimiter(cfg.Security.AuthRefillPerMin, cfg.Security.AuthBurst),
	}
}

// getUpgrader builds the WebSocket upgrader with origin checking and a
// handshake timeout against slow-client attacks.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates the Origin header against the
// configured CORS origins. Non-browser clients omit Origin and are
// allowed; the token check still guards them.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}
