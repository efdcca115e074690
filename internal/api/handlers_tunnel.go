// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"errors"
	"net/http"

	"github.com/hearthnode/hearth/internal/tunnel"
)

// TunnelSetupRequest provisions a named tunnel.
type TunnelSetupRequest struct {
	APIToken  string `json:"api_token" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Hostname  string `json:"hostname" validate:"required,hostname"`
	LocalPort int    `json:"local_port" validate:"min=1,max=65535"`
}

// TunnelQuickRequest starts an ephemeral quick tunnel.
type TunnelQuickRequest struct {
	LocalPort int `json:"local_port" validate:"min=1,max=65535"`
}

// HandleTunnelSetup provisions a named tunnel through the provider
// API. Provider errors are surfaced verbatim and never retried; the
// caller decides what to do next. Admin only.
func (h *Handler) HandleTunnelSetup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req TunnelSetupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "api_token, name, hostname and local_port are required")
		return
	}

	cfg, err := h.tunnel.Setup(r.Context(), req.APIToken, req.Name, req.Hostname, req.LocalPort)
	if err != nil {
		respondError(w, http.StatusBadGateway, codeInternal, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// HandleTunnelQuickStart starts a quick tunnel and returns its freshly
// assigned public URL. Admin only.
func (h *Handler) HandleTunnelQuickStart(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req TunnelQuickRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "local_port is required")
		return
	}

	cfg, err := h.tunnel.StartQuick(r.Context(), req.LocalPort)
	if err != nil {
		h.respondTunnelError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// HandleTunnelStart runs the configured tunnel. Admin only.
func (h *Handler) HandleTunnelStart(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	cfg, err := h.tunnel.Start(r.Context())
	if err != nil {
		h.respondTunnelError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// HandleTunnelStop kills the tunnel and suppresses the watchdog until
// the next start. Admin only.
func (h *Handler) HandleTunnelStop(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.tunnel.Stop(); err != nil {
		h.respondTunnelError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"tunnel": "stopped"})
}

// HandleTunnelStatus reports the supervisor state. Admin only.
func (h *Handler) HandleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, h.tunnel.Status(r.Context()))
}

func (h *Handler) respondTunnelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tunnel.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, codeConflict, "tunnel is already running")
	case errors.Is(err, tunnel.ErrNotRunning):
		respondError(w, http.StatusConflict, codeConflict, "tunnel is not running")
	case errors.Is(err, tunnel.ErrNotConfigured):
		respondError(w, http.StatusServiceUnavailable, codeUnavailable, "tunnel is not configured")
	default:
		respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}
