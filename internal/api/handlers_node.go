// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hearthnode/hearth/internal/auth"
	"github.com/hearthnode/hearth/internal/store"
)

// HandleHealth answers the liveness probe. Always 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"version": Version,
	})
}

// HandleInfo reports node identity. 503 until the node is configured.
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetNodeConfig(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusServiceUnavailable, codeUnavailable, "node is not configured")
			return
		}
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":        cfg.NodeID,
		"name":           cfg.Name,
		"version":        Version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HandleStatus reports node capacity and tunnel state. 503 until the
// node is configured.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.store.GetNodeConfig(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusServiceUnavailable, codeUnavailable, "node is not configured")
			return
		}
		respondStoreError(w, err)
		return
	}

	storage, err := h.store.StorageStatus(ctx)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"node":    cfg,
		"storage": storage,
		"tunnel":  h.tunnel.Status(ctx),
	})
}

// NodeInitRequest configures the node identity and quotas.
type NodeInitRequest struct {
	Name              string `json:"name" validate:"required,min=1,max=128"`
	StorageLimitBytes int64  `json:"storage_limit_bytes"`
	CPULimitPercent   int    `json:"cpu_limit_percent"`
	AutoStart         bool   `json:"auto_start"`
	BackgroundMode    bool   `json:"background_mode"`
}

// HandleNodeInit writes the singleton node configuration and records
// the install marker. Admin only.
func (h *Handler) HandleNodeInit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req NodeInitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "node name is required")
		return
	}

	ctx := r.Context()
	cfg, err := h.store.GetNodeConfig(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondStoreError(w, err)
		return
	}
	if cfg == nil {
		cfg = &store.NodeConfig{NodeID: uuid.NewString()}
	}
	cfg.Name = req.Name
	cfg.StorageLimitBytes = req.StorageLimitBytes
	cfg.CPULimitPercent = req.CPULimitPercent
	cfg.AutoStart = req.AutoStart
	cfg.BackgroundMode = req.BackgroundMode

	if err := h.store.SaveNodeConfig(ctx, cfg); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := store.WriteInstallMarker(h.store.DataDir()); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// NodePrefsRequest updates quotas and desktop preferences.
type NodePrefsRequest struct {
	StorageLimitBytes *int64 `json:"storage_limit_bytes,omitempty"`
	CPULimitPercent   *int   `json:"cpu_limit_percent,omitempty"`
	AutoStart         *bool  `json:"auto_start,omitempty"`
	BackgroundMode    *bool  `json:"background_mode,omitempty"`
}

// HandleNodePrefs applies partial preference updates. Admin only.
func (h *Handler) HandleNodePrefs(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req NodePrefsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	ctx := r.Context()
	if req.StorageLimitBytes != nil || req.CPULimitPercent != nil {
		cfg, err := h.store.GetNodeConfig(ctx)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		limit := cfg.StorageLimitBytes
		cpu := cfg.CPULimitPercent
		if req.StorageLimitBytes != nil {
			limit = *req.StorageLimitBytes
		}
		if req.CPULimitPercent != nil {
			cpu = *req.CPULimitPercent
		}
		if err := h.store.UpdateResourceLimits(ctx, limit, cpu); err != nil {
			respondStoreError(w, err)
			return
		}
	}
	if req.AutoStart != nil {
		if err := h.store.UpdateAutoStart(ctx, *req.AutoStart); err != nil {
			respondStoreError(w, err)
			return
		}
	}
	if req.BackgroundMode != nil {
		if err := h.store.UpdateBackgroundMode(ctx, *req.BackgroundMode); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	cfg, err := h.store.GetNodeConfig(ctx)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// RelocateRequest moves the install tree to a new directory.
type RelocateRequest struct {
	NewPath string `json:"new_path" validate:"required"`
}

// HandleRelocate runs the copy-verify-rename storage migration. Admin
// only; the node keeps serving from the new location on success.
func (h *Handler) HandleRelocate(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req RelocateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "new_path is required")
		return
	}

	if err := h.store.Relocate(r.Context(), req.NewPath); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"install_path": req.NewPath})
}

// MemberView is the member listing shape.
type MemberView struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at"`
}

// HandleMembers lists every registered user on the node.
func (h *Handler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	members := make([]MemberView, 0, len(users))
	for _, u := range users {
		members = append(members, MemberView{
			UserID:    u.ID,
			Username:  u.Username,
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, members)
}

// HandleDeleteMember removes a user and everything they own. Admin
// only; self-deletion is rejected so a node cannot lose its last
// admin by accident.
func (h *Handler) HandleDeleteMember(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAdminClaims(w, r)
	if !ok {
		return
	}

	id := pathValue(r, "id")
	if id == claims.Subject {
		respondError(w, http.StatusBadRequest, codeValidation, "cannot delete your own account")
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// RoleRequest toggles a member's admin flag.
type RoleRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// HandleUpdateMemberRole sets a member's admin flag. Admin only.
func (h *Handler) HandleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req RoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	id := pathValue(r, "id")
	if err := h.store.UpdateUserRole(r.Context(), id, req.IsAdmin); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "is_admin": req.IsAdmin})
}

// SpaceRequest creates a storage space.
type SpaceRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
}

// HandleCreateSpace creates a storage space for the caller.
func (h *Handler) HandleCreateSpace(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	var req SpaceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "space name is required")
		return
	}

	space, err := h.store.CreateSpace(r.Context(), claims.Subject, req.Name)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, space)
}

// HandleListSpaces lists the caller's storage spaces.
func (h *Handler) HandleListSpaces(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}
	spaces, err := h.store.ListUserSpaces(r.Context(), claims.Subject)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, spaces)
}

// FleetRequest registers or deregisters this node with the central
// directory.
type FleetRequest struct {
	Secret string `json:"secret" validate:"required"`
}

// HandleFleetRegister registers the node with the fleet directory.
// Gated on the build-time registry secret; absent, it fails
// descriptively rather than silently.
func (h *Handler) HandleFleetRegister(w http.ResponseWriter, r *http.Request) {
	h.handleFleet(w, r, true)
}

// HandleFleetDeregister removes the node from the fleet directory.
func (h *Handler) HandleFleetDeregister(w http.ResponseWriter, r *http.Request) {
	h.handleFleet(w, r, false)
}

func (h *Handler) handleFleet(w http.ResponseWriter, r *http.Request, register bool) {
	if !h.requireAdmin(w, r) {
		return
	}
	if registrySecret == "" {
		respondError(w, http.StatusServiceUnavailable, codeUnavailable,
			"fleet registration is not available: this build carries no registry secret")
		return
	}

	var req FleetRequest
	if err := decodeJSON(r, &req); err != nil ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(registrySecret)) != 1 {
		respondError(w, http.StatusForbidden, codeForbidden, "invalid registry secret")
		return
	}

	cfg, err := h.store.GetNodeConfig(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusServiceUnavailable, codeUnavailable, "node is not configured")
			return
		}
		respondStoreError(w, err)
		return
	}

	action := "registered"
	if !register {
		action = "deregistered"
	}
	respondJSON(w, http.StatusOK, map[string]string{"node_id": cfg.NodeID, "fleet": action})
}

// requireAdmin answers 403 and returns false unless the caller is an
// admin.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	_, ok := h.requireAdminClaims(w, r)
	return ok
}

func (h *Handler) requireAdminClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return nil, false
	}
	if !claims.IsAdmin {
		respondError(w, http.StatusForbidden, codeForbidden, "admin access required")
		return nil, false
	}
	return claims, true
}
