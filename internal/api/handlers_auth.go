// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/hearthnode/hearth/internal/auth"
	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
)

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is the shared success shape of register and login.
type AuthResponse struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// HandleRegister creates an account. The first user ever registered on
// a node becomes admin automatically; every later registration is a
// regular member. Duplicate usernames answer 409.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "username, email and password are required")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetUserByUsername(ctx, req.Username); err == nil {
		respondError(w, http.StatusConflict, codeConflict, "username already taken")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		respondStoreError(w, err)
		return
	}

	count, err := h.store.CountUsers(ctx)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	isAdmin := count == 0

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid password")
		return
	}

	user, err := h.store.CreateUser(ctx, req.Username, req.Email, hash, isAdmin)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		logging.Err(err).Msg("token issue failed after registration")
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	logging.Info().Str("username", user.Username).Bool("is_admin", user.IsAdmin).Msg("user registered")
	respondJSON(w, http.StatusCreated, authResponse(user, token, expiresAt))
}

// HandleLogin verifies credentials and issues a token. A missing user
// and a wrong password produce the same uniform 401 so usernames
// cannot be probed.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "username and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid username or password")
			return
		}
		respondStoreError(w, err)
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		logging.Err(err).Str("username", sanitizeLogValue(req.Username)).Msg("stored password hash is malformed")
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid username or password")
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		logging.Err(err).Msg("token issue failed after login")
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, authResponse(user, token, expiresAt))
}

func authResponse(user *store.User, token string, expiresAt time.Time) AuthResponse {
	return AuthResponse{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		IsAdmin:   user.IsAdmin,
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}
}
