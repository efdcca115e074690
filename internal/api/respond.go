// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
)

// Response is the uniform JSON envelope for every endpoint.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *APIError   `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a user-facing message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned to clients.
const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeValidation   = "VALIDATION"
	codeConflict     = "CONFLICT"
	codeNotFound     = "NOT_FOUND"
	codeRateLimited  = "RATE_LIMITED"
	codeUnavailable  = "UNAVAILABLE"
	codeInternal     = "INTERNAL"
)

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Status: "success", Data: data}); err != nil {
		logging.Err(err).Msg("failed to encode response")
	}
}

// respondError writes an error envelope. The message is the
// deliberately user-facing text; internal details stay in logs.
func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{
		Status: "error",
		Error:  &APIError{Code: code, Message: message},
	}); err != nil {
		logging.Err(err).Msg("failed to encode error response")
	}
}

// respondStoreError maps the persistence error taxonomy onto HTTP
// statuses. Lower-layer error text never reaches the client except for
// validation messages, which are written for users.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, store.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, codeForbidden, "permission denied")
	case errors.Is(err, store.ErrValidation):
		respondError(w, http.StatusBadRequest, codeValidation, userFacingValidation(err))
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, codeConflict, "already exists")
	default:
		logging.Err(err).Msg("internal error")
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// userFacingValidation strips the sentinel prefix from a wrapped
// validation error, leaving the human-readable part.
func userFacingValidation(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}

// decodeJSON decodes a request body, rejecting unknown junk sizes via
// the router-level body cap.
func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// sanitizeLogValue strips newlines from untrusted values before they
// reach structured logs.
func sanitizeLogValue(v string) string {
	v = strings.ReplaceAll(v, "\n", "")
	v = strings.ReplaceAll(v, "\r", "")
	if len(v) > 256 {
		v = v[:256]
	}
	return v
}

// clientIP extracts the real client IP behind trusted proxies:
// CF-Connecting-IP first, then the first hop of X-Forwarded-For, then
// the direct-connection marker.
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return "direct"
}
