// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hearthnode/hearth/internal/auth"
	"github.com/hearthnode/hearth/internal/store"
)

// HandleListFiles returns the caller's own files plus all public
// files, newest first.
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}
	files, err := h.store.ListFiles(r.Context(), claims.Subject)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, files)
}

// HandleUploadFile accepts a multipart upload. The total body size is
// bounded by the router; an empty derived filename or empty payload is
// malformed.
func (h *Handler) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid multipart body")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "missing file field")
		return
	}
	defer part.Close()

	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, codeValidation, "filename must not be empty")
		return
	}

	data, err := io.ReadAll(part)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "unreadable file payload")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, codeValidation, "file payload must not be empty")
		return
	}

	isPublic := r.FormValue("is_public") == "true"

	file, err := h.store.UploadFile(r.Context(), claims.Subject, header.Filename, data, isPublic)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, file)
}

// HandleDownloadFile streams a file's content. Content type derives
// from the extension; media renders inline, everything else downloads
// as an attachment.
func (h *Handler) HandleDownloadFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	name := pathValue(r, "name")
	file, data, err := h.store.ReadFile(r.Context(), claims.Subject, name)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	mime := store.MimeFromExt(file.Name)
	disposition := "attachment"
	if strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "video/") {
		disposition = "inline"
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, file.Name))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // nothing to do if the client hangs up mid-stream
	w.Write(data)
}

// HandleDeleteFile removes a file for its owner or any admin.
func (h *Handler) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	name := pathValue(r, "name")
	if err := h.store.DeleteFile(r.Context(), claims.Subject, claims.IsAdmin, name); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// FileVisibilityRequest toggles a file's public flag.
type FileVisibilityRequest struct {
	IsPublic bool `json:"is_public"`
}

// HandleUpdateFileVisibility toggles the public flag for the owner or
// any admin.
func (h *Handler) HandleUpdateFileVisibility(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	var req FileVisibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	name := pathValue(r, "name")
	file, err := h.store.UpdateFileVisibility(r.Context(), claims.Subject, claims.IsAdmin, name, req.IsPublic)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, file)
}
