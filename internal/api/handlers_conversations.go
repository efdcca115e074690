// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"net/http"
	"strconv"

	"github.com/hearthnode/hearth/internal/auth"
	"github.com/hearthnode/hearth/internal/store"
)

// CreateConversationRequest starts a dm or a group.
type CreateConversationRequest struct {
	Kind       string   `json:"kind" validate:"required,oneof=dm group"`
	PeerUserID string   `json:"peer_user_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	MemberIDs  []string `json:"member_ids,omitempty"`
}

// UpdateConversationRequest renames a group or mutates membership.
type UpdateConversationRequest struct {
	Name          string   `json:"name,omitempty"`
	AddMembers    []string `json:"add_members,omitempty"`
	RemoveMembers []string `json:"remove_members,omitempty"`
}

// SendMessageRequest posts a message.
type SendMessageRequest struct {
	Body          string   `json:"body"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// HandleCreateConversation creates a dm (idempotent per peer pair) or
// a group.
func (h *Handler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	var req CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "kind must be dm or group")
		return
	}

	ctx := r.Context()
	switch req.Kind {
	case store.KindDM:
		if req.PeerUserID == "" {
			respondError(w, http.StatusBadRequest, codeValidation, "peer_user_id is required for a dm")
			return
		}
		if _, err := h.store.GetUserByID(ctx, req.PeerUserID); err != nil {
			respondStoreError(w, err)
			return
		}
		conv, err := h.store.CreateDMConversation(ctx, claims.Subject, req.PeerUserID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, conv)
	case store.KindGroup:
		conv, err := h.store.CreateGroupConversation(ctx, claims.Subject, req.Name, req.MemberIDs)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, conv)
	}
}

// HandleListConversations lists the caller's conversations, hydrated
// with members and last message, most recently active first.
func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}
	views, err := h.store.ListConversations(r.Context(), claims.Subject)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// HandleUpdateConversation renames a group or adds/removes members.
// The caller must currently be a member.
func (h *Handler) HandleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	claims, convID, ok := h.requireMembership(w, r)
	if !ok {
		return
	}
	_ = claims

	var req UpdateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	ctx := r.Context()
	if req.Name != "" {
		if err := h.store.RenameConversation(ctx, convID, req.Name); err != nil {
			respondStoreError(w, err)
			return
		}
	}
	for _, id := range req.AddMembers {
		if err := h.store.AddGroupMember(ctx, convID, id); err != nil {
			respondStoreError(w, err)
			return
		}
	}
	for _, id := range req.RemoveMembers {
		if err := h.store.RemoveGroupMember(ctx, convID, id); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	conv, err := h.store.GetConversation(ctx, convID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	members, err := h.store.GetConversationMembers(ctx, convID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, store.ConversationView{Conversation: *conv, Members: members})
}

// HandleListMessages pages through a conversation's history, newest
// first, with keyset pagination via ?limit= and ?before=.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	_, convID, ok := h.requireMembership(w, r)
	if !ok {
		return
	}

	limit := h.cfg.API.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, codeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}
	before := r.URL.Query().Get("before")

	msgs, err := h.store.ListMessages(r.Context(), convID, limit, before)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

// HandleSendMessage posts a message and fans it out to live WebSocket
// subscribers. The broadcast is fire-and-forget: the 201 to the sender
// does not depend on any delivery outcome.
func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, convID, ok := h.requireMembership(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), convID, claims.Subject, req.Body, req.AttachmentIDs)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.hub.BroadcastMessage(convID, msg)
	respondJSON(w, http.StatusCreated, msg)
}

// requireMembership resolves the conversation id from the path and
// checks the caller belongs to it. A non-member gets 403 without
// learning whether the conversation exists.
func (h *Handler) requireMembership(w http.ResponseWriter, r *http.Request) (*auth.Claims, string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return nil, "", false
	}

	convID := pathValue(r, "id")
	member, err := h.store.IsConversationMember(r.Context(), convID, claims.Subject)
	if err != nil {
		respondStoreError(w, err)
		return nil, "", false
	}
	if !member {
		respondError(w, http.StatusForbidden, codeForbidden, "not a member of this conversation")
		return nil, "", false
	}
	return claims, convID, true
}
