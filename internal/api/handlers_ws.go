// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"net/http"

	"github.com/hearthnode/hearth/internal/logging"
	ws "github.com/hearthnode/hearth/internal/websocket"
)

// HandleWebSocket upgrades the connection and subscribes the client to
// the fan-out stream.
//
// The token travels as a query parameter because browser WebSocket
// handshakes cannot carry arbitrary headers. The client's conversation
// membership set is loaded once here; membership changes apply on the
// next connection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired token")
		return
	}

	conversations, err := h.store.ConversationMemberIDs(r.Context(), claims.Subject)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, claims.Subject, conversations)
	h.hub.Register <- client
	client.Start()
}
