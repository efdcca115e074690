// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/hearthnode/hearth/internal/config"
	"github.com/hearthnode/hearth/internal/store"
	ws "github.com/hearthnode/hearth/internal/websocket"
)

func decodeConversation(t *testing.T, env envelope) store.Conversation {
	t.Helper()
	var conv store.Conversation
	if err := json.Unmarshal(env.Data, &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conv
}

func TestCreateDMAndSend(t *testing.T) {
	a := newTestAPI(t)
	ada := a.register(t, "ada")
	grace := a.register(t, "grace")

	status, env := a.do(t, http.MethodPost, "/api/conversations", ada.Token, CreateConversationRequest{
		Kind:       store.KindDM,
		PeerUserID: grace.UserID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create dm = %d (%+v)", status, env.Error)
	}
	conv := decodeConversation(t, env)

	// Creating the same dm again returns the existing conversation.
	status, env = a.do(t, http.MethodPost, "/api/conversations", grace.Token, CreateConversationRequest{
		Kind:       store.KindDM,
		PeerUserID: ada.UserID,
	})
	if status != http.StatusCreated {
		t.Fatalf("repeat dm = %d", status)
	}
	if again := decodeConversation(t, env); again.ID != conv.ID {
		t.Errorf("dm duplicated: %s != %s", again.ID, conv.ID)
	}

	status, env = a.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", ada.Token, SendMessageRequest{Body: "hello"})
	if status != http.StatusCreated {
		t.Fatalf("send = %d (%+v)", status, env.Error)
	}
	var msg store.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Body != "hello" || msg.SenderUsername != "ada" {
		t.Errorf("message = %+v", msg)
	}
}

func TestCreateDMValidation(t *testing.T) {
	a := newTestAPI(t)
	ada := a.register(t, "ada")

	tests := []struct {
		name string
		req  CreateConversationRequest
		want int
	}{
		{"unknown kind", CreateConversationRequest{Kind: "channel"}, http.StatusBadRequest},
		{"dm without peer", CreateConversationRequest{Kind: store.KindDM}, http.StatusBadRequest},
		{"dm with unknown peer", CreateConversationRequest{Kind: store.KindDM, PeerUserID: "ghost"}, http.StatusNotFound},
		{"group without name", CreateConversationRequest{Kind: store.KindGroup}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := a.do(t, http.MethodPost, "/api/conversations", ada.Token, tt.req)
			if status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
		})
	}
}

func TestNonMemberGets403(t *testing.T) {
	a := newTestAPI(t)
	ada := a.register(t, "ada")
	grace := a.register(t, "grace")
	outsider := a.register(t, "trent")

	status, env := a.do(t, http.MethodPost, "/api/conversations", ada.Token, CreateConversationRequest{
		Kind:       store.KindDM,
		PeerUserID: grace.UserID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create dm = %d", status)
	}
	conv := decodeConversation(t, env)

	// Same 403 whether the conversation exists or not.
	for _, id := range []string{conv.ID, "no-such-conversation"} {
		status, _ = a.do(t, http.MethodGet, "/api/conversations/"+id+"/messages", outsider.Token, nil)
		if status != http.StatusForbidden {
			t.Errorf("list messages of %s = %d, want 403", id, status)
		}
		status, _ = a.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", outsider.Token, SendMessageRequest{Body: "hi"})
		if status != http.StatusForbidden {
			t.Errorf("send to %s = %d, want 403", id, status)
		}
	}
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	ada := a.register(t, "ada")
	grace := a.register(t, "grace")
	linus := a.register(t, "linus")

	status, env := a.do(t, http.MethodPost, "/api/conversations", ada.Token, CreateConversationRequest{
		Kind:      store.KindGroup,
		Name:      "homelab",
		MemberIDs: []string{grace.UserID},
	})
	if status != http.StatusCreated {
		t.Fatalf("create group = %d (%+v)", status, env.Error)
	}
	conv := decodeConversation(t, env)

	status, env = a.do(t, http.MethodPatch, "/api/conversations/"+conv.ID, ada.Token, UpdateConversationRequest{
		Name:       "homelab-ops",
		AddMembers: []string{linus.UserID},
	})
	if status != http.StatusOK {
		t.Fatalf("update group = %d (%+v)", status, env.Error)
	}
	var view store.ConversationView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Name != "homelab-ops" || len(view.Members) != 3 {
		t.Errorf("view = name %q, %d members", view.Name, len(view.Members))
	}

	status, _ = a.do(t, http.MethodPatch, "/api/conversations/"+conv.ID, ada.Token, UpdateConversationRequest{
		RemoveMembers: []string{linus.UserID},
	})
	if status != http.StatusOK {
		t.Fatalf("remove member = %d", status)
	}

	// The removed member loses access.
	status, _ = a.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", linus.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("removed member access = %d, want 403", status)
	}
}

func TestMessagePaginationOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	ada := a.register(t, "ada")
	grace := a.register(t, "grace")

	status, env := a.do(t, http.MethodPost, "/api/conversations", ada.Token, CreateConversationRequest{
		Kind:       store.KindDM,
		PeerUserID: grace.UserID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create dm = %d", status)
	}
	conv := decodeConversation(t, env)

	for i := 0; i < 30; i++ {
		body := SendMessageRequest{Body: fmt.Sprintf("msg-%02d", i)}
		if st, _ := a.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", ada.Token, body); st != http.StatusCreated {
			t.Fatalf("send %d = %d", i, st)
		}
	}

	decodePage := func(path string) []store.Message {
		t.Helper()
		st, env := a.do(t, http.MethodGet, path, grace.Token, nil)
		if st != http.StatusOK {
			t.Fatalf("list %s = %d", path, st)
		}
		var msgs []store.Message
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			t.Fatalf("decode messages: %v", err)
		}
		return msgs
	}

	first := decodePage("/api/conversations/" + conv.ID + "/messages?limit=20")
	if len(first) != 20 {
		t.Fatalf("first page = %d, want 20", len(first))
	}
	if first[0].Body != "msg-29" {
		t.Errorf("newest first, got %q", first[0].Body)
	}

	second := decodePage("/api/conversations/" + conv.ID + "/messages?limit=20&before=" + first[len(first)-1].CreatedAt)
	if len(second) != 10 {
		t.Fatalf("second page = %d, want 10", len(second))
	}
	if second[len(second)-1].Body != "msg-00" {
		t.Errorf("oldest message = %q", second[len(second)-1].Body)
	}

	if st, _ := a.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages?limit=bogus", grace.Token, nil); st != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", st)
	}
}

func TestMessageLimitHonorsConfiguredPageSizes(t *testing.T) {
	a := newTestAPI(t, func(c *config.Config) {
		c.API.DefaultPageSize = 5
		c.API.MaxPageSize = 10
	})
	ada := a.register(t, "ada")
	grace := a.register(t, "grace")

	status, env := a.do(t, http.MethodPost, "/api/conversations", ada.Token, CreateConversationRequest{
		Kind:       store.KindDM,
		PeerUserID: grace.UserID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create dm = %d", status)
	}
	conv := decodeConversation(t, env)

	for i := 0; i < 15; i++ {
		body := SendMessageRequest{Body: fmt.Sprintf("msg-%02d", i)}
		if st, _ := a.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", ada.Token, body); st != http.StatusCreated {
			t.Fatalf("send %d = %d", i, st)
		}
	}

	fetch := func(path string) []store.Message {
		t.Helper()
		st, env := a.do(t, http.MethodGet, path, grace.Token, nil)
		if st != http.StatusOK {
			t.Fatalf("list %s = %d", path, st)
		}
		var msgs []store.Message
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			t.Fatalf("decode messages: %v", err)
		}
		return msgs
	}

	if got := fetch("/api/conversations/" + conv.ID + "/messages"); len(got) != 5 {
		t.Errorf("default page = %d messages, want 5", len(got))
	}
	// An oversized limit is capped at the configured maximum.
	if got := fetch("/api/conversations/" + conv.ID + "/messages?limit=50"); len(got) != 10 {
		t.Errorf("capped page = %d messages, want 10", len(got))
	}
}

func TestWebSocketDelivery(t *testing.T) {
	a := newTestAPI(t)
	ada := a.register(t, "ada")
	grace := a.register(t, "grace")
	outsider := a.register(t, "trent")

	status, env := a.do(t, http.MethodPost, "/api/conversations", ada.Token, CreateConversationRequest{
		Kind:       store.KindDM,
		PeerUserID: grace.UserID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create dm = %d", status)
	}
	conv := decodeConversation(t, env)

	dial := func(token string) *gws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/ws?token=" + token
		conn, resp, err := gws.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if resp != nil {
			resp.Body.Close()
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	// A bad token is refused before the upgrade.
	badURL := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/api/ws?token=garbage"
	if _, resp, err := gws.DefaultDialer.Dial(badURL, nil); err == nil {
		t.Error("dial with bad token succeeded")
	} else if resp != nil {
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("bad token handshake = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	}

	member := dial(grace.Token)
	nonMember := dial(outsider.Token)

	// Wait until both clients are registered before broadcasting.
	deadline := time.Now().Add(time.Second)
	for a.hub.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	status, _ = a.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", ada.Token, SendMessageRequest{Body: "realtime"})
	if status != http.StatusCreated {
		t.Fatalf("send = %d", status)
	}

	if err := member.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var event ws.Event
	if err := member.ReadJSON(&event); err != nil {
		t.Fatalf("member ReadJSON: %v", err)
	}
	if event.Type != ws.EventTypeMessage || event.ConversationID != conv.ID {
		t.Errorf("event = %+v", event)
	}

	// The outsider's stream stays quiet.
	if err := nonMember.SetReadDeadline(time.Now().Add(150 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var stray ws.Event
	if err := nonMember.ReadJSON(&stray); err == nil {
		t.Errorf("non-member received event: %+v", stray)
	}
}
