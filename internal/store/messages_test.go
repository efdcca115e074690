// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func newDM(t *testing.T, s *Store) (ctx context.Context, a, b *User, conv *Conversation) {
	t.Helper()
	ctx = context.Background()
	a = mustUser(t, s, "ada", false)
	b = mustUser(t, s, "grace", false)
	c, err := s.CreateDMConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateDMConversation: %v", err)
	}
	return ctx, a, b, c
}

func TestCreateMessageRequiresMembership(t *testing.T) {
	s := newTestStore(t)
	ctx, _, _, conv := newDM(t, s)
	outsider := mustUser(t, s, "trent", false)

	if _, err := s.CreateMessage(ctx, conv.ID, outsider.ID, "hi", nil); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-member send err = %v, want ErrPermissionDenied", err)
	}
}

func TestCreateMessageRequiresBodyOrAttachment(t *testing.T) {
	s := newTestStore(t)
	ctx, a, _, conv := newDM(t, s)

	if _, err := s.CreateMessage(ctx, conv.ID, a.ID, "", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty message err = %v, want ErrValidation", err)
	}

	// Attachment-only is fine.
	file, err := s.UploadFile(ctx, a.ID, "pic.png", []byte{1}, false)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	msg, err := s.CreateMessage(ctx, conv.ID, a.ID, "", []string{file.ID})
	if err != nil {
		t.Fatalf("attachment-only message err = %v", err)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].FileID != file.ID {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestCreateMessageDropsForeignAttachments(t *testing.T) {
	s := newTestStore(t)
	ctx, a, b, conv := newDM(t, s)

	theirs, err := s.UploadFile(ctx, b.ID, "theirs.txt", []byte("x"), false)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	mine, err := s.UploadFile(ctx, a.ID, "mine.txt", []byte("y"), false)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	// Unowned and unknown ids drop silently; the owned one sticks.
	msg, err := s.CreateMessage(ctx, conv.ID, a.ID, "files", []string{theirs.ID, "no-such-id", mine.ID})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].FileID != mine.ID {
		t.Errorf("attachments = %+v, want only own file", msg.Attachments)
	}
}

func TestCreateMessageHydratesSender(t *testing.T) {
	s := newTestStore(t)
	ctx, a, _, conv := newDM(t, s)

	msg, err := s.CreateMessage(ctx, conv.ID, a.ID, "hello", nil)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.SenderUsername != "ada" {
		t.Errorf("sender_username = %q, want ada", msg.SenderUsername)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx, a, b, conv := newDM(t, s)

	const total = 120
	for i := 0; i < total; i++ {
		sender := a.ID
		if i%2 == 1 {
			sender = b.ID
		}
		if _, err := s.CreateMessage(ctx, conv.ID, sender, fmt.Sprintf("msg-%03d", i), nil); err != nil {
			t.Fatalf("CreateMessage %d: %v", i, err)
		}
	}

	// Walk pages of 50 until exhausted; every message exactly once.
	seen := make(map[string]bool)
	before := ""
	pages := 0
	for {
		page, err := s.ListMessages(ctx, conv.ID, 50, before)
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		for i, msg := range page {
			if seen[msg.ID] {
				t.Fatalf("message %s returned twice", msg.ID)
			}
			seen[msg.ID] = true
			// Newest first within each page.
			if i > 0 && page[i-1].CreatedAt < msg.CreatedAt {
				t.Fatalf("page out of order at index %d", i)
			}
		}
		before = page[len(page)-1].CreatedAt
	}
	if len(seen) != total {
		t.Errorf("saw %d distinct messages, want %d", len(seen), total)
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestListMessagesClampsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx, a, _, conv := newDM(t, s)

	for i := 0; i < 110; i++ {
		if _, err := s.CreateMessage(ctx, conv.ID, a.ID, fmt.Sprintf("m%d", i), nil); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 50},     // zero falls back to the default
		{-5, 50},    // negative likewise
		{1000, 100}, // above the cap clamps
		{10, 10},
	}
	for _, tt := range tests {
		page, err := s.ListMessages(ctx, conv.ID, tt.limit, "")
		if err != nil {
			t.Fatalf("ListMessages(limit=%d): %v", tt.limit, err)
		}
		if len(page) != tt.want {
			t.Errorf("limit %d returned %d messages, want %d", tt.limit, len(page), tt.want)
		}
	}
}

func TestSendTouchesConversationActivity(t *testing.T) {
	s := newTestStore(t)
	ctx, a, _, conv := newDM(t, s)

	beforeSend, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if _, err := s.CreateMessage(ctx, conv.ID, a.ID, "bump", nil); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	afterSend, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if afterSend.UpdatedAt <= beforeSend.UpdatedAt {
		t.Errorf("updated_at not bumped: %s -> %s", beforeSend.UpdatedAt, afterSend.UpdatedAt)
	}
}
