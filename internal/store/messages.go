// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthnode/hearth/internal/logging"
)

// maxPageSize caps list_messages limits. Larger requests are clamped,
// not rejected.
const maxPageSize = 100

// CreateMessage inserts a message into a conversation.
//
// The sender must be a current member. The body may be empty only when
// at least one attachment resolves. Attachment ids that do not resolve
// to files owned by the sender are dropped silently, a named leniency
// policy: a client racing a file delete should not fail the whole send.
// The conversation's updated_at is touched so lists reorder by recency.
func (s *Store) CreateMessage(ctx context.Context, conversationID, senderID, body string, attachmentIDs []string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, err := s.IsConversationMember(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrPermissionDenied
	}

	var owned []File
	if len(attachmentIDs) > 0 {
		err := s.db.WithContext(ctx).
			Where("id IN ? AND user_id = ?", attachmentIDs, senderID).
			Find(&owned).Error
		if err != nil {
			return nil, fmt.Errorf("failed to resolve attachments: %w", err)
		}
		if dropped := len(attachmentIDs) - len(owned); dropped > 0 {
			logging.Debug().Int("dropped", dropped).Msg("dropped unresolved attachment ids from message")
		}
	}

	if body == "" && len(owned) == 0 {
		return nil, fmt.Errorf("%w: message needs a body or at least one attachment", ErrValidation)
	}

	now := nowStamp()
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		for _, f := range owned {
			att := MessageAttachment{MessageID: msg.ID, FileID: f.ID}
			if err := tx.Create(&att).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	msg.Attachments = attachmentViews(owned)
	if sender, err := s.GetUserByID(ctx, senderID); err == nil {
		msg.SenderUsername = sender.Username
	}
	return &msg, nil
}

// ListMessages returns a newest-first page of at most limit messages,
// keyset-paginated: when before is non-empty only messages with a
// created_at strictly less than it are returned. Limits are clamped to
// [1, 100]. Each message is hydrated with sender username and
// attachment metadata.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]Message, error) {
	if limit <= 0 {
		limit = maxPageSize / 2
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit)
	if before != "" {
		q = q.Where("created_at < ?", before)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	for i := range msgs {
		if err := s.hydrateMessage(ctx, &msgs[i]); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// lastMessage returns the most recent message in a conversation, or
// nil when it has none.
func (s *Store) lastMessage(ctx context.Context, conversationID string) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last message: %w", err)
	}
	if err := s.hydrateMessage(ctx, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) hydrateMessage(ctx context.Context, msg *Message) error {
	var sender User
	if err := s.db.WithContext(ctx).First(&sender, "id = ?", msg.SenderID).Error; err == nil {
		msg.SenderUsername = sender.Username
	}

	var files []File
	err := s.db.WithContext(ctx).
		Joins("JOIN message_attachments ON message_attachments.file_id = files.id").
		Where("message_attachments.message_id = ?", msg.ID).
		Find(&files).Error
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	msg.Attachments = attachmentViews(files)
	return nil
}

func attachmentViews(files []File) []AttachmentView {
	views := make([]AttachmentView, 0, len(files))
	for _, f := range files {
		views = append(views, AttachmentView{
			FileID: f.ID,
			Name:   f.Name,
			Size:   f.Size,
			Mime:   MimeFromExt(f.Name),
		})
	}
	return views
}
