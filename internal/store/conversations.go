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
	"gorm.io/gorm/clause"
)

// CreateDMConversation returns the dm conversation between two users,
// creating it if absent. A dm is unique per unordered member pair, so
// calling this twice in either argument order yields the same
// conversation (first write wins, no duplicate).
func (s *Store) CreateDMConversation(ctx context.Context, a, b string) (*Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: a dm needs two distinct members", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_members m1 ON m1.conversation_id = conversations.id AND m1.user_id = ?", a).
		Joins("JOIN conversation_members m2 ON m2.conversation_id = conversations.id AND m2.user_id = ?", b).
		Where("conversations.kind = ?", KindDM).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up dm: %w", err)
	}

	now := nowStamp()
	conv := Conversation{
		ID:        uuid.NewString(),
		Kind:      KindDM,
		CreatorID: a,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		members := []ConversationMember{
			{ConversationID: conv.ID, UserID: a, JoinedAt: now},
			{ConversationID: conv.ID, UserID: b, JoinedAt: now},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dm: %w", err)
	}
	return &conv, nil
}

// CreateGroupConversation creates a group with the creator plus the
// given member ids. Duplicate ids (including the creator's own) are
// deduplicated rather than erroring.
func (s *Store) CreateGroupConversation(ctx context.Context, creatorID, name string, memberIDs []string) (*Conversation, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowStamp()
	conv := Conversation{
		ID:        uuid.NewString(),
		Kind:      KindGroup,
		Name:      name,
		CreatorID: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	seen := map[string]struct{}{creatorID: {}}
	members := []ConversationMember{{ConversationID: conv.ID, UserID: creatorID, JoinedAt: now}}
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, ConversationMember{ConversationID: conv.ID, UserID: id, JoinedAt: now})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return &conv, nil
}

// AddGroupMember adds a user to a group conversation. Re-adding an
// existing member is a no-op. The API layer checks the actor's own
// membership before calling.
func (s *Store) AddGroupMember(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Kind != KindGroup {
		return fmt.Errorf("%w: members can only be added to groups", ErrValidation)
	}

	member := ConversationMember{ConversationID: conversationID, UserID: userID, JoinedAt: nowStamp()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes a user from a group conversation.
func (s *Store) RemoveGroupMember(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Kind != KindGroup {
		return fmt.Errorf("%w: members can only be removed from groups", ErrValidation)
	}

	err = s.db.WithContext(ctx).
		Delete(&ConversationMember{}, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// RenameConversation sets a group conversation's name.
func (s *Store) RenameConversation(ctx context.Context, conversationID, name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"name": name, "updated_at": nowStamp()})
	if res.Error != nil {
		return fmt.Errorf("failed to rename conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation returns one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.getConversation(ctx, id)
}

func (s *Store) getConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	return &conv, nil
}

// IsConversationMember reports whether the user currently belongs to
// the conversation.
func (s *Store) IsConversationMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

// ConversationMemberIDs returns the set of conversation ids the user
// belongs to. The WebSocket layer loads this once per connection to
// filter the broadcast stream.
func (s *Store) ConversationMemberIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&ConversationMember{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// GetConversationMembers returns the users in a conversation.
func (s *Store) GetConversationMembers(ctx context.Context, conversationID string) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_members ON conversation_members.user_id = users.id").
		Where("conversation_members.conversation_id = ?", conversationID).
		Order("conversation_members.joined_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	return users, nil
}

// ListConversations returns every conversation the user belongs to,
// hydrated with its member list and most recent message, ordered by
// conversation recency (updated_at, which message sends touch).
func (s *Store) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_members ON conversation_members.conversation_id = conversations.id").
		Where("conversation_members.user_id = ?", userID).
		Order("conversations.updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		members, err := s.GetConversationMembers(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		last, err := s.lastMessage(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, ConversationView{
			Conversation: conv,
			Members:      members,
			LastMessage:  last,
		})
	}
	return views, nil
}
