// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hearthnode/hearth/internal/logging"
)

// UploadFile validates the name, writes the content to the blob
// directory and then inserts metadata, in that order. A metadata insert
// failure after a successful disk write is terminal; the orphaned blob
// is an accepted inconsistency window.
func (s *Store) UploadFile(ctx context.Context, userID, name string, data []byte, isPublic bool) (*File, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing File
	err := s.db.WithContext(ctx).First(&existing, "name = ?", name).Error
	if err == nil {
		return nil, fmt.Errorf("%w: file %q already exists", ErrConflict, name)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up file: %w", err)
	}

	if err := os.WriteFile(s.blobPath(name), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}

	file := File{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Size:      int64(len(data)),
		IsPublic:  isPublic,
		CreatedAt: nowStamp(),
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		return nil, fmt.Errorf("failed to insert file metadata: %w", err)
	}
	return &file, nil
}

// ListFiles returns the visible files, newest first. With a requester
// identity that is the union of the requester's own files and all
// public files; without one, public files only.
func (s *Store) ListFiles(ctx context.Context, requesterID string) ([]File, error) {
	var files []File
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if requesterID != "" {
		q = q.Where("user_id = ? OR is_public = ?", requesterID, true)
	} else {
		q = q.Where("is_public = ?", true)
	}
	if err := q.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// ListAllFiles returns every file regardless of visibility, newest
// first. Admin surface only.
func (s *Store) ListAllFiles(ctx context.Context) ([]File, error) {
	var files []File
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// ReadFile returns a file's metadata and content, enforcing the read
// permission rule: the owner always; otherwise the file must be public
// or attached to a message in a conversation the requester belongs to.
func (s *Store) ReadFile(ctx context.Context, requesterID, name string) (*File, []byte, error) {
	var file File
	err := s.db.WithContext(ctx).First(&file, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up file: %w", err)
	}

	if file.UserID != requesterID && !file.IsPublic {
		attached, err := s.canAccessAttachedFile(ctx, requesterID, file.ID)
		if err != nil {
			return nil, nil, err
		}
		if !attached {
			return nil, nil, ErrPermissionDenied
		}
	}

	data, err := os.ReadFile(s.blobPath(file.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return &file, data, nil
}

// canAccessAttachedFile reports whether the file is attached to any
// message in a conversation the requester is a member of. Attachment
// implies read access, a deliberate exception to the public/private
// binary so shared files render in chat for every member.
func (s *Store) canAccessAttachedFile(ctx context.Context, requesterID, fileID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table("message_attachments").
		Joins("JOIN messages ON messages.id = message_attachments.message_id").
		Joins("JOIN conversation_members ON conversation_members.conversation_id = messages.conversation_id").
		Where("message_attachments.file_id = ? AND conversation_members.user_id = ?", fileID, requesterID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check attachment access: %w", err)
	}
	return count > 0, nil
}

// DeleteFile removes a file for its owner or any admin. Disk removal is
// best-effort (an already-absent blob is logged, not an error); the
// metadata delete is authoritative.
func (s *Store) DeleteFile(ctx context.Context, requesterID string, requesterAdmin bool, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var file File
	err := s.db.WithContext(ctx).First(&file, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up file: %w", err)
	}

	if file.UserID != requesterID && !requesterAdmin {
		return ErrPermissionDenied
	}

	if err := os.Remove(s.blobPath(file.Name)); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("file", file.Name).Msg("failed to remove blob, metadata delete proceeds")
	}

	if err := s.db.WithContext(ctx).Delete(&File{}, "id = ?", file.ID).Error; err != nil {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	return nil
}

// UpdateFileVisibility sets the public flag for the owner or any admin.
func (s *Store) UpdateFileVisibility(ctx context.Context, requesterID string, requesterAdmin bool, name string, isPublic bool) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var file File
	err := s.db.WithContext(ctx).First(&file, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up file: %w", err)
	}

	if file.UserID != requesterID && !requesterAdmin {
		return nil, ErrPermissionDenied
	}

	file.IsPublic = isPublic
	if err := s.db.WithContext(ctx).Save(&file).Error; err != nil {
		return nil, fmt.Errorf("failed to update file visibility: %w", err)
	}
	return &file, nil
}
