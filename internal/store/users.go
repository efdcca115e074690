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

// CreateUser creates a user, or updates the existing row when the
// username is already taken. The upsert supports idempotent admin
// re-provisioning from the desktop surface; registration callers check
// for an existing username first and map it to a conflict.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin bool) (*User, error) {
	if username == "" || email == "" || passwordHash == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing User
	err := s.db.WithContext(ctx).First(&existing, "username = ?", username).Error
	switch {
	case err == nil:
		existing.Email = email
		existing.PasswordHash = passwordHash
		existing.IsAdmin = isAdmin
		existing.UpdatedAt = nowStamp()
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := nowStamp()
		user := User{
			ID:           uuid.NewString(),
			Username:     username,
			Email:        email,
			PasswordHash: passwordHash,
			IsAdmin:      isAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
}

// GetUserByUsername returns the user with the given username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &user, nil
}

// GetUserByID returns the user with the given id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &user, nil
}

// GetPasswordHash returns the stored bcrypt hash for a username.
func (s *Store) GetPasswordHash(ctx context.Context, username string) (string, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return user.PasswordHash, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// CountUsers returns the total number of registered users. The first
// registration on a node (count zero) is granted admin automatically.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// FirstAdmin returns the earliest-created admin user.
func (s *Store) FirstAdmin(ctx context.Context) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("is_admin = ?", true).
		Order("created_at ASC").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}
	return &user, nil
}

// UpdateUserRole sets the admin flag on a user.
func (s *Store) UpdateUserRole(ctx context.Context, id string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_admin": isAdmin, "updated_at": nowStamp()})
	if res.Error != nil {
		return fmt.Errorf("failed to update user role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Owned blob files are removed from disk
// first, best-effort; the row delete is authoritative and cascades to
// files, spaces, memberships, messages and attachments.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []File
	if err := s.db.WithContext(ctx).Where("user_id = ?", id).Find(&files).Error; err != nil {
		return fmt.Errorf("failed to list user files: %w", err)
	}
	for _, f := range files {
		if err := os.Remove(s.blobPath(f.Name)); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("file", f.Name).Msg("failed to remove blob during user delete")
		}
	}

	res := s.db.WithContext(ctx).Delete(&User{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSpace creates a named storage space for a user.
func (s *Store) CreateSpace(ctx context.Context, userID, name string) (*Space, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: space name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	space := Space{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: nowStamp(),
	}
	if err := s.db.WithContext(ctx).Create(&space).Error; err != nil {
		return nil, fmt.Errorf("failed to create space: %w", err)
	}
	return &space, nil
}

// ListUserSpaces returns a user's spaces, newest first.
func (s *Store) ListUserSpaces(ctx context.Context, userID string) ([]Space, error) {
	var spaces []Space
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&spaces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	return spaces, nil
}
