// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

// Package store implements the persistence layer: users, files,
// conversations, messages and node/tunnel configuration in SQLite, plus
// the on-disk blob directory for file contents.
//
// All mutating operations serialize on a single logical writer. Access
// control decisions (ownership, membership, admin) are made here so the
// API layer only maps outcomes to status codes.
package store

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// Domain error taxonomy. Handlers map these onto HTTP statuses.
var (
	// ErrNotFound reports an absent entity.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied reports a failed ownership or membership check.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation reports malformed input such as a bad filename.
	ErrValidation = errors.New("validation failed")
	// ErrConflict reports a duplicate unique field.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity reports a failed relocation space or copy verification.
	ErrIntegrity = errors.New("integrity check failed")
)

// Conversation kinds.
const (
	KindDM    = "dm"
	KindGroup = "group"
)

// Tunnel modes.
const (
	TunnelModeQuick = "quick"
	TunnelModeNamed = "named"
)

// User is a registered account on this node.
type User struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	IsAdmin      bool   `json:"is_admin"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Space is a named storage grouping owned by one user.
type Space struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	User      *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Name      string `gorm:"not null" json:"name"`
	CreatedAt string `json:"created_at"`
}

// File is stored-file metadata. Content lives in the blob directory
// keyed by Name, which is unique per store and doubles as the on-disk
// path component.
type File struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	User      *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	Size      int64  `json:"size"`
	IsPublic  bool   `json:"is_public"`
	CreatedAt string `json:"created_at"`
}

// Conversation is a dm or group chat. A dm is unique per unordered
// member pair; Name is only meaningful for groups.
type Conversation struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Kind      string `gorm:"not null;index" json:"kind"`
	Name      string `json:"name,omitempty"`
	CreatorID string `gorm:"index;not null" json:"creator_id"`
	Creator   *User  `gorm:"foreignKey:CreatorID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `gorm:"index" json:"updated_at"`
}

// ConversationMember joins users to conversations.
type ConversationMember struct {
	ConversationID string        `gorm:"primaryKey" json:"conversation_id"`
	Conversation   *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	UserID         string        `gorm:"primaryKey;index" json:"user_id"`
	User           *User         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	JoinedAt       string        `json:"joined_at"`
}

// Message belongs to one conversation. Body may be empty only when at
// least one attachment is present.
type Message struct {
	ID             string        `gorm:"primaryKey" json:"id"`
	ConversationID string        `gorm:"index:idx_messages_conv_created,priority:1;not null" json:"conversation_id"`
	Conversation   *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	SenderID       string        `gorm:"index;not null" json:"sender_id"`
	Sender         *User         `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE" json:"-"`
	Body           string        `json:"body"`
	CreatedAt      string        `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`

	// Hydrated, not persisted.
	SenderUsername string           `gorm:"-" json:"sender_username,omitempty"`
	Attachments    []AttachmentView `gorm:"-" json:"attachments"`
}

// MessageAttachment joins messages to files the sender owned at send time.
type MessageAttachment struct {
	MessageID string   `gorm:"primaryKey" json:"message_id"`
	Message   *Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	FileID    string   `gorm:"primaryKey;index" json:"file_id"`
	File      *File    `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"-"`
}

// AttachmentView is the hydrated attachment shape carried on messages.
type AttachmentView struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Mime   string `json:"mime"`
}

// ConversationView is a conversation hydrated with members and its most
// recent message, as returned by ListConversations.
type ConversationView struct {
	Conversation
	Members     []User   `json:"members"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// NodeConfig is the singleton node identity and preferences row (id 1).
type NodeConfig struct {
	ID                int64  `gorm:"primaryKey" json:"-"`
	NodeID            string `json:"node_id"`
	Name              string `json:"name"`
	StorageLimitBytes int64  `json:"storage_limit_bytes"`
	CPULimitPercent   int    `json:"cpu_limit_percent"`
	AutoStart         bool   `json:"auto_start"`
	BackgroundMode    bool   `json:"background_mode"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// TunnelConfig is the singleton persisted tunnel configuration (id 1).
// The live child-process handle is transient and owned by the tunnel
// manager; after a restart the node always comes up not-running even if
// a tunnel was running before.
type TunnelConfig struct {
	ID          int64  `gorm:"primaryKey" json:"-"`
	Mode        string `json:"mode"` // quick or named
	TunnelID    string `json:"tunnel_id,omitempty"`
	TunnelName  string `json:"tunnel_name,omitempty"`
	Hostname    string `json:"hostname"`
	LocalPort   int    `json:"local_port"`
	TunnelToken string `json:"-"`
	CreatedAt   string `json:"created_at"`
}

// AppSecret is a small key-value table for installation-scoped secrets,
// currently just the token signing secret.
type AppSecret struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

// StorageStatus summarizes disk usage of the install tree.
type StorageStatus struct {
	InstallPath       string `json:"install_path"`
	UsedBytes         int64  `json:"used_bytes"`
	FileCount         int64  `json:"file_count"`
	StorageLimitBytes int64  `json:"storage_limit_bytes"`
}

// stampFormat is fixed-width RFC3339 UTC with nanoseconds so that
// string comparison orders timestamps correctly. Message pagination
// relies on this lexicographic property.
const stampFormat = "2006-01-02T15:04:05.000000000Z"

func nowStamp() string {
	return time.Now().UTC().Format(stampFormat)
}

// ValidateFilename rejects names unusable as blob path components:
// empty, containing "..", or containing path separators.
func ValidateFilename(name string) error {
	if name == "" {
		return errors.New("filename must not be empty")
	}
	if strings.Contains(name, "..") {
		return errors.New("filename must not contain '..'")
	}
	if strings.ContainsAny(name, "/\\") {
		return errors.New("filename must not contain path separators")
	}
	return nil
}

// MimeFromExt derives a content type from a filename extension.
// Unknown extensions fall back to application/octet-stream.
func MimeFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
