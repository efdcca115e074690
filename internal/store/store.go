// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hearthnode/hearth/internal/logging"
)

// signingSecretKey is the app_secrets row holding the token secret.
const signingSecretKey = "jwt_secret"

// Options configures a Store.
type Options struct {
	// DataDir is the install root. The database and blob directory live
	// below it unless DBPath overrides the database location.
	DataDir string
	// BlobSubdir is the directory under DataDir for file contents.
	// Defaults to "files".
	BlobSubdir string
	// DBPath overrides the default <DataDir>/hearth.db.
	DBPath string
	// RelocateSafetyBytes is extra free space required beyond current
	// usage before a relocation proceeds.
	RelocateSafetyBytes int64
}

// Store is the persistence layer. All mutating operations serialize on
// mu, giving the single-logical-writer discipline the rest of the node
// assumes. The lock is never exposed across the package boundary.
type Store struct {
	mu sync.Mutex
	db *gorm.DB

	dataDir     string
	blobSubdir  string
	dbPath      string
	safetyBytes int64
}

// Open creates directories, opens the SQLite database and runs
// migrations.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrValidation)
	}
	if opts.BlobSubdir == "" {
		opts.BlobSubdir = "files"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(opts.DataDir, "hearth.db")
	}

	s := &Store{
		dataDir:     opts.DataDir,
		blobSubdir:  opts.BlobSubdir,
		dbPath:      dbPath,
		safetyBytes: opts.RelocateSafetyBytes,
	}

	if err := os.MkdirAll(s.BlobDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	s.db = db

	logging.Info().Str("data_dir", opts.DataDir).Str("db", dbPath).Msg("store opened")
	return s, nil
}

func openDB(path string) (*gorm.DB, error) {
	// SQLite enforces foreign keys per connection only when the pragma
	// is on; without it the OnDelete:CASCADE constraints never fire.
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Space{},
		&File{},
		&Conversation{},
		&ConversationMember{},
		&Message{},
		&MessageAttachment{},
		&NodeConfig{},
		&TunnelConfig{},
		&AppSecret{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DataDir returns the install root.
func (s *Store) DataDir() string { return s.dataDir }

// BlobDir returns the directory holding file contents.
func (s *Store) BlobDir() string { return filepath.Join(s.dataDir, s.blobSubdir) }

// blobPath maps a validated filename to its on-disk location.
func (s *Store) blobPath(name string) string {
	return filepath.Join(s.BlobDir(), name)
}

// SigningSecret loads the per-installation token signing secret,
// generating and persisting 32 random bytes (hex-encoded) on first use.
// The returned value is immutable for the lifetime of the install; a
// caller constructs the token manager with it exactly once at startup.
func (s *Store) SigningSecret() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row AppSecret
	err := s.db.First(&row, "key = ?", signingSecretKey).Error
	if err == nil {
		return []byte(row.Value), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load signing secret: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	row = AppSecret{Key: signingSecretKey, Value: hex.EncodeToString(raw)}
	if err := s.db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to persist signing secret: %w", err)
	}
	logging.Info().Msg("generated new installation signing secret")
	return []byte(row.Value), nil
}

// InstallMarkerPath returns the platform application-data location of
// the one-line marker file recording the active install path.
func InstallMarkerPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(base, "hearth", "install_path.txt"), nil
}

// WriteInstallMarker records the active install path so the node can
// self-locate on restart.
func WriteInstallMarker(installPath string) error {
	marker, err := InstallMarkerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	if err := os.WriteFile(marker, []byte(installPath+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write install marker: %w", err)
	}
	return nil
}

// ReadInstallMarker returns the recorded install path, or "" when no
// marker exists yet.
func ReadInstallMarker() (string, error) {
	marker, err := InstallMarkerPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read install marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
