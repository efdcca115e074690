// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/hearthnode/hearth/internal/logging"
)

// Relocate moves the entire install tree to a new directory using a
// copy-verify-rename sequence:
//
//  1. probe the target for writability and sufficient free space
//     (current usage plus the configured safety margin)
//  2. close the database and copy the tree recursively
//  3. verify the copy's file count and byte size are >= the source's
//  4. reopen the database at the new location and update the install
//     marker
//  5. rename the old tree to a timestamped backup, never delete it
//
// Any failure before the rename rolls back: the partial copy is
// removed and the original database reopened. A rename failure (for
// example cross-volume) leaves the old tree in place with a warning.
func (s *Store) Relocate(ctx context.Context, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newPath == "" || newPath == s.dataDir {
		return fmt.Errorf("%w: relocation target must differ from the current install path", ErrValidation)
	}

	if err := os.MkdirAll(newPath, 0o755); err != nil {
		return fmt.Errorf("failed to create relocation target: %w", err)
	}
	if err := probeWritable(newPath); err != nil {
		return fmt.Errorf("%w: target not writable: %s", ErrValidation, err)
	}

	srcBytes, srcCount, err := walkDirSize(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to measure current install: %w", err)
	}

	free, err := freeSpace(newPath)
	if err != nil {
		return fmt.Errorf("failed to check free space: %w", err)
	}
	if free < srcBytes+s.safetyBytes {
		return fmt.Errorf("%w: target has %d bytes free, need %d",
			ErrIntegrity, free, srcBytes+s.safetyBytes)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database for relocation: %w", err)
	}

	rollback := func(cause error) error {
		if rmErr := os.RemoveAll(newPath); rmErr != nil {
			logging.Warn().Err(rmErr).Str("path", newPath).Msg("failed to remove partial relocation copy")
		}
		db, openErr := openDB(s.dbPath)
		if openErr != nil {
			return fmt.Errorf("relocation failed (%w) and database reopen failed: %v", cause, openErr)
		}
		s.db = db
		return cause
	}

	if err := copyDirRecursive(s.dataDir, newPath); err != nil {
		return rollback(fmt.Errorf("failed to copy install tree: %w", err))
	}

	dstBytes, dstCount, err := walkDirSize(newPath)
	if err != nil {
		return rollback(fmt.Errorf("failed to measure relocation copy: %w", err))
	}
	if dstCount < srcCount || dstBytes < srcBytes {
		return rollback(fmt.Errorf("%w: copy has %d files/%d bytes, source has %d/%d",
			ErrIntegrity, dstCount, dstBytes, srcCount, srcBytes))
	}

	newDBPath := s.dbPath
	if rel, relErr := filepath.Rel(s.dataDir, s.dbPath); relErr == nil && !filepath.IsAbs(rel) {
		newDBPath = filepath.Join(newPath, rel)
	}

	db, err := openDB(newDBPath)
	if err != nil {
		return rollback(fmt.Errorf("failed to open relocated database: %w", err))
	}

	if err := WriteInstallMarker(newPath); err != nil {
		if closeErr := closeGorm(db); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("failed to close relocated database during rollback")
		}
		return rollback(fmt.Errorf("failed to update install marker: %w", err))
	}

	oldPath := s.dataDir
	s.dataDir = newPath
	s.dbPath = newDBPath
	s.db = db

	backup := fmt.Sprintf("%s_migrated_%s", oldPath, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(oldPath, backup); err != nil {
		logging.Warn().Err(err).Str("path", oldPath).
			Msg("could not rename old install tree, leaving it in place")
	} else {
		logging.Info().Str("backup", backup).Msg("old install tree renamed")
	}

	logging.Info().Str("from", oldPath).Str("to", newPath).Msg("storage relocated")
	return nil
}

func closeGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// probeWritable creates and removes a scratch file in dir.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".hearth-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// copyDirRecursive copies the tree at src into dst, which must exist.
func copyDirRecursive(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
