// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"gorm.io/gorm"
)

// SaveNodeConfig writes the singleton node configuration row.
func (s *Store) SaveNodeConfig(ctx context.Context, cfg *NodeConfig) error {
	if cfg.NodeID == "" || cfg.Name == "" {
		return fmt.Errorf("%w: node id and name are required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowStamp()
	cfg.ID = 1
	cfg.UpdatedAt = now
	if cfg.CreatedAt == "" {
		cfg.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("failed to save node config: %w", err)
	}
	return nil
}

// GetNodeConfig returns the node configuration, or ErrNotFound while
// the node is still unconfigured.
func (s *Store) GetNodeConfig(ctx context.Context) (*NodeConfig, error) {
	var cfg NodeConfig
	err := s.db.WithContext(ctx).First(&cfg, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node config: %w", err)
	}
	return &cfg, nil
}

// UpdateResourceLimits sets the storage and CPU quotas.
func (s *Store) UpdateResourceLimits(ctx context.Context, storageLimitBytes int64, cpuLimitPercent int) error {
	return s.updateNodeConfig(ctx, map[string]interface{}{
		"storage_limit_bytes": storageLimitBytes,
		"cpu_limit_percent":   cpuLimitPercent,
	})
}

// UpdateAutoStart sets whether the node starts with the desktop session.
func (s *Store) UpdateAutoStart(ctx context.Context, autoStart bool) error {
	return s.updateNodeConfig(ctx, map[string]interface{}{"auto_start": autoStart})
}

// UpdateBackgroundMode sets whether the node keeps serving when the
// desktop window closes.
func (s *Store) UpdateBackgroundMode(ctx context.Context, background bool) error {
	return s.updateNodeConfig(ctx, map[string]interface{}{"background_mode": background})
}

func (s *Store) updateNodeConfig(ctx context.Context, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields["updated_at"] = nowStamp()
	res := s.db.WithContext(ctx).Model(&NodeConfig{}).Where("id = ?", 1).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update node config: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// StorageStatus walks the install tree and reports usage against the
// configured limit. Limit is zero when the node is unconfigured.
func (s *Store) StorageStatus(ctx context.Context) (*StorageStatus, error) {
	used, count, err := walkDirSize(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to measure storage: %w", err)
	}

	status := &StorageStatus{
		InstallPath: s.dataDir,
		UsedBytes:   used,
		FileCount:   count,
	}
	if cfg, err := s.GetNodeConfig(ctx); err == nil {
		status.StorageLimitBytes = cfg.StorageLimitBytes
	}
	return status, nil
}

// walkDirSize returns total bytes and regular-file count under root.
func walkDirSize(root string) (int64, int64, error) {
	var bytes, count int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		count++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return bytes, count, nil
}

// SaveTunnelConfig writes the singleton tunnel configuration row.
func (s *Store) SaveTunnelConfig(ctx context.Context, cfg *TunnelConfig) error {
	if cfg.Mode == "" {
		return fmt.Errorf("%w: tunnel mode is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.ID = 1
	if cfg.CreatedAt == "" {
		cfg.CreatedAt = nowStamp()
	}
	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("failed to save tunnel config: %w", err)
	}
	return nil
}

// GetTunnelConfig returns the persisted tunnel configuration, or
// ErrNotFound when no tunnel has been configured.
func (s *Store) GetTunnelConfig(ctx context.Context) (*TunnelConfig, error) {
	var cfg TunnelConfig
	err := s.db.WithContext(ctx).First(&cfg, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tunnel config: %w", err)
	}
	return &cfg, nil
}

// ClearTunnelConfig removes the persisted tunnel configuration.
func (s *Store) ClearTunnelConfig(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Delete(&TunnelConfig{}, "id = ?", 1).Error; err != nil {
		return fmt.Errorf("failed to clear tunnel config: %w", err)
	}
	return nil
}
