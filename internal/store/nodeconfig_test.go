// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"context"
	"errors"
	"testing"
)

func TestNodeConfigLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetNodeConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("unconfigured node err = %v, want ErrNotFound", err)
	}
	// Preference updates before init fail the same way.
	if err := s.UpdateAutoStart(ctx, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAutoStart before init err = %v, want ErrNotFound", err)
	}

	if err := s.SaveNodeConfig(ctx, &NodeConfig{NodeID: "node-1", Name: "living-room"}); err != nil {
		t.Fatalf("SaveNodeConfig: %v", err)
	}
	if err := s.SaveNodeConfig(ctx, &NodeConfig{Name: "nameless"}); !errors.Is(err, ErrValidation) {
		t.Errorf("SaveNodeConfig without id err = %v, want ErrValidation", err)
	}

	if err := s.UpdateResourceLimits(ctx, 1<<30, 50); err != nil {
		t.Fatalf("UpdateResourceLimits: %v", err)
	}
	if err := s.UpdateAutoStart(ctx, true); err != nil {
		t.Fatalf("UpdateAutoStart: %v", err)
	}
	if err := s.UpdateBackgroundMode(ctx, true); err != nil {
		t.Fatalf("UpdateBackgroundMode: %v", err)
	}

	cfg, err := s.GetNodeConfig(ctx)
	if err != nil {
		t.Fatalf("GetNodeConfig: %v", err)
	}
	if cfg.NodeID != "node-1" || cfg.Name != "living-room" {
		t.Errorf("identity = %s/%s", cfg.NodeID, cfg.Name)
	}
	if cfg.StorageLimitBytes != 1<<30 || cfg.CPULimitPercent != 50 {
		t.Errorf("limits = %d/%d", cfg.StorageLimitBytes, cfg.CPULimitPercent)
	}
	if !cfg.AutoStart || !cfg.BackgroundMode {
		t.Errorf("prefs = %v/%v", cfg.AutoStart, cfg.BackgroundMode)
	}
}

func TestStorageStatusCountsBlobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "ada", false)

	if _, err := s.UploadFile(ctx, u.ID, "a.txt", []byte("12345"), false); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	status, err := s.StorageStatus(ctx)
	if err != nil {
		t.Fatalf("StorageStatus: %v", err)
	}
	if status.InstallPath != s.DataDir() {
		t.Errorf("install path = %s", status.InstallPath)
	}
	// The database file plus the blob.
	if status.FileCount < 2 {
		t.Errorf("file count = %d, want at least 2", status.FileCount)
	}
	if status.UsedBytes < 5 {
		t.Errorf("used bytes = %d, want at least 5", status.UsedBytes)
	}
	if status.StorageLimitBytes != 0 {
		t.Errorf("limit = %d, want 0 before init", status.StorageLimitBytes)
	}
}

func TestTunnelConfigLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetTunnelConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("unset tunnel err = %v, want ErrNotFound", err)
	}
	if err := s.SaveTunnelConfig(ctx, &TunnelConfig{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty mode err = %v, want ErrValidation", err)
	}

	if err := s.SaveTunnelConfig(ctx, &TunnelConfig{
		Mode:      TunnelModeNamed,
		TunnelID:  "t-1",
		Hostname:  "hub.example.com",
		LocalPort: 8420,
	}); err != nil {
		t.Fatalf("SaveTunnelConfig: %v", err)
	}

	cfg, err := s.GetTunnelConfig(ctx)
	if err != nil {
		t.Fatalf("GetTunnelConfig: %v", err)
	}
	if cfg.Mode != TunnelModeNamed || cfg.Hostname != "hub.example.com" {
		t.Errorf("config = %+v", cfg)
	}

	// Switching to quick replaces the singleton row.
	if err := s.SaveTunnelConfig(ctx, &TunnelConfig{Mode: TunnelModeQuick, LocalPort: 8420}); err != nil {
		t.Fatalf("SaveTunnelConfig(quick): %v", err)
	}
	cfg, err = s.GetTunnelConfig(ctx)
	if err != nil {
		t.Fatalf("GetTunnelConfig: %v", err)
	}
	if cfg.Mode != TunnelModeQuick {
		t.Errorf("mode = %s, want quick", cfg.Mode)
	}

	if err := s.ClearTunnelConfig(ctx); err != nil {
		t.Fatalf("ClearTunnelConfig: %v", err)
	}
	if _, err := s.GetTunnelConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("cleared tunnel err = %v, want ErrNotFound", err)
	}
}

func TestValidateFilename(t *testing.T) {
	valid := []string{"a.txt", "photo 1.jpg", "UPPER.PDF", "no-ext"}
	for _, name := range valid {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("ValidateFilename(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "..", "a/b.txt", `a\b.txt`, "../up.txt", "a..b"}
	for _, name := range invalid {
		if err := ValidateFilename(name); err == nil {
			t.Errorf("ValidateFilename(%q) = nil, want error", name)
		}
	}
}
