// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package store

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/hearthnode/hearth/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// newTestStore opens a store on a fresh temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

// mustUser creates a user with a throwaway hash.
func mustUser(t *testing.T, s *Store, username string, admin bool) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, username+"@example.com", "$2a$12$fakehashfakehashfakehash", admin)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}

func TestSigningSecretIsStable(t *testing.T) {
	s := newTestStore(t)

	first, err := s.SigningSecret()
	if err != nil {
		t.Fatalf("SigningSecret: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(first))
	}

	second, err := s.SigningSecret()
	if err != nil {
		t.Fatalf("SigningSecret: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("secret changed between loads")
	}
}

func TestSigningSecretDiffersPerInstall(t *testing.T) {
	a, err := newTestStore(t).SigningSecret()
	if err != nil {
		t.Fatalf("SigningSecret: %v", err)
	}
	b, err := newTestStore(t).SigningSecret()
	if err != nil {
		t.Fatalf("SigningSecret: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two installs share a signing secret")
	}
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error for empty data dir")
	}
}
