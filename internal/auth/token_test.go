// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package auth

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hearthnode/hearth/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func newTestManager(t *testing.T, ttl time.Duration) *TokenManager {
	t.Helper()
	m, err := NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), ttl)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func TestNewTokenManagerRejectsEmptySecret(t *testing.T) {
	if _, err := NewTokenManager(nil, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestNewTokenManagerTTLHandling(t *testing.T) {
	if m := newTestManager(t, 0); m.ttl != SessionTTL {
		t.Errorf("zero ttl = %v, want SessionTTL default", m.ttl)
	}

	// A negative ttl is kept as-is: the token comes out expired and
	// Verify must reject it.
	m := newTestManager(t, -time.Minute)
	token, expiresAt, err := m.Issue("user-1", "ada", false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Before(time.Now()) {
		t.Errorf("expiresAt %v is not in the past", expiresAt)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(expired) err = %v, want ErrInvalidToken", err)
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t, time.Hour)

	token, expiresAt, err := m.Issue("user-1", "ada", true)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if until := time.Until(expiresAt); until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("expiresAt %v not about an hour out", expiresAt)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.Username != "ada" {
		t.Errorf("username = %q, want ada", claims.Username)
	}
	if !claims.IsAdmin {
		t.Error("is_admin lost in round trip")
	}
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	m := newTestManager(t, time.Hour)

	otherSecret, err := NewTokenManager([]byte("another-secret-another-secret-xx"), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	valid, _, err := m.Issue("user-1", "ada", false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	foreign, _, err := otherSecret.Issue("user-1", "ada", false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Same secret with negative ttl, so only the expiry can fail.
	expiredToken, _, err := newTestManager(t, -time.Minute).Issue("user-1", "ada", false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"empty", ""},
		{"wrong signature", foreign},
		{"tampered payload", tamper(valid)},
		{"expired", expiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify(%s) err = %v, want ErrInvalidToken", tt.name, err)
			}
		})
	}
}

// tamper flips a character in the payload segment.
func tamper(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || len(parts[1]) == 0 {
		return token + "x"
	}
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"empty header", "", "", false},
		{"no scheme", "abc.def.ghi", "", false},
		{"wrong scheme", "Basic abc", "", false},
		{"scheme only", "Bearer ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractBearer(tt.header)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractBearer(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}
