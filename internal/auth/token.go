// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the single error returned for every token
// verification failure: bad signature, malformed input, wrong signing
// method, or expiry. Callers must not be able to distinguish these.
var ErrInvalidToken = errors.New("invalid or expired token")

// SessionTTL is the default lifetime of an issued token.
const SessionTTL = 7 * 24 * time.Hour

// Claims is the JWT claim set carried by a Hearth session token.
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256-signed session tokens.
//
// The signing secret is a per-installation value generated once and
// persisted by the store; it is injected here as an immutable slice.
// Constructing a manager without a secret fails fast so that a token
// operation can never run unsigned.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a token manager with the given signing secret.
// A zero ttl falls back to SessionTTL; a negative ttl is preserved and
// issues already-expired tokens.
func NewTokenManager(secret []byte, ttl time.Duration) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("token manager requires a signing secret")
	}
	if ttl == 0 {
		ttl = SessionTTL
	}
	return &TokenManager{secret: secret, ttl: ttl}, nil
}

// Issue signs a token for the given user identity.
//
// Claims: subject=userID, username, is_admin, issued-at=now,
// expires-at=now+ttl. Returns the compact token and its expiry.
func (m *TokenManager) Issue(userID, username string, isAdmin bool) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, returning its claims.
// Every failure mode collapses into ErrInvalidToken.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearer strips a "Bearer " prefix from an Authorization header.
// Anything else yields ("", false).
func ExtractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}
