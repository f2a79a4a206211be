// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package identity resolves the authenticated player behind every save
// operation. Tokens are stateless HS256 JWTs minted at sign-in and
// verified on each API request; the extracted Identity travels on the
// request context so the gateway never sees raw tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrTokenExpired = errors.New("token is expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

// minSecretLength guards against trivially brute-forceable HMAC keys.
const minSecretLength = 32

// Identity is the authenticated player.
type Identity struct {
	// UID is the stable player identifier used in storage paths.
	UID string `json:"uid"`
	// Email is the sign-in address, if known.
	Email string `json:"email,omitempty"`
	// EmailVerified reports whether the address was confirmed.
	EmailVerified bool `json:"emailVerified"`
}

// Claims is the JWT payload carrying an Identity.
type Claims struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Manager mints and verifies player tokens. Uses HMAC-SHA256 signing;
// the secret must be at least 32 bytes.
type Manager struct {
	secret  []byte
	timeout time.Duration
	issuer  string
}

// NewManager builds a token manager. timeout bounds token lifetime and
// defaults to 24 hours when zero.
func NewManager(secret string, timeout time.Duration) (*Manager, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &Manager{
		secret:  []byte(secret),
		timeout: timeout,
		issuer:  "sawyers-rpg",
	}, nil
}

// Mint creates a signed token for the given identity.
func (m *Manager) Mint(id Identity) (string, error) {
	if id.UID == "" {
		return "", fmt.Errorf("identity has no uid")
	}
	now := time.Now()
	claims := &Claims{
		UID:           id.UID,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token string and returns the identity it carries.
// Rejects any signing algorithm other than HMAC to prevent algorithm
// confusion.
func (m *Manager) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UID == "" {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{
		UID:           claims.UID,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

type contextKey struct{}

// ContextWithIdentity attaches the identity to ctx.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity on ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
