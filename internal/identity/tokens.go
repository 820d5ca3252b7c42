// Package identity issues and verifies the bearer tokens that name a player.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quizroom-service/internal/domain"
)

const issuer = "quizroom"

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)

// Claims carries the player identity inside a JWT.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 identity tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (t *Tokens) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Issue signs a token for id.
func (t *Tokens) Issue(id domain.Identity) (string, error) {
	if !t.Enabled() {
		return "", errors.New("jwt secret not configured")
	}
	if id.UserID == "" || id.Username == "" {
		return "", fmt.Errorf("%w: userId and username are required", domain.ErrBadRequest)
	}
	now := t.now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Resolve verifies raw and returns the identity it carries.
func (t *Tokens) Resolve(raw string) (domain.Identity, error) {
	if !t.Enabled() {
		return domain.Identity{}, errors.New("jwt secret not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.Username == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing identity claims", ErrInvalidToken)
	}
	return domain.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
