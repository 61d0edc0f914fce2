package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sumire/authgate/internal/domain"
)

const accessTokenType = "access"

type accessTokenClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 access tokens. It performs no I/O.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec creates a TokenCodec. A nil now uses time.Now.
func NewTokenCodec(secret []byte, now func() time.Time) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{secret: secret, now: now}
}

// Issue signs claims valid for ttl from now. IssuedAt and ExpiresAt on the input are ignored.
func (c *TokenCodec) Issue(claims domain.AccessClaims, ttl time.Duration) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessTokenClaims{
		Email:     claims.Email,
		SessionID: claims.SessionID,
		Type:      accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry, with no leeway.
func (c *TokenCodec) Verify(tokenString string) (*domain.AccessClaims, error) {
	var claims accessTokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, domain.ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, domain.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	if claims.Type != accessTokenType || claims.Subject == "" || claims.SessionID == "" {
		return nil, domain.ErrInvalidToken
	}

	return &domain.AccessClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
