package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintIdentityToken issues a token shaped like the identity provider's, for local tooling and tests.
func MintIdentityToken(cfg config.AuthConfig, now time.Time, userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if userID == uuid.Nil {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	claims := IdentityClaims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseIdentityToken validates the bearer token and returns typed claims.
// Issuer and audience are only enforced when configured.
func ParseIdentityToken(cfg config.AuthConfig, tokenString string) (*IdentityClaims, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		},
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
