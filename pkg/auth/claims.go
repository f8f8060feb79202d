package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityClaims is the subset of the identity provider's access token we rely on.
// The subject is the user's id; role is resolved from the profile, not the token.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject into the profile id.
func (c *IdentityClaims) UserID() (uuid.UUID, error) {
	if c == nil || c.Subject == "" {
		return uuid.Nil, fmt.Errorf("token subject missing")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a uuid: %w", err)
	}
	return id, nil
}
