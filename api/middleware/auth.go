package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/api/responses"
	pkgAuth "github.com/vodstream/vod-backend/pkg/auth"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/db/models"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
)

// ProfileResolver loads (or lazily provisions) the profile behind a verified identity.
type ProfileResolver interface {
	GetOrCreate(ctx context.Context, id uuid.UUID, email string) (*models.Profile, error)
}

// Auth validates the identity provider's bearer token and seeds the request
// context with the caller's id, email and profile role.
func Auth(cfg config.AuthConfig, profiles ProfileResolver, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseIdentityToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token subject"))
				return
			}

			role := ""
			if profiles != nil {
				profile, err := profiles.GetOrCreate(r.Context(), userID, claims.Email)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load profile"))
					return
				}
				role = string(profile.Role)
			}

			ctx := WithUserID(r.Context(), userID.String())
			ctx = WithRole(ctx, role)
			ctx = WithEmail(ctx, claims.Email)

			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
				if role != "" {
					ctx = logg.WithRole(ctx, role)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
