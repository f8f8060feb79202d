package middleware

import (
	"net/http"

	"github.com/vodstream/vod-backend/api/responses"
	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
)

func RequireRole(role string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a route group to profiles with the admin role.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return RequireRole(string(enums.ProfileRoleAdmin), logg)
}
