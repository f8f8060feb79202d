package callercontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/api/middleware"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/outbox"
)

// ResolveCallerID returns the authenticated user's id from the request context.
func ResolveCallerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// ResolveActor builds the outbox actor reference for the authenticated caller.
func ResolveActor(r *http.Request) (outbox.ActorRef, error) {
	id, err := ResolveCallerID(r)
	if err != nil {
		return outbox.ActorRef{}, err
	}
	return outbox.ActorRef{UserID: id, Role: middleware.RoleFromContext(r.Context())}, nil
}
