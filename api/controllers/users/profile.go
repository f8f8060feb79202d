package users

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/api/controllers/callercontext"
	"github.com/vodstream/vod-backend/api/responses"
	"github.com/vodstream/vod-backend/api/validators"
	"github.com/vodstream/vod-backend/internal/profiles"
	"github.com/vodstream/vod-backend/pkg/enums"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
)

type setSubscriptionRequest struct {
	Tier   string `json:"subscription_tier" validate:"required,oneof=free basic standard premium"`
	Status string `json:"subscription_status" validate:"required,oneof=active inactive past_due cancelled expired"`
}

func Me(svc profiles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile service unavailable"))
			return
		}
		userID, err := callercontext.ResolveCallerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		profile, err := svc.Me(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}

// MySubscription returns the caller's entitlement and latest subscription row.
func MySubscription(svc profiles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile service unavailable"))
			return
		}
		userID, err := callercontext.ResolveCallerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entitlement, err := svc.Entitlement(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entitlement)
	}
}

// AdminSetSubscription overrides a user's tier and status outside of Stripe.
func AdminSetSubscription(svc profiles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profile service unavailable"))
			return
		}
		actor, err := callercontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		targetID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		var payload setSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		profile, err := svc.SetEntitlement(r.Context(), actor, targetID, profiles.SetEntitlementInput{
			Tier:   enums.SubscriptionTier(payload.Tier),
			Status: enums.ProfileSubscriptionStatus(payload.Status),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profile)
	}
}
