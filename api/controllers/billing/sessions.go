package billing

import (
	"net/http"

	"github.com/vodstream/vod-backend/api/controllers/callercontext"
	"github.com/vodstream/vod-backend/api/middleware"
	"github.com/vodstream/vod-backend/api/responses"
	"github.com/vodstream/vod-backend/api/validators"
	billingsvc "github.com/vodstream/vod-backend/internal/billing"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
)

type checkoutSessionRequest struct {
	PriceID string `json:"price_id" validate:"required,max=255"`
}

// CreateCheckoutSession starts a hosted subscription checkout for the caller.
func CreateCheckoutSession(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := callercontext.ResolveCallerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		priceID := validators.SanitizeString(payload.PriceID, 255)
		if priceID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "price_id is required"))
			return
		}

		session, err := svc.CreateCheckoutSession(r.Context(), userID, middleware.EmailFromContext(r.Context()), priceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// CreatePortalSession opens the hosted billing portal for the caller's customer.
func CreatePortalSession(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := callercontext.ResolveCallerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreatePortalSession(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}
