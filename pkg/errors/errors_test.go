package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v84"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeSignature, status: http.StatusBadRequest, publicMsg: "webhook signature verification failed"},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil error should not be retryable")
	}
	if IsRetryable(New(CodeValidation, "bad payload")) {
		t.Fatalf("validation errors must not be retried")
	}
	if IsRetryable(New(CodeSignature, "bad signature")) {
		t.Fatalf("signature errors must not be retried")
	}
	if !IsRetryable(Wrap(CodeInternal, stdErrors.New("db down"), "store")) {
		t.Fatalf("internal errors should be retryable")
	}
	if !IsRetryable(stdErrors.New("untyped")) {
		t.Fatalf("untyped errors default to retryable")
	}
}

func TestDumpSurfacesStripeFields(t *testing.T) {
	stripeErr := &stripe.Error{
		Type:           stripe.ErrorTypeInvalidRequest,
		Code:           stripe.ErrorCodeResourceMissing,
		HTTPStatusCode: http.StatusNotFound,
		RequestID:      "req_123",
		Param:          "subscription",
	}
	err := Wrap(CodeDependency, fmt.Errorf("fetch subscription: %w", stripeErr), "fetch stripe subscription")

	dump := Dump(err)
	if dump.Code != CodeDependency || !dump.Retryable {
		t.Fatalf("unexpected code/retryable: %+v", dump)
	}
	if dump.StripeType != "invalid_request_error" || dump.StripeCode != "resource_missing" {
		t.Fatalf("unexpected stripe type/code: %+v", dump)
	}
	if dump.StripeStatus != http.StatusNotFound || dump.StripeRequestID != "req_123" || dump.StripeParam != "subscription" {
		t.Fatalf("unexpected stripe fields: %+v", dump)
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %v", dump.Chain)
	}
}

func TestDumpNil(t *testing.T) {
	if dump := Dump(nil); dump.TopMessage != "" || dump.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", dump)
	}
}
