package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vodstream/vod-backend/pkg/auth"
	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/db/models"
	"github.com/vodstream/vod-backend/pkg/enums"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{JWTSecret: "secret", Issuer: "issuer", Audience: "authenticated"}
}

type stubProfileResolver struct {
	role  enums.ProfileRole
	err   error
	calls int
	email string
}

func (s *stubProfileResolver) GetOrCreate(ctx context.Context, id uuid.UUID, email string) (*models.Profile, error) {
	s.calls++
	s.email = email
	if s.err != nil {
		return nil, s.err
	}
	return &models.Profile{ID: id, Role: s.role}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	resolver := &stubProfileResolver{role: enums.ProfileRoleUser}
	handler := Auth(testAuthConfig(), resolver, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if resolver.calls != 0 {
		t.Fatalf("expected no profile lookups, got %d", resolver.calls)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testAuthConfig(), &stubProfileResolver{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := testAuthConfig()
	userID := uuid.New()
	token, err := auth.MintIdentityToken(cfg, time.Now(), userID, "viewer@vod.test", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	resolver := &stubProfileResolver{role: enums.ProfileRoleAdmin}
	var captured struct {
		user  string
		role  string
		email string
	}
	handler := Auth(cfg, resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.email = EmailFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user != userID.String() {
		t.Fatalf("expected user %s got %s", userID, captured.user)
	}
	if captured.role != string(enums.ProfileRoleAdmin) {
		t.Fatalf("expected role admin got %s", captured.role)
	}
	if captured.email != "viewer@vod.test" || resolver.email != "viewer@vod.test" {
		t.Fatalf("expected email to propagate, got %q / %q", captured.email, resolver.email)
	}
}

func TestAuthProfileFailureIsInternal(t *testing.T) {
	cfg := testAuthConfig()
	token, err := auth.MintIdentityToken(cfg, time.Now(), uuid.New(), "", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	handler := Auth(cfg, &stubProfileResolver{err: errors.New("db down")}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(nil)(okHandler())

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.ProfileRoleUser)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/", nil)
	req = req.WithContext(WithRole(req.Context(), string(enums.ProfileRoleAdmin)))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
