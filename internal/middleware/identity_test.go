package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func identityRequest(t *testing.T, cfg IdentityConfig, mutate func(*http.Request)) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var userID, tenantID string
	h := Identity(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = GetUserID(r.Context())
		tenantID = GetTenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, userID, tenantID
}

func signToken(t *testing.T, secret, subject, tenantID string) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestIdentityDevDefaults(t *testing.T) {
	cfg := IdentityConfig{DevUserID: "dev-user", DevTenantID: "dev-tenant"}
	rec, userID, tenantID := identityRequest(t, cfg, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if userID != "dev-user" || tenantID != "dev-tenant" {
		t.Fatalf("dev defaults not applied: user=%q tenant=%q", userID, tenantID)
	}
}

func TestIdentityProductionRequiresIdentity(t *testing.T) {
	cfg := IdentityConfig{DevUserID: "dev-user", DevTenantID: "dev-tenant", Production: true}
	rec, _, _ := identityRequest(t, cfg, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentityHeaders(t *testing.T) {
	cfg := IdentityConfig{Production: true}
	rec, userID, tenantID := identityRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("X-User-ID", "user-1")
		r.Header.Set("X-Tenant-ID", "tenant-1")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if userID != "user-1" || tenantID != "tenant-1" {
		t.Fatalf("header identity not applied: user=%q tenant=%q", userID, tenantID)
	}
}

func TestIdentityBearerToken(t *testing.T) {
	cfg := IdentityConfig{JWTSecret: testSecret, Production: true}
	token := signToken(t, testSecret, "user-7", "tenant-7")
	rec, userID, tenantID := identityRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if userID != "user-7" || tenantID != "tenant-7" {
		t.Fatalf("claims not applied: user=%q tenant=%q", userID, tenantID)
	}
}

func TestIdentityBearerTokenOverridesHeaders(t *testing.T) {
	cfg := IdentityConfig{JWTSecret: testSecret}
	token := signToken(t, testSecret, "claim-user", "claim-tenant")
	_, userID, tenantID := identityRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("X-User-ID", "header-user")
		r.Header.Set("X-Tenant-ID", "header-tenant")
	})
	if userID != "claim-user" || tenantID != "claim-tenant" {
		t.Fatalf("token claims should win over headers: user=%q tenant=%q", userID, tenantID)
	}
}

func TestIdentityInvalidTokenRejectedInDev(t *testing.T) {
	// A present but bad token is rejected even when dev defaults exist.
	cfg := IdentityConfig{JWTSecret: testSecret, DevUserID: "dev-user", DevTenantID: "dev-tenant"}
	bad := signToken(t, "wrong-secret", "user-7", "tenant-7")
	rec, _, _ := identityRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+bad)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentityMalformedAuthorizationHeader(t *testing.T) {
	cfg := IdentityConfig{JWTSecret: testSecret}
	rec, _, _ := identityRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentityTokenMissingTenant(t *testing.T) {
	cfg := IdentityConfig{JWTSecret: testSecret}
	token := signToken(t, testSecret, "user-7", "")
	rec, _, _ := identityRequest(t, cfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
