// Package middleware provides HTTP middleware for the relay server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// TenantIDKey is the context key for tenant ID.
	TenantIDKey ContextKey = "tenant_id"
)

// Claims represents JWT claims carried by a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// IdentityConfig controls how the identity middleware resolves the
// caller.
type IdentityConfig struct {
	JWTSecret   string
	DevUserID   string
	DevTenantID string
	Production  bool
}

// Identity resolves the (user, tenant) identity context for a request.
// Resolution order: bearer token claims, then explicit X-User-ID /
// X-Tenant-ID headers, then development defaults. In a production
// posture an unresolvable identity is a hard rejection; a present but
// invalid bearer token is rejected in any posture.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, tenantID, err := resolveIdentity(r, cfg)
			if err != nil {
				http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type identityError string

func (e identityError) Error() string { return string(e) }

const (
	errInvalidToken    = identityError("invalid token")
	errMissingIdentity = identityError("missing identity")
)

func resolveIdentity(r *http.Request, cfg IdentityConfig) (userID, tenantID string, err error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", "", errInvalidToken
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" || claims.TenantID == "" {
			return "", "", errInvalidToken
		}
		return claims.Subject, claims.TenantID, nil
	}

	userID = r.Header.Get("X-User-ID")
	tenantID = r.Header.Get("X-Tenant-ID")
	if userID != "" && tenantID != "" {
		return userID, tenantID, nil
	}

	if cfg.Production {
		return "", "", errMissingIdentity
	}
	return cfg.DevUserID, cfg.DevTenantID, nil
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetTenantID gets tenant ID from context.
func GetTenantID(ctx context.Context) string {
	if v := ctx.Value(TenantIDKey); v != nil {
		return v.(string)
	}
	return ""
}
