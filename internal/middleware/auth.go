package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/boffins/usermgmt/internal/models"
	apierrors "github.com/boffins/usermgmt/internal/pkg/errors"
	"github.com/boffins/usermgmt/internal/pkg/response"
	"github.com/boffins/usermgmt/internal/token"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// SubjectKey is the context key for the bearer token subject.
	SubjectKey contextKey = "token_subject"
	// RoleKey is the context key for the bearer token role.
	RoleKey contextKey = "token_role"
)

// RequireToken returns a middleware that authenticates requests with an
// HS256 bearer token. Any malformed, tampered, or expired token yields the
// same unauthorized response.
func RequireToken(issuer *token.Issuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			username, role, ok := issuer.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if !ok {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, username)
			ctx = context.WithValue(ctx, RoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTokenRole returns a middleware that restricts a token-authenticated
// route to one role. It must run after RequireToken.
func RequireTokenRole(role models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				response.Error(w, apierrors.NewForbiddenError("Access denied. "+string(role)+" role required."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext retrieves the token subject (username) from context.
func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(SubjectKey); v != nil {
		return v.(string)
	}
	return ""
}

// RoleFromContext retrieves the token role from context.
func RoleFromContext(ctx context.Context) models.Role {
	if v := ctx.Value(RoleKey); v != nil {
		return v.(models.Role)
	}
	return ""
}
