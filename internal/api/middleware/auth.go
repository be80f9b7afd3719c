package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/finclaw/agentd/internal/api"
	"github.com/finclaw/agentd/internal/domain"
)

type contextKey string

const ProfileKey contextKey = "profile"

// IdentityResolver resolves a bearer token to a caller profile.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Profile, error)
}

// BearerAuth verifies the Authorization header against the identity service
// and stores the resolved profile in the request context. Verification
// failures reject the request; a caller is never silently downgraded.
func BearerAuth(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			profile, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid session")
				return
			}

			ctx := context.WithValue(r.Context(), ProfileKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetProfile returns the resolved caller profile from context, nil when the
// request went through an unauthenticated surface.
func GetProfile(ctx context.Context) *domain.Profile {
	profile, _ := ctx.Value(ProfileKey).(*domain.Profile)
	return profile
}

// GetUserID returns the resolved caller id from context.
func GetUserID(ctx context.Context) string {
	if profile := GetProfile(ctx); profile != nil {
		return profile.ID
	}
	return ""
}
