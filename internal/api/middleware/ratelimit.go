package middleware

import (
	"net/http"
	"strconv"

	"github.com/finclaw/agentd/internal/api"
	"github.com/finclaw/agentd/internal/ratelimit"
)

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// UserKey keys the limit on the authenticated caller, falling back to the
// client IP when the request is unauthenticated.
func UserKey(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return userID
	}
	return clientIP(r)
}

// IPKey keys the limit on the client IP. Used on the public surface where
// there is no caller identity.
func IPKey(r *http.Request) string {
	return clientIP(r)
}

// RateLimit rejects requests over the limiter's window budget with 429 and a
// Retry-After hint. Each surface carries its own Limiter instance so public
// traffic cannot exhaust the authenticated budget.
func RateLimit(limiter *ratelimit.Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Check(key(r))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				// Ceiling so a 1ms residue still tells clients to wait.
				retryAfter := (result.ResetMs + 999) / 1000
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				api.Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
