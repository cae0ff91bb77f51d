package middleware

import "net/http"

// Allower reports without blocking whether one more request may proceed.
type Allower interface {
	TryAcquire() bool
}

// RateLimit rejects requests with 429 once limiter runs dry. A nil limiter
// disables the check.
func RateLimit(limiter Allower) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.TryAcquire() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
