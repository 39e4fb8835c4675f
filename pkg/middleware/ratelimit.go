package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/ratelimit"
)

// RateLimit rejects requests with 429 once the bucket for key(r) is empty.
// An empty key is not limited.
func RateLimit(limiter *ratelimit.Limiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || limiter.Allow(k) {
				next.ServeHTTP(w, r)
				return
			}
			retry := int(math.Ceil(limiter.RetryAfter(k).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
		})
	}
}
