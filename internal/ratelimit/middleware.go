package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"
)

// Middleware enforces the limiter on a route. The client IP comes from
// RemoteAddr, which the router's RealIP middleware has already rewritten from
// the forwarding headers.
func Middleware(l *Limiter, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			res := l.Check(r.Context(), route, ip)
			if !res.Allowed {
				retry := int(res.RetryAfter / time.Second)
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
