// file: handler/ratelimit_middleware.go

package handler

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-task-api/common"
	"go-task-api/ratelimit"
)

// Admitter decides whether a request may proceed. *ratelimit.Guard satisfies it.
type Admitter interface {
	Admit(ctx context.Context, req ratelimit.Request, rule ratelimit.Rule) ratelimit.Decision
}

// RateLimitMiddleware enforces rule on route. Authenticated callers are
// limited per user, so it should run after AuthMiddleware on protected routes.
func RateLimitMiddleware(guard Admitter, route string, rule ratelimit.Rule, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := ratelimit.Request{
				RemoteAddr: ClientAddress(r, trustProxy),
				Method:     r.Method,
				Route:      route,
			}
			if id, ok := IdentityFromContext(r.Context()); ok {
				req.Subject = strconv.Itoa(id.ID)
			}

			d := guard.Admit(r.Context(), req, rule)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.UnixMilli(), 10))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.ResetAt)))
				common.SendTooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ClientAddress returns the caller's address. Proxy headers are only
// consulted when trustProxy is set.
func ClientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
