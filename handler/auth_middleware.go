package handler

import (
	"context"
	"net/http"
	"strings"

	"go-task-api/common"
	"go-task-api/model"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenParser verifies an access token and returns its claims.
type TokenParser interface {
	Parse(token string) (*model.AppClaims, error)
}

// WithIdentity returns a copy of ctx carrying the caller's identity.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity set by AuthMiddleware.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

// AuthMiddleware requires a valid bearer access token. Rejected requests
// are passed through onReject before the 401 is written, so a rate limiter
// there sees anonymous callers and can turn a flood into 429s.
func AuthMiddleware(parser TokenParser, onReject ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, r *http.Request, appErr *common.AppError) {
		send := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { appErr.Send(w) })
		Chain(send, onReject...).ServeHTTP(w, r)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject(w, r, common.NewAppError(http.StatusUnauthorized, "Authorization header is required", nil))
				return
			}

			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				reject(w, r, common.NewAppError(http.StatusUnauthorized, "Invalid authorization header format", nil))
				return
			}

			claims, err := parser.Parse(headerParts[1])
			if err != nil {
				reject(w, r, common.NewAppError(http.StatusUnauthorized, "Invalid or expired token", err))
				return
			}

			ctx := WithIdentity(r.Context(), model.Identity{
				ID:    claims.UserID,
				Email: claims.Email,
				Role:  claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects callers whose role does not grant p.
// It must run after AuthMiddleware.
func RequirePermission(p model.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || !id.Role.Can(p) {
				common.NewAppError(http.StatusForbidden, "Access denied. Missing permission "+string(p)+".", nil).Send(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
