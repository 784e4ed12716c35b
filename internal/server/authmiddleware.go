package server

import (
	"context"
	"net/http"

	"github.com/boerz-coding/camel/internal/auth"
	"github.com/boerz-coding/camel/internal/codec"
	"github.com/boerz-coding/camel/internal/domain"
)

// APIKeyContextKey is the context key for the authenticated API key.
const APIKeyContextKey contextKey = "api_key"

// AuthMiddleware validates bearer API keys and injects the matched key into
// the request context. If the authenticator is nil or has no keys, the
// middleware is a no-op.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authenticator == nil || authenticator.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				AddError(r.Context(), err)
				codec.WriteError(w, domain.ErrUnauthorized(err.Error()).WithCause(err))
				return
			}

			key, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				AddError(r.Context(), err)
				codec.WriteError(w, domain.ErrUnauthorized("invalid API key").WithCause(err))
				return
			}

			AddLogField(r.Context(), "api_key", key.Description)
			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKey retrieves the authenticated key from context.
func GetAPIKey(ctx context.Context) (auth.APIKey, bool) {
	key, ok := ctx.Value(APIKeyContextKey).(auth.APIKey)
	return key, ok
}
