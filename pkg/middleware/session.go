package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lunebijoux/storefront/pkg/logger"
)

// SessionHeader identifies the shopper's cart across requests.
const SessionHeader = "X-Session-ID"

type sessionKey struct{}

// Session reads the cart session id from X-Session-ID. A missing or
// malformed id starts a fresh session; the id in effect is echoed back so
// the page can store it.
func Session() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(SessionHeader, id)

			ctx := context.WithValue(r.Context(), sessionKey{}, id)
			ctx = logger.WithSessionID(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionIDFromContext returns the session id set by Session, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
