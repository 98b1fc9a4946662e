package web

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

// userHeader carries the caller's identity, set by the gateway in front of the API.
const userHeader = "X-User-ID"

// withUser stores the caller from X-User-ID in the request context.
// Requests without the header run as an anonymous user.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(userHeader)); id != "" {
			ctx := core.ContextWithUserID(r.Context(), id)
			r = r.WithContext(logging.WithAttrs(ctx, "user_id", id))
		}
		next.ServeHTTP(w, r)
	})
}
