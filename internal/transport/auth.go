package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/msdsdraft/model"
)

// BearerForwarder returns middleware that requires a bearer token and stores
// its claims in the request context. The token is issued for the workflow
// backend, which verifies it; here it is only read, unverified, to learn the
// subject and to reject expired sessions early with AUTH_EXPIRED. Opaque
// tokens pass through with empty claims.
func BearerForwarder(now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	parser := jwt.NewParser()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, r, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				WriteError(w, r, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}
			token = strings.TrimSpace(token)

			claims := jwt.MapClaims{}
			if _, _, err := parser.ParseUnverified(token, claims); err != nil {
				claims = jwt.MapClaims{}
			}
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && !now().Before(exp.Time) {
				WriteError(w, r, model.NewAuthExpiredError())
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			ctx = withToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
