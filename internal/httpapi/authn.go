package httpapi

import (
	"net/http"
	"strings"

	"keygate.dev/internal/auth"
)

// publicPaths require no bearer token. Everything else on the mux expects an
// authenticated user.
var publicPaths = map[string]bool{
	"/healthz":                             true,
	"/readyz":                              true,
	"/metrics":                             true,
	"/openapi.yaml":                        true,
	"/v1/info":                             true,
	"/v1/auth/register":                    true,
	"/v1/auth/login":                       true,
	"/v1/auth/refresh":                     true,
	"/v1/auth/reset-password":              true,
	"/v1/auth/reset-password/otp":          true,
	"/v1/auth/reset-password/validate-otp": true,
	"/v1/auth/magic-link":                  true,
	"/v1/auth/magic-link/verify":           true,
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "missing credentials")
			return
		}
		user, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken pulls the access token from the Authorization header, falling
// back to the access_token cookie set by the auth handlers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if c, err := r.Cookie(accessCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
