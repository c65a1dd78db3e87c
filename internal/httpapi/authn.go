package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"schoolgate.org/internal/auth"
	"schoolgate.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withSession resolves the session token (cookie first, bearer header as a
// fallback for non-browser clients) into a context principal. Requests
// without a valid session pass through anonymous; individual handlers decide
// whether that is acceptable.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := a.auth.Validate(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrInvalid) {
				// Stale cookie: drop it so the client stops resending.
				a.sessions.ClearCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), *principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePrincipal rejects anonymous requests with an explicit 401.
func (a *API) requirePrincipal(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="schoolgate"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return session.Principal{}, false
	}
	return principal, true
}

// requirePermission enforces the matrix before any state-changing handler
// runs. Denials are always explicit 403s, never silently-empty results.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, resource, action string) (session.Principal, bool) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return session.Principal{}, false
	}
	if !a.matrix.Allows(principal.Role, resource, action) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return session.Principal{}, false
	}
	return principal, true
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
