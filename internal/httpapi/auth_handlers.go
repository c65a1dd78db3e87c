package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schoolgate.org/internal/audit"
	"schoolgate.org/internal/auth"
	"schoolgate.org/internal/lockout"
	"schoolgate.org/internal/session"
)

// loginMeta is client-reported attribution. The reported ip is accepted but
// never trusted; the connection's address wins.
type loginMeta struct {
	Device  string `json:"device,omitempty"`
	Browser string `json:"browser,omitempty"`
	IP      string `json:"ip,omitempty"`
}

type loginRequest struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	Role     string    `json:"role,omitempty"`
	Meta     loginMeta `json:"clientMeta"`
}

type loginUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
}

type loginResponse struct {
	User      loginUser `json:"user"`
	ExpiresAt string    `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.auth.Login(r.Context(), auth.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		RoleHint: req.Role,
		Meta: session.ClientMeta{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			Device:    strings.TrimSpace(req.Meta.Device),
			Browser:   strings.TrimSpace(req.Meta.Browser),
		},
	})
	if err != nil {
		handleLoginError(w, r, err)
		return
	}

	a.sessions.SetCookie(w, res.Token, res.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		User: loginUser{
			ID:       res.Identity.ID,
			Username: res.Identity.Username,
			Role:     string(res.Identity.Role),
			Name:     res.Identity.Name,
			Surname:  res.Identity.Surname,
		},
		ExpiresAt: res.Session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func handleLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *lockout.LockedOutError
	switch {
	case errors.As(err, &locked):
		seconds := int(math.Ceil(locked.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		payload := map[string]any{
			"error":               "too many failed attempts",
			"retry_after_seconds": seconds,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusTooManyRequests, payload)
	case errors.Is(err, auth.ErrInvalidCredentials):
		payload := map[string]any{
			"error": "invalid credentials",
		}
		var ice *auth.InvalidCredentialsError
		if errors.As(err, &ice) {
			payload["remaining_attempts"] = ice.RemainingAttempts
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnauthorized, payload)
	case errors.Is(err, audit.ErrWriteFailed):
		writeError(w, r, http.StatusInternalServerError, "audit trail unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "login failed")
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	// The cookie is cleared whether or not a record was found. Must happen
	// before the status line goes out.
	a.sessions.ClearCookie(w)

	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		token = sessionToken(r)
	}
	if token != "" {
		if err := a.auth.Logout(r.Context(), token); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity_id": principal.IdentityID,
		"username":    principal.Username,
		"role":        string(principal.Role),
		"session_id":  principal.SessionID,
	})
}

type preferencesRequest struct {
	Theme    string `json:"theme,omitempty"`
	Language string `json:"language,omitempty"`
}

// handlePreferences is the permission-gated mutation this service owns:
// matrix check first, then the UPDATE_PREFERENCES audit entry with the
// change payload. An audit failure aborts the update.
func (a *API) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := a.requirePermission(w, r, "preferences", "update")
	if !ok {
		return
	}
	var req preferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	changes := map[string]any{}
	if req.Theme != "" {
		changes["theme"] = req.Theme
	}
	if req.Language != "" {
		changes["language"] = req.Language
	}
	if len(changes) == 0 {
		writeError(w, r, http.StatusBadRequest, "no preference changes supplied")
		return
	}

	meta := session.ClientMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
	if err := a.auth.RecordMutation(r.Context(), principal, audit.ActionUpdatePreferences, "preferences", principal.IdentityID, changes, meta); err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit trail unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": changes})
}
