package httpserver

import (
	"context"
	"net/http"

	"commsdash/comms-api/internal/auth"

	"go.uber.org/zap"
)

type userKey struct{}

// UserFromContext returns the principal attached by withSession.
func UserFromContext(ctx context.Context) (auth.User, bool) {
	u, ok := ctx.Value(userKey{}).(auth.User)
	return u, ok
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, v auth.Validation)

// withSession resolves the session cookie once and hands the result to next.
// Requests without a live session never reach next.
func withSession(deps Deps, next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := requireSession(w, r, deps)
		if !ok {
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), userKey{}, v.User))
		next(w, r, v)
	}
}

// requireSession writes the response itself when it returns false. A missing
// cookie and a session that is unknown, expired, or orphaned all produce the
// same 401 body.
func requireSession(w http.ResponseWriter, r *http.Request, deps Deps) (auth.Validation, bool) {
	if deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return auth.Validation{}, false
	}
	sessionID := sessionCookieValue(r, deps.Cookie.Name)
	if sessionID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return auth.Validation{}, false
	}

	v, err := deps.Auth.Validate(r.Context(), sessionID)
	if err != nil {
		logFor(deps.Logger, r).Error("session validation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return auth.Validation{}, false
	}
	if !v.OK {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return auth.Validation{}, false
	}
	return v, true
}

func sessionCookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
