package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"commsdash/comms-api/internal/auth"
	"commsdash/comms-api/internal/messages"

	"go.uber.org/zap"
)

func registerAuthHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		sess, user, err := deps.Auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, http.StatusBadRequest, "invalid email or password")
				return
			}
			logFor(deps.Logger, r).Error("login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}

		setSessionCookie(w, deps.Cookie, sess.ID)
		writeJSON(w, http.StatusOK, map[string]any{
			"user":       user,
			"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("GET /me", withSession(deps, func(w http.ResponseWriter, _ *http.Request, v auth.Validation) {
		writeJSON(w, http.StatusOK, map[string]any{"user": v.User})
	}))

	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		sessionID := sessionCookieValue(r, deps.Cookie.Name)
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		if err := deps.Auth.Revoke(r.Context(), sessionID); err != nil {
			logFor(deps.Logger, r).Error("logout failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
		clearSessionCookie(w, deps.Cookie)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	})
}

func registerMessageHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /messages", withSession(deps, func(w http.ResponseWriter, r *http.Request, _ auth.Validation) {
		if deps.Messages == nil {
			writeError(w, http.StatusServiceUnavailable, "message service unavailable")
			return
		}
		params, ok := parseListParams(w, r)
		if !ok {
			return
		}

		items, err := deps.Messages.List(r.Context(), params)
		if err != nil {
			if errors.Is(err, messages.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, "invalid pagination parameters")
				return
			}
			logFor(deps.Logger, r).Error("list messages failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list messages failed")
			return
		}
		if params.Page > 1 && len(items) == 0 {
			writeError(w, http.StatusBadRequest, "page is out of range")
			return
		}
		writeJSON(w, http.StatusOK, items)
	}))

	mux.HandleFunc("GET /messages/{id}", withSession(deps, func(w http.ResponseWriter, r *http.Request, _ auth.Validation) {
		if deps.Messages == nil {
			writeError(w, http.StatusServiceUnavailable, "message service unavailable")
			return
		}
		id, ok := parseMessageID(w, r)
		if !ok {
			return
		}

		m, err := deps.Messages.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, messages.ErrNotFound) {
				writeError(w, http.StatusNotFound, "message not found")
				return
			}
			logFor(deps.Logger, r).Error("get message failed", zap.Int64("message_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get message failed")
			return
		}
		writeJSON(w, http.StatusOK, m)
	}))

	mux.HandleFunc("PUT /messages/{id}", withSession(deps, func(w http.ResponseWriter, r *http.Request, _ auth.Validation) {
		if deps.Messages == nil {
			writeError(w, http.StatusServiceUnavailable, "message service unavailable")
			return
		}
		id, ok := parseMessageID(w, r)
		if !ok {
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !messages.ValidStatus(req.Status) {
			writeError(w, http.StatusBadRequest, "please provide a valid status")
			return
		}

		if err := deps.Messages.UpdateStatus(r.Context(), id, req.Status); err != nil {
			if errors.Is(err, messages.ErrNotFound) {
				writeError(w, http.StatusNotFound, "message not found")
				return
			}
			logFor(deps.Logger, r).Error("update message failed", zap.Int64("message_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "update message failed")
			return
		}
		user, _ := UserFromContext(r.Context())
		logFor(deps.Logger, r).Info("message status updated",
			zap.Int64("message_id", id),
			zap.String("status", req.Status),
			zap.Int64("user_id", user.ID),
		)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Message updated"})
	}))

	mux.HandleFunc("GET /search", withSession(deps, func(w http.ResponseWriter, r *http.Request, _ auth.Validation) {
		if deps.Messages == nil {
			writeError(w, http.StatusServiceUnavailable, "message service unavailable")
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "please provide a search query")
			return
		}

		items, err := deps.Messages.Search(r.Context(), q)
		if err != nil {
			logFor(deps.Logger, r).Error("search messages failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}
		writeJSON(w, http.StatusOK, items)
	}))
}

func registerStatsHandlers(mux *http.ServeMux, deps Deps) {
	stats := func(actionedOnly bool) sessionHandler {
		return func(w http.ResponseWriter, r *http.Request, _ auth.Validation) {
			if deps.Messages == nil {
				writeError(w, http.StatusServiceUnavailable, "message service unavailable")
				return
			}
			counts, err := deps.Messages.MonthlyStats(r.Context(), deps.Now(), actionedOnly)
			if err != nil {
				logFor(deps.Logger, r).Error("message stats failed", zap.Bool("actioned_only", actionedOnly), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "stats failed")
				return
			}
			writeJSON(w, http.StatusOK, counts)
		}
	}

	mux.HandleFunc("GET /stats/total-messages", withSession(deps, stats(false)))
	mux.HandleFunc("GET /stats/total-message-actions", withSession(deps, stats(true)))
}

func parseListParams(w http.ResponseWriter, r *http.Request) (messages.ListParams, bool) {
	q := r.URL.Query()
	p := messages.ListParams{Order: strings.ToLower(q.Get("order"))}

	var err error
	if raw := q.Get("page"); raw != "" {
		if p.Page, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "page and page_size must be integers")
			return messages.ListParams{}, false
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if p.PageSize, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "page and page_size must be integers")
			return messages.ListParams{}, false
		}
	}
	// An explicit zero is out of range, not a request for the default.
	if (q.Has("page") && p.Page == 0) || (q.Has("page_size") && p.PageSize == 0) {
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return messages.ListParams{}, false
	}

	p, err = p.Normalize()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return messages.ListParams{}, false
	}
	return p, true
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func parseMessageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}
