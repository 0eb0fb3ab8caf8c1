package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"zfsman/db"
	"zfsman/envz"
	"zfsman/logger"
)

type contextKey string

const usernameKey contextKey = "username"

const sessionCookie = "session"

func loginHandler(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ok, err := db.CheckCredentials(req.Username, req.Password)
	if err != nil {
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		logger.Warn("failed login attempt", "username", req.Username, "ip", clientIP(r))
		_ = db.AuditLogDetail(req.Username, "login", "", "bad credentials", false)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	ttl := time.Duration(envz.SessionTTL) * time.Hour
	id, err := db.CreateSession(req.Username, ttl)
	if err != nil {
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	_ = db.AuditLog(req.Username, "login", "")
	writeJSON(w, http.StatusOK, map[string]string{"token": id, "username": req.Username})
}

func logoutHandler(w http.ResponseWriter, r *http.Request) {
	if id := sessionFromRequest(r); id != "" {
		_ = db.DeleteSession(id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"username": usernameFromContext(r)})
}

// sessionFromRequest pulls the session id from the cookie, the
// Authorization header or, for websocket clients, a query parameter.
func sessionFromRequest(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return strings.TrimSpace(c.Value)
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	if auth != "" {
		return auth
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func usernameFromContext(r *http.Request) string {
	if u, ok := r.Context().Value(usernameKey).(string); ok {
		return u
	}
	return ""
}

func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionFromRequest(r)
		if id == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sess, err := db.GetSession(id)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if sess == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), usernameKey, sess.Username))
		next.ServeHTTP(w, r)
	})
}
