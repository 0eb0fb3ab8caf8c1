package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zfsman/envz"
	"zfsman/logger"
	"zfsman/smart"
	"zfsman/stream"
	"zfsman/sysinfo"
	"zfsman/zcmd"
	"zfsman/zfs"
	"zfsman/zfserr"
	"zfsman/zpool"
)

// Services bundles everything the handlers call into.
type Services struct {
	Pools    *zpool.Service
	Datasets *zfs.Service
	Streams  *stream.Registry
	Events   *stream.EventFeed
	Sender   *stream.Sender
	Smart    *smart.Service
	Sysinfo  *sysinfo.Service
}

var svc *Services

// StartApi builds the router and blocks serving on envz.ListenAddr.
func StartApi(services *Services) error {
	svc = services
	startRateLimiterCleanup()

	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(rateLimitMiddleware)

	r.Get("/api/health", healthHandler)
	r.Post("/api/login", loginHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/logout", logoutHandler)
		r.Get("/me", meHandler)
		setupPoolsAPI(r)
		setupDatasetsAPI(r)
		setupSnapshotsAPI(r)
		setupReplicationAPI(r)
		setupSystemAPI(r)
		setupUsersAPI(r)
		setupWsAPI(r)
	})

	logger.Info("api listening", "addr", envz.ListenAddr)
	return http.ListenAndServe(envz.ListenAddr, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applyCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func applyCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range envz.CorsOrigins {
		if allowed == origin || allowed == "*" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps classified ZFS errors onto their HTTP status; anything
// else is a 500.
func writeError(w http.ResponseWriter, err error) {
	var zerr *zfserr.Error
	if errors.As(err, &zerr) {
		writeJSON(w, zerr.Kind.StatusCode(), map[string]string{
			"error":  zerr.Message,
			"kind":   zerr.Kind.String(),
			"stderr": zerr.Stderr,
		})
		return
	}
	var verr *zcmd.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
