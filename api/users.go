package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zfsman/db"
)

func setupUsersAPI(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", listUsers)
		r.Post("/", createUser)
		r.Post("/password", changePassword)
		r.Delete("/{username}", deleteUser)
	})
}

func listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := db.ListUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": names})
}

func createUser(w http.ResponseWriter, r *http.Request) {
	type CreateRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		http.Error(w, "username required and password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if err := db.CreateUser(req.Username, req.Password); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "user.create", req.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// changePassword only changes the caller's own password; admins reset
// others by recreating the account.
func changePassword(w http.ResponseWriter, r *http.Request) {
	type PasswordRequest struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	var req PasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := usernameFromContext(r)
	ok, err := db.CheckCredentials(user, req.Current)
	if err != nil || !ok {
		http.Error(w, "current password is wrong", http.StatusForbidden)
		return
	}
	if len(req.New) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	if err := db.SetPassword(user, req.New); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(user, "user.password", user)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func deleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == usernameFromContext(r) {
		http.Error(w, "cannot delete your own account", http.StatusBadRequest)
		return
	}
	count, err := db.CountUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	if count <= 1 {
		http.Error(w, "cannot delete the last user", http.StatusBadRequest)
		return
	}
	if err := db.DeleteUser(username); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "user.delete", username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
