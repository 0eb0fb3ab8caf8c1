package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zfsman/db"
)

func setupSnapshotsAPI(r chi.Router) {
	r.Route("/snapshots", func(r chi.Router) {
		r.Post("/list", listSnapshots)
		r.Post("/", createSnapshot)
		r.Post("/destroy", destroySnapshot)
		r.Post("/clone", cloneSnapshot)
		r.Post("/promote", promoteClone)
		r.Post("/rollback", rollbackSnapshot)
		r.Post("/hold", holdSnapshot)
		r.Post("/release", releaseHold)
		r.Post("/holds", listHolds)
		r.Post("/bookmark", createBookmark)
		r.Post("/bookmarks", listBookmarks)
	})
}

func listSnapshots(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snaps, err := svc.Datasets.Snapshots(r.Context(), req.Dataset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps})
}

func createSnapshot(w http.ResponseWriter, r *http.Request) {
	type CreateRequest struct {
		Dataset   string `json:"dataset"`
		Name      string `json:"name"`
		Recursive bool   `json:"recursive"`
	}
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.CreateSnapshot(r.Context(), req.Dataset, req.Name, req.Recursive); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "snapshot.create", req.Dataset+"@"+req.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func destroySnapshot(w http.ResponseWriter, r *http.Request) {
	type DestroyRequest struct {
		Snapshot  string `json:"snapshot"`
		Recursive bool   `json:"recursive"`
	}
	var req DestroyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := usernameFromContext(r)
	if err := svc.Datasets.Destroy(r.Context(), req.Snapshot, req.Recursive, false); err != nil {
		_ = db.AuditLogDetail(user, "snapshot.destroy", req.Snapshot, err.Error(), false)
		writeError(w, err)
		return
	}
	_ = db.AuditLog(user, "snapshot.destroy", req.Snapshot)
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func cloneSnapshot(w http.ResponseWriter, r *http.Request) {
	type CloneRequest struct {
		Snapshot   string            `json:"snapshot"`
		Target     string            `json:"target"`
		Properties map[string]string `json:"properties"`
	}
	var req CloneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Clone(r.Context(), req.Snapshot, req.Target, req.Properties); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "snapshot.clone", req.Snapshot+" -> "+req.Target)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "cloned"})
}

func promoteClone(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Promote(r.Context(), req.Dataset); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "snapshot.promote", req.Dataset)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func rollbackSnapshot(w http.ResponseWriter, r *http.Request) {
	type RollbackRequest struct {
		Snapshot     string `json:"snapshot"`
		DestroyNewer bool   `json:"destroy_newer"`
		Force        bool   `json:"force"`
	}
	var req RollbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := usernameFromContext(r)
	if err := svc.Datasets.Rollback(r.Context(), req.Snapshot, req.DestroyNewer, req.Force); err != nil {
		_ = db.AuditLogDetail(user, "snapshot.rollback", req.Snapshot, err.Error(), false)
		writeError(w, err)
		return
	}
	_ = db.AuditLog(user, "snapshot.rollback", req.Snapshot)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type holdRequest struct {
	Snapshot string `json:"snapshot"`
	Tag      string `json:"tag"`
}

func holdSnapshot(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Hold(r.Context(), req.Tag, req.Snapshot); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func releaseHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Release(r.Context(), req.Tag, req.Snapshot); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listHolds(w http.ResponseWriter, r *http.Request) {
	type HoldsRequest struct {
		Snapshot string `json:"snapshot"`
	}
	var req HoldsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	holds, err := svc.Datasets.Holds(r.Context(), req.Snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"holds": holds})
}

func createBookmark(w http.ResponseWriter, r *http.Request) {
	type BookmarkRequest struct {
		Snapshot string `json:"snapshot"`
		Name     string `json:"name"`
	}
	var req BookmarkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.CreateBookmark(r.Context(), req.Snapshot, req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func listBookmarks(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bookmarks, err := svc.Datasets.Bookmarks(r.Context(), req.Dataset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookmarks": bookmarks})
}
