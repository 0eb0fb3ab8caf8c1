package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zfsman/db"
)

func setupReplicationAPI(r chi.Router) {
	r.Route("/replication", func(r chi.Router) {
		r.Get("/jobs", listReplicationJobs)
		r.Post("/jobs", createReplicationJob)
		r.Get("/jobs/{id}", getReplicationJob)
		r.Patch("/jobs/{id}", updateReplicationJob)
		r.Delete("/jobs/{id}", deleteReplicationJob)
		r.Post("/send", manualSend)
	})
}

func listReplicationJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := db.ListReplicationJobs()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func createReplicationJob(w http.ResponseWriter, r *http.Request) {
	var req db.ReplicationJob
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Source == "" || req.Destination == "" {
		http.Error(w, "name, source and destination are required", http.StatusBadRequest)
		return
	}
	if req.Direction == "" {
		req.Direction = "local"
	}
	if req.Direction != "local" && req.Direction != "ssh" {
		http.Error(w, "direction must be local or ssh", http.StatusBadRequest)
		return
	}
	req.Enabled = true
	id, err := db.CreateReplicationJob(req)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "replication.create", req.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func getReplicationJob(w http.ResponseWriter, r *http.Request) {
	job, err := db.GetReplicationJob(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// updateReplicationJob patches an existing job; absent fields keep their
// stored values.
func updateReplicationJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := db.GetReplicationJob(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	type PatchRequest struct {
		Name        *string `json:"name"`
		Source      *string `json:"source"`
		Destination *string `json:"destination"`
		Direction   *string `json:"direction"`
		SSHHost     *string `json:"ssh_host"`
		SSHUser     *string `json:"ssh_user"`
		Recursive   *bool   `json:"recursive"`
		RawSend     *bool   `json:"raw_send"`
		Compressed  *bool   `json:"compressed"`
		Schedule    *string `json:"schedule"`
		Enabled     *bool   `json:"enabled"`
	}
	var patch PatchRequest
	if !decodeBody(w, r, &patch) {
		return
	}
	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Source != nil {
		job.Source = *patch.Source
	}
	if patch.Destination != nil {
		job.Destination = *patch.Destination
	}
	if patch.Direction != nil {
		job.Direction = *patch.Direction
	}
	if patch.SSHHost != nil {
		job.SSHHost = *patch.SSHHost
	}
	if patch.SSHUser != nil {
		job.SSHUser = *patch.SSHUser
	}
	if patch.Recursive != nil {
		job.Recursive = *patch.Recursive
	}
	if patch.RawSend != nil {
		job.RawSend = *patch.RawSend
	}
	if patch.Compressed != nil {
		job.Compressed = *patch.Compressed
	}
	if patch.Schedule != nil {
		job.Schedule = *patch.Schedule
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if job.Direction != "local" && job.Direction != "ssh" {
		http.Error(w, "direction must be local or ssh", http.StatusBadRequest)
		return
	}

	if err := db.UpdateReplicationJob(*job); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "replication.update", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func deleteReplicationJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := db.GetReplicationJob(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err := db.DeleteReplicationJob(id); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "replication.delete", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// manualSend reports the size estimate and points the client at the
// send-progress socket; the transfer itself runs over that socket.
func manualSend(w http.ResponseWriter, r *http.Request) {
	type SendRequest struct {
		Snapshot        string `json:"snapshot"`
		Destination     string `json:"destination"`
		IncrementalFrom string `json:"incremental_from"`
	}
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	estimated, err := svc.Datasets.SendSizeEstimate(r.Context(), req.Snapshot, req.IncrementalFrom)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLogDetail(usernameFromContext(r), "replication.send", req.Snapshot,
		fmt.Sprintf("dest=%s, est=%d", req.Destination, estimated), true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":        req.Snapshot,
		"destination":     req.Destination,
		"estimated_bytes": estimated,
		"track_via":       "/api/ws/send-progress",
	})
}
