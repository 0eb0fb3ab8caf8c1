package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zfsman/db"
)

// Dataset paths contain slashes, so handlers that operate on a dataset take
// it from the request body rather than the URL.
func setupDatasetsAPI(r chi.Router) {
	r.Route("/datasets", func(r chi.Router) {
		r.Get("/", listDatasets)
		r.Post("/", createDataset)
		r.Post("/destroy", destroyDataset)
		r.Post("/rename", renameDataset)
		r.Post("/properties/get", datasetProperties)
		r.Post("/properties/set", setDatasetProperty)
		r.Post("/properties/inherit", inheritDatasetProperty)
		r.Post("/mount", mountDataset)
		r.Post("/unmount", unmountDataset)
		r.Post("/share", shareDataset)
		r.Post("/unshare", unshareDataset)
		r.Post("/key/load", loadKey)
		r.Post("/key/unload", unloadKey)
		r.Post("/key/change", changeKey)
		r.Post("/userspace", datasetUserspace)
		r.Post("/groupspace", datasetGroupspace)
		r.Post("/diff", datasetDiff)
		r.Post("/sendsize", sendSizeEstimate)
	})
}

type datasetRequest struct {
	Dataset string `json:"dataset"`
}

func listDatasets(w http.ResponseWriter, r *http.Request) {
	pool := r.URL.Query().Get("pool")
	datasets, err := svc.Datasets.List(r.Context(), pool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": datasets})
}

func createDataset(w http.ResponseWriter, r *http.Request) {
	type CreateRequest struct {
		Name       string            `json:"name"`
		VolumeSize string            `json:"volume_size"`
		Properties map[string]string `json:"properties"`
	}
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Create(r.Context(), req.Name, req.VolumeSize, req.Properties); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "dataset.create", req.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "dataset": req.Name})
}

func destroyDataset(w http.ResponseWriter, r *http.Request) {
	type DestroyRequest struct {
		Target    string `json:"target"`
		Recursive bool   `json:"recursive"`
		Force     bool   `json:"force"`
	}
	var req DestroyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user := usernameFromContext(r)
	if err := svc.Datasets.Destroy(keepAliveCtx(r), req.Target, req.Recursive, req.Force); err != nil {
		_ = db.AuditLogDetail(user, "dataset.destroy", req.Target, err.Error(), false)
		writeError(w, err)
		return
	}
	_ = db.AuditLog(user, "dataset.destroy", req.Target)
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func renameDataset(w http.ResponseWriter, r *http.Request) {
	type RenameRequest struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	var req RenameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Rename(r.Context(), req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "dataset.rename", req.From+" -> "+req.To)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func datasetProperties(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	props, err := svc.Datasets.Properties(r.Context(), req.Dataset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"properties": props})
}

func setDatasetProperty(w http.ResponseWriter, r *http.Request) {
	type SetRequest struct {
		Dataset  string `json:"dataset"`
		Property string `json:"property"`
		Value    string `json:"value"`
	}
	var req SetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.SetProperty(r.Context(), req.Dataset, req.Property, req.Value); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "dataset.set", req.Dataset+" "+req.Property+"="+req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func inheritDatasetProperty(w http.ResponseWriter, r *http.Request) {
	type InheritRequest struct {
		Dataset   string `json:"dataset"`
		Property  string `json:"property"`
		Recursive bool   `json:"recursive"`
	}
	var req InheritRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.InheritProperty(r.Context(), req.Dataset, req.Property, req.Recursive); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func mountDataset(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Mount(r.Context(), req.Dataset); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func unmountDataset(w http.ResponseWriter, r *http.Request) {
	type UnmountRequest struct {
		Dataset string `json:"dataset"`
		Force   bool   `json:"force"`
	}
	var req UnmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Unmount(r.Context(), req.Dataset, req.Force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func shareDataset(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Share(r.Context(), req.Dataset); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func unshareDataset(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.Unshare(r.Context(), req.Dataset); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loadKey(w http.ResponseWriter, r *http.Request) {
	type KeyRequest struct {
		Dataset    string `json:"dataset"`
		Passphrase string `json:"passphrase"`
		KeyFile    string `json:"key_file"`
	}
	var req KeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.LoadKey(r.Context(), req.Dataset, req.Passphrase, req.KeyFile); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "dataset.key.load", req.Dataset)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func unloadKey(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.UnloadKey(r.Context(), req.Dataset); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "dataset.key.unload", req.Dataset)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func changeKey(w http.ResponseWriter, r *http.Request) {
	type ChangeKeyRequest struct {
		Dataset    string `json:"dataset"`
		Passphrase string `json:"passphrase"`
		KeyFile    string `json:"key_file"`
	}
	var req ChangeKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Datasets.ChangeKey(r.Context(), req.Dataset, req.Passphrase, req.KeyFile); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "dataset.key.change", req.Dataset)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func datasetUserspace(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	usage, err := svc.Datasets.Userspace(r.Context(), req.Dataset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": usage})
}

func datasetGroupspace(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	usage, err := svc.Datasets.Groupspace(r.Context(), req.Dataset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": usage})
}

func datasetDiff(w http.ResponseWriter, r *http.Request) {
	type DiffRequest struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	var req DiffRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entries, err := svc.Datasets.Diff(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": entries})
}

func sendSizeEstimate(w http.ResponseWriter, r *http.Request) {
	type SendSizeRequest struct {
		Snapshot        string `json:"snapshot"`
		IncrementalFrom string `json:"incremental_from"`
	}
	var req SendSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	size, err := svc.Datasets.SendSizeEstimate(r.Context(), req.Snapshot, req.IncrementalFrom)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"size": size})
}
