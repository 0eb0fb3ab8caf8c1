package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zfsman/db"
	"zfsman/zpool"
)

func setupPoolsAPI(r chi.Router) {
	r.Route("/pools", func(r chi.Router) {
		r.Get("/", listPools)
		r.Post("/", createPool)
		r.Post("/import", importPool)
		r.Get("/importable", listImportable)

		r.Route("/{pool}", func(r chi.Router) {
			r.Get("/status", poolStatus)
			r.Get("/properties", poolProperties)
			r.Post("/properties", setPoolProperty)
			r.Get("/iostat", poolIostat)
			r.Get("/iostat/history", poolIostatHistory)
			r.Get("/history", poolHistory)
			r.Post("/export", exportPool)
			r.Post("/destroy", destroyPool)
			r.Post("/scrub", scrubPool)
			r.Post("/trim", trimPool)
			r.Post("/clear", clearPool)
			r.Post("/checkpoint", checkpointPool)
			r.Post("/initialize", initializePool)
			r.Post("/vdev/add", addVdev)
			r.Post("/vdev/remove", removeVdev)
			r.Post("/vdev/attach", attachDevice)
			r.Post("/vdev/detach", detachDevice)
			r.Post("/vdev/replace", replaceDevice)
			r.Post("/vdev/online", onlineDevice)
			r.Post("/vdev/offline", offlineDevice)
		})
	})
}

func listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := svc.Pools.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

func createPool(w http.ResponseWriter, r *http.Request) {
	var req zpool.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Create(r.Context(), req); err != nil {
		_ = db.AuditLogDetail(usernameFromContext(r), "pool.create", req.Name, err.Error(), false)
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.create", req.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "pool": req.Name})
}

func importPool(w http.ResponseWriter, r *http.Request) {
	type ImportRequest struct {
		Name  string `json:"name"`
		Force bool   `json:"force"`
	}
	var req ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := svc.Pools.Import(r.Context(), req.Name, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.import", req.Name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported", "output": out})
}

func listImportable(w http.ResponseWriter, r *http.Request) {
	out, err := svc.Pools.Import(r.Context(), "", false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func poolStatus(w http.ResponseWriter, r *http.Request) {
	report, err := svc.Pools.Status(r.Context(), chi.URLParam(r, "pool"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func poolProperties(w http.ResponseWriter, r *http.Request) {
	props, err := svc.Pools.Properties(r.Context(), chi.URLParam(r, "pool"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"properties": props})
}

func setPoolProperty(w http.ResponseWriter, r *http.Request) {
	type PropertyRequest struct {
		Property string `json:"property"`
		Value    string `json:"value"`
	}
	var req PropertyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	if err := svc.Pools.SetProperty(r.Context(), pool, req.Property, req.Value); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.set", pool+" "+req.Property+"="+req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func poolIostat(w http.ResponseWriter, r *http.Request) {
	sample, err := svc.Pools.Iostat(r.Context(), chi.URLParam(r, "pool"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// poolIostatHistory returns the retained samples for a pool, oldest first.
// A pool nobody ever streamed has an empty history, not an error.
func poolIostatHistory(w http.ResponseWriter, r *http.Request) {
	samples := svc.Streams.History(chi.URLParam(r, "pool"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"samples": samples})
}

func poolHistory(w http.ResponseWriter, r *http.Request) {
	lines, err := svc.Pools.History(r.Context(), chi.URLParam(r, "pool"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": lines})
}

func exportPool(w http.ResponseWriter, r *http.Request) {
	type ExportRequest struct {
		Force bool `json:"force"`
	}
	var req ExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	if err := svc.Pools.Export(r.Context(), pool, req.Force); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.export", pool)
	writeJSON(w, http.StatusOK, map[string]string{"status": "exported"})
}

// destroyPool drives the full teardown sequence. The context deliberately
// survives client disconnects: half-destroyed pools are worse than a
// slow response.
func destroyPool(w http.ResponseWriter, r *http.Request) {
	type DestroyRequest struct {
		Force bool `json:"force"`
	}
	var req DestroyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	user := usernameFromContext(r)
	if err := svc.Pools.Destroy(keepAliveCtx(r), pool, req.Force); err != nil {
		_ = db.AuditLogDetail(user, "pool.destroy", pool, err.Error(), false)
		writeError(w, err)
		return
	}
	_ = db.AuditLog(user, "pool.destroy", pool)
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed", "pool": pool})
}

func scrubPool(w http.ResponseWriter, r *http.Request) {
	type ScrubRequest struct {
		Action string `json:"action"` // start, pause, stop
	}
	var req ScrubRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	if err := svc.Pools.Scrub(r.Context(), pool, req.Action); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.scrub."+req.Action, pool)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func trimPool(w http.ResponseWriter, r *http.Request) {
	type TrimRequest struct {
		Stop bool `json:"stop"`
	}
	var req TrimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Trim(r.Context(), chi.URLParam(r, "pool"), req.Stop); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func clearPool(w http.ResponseWriter, r *http.Request) {
	type ClearRequest struct {
		Device string `json:"device"`
	}
	var req ClearRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Clear(r.Context(), chi.URLParam(r, "pool"), req.Device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func checkpointPool(w http.ResponseWriter, r *http.Request) {
	type CheckpointRequest struct {
		Discard bool `json:"discard"`
	}
	var req CheckpointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Checkpoint(r.Context(), chi.URLParam(r, "pool"), req.Discard); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func initializePool(w http.ResponseWriter, r *http.Request) {
	type InitializeRequest struct {
		Device string `json:"device"`
	}
	var req InitializeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Initialize(r.Context(), chi.URLParam(r, "pool"), req.Device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func addVdev(w http.ResponseWriter, r *http.Request) {
	type AddRequest struct {
		Vdevs []string `json:"vdevs"`
		Force bool     `json:"force"`
	}
	var req AddRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	if err := svc.Pools.AddVdev(r.Context(), pool, req.Vdevs, req.Force); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.vdev.add", pool)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func removeVdev(w http.ResponseWriter, r *http.Request) {
	type RemoveRequest struct {
		Vdev string `json:"vdev"`
	}
	var req RemoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	if err := svc.Pools.RemoveVdev(r.Context(), pool, req.Vdev); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.vdev.remove", pool+" "+req.Vdev)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func attachDevice(w http.ResponseWriter, r *http.Request) {
	type AttachRequest struct {
		Existing string `json:"existing"`
		Device   string `json:"device"`
	}
	var req AttachRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Attach(r.Context(), chi.URLParam(r, "pool"), req.Existing, req.Device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func detachDevice(w http.ResponseWriter, r *http.Request) {
	type DetachRequest struct {
		Device string `json:"device"`
	}
	var req DetachRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Detach(r.Context(), chi.URLParam(r, "pool"), req.Device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func replaceDevice(w http.ResponseWriter, r *http.Request) {
	type ReplaceRequest struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	var req ReplaceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool := chi.URLParam(r, "pool")
	if err := svc.Pools.Replace(r.Context(), pool, req.Old, req.New); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "pool.vdev.replace", pool+" "+req.Old+"->"+req.New)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func onlineDevice(w http.ResponseWriter, r *http.Request) {
	type OnlineRequest struct {
		Device string `json:"device"`
	}
	var req OnlineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Online(r.Context(), chi.URLParam(r, "pool"), req.Device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func offlineDevice(w http.ResponseWriter, r *http.Request) {
	type OfflineRequest struct {
		Device    string `json:"device"`
		Temporary bool   `json:"temporary"`
	}
	var req OfflineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := svc.Pools.Offline(r.Context(), chi.URLParam(r, "pool"), req.Device, req.Temporary); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
