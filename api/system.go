package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"zfsman/db"
	"zfsman/smart"
	"zfsman/sysinfo"
)

func setupSystemAPI(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/info", systemInfo)
		r.Get("/disks", systemDisks)
		r.Get("/drives", systemDrives)
		r.Get("/arc", systemArc)
		r.Get("/smart", systemSmart)
		r.Get("/audit", auditLog)
	})
	r.Route("/scrub-schedules", func(r chi.Router) {
		r.Get("/", listScrubSchedules)
		r.Post("/", createScrubSchedule)
		r.Post("/{id}/enable", enableScrubSchedule)
		r.Post("/{id}/disable", disableScrubSchedule)
		r.Delete("/{id}", deleteScrubSchedule)
	})
}

func systemInfo(w http.ResponseWriter, r *http.Request) {
	info, err := svc.Sysinfo.HostInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func systemDisks(w http.ResponseWriter, r *http.Request) {
	devices, err := svc.Sysinfo.BlockDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// Drive joins lsblk, SMART and pool membership for one physical disk.
type Drive struct {
	sysinfo.BlockDevice
	Pool  string       `json:"pool,omitempty"`
	Smart smart.Health `json:"smart"`
}

func systemDrives(w http.ResponseWriter, r *http.Request) {
	devices, err := svc.Sysinfo.BlockDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var disks []sysinfo.BlockDevice
	var paths []string
	for _, d := range devices {
		if d.Type == "disk" {
			disks = append(disks, d)
			paths = append(paths, d.Name)
		}
	}

	membership, err := svc.Sysinfo.PoolMembership(r.Context())
	if err != nil {
		membership = map[string]string{}
	}
	health := svc.Smart.HealthForAll(r.Context(), paths)

	drives := make([]Drive, 0, len(disks))
	for _, d := range disks {
		drive := Drive{BlockDevice: d, Smart: health[d.Name]}
		if pool, ok := membership[d.Name]; ok {
			drive.Pool = pool
		} else {
			// Partitions count too: a pool built on sda1 claims sda.
			for _, child := range d.Children {
				if pool, ok := membership[child.Name]; ok {
					drive.Pool = pool
					break
				}
			}
		}
		drives = append(drives, drive)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drives": drives})
}

// systemSmart reports SMART health for every device smartctl can see.
func systemSmart(w http.ResponseWriter, r *http.Request) {
	devices, err := svc.Smart.Scan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": svc.Smart.HealthForAll(r.Context(), devices)})
}

func systemArc(w http.ResponseWriter, r *http.Request) {
	stats, err := svc.Sysinfo.ArcStats()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "ARC stats not available"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func auditLog(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := db.GetAuditLog(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func listScrubSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := db.ListScrubSchedules()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": schedules})
}

func createScrubSchedule(w http.ResponseWriter, r *http.Request) {
	var req db.ScrubSchedule
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Frequency {
	case "daily", "weekly", "monthly":
	default:
		http.Error(w, "frequency must be daily, weekly or monthly", http.StatusBadRequest)
		return
	}
	req.Enabled = true
	id, err := db.CreateScrubSchedule(req)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "scrub-schedule.create", req.Pool)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func enableScrubSchedule(w http.ResponseWriter, r *http.Request) {
	if err := db.SetScrubEnabled(chi.URLParam(r, "id"), true); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func disableScrubSchedule(w http.ResponseWriter, r *http.Request) {
	if err := db.SetScrubEnabled(chi.URLParam(r, "id"), false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func deleteScrubSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := db.DeleteScrubSchedule(id); err != nil {
		writeError(w, err)
		return
	}
	_ = db.AuditLog(usernameFromContext(r), "scrub-schedule.delete", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
