// Package smart reads drive health through smartctl's JSON interface.
package smart

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"zfsman/logger"
	"zfsman/zcmd"
)

type CommandRunner interface {
	Run(ctx context.Context, argv ...string) (zcmd.Result, error)
}

// Health is the per-device summary. Available is false when the device has
// no SMART support or smartctl could not talk to it; the remaining fields
// are only meaningful when Available is true.
type Health struct {
	Available       bool   `json:"available"`
	Healthy         *bool  `json:"healthy"`
	Temperature     *int   `json:"temperature"`
	PowerOnHours    *int64 `json:"power_on_hours"`
	ModelFamily     string `json:"model_family,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	RotationRate    *int   `json:"rotation_rate,omitempty"`
	FormFactor      string `json:"form_factor,omitempty"`
	ErrorLogCount   *int   `json:"smart_error_log_count"`
}

type Service struct {
	run CommandRunner
	bin string
}

func NewService(run CommandRunner) *Service {
	return &Service{run: run, bin: "smartctl"}
}

// smartctlReport mirrors the subset of smartctl --json output we consume.
type smartctlReport struct {
	ModelFamily     string `json:"model_family"`
	FirmwareVersion string `json:"firmware_version"`
	RotationRate    *int   `json:"rotation_rate"`
	FormFactor      *struct {
		Name string `json:"name"`
	} `json:"form_factor"`
	SmartSupport *struct {
		Available bool `json:"available"`
	} `json:"smart_support"`
	SmartStatus *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature *struct {
		Current int `json:"current"`
	} `json:"temperature"`
	AtaSmartAttributes *struct {
		Table []struct {
			ID  int `json:"id"`
			Raw struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	PowerOnTime *struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
	NvmeHealthLog *struct {
		PowerOnHours int64 `json:"power_on_hours"`
		Temperature  int   `json:"temperature"`
	} `json:"nvme_smart_health_information_log"`
	AtaSmartErrorLog *struct {
		Summary *struct {
			Count int `json:"count"`
		} `json:"summary"`
	} `json:"ata_smart_error_log"`
}

// HealthFor queries a single device. smartctl failures degrade to
// Available=false rather than an error so a bad drive doesn't hide the rest.
func (s *Service) HealthFor(ctx context.Context, device string) Health {
	res, err := s.run.Run(ctx, s.bin, "--json=c", "--info", "--health", "--attributes", "--", device)
	if err != nil {
		logger.Warn("smartctl failed", "device", device, "err", err.Error())
		return Health{}
	}
	return ParseHealth(res.Stdout, res.ExitCode)
}

// ParseHealth interprets smartctl --json output. The exit code is a bitmask:
// bit 0 means the command line could not be parsed and bit 1 means the device
// could not be opened. Higher bits are SMART-level warnings and still carry
// usable data.
func ParseHealth(stdout string, exitCode int) Health {
	var h Health
	if strings.TrimSpace(stdout) == "" {
		return h
	}

	var rep smartctlReport
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		logger.Warn("unparseable smartctl json", "err", err.Error())
		return h
	}
	if exitCode&0x03 != 0 && rep.SmartStatus == nil {
		return h
	}
	if rep.SmartSupport != nil && !rep.SmartSupport.Available {
		return h
	}

	h.Available = true
	if rep.SmartStatus != nil {
		passed := rep.SmartStatus.Passed
		h.Healthy = &passed
	}
	h.ModelFamily = rep.ModelFamily
	h.FirmwareVersion = rep.FirmwareVersion
	h.RotationRate = rep.RotationRate
	if rep.FormFactor != nil {
		h.FormFactor = rep.FormFactor.Name
	}

	// Zero degrees means "not reported", which virtual disks produce.
	if rep.Temperature != nil && rep.Temperature.Current != 0 {
		t := rep.Temperature.Current
		h.Temperature = &t
	}

	// Power-on hours: ATA attribute 9, then SCSI power_on_time, then the
	// NVMe health log.
	if rep.AtaSmartAttributes != nil {
		for _, attr := range rep.AtaSmartAttributes.Table {
			if attr.ID == 9 {
				v := attr.Raw.Value
				h.PowerOnHours = &v
			}
		}
	}
	if h.PowerOnHours == nil && rep.PowerOnTime != nil {
		v := rep.PowerOnTime.Hours
		h.PowerOnHours = &v
	}
	if h.PowerOnHours == nil && rep.NvmeHealthLog != nil {
		v := rep.NvmeHealthLog.PowerOnHours
		h.PowerOnHours = &v
		if h.Temperature == nil && rep.NvmeHealthLog.Temperature != 0 {
			t := rep.NvmeHealthLog.Temperature
			h.Temperature = &t
		}
	}

	if rep.AtaSmartErrorLog != nil && rep.AtaSmartErrorLog.Summary != nil {
		c := rep.AtaSmartErrorLog.Summary.Count
		h.ErrorLogCount = &c
	}
	return h
}

// HealthForAll queries devices in parallel. Concurrency is bounded by the
// runner's admission slots, not here.
func (s *Service) HealthForAll(ctx context.Context, devices []string) map[string]Health {
	out := make(map[string]Health, len(devices))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			h := s.HealthFor(ctx, dev)
			mu.Lock()
			out[dev] = h
			mu.Unlock()
		}(dev)
	}
	wg.Wait()
	return out
}

// Scan lists devices smartctl knows about, e.g. "/dev/sda".
func (s *Service) Scan(ctx context.Context) ([]string, error) {
	res, err := s.run.Run(ctx, s.bin, "--scan")
	if err != nil {
		return nil, err
	}
	var devices []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && strings.HasPrefix(fields[0], "/dev/") {
			devices = append(devices, fields[0])
		}
	}
	return devices, nil
}
