// Package sysinfo reports host facts: OS and hardware summary, block
// devices via lsblk, and ZFS ARC statistics.
package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"zfsman/zcmd"
)

type CommandRunner interface {
	Run(ctx context.Context, argv ...string) (zcmd.Result, error)
}

type Service struct {
	run      CommandRunner
	zpoolBin string
	zfsBin   string

	// arcstatsPath is a test seam; production reads the spl kstat file.
	arcstatsPath string
}

func NewService(run CommandRunner, zpoolBin, zfsBin string) *Service {
	return &Service{
		run:          run,
		zpoolBin:     zpoolBin,
		zfsBin:       zfsBin,
		arcstatsPath: "/proc/spl/kstat/zfs/arcstats",
	}
}

type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Kernel          string `json:"kernel"`
	Arch            string `json:"arch"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
	CPUModel        string `json:"cpu_model"`
	CPUCores        int    `json:"cpu_cores"`
	MemoryTotal     uint64 `json:"memory_total"`
	MemoryAvailable uint64 `json:"memory_available"`
	ZFSVersion      string `json:"zfs_version"`
	ZpoolVersion    string `json:"zpool_version"`
}

func (s *Service) HostInfo(ctx context.Context) (*HostInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	info := &HostInfo{
		Hostname:      hi.Hostname,
		OS:            hi.Platform,
		Kernel:        hi.KernelVersion,
		Arch:          hi.KernelArch,
		UptimeSeconds: hi.Uptime,
	}
	if hi.PlatformVersion != "" {
		info.OS = hi.Platform + " " + hi.PlatformVersion
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = cores
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryAvailable = vm.Available
	}

	if res, err := s.run.Run(ctx, s.zfsBin, "version"); err == nil {
		info.ZFSVersion = strings.TrimSpace(res.Stdout)
	}
	if res, err := s.run.Run(ctx, s.zpoolBin, "version"); err == nil {
		info.ZpoolVersion = strings.TrimSpace(res.Stdout)
	}
	return info, nil
}

// BlockDevice mirrors lsblk -J output; Children carries partitions.
type BlockDevice struct {
	Name       string        `json:"name"`
	Size       int64         `json:"size"`
	Type       string        `json:"type"`
	FSType     string        `json:"fstype"`
	Mountpoint string        `json:"mountpoint"`
	Model      string        `json:"model"`
	Serial     string        `json:"serial"`
	Rotational bool          `json:"rota"`
	Transport  string        `json:"tran"`
	Vendor     string        `json:"vendor"`
	Children   []BlockDevice `json:"children,omitempty"`
}

func (s *Service) BlockDevices(ctx context.Context) ([]BlockDevice, error) {
	res, err := s.run.Run(ctx,
		"lsblk", "-Jbp", "-o", "NAME,SIZE,TYPE,FSTYPE,MOUNTPOINT,MODEL,SERIAL,ROTA,TRAN,VENDOR")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("lsblk exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	var out struct {
		BlockDevices []BlockDevice `json:"blockdevices"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}
	return out.BlockDevices, nil
}

// PoolMembership maps device paths to the pool using them, derived from
// zpool status -LP across all pools.
func (s *Service) PoolMembership(ctx context.Context) (map[string]string, error) {
	res, err := s.run.Run(ctx, s.zpoolBin, "status", "-LP")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return map[string]string{}, nil
	}
	return ParsePoolMembership(res.Stdout), nil
}

func ParsePoolMembership(raw string) map[string]string {
	members := map[string]string{}
	pool := ""
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "pool:"); ok {
			pool = strings.TrimSpace(rest)
			continue
		}
		if pool == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) > 0 && strings.HasPrefix(fields[0], "/dev/") {
			members[fields[0]] = pool
		}
	}
	return members
}

// ArcStats summarizes /proc/spl/kstat/zfs/arcstats. Raw keeps every
// counter for callers that want more than the headline numbers.
type ArcStats struct {
	Size     int64   `json:"size"`
	MaxSize  int64   `json:"max_size"`
	HitRate  float64 `json:"hit_rate"`
	MissRate float64 `json:"miss_rate"`
	MRUSize  int64   `json:"mru_size"`
	MFUSize  int64   `json:"mfu_size"`
	L2Size   int64   `json:"l2_size,omitempty"`
	L2Hits   int64   `json:"l2_hits,omitempty"`
	L2Misses int64   `json:"l2_misses,omitempty"`

	Raw map[string]int64 `json:"raw"`
}

func (s *Service) ArcStats() (*ArcStats, error) {
	data, err := os.ReadFile(s.arcstatsPath)
	if err != nil {
		return nil, fmt.Errorf("arc stats unavailable: %w", err)
	}
	return ParseArcStats(string(data)), nil
}

func ParseArcStats(raw string) *ArcStats {
	stats := map[string]int64{}
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	// The first two lines are the kstat header.
	for i, line := range lines {
		if i < 2 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		v, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		stats[fields[0]] = v
	}

	out := &ArcStats{
		Size:     stats["size"],
		MaxSize:  stats["c_max"],
		MRUSize:  stats["mru_size"],
		MFUSize:  stats["mfu_size"],
		L2Size:   stats["l2_size"],
		L2Hits:   stats["l2_hits"],
		L2Misses: stats["l2_misses"],
		Raw:      stats,
	}
	if total := stats["hits"] + stats["misses"]; total > 0 {
		out.HitRate = float64(stats["hits"]) / float64(total) * 100
		out.MissRate = float64(stats["misses"]) / float64(total) * 100
	}
	return out
}
