// Package zpool wraps the zpool CLI: listing, status parsing, lifecycle
// (create/import/export/destroy), device management and maintenance.
package zpool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zfsman/logger"
	"zfsman/stream"
	"zfsman/zcmd"
	"zfsman/zfserr"
)

// CommandRunner is what this package needs from zcmd; tests substitute a
// scripted fake.
type CommandRunner interface {
	Run(ctx context.Context, argv ...string) (zcmd.Result, error)
	RunInput(ctx context.Context, stdin string, argv ...string) (zcmd.Result, error)
}

// DestroyPolicy holds the destroy sequence tuning. The defaults (3 attempts,
// 3s linear backoff, 1s settle) are operational choices, not derived
// constants; envz overrides them.
type DestroyPolicy struct {
	Attempts int
	Backoff  time.Duration
	Settle   time.Duration
}

type Service struct {
	run      CommandRunner
	streams  *stream.Registry
	zpoolBin string
	zfsBin   string
	policy   DestroyPolicy

	// sleep is a test seam so retry/backoff tests don't wait wall-clock time.
	sleep func(time.Duration)
}

func NewService(run CommandRunner, streams *stream.Registry, zpoolBin, zfsBin string, policy DestroyPolicy) *Service {
	if policy.Attempts <= 0 {
		policy.Attempts = 3
	}
	return &Service{
		run:      run,
		streams:  streams,
		zpoolBin: zpoolBin,
		zfsBin:   zfsBin,
		policy:   policy,
		sleep:    time.Sleep,
	}
}

// exec runs argv and classifies a nonzero exit into a *zfserr.Error.
func (s *Service) exec(ctx context.Context, argv ...string) (string, error) {
	res, err := s.run.Run(ctx, argv...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", zfserr.Classify(res.Stderr, res.ExitCode)
	}
	return res.Stdout, nil
}

// Pool is one row of `zpool list -Hp`. Values stay raw strings (bytes for
// sizes, "-" where zpool prints a dash).
type Pool struct {
	Name          string `json:"name"`
	Size          string `json:"size"`
	Alloc         string `json:"alloc"`
	Free          string `json:"free"`
	Fragmentation string `json:"fragmentation"`
	Capacity      string `json:"capacity"`
	Health        string `json:"health"`
}

func (s *Service) List(ctx context.Context) ([]Pool, error) {
	out, err := s.exec(ctx, s.zpoolBin, "list", "-Hp", "-o", "name,size,alloc,free,fragmentation,capacity,health")
	if err != nil {
		return nil, err
	}
	pools := []Pool{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		f := strings.Split(line, "\t")
		var p Pool
		set := []*string{&p.Name, &p.Size, &p.Alloc, &p.Free, &p.Fragmentation, &p.Capacity, &p.Health}
		for i := range set {
			if i < len(f) {
				*set[i] = f[i]
			}
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// Status runs `zpool status` and parses the free-text output.
func (s *Service) Status(ctx context.Context, pool string) (*StatusReport, error) {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.zpoolBin, "status", "--", pool)
	if err != nil {
		return nil, err
	}
	report := ParseStatus(out)
	report.Pool = pool
	report.Raw = out
	return report, nil
}

// Property is a property value plus where it came from (default, local, ...).
type Property struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

func (s *Service) Properties(ctx context.Context, pool string) (map[string]Property, error) {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.zpoolBin, "get", "all", "-Hp", "--", pool)
	if err != nil {
		return nil, err
	}
	props := map[string]Property{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		// name \t property \t value \t source
		parts := strings.Split(line, "\t")
		if len(parts) >= 4 {
			props[parts[1]] = Property{Value: parts[2], Source: parts[3]}
		}
	}
	return props, nil
}

// CreateRequest describes a new pool. Vdevs is the raw vdev specification
// ("mirror sda sdb" style tokens), passed through after "--".
type CreateRequest struct {
	Name         string            `json:"name"`
	Vdevs        []string          `json:"vdevs"`
	Force        bool              `json:"force"`
	Mountpoint   string            `json:"mountpoint"`
	Properties   map[string]string `json:"properties"`
	FSProperties map[string]string `json:"fs_properties"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) error {
	if err := zcmd.ValidatePoolName(req.Name); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "create"}
	if req.Force {
		argv = append(argv, "-f")
	}
	if req.Mountpoint != "" {
		argv = append(argv, "-m", req.Mountpoint)
	}
	for k, v := range req.Properties {
		argv = append(argv, "-o", k+"="+v)
	}
	for k, v := range req.FSProperties {
		argv = append(argv, "-O", k+"="+v)
	}
	argv = append(argv, "--", req.Name)
	argv = append(argv, req.Vdevs...)

	logger.Info("creating pool", "pool", req.Name, "vdevs", strings.Join(req.Vdevs, " "))
	_, err := s.exec(ctx, argv...)
	return err
}

// Import attaches a pool. With an empty name it returns the list of
// importable pools instead.
func (s *Service) Import(ctx context.Context, pool string, force bool) (string, error) {
	argv := []string{s.zpoolBin, "import"}
	if force {
		argv = append(argv, "-f")
	}
	if pool != "" {
		if err := zcmd.ValidatePoolName(pool); err != nil {
			return "", err
		}
		argv = append(argv, "--", pool)
	}
	return s.exec(ctx, argv...)
}

// Export cleanly detaches a pool.
func (s *Service) Export(ctx context.Context, pool string, force bool) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "export"}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--", pool)
	_, err := s.exec(ctx, argv...)
	return err
}

// --- Device management ---

func (s *Service) AddVdev(ctx context.Context, pool string, vdevs []string, force bool) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "add"}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--", pool)
	argv = append(argv, vdevs...)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) RemoveVdev(ctx context.Context, pool, vdev string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.zpoolBin, "remove", "--", pool, vdev)
	return err
}

func (s *Service) Attach(ctx context.Context, pool, existing, newDev string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.zpoolBin, "attach", "--", pool, existing, newDev)
	return err
}

func (s *Service) Detach(ctx context.Context, pool, device string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.zpoolBin, "detach", "--", pool, device)
	return err
}

func (s *Service) Replace(ctx context.Context, pool, oldDevice, newDevice string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "replace", "--", pool, oldDevice}
	if newDevice != "" {
		argv = append(argv, newDevice)
	}
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Online(ctx context.Context, pool, device string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.zpoolBin, "online", "--", pool, device)
	return err
}

func (s *Service) Offline(ctx context.Context, pool, device string, temporary bool) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "offline"}
	if temporary {
		argv = append(argv, "-t")
	}
	argv = append(argv, "--", pool, device)
	_, err := s.exec(ctx, argv...)
	return err
}

// --- Maintenance ---

// Scrub starts ("start"), pauses ("pause") or stops ("stop") a scrub.
func (s *Service) Scrub(ctx context.Context, pool, action string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "scrub"}
	switch action {
	case "pause":
		argv = append(argv, "-p")
	case "stop":
		argv = append(argv, "-s")
	}
	argv = append(argv, "--", pool)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Trim(ctx context.Context, pool string, stop bool) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "trim"}
	if stop {
		argv = append(argv, "-s")
	}
	argv = append(argv, "--", pool)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Clear(ctx context.Context, pool, device string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "clear", "--", pool}
	if device != "" {
		argv = append(argv, device)
	}
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Checkpoint(ctx context.Context, pool string, discard bool) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "checkpoint"}
	if discard {
		argv = append(argv, "-d")
	}
	argv = append(argv, "--", pool)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Initialize(ctx context.Context, pool, device string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	argv := []string{s.zpoolBin, "initialize", "--", pool}
	if device != "" {
		argv = append(argv, device)
	}
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) History(ctx context.Context, pool string) ([]string, error) {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.zpoolBin, "history", "--", pool)
	if err != nil {
		return nil, err
	}
	lines := []string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (s *Service) SetProperty(ctx context.Context, pool, prop, value string) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}
	if err := zcmd.ValidatePropertyName(prop); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.zpoolBin, "set", fmt.Sprintf("%s=%s", prop, value), "--", pool)
	return err
}

// Iostat takes a single I/O sample. Two measurements are requested and the
// second returned; the first is the since-boot average. Continuous
// sampling goes through the stream registry instead.
func (s *Service) Iostat(ctx context.Context, pool string) (stream.IostatSample, error) {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return stream.IostatSample{}, err
	}
	out, err := s.exec(ctx, s.zpoolBin, "iostat", "-Hp", "--", pool, "1", "2")
	if err != nil {
		return stream.IostatSample{}, err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return stream.IostatSample{Pool: pool}, nil
	}
	return stream.ParseIostatLine(pool, lines[len(lines)-1]), nil
}
