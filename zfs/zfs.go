// Package zfs wraps the zfs CLI for dataset, snapshot, bookmark and hold
// management. Listing commands always use -H (no header) and, where values
// are numeric, -p (parseable); output is TAB-delimited.
package zfs

import (
	"context"
	"strconv"
	"strings"

	"zfsman/logger"
	"zfsman/zcmd"
	"zfsman/zfserr"
)

type CommandRunner interface {
	Run(ctx context.Context, argv ...string) (zcmd.Result, error)
	RunInput(ctx context.Context, stdin string, argv ...string) (zcmd.Result, error)
}

type Service struct {
	run CommandRunner
	bin string
}

func NewService(run CommandRunner, bin string) *Service {
	return &Service{run: run, bin: bin}
}

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

// Dataset is one row of `zfs list -Hp`.
type Dataset struct {
	Name        string `json:"name"`
	Used        string `json:"used"`
	Avail       string `json:"avail"`
	Refer       string `json:"refer"`
	Mountpoint  string `json:"mountpoint"`
	Compression string `json:"compression"`
}

// List returns filesystems and volumes, optionally restricted to one pool.
func (s *Service) List(ctx context.Context, pool string) ([]Dataset, error) {
	argv := []string{s.bin, "list", "-Hp", "-o", "name,used,avail,refer,mountpoint,compression", "-t", "filesystem,volume"}
	if pool != "" {
		if err := zcmd.ValidatePoolName(pool); err != nil {
			return nil, err
		}
		argv = append(argv, "-r", "--", pool)
	}
	out, err := s.exec(ctx, argv...)
	if err != nil {
		return nil, err
	}
	datasets := []Dataset{}
	for _, line := range splitLines(out) {
		f := strings.Split(line, "\t")
		var d Dataset
		set := []*string{&d.Name, &d.Used, &d.Avail, &d.Refer, &d.Mountpoint, &d.Compression}
		for i := range set {
			if i < len(f) {
				*set[i] = f[i]
			}
		}
		datasets = append(datasets, d)
	}
	return datasets, nil
}

// Snapshot is one row of `zfs list -t snapshot`.
type Snapshot struct {
	Name     string `json:"name"`
	Used     string `json:"used"`
	Refer    string `json:"refer"`
	Creation string `json:"creation"`
}

func (s *Service) Snapshots(ctx context.Context, dataset string) ([]Snapshot, error) {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.bin, "list", "-Hp", "-o", "name,used,refer,creation", "-t", "snapshot", "-r", "--", dataset)
	if err != nil {
		return nil, err
	}
	snaps := []Snapshot{}
	for _, line := range splitLines(out) {
		f := strings.Split(line, "\t")
		var sn Snapshot
		set := []*string{&sn.Name, &sn.Used, &sn.Refer, &sn.Creation}
		for i := range set {
			if i < len(f) {
				*set[i] = f[i]
			}
		}
		snaps = append(snaps, sn)
	}
	return snaps, nil
}

// Property is a value plus its source column.
type Property struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

func (s *Service) Properties(ctx context.Context, dataset string) (map[string]Property, error) {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.bin, "get", "all", "-Hp", "--", dataset)
	if err != nil {
		return nil, err
	}
	props := map[string]Property{}
	for _, line := range splitLines(out) {
		// name \t property \t value \t source
		parts := strings.Split(line, "\t")
		if len(parts) >= 4 {
			props[parts[1]] = Property{Value: parts[2], Source: parts[3]}
		}
	}
	return props, nil
}

func (s *Service) SetProperty(ctx context.Context, dataset, prop, value string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	if err := zcmd.ValidatePropertyName(prop); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "set", prop+"="+value, "--", dataset)
	return err
}

func (s *Service) InheritProperty(ctx context.Context, dataset, prop string, recursive bool) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	if err := zcmd.ValidatePropertyName(prop); err != nil {
		return err
	}
	argv := []string{s.bin, "inherit"}
	if recursive {
		argv = append(argv, "-r")
	}
	argv = append(argv, "--", prop, dataset)
	_, err := s.exec(ctx, argv...)
	return err
}

// Create makes a filesystem, or a volume when volumeSize is set.
func (s *Service) Create(ctx context.Context, name, volumeSize string, properties map[string]string) error {
	if err := zcmd.ValidateDatasetPath(name); err != nil {
		return err
	}
	argv := []string{s.bin, "create"}
	if volumeSize != "" {
		argv = append(argv, "-V", volumeSize)
	}
	for k, v := range properties {
		argv = append(argv, "-o", k+"="+v)
	}
	argv = append(argv, "--", name)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Rename(ctx context.Context, old, new string) error {
	if err := validateTarget(old); err != nil {
		return err
	}
	if err := validateTarget(new); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "rename", "--", old, new)
	return err
}

// Destroy removes a dataset, snapshot (name contains @) or bookmark (#).
func (s *Service) Destroy(ctx context.Context, target string, recursive, force bool) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	argv := []string{s.bin, "destroy"}
	if recursive {
		argv = append(argv, "-r")
	}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--", target)
	logger.Warn("destroying zfs target", "target", target)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Mount(ctx context.Context, dataset string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "mount", "--", dataset)
	return err
}

func (s *Service) Unmount(ctx context.Context, dataset string, force bool) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	argv := []string{s.bin, "unmount"}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--", dataset)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Share(ctx context.Context, dataset string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "share", "--", dataset)
	return err
}

func (s *Service) Unshare(ctx context.Context, dataset string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "unshare", "--", dataset)
	return err
}

// --- Snapshots ---

func (s *Service) CreateSnapshot(ctx context.Context, dataset, name string, recursive bool) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	target := dataset + "@" + name
	if err := zcmd.ValidateSnapshot(target); err != nil {
		return err
	}
	argv := []string{s.bin, "snapshot"}
	if recursive {
		argv = append(argv, "-r")
	}
	argv = append(argv, "--", target)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Clone(ctx context.Context, snapshot, target string, properties map[string]string) error {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	if err := zcmd.ValidateDatasetPath(target); err != nil {
		return err
	}
	argv := []string{s.bin, "clone"}
	for k, v := range properties {
		argv = append(argv, "-o", k+"="+v)
	}
	argv = append(argv, "--", snapshot, target)
	_, err := s.exec(ctx, argv...)
	return err
}

func (s *Service) Promote(ctx context.Context, dataset string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "promote", "--", dataset)
	return err
}

// Rollback reverts a dataset to a snapshot. destroyNewer (-r) also destroys
// snapshots newer than the target.
func (s *Service) Rollback(ctx context.Context, snapshot string, destroyNewer, force bool) error {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	argv := []string{s.bin, "rollback"}
	if destroyNewer {
		argv = append(argv, "-r")
	}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--", snapshot)
	logger.Warn("rolling back to snapshot", "snapshot", snapshot)
	_, err := s.exec(ctx, argv...)
	return err
}

// --- Holds ---

type Hold struct {
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	Timestamp string `json:"timestamp"`
}

func (s *Service) Hold(ctx context.Context, tag, snapshot string) error {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "hold", "--", tag, snapshot)
	return err
}

func (s *Service) Release(ctx context.Context, tag, snapshot string) error {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "release", "--", tag, snapshot)
	return err
}

func (s *Service) Holds(ctx context.Context, snapshot string) ([]Hold, error) {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.bin, "holds", "-H", "--", snapshot)
	if err != nil {
		return nil, err
	}
	holds := []Hold{}
	for _, line := range splitLines(out) {
		parts := strings.Split(line, "\t")
		if len(parts) >= 3 {
			holds = append(holds, Hold{Name: parts[0], Tag: parts[1], Timestamp: parts[2]})
		}
	}
	return holds, nil
}

// --- Bookmarks ---

type Bookmark struct {
	Name     string `json:"name"`
	Creation string `json:"creation"`
}

func (s *Service) CreateBookmark(ctx context.Context, snapshot, name string) error {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	dataset, _, _ := strings.Cut(snapshot, "@")
	full := dataset + "#" + name
	if err := zcmd.ValidateBookmark(full); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "bookmark", "--", snapshot, full)
	return err
}

func (s *Service) Bookmarks(ctx context.Context, dataset string) ([]Bookmark, error) {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.bin, "list", "-Hp", "-o", "name,creation", "-t", "bookmark", "-r", "--", dataset)
	if err != nil {
		return nil, err
	}
	marks := []Bookmark{}
	for _, line := range splitLines(out) {
		f := strings.Split(line, "\t")
		var b Bookmark
		if len(f) > 0 {
			b.Name = f[0]
		}
		if len(f) > 1 {
			b.Creation = f[1]
		}
		marks = append(marks, b)
	}
	return marks, nil
}

// --- Diff ---

// DiffEntry is one line of `zfs diff`: M \t /path, or R \t /old \t /new.
type DiffEntry struct {
	ChangeType string `json:"change_type"`
	Path       string `json:"path"`
	NewPath    string `json:"new_path,omitempty"`
}

func (s *Service) Diff(ctx context.Context, a, b string) ([]DiffEntry, error) {
	if err := validateTarget(a); err != nil {
		return nil, err
	}
	if err := validateTarget(b); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.bin, "diff", "--", a, b)
	if err != nil {
		return nil, err
	}
	entries := []DiffEntry{}
	for _, line := range splitLines(out) {
		parts := strings.Split(line, "\t")
		entry := DiffEntry{ChangeType: parts[0]}
		if len(parts) > 1 {
			entry.Path = parts[1]
		}
		if len(parts) > 2 {
			entry.NewPath = parts[2]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// --- Space accounting ---

type SpaceUsage struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Used    string `json:"used"`
	Quota   string `json:"quota"`
	ObjUsed string `json:"objused"`
}

func (s *Service) Userspace(ctx context.Context, dataset string) ([]SpaceUsage, error) {
	return s.spaceUsage(ctx, "userspace", dataset)
}

func (s *Service) Groupspace(ctx context.Context, dataset string) ([]SpaceUsage, error) {
	return s.spaceUsage(ctx, "groupspace", dataset)
}

func (s *Service) spaceUsage(ctx context.Context, subcmd, dataset string) ([]SpaceUsage, error) {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return nil, err
	}
	out, err := s.exec(ctx, s.bin, subcmd, "-Hp", "--", dataset)
	if err != nil {
		return nil, err
	}
	usage := []SpaceUsage{}
	for _, line := range splitLines(out) {
		parts := strings.Split(line, "\t")
		if len(parts) >= 5 {
			usage = append(usage, SpaceUsage{
				Type: parts[0], Name: parts[1], Used: parts[2], Quota: parts[3], ObjUsed: parts[4],
			})
		}
	}
	return usage, nil
}

// --- Send estimation ---

// SendSizeEstimate runs a dry-run send and extracts the stream size in
// bytes. With -n the size lands on stderr, so both streams are scanned.
func (s *Service) SendSizeEstimate(ctx context.Context, snapshot, incrementalFrom string) (int64, error) {
	if err := zcmd.ValidateSnapshot(snapshot); err != nil {
		return 0, err
	}
	argv := []string{s.bin, "send", "-nvP"}
	if incrementalFrom != "" {
		if err := zcmd.ValidateSnapshot(incrementalFrom); err != nil {
			return 0, err
		}
		argv = append(argv, "-i", incrementalFrom)
	}
	argv = append(argv, "--", snapshot)
	res, err := s.run.Run(ctx, argv...)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(res.Stderr+res.Stdout, "\n") {
		if !strings.Contains(strings.ToLower(line), "size") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if n, err := strconv.ParseInt(field, 10, 64); err == nil {
				return n, nil
			}
		}
	}
	return 0, nil
}

// --- Encryption keys ---

// LoadKey loads a dataset's encryption key, feeding the passphrase on stdin
// when one is given.
func (s *Service) LoadKey(ctx context.Context, dataset, passphrase, keyFile string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	argv := []string{s.bin, "load-key"}
	if keyFile != "" {
		argv = append(argv, "-L", "file://"+keyFile)
	}
	argv = append(argv, "--", dataset)

	var res zcmd.Result
	var err error
	if passphrase != "" {
		res, err = s.run.RunInput(ctx, passphrase+"\n", argv...)
	} else {
		res, err = s.run.Run(ctx, argv...)
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return zfserr.Classify(res.Stderr, res.ExitCode)
	}
	return nil
}

func (s *Service) UnloadKey(ctx context.Context, dataset string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.bin, "unload-key", "--", dataset)
	return err
}

func (s *Service) ChangeKey(ctx context.Context, dataset, newPassphrase, newKeyFile string) error {
	if err := zcmd.ValidateDatasetPath(dataset); err != nil {
		return err
	}
	argv := []string{s.bin, "change-key"}
	if newKeyFile != "" {
		argv = append(argv, "-o", "keylocation=file://"+newKeyFile, "-o", "keyformat=raw")
	} else if newPassphrase != "" {
		argv = append(argv, "-o", "keyformat=passphrase")
	}
	argv = append(argv, "--", dataset)

	var res zcmd.Result
	var err error
	if newPassphrase != "" && newKeyFile == "" {
		res, err = s.run.RunInput(ctx, newPassphrase+"\n", argv...)
	} else {
		res, err = s.run.Run(ctx, argv...)
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return zfserr.Classify(res.Stderr, res.ExitCode)
	}
	return nil
}

// validateTarget accepts a dataset path, snapshot or bookmark name.
func validateTarget(target string) error {
	switch {
	case strings.Contains(target, "@"):
		return zcmd.ValidateSnapshot(target)
	case strings.Contains(target, "#"):
		return zcmd.ValidateBookmark(target)
	default:
		return zcmd.ValidateDatasetPath(target)
	}
}

func splitLines(out string) []string {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(trimmed, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
