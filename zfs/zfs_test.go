package zfs

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zfsman/zcmd"
	"zfsman/zfserr"
)

// scriptRunner answers each command from a canned output table keyed by a
// substring of the joined argv.
type scriptRunner struct {
	mu      sync.Mutex
	calls   [][]string
	stdins  []string
	outputs map[string]zcmd.Result
}

func (s *scriptRunner) Run(ctx context.Context, argv ...string) (zcmd.Result, error) {
	return s.RunInput(ctx, "", argv...)
}

func (s *scriptRunner) RunInput(ctx context.Context, stdin string, argv ...string) (zcmd.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, argv)
	s.stdins = append(s.stdins, stdin)
	joined := strings.Join(argv, " ")
	for key, res := range s.outputs {
		if strings.Contains(joined, key) {
			return res, nil
		}
	}
	return zcmd.Result{}, nil
}

func (s *scriptRunner) lastCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return strings.Join(s.calls[len(s.calls)-1], " ")
}

func newTestService(outputs map[string]zcmd.Result) (*Service, *scriptRunner) {
	run := &scriptRunner{outputs: outputs}
	return NewService(run, "zfs"), run
}

func TestListParsesRows(t *testing.T) {
	svc, run := newTestService(map[string]zcmd.Result{
		"zfs list": {Stdout: "tank\t1024\t2048\t512\t/tank\tlz4\n" +
			"tank/data\t100\t2048\t100\t/tank/data\tzstd\n"},
	})

	datasets, err := svc.List(context.Background(), "tank")
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "tank", datasets[0].Name)
	assert.Equal(t, "/tank", datasets[0].Mountpoint)
	assert.Equal(t, "lz4", datasets[0].Compression)
	assert.Equal(t, "tank/data", datasets[1].Name)
	assert.Contains(t, run.lastCall(), "-r -- tank")
}

func TestListEmptyOutput(t *testing.T) {
	svc, _ := newTestService(nil)
	datasets, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, datasets)
	assert.Empty(t, datasets)
}

func TestPropertiesParsing(t *testing.T) {
	svc, _ := newTestService(map[string]zcmd.Result{
		"zfs get all": {Stdout: "tank/data\tcompression\tzstd\tlocal\n" +
			"tank/data\tatime\toff\tinherited from tank\n" +
			"short\tline\n"},
	})

	props, err := svc.Properties(context.Background(), "tank/data")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, Property{Value: "zstd", Source: "local"}, props["compression"])
	assert.Equal(t, "inherited from tank", props["atime"].Source)
}

func TestNonzeroExitClassified(t *testing.T) {
	svc, _ := newTestService(map[string]zcmd.Result{
		"zfs list": {ExitCode: 1, Stderr: "cannot open 'tank/nope': dataset does not exist\n"},
	})

	_, err := svc.Snapshots(context.Background(), "tank/nope")
	require.Error(t, err)
	var zerr *zfserr.Error
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, zfserr.NotFound, zerr.Kind)
}

func TestCreateVolumeUsesSize(t *testing.T) {
	svc, run := newTestService(nil)

	require.NoError(t, svc.Create(context.Background(), "tank/vol", "10G", nil))
	assert.Contains(t, run.lastCall(), "create -V 10G")

	require.NoError(t, svc.Create(context.Background(), "tank/fs", "", nil))
	assert.NotContains(t, run.lastCall(), "-V")
}

func TestDestroyValidatesTarget(t *testing.T) {
	svc, run := newTestService(nil)

	require.NoError(t, svc.Destroy(context.Background(), "tank/data@old", false, false))
	assert.Contains(t, run.lastCall(), "destroy -- tank/data@old")

	err := svc.Destroy(context.Background(), "tank/data@bad name", false, false)
	require.Error(t, err)
	var verr *zcmd.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestHoldsParsing(t *testing.T) {
	svc, _ := newTestService(map[string]zcmd.Result{
		"zfs holds": {Stdout: "tank/data@snap\tbackup-job\tWed Aug 27 10:00 2025\n"},
	})

	holds, err := svc.Holds(context.Background(), "tank/data@snap")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "backup-job", holds[0].Tag)
}

func TestDiffParsesRename(t *testing.T) {
	svc, _ := newTestService(map[string]zcmd.Result{
		"zfs diff": {Stdout: "M\t/tank/data/file.txt\nR\t/tank/data/a\t/tank/data/b\n+\t/tank/data/new\n"},
	})

	entries, err := svc.Diff(context.Background(), "tank/data@a", "tank/data@b")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, DiffEntry{ChangeType: "M", Path: "/tank/data/file.txt"}, entries[0])
	assert.Equal(t, DiffEntry{ChangeType: "R", Path: "/tank/data/a", NewPath: "/tank/data/b"}, entries[1])
	assert.Equal(t, "+", entries[2].ChangeType)
}

// The dry-run size lands on stderr with -n.
func TestSendSizeEstimate(t *testing.T) {
	svc, _ := newTestService(map[string]zcmd.Result{
		"zfs send -nvP": {Stderr: "full\ttank/data@snap\t1153433600\nsize\t1153433600\n"},
	})

	size, err := svc.SendSizeEstimate(context.Background(), "tank/data@snap", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1153433600), size)
}

func TestLoadKeyFeedsPassphrase(t *testing.T) {
	svc, run := newTestService(nil)

	require.NoError(t, svc.LoadKey(context.Background(), "tank/enc", "hunter22", ""))
	require.NotEmpty(t, run.stdins)
	assert.Equal(t, "hunter22\n", run.stdins[len(run.stdins)-1])
	assert.Contains(t, run.lastCall(), "load-key -- tank/enc")
}

func TestCreateSnapshotBuildsName(t *testing.T) {
	svc, run := newTestService(nil)

	require.NoError(t, svc.CreateSnapshot(context.Background(), "tank/data", "daily-1", true))
	assert.Contains(t, run.lastCall(), "snapshot -r -- tank/data@daily-1")

	err := svc.CreateSnapshot(context.Background(), "tank/data", "bad snap", false)
	assert.Error(t, err)
}
