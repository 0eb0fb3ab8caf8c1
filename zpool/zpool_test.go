package zpool

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zfsman/stream"
	"zfsman/zcmd"
	"zfsman/zfserr"
)

// tableRunner answers commands from canned outputs keyed by an argv substring.
type tableRunner struct {
	mu      sync.Mutex
	calls   [][]string
	outputs map[string]zcmd.Result
}

func (t *tableRunner) Run(ctx context.Context, argv ...string) (zcmd.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, argv)
	joined := strings.Join(argv, " ")
	for key, res := range t.outputs {
		if strings.Contains(joined, key) {
			return res, nil
		}
	}
	return zcmd.Result{}, nil
}

func (t *tableRunner) RunInput(ctx context.Context, stdin string, argv ...string) (zcmd.Result, error) {
	return t.Run(ctx, argv...)
}

func (t *tableRunner) lastCall() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return ""
	}
	return strings.Join(t.calls[len(t.calls)-1], " ")
}

func newPoolService(outputs map[string]zcmd.Result) (*Service, *tableRunner) {
	run := &tableRunner{outputs: outputs}
	registry := stream.NewRegistry("true", 1, 300)
	return NewService(run, registry, "zpool", "zfs", DestroyPolicy{}), run
}

func TestListParsesPools(t *testing.T) {
	svc, _ := newPoolService(map[string]zcmd.Result{
		"zpool list": {Stdout: "tank\t1099511627776\t549755813888\t549755813888\t12\t50\tONLINE\n" +
			"backup\t2199023255552\t0\t2199023255552\t0\t0\tDEGRADED\n"},
	})

	pools, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "tank", pools[0].Name)
	assert.Equal(t, "1099511627776", pools[0].Size)
	assert.Equal(t, "12", pools[0].Fragmentation)
	assert.Equal(t, "ONLINE", pools[0].Health)
	assert.Equal(t, "DEGRADED", pools[1].Health)
}

func TestListNoPools(t *testing.T) {
	svc, _ := newPoolService(nil)
	pools, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pools)
	assert.Empty(t, pools)
}

func TestStatusCarriesPoolAndRaw(t *testing.T) {
	svc, _ := newPoolService(map[string]zcmd.Result{
		"zpool status": {Stdout: healthyStatus},
	})

	report, err := svc.Status(context.Background(), "tank")
	require.NoError(t, err)
	assert.Equal(t, "tank", report.Pool)
	assert.Equal(t, healthyStatus, report.Raw)
	assert.Equal(t, "ONLINE", report.State)
}

func TestStatusUnknownPool(t *testing.T) {
	svc, _ := newPoolService(map[string]zcmd.Result{
		"zpool status": {ExitCode: 1, Stderr: "cannot open 'nope': no such pool\n"},
	})

	_, err := svc.Status(context.Background(), "nope")
	require.Error(t, err)
	var zerr *zfserr.Error
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, zfserr.NotFound, zerr.Kind)
}

func TestCreateBuildsArgv(t *testing.T) {
	svc, run := newPoolService(nil)

	err := svc.Create(context.Background(), CreateRequest{
		Name:       "tank",
		Vdevs:      []string{"mirror", "/dev/sda", "/dev/sdb"},
		Force:      true,
		Mountpoint: "/mnt/tank",
	})
	require.NoError(t, err)

	last := run.lastCall()
	assert.Contains(t, last, "zpool create -f")
	assert.Contains(t, last, "-m /mnt/tank")
	assert.Contains(t, last, "-- tank mirror /dev/sda /dev/sdb")
}

func TestImportEmptyNameListsImportable(t *testing.T) {
	svc, run := newPoolService(map[string]zcmd.Result{
		"zpool import": {Stdout: "   pool: oldtank\n     id: 1234\n"},
	})

	out, err := svc.Import(context.Background(), "", false)
	require.NoError(t, err)
	assert.Contains(t, out, "oldtank")
	assert.Equal(t, "zpool import", run.lastCall())
}

func TestScrubActions(t *testing.T) {
	svc, run := newPoolService(nil)

	require.NoError(t, svc.Scrub(context.Background(), "tank", "start"))
	assert.Equal(t, "zpool scrub -- tank", run.lastCall())

	require.NoError(t, svc.Scrub(context.Background(), "tank", "pause"))
	assert.Equal(t, "zpool scrub -p -- tank", run.lastCall())

	require.NoError(t, svc.Scrub(context.Background(), "tank", "stop"))
	assert.Equal(t, "zpool scrub -s -- tank", run.lastCall())
}

func TestOfflineTemporary(t *testing.T) {
	svc, run := newPoolService(nil)

	require.NoError(t, svc.Offline(context.Background(), "tank", "/dev/sda", true))
	assert.Equal(t, "zpool offline -t -- tank /dev/sda", run.lastCall())

	require.NoError(t, svc.Offline(context.Background(), "tank", "/dev/sda", false))
	assert.Equal(t, "zpool offline -- tank /dev/sda", run.lastCall())
}

// The second measurement is the live one; the first is the since-boot
// average and must be discarded.
func TestIostatReturnsSecondSample(t *testing.T) {
	svc, _ := newPoolService(map[string]zcmd.Result{
		"zpool iostat": {Stdout: "tank\t100\t900\t1\t1\t512\t512\ntank\t101\t899\t7\t9\t4096\t8192\n"},
	})

	sample, err := svc.Iostat(context.Background(), "tank")
	require.NoError(t, err)
	assert.Equal(t, "101", sample.Alloc)
	assert.Equal(t, int64(7), sample.ReadOps)
	assert.Equal(t, int64(9), sample.WriteOps)
}

func TestPropertiesParsing(t *testing.T) {
	svc, _ := newPoolService(map[string]zcmd.Result{
		"zpool get all": {Stdout: "tank\tsize\t1099511627776\t-\n" +
			"tank\tautotrim\ton\tlocal\n"},
	})

	props, err := svc.Properties(context.Background(), "tank")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, Property{Value: "on", Source: "local"}, props["autotrim"])
}

func TestValidationBeforeExec(t *testing.T) {
	svc, run := newPoolService(nil)

	_, err := svc.Status(context.Background(), "bad name")
	require.Error(t, err)
	var verr *zcmd.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, run.calls)

	err = svc.SetProperty(context.Background(), "tank", "BadProp", "x")
	assert.Error(t, err)
	assert.Empty(t, run.calls)
}
