package zpool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zfsman/stream"
	"zfsman/zcmd"
	"zfsman/zfserr"
)

// fakeRunner scripts command outcomes and records every invocation.
type fakeRunner struct {
	mu              sync.Mutex
	calls           [][]string
	failDestroys    int // destroy attempts that fail before one succeeds
	destroyAttempts int
	teardownFail    bool // make every cleanup command fail
}

func (f *fakeRunner) Run(ctx context.Context, argv ...string) (zcmd.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)

	joined := strings.Join(argv, " ")
	switch {
	case strings.Contains(joined, "get -H -o value mountpoint"):
		return zcmd.Result{Stdout: "/tank\n"}, nil
	case len(argv) > 1 && argv[1] == "destroy":
		f.destroyAttempts++
		if f.destroyAttempts <= f.failDestroys {
			return zcmd.Result{ExitCode: 1, Stderr: "cannot destroy 'tank': pool is busy\n"}, nil
		}
		return zcmd.Result{}, nil
	case f.teardownFail:
		return zcmd.Result{ExitCode: 1, Stderr: "operation failed\n"}, nil
	}
	return zcmd.Result{}, nil
}

func (f *fakeRunner) RunInput(ctx context.Context, stdin string, argv ...string) (zcmd.Result, error) {
	return f.Run(ctx, argv...)
}

func (f *fakeRunner) commandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, argv := range f.calls {
		lines[i] = strings.Join(argv, " ")
	}
	return lines
}

func newDestroyFixture(run *fakeRunner) (*Service, *stream.Registry, *[]time.Duration) {
	// "true" stands in for zpool so accidental stream spawns exit harmlessly.
	registry := stream.NewRegistry("true", 1, 300)
	svc := NewService(run, registry, "zpool", "zfs", DestroyPolicy{
		Attempts: 3,
		Backoff:  3 * time.Second,
		Settle:   time.Second,
	})
	sleeps := &[]time.Duration{}
	svc.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return svc, registry, sleeps
}

func TestDestroyRetriesThenSucceeds(t *testing.T) {
	run := &fakeRunner{failDestroys: 2}
	svc, registry, sleeps := newDestroyFixture(run)

	err := svc.Destroy(context.Background(), "tank", false)
	require.NoError(t, err)
	assert.Equal(t, 3, run.destroyAttempts)

	// settle before each attempt, linearly growing backoff between attempts
	assert.Equal(t, []time.Duration{
		time.Second,
		3 * time.Second,
		time.Second,
		6 * time.Second,
		time.Second,
	}, *sleeps)

	// success wipes the destroying mark, so streams may start again
	sub, err := registry.Subscribe("tank")
	require.NoError(t, err)
	sub.Close()
}

func TestDestroyExhaustsAttempts(t *testing.T) {
	run := &fakeRunner{failDestroys: 99}
	svc, registry, sleeps := newDestroyFixture(run)

	err := svc.Destroy(context.Background(), "tank", false)
	require.Error(t, err)

	var zerr *zfserr.Error
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, zfserr.Busy, zerr.Kind)
	assert.Equal(t, 3, run.destroyAttempts)

	// no backoff after the final attempt
	assert.Equal(t, []time.Duration{
		time.Second,
		3 * time.Second,
		time.Second,
		6 * time.Second,
		time.Second,
	}, *sleeps)

	// failure clears the destroying mark so a later destroy can run
	sub, err := registry.Subscribe("tank")
	require.NoError(t, err)
	sub.Close()
}

func TestDestroyForceFlag(t *testing.T) {
	run := &fakeRunner{}
	svc, _, _ := newDestroyFixture(run)

	require.NoError(t, svc.Destroy(context.Background(), "tank", true))

	lines := run.commandLines()
	assert.Contains(t, lines, "zpool destroy -f -- tank")
}

// Cleanup steps run in a fixed order and their failures never abort the
// sequence; the destroy command still gets its chance.
func TestDestroyTeardownOrderAndTolerance(t *testing.T) {
	run := &fakeRunner{teardownFail: true}
	svc, _, _ := newDestroyFixture(run)

	require.NoError(t, svc.Destroy(context.Background(), "tank", false))

	lines := run.commandLines()
	want := []string{
		"pkill -9 -f zpool.*tank",
		"zfs get -H -o value mountpoint -- tank",
		"fuser -k -KILL -m /tank",
		"zfs unshare -- tank",
		"zfs unmount -f -- tank",
		"zpool export -f -- tank",
		"zpool import -- tank",
		"zpool destroy -- tank",
	}
	require.Equal(t, len(want), len(lines))
	for i, cmd := range want {
		assert.Equal(t, cmd, lines[i])
	}
}

func TestDestroyRejectsBadPoolName(t *testing.T) {
	run := &fakeRunner{}
	svc, _, _ := newDestroyFixture(run)

	err := svc.Destroy(context.Background(), "tank; rm -rf /", false)
	require.Error(t, err)
	var verr *zcmd.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, run.commandLines())
}
