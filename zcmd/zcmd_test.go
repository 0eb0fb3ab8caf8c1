package zcmd

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEmptyArgv(t *testing.T) {
	r := NewRunner(2)
	_, err := r.Run(context.Background())
	require.Error(t, err)
}

func TestRunReturnsResult(t *testing.T) {
	r := NewRunner(1)
	r.execFn = func(ctx context.Context, stdin string, argv []string) (Result, error) {
		assert.Equal(t, []string{"zpool", "list"}, argv)
		return Result{Stdout: "tank\n", ExitCode: 0}, nil
	}
	res, err := r.Run(context.Background(), "zpool", "list")
	require.NoError(t, err)
	assert.Equal(t, "tank\n", res.Stdout)
	assert.Zero(t, res.ExitCode)
}

func TestRunInputForwardsStdin(t *testing.T) {
	r := NewRunner(1)
	var got string
	r.execFn = func(ctx context.Context, stdin string, argv []string) (Result, error) {
		got = stdin
		return Result{}, nil
	}
	_, err := r.RunInput(context.Background(), "secret\n", "zfs", "load-key", "tank/enc")
	require.NoError(t, err)
	assert.Equal(t, "secret\n", got)
}

// The admission semaphore must never let more than the configured number of
// commands execute at once.
func TestRunConcurrencyCap(t *testing.T) {
	const slots = 4
	const workers = 32

	r := NewRunner(slots)

	var running, peak int64
	r.execFn = func(ctx context.Context, stdin string, argv []string) (Result, error) {
		n := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return Result{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(context.Background(), "zpool", "list")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(slots))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	r := NewRunner(1)
	release := make(chan struct{})
	r.execFn = func(ctx context.Context, stdin string, argv []string) (Result, error) {
		<-release
		return Result{}, nil
	}

	go r.Run(context.Background(), "zpool", "list")
	time.Sleep(10 * time.Millisecond) // let the first call take the slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, "zpool", "list")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

// A missing binary is reported as exit 127 with a shell-style message, not
// as a Go error.
func TestRunMissingBinary(t *testing.T) {
	r := NewRunner(1)
	res, err := r.Run(context.Background(), "definitely-not-a-real-binary-zfsman")
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)
	assert.Equal(t, "definitely-not-a-real-binary-zfsman: command not found", res.Stderr)
	assert.Empty(t, res.Stdout)
}
