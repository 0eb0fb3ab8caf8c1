package stream

import (
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zfsman/zcmd"
)

// fakeIostat emits a since-boot header line followed by n tick lines, then
// exits. Output format matches `zpool iostat -Hp`.
func fakeIostat(n int) func(pool string) *exec.Cmd {
	return func(pool string) *exec.Cmd {
		var b strings.Builder
		fmt.Fprintf(&b, "printf '%s\\t100\\t900\\t0\\t0\\t0\\t0\\n'; ", pool)
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&b, "printf '%s\\t%d\\t900\\t%d\\t%d\\t1024\\t2048\\n'; ", pool, 100+i, i, i*2)
		}
		return exec.Command("sh", "-c", b.String())
	}
}

// hangingIostat emits the header plus one tick and then blocks until killed.
func hangingIostat(pool string) *exec.Cmd {
	script := fmt.Sprintf("printf '%s\\t100\\t900\\t0\\t0\\t0\\t0\\n'; printf '%s\\t101\\t900\\t5\\t6\\t7\\t8\\n'; sleep 600", pool, pool)
	return exec.Command("sh", "-c", script)
}

func collect(sub *Subscription) []IostatSample {
	var out []IostatSample
	for sample := range sub.C {
		out = append(out, sample)
	}
	return out
}

func TestParseIostatLine(t *testing.T) {
	sample := ParseIostatLine("tank", "tank\t1234\t98765\t10\t20\t1048576\t2097152")
	assert.Equal(t, "tank", sample.Pool)
	assert.Equal(t, "1234", sample.Alloc)
	assert.Equal(t, "98765", sample.Free)
	assert.Equal(t, int64(10), sample.ReadOps)
	assert.Equal(t, int64(20), sample.WriteOps)
	assert.Equal(t, int64(1048576), sample.ReadBandwidth)
	assert.Equal(t, int64(2097152), sample.WriteBandwidth)
}

func TestParseIostatLineShort(t *testing.T) {
	sample := ParseIostatLine("tank", "tank\t5")
	assert.Equal(t, "5", sample.Alloc)
	assert.Empty(t, sample.Free)
	assert.Zero(t, sample.ReadOps)

	sample = ParseIostatLine("tank", "tank\t-\t-\tjunk")
	assert.Zero(t, sample.ReadOps)
}

// The first output line is the since-boot average and must not be delivered
// or recorded.
func TestSubscribeSkipsHeaderLine(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.command = fakeIostat(3)

	sub, err := r.Subscribe("tank")
	require.NoError(t, err)

	samples := collect(sub)
	require.Len(t, samples, 3)
	assert.Equal(t, "101", samples[0].Alloc)
	assert.Equal(t, int64(1), samples[0].ReadOps)
	assert.Equal(t, int64(2), samples[0].WriteOps)
	assert.NoError(t, sub.Err())
}

func TestHistoryBoundedOldestEvicted(t *testing.T) {
	r := NewRegistry("zpool", 1, 5)
	r.command = fakeIostat(8)

	sub, err := r.Subscribe("tank")
	require.NoError(t, err)
	collect(sub)

	history := r.History("tank")
	require.Len(t, history, 5)
	// ticks 4..8 survive, oldest first
	assert.Equal(t, int64(4), history[0].ReadOps)
	assert.Equal(t, int64(8), history[4].ReadOps)
}

func TestHistorySurvivesStreamExit(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.command = fakeIostat(2)

	sub, err := r.Subscribe("tank")
	require.NoError(t, err)
	collect(sub)

	assert.Len(t, r.History("tank"), 2)
	assert.Empty(t, r.History("other"))
}

func TestKillClosesSubscribersWithReason(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.command = hangingIostat

	sub, err := r.Subscribe("tank")
	require.NoError(t, err)

	// wait for the first live tick so we know the process is up
	select {
	case <-sub.C:
	case <-time.After(5 * time.Second):
		t.Fatal("no sample before kill")
	}

	done := make(chan struct{})
	go func() {
		collect(sub)
		close(done)
	}()

	r.Kill("tank")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber channel not closed after kill")
	}
	assert.ErrorIs(t, sub.Err(), ErrKilled)
}

func TestKillWithoutStreamIsNoop(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.Kill("nothing-here")
}

func TestSubscribeRefusedWhileDestroying(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.MarkDestroying("tank")

	_, err := r.Subscribe("tank")
	assert.ErrorIs(t, err, ErrPoolDestroying)

	r.ClearDestroying("tank")
	r.command = fakeIostat(1)
	sub, err := r.Subscribe("tank")
	require.NoError(t, err)
	sub.Close()
}

func TestSubscribeRejectsInvalidPoolName(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	spawned := 0
	r.command = func(pool string) *exec.Cmd {
		spawned++
		return fakeIostat(1)(pool)
	}

	for _, name := range []string{"", "-tank", "tank;rm", "tank name", "tank`x`"} {
		_, err := r.Subscribe(name)
		require.Error(t, err, name)
		var verr *zcmd.ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}
	assert.Zero(t, spawned)
	assert.Empty(t, r.History("-tank"))
}

func TestForgetWipesHistoryAndMark(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.command = fakeIostat(2)

	sub, err := r.Subscribe("tank")
	require.NoError(t, err)
	collect(sub)
	require.NotEmpty(t, r.History("tank"))

	r.MarkDestroying("tank")
	r.Forget("tank")

	assert.Empty(t, r.History("tank"))
	_, err = r.Subscribe("tank")
	assert.NoError(t, err)
}

func TestSharedStreamMultipleSubscribers(t *testing.T) {
	r := NewRegistry("zpool", 1, 300)
	r.command = hangingIostat

	a, err := r.Subscribe("tank")
	require.NoError(t, err)
	b, err := r.Subscribe("tank")
	require.NoError(t, err)

	for _, sub := range []*Subscription{a, b} {
		select {
		case sample, ok := <-sub.C:
			require.True(t, ok)
			assert.Equal(t, "101", sample.Alloc)
		case <-time.After(5 * time.Second):
			t.Fatal("subscriber starved")
		}
	}

	// closing one subscriber leaves the other attached
	a.Close()
	r.Kill("tank")
	_, ok := <-b.C
	assert.False(t, ok)
}
