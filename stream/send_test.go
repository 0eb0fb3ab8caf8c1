package stream

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zfsman/zcmd"
)

// fakeSendPipeline answers the sender seam with shell stand-ins: the send
// side emits progress on stderr and payload on stdout, the receive side
// drains stdin. recvScript overrides the receive stand-in when non-empty.
type fakeSendPipeline struct {
	mu         sync.Mutex
	argvs      [][]string
	sendScript string
	recvScript string
}

func (f *fakeSendPipeline) command(argv []string) *exec.Cmd {
	f.mu.Lock()
	f.argvs = append(f.argvs, argv)
	f.mu.Unlock()

	if argv[0] != "ssh" && argv[1] == "send" {
		return exec.Command("sh", "-c", f.sendScript)
	}
	script := f.recvScript
	if script == "" {
		script = "cat >/dev/null"
	}
	return exec.Command("sh", "-c", script)
}

func newTestSender(sendScript, recvScript string) (*Sender, *fakeSendPipeline) {
	fake := &fakeSendPipeline{sendScript: sendScript, recvScript: recvScript}
	s := NewSender("zfs")
	s.command = fake.command
	return s, fake
}

func collectProgress(t *testing.T, updates <-chan SendProgress) []SendProgress {
	t.Helper()
	var out []SendProgress
	deadline := time.After(10 * time.Second)
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, p)
		case <-deadline:
			t.Fatal("send pipeline did not finish")
		}
	}
}

func TestSendStreamsProgressAndCompletes(t *testing.T) {
	sendScript := "printf 'full\\ttank/data@snap\\t1153433600\\n' >&2; " +
		"printf '12:00:01 512 tank/data@snap\\n' >&2; " +
		"printf '12:00:02 1024 tank/data@snap\\n' >&2; " +
		"printf 'payload'"
	s, _ := newTestSender(sendScript, "")

	updates, err := s.Run(context.Background(), SendRequest{
		Snapshot:    "tank/data@snap",
		Destination: "backup/data",
	})
	require.NoError(t, err)

	got := collectProgress(t, updates)
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, "starting", got[0].Status)

	last := got[len(got)-1]
	assert.Equal(t, "complete", last.Status)
	assert.Equal(t, int64(1024), last.Bytes)

	var lines []string
	for _, p := range got {
		if p.Status == "progress" {
			lines = append(lines, p.Line)
		}
	}
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "512")
}

func TestSendReceiveFailureReportsStderr(t *testing.T) {
	s, _ := newTestSender(
		"printf '12:00:01 512 tank/data@snap\\n' >&2; printf 'payload'",
		"cat >/dev/null; printf 'cannot receive new filesystem stream\\n' >&2; exit 1",
	)

	updates, err := s.Run(context.Background(), SendRequest{
		Snapshot:    "tank/data@snap",
		Destination: "backup/data",
	})
	require.NoError(t, err)

	got := collectProgress(t, updates)
	last := got[len(got)-1]
	assert.Equal(t, "error", last.Status)
	assert.Contains(t, last.Error, "cannot receive new filesystem stream")
}

func TestSendBuildsArgv(t *testing.T) {
	s, fake := newTestSender("printf ''", "")

	updates, err := s.Run(context.Background(), SendRequest{
		Snapshot:        "tank/data@snap",
		Destination:     "backup/data",
		IncrementalFrom: "tank/data@prev",
		Direction:       "ssh",
		SSHHost:         "backup.local",
		Recursive:       true,
		Raw:             true,
		Compressed:      true,
	})
	require.NoError(t, err)
	collectProgress(t, updates)

	require.Len(t, fake.argvs, 2)
	sendArgv := strings.Join(fake.argvs[0], " ")
	assert.Equal(t, "zfs send -v -R -w -c -i tank/data@prev -- tank/data@snap", sendArgv)
	recvArgv := strings.Join(fake.argvs[1], " ")
	assert.Equal(t, "ssh root@backup.local zfs receive -F -s -- backup/data", recvArgv)
}

func TestSendValidatesBeforeSpawning(t *testing.T) {
	s, fake := newTestSender("printf ''", "")

	cases := []SendRequest{
		{Snapshot: "tank/data", Destination: "backup/data"},
		{Snapshot: "tank/data@snap", Destination: "/backup"},
		{Snapshot: "tank/data@snap", Destination: "backup/data", IncrementalFrom: "nope"},
		{Snapshot: "tank/data@snap", Destination: "backup/data", Direction: "carrier-pigeon"},
		{Snapshot: "tank/data@snap", Destination: "backup/data", Direction: "ssh"},
	}
	for i, req := range cases {
		_, err := s.Run(context.Background(), req)
		require.Error(t, err, i)
	}
	assert.Empty(t, fake.argvs)

	var verr *zcmd.ValidationError
	_, err := s.Run(context.Background(), cases[0])
	assert.ErrorAs(t, err, &verr)
}

func TestSendCancelKillsPipeline(t *testing.T) {
	s, _ := newTestSender("printf '12:00:01 512 tank/data@snap\\n' >&2; sleep 600", "")

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := s.Run(ctx, SendRequest{
		Snapshot:    "tank/data@snap",
		Destination: "backup/data",
	})
	require.NoError(t, err)

	// wait for the first progress tick so the processes are up
	deadline := time.After(10 * time.Second)
	for running := true; running; {
		select {
		case p, ok := <-updates:
			require.True(t, ok, "pipeline ended before cancel")
			if p.Status == "progress" {
				running = false
			}
		case <-deadline:
			t.Fatal("no progress before cancel")
		}
	}
	cancel()

	got := collectProgress(t, updates)
	require.NotEmpty(t, got)
	assert.Equal(t, "error", got[len(got)-1].Status)
}

func TestParseSendBytes(t *testing.T) {
	assert.Equal(t, int64(1153433600), parseSendBytes("12:00:01 1153433600 tank/data@snap"))
	assert.Zero(t, parseSendBytes("full\ttank/data@snap\t1.07G"))
	assert.Zero(t, parseSendBytes("single"))
	assert.Zero(t, parseSendBytes(""))
}
