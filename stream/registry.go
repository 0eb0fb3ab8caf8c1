// Package stream owns every long-lived zpool subprocess: per-pool iostat
// streams and the global event feed. These deliberately bypass the zcmd
// admission semaphore — an iostat stream lives as long as its WebSocket
// connection and would starve short calls out of a slot.
package stream

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"zfsman/logger"
	"zfsman/zcmd"
)

// ErrPoolDestroying rejects new subscriptions while a destroy sequence is
// tearing the pool down; an auto-reconnecting dashboard would otherwise
// reopen a pool handle between teardown steps.
var ErrPoolDestroying = errors.New("pool is being destroyed")

// ErrKilled is the teardown reason a subscriber sees when the backing
// process was forcibly terminated rather than exiting on its own.
var ErrKilled = errors.New("stream killed")

// IostatSample is one tick of `zpool iostat -Hp`.
type IostatSample struct {
	Pool           string `json:"pool"`
	Alloc          string `json:"alloc"`
	Free           string `json:"free"`
	ReadOps        int64  `json:"read_iops"`
	WriteOps       int64  `json:"write_iops"`
	ReadBandwidth  int64  `json:"read_bw"`
	WriteBandwidth int64  `json:"write_bw"`
}

// Registry tracks the live stream and bounded sample history per pool, plus
// the set of pools currently being destroyed. It is the only owner of the
// subprocess handles; the destroy orchestrator kills by pool name, never by
// holding a process itself.
type Registry struct {
	mu         sync.Mutex
	streams    map[string]*liveStream
	history    map[string][]IostatSample
	destroying map[string]struct{}

	historyLimit int
	interval     int

	// command is a test seam; production spawns zpool iostat.
	command func(pool string) *exec.Cmd
}

func NewRegistry(zpoolBin string, interval, historyLimit int) *Registry {
	if interval <= 0 {
		interval = 1
	}
	if historyLimit <= 0 {
		historyLimit = 300
	}
	return &Registry{
		streams:      make(map[string]*liveStream),
		history:      make(map[string][]IostatSample),
		destroying:   make(map[string]struct{}),
		historyLimit: historyLimit,
		interval:     interval,
		command: func(pool string) *exec.Cmd {
			return exec.Command(zpoolBin, "iostat", "-Hp", "--", pool, strconv.Itoa(interval))
		},
	}
}

type liveStream struct {
	pool   string
	cmd    *exec.Cmd
	subs   map[int]chan IostatSample
	nextID int
	reason error
	done   chan struct{} // closed once the process is reaped and subs are closed
}

// Subscription is a single consumer of a pool's live stream. C is closed on
// unsubscribe, on process exit, or on Kill; Err distinguishes the latter.
type Subscription struct {
	C <-chan IostatSample

	r    *Registry
	ls   *liveStream
	id   int
	once sync.Once
}

// Close detaches this subscriber without touching its siblings or the
// backing process.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		if ch, ok := s.ls.subs[s.id]; ok {
			delete(s.ls.subs, s.id)
			close(ch)
		}
	})
}

// Err reports why C was closed: nil for a normal process exit or own Close,
// ErrKilled after a forced teardown.
func (s *Subscription) Err() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.ls.reason
}

// Subscribe attaches to the pool's live iostat stream, spawning the backing
// subprocess on first use. The name is checked against the pool grammar
// before anything is spawned or recorded; streams bypass the admission
// semaphore but not the validation contract.
func (r *Registry) Subscribe(pool string) (*Subscription, error) {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.destroying[pool]; gone {
		return nil, ErrPoolDestroying
	}

	ls, ok := r.streams[pool]
	if !ok {
		cmd := r.command(pool)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		ls = &liveStream{
			pool: pool,
			cmd:  cmd,
			subs: make(map[int]chan IostatSample),
			done: make(chan struct{}),
		}
		r.streams[pool] = ls
		logger.Info("iostat stream started", "pool", pool)
		go r.pump(ls, stdout)
	}

	ch := make(chan IostatSample, 16)
	id := ls.nextID
	ls.nextID++
	ls.subs[id] = ch
	return &Subscription{C: ch, r: r, ls: ls, id: id}, nil
}

// pump reads the subprocess's stdout until EOF, recording history and
// fanning samples out. It owns the final cleanup: the process is reaped and
// every remaining subscriber channel closed before done is closed, so Kill
// can treat <-ls.done as "the OS process is gone".
func (r *Registry) pump(ls *liveStream, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			// The first line is the since-boot average, not a live tick.
			first = false
			continue
		}
		sample := ParseIostatLine(ls.pool, line)

		r.mu.Lock()
		buf := append(r.history[ls.pool], sample)
		if excess := len(buf) - r.historyLimit; excess > 0 {
			buf = buf[excess:]
		}
		r.history[ls.pool] = buf

		for _, ch := range ls.subs {
			select {
			case ch <- sample:
			default:
				// Slow consumer; drop rather than stall the stream.
			}
		}
		r.mu.Unlock()
	}

	err := ls.cmd.Wait()

	r.mu.Lock()
	if r.streams[ls.pool] == ls {
		delete(r.streams, ls.pool)
	}
	if ls.reason == nil && err != nil {
		ls.reason = err
	}
	for id, ch := range ls.subs {
		delete(ls.subs, id)
		close(ch)
	}
	r.mu.Unlock()

	logger.Info("iostat stream ended", "pool", ls.pool, "reason", ls.reason)
	close(ls.done)
}

// Kill forcibly terminates the pool's backing subprocess and closes every
// subscriber channel. It returns only after the OS process has been reaped.
// Killing a pool with no active stream is a no-op.
func (r *Registry) Kill(pool string) {
	r.mu.Lock()
	ls, ok := r.streams[pool]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.streams, pool)
	ls.reason = ErrKilled
	r.mu.Unlock()

	if ls.cmd.Process != nil {
		_ = ls.cmd.Process.Kill() // SIGKILL, no graceful shutdown
	}
	<-ls.done
}

// History returns a copy of the recent samples for a pool, oldest first.
func (r *Registry) History(pool string) []IostatSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.history[pool]
	out := make([]IostatSample, len(buf))
	copy(out, buf)
	return out
}

// MarkDestroying makes further Subscribe calls for the pool fail until
// ClearDestroying or Forget.
func (r *Registry) MarkDestroying(pool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroying[pool] = struct{}{}
}

func (r *Registry) ClearDestroying(pool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.destroying, pool)
}

// Forget wipes all registry state for a pool after a successful destroy.
func (r *Registry) Forget(pool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.destroying, pool)
	delete(r.history, pool)
}

func ParseIostatLine(pool, line string) IostatSample {
	fields := strings.Split(line, "\t")
	sample := IostatSample{Pool: pool}
	if len(fields) > 1 {
		sample.Alloc = fields[1]
	}
	if len(fields) > 2 {
		sample.Free = fields[2]
	}
	if len(fields) > 3 {
		sample.ReadOps = toInt(fields[3])
	}
	if len(fields) > 4 {
		sample.WriteOps = toInt(fields[4])
	}
	if len(fields) > 5 {
		sample.ReadBandwidth = toInt(fields[5])
	}
	if len(fields) > 6 {
		sample.WriteBandwidth = toInt(fields[6])
	}
	return sample
}

func toInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
