package stream

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"zfsman/logger"
)

// EventFeed is the global `zpool events -f -H` stream. Unlike iostat
// streams it has no per-pool key and is never force-killed by the destroy
// orchestrator; pools come and go underneath it. The subprocess starts with
// the first subscriber and is terminated when the last one leaves.
type EventFeed struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	subs   map[int]chan string
	nextID int

	// command is a test seam; production spawns zpool events.
	command func() *exec.Cmd
}

func NewEventFeed(zpoolBin string) *EventFeed {
	return &EventFeed{
		subs: make(map[int]chan string),
		command: func() *exec.Cmd {
			return exec.Command(zpoolBin, "events", "-f", "-H")
		},
	}
}

// EventSubscription delivers raw event lines on C until Close.
type EventSubscription struct {
	C <-chan string

	f    *EventFeed
	id   int
	once sync.Once
}

func (s *EventSubscription) Close() {
	s.once.Do(func() {
		s.f.mu.Lock()
		if ch, ok := s.f.subs[s.id]; ok {
			delete(s.f.subs, s.id)
			close(ch)
		}
		stop := len(s.f.subs) == 0 && s.f.cmd != nil
		var cmd *exec.Cmd
		var done chan struct{}
		if stop {
			cmd, done = s.f.cmd, s.f.done
			s.f.cmd, s.f.done = nil, nil
		}
		s.f.mu.Unlock()

		if stop {
			if cmd.Process != nil {
				_ = cmd.Process.Signal(syscall.SIGTERM)
			}
			<-done
		}
	})
}

func (f *EventFeed) Subscribe() (*EventSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cmd == nil {
		cmd := f.command()
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		f.cmd = cmd
		f.done = make(chan struct{})
		logger.Info("event feed started")
		go f.pump(cmd, f.done, stdout)
	}

	ch := make(chan string, 32)
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	return &EventSubscription{C: ch, f: f, id: id}, nil
}

func (f *EventFeed) pump(cmd *exec.Cmd, done chan struct{}, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		f.mu.Lock()
		for _, ch := range f.subs {
			select {
			case ch <- line:
			default:
			}
		}
		f.mu.Unlock()
	}

	_ = cmd.Wait()

	f.mu.Lock()
	if f.cmd == cmd {
		// Unexpected exit: drop subscribers so clients see the close.
		f.cmd, f.done = nil, nil
		for id, ch := range f.subs {
			delete(f.subs, id)
			close(ch)
		}
	}
	f.mu.Unlock()

	logger.Info("event feed ended")
	close(done)
}
