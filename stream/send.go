package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"zfsman/logger"
	"zfsman/zcmd"
)

// SendRequest describes one zfs send piped into zfs receive. A non-empty
// IncrementalFrom makes it an incremental send; Direction "ssh" runs the
// receive side on a remote host.
type SendRequest struct {
	Snapshot        string `json:"snapshot"`
	Destination     string `json:"destination"`
	IncrementalFrom string `json:"incremental_from,omitempty"`
	Direction       string `json:"direction,omitempty"` // local (default), ssh
	SSHHost         string `json:"ssh_host,omitempty"`
	SSHUser         string `json:"ssh_user,omitempty"`
	Recursive       bool   `json:"recursive,omitempty"`
	Raw             bool   `json:"raw,omitempty"`
	Compressed      bool   `json:"compressed,omitempty"`
}

// SendProgress is one update on a running send. Status is starting, progress,
// complete or error; progress updates carry the raw `zfs send -v` stderr line
// and, when the line has a parsable counter, the bytes sent so far.
type SendProgress struct {
	Status string `json:"status"`
	Line   string `json:"line,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

var sshNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]*$`)

// Sender runs send/receive pipelines. Like the iostat streams these live for
// the duration of a client connection and bypass the admission semaphore.
type Sender struct {
	zfsBin string

	// command is a test seam; production execs the argv as given.
	command func(argv []string) *exec.Cmd
}

func NewSender(zfsBin string) *Sender {
	return &Sender{
		zfsBin: zfsBin,
		command: func(argv []string) *exec.Cmd {
			return exec.Command(argv[0], argv[1:]...)
		},
	}
}

// Run validates the request, starts `zfs send | zfs receive` and returns a
// channel of progress updates. The channel is closed after the final
// complete or error update. Cancelling ctx kills both processes.
func (s *Sender) Run(ctx context.Context, req SendRequest) (<-chan SendProgress, error) {
	if err := validateSendRequest(req); err != nil {
		return nil, err
	}

	sendArgv := []string{s.zfsBin, "send", "-v"}
	if req.Recursive {
		sendArgv = append(sendArgv, "-R")
	}
	if req.Raw {
		sendArgv = append(sendArgv, "-w")
	}
	if req.Compressed {
		sendArgv = append(sendArgv, "-c")
	}
	if req.IncrementalFrom != "" {
		sendArgv = append(sendArgv, "-i", req.IncrementalFrom)
	}
	sendArgv = append(sendArgv, "--", req.Snapshot)

	recvArgv := []string{s.zfsBin, "receive", "-F", "-s", "--", req.Destination}
	if req.Direction == "ssh" {
		user := req.SSHUser
		if user == "" {
			user = "root"
		}
		recvArgv = append([]string{"ssh", user + "@" + req.SSHHost}, recvArgv...)
	}

	send := s.command(sendArgv)
	sendOut, err := send.StdoutPipe()
	if err != nil {
		return nil, err
	}
	sendErr, err := send.StderrPipe()
	if err != nil {
		return nil, err
	}

	recv := s.command(recvArgv)
	recv.Stdin = sendOut
	var recvStderr bytes.Buffer
	recv.Stderr = &recvStderr

	if err := send.Start(); err != nil {
		return nil, err
	}
	if err := recv.Start(); err != nil {
		_ = send.Process.Kill()
		_ = send.Wait()
		return nil, err
	}
	logger.Info("replication send started", "snapshot", req.Snapshot, "destination", req.Destination)

	updates := make(chan SendProgress, 16)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			if send.Process != nil {
				_ = send.Process.Kill()
			}
			if recv.Process != nil {
				_ = recv.Process.Kill()
			}
		case <-done:
		}
	}()

	go func() {
		defer close(updates)
		defer close(done)

		updates <- SendProgress{Status: "starting", Line: req.Snapshot}

		var lastBytes int64
		scanner := bufio.NewScanner(sendErr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			p := SendProgress{Status: "progress", Line: line}
			if n := parseSendBytes(line); n > 0 {
				lastBytes = n
				p.Bytes = n
			}
			select {
			case updates <- p:
			default:
				// Slow consumer; drop the tick, the next one supersedes it.
			}
		}

		sendWait := send.Wait()
		recvWait := recv.Wait()

		if sendWait == nil && recvWait == nil {
			logger.Info("replication send complete", "snapshot", req.Snapshot, "bytes", strconv.FormatInt(lastBytes, 10))
			updates <- SendProgress{Status: "complete", Bytes: lastBytes}
			return
		}

		msg := strings.TrimSpace(recvStderr.String())
		if msg == "" {
			if sendWait != nil {
				msg = fmt.Sprintf("send failed: %v", sendWait)
			} else {
				msg = fmt.Sprintf("receive failed: %v", recvWait)
			}
		}
		logger.Error("replication send failed", "snapshot", req.Snapshot, "error", msg)
		updates <- SendProgress{Status: "error", Bytes: lastBytes, Error: msg}
	}()

	return updates, nil
}

func validateSendRequest(req SendRequest) error {
	if err := zcmd.ValidateSnapshot(req.Snapshot); err != nil {
		return err
	}
	if err := zcmd.ValidateDatasetPath(req.Destination); err != nil {
		return err
	}
	if req.IncrementalFrom != "" {
		var err error
		if strings.Contains(req.IncrementalFrom, "#") {
			err = zcmd.ValidateBookmark(req.IncrementalFrom)
		} else {
			err = zcmd.ValidateSnapshot(req.IncrementalFrom)
		}
		if err != nil {
			return err
		}
	}
	switch req.Direction {
	case "", "local":
	case "ssh":
		if !sshNameRE.MatchString(req.SSHHost) {
			return fmt.Errorf("invalid ssh host %q", req.SSHHost)
		}
		if req.SSHUser != "" && !sshNameRE.MatchString(req.SSHUser) {
			return fmt.Errorf("invalid ssh user %q", req.SSHUser)
		}
	default:
		return fmt.Errorf("invalid direction %q: must be local or ssh", req.Direction)
	}
	return nil
}

// parseSendBytes pulls the running byte counter out of a `zfs send -v`
// status line ("HH:MM:SS <bytes> <snapshot>"). Humanized or unexpected lines
// yield 0.
func parseSendBytes(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
