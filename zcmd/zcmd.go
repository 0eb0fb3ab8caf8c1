package zcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"

	"zfsman/logger"
)

// Result is the captured outcome of one zpool/zfs invocation. A nonzero
// ExitCode is not an error at this layer; callers classify it themselves.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes short administrative commands behind a fixed-size
// admission semaphore. zpool status, zfs list and friends are expensive;
// without the gate a burst of dashboard refreshes can swamp the host.
// Long-lived streaming subprocesses must NOT go through a Runner — they
// would pin a slot for the lifetime of a connection (see the stream package).
type Runner struct {
	sem *semaphore.Weighted

	// execFn is swapped out by tests to count concurrent executions.
	execFn func(ctx context.Context, stdin string, argv []string) (Result, error)
}

func NewRunner(slots int) *Runner {
	if slots <= 0 {
		slots = 1
	}
	return &Runner{
		sem:    semaphore.NewWeighted(int64(slots)),
		execFn: runProcess,
	}
}

// Run executes argv to completion. Waiting for a slot can block
// indefinitely; callers needing bounded latency pass a deadline context.
func (r *Runner) Run(ctx context.Context, argv ...string) (Result, error) {
	return r.RunInput(ctx, "", argv...)
}

// RunInput is Run with data fed on stdin (encryption passphrases).
func (r *Runner) RunInput(ctx context.Context, stdin string, argv ...string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("zcmd: empty command")
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("zcmd: waiting for slot: %w", err)
	}
	defer r.sem.Release(1)

	logger.Debug("running command", "argv", strings.Join(argv, " "))
	return r.execFn(ctx, stdin, argv)
}

func runProcess(ctx context.Context, stdin string, argv []string) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	if err != nil {
		// A missing binary becomes a synthetic failing result, the same
		// shape as any other nonzero exit. Callers treat stderr + exit
		// code as authoritative either way.
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			logger.Error("command not found", "binary", argv[0])
			return Result{
				Stderr:   argv[0] + ": command not found",
				ExitCode: 127,
			}, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("zcmd: %s: %w", argv[0], err)
		}
	}
	return Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}
