package zpool

import (
	"context"
	"strconv"
	"strings"
	"time"

	"zfsman/logger"
	"zfsman/zcmd"
	"zfsman/zfserr"
)

// teardownStep is one entry of the destroy sequence. Every step runs
// best-effort: a pool stuck in a degraded kernel state must still get a
// genuine destroy attempt, so failures are logged and the sequence moves on.
type teardownStep struct {
	name string
	run  func(ctx context.Context) error
}

// Destroy tears a pool down and destroys it. zpool refuses to destroy a
// pool with any open handle, and several independent subsystems can hold
// one (iostat streams, shell sessions inside the mountpoint, stale zpool
// invocations), so this is an ordered protocol rather than a single command:
//
//  1. mark the pool as being destroyed — new stream subscriptions are
//     refused immediately, so a reconnecting client cannot reopen a handle
//     mid-teardown
//  2. kill the pool's live streams, synchronously
//  3. kill lingering zpool processes matching the pool name
//  4. kill processes holding the mountpoint open
//  5. unshare, then force-unmount
//  6. export (may legitimately fail when nothing is attached)
//  7. re-import (destroy needs the pool attached; may already be)
//  8. run zpool destroy with retries, re-killing streams before each
//     attempt and backing off linearly between them
//
// Success wipes all registry state for the pool. Failure unmarks it so a
// later destroy can run.
func (s *Service) Destroy(ctx context.Context, pool string, force bool) error {
	if err := zcmd.ValidatePoolName(pool); err != nil {
		return err
	}

	logger.Warn("destroying pool", "pool", pool, "force", force)
	s.streams.MarkDestroying(pool)

	for _, step := range s.teardownSteps(pool) {
		if err := step.run(ctx); err != nil {
			logger.Warn("destroy cleanup step failed", "pool", pool, "step", step.name, "error", err.Error())
		}
	}

	err := s.destroyWithRetries(ctx, pool, force)
	if err != nil {
		s.streams.ClearDestroying(pool)
		logger.Error("pool destroy failed", "pool", pool, "error", err.Error())
		return err
	}

	s.streams.Forget(pool)
	logger.Info("pool destroyed", "pool", pool)
	return nil
}

// teardownSteps is the auditable ordered list run before the destructive
// command.
func (s *Service) teardownSteps(pool string) []teardownStep {
	return []teardownStep{
		{"kill iostat streams", func(ctx context.Context) error {
			s.streams.Kill(pool)
			return nil
		}},
		{"kill lingering zpool processes", func(ctx context.Context) error {
			return s.checked(ctx, "pkill", "-9", "-f", "zpool.*"+pool)
		}},
		{"kill mountpoint holders", func(ctx context.Context) error {
			return s.checked(ctx, "fuser", "-k", "-KILL", "-m", s.mountpoint(ctx, pool))
		}},
		{"unshare", func(ctx context.Context) error {
			return s.checked(ctx, s.zfsBin, "unshare", "--", pool)
		}},
		{"force unmount", func(ctx context.Context) error {
			return s.checked(ctx, s.zfsBin, "unmount", "-f", "--", pool)
		}},
		{"export", func(ctx context.Context) error {
			return s.checked(ctx, s.zpoolBin, "export", "-f", "--", pool)
		}},
		{"re-import", func(ctx context.Context) error {
			return s.checked(ctx, s.zpoolBin, "import", "--", pool)
		}},
	}
}

func (s *Service) destroyWithRetries(ctx context.Context, pool string, force bool) error {
	argv := []string{s.zpoolBin, "destroy"}
	if force {
		argv = append(argv, "-f")
	}
	argv = append(argv, "--", pool)

	var lastErr error
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		// A reconnecting client may have respawned a blocking subprocess
		// since the teardown steps ran (or since the previous attempt).
		s.streams.Kill(pool)
		s.sleep(s.policy.Settle)

		res, err := s.run.Run(ctx, argv...)
		switch {
		case err != nil:
			lastErr = err
		case res.ExitCode == 0:
			return nil
		default:
			lastErr = zfserr.Classify(res.Stderr, res.ExitCode)
		}

		logger.Warn("zpool destroy attempt failed",
			"pool", pool, "attempt", strconv.Itoa(attempt), "error", lastErr.Error())
		if attempt < s.policy.Attempts {
			s.sleep(time.Duration(attempt) * s.policy.Backoff)
		}
	}
	return lastErr
}

// checked runs argv through the admission-controlled runner and surfaces a
// nonzero exit as an error (classified for the log line).
func (s *Service) checked(ctx context.Context, argv ...string) error {
	res, err := s.run.Run(ctx, argv...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return zfserr.Classify(res.Stderr, res.ExitCode)
	}
	return nil
}

// mountpoint resolves the pool's filesystem mountpoint, falling back to the
// default /<pool> layout when the query fails.
func (s *Service) mountpoint(ctx context.Context, pool string) string {
	res, err := s.run.Run(ctx, s.zfsBin, "get", "-H", "-o", "value", "mountpoint", "--", pool)
	if err == nil && res.ExitCode == 0 {
		mp, _, _ := strings.Cut(res.Stdout, "\n")
		mp = strings.TrimSpace(mp)
		if mp != "" && mp != "-" && mp != "none" && mp != "legacy" {
			return mp
		}
	}
	return "/" + pool
}
