// Package runner spawns allow-listed programs under an enforced deadline,
// environment policy, and output cap. It holds no mutable state beyond its
// own execution counters; configuration is immutable once constructed.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cyberdevstudio/internal/logging"
	"cyberdevstudio/internal/sandbox/pathguard"
	"cyberdevstudio/internal/sberrors"
)

// Request describes a single program invocation. Interactive requests a
// pty instead of plain pipes, for programs that behave differently
// without a controlling terminal;
// stdout and stderr are not distinguishable over a pty, so Output.Stderr
// is always empty for an interactive run.
type Request struct {
	Program     string
	Args        []string
	Env         map[string]string
	Stdin       string
	WorkingDir  string
	Timeout     time.Duration
	Interactive bool
}

// Output is the result of a completed execution.
type Output struct {
	ExitCode int           `json:"exit_code"`
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Config is the immutable policy a Runner enforces on every Execute call.
type Config struct {
	Root           string
	AllowedPrograms map[string]struct{}
	EnvAllowlist   map[string]struct{}
	FixedEnv       map[string]string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int64
}

// Runner executes allow-listed programs within Config's policy.
type Runner struct {
	cfg   Config
	guard *pathguard.Guard
	log   *zap.Logger

	mu    sync.Mutex
	stats Stats
	audit *AuditLog
}

// Stats tracks cumulative execution counts across a Runner's lifetime.
type Stats struct {
	Total       int64 `json:"total"`
	Succeeded   int64 `json:"succeeded"`
	TimedOut    int64 `json:"timed_out"`
	Signalled   int64 `json:"signalled"`
	OutputCapped int64 `json:"output_capped"`
	Failed      int64 `json:"failed"`
}

// New constructs a Runner. At least one allowed program is required, and
// max_timeout must be at least default_timeout.
func New(cfg Config) (*Runner, error) {
	if cfg.MaxOutputBytes <= 0 {
		return nil, sberrors.InvalidOperation("max_output_bytes must be positive")
	}
	if len(cfg.AllowedPrograms) == 0 {
		return nil, sberrors.InvalidOperation("at least one allowed program is required")
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		return nil, sberrors.InvalidOperation("max_timeout must be >= default_timeout")
	}
	guard, err := pathguard.New(cfg.Root)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, guard: guard, log: logging.L().Named("runner")}, nil
}

// EnableAuditLog turns on JSONL audit logging of Execute calls to path.
// Calls rejected by policy before a process is spawned (program, working
// dir, timeout, env) are not recorded.
func (r *Runner) EnableAuditLog(path string) error {
	a, err := NewAuditLog(path)
	if err != nil {
		return err
	}
	r.audit = a
	return nil
}

// Stats returns a snapshot of cumulative execution counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Execute runs req against the configured policy, returning Output on a
// clean numeric exit, or a *sberrors.Error for every policy violation,
// timeout, signal termination, or output overrun.
func (r *Runner) Execute(ctx context.Context, req Request) (Output, error) {
	if _, ok := r.cfg.AllowedPrograms[req.Program]; !ok {
		r.record(func(s *Stats) { s.Failed++ })
		return Output{}, sberrors.InvalidOperation(fmt.Sprintf("program %q is not permitted", req.Program))
	}

	workDir := r.cfg.Root
	if req.WorkingDir != "" {
		abs, err := r.guard.Resolve(req.WorkingDir)
		if err != nil {
			r.record(func(s *Stats) { s.Failed++ })
			return Output{}, err
		}
		workDir = abs
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		r.record(func(s *Stats) { s.Failed++ })
		return Output{}, sberrors.InvalidOperation("timeout must be positive")
	}
	if timeout > r.cfg.MaxTimeout {
		r.record(func(s *Stats) { s.Failed++ })
		return Output{}, sberrors.InvalidOperation("timeout exceeds max_timeout")
	}

	env := make([]string, 0, len(r.cfg.FixedEnv)+len(req.Env))
	for k, v := range r.cfg.FixedEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Env {
		if _, ok := r.cfg.EnvAllowlist[k]; !ok {
			r.record(func(s *Stats) { s.Failed++ })
			return Output{}, sberrors.InvalidOperation(fmt.Sprintf("environment key %q is not allowlisted", k))
		}
		env = append(env, k+"="+v)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Program, req.Args...)
	cmd.Dir = workDir
	cmd.Env = env
	applyProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	stdoutW := &limitedWriter{w: &stdout, limit: r.cfg.MaxOutputBytes}
	stderrW := &limitedWriter{w: &stderr, limit: r.cfg.MaxOutputBytes}

	executionID := uuid.NewString()

	var start time.Time
	var err error
	if req.Interactive {
		start, err = r.runPTY(cmd, req, stdoutW)
	} else {
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW
		if req.Stdin != "" {
			cmd.Stdin = strings.NewReader(req.Stdin)
		}
		start = time.Now()
		err = cmd.Run()
	}
	duration := time.Since(start)

	// logAudit records the final outcome of this execution; call exactly
	// once, from whichever branch below determines the result.
	logAudit := func(exitCode int, auditErr error) {
		if r.audit == nil {
			return
		}
		entry := AuditEntry{
			Timestamp:   start,
			ExecutionID: executionID,
			Program:     req.Program,
			Args:        req.Args,
			DurationMs:  duration.Milliseconds(),
			ExitCode:    exitCode,
		}
		if auditErr != nil {
			entry.Error = auditErr.Error()
		}
		r.audit.Log(entry)
	}

	if execCtx.Err() == context.DeadlineExceeded {
		killProcessTree(cmd)
		r.record(func(s *Stats) { s.TimedOut++ })
		timeoutErr := sberrors.Timeout(duration)
		logAudit(0, timeoutErr)
		return Output{}, timeoutErr
	}

	if stdoutW.overflowed {
		r.record(func(s *Stats) { s.OutputCapped++ })
		capErr := sberrors.OutputTooLarge("stdout", r.cfg.MaxOutputBytes)
		logAudit(0, capErr)
		return Output{}, capErr
	}
	if stderrW.overflowed {
		r.record(func(s *Stats) { s.OutputCapped++ })
		capErr := sberrors.OutputTooLarge("stderr", r.cfg.MaxOutputBytes)
		logAudit(0, capErr)
		return Output{}, capErr
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ProcessState.Exited() {
				r.record(func(s *Stats) { s.Succeeded++ })
				logAudit(exitErr.ExitCode(), nil)
				return Output{ExitCode: exitErr.ExitCode(), Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: duration}, nil
			}
			r.record(func(s *Stats) { s.Signalled++ })
			sigErr := sberrors.TerminatedBySignal()
			logAudit(0, sigErr)
			return Output{}, sigErr
		}
		r.record(func(s *Stats) { s.Failed++ })
		logAudit(0, err)
		return Output{}, sberrors.IO(err)
	}

	r.record(func(s *Stats) { s.Succeeded++ })
	logAudit(0, nil)
	return Output{ExitCode: 0, Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: duration}, nil
}

// runPTY starts cmd attached to a pty, copying its combined output into out
// until the pty closes, and returns the start time for duration accounting.
// cmd.Wait is called here rather than by the caller since the copy goroutine
// must drain the pty before Wait can observe the child's exit.
func (r *Runner) runPTY(cmd *exec.Cmd, req Request, out *limitedWriter) (time.Time, error) {
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	// pty.Start makes the child a session leader, which already gives it its
	// own process group (so killGroup still reaches it); Setpgid on top of
	// Setsid makes fork/exec fail with EPERM.
	cmd.SysProcAttr = nil

	start := time.Now()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return start, err
	}
	defer ptmx.Close()

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(out, ptmx)
		close(done)
	}()

	err = cmd.Wait()
	<-done
	return start, err
}

func (r *Runner) record(mutate func(*Stats)) {
	r.mu.Lock()
	r.stats.Total++
	mutate(&r.stats)
	r.mu.Unlock()
}

// limitedWriter buffers writes up to limit; once exceeded it discards
// further bytes but still drains them so the child never blocks on a full
// pipe, and flags overflowed so the caller raises OutputTooLarge instead of
// silently truncating.
type limitedWriter struct {
	w          io.Writer
	limit      int64
	written    int64
	overflowed bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.overflowed {
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	if int64(len(p)) > remaining {
		lw.overflowed = true
		if remaining > 0 {
			lw.w.Write(p[:remaining])
			lw.written += remaining
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return n, err
}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	killGroup(cmd)
	_ = cmd.Process.Kill()
}
