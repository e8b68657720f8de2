// Package microvm spawns named-image interpreter sessions, each with its
// own on-disk workdir. Unlike the process runner, instances are long-lived:
// a session is started once and executed against repeatedly until stopped.
package microvm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cyberdevstudio/internal/logging"
	"cyberdevstudio/internal/sberrors"
)

// Image is an immutable interpreter descriptor keyed by Name.
type Image struct {
	Name      string
	Command   string
	Args      []string
	Extension string
	Env       map[string]string
}

// Instance is a running session: an image binding plus a private workdir.
type Instance struct {
	ID        string `json:"id"`
	ImageName string `json:"image_name"`
	Workdir   string `json:"workdir"`
}

// Output is the result of one execute call.
type Output struct {
	ExitCode int           `json:"exit_code"`
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Config is the immutable policy a Runner enforces.
type Config struct {
	Root           string
	Images         map[string]Image
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int64
	BaseEnv        map[string]string
}

type entry struct {
	instance Instance
	image    Image
}

// Runner manages micro-VM instances: named-image interpreter sessions each
// rooted at their own workdir under Config.Root.
type Runner struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	instances map[string]entry
}

// New constructs a Runner. At least one configured image is required.
func New(cfg Config) (*Runner, error) {
	if cfg.MaxOutputBytes <= 0 {
		return nil, sberrors.InvalidOperation("max_output_bytes must be positive")
	}
	if len(cfg.Images) == 0 {
		return nil, sberrors.InvalidOperation("at least one micro image must be configured")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, sberrors.IO(err)
	}
	return &Runner{
		cfg:       cfg,
		log:       logging.L().Named("microvm"),
		instances: make(map[string]entry),
	}, nil
}

// Start allocates a new instance of imageName, optionally running initScript
// once before the instance is registered.
func (r *Runner) Start(ctx context.Context, imageName, initScript string) (Instance, error) {
	image, ok := r.cfg.Images[imageName]
	if !ok {
		return Instance{}, sberrors.MicroImageNotConfigured(imageName)
	}

	id := uuid.NewString()
	workdir := filepath.Join(r.cfg.Root, id)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return Instance{}, sberrors.IO(err)
	}

	inst := Instance{ID: id, ImageName: imageName, Workdir: workdir}

	if initScript != "" {
		out, err := r.runScript(ctx, inst, image, initScript, r.cfg.DefaultTimeout)
		if err != nil {
			os.RemoveAll(workdir)
			return Instance{}, err
		}
		if out.ExitCode != 0 {
			os.RemoveAll(workdir)
			return Instance{}, sberrors.InvalidOperation(fmt.Sprintf("init script exited with code %d", out.ExitCode))
		}
	}

	r.mu.Lock()
	r.instances[id] = entry{instance: inst, image: image}
	r.mu.Unlock()

	return inst, nil
}

// Execute runs code against the instance identified by vmID.
func (r *Runner) Execute(ctx context.Context, vmID, code string, timeout time.Duration) (Output, error) {
	r.mu.Lock()
	e, ok := r.instances[vmID]
	r.mu.Unlock()
	if !ok {
		return Output{}, sberrors.MicroVmNotFound(vmID)
	}

	if timeout == 0 {
		timeout = r.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		return Output{}, sberrors.InvalidOperation("timeout must be positive")
	}
	if timeout > r.cfg.MaxTimeout {
		return Output{}, sberrors.InvalidOperation("timeout exceeds max_timeout")
	}

	return r.runScript(ctx, e.instance, e.image, code, timeout)
}

// Stop removes vmID from the registry and deletes its workdir. A missing
// directory is not an error; a missing id is.
func (r *Runner) Stop(vmID string) error {
	r.mu.Lock()
	e, ok := r.instances[vmID]
	if ok {
		delete(r.instances, vmID)
	}
	r.mu.Unlock()
	if !ok {
		return sberrors.MicroVmNotFound(vmID)
	}
	if err := os.RemoveAll(e.instance.Workdir); err != nil {
		return sberrors.IO(err)
	}
	return nil
}

func (r *Runner) runScript(ctx context.Context, inst Instance, image Image, code string, timeout time.Duration) (Output, error) {
	scriptName := fmt.Sprintf("script_%s.%s", uuid.NewString(), image.Extension)
	scriptPath := filepath.Join(inst.Workdir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(code+"\n"), 0o644); err != nil {
		return Output{}, sberrors.IO(err)
	}
	defer os.Remove(scriptPath)

	env := make([]string, 0, len(r.cfg.BaseEnv)+len(image.Env)+2)
	for k, v := range r.cfg.BaseEnv {
		env = append(env, k+"="+v)
	}
	env = append(env, "HOME="+inst.Workdir, "MICRO_SANDBOX_IMAGE="+image.Name)
	for k, v := range image.Env {
		env = append(env, k+"="+v)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, image.Args...), scriptPath)
	cmd := exec.CommandContext(execCtx, image.Command, args...)
	cmd.Dir = inst.Workdir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	stdoutW := &cappedWriter{buf: &stdout, limit: r.cfg.MaxOutputBytes}
	stderrW := &cappedWriter{buf: &stderr, limit: r.cfg.MaxOutputBytes}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return Output{}, sberrors.Timeout(duration)
	}
	if stdoutW.overflowed {
		return Output{}, sberrors.OutputTooLarge("stdout", r.cfg.MaxOutputBytes)
	}
	if stderrW.overflowed {
		return Output{}, sberrors.OutputTooLarge("stderr", r.cfg.MaxOutputBytes)
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ProcessState.Exited() {
				return Output{ExitCode: exitErr.ExitCode(), Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: duration}, nil
			}
			return Output{}, sberrors.TerminatedBySignal()
		}
		return Output{}, sberrors.IO(err)
	}

	return Output{ExitCode: 0, Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: duration}, nil
}

// cappedWriter mirrors runner's limitedWriter: it drains everything so the
// child never blocks on a full pipe, but flags overflow rather than
// silently truncating.
type cappedWriter struct {
	buf        *bytes.Buffer
	limit      int64
	written    int64
	overflowed bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.overflowed {
		return len(p), nil
	}
	remaining := w.limit - w.written
	if int64(len(p)) > remaining {
		w.overflowed = true
		if remaining > 0 {
			w.buf.Write(p[:remaining])
			w.written += remaining
		}
		return len(p), nil
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	return n, err
}
