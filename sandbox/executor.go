// Package sandbox runs untrusted generated programs in isolated, short-lived
// subprocesses and reports what happened.
//
// Every Execute call materializes the program into its own temporary
// directory and runs it with a filtered environment and bounded stdout/stderr
// capture. The directory is removed before Execute returns. On Linux the
// program runs below a short-lived supervisor that sets resource limits
// before the interpreter starts and kills every descendant when the run ends. Failures of any kind, including failure to
// launch, come back as a Result rather than an error.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Config describes how programs are launched and what they may consume.
type Config struct {
	// Interpreter runs the materialized program, e.g. "python3".
	Interpreter string
	// Args are passed to the interpreter before the program path.
	Args []string
	// FileExt is the extension given to the program file, e.g. ".py".
	FileExt string

	// TempRoot is where per-run directories are created. Empty means os.TempDir().
	TempRoot string

	// Timeout bounds wall-clock time per run. Zero disables it.
	Timeout time.Duration

	// Linux resource limits applied to the child. Zero leaves a limit unset.
	MemoryLimitBytes uint64
	CPUSeconds       uint64
	MaxOpenFiles     uint64
	MaxFileSize      uint64

	// MaxOutputBytes bounds each captured stream. Zero means DefaultMaxOutputBytes.
	MaxOutputBytes int

	// DenyNetwork runs the child in new user and network namespaces (Linux only).
	DenyNetwork bool

	// ExtraEnv is added to the filtered parent environment.
	ExtraEnv map[string]string

	Logger *slog.Logger
}

// DefaultMaxOutputBytes is the per-stream capture limit when none is configured.
const DefaultMaxOutputBytes = 64 * 1024

// DefaultConfig returns a python3 sandbox with conservative limits.
func DefaultConfig() Config {
	return Config{
		Interpreter:      "python3",
		FileExt:          ".py",
		Timeout:          60 * time.Second,
		MemoryLimitBytes: 1 << 30,
		CPUSeconds:       60,
		MaxOpenFiles:     256,
		MaxFileSize:      64 << 20,
		MaxOutputBytes:   DefaultMaxOutputBytes,
	}
}

// Result is the outcome of one Execute call.
type Result struct {
	Success  bool          `json:"success"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`

	launchFailed bool
}

// Executor runs programs according to a Config. It holds no per-run state
// and is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.FileExt == "" {
		cfg.FileExt = ".py"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, logger: logger.With("component", "sandbox")}
}

// Config returns the executor's effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs code as a standalone program and returns its outcome. It never
// returns an error; launch failures, timeouts and cancellation are reported
// through the Result. The per-run directory is gone when Execute returns.
func (e *Executor) Execute(ctx context.Context, code string) Result {
	start := time.Now()
	res := e.execute(ctx, code)
	res.Duration = time.Since(start)

	executionsTotal.WithLabelValues(resultLabel(res)).Inc()
	executionDuration.Observe(res.Duration.Seconds())

	e.logger.DebugContext(ctx, "sandbox run finished",
		"success", res.Success,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration", res.Duration,
		"stdout_bytes", len(res.Stdout),
		"stderr_bytes", len(res.Stderr),
	)
	return res
}

func (e *Executor) execute(ctx context.Context, code string) Result {
	dir, err := os.MkdirTemp(e.cfg.TempRoot, "sandbox-*")
	if err != nil {
		return launchFailure(fmt.Errorf("create run directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove run directory", "dir", dir, "error", err)
		}
	}()

	program := filepath.Join(dir, "main"+e.cfg.FileExt)
	if err := os.WriteFile(program, []byte(code), 0o600); err != nil {
		return launchFailure(fmt.Errorf("write program: %w", err))
	}

	if e.cfg.Interpreter == "" {
		return launchFailure(errors.New("no interpreter configured"))
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	interpreter, err := exec.LookPath(e.cfg.Interpreter)
	if err != nil {
		return launchFailure(fmt.Errorf("start %s: %w", e.cfg.Interpreter, err))
	}
	if interpreter, err = filepath.Abs(interpreter); err != nil {
		return launchFailure(fmt.Errorf("start %s: %w", e.cfg.Interpreter, err))
	}

	cmd, err := newCommand(runCtx, e.cfg, interpreter, program)
	if err != nil {
		return launchFailure(err)
	}
	cmd.Dir = dir
	cmd.Env = buildEnvironment(dir, e.cfg.ExtraEnv)
	cmd.WaitDelay = 2 * time.Second

	stdout := newBoundedBuffer(e.cfg.MaxOutputBytes)
	stderr := newBoundedBuffer(e.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return launchFailure(fmt.Errorf("start %s: %w", e.cfg.Interpreter, err))
	}

	waitErr := cmd.Wait()
	// Backstop for anything still in the group if the supervisor was killed.
	_ = killGroup(cmd.Process)

	if stdout.Truncated() || stderr.Truncated() {
		e.logger.Debug("sandbox output truncated", "limit", e.cfg.MaxOutputBytes)
	}

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	switch {
	case ctx.Err() != nil:
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("execution cancelled: %v", ctx.Err()))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("execution timed out after %s", e.cfg.Timeout))
	case waitErr == nil:
		res.Success = true
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			res.Stderr = appendLine(res.Stderr, waitErr.Error())
		}
		res.Success = errors.Is(waitErr, exec.ErrWaitDelay) && res.ExitCode == 0
	}
	return res
}

func launchFailure(err error) Result {
	return Result{Success: false, Stdout: "", Stderr: err.Error(), ExitCode: -1, launchFailed: true}
}

func appendLine(s, line string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s + line
	}
	return s + "\n" + line
}
