//go:build linux

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr(denyNetwork bool) (*syscall.SysProcAttr, error) {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if denyNetwork {
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1}}
	}
	return attr, nil
}

// newCommand starts the program under the supervisor (see supervisor_linux.go).
// The supervisor applies the limits before the interpreter's first
// instruction and kills the whole process tree, setsid escapes included,
// before it exits. Cancellation asks the supervisor to do that early.
func newCommand(ctx context.Context, cfg Config, interpreter, program string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate supervisor: %w", err)
	}
	spec, err := json.Marshal(launchSpec{
		Path:   interpreter,
		Argv:   append(append([]string{cfg.Interpreter}, cfg.Args...), program),
		Limits: limitsFor(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("encode launch spec: %w", err)
	}
	attr, err := sysProcAttr(cfg.DenyNetwork)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, self, string(spec))
	cmd.Args[0] = superviseArg0
	cmd.SysProcAttr = attr
	cmd.Cancel = func() error { return cmd.Process.Signal(unix.SIGTERM) }
	return cmd, nil
}

// killGroup SIGKILLs the process group led by p.
func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

type rlimit struct {
	Resource int    `json:"resource"`
	Value    uint64 `json:"value"`
}

var limitNames = map[int]string{
	unix.RLIMIT_AS:     "address space",
	unix.RLIMIT_CPU:    "cpu",
	unix.RLIMIT_NOFILE: "open files",
	unix.RLIMIT_FSIZE:  "file size",
}

// limitsFor lists the configured limits, skipping zero values. The address
// space limit comes last so nothing is mapped after it is set.
func limitsFor(cfg Config) []rlimit {
	all := []rlimit{
		{Resource: unix.RLIMIT_CPU, Value: cfg.CPUSeconds},
		{Resource: unix.RLIMIT_NOFILE, Value: cfg.MaxOpenFiles},
		{Resource: unix.RLIMIT_FSIZE, Value: cfg.MaxFileSize},
		{Resource: unix.RLIMIT_AS, Value: cfg.MemoryLimitBytes},
	}
	var limits []rlimit
	for _, l := range all {
		if l.Value > 0 {
			limits = append(limits, l)
		}
	}
	return limits
}

// setLimits lowers the calling process's limits. A value above the current
// hard limit is clamped to it.
func setLimits(limits []rlimit) error {
	for _, l := range limits {
		var cur unix.Rlimit
		if err := unix.Getrlimit(l.Resource, &cur); err != nil {
			return fmt.Errorf("read %s limit: %w", limitNames[l.Resource], err)
		}
		v := min(l.Value, cur.Max)
		if err := unix.Setrlimit(l.Resource, &unix.Rlimit{Cur: v, Max: v}); err != nil {
			return fmt.Errorf("%s limit: %w", limitNames[l.Resource], err)
		}
	}
	return nil
}
