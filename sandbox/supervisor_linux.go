//go:build linux

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Any binary linking this package doubles as its own sandbox supervisor. The
// executor re-runs the current executable with one of these names as argv[0]:
//
//	parent -> supervise (child subreaper) -> limit (setrlimit, execve) = interpreter
const (
	superviseArg0 = "wrangler-sandbox-supervise"
	limitArg0     = "wrangler-sandbox-limit"
)

// launchSpec travels as the single argument of both stages.
type launchSpec struct {
	Path   string   `json:"path"`
	Argv   []string `json:"argv"`
	Limits []rlimit `json:"limits,omitempty"`
}

func init() {
	switch os.Args[0] {
	case superviseArg0:
		os.Exit(supervise(os.Args[1:]))
	case limitArg0:
		os.Exit(limitAndExec(os.Args[1:]))
	}
}

func decodeSpec(args []string) (launchSpec, error) {
	var spec launchSpec
	if len(args) != 1 {
		return spec, fmt.Errorf("expected one launch spec argument, got %d", len(args))
	}
	if err := json.Unmarshal([]byte(args[0]), &spec); err != nil {
		return spec, fmt.Errorf("decode launch spec: %w", err)
	}
	if spec.Path == "" || len(spec.Argv) == 0 {
		return spec, errors.New("launch spec names no program")
	}
	return spec, nil
}

// supervise runs the limit stage as its only direct child and, once that
// child is gone, kills whatever the program left behind. SIGTERM ends the
// program early.
func supervise(args []string) int {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGHUP)

	if _, err := decodeSpec(args); err != nil {
		return supervisorFailure(err)
	}
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return supervisorFailure(fmt.Errorf("become child subreaper: %w", err))
	}
	self, err := os.Executable()
	if err != nil {
		return supervisorFailure(fmt.Errorf("locate executable: %w", err))
	}

	cmd := exec.Command(self, args[0])
	cmd.Args[0] = limitArg0
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return supervisorFailure(fmt.Errorf("start program: %w", err))
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-sigs:
		_ = cmd.Process.Kill()
		<-done
	}

	reapDescendants()
	return exitStatus(cmd.ProcessState)
}

// limitAndExec applies the limits to itself and becomes the interpreter, so
// the program never runs unconstrained.
func limitAndExec(args []string) int {
	spec, err := decodeSpec(args)
	if err != nil {
		return supervisorFailure(err)
	}
	if err := setLimits(spec.Limits); err != nil {
		return supervisorFailure(err)
	}
	err = unix.Exec(spec.Path, spec.Argv, os.Environ())
	fmt.Fprintf(os.Stderr, "sandbox: exec %s: %v\n", spec.Path, err)
	return 127
}

func supervisorFailure(err error) int {
	fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
	return 126
}

// reapDescendants SIGKILLs and waits for every remaining child until none is
// left. Orphans re-parent to a child subreaper, so each pass pulls the next
// generation up, including processes that moved to their own session.
func reapDescendants() {
	self := os.Getpid()
	for {
		children := childPIDs(self)
		if len(children) == 0 {
			break
		}
		for _, pid := range children {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
		for _, pid := range children {
			var ws unix.WaitStatus
			_, _ = unix.Wait4(pid, &ws, 0, nil)
		}
	}
	for {
		var ws unix.WaitStatus
		if pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil); pid <= 0 || err != nil {
			return
		}
	}
}

func childPIDs(parent int) []int {
	procs, err := procfs.AllProcs()
	if err != nil {
		return nil
	}
	var pids []int
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		if stat.PPID == parent {
			pids = append(pids, p.PID)
		}
	}
	return pids
}

// exitStatus maps a signal death to the shell convention of 128+signal.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 126
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
