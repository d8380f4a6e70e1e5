//go:build unix && !linux

package sandbox

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var errNetworkIsolation = errors.New("network isolation requires Linux namespaces")

func sysProcAttr(denyNetwork bool) (*syscall.SysProcAttr, error) {
	if denyNetwork {
		return nil, errNetworkIsolation
	}
	return &syscall.SysProcAttr{Setpgid: true}, nil
}

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
