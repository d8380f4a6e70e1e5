//go:build !unix

package sandbox

import (
	"errors"
	"os"
	"syscall"
)

var errNetworkIsolation = errors.New("network isolation requires Linux namespaces")

func sysProcAttr(denyNetwork bool) (*syscall.SysProcAttr, error) {
	if denyNetwork {
		return nil, errNetworkIsolation
	}
	return nil, nil
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
