//go:build !linux

package sandbox

import (
	"context"
	"os/exec"
)

// newCommand runs the interpreter directly. Resource limits and tree-wide
// cleanup need Linux; elsewhere the process group is the only boundary.
func newCommand(ctx context.Context, cfg Config, interpreter, program string) (*exec.Cmd, error) {
	attr, err := sysProcAttr(cfg.DenyNetwork)
	if err != nil {
		return nil, err
	}
	args := append(append([]string(nil), cfg.Args...), program)
	cmd := exec.CommandContext(ctx, interpreter, args...)
	cmd.SysProcAttr = attr
	cmd.Cancel = func() error { return killGroup(cmd.Process) }
	return cmd, nil
}
