// Package proc terminates subprocesses together with everything they spawned.
package proc

import (
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// WaitDelay bounds how long Wait blocks on I/O after the process is killed.
const WaitDelay = 2 * time.Second

// Descendants returns the pids of all live descendants of pid, children first.
func Descendants(pid int) []int32 {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var out []int32
	queue := []*process.Process{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.Children()
		if err != nil {
			continue
		}
		for _, child := range children {
			out = append(out, child.Pid)
			queue = append(queue, child)
		}
	}
	return out
}

// KillTree kills pid and all its descendants. Descendants are collected
// before the parent dies so orphans are not missed.
func KillTree(pid int) error {
	pids := Descendants(pid)

	var errs []error
	if root, err := os.FindProcess(pid); err == nil {
		if err := root.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
	}
	for _, child := range pids {
		p, err := process.NewProcess(child)
		if err != nil {
			continue
		}
		if err := p.Kill(); err != nil {
			if running, _ := p.IsRunning(); running {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Bind makes cancellation of cmd's context kill the whole process tree.
func Bind(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return KillTree(cmd.Process.Pid)
	}
	cmd.WaitDelay = WaitDelay
}
