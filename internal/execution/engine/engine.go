// Package engine launches, limits and terminates the child processes of a run.
package engine

import (
	"context"
	"io"
	"time"
)

// Engine starts child processes with piped stdio.
type Engine interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// Process is a started child running in its own process group.
//
// The stdio ends returned by Stdin, Stdout and Stderr belong to the caller.
// Stdout and Stderr reach EOF once every process holding the write ends has exited.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// Done is closed after the child has been reaped.
	Done() <-chan struct{}
	// Exit is valid once Done is closed.
	Exit() Exit
	// Exited reports whether the child has exited, including the window
	// before its reap closes Done.
	Exited() bool

	// Terminate sends SIGTERM to the process group and escalates to SIGKILL
	// after grace. It does not block; wait on Done for the reap.
	Terminate(grace time.Duration)

	// KillGroup sends SIGKILL to every process left in the group. Call after
	// Done so children the program forked do not outlive the run.
	KillGroup()

	// OOMKilled reports whether the cgroup recorded an OOM kill.
	OOMKilled() bool

	// Release frees the cgroup. Call after Done.
	Release() error
}

// Spec describes one process launch.
type Spec struct {
	// ID names the cgroup directory. It must be unique among live processes.
	ID      string
	Cmd     []string
	Env     []string
	WorkDir string
	Limits  Limits
	// Sandboxed wraps the command with the run-init helper when one is configured.
	Sandboxed bool
}

// Limits are per-process resource caps. Zero disables a cap.
type Limits struct {
	CPUSeconds int64 `yaml:"cpuSeconds"`
	MemoryMB   int64 `yaml:"memoryMB"`
	StackMB    int64 `yaml:"stackMB"`
	FileSizeMB int64 `yaml:"fileSizeMB"`
	PIDs       int64 `yaml:"pids"`
}

// Exit is the reaped state of a process.
type Exit struct {
	Code     int
	Signaled bool
	Signal   string
	Err      error
	Duration time.Duration
}

// Config controls engine behavior.
type Config struct {
	// HelperPath is the run-init binary. Empty runs commands directly.
	HelperPath     string `yaml:"helperPath"`
	SeccompProfile string `yaml:"seccompProfile"`
	EnableCgroup   bool   `yaml:"enableCgroup"`
	CgroupRoot     string `yaml:"cgroupRoot"`
}
