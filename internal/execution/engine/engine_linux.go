//go:build linux

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"livecode/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux process engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Start(ctx context.Context, spec Spec) (Process, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	argv := spec.Cmd
	if spec.Sandboxed {
		argv = helperArgv(e.cfg, spec.Limits, spec.Cmd)
	}

	cgroupPath := ""
	if e.cfg.EnableCgroup && spec.Sandboxed {
		var err error
		cgroupPath, err = createRunCgroup(e.cfg.CgroupRoot, spec.ID)
		if err != nil {
			return nil, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, spec.Limits); err != nil {
			_ = removeCgroup(cgroupPath)
			return nil, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}

	pipes, err := newStdioPipes()
	if err != nil {
		if cgroupPath != "" {
			_ = removeCgroup(cgroupPath)
		}
		return nil, err
	}

	// exec.Command rather than CommandContext: the caller owns the lifetime
	// and terminates through Terminate, which signals the whole group.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env
	cmd.Stdin = pipes.stdinR
	cmd.Stdout = pipes.stdoutW
	cmd.Stderr = pipes.stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	start := time.Now()
	startErr := cmd.Start()
	pipes.closeChildEnds()
	if startErr != nil {
		pipes.closeParentEnds()
		if cgroupPath != "" {
			_ = removeCgroup(cgroupPath)
		}
		return nil, fmt.Errorf("start %s: %w", argv[0], startErr)
	}

	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	p := &linuxProcess{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		stdin:      pipes.stdinW,
		stdout:     pipes.stdoutR,
		stderr:     pipes.stderrR,
		cgroupPath: cgroupPath,
		start:      start,
		done:       make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type linuxProcess struct {
	cmd        *exec.Cmd
	pid        int
	stdin      *os.File
	stdout     *os.File
	stderr     *os.File
	cgroupPath string
	start      time.Time

	done          chan struct{}
	exit          Exit
	terminateOnce sync.Once
	releaseOnce   sync.Once
}

func (p *linuxProcess) Pid() int { return p.pid }
func (p *linuxProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *linuxProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *linuxProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *linuxProcess) Done() <-chan struct{} { return p.done }
func (p *linuxProcess) Exit() Exit { <-p.done; return p.exit }
func (p *linuxProcess) OOMKilled() bool { return wasOomKilled(p.cgroupPath) }

// wait is the dedicated exit waiter. It is the only caller of cmd.Wait.
func (p *linuxProcess) wait() {
	err := p.cmd.Wait()
	exit := Exit{
		Code:     exitCodeFromErr(err, p.cmd.ProcessState),
		Duration: time.Since(p.start),
	}
	if state := p.cmd.ProcessState; state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signaled = true
			exit.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	p.exit = exit
	close(p.done)
}

func (p *linuxProcess) Terminate(grace time.Duration) {
	p.terminateOnce.Do(func() {
		if p.exited() {
			return
		}
		_ = syscall.Kill(-p.pid, syscall.SIGTERM)
		go func() {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-p.done:
				// The leader is gone; sweep any stragglers left in its group.
				_ = syscall.Kill(-p.pid, syscall.SIGKILL)
			case <-timer.C:
				_ = syscall.Kill(-p.pid, syscall.SIGKILL)
				if p.cgroupPath != "" {
					_ = killCgroup(p.cgroupPath)
				}
			}
		}()
	})
}

func (p *linuxProcess) KillGroup() {
	_ = syscall.Kill(-p.pid, syscall.SIGKILL)
	if p.cgroupPath != "" {
		_ = killCgroup(p.cgroupPath)
	}
}

func (p *linuxProcess) Exited() bool {
	if p.exited() {
		return true
	}
	// WNOWAIT leaves the zombie for cmd.Wait. Without a waitable child the
	// kernel zeroes info.
	var info unix.Siginfo
	err := unix.Waitid(unix.P_PID, p.pid, &info, unix.WEXITED|unix.WNOHANG|unix.WNOWAIT, nil)
	if errors.Is(err, unix.ECHILD) {
		return true
	}
	return err == nil && info.Signo == int32(unix.SIGCHLD)
}

func (p *linuxProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *linuxProcess) Release() error {
	var err error
	p.releaseOnce.Do(func() {
		if p.cgroupPath == "" {
			return
		}
		_ = killCgroup(p.cgroupPath)
		err = removeCgroup(p.cgroupPath)
	})
	return err
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func validateSpec(spec Spec) error {
	if spec.ID == "" {
		return fmt.Errorf("process id is required")
	}
	if spec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(spec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}

type stdioPipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func newStdioPipes() (*stdioPipes, error) {
	p := &stdioPipes{}
	var err error
	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	return p, nil
}

// closeChildEnds drops the parent's copies of the child's ends so EOF
// reaches the readers once the child group exits.
func (p *stdioPipes) closeChildEnds() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

func (p *stdioPipes) closeParentEnds() {
	closeFiles(p.stdinW, p.stdoutR, p.stderrR)
}

func (p *stdioPipes) closeAll() {
	p.closeChildEnds()
	p.closeParentEnds()
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
