//go:build linux

// Command run-init applies resource limits and an optional seccomp filter to
// itself, then replaces itself with the student program. Stdio is inherited,
// so the program's pipes stay connected to the live session.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

const exitSetupFailed = 127

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "run-init: "+err.Error())
		os.Exit(exitSetupFailed)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if err := applyRlimits(opts.limits); err != nil {
		return err
	}
	if opts.seccompProfile != "" {
		if err := applySeccomp(opts.seccompProfile); err != nil {
			return err
		}
	}
	cmdPath, err := exec.LookPath(opts.cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, opts.cmd, os.Environ())
}

type limits struct {
	cpuSeconds int64
	memoryMB   int64
	stackMB    int64
	fileSizeMB int64
	nproc      int64
}

type options struct {
	limits         limits
	seccompProfile string
	cmd            []string
}

// parseArgs reads "[flags] -- cmd args...".
func parseArgs(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("run-init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Int64Var(&opts.limits.cpuSeconds, "cpu", 0, "CPU time limit in seconds")
	fs.Int64Var(&opts.limits.memoryMB, "mem", 0, "address space limit in MiB")
	fs.Int64Var(&opts.limits.stackMB, "stack", 0, "stack limit in MiB")
	fs.Int64Var(&opts.limits.fileSizeMB, "fsize", 0, "file size limit in MiB")
	fs.Int64Var(&opts.limits.nproc, "nproc", 0, "process count limit")
	fs.StringVar(&opts.seccompProfile, "seccomp", "", "seccomp profile JSON")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.cmd = fs.Args()
	if len(opts.cmd) == 0 {
		return options{}, fmt.Errorf("command is required")
	}
	return opts, nil
}

func applyRlimits(l limits) error {
	set := func(resource int, name string, v uint64) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: v, Max: v}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", name, err)
		}
		return nil
	}
	const mb = 1024 * 1024
	if l.cpuSeconds > 0 {
		if err := set(unix.RLIMIT_CPU, "cpu", uint64(l.cpuSeconds)); err != nil {
			return err
		}
	}
	if l.memoryMB > 0 {
		if err := set(unix.RLIMIT_AS, "as", uint64(l.memoryMB)*mb); err != nil {
			return err
		}
	}
	if l.stackMB > 0 {
		if err := set(unix.RLIMIT_STACK, "stack", uint64(l.stackMB)*mb); err != nil {
			return err
		}
	}
	if l.fileSizeMB > 0 {
		if err := set(unix.RLIMIT_FSIZE, "fsize", uint64(l.fileSizeMB)*mb); err != nil {
			return err
		}
	}
	if l.nproc > 0 {
		if err := set(unix.RLIMIT_NPROC, "nproc", uint64(l.nproc)); err != nil {
			return err
		}
	}
	return nil
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	filter, err := buildFilter(cfg)
	if err != nil {
		return err
	}
	defer filter.Release()
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func buildFilter(cfg seccompConfig) (*seccomp.ScmpFilter, error) {
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// unknown on this architecture
				continue
			}
			if err := filter.AddRule(call, action); err != nil {
				filter.Release()
				return nil, fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
